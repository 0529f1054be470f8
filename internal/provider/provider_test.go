package provider

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func ptr(v float64) *float64 { return &v }

func TestSignatureNormalizesEquivalentQueries(t *testing.T) {
	a := Signature("ebay", []string{"ThinkPad", "X1"}, Filters{
		PriceMin:   ptr(100),
		Conditions: []string{"Used", "New"},
	})
	b := Signature("ebay", []string{"thinkpad  x1"}, Filters{
		PriceMin:   ptr(100.00),
		Conditions: []string{"new", "used"},
	})

	assert.Equal(t, a, b)
}

func TestSignatureDistinguishesProviders(t *testing.T) {
	a := Signature("ebay", []string{"thinkpad"}, Filters{})
	b := Signature("amazon", []string{"thinkpad"}, Filters{})
	assert.NotEqual(t, a, b)
}

func TestSignatureDistinguishesBounds(t *testing.T) {
	a := Signature("ebay", []string{"thinkpad"}, Filters{PriceMax: ptr(500)})
	b := Signature("ebay", []string{"thinkpad"}, Filters{PriceMax: ptr(600)})
	assert.NotEqual(t, a, b)
}

func TestSignatureDefaultsSortKey(t *testing.T) {
	a := Signature("ebay", []string{"thinkpad"}, Filters{})
	b := Signature("ebay", []string{"thinkpad"}, Filters{Sort: SortBestMatch})
	assert.Equal(t, a, b)
}

func TestEbaySortMapping(t *testing.T) {
	assert.Equal(t, "price", ebaySort(SortPriceAsc))
	assert.Equal(t, "-price", ebaySort(SortPriceDesc))
	assert.Equal(t, "newlyListed", ebaySort(SortNewest))
	assert.Equal(t, "-newlyListed", ebaySort(SortNewestDesc))
	assert.Equal(t, "bestMatch", ebaySort(""))
	assert.Equal(t, "bestMatch", ebaySort("garbage"))
}

func TestEbayFilterString(t *testing.T) {
	e := &Ebay{marketplaceID: "EBAY_DE"}

	f := e.filterString(Filters{
		PriceMin:   ptr(100),
		PriceMax:   ptr(450.5),
		Conditions: []string{"neu", "gebraucht", "broken"},
	})

	assert.Equal(t, "price:[100..450.5],priceCurrency:EUR,conditions:{NEW|USED}", f)
}

func TestEbayFilterStringOpenBounds(t *testing.T) {
	e := &Ebay{marketplaceID: "EBAY_US"}

	f := e.filterString(Filters{PriceMax: ptr(200)})
	assert.Equal(t, "price:[..200],priceCurrency:USD", f)

	assert.Empty(t, e.filterString(Filters{}))
}

func TestClampLimit(t *testing.T) {
	assert.Equal(t, 1, clampLimit(0, 200))
	assert.Equal(t, 50, clampLimit(50, 200))
	assert.Equal(t, 200, clampLimit(500, 200))
}
