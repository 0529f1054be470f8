package provider

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/net/html"

	"marketscout/internal/config"
)

const kaFixture = `
<html><body>
<ul>
<li>
  <article class="aditem" data-adid="2612345678">
    <div class="aditem-image">
      <div class="imagebox" >
        <img class="imagebox" src="https://img.example.com/1.jpg">
      </div>
    </div>
    <div class="aditem-main">
      <h2><a class="ellipsis" href="/s-anzeige/thinkpad-x1-carbon/2612345678-278-9409">ThinkPad X1 Carbon</a></h2>
      <div class="aditem-main--middle">
        <p class="aditem-main--middle--price-shipping--price">1.234,56 €</p>
      </div>
    </div>
  </article>
</li>
<li>
  <article class="aditem">
    <h2><a class="ellipsis" href="/s-anzeige/thinkpad-t480-vb/2698765432-278-9409">ThinkPad T480</a></h2>
    <p class="aditem-main--middle--price-shipping--price">450 € VB</p>
  </article>
</li>
<li>
  <article class="aditem">
    <h2><a class="ellipsis" href="/s-anzeige/zu-verschenken/2611111111-278-9409">Monitor zu verschenken</a></h2>
    <p class="aditem-main--middle--price-shipping--price">Zu verschenken</p>
  </article>
</li>
<li>
  <article class="aditem">
    <h2><a class="ellipsis" href="">No link here</a></h2>
  </article>
</li>
</ul>
</body></html>`

func TestKleinanzeigenParseArticles(t *testing.T) {
	doc, err := html.Parse(strings.NewReader(kaFixture))
	require.NoError(t, err)

	articles := findAll(doc, "article", "aditem")
	require.Len(t, articles, 4)

	k := NewKleinanzeigen(config.KleinanzeigenConfig{}, 50)
	now := time.Now().UTC()

	first, ok := k.parseArticle(articles[0], now)
	require.True(t, ok)
	assert.Equal(t, "kleinanzeigen:ka_2612345678", first.ID)
	assert.Equal(t, "ThinkPad X1 Carbon", first.Title)
	assert.Equal(t, "https://www.kleinanzeigen.de/s-anzeige/thinkpad-x1-carbon/2612345678-278-9409", first.URL)
	assert.Equal(t, "https://img.example.com/1.jpg", first.ImageURL)
	require.NotNil(t, first.Price)
	assert.Equal(t, 1234.56, *first.Price)
	assert.Equal(t, "EUR", first.Currency)

	second, ok := k.parseArticle(articles[1], now)
	require.True(t, ok)
	require.NotNil(t, second.Price)
	assert.Equal(t, 450.0, *second.Price)

	// "Zu verschenken" has no numeric price but is still a valid listing.
	third, ok := k.parseArticle(articles[2], now)
	require.True(t, ok)
	assert.Nil(t, third.Price)

	// Missing href makes the row unparseable and it gets dropped.
	_, ok = k.parseArticle(articles[3], now)
	assert.False(t, ok)
}

func TestExtractPriceGermanFormats(t *testing.T) {
	v, ok := extractPrice("1.234,56 €")
	require.True(t, ok)
	assert.Equal(t, 1234.56, v)

	v, ok = extractPrice("450 € VB")
	require.True(t, ok)
	assert.Equal(t, 450.0, v)

	v, ok = extractPrice("12.000 €")
	require.True(t, ok)
	assert.Equal(t, 12000.0, v)

	_, ok = extractPrice("Zu verschenken")
	assert.False(t, ok)

	_, ok = extractPrice("VB")
	assert.False(t, ok)
}

func TestKleinanzeigenItemIDFallsBackToHash(t *testing.T) {
	withID := kleinanzeigenItemID("https://www.kleinanzeigen.de/s-anzeige/foo/2612345678-278-9409")
	assert.Equal(t, "kleinanzeigen:ka_2612345678", withID)

	hashed := kleinanzeigenItemID("https://www.kleinanzeigen.de/s-anzeige/no-numeric-id")
	assert.True(t, strings.HasPrefix(hashed, "kleinanzeigen:ka_"))
	assert.Len(t, hashed, len("kleinanzeigen:ka_")+12)

	// Stable across calls.
	assert.Equal(t, hashed, kleinanzeigenItemID("https://www.kleinanzeigen.de/s-anzeige/no-numeric-id"))
}

func TestMatchesConditionsHeuristic(t *testing.T) {
	// No condition filter passes everything.
	assert.True(t, matchesConditions("ThinkPad X1, gut erhalten", nil))

	// "new" keeps only titles with new-markers.
	assert.True(t, matchesConditions("ThinkPad X1 NEU & OVP", []string{"new"}))
	assert.False(t, matchesConditions("ThinkPad X1, gut erhalten", []string{"neu"}))

	// "used" excludes new-looking titles.
	assert.True(t, matchesConditions("ThinkPad X1, gut erhalten", []string{"used"}))
	assert.False(t, matchesConditions("ThinkPad X1 unbenutzt", []string{"gebraucht"}))

	// Asking for both is no filter at all.
	assert.True(t, matchesConditions("ThinkPad X1 NEU", []string{"new", "used"}))
}

func TestKleinanzeigenSearchURL(t *testing.T) {
	k := NewKleinanzeigen(config.KleinanzeigenConfig{Location: "10115 Berlin"}, 50)

	u := k.searchURL([]string{"thinkpad", "x1"}, Filters{
		PriceMin: ptr(100),
		PriceMax: ptr(500),
	})

	assert.Contains(t, u, "keywords=thinkpad+x1")
	assert.Contains(t, u, "sortingField=SORTING_DATE")
	assert.Contains(t, u, "priceType=FIXED")
	assert.Contains(t, u, "minPrice=100")
	assert.Contains(t, u, "maxPrice=500")
	assert.Contains(t, u, "locationStr=10115")
}
