package provider

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"marketscout/internal/config"
)

func TestAmazonEndpointByMarket(t *testing.T) {
	host, region, marketplace := amazonEndpoint("DE")
	assert.Equal(t, "webservices.amazon.de", host)
	assert.Equal(t, "eu-west-1", region)
	assert.Equal(t, "www.amazon.de", marketplace)

	host, region, _ = amazonEndpoint("US")
	assert.Equal(t, "webservices.amazon.com", host)
	assert.Equal(t, "us-east-1", region)

	host, _, _ = amazonEndpoint("UK")
	assert.Equal(t, "webservices.amazon.co.uk", host)

	// Unknown markets fall back to DE.
	host, _, _ = amazonEndpoint("")
	assert.Equal(t, "webservices.amazon.de", host)
}

func TestAmazonRequestBodyClampsItemCount(t *testing.T) {
	a := NewAmazon(config.AmazonConfig{AssociateTag: "tag-21", Market: "DE"}, 50)

	raw, err := a.requestBody([]string{"thinkpad", "x1"}, Filters{Sort: SortPriceAsc})
	require.NoError(t, err)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(raw, &body))

	assert.Equal(t, "thinkpad x1", body["Keywords"])
	assert.Equal(t, "tag-21", body["PartnerTag"])
	assert.Equal(t, "www.amazon.de", body["Marketplace"])
	// PA-API caps ItemCount at 10.
	assert.Equal(t, float64(10), body["ItemCount"])
	assert.Equal(t, "Price:LowToHigh", body["SortBy"])
}

func TestAmazonRequestBodyOmitsUnsupportedSort(t *testing.T) {
	a := NewAmazon(config.AmazonConfig{Market: "DE"}, 5)

	raw, err := a.requestBody([]string{"thinkpad"}, Filters{Sort: SortNewest})
	require.NoError(t, err)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(raw, &body))

	_, hasSort := body["SortBy"]
	assert.False(t, hasSort)
	assert.Equal(t, float64(5), body["ItemCount"])
}

func TestAmazonSignatureShape(t *testing.T) {
	a := NewAmazon(config.AmazonConfig{
		AccessKey: "AKIAEXAMPLE",
		SecretKey: "secret",
		Market:    "DE",
	}, 10)

	auth := a.signature([]byte(`{"Keywords":"thinkpad"}`), "20240501T100000Z", "20240501")

	assert.Contains(t, auth, "AWS4-HMAC-SHA256 Credential=AKIAEXAMPLE/20240501/eu-west-1/ProductAdvertisingAPI/aws4_request")
	assert.Contains(t, auth, "SignedHeaders=content-encoding;content-type;host;x-amz-date;x-amz-target")
	assert.Contains(t, auth, "Signature=")

	// Deterministic for identical inputs.
	again := a.signature([]byte(`{"Keywords":"thinkpad"}`), "20240501T100000Z", "20240501")
	assert.Equal(t, auth, again)
}
