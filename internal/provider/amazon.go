package provider

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"marketscout/internal/config"
	"marketscout/internal/models"
)

const (
	amazonSource   = "amazon"
	amazonService  = "ProductAdvertisingAPI"
	amazonTarget   = "com.amazon.paapi5.v1.ProductAdvertisingAPIv1.SearchItems"
	amazonPath     = "/paapi5/searchitems"
	amazonMaxItems = 10
)

// Amazon queries the Product Advertising API v5. Requests are signed with
// AWS Signature Version 4; there is no token to cache. PA-API supports only a
// narrow filter surface, so price bounds and conditions degrade to no filter
// and are applied nowhere upstream.
type Amazon struct {
	client       *http.Client
	accessKey    string
	secretKey    string
	associateTag string
	host         string
	region       string
	marketplace  string
	limit        int
}

// NewAmazon constructs the PA-API client for the configured market.
func NewAmazon(cfg config.AmazonConfig, limit int) *Amazon {
	host, region, marketplace := amazonEndpoint(cfg.Market)
	return &Amazon{
		client:       &http.Client{Timeout: 15 * time.Second},
		accessKey:    cfg.AccessKey,
		secretKey:    cfg.SecretKey,
		associateTag: cfg.AssociateTag,
		host:         host,
		region:       region,
		marketplace:  marketplace,
		limit:        limit,
	}
}

func amazonEndpoint(market string) (host, region, marketplace string) {
	switch market {
	case "UK", "GB":
		return "webservices.amazon.co.uk", "eu-west-1", "www.amazon.co.uk"
	case "US":
		return "webservices.amazon.com", "us-east-1", "www.amazon.com"
	default:
		return "webservices.amazon.de", "eu-west-1", "www.amazon.de"
	}
}

// Name implements Client.
func (a *Amazon) Name() string { return amazonSource }

// Search implements Client.
func (a *Amazon) Search(ctx context.Context, keywords []string, filters Filters) ([]models.Item, error) {
	body, err := a.requestBody(keywords, filters)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, "https://"+a.host+amazonPath, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	amzDate := now.Format("20060102T150405Z")
	date := now.Format("20060102")

	req.Header.Set("content-encoding", "amz-1.0")
	req.Header.Set("content-type", "application/json; charset=UTF-8")
	req.Header.Set("x-amz-date", amzDate)
	req.Header.Set("x-amz-target", amazonTarget)
	req.Header.Set("Authorization", a.signature(body, amzDate, date))
	req.Host = a.host

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: amazon: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return nil, fmt.Errorf("%w: amazon returned %d", ErrAuth, resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: amazon returned %d", ErrUnavailable, resp.StatusCode)
	}

	return a.decode(resp)
}

func (a *Amazon) requestBody(keywords []string, filters Filters) ([]byte, error) {
	body := map[string]interface{}{
		"Keywords":    strings.Join(keywords, " "),
		"PartnerTag":  a.associateTag,
		"PartnerType": "Associates",
		"Marketplace": a.marketplace,
		"ItemCount":   clampLimit(a.limit, amazonMaxItems),
		"Resources": []string{
			"Images.Primary.Medium",
			"ItemInfo.Title",
			"Offers.Listings.Price",
		},
	}

	switch filters.Sort {
	case SortPriceAsc:
		body["SortBy"] = "Price:LowToHigh"
	case SortPriceDesc:
		body["SortBy"] = "Price:HighToLow"
	}

	return json.Marshal(body)
}

type amazonResponse struct {
	SearchResult struct {
		Items []amazonItem `json:"Items"`
	} `json:"SearchResult"`
}

type amazonItem struct {
	ASIN          string `json:"ASIN"`
	DetailPageURL string `json:"DetailPageURL"`
	ItemInfo      struct {
		Title struct {
			DisplayValue string `json:"DisplayValue"`
		} `json:"Title"`
	} `json:"ItemInfo"`
	Images struct {
		Primary struct {
			Medium struct {
				URL string `json:"URL"`
			} `json:"Medium"`
		} `json:"Primary"`
	} `json:"Images"`
	Offers struct {
		Listings []struct {
			Price struct {
				Amount   float64 `json:"Amount"`
				Currency string  `json:"Currency"`
			} `json:"Price"`
		} `json:"Listings"`
	} `json:"Offers"`
}

func (a *Amazon) decode(resp *http.Response) ([]models.Item, error) {
	var payload amazonResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("%w: amazon: %v", ErrUnavailable, err)
	}

	now := time.Now().UTC()
	items := make([]models.Item, 0, len(payload.SearchResult.Items))
	for _, it := range payload.SearchResult.Items {
		if it.ASIN == "" || it.ItemInfo.Title.DisplayValue == "" {
			logrus.Debugf("Amazon: dropping malformed item: %v", ErrParseDegraded)
			continue
		}

		item := models.Item{
			ID:        amazonSource + ":" + it.ASIN,
			Title:     it.ItemInfo.Title.DisplayValue,
			URL:       it.DetailPageURL,
			ImageURL:  it.Images.Primary.Medium.URL,
			Source:    amazonSource,
			FetchedAt: now,
		}
		if len(it.Offers.Listings) > 0 && it.Offers.Listings[0].Price.Amount > 0 {
			p := it.Offers.Listings[0].Price.Amount
			item.Price = &p
			item.Currency = it.Offers.Listings[0].Price.Currency
		}
		items = append(items, item)
	}

	return items, nil
}

// signature computes the AWS SigV4 Authorization header for one request.
func (a *Amazon) signature(body []byte, amzDate, date string) string {
	canonicalHeaders := "content-encoding:amz-1.0\n" +
		"content-type:application/json; charset=UTF-8\n" +
		"host:" + a.host + "\n" +
		"x-amz-date:" + amzDate + "\n" +
		"x-amz-target:" + amazonTarget + "\n"
	signedHeaders := "content-encoding;content-type;host;x-amz-date;x-amz-target"

	canonicalRequest := "POST\n" + amazonPath + "\n\n" +
		canonicalHeaders + "\n" + signedHeaders + "\n" + sha256Hex(body)

	scope := date + "/" + a.region + "/" + amazonService + "/aws4_request"
	stringToSign := "AWS4-HMAC-SHA256\n" + amzDate + "\n" + scope + "\n" +
		sha256Hex([]byte(canonicalRequest))

	kDate := hmacSHA256([]byte("AWS4"+a.secretKey), date)
	kRegion := hmacSHA256(kDate, a.region)
	kService := hmacSHA256(kRegion, amazonService)
	kSigning := hmacSHA256(kService, "aws4_request")
	sig := hex.EncodeToString(hmacSHA256(kSigning, stringToSign))

	return fmt.Sprintf("AWS4-HMAC-SHA256 Credential=%s/%s, SignedHeaders=%s, Signature=%s",
		a.accessKey, scope, signedHeaders, sig)
}

func hmacSHA256(key []byte, msg string) []byte {
	h := hmac.New(sha256.New, key)
	h.Write([]byte(msg))
	return h.Sum(nil)
}

func sha256Hex(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}
