package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"marketscout/internal/config"
	"marketscout/internal/models"
	"marketscout/internal/token"
)

const (
	ebaySource         = "ebay"
	ebayProductionBase = "https://api.ebay.com"
	ebaySandboxBase    = "https://api.sandbox.ebay.com"
	ebayBasicScope     = "https://api.ebay.com/oauth/api_scope"
	ebayMaxLimit       = 200
)

// Ebay queries the eBay Browse API with an application token obtained via the
// client-credentials grant. The token lives in the shared token cache.
type Ebay struct {
	client        *http.Client
	tokens        *token.Cache
	baseURL       string
	marketplaceID string
	limit         int
}

// NewEbay constructs the client and registers its token refresh with the
// cache. On an invalid_scope rejection the refresh falls back to the basic
// Browse scope, matching how broad scope sets behave across eBay tenants.
func NewEbay(cfg config.EbayConfig, tokens *token.Cache, limit int) *Ebay {
	base := ebayProductionBase
	if strings.EqualFold(cfg.Env, "sandbox") {
		base = ebaySandboxBase
	}

	cc := &clientcredentials.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		TokenURL:     base + "/identity/v1/oauth2/token",
		Scopes:       strings.Fields(cfg.Scopes),
		AuthStyle:    oauth2.AuthStyleInHeader,
	}

	tokens.Register(ebaySource, func(ctx context.Context) (*oauth2.Token, error) {
		tok, err := cc.Token(ctx)
		if err != nil && strings.Contains(err.Error(), "invalid_scope") {
			logrus.Warn("eBay OAuth: invalid_scope, falling back to basic scope")
			fallback := *cc
			fallback.Scopes = []string{ebayBasicScope}
			return fallback.Token(ctx)
		}
		return tok, err
	})

	return &Ebay{
		client:        &http.Client{Timeout: 25 * time.Second},
		tokens:        tokens,
		baseURL:       base,
		marketplaceID: cfg.MarketplaceID,
		limit:         limit,
	}
}

// Name implements Client.
func (e *Ebay) Name() string { return ebaySource }

// Search implements Client. A 401 triggers one token invalidation and retry;
// 429 and network failures surface as ErrUnavailable for this provider only.
func (e *Ebay) Search(ctx context.Context, keywords []string, filters Filters) ([]models.Item, error) {
	params := url.Values{}
	params.Set("q", strings.Join(keywords, " "))
	params.Set("limit", strconv.Itoa(clampLimit(e.limit, ebayMaxLimit)))
	params.Set("sort", ebaySort(filters.Sort))
	if f := e.filterString(filters); f != "" {
		params.Set("filter", f)
	}

	reqURL := e.baseURL + "/buy/browse/v1/item_summary/search?" + params.Encode()

	for attempt := 0; attempt < 2; attempt++ {
		bearer, err := e.tokens.Token(ctx, ebaySource)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrAuth, err)
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Authorization", "Bearer "+bearer)
		req.Header.Set("X-EBAY-C-MARKETPLACE-ID", e.marketplaceID)
		req.Header.Set("Accept", "application/json")

		resp, err := e.client.Do(req)
		if err != nil {
			return nil, fmt.Errorf("%w: ebay: %v", ErrUnavailable, err)
		}

		switch {
		case resp.StatusCode == http.StatusUnauthorized && attempt == 0:
			resp.Body.Close()
			logrus.Info("eBay 401: invalidating cached token and retrying")
			e.tokens.Invalidate(ebaySource)
			continue
		case resp.StatusCode == http.StatusTooManyRequests:
			resp.Body.Close()
			return nil, fmt.Errorf("%w: ebay rate limited", ErrUnavailable)
		case resp.StatusCode != http.StatusOK:
			resp.Body.Close()
			return nil, fmt.Errorf("%w: ebay returned %d", ErrUnavailable, resp.StatusCode)
		}

		items, err := e.decode(resp)
		resp.Body.Close()
		return items, err
	}

	return nil, fmt.Errorf("%w: ebay authorization retry exhausted", ErrAuth)
}

type ebayResponse struct {
	ItemSummaries []ebaySummary `json:"itemSummaries"`
}

type ebaySummary struct {
	ItemID string `json:"itemId"`
	Title  string `json:"title"`
	Price  struct {
		Value    string `json:"value"`
		Currency string `json:"currency"`
	} `json:"price"`
	ItemWebURL string `json:"itemWebUrl"`
	Image      struct {
		ImageURL string `json:"imageUrl"`
	} `json:"image"`
}

func (e *Ebay) decode(resp *http.Response) ([]models.Item, error) {
	var payload ebayResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("%w: ebay: %v", ErrUnavailable, err)
	}

	now := time.Now().UTC()
	items := make([]models.Item, 0, len(payload.ItemSummaries))
	for _, s := range payload.ItemSummaries {
		if s.ItemID == "" || s.Title == "" {
			// Single malformed entry, keep the rest.
			logrus.Debugf("eBay: dropping malformed summary: %v", ErrParseDegraded)
			continue
		}

		item := models.Item{
			ID:        ebaySource + ":" + s.ItemID,
			Title:     s.Title,
			URL:       s.ItemWebURL,
			ImageURL:  s.Image.ImageURL,
			Source:    ebaySource,
			FetchedAt: now,
		}
		if v, err := strconv.ParseFloat(s.Price.Value, 64); err == nil {
			item.Price = &v
			item.Currency = s.Price.Currency
		}
		items = append(items, item)
	}

	return items, nil
}

// filterString builds the Browse API filter expression from the abstract
// filters. Unsupported condition names are dropped, not fatal.
func (e *Ebay) filterString(f Filters) string {
	var parts []string

	if f.PriceMin != nil || f.PriceMax != nil {
		min, max := "", ""
		if f.PriceMin != nil {
			min = strconv.FormatFloat(*f.PriceMin, 'f', -1, 64)
		}
		if f.PriceMax != nil {
			max = strconv.FormatFloat(*f.PriceMax, 'f', -1, 64)
		}
		parts = append(parts, fmt.Sprintf("price:[%s..%s]", min, max))
		parts = append(parts, "priceCurrency:"+e.currency())
	}

	var conds []string
	for _, c := range f.Conditions {
		switch strings.ToLower(strings.TrimSpace(c)) {
		case "new", "neu":
			conds = append(conds, "NEW")
		case "used", "gebraucht":
			conds = append(conds, "USED")
		case "refurbished":
			conds = append(conds, "CERTIFIED_REFURBISHED")
		}
	}
	if len(conds) > 0 {
		parts = append(parts, "conditions:{"+strings.Join(conds, "|")+"}")
	}

	return strings.Join(parts, ",")
}

func (e *Ebay) currency() string {
	switch e.marketplaceID {
	case "EBAY_US":
		return "USD"
	case "EBAY_GB":
		return "GBP"
	default:
		return "EUR"
	}
}

// ebaySort maps the shared sort keys onto Browse API sort parameters.
func ebaySort(key string) string {
	switch key {
	case SortPriceAsc:
		return "price"
	case SortPriceDesc:
		return "-price"
	case SortNewest:
		return "newlyListed"
	case SortNewestDesc:
		return "-newlyListed"
	default:
		return "bestMatch"
	}
}

func clampLimit(n, max int) int {
	if n < 1 {
		return 1
	}
	if n > max {
		return max
	}
	return n
}
