package provider

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/net/html"

	"marketscout/internal/config"
	"marketscout/internal/models"
)

const (
	kleinanzeigenSource = "kleinanzeigen"
	kleinanzeigenBase   = "https://www.kleinanzeigen.de"
)

var (
	kaPriceRe  = regexp.MustCompile(`(\d+(?:\.\d{3})*(?:,\d{2})?)\s*€`)
	kaItemIDRe = regexp.MustCompile(`/(\d+)-`)
	kaPLZRe    = regexp.MustCompile(`\b(\d{5})\b`)
)

// Kleinanzeigen scrapes the marketplace's HTML search page; there is no
// public API. The markup coupling is fragile on purpose: a row that fails to
// parse is dropped, never fatal. Requests honor a minimum inter-request
// delay even across concurrent jobs in the same run.
type Kleinanzeigen struct {
	client   *http.Client
	location string
	delay    time.Duration
	limit    int

	mu       sync.Mutex
	lastCall time.Time
}

// NewKleinanzeigen constructs the scraper.
func NewKleinanzeigen(cfg config.KleinanzeigenConfig, limit int) *Kleinanzeigen {
	return &Kleinanzeigen{
		client:   &http.Client{Timeout: 15 * time.Second},
		location: cfg.Location,
		delay:    cfg.PolitenessDelay,
		limit:    limit,
	}
}

// Name implements Client.
func (k *Kleinanzeigen) Name() string { return kleinanzeigenSource }

// Search implements Client.
func (k *Kleinanzeigen) Search(ctx context.Context, keywords []string, filters Filters) ([]models.Item, error) {
	if err := k.politeWait(ctx); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, k.searchURL(keywords, filters), nil)
	if err != nil {
		return nil, err
	}
	// The site serves bot-looking clients a captcha page.
	req.Header.Set("User-Agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36")
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", "de-DE,de;q=0.9,en;q=0.8")

	resp, err := k.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: kleinanzeigen: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: kleinanzeigen returned %d", ErrUnavailable, resp.StatusCode)
	}

	doc, err := html.Parse(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: kleinanzeigen: %v", ErrUnavailable, err)
	}

	articles := findAll(doc, "article", "aditem")
	if len(articles) == 0 {
		articles = findAll(doc, "div", "ad-listitem")
	}

	now := time.Now().UTC()
	var items []models.Item
	for _, a := range articles {
		if len(items) >= k.limit {
			break
		}
		item, ok := k.parseArticle(a, now)
		if !ok {
			logrus.Debugf("Kleinanzeigen: dropping unparseable listing: %v", ErrParseDegraded)
			continue
		}
		// The page cannot filter on price reliably; re-check bounds here.
		if item.Price != nil {
			if filters.PriceMin != nil && *item.Price < *filters.PriceMin {
				continue
			}
			if filters.PriceMax != nil && *item.Price > *filters.PriceMax {
				continue
			}
		}
		if !matchesConditions(item.Title, filters.Conditions) {
			continue
		}
		items = append(items, item)
	}

	return items, nil
}

// politeWait blocks until the minimum inter-request delay has passed since
// the previous request, serializing scraper access across jobs.
func (k *Kleinanzeigen) politeWait(ctx context.Context) error {
	k.mu.Lock()
	defer k.mu.Unlock()

	wait := k.delay - time.Since(k.lastCall)
	if wait > 0 {
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	k.lastCall = time.Now()
	return nil
}

func (k *Kleinanzeigen) searchURL(keywords []string, filters Filters) string {
	params := url.Values{}
	params.Set("keywords", strings.Join(keywords, " "))
	// Newest-first keeps the scrape window aligned with what alerts need.
	params.Set("sortingField", "SORTING_DATE")

	if filters.PriceMin != nil || filters.PriceMax != nil {
		params.Set("priceType", "FIXED")
		if filters.PriceMin != nil {
			params.Set("minPrice", strconv.Itoa(int(*filters.PriceMin)))
		}
		if filters.PriceMax != nil {
			params.Set("maxPrice", strconv.Itoa(int(*filters.PriceMax)))
		}
	}

	if plz := kaPLZRe.FindString(k.location); plz != "" {
		params.Set("locationStr", plz)
	}

	return kleinanzeigenBase + "/s-suchanfrage.html?" + params.Encode()
}

func (k *Kleinanzeigen) parseArticle(article *html.Node, now time.Time) (models.Item, bool) {
	link := find(article, "a", "ellipsis")
	if link == nil {
		link = findWithAttr(article, "a", "data-href")
	}
	if link == nil {
		return models.Item{}, false
	}

	title := strings.TrimSpace(text(link))
	href := attr(link, "href")
	if title == "" || href == "" {
		return models.Item{}, false
	}
	if !strings.HasPrefix(href, "http") {
		href = kleinanzeigenBase + href
	}

	item := models.Item{
		ID:        kleinanzeigenItemID(href),
		Title:     title,
		URL:       href,
		Source:    kleinanzeigenSource,
		FetchedAt: now,
	}

	priceNode := find(article, "p", "aditem-main--middle--price-shipping--price")
	if priceNode == nil {
		priceNode = find(article, "p", "aditem-main--middle--price")
	}
	if priceNode != nil {
		if p, ok := extractPrice(text(priceNode)); ok {
			item.Price = &p
			item.Currency = "EUR"
		}
	}

	if img := find(article, "img", "imagebox"); img != nil {
		item.ImageURL = firstAttr(img, "src", "data-src", "data-imgsrc")
	} else if img := find(article, "img", ""); img != nil {
		item.ImageURL = firstAttr(img, "src", "data-src", "data-imgsrc")
	}

	return item, true
}

// matchesConditions applies the condition filter heuristically: listings have
// no structured condition field, so a title is taken as "new" when it carries
// the usual seller markers. Mixed or empty condition sets filter nothing.
func matchesConditions(title string, conditions []string) bool {
	wantNew, wantUsed := false, false
	for _, c := range conditions {
		switch strings.ToLower(strings.TrimSpace(c)) {
		case "new", "neu":
			wantNew = true
		case "used", "gebraucht":
			wantUsed = true
		}
	}
	if wantNew == wantUsed {
		return true
	}
	if wantNew {
		return titleLooksNew(title)
	}
	return !titleLooksNew(title)
}

func titleLooksNew(title string) bool {
	upper := strings.ToUpper(title)
	for _, marker := range []string{"NEU", "OVP", "UNBENUTZT", "ORIGINALVERPACKT"} {
		if strings.Contains(upper, marker) {
			return true
		}
	}
	return false
}

// extractPrice parses German price text like "1.234,56 €" or "450 € VB".
// "VB"-only and "Zu verschenken" listings have no numeric price.
func extractPrice(s string) (float64, bool) {
	m := kaPriceRe.FindStringSubmatch(s)
	if m == nil {
		return 0, false
	}
	normalized := strings.ReplaceAll(m[1], ".", "")
	normalized = strings.ReplaceAll(normalized, ",", ".")
	v, err := strconv.ParseFloat(normalized, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

// kleinanzeigenItemID derives a stable item ID from the listing URL: the
// numeric listing ID when present, otherwise a hash of the URL.
func kleinanzeigenItemID(rawURL string) string {
	if m := kaItemIDRe.FindStringSubmatch(rawURL); m != nil {
		return kleinanzeigenSource + ":ka_" + m[1]
	}
	sum := md5.Sum([]byte(rawURL))
	return kleinanzeigenSource + ":ka_" + hex.EncodeToString(sum[:])[:12]
}

// ---- minimal html.Node helpers ----

func find(n *html.Node, tag, class string) *html.Node {
	if n.Type == html.ElementNode && n.Data == tag && (class == "" || hasClass(n, class)) {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if found := find(c, tag, class); found != nil {
			return found
		}
	}
	return nil
}

func findAll(n *html.Node, tag, class string) []*html.Node {
	var out []*html.Node
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == tag && hasClass(n, class) {
			out = append(out, n)
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return out
}

func findWithAttr(n *html.Node, tag, attrName string) *html.Node {
	if n.Type == html.ElementNode && n.Data == tag && attr(n, attrName) != "" {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if found := findWithAttr(c, tag, attrName); found != nil {
			return found
		}
	}
	return nil
}

func hasClass(n *html.Node, class string) bool {
	for _, c := range strings.Fields(attr(n, "class")) {
		if c == class {
			return true
		}
	}
	return false
}

func attr(n *html.Node, name string) string {
	for _, a := range n.Attr {
		if a.Key == name {
			return a.Val
		}
	}
	return ""
}

func firstAttr(n *html.Node, names ...string) string {
	for _, name := range names {
		if v := attr(n, name); v != "" {
			return v
		}
	}
	return ""
}

func text(n *html.Node) string {
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return b.String()
}
