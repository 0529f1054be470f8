package provider

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"marketscout/internal/models"
)

// Error taxonomy. Provider failures are isolated per provider: the aggregator
// logs them, counts them in the run report, and continues.
var (
	// ErrUnavailable covers network failures, timeouts and rate limiting.
	ErrUnavailable = errors.New("provider unavailable")
	// ErrAuth covers failed token refreshes and rejected credentials.
	ErrAuth = errors.New("provider authentication failed")
	// ErrParseDegraded marks a single malformed item; the rest of the
	// response is kept.
	ErrParseDegraded = errors.New("provider response partially unparseable")
)

// Sort keys shared by all providers. Each client maps them to its native
// parameter; an unsupported key degrades to the provider default.
const (
	SortBestMatch  = "bestMatch"
	SortPriceAsc   = "price"
	SortPriceDesc  = "-price"
	SortNewest     = "newlyListed"
	SortNewestDesc = "-newlyListed"
)

// Filters is the abstract filter expression of a search job. Providers map it
// to their own syntax; unsupported combinations degrade to no filter rather
// than failing the query.
type Filters struct {
	PriceMin   *float64
	PriceMax   *float64
	Conditions []string
	Sort       string
}

// Client executes one query against an external marketplace and returns
// normalized items. An empty result is success, not an error.
type Client interface {
	// Name is the stable source tag ("ebay", "amazon", "kleinanzeigen").
	Name() string
	// Search runs one query. Implementations own request construction,
	// pagination within native limits, and normalization.
	Search(ctx context.Context, keywords []string, filters Filters) ([]models.Item, error)
}

// Signature builds the cache key for one provider query. Equivalent filter
// representations must collide: keywords are case-folded and whitespace
// normalized, bounds are printed with fixed precision, conditions are sorted.
func Signature(providerName string, keywords []string, f Filters) string {
	var b strings.Builder
	b.WriteString(providerName)
	b.WriteByte('|')
	b.WriteString(strings.ToLower(strings.Join(strings.Fields(strings.Join(keywords, " ")), " ")))

	b.WriteString("|min=")
	if f.PriceMin != nil {
		fmt.Fprintf(&b, "%.2f", *f.PriceMin)
	}
	b.WriteString("|max=")
	if f.PriceMax != nil {
		fmt.Fprintf(&b, "%.2f", *f.PriceMax)
	}

	conds := make([]string, 0, len(f.Conditions))
	for _, c := range f.Conditions {
		conds = append(conds, strings.ToLower(strings.TrimSpace(c)))
	}
	sort.Strings(conds)
	b.WriteString("|cond=")
	b.WriteString(strings.Join(conds, ","))

	b.WriteString("|sort=")
	if f.Sort == "" {
		b.WriteString(SortBestMatch)
	} else {
		b.WriteString(f.Sort)
	}

	return b.String()
}
