package aggregator

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"marketscout/internal/cache"
	"marketscout/internal/models"
	"marketscout/internal/provider"
)

// Page is one slice of the merged, deduplicated, ordered result set.
type Page struct {
	Items   []models.Item `json:"items"`
	Total   int           `json:"total"`
	Page    int           `json:"page"`
	PerPage int           `json:"per_page"`
}

// Aggregator fans one job's query out to every available provider, merges
// the normalized results into a single deduplicated sequence with a
// deterministic total order, and paginates. Provider results flow through
// the shared result cache, so identical queries inside the TTL window cost
// no upstream calls.
type Aggregator struct {
	providers []provider.Client
	results   *cache.Cache
	ttl       time.Duration
	timeout   time.Duration
}

// New creates an aggregator over the given providers. The slice order is the
// merge precedence: on a duplicate, the earlier provider's fields win.
func New(providers []provider.Client, results *cache.Cache, ttl, timeout time.Duration) *Aggregator {
	return &Aggregator{
		providers: providers,
		results:   results,
		ttl:       ttl,
		timeout:   timeout,
	}
}

// RunSearch executes one job's query across all providers. Provider failures
// never fail the search: each failing provider contributes zero items and an
// entry in the returned error map. The result is best effort across whatever
// is available.
func (a *Aggregator) RunSearch(ctx context.Context, job models.SearchJob, page, perPage int) (Page, map[string]error) {
	filters := provider.Filters{
		PriceMin:   job.PriceMin,
		PriceMax:   job.PriceMax,
		Conditions: job.Conditions,
		Sort:       job.SortKey,
	}

	perProvider := make([][]models.Item, len(a.providers))
	provErrs := make(map[string]error)

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)

	for i, p := range a.providers {
		i, p := i, p
		g.Go(func() error {
			sig := provider.Signature(p.Name(), job.Keywords, filters)
			items, hit, err := a.results.GetOrFetch(sig, a.ttl, func() ([]models.Item, error) {
				callCtx, cancel := context.WithTimeout(gctx, a.timeout)
				defer cancel()
				return p.Search(callCtx, job.Keywords, filters)
			})
			if err != nil {
				logrus.WithFields(logrus.Fields{
					"provider": p.Name(),
					"job_id":   job.ID,
				}).Warnf("Provider query failed: %v", err)
				mu.Lock()
				provErrs[p.Name()] = err
				mu.Unlock()
				return nil // isolated: never abort the group
			}
			if hit {
				logrus.Debugf("Result cache hit for %s (job %d)", p.Name(), job.ID)
			}
			perProvider[i] = items
			return nil
		})
	}
	_ = g.Wait()

	merged := merge(perProvider)
	sortItems(merged, job.SortKey)

	return paginate(merged, page, perPage), provErrs
}

// merge flattens provider results in precedence order, dropping duplicates
// by canonical URL (falling back to ID). The first-seen instance wins.
func merge(perProvider [][]models.Item) []models.Item {
	var merged []models.Item
	seen := make(map[string]struct{})
	for _, items := range perProvider {
		for _, item := range items {
			key := item.DedupeKey()
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			merged = append(merged, item)
		}
	}
	return merged
}

// sortItems applies a consistent total order: the explicit sort field with
// item ID as tie-break, so pagination is deterministic across repeated calls
// against the same cache window. bestMatch keeps the merged provider order,
// which is itself deterministic for a given cache window.
func sortItems(items []models.Item, sortKey string) {
	switch sortKey {
	case provider.SortPriceAsc:
		sort.SliceStable(items, func(i, j int) bool {
			return priceLess(items[i], items[j], true)
		})
	case provider.SortPriceDesc:
		sort.SliceStable(items, func(i, j int) bool {
			return priceLess(items[i], items[j], false)
		})
	case provider.SortNewest, provider.SortNewestDesc:
		sort.SliceStable(items, func(i, j int) bool {
			if !items[i].FetchedAt.Equal(items[j].FetchedAt) {
				return items[i].FetchedAt.After(items[j].FetchedAt)
			}
			return items[i].ID < items[j].ID
		})
	}
}

// priceLess orders by price with unknown prices last and ID as tie-break.
func priceLess(a, b models.Item, asc bool) bool {
	switch {
	case a.Price == nil && b.Price == nil:
		return a.ID < b.ID
	case a.Price == nil:
		return false
	case b.Price == nil:
		return true
	case *a.Price != *b.Price:
		if asc {
			return *a.Price < *b.Price
		}
		return *a.Price > *b.Price
	default:
		return a.ID < b.ID
	}
}

func paginate(items []models.Item, page, perPage int) Page {
	if page < 1 {
		page = 1
	}
	if perPage < 1 {
		perPage = len(items)
	}

	start := (page - 1) * perPage
	if start > len(items) {
		start = len(items)
	}
	end := start + perPage
	if end > len(items) {
		end = len(items)
	}

	return Page{
		Items:   items[start:end],
		Total:   len(items),
		Page:    page,
		PerPage: perPage,
	}
}
