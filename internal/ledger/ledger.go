package ledger

import (
	"time"

	"marketscout/internal/models"
)

// Store is the persistence the ledger needs: point lookups and upserts by
// the (job, source, item) composite key.
type Store interface {
	Lookup(jobID uint, keys []models.SeenKey) (map[models.SeenKey]models.SeenRecord, error)
	UpsertObserved(jobID uint, items []models.Item, at time.Time) error
	MarkNotified(jobID uint, items []models.Item, at time.Time) error
}

// Ledger is the per-job memory of previously notified items. Novelty and
// cooldown decisions are pure reads; state changes happen in two explicit
// phases so a dispatch failure between filtering and sending never loses an
// item: RecordObserved runs on every observation, RecordNotified only after
// a digest containing the item was confirmed sent.
type Ledger struct {
	store    Store
	cooldown time.Duration

	now func() time.Time
}

// New creates a ledger with the given cooldown duration.
func New(store Store, cooldown time.Duration) *Ledger {
	return &Ledger{store: store, cooldown: cooldown, now: time.Now}
}

// FilterNovel returns the subset of items that are due for notification: no
// record exists, the record was never notified, or the cooldown has elapsed
// since the last notification. It has no side effects.
func (l *Ledger) FilterNovel(jobID uint, items []models.Item) ([]models.Item, error) {
	if len(items) == 0 {
		return nil, nil
	}

	keys := make([]models.SeenKey, 0, len(items))
	for _, item := range items {
		keys = append(keys, item.Key())
	}

	records, err := l.store.Lookup(jobID, keys)
	if err != nil {
		return nil, err
	}

	now := l.now()
	var novel []models.Item
	for _, item := range items {
		rec, ok := records[item.Key()]
		switch {
		case !ok:
			novel = append(novel, item)
		case rec.LastNotifiedAt == nil:
			novel = append(novel, item)
		case now.Sub(*rec.LastNotifiedAt) >= l.cooldown:
			novel = append(novel, item)
		}
	}
	return novel, nil
}

// RecordObserved persists first-seen state for every item, whether or not a
// digest will be sent this run.
func (l *Ledger) RecordObserved(jobID uint, items []models.Item) error {
	return l.store.UpsertObserved(jobID, items, l.now())
}

// RecordNotified stamps last-notified for exactly the items that went out in
// a confirmed digest.
func (l *Ledger) RecordNotified(jobID uint, items []models.Item, at time.Time) error {
	return l.store.MarkNotified(jobID, items, at)
}
