package agent

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"marketscout/internal/aggregator"
	"marketscout/internal/digest"
	"marketscout/internal/models"
)

type fakeStore struct {
	jobs    []models.SearchJob
	jobsErr error
	touched []uint
	runLogs []*models.RunLog
}

func (s *fakeStore) EnabledJobs() ([]models.SearchJob, error) { return s.jobs, s.jobsErr }

func (s *fakeStore) TouchJobLastRun(id uint, at time.Time) error {
	s.touched = append(s.touched, id)
	return nil
}

func (s *fakeStore) CreateRunLog(log *models.RunLog) error {
	s.runLogs = append(s.runLogs, log)
	return nil
}

type fakeSearcher struct {
	items    map[uint][]models.Item
	provErrs map[string]error
	searched []uint
}

func (s *fakeSearcher) RunSearch(ctx context.Context, job models.SearchJob, page, perPage int) (aggregator.Page, map[string]error) {
	s.searched = append(s.searched, job.ID)
	items := s.items[job.ID]
	return aggregator.Page{Items: items, Total: len(items), Page: page, PerPage: perPage}, s.provErrs
}

type fakeLedger struct {
	observed map[uint][]models.Item
	notified map[uint][]models.Item
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{
		observed: make(map[uint][]models.Item),
		notified: make(map[uint][]models.Item),
	}
}

func (l *fakeLedger) FilterNovel(jobID uint, items []models.Item) ([]models.Item, error) {
	return items, nil
}

func (l *fakeLedger) RecordObserved(jobID uint, items []models.Item) error {
	l.observed[jobID] = append(l.observed[jobID], items...)
	return nil
}

func (l *fakeLedger) RecordNotified(jobID uint, items []models.Item, at time.Time) error {
	l.notified[jobID] = append(l.notified[jobID], items...)
	return nil
}

type fakeDispatcher struct {
	sent []*digest.Digest
	err  error
}

func (d *fakeDispatcher) Dispatch(ctx context.Context, dig *digest.Digest) error {
	if d.err != nil {
		return d.err
	}
	d.sent = append(d.sent, dig)
	return nil
}

func enabledUser() *models.User {
	return &models.User{ID: 1, Email: "alice@example.com", DigestEnabled: true}
}

func defaultOpts() Options {
	return Options{MinJobInterval: 3 * time.Minute, MaxDigestItems: 20, PageSize: 50}
}

func TestRunOnceHappyPath(t *testing.T) {
	store := &fakeStore{jobs: []models.SearchJob{
		{ID: 1, Label: "ThinkPads", User: enabledUser()},
	}}
	searcher := &fakeSearcher{items: map[uint][]models.Item{
		1: {{ID: "ebay:1", Source: "ebay", Title: "X1", URL: "https://example.com/1"}},
	}}
	ledger := newFakeLedger()
	dispatcher := &fakeDispatcher{}

	a := New(store, searcher, ledger, dispatcher, nil, defaultOpts())

	report, err := a.RunOnce(context.Background(), false)
	require.NoError(t, err)

	assert.Equal(t, 1, report.JobsProcessed)
	assert.Equal(t, 1, report.ItemsFound)
	assert.Equal(t, 1, report.ItemsNotified)
	assert.NotEmpty(t, report.RunID)

	require.Len(t, dispatcher.sent, 1)
	assert.Len(t, ledger.observed[1], 1)
	assert.Len(t, ledger.notified[1], 1)
	assert.Equal(t, []uint{1}, store.touched)

	require.Len(t, store.runLogs, 1)
	assert.Equal(t, "ok", store.runLogs[0].Status)
}

func TestRunOnceDispatchFailureLeavesItemsEligible(t *testing.T) {
	store := &fakeStore{jobs: []models.SearchJob{
		{ID: 1, Label: "ThinkPads", User: enabledUser()},
	}}
	searcher := &fakeSearcher{items: map[uint][]models.Item{
		1: {{ID: "ebay:1", Source: "ebay", Title: "X1", URL: "https://example.com/1"}},
	}}
	ledger := newFakeLedger()
	dispatcher := &fakeDispatcher{err: errors.New("smtp down")}

	a := New(store, searcher, ledger, dispatcher, nil, defaultOpts())

	report, err := a.RunOnce(context.Background(), false)
	require.NoError(t, err)

	// Observed, but never marked notified: the item stays eligible for
	// the next run.
	assert.Len(t, ledger.observed[1], 1)
	assert.Empty(t, ledger.notified[1])
	assert.Zero(t, report.ItemsNotified)
	assert.NotEmpty(t, report.Errors)

	require.Len(t, store.runLogs, 1)
	assert.Equal(t, "partial", store.runLogs[0].Status)
}

func TestRunOnceSkipsRecentlyRunJobs(t *testing.T) {
	recent := time.Now().Add(-time.Minute)
	store := &fakeStore{jobs: []models.SearchJob{
		{ID: 1, LastRunAt: &recent, User: enabledUser()},
	}}
	searcher := &fakeSearcher{}
	a := New(store, searcher, newFakeLedger(), &fakeDispatcher{}, nil, defaultOpts())

	report, err := a.RunOnce(context.Background(), false)
	require.NoError(t, err)

	assert.Equal(t, 1, report.JobsSkipped)
	assert.Zero(t, report.JobsProcessed)
	assert.Empty(t, searcher.searched)
}

func TestRunOnceForceBypassesMinInterval(t *testing.T) {
	recent := time.Now().Add(-time.Minute)
	store := &fakeStore{jobs: []models.SearchJob{
		{ID: 1, LastRunAt: &recent, User: enabledUser()},
	}}
	searcher := &fakeSearcher{}
	a := New(store, searcher, newFakeLedger(), &fakeDispatcher{}, nil, defaultOpts())

	report, err := a.RunOnce(context.Background(), true)
	require.NoError(t, err)

	assert.Zero(t, report.JobsSkipped)
	assert.Equal(t, 1, report.JobsProcessed)
	assert.Equal(t, []uint{1}, searcher.searched)
}

func TestRunOnceCountsProviderErrors(t *testing.T) {
	store := &fakeStore{jobs: []models.SearchJob{
		{ID: 1, User: enabledUser()},
		{ID: 2, User: enabledUser()},
	}}
	searcher := &fakeSearcher{provErrs: map[string]error{"ebay": errors.New("429")}}
	a := New(store, searcher, newFakeLedger(), &fakeDispatcher{}, nil, defaultOpts())

	report, err := a.RunOnce(context.Background(), false)
	require.NoError(t, err)

	assert.Equal(t, 2, report.ProviderErrors["ebay"])
	require.Len(t, store.runLogs, 1)
	assert.Equal(t, "partial", store.runLogs[0].Status)
}

func TestRunOnceDigestDisabledUserGetsNoMail(t *testing.T) {
	muted := &models.User{ID: 2, Email: "bob@example.com", DigestEnabled: false}
	store := &fakeStore{jobs: []models.SearchJob{
		{ID: 1, User: muted},
	}}
	searcher := &fakeSearcher{items: map[uint][]models.Item{
		1: {{ID: "ebay:1", Source: "ebay", URL: "https://example.com/1"}},
	}}
	dispatcher := &fakeDispatcher{}
	a := New(store, searcher, newFakeLedger(), dispatcher, nil, defaultOpts())

	_, err := a.RunOnce(context.Background(), false)
	require.NoError(t, err)
	assert.Empty(t, dispatcher.sent)
}

func TestRunOnceJobLoadFailure(t *testing.T) {
	store := &fakeStore{jobsErr: errors.New("db gone")}
	a := New(store, &fakeSearcher{}, newFakeLedger(), &fakeDispatcher{}, nil, defaultOpts())

	report, err := a.RunOnce(context.Background(), false)
	assert.Error(t, err)
	require.NotNil(t, report)
	assert.Zero(t, report.JobsProcessed)

	require.Len(t, store.runLogs, 1)
	assert.Equal(t, "error", store.runLogs[0].Status)
}

func TestRunOnceRejectsOverlappingRun(t *testing.T) {
	a := New(&fakeStore{}, &fakeSearcher{}, newFakeLedger(), &fakeDispatcher{}, nil, defaultOpts())

	a.runMu.Lock()
	defer a.runMu.Unlock()

	_, err := a.RunOnce(context.Background(), false)
	assert.ErrorIs(t, err, ErrRunInProgress)
}
