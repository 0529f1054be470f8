package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"marketscout/internal/aggregator"
	"marketscout/internal/digest"
	"marketscout/internal/metrics"
	"marketscout/internal/models"
)

// ErrRunInProgress is returned when a run is requested while another run is
// still executing. Runs never overlap.
var ErrRunInProgress = errors.New("agent run already in progress")

// JobStore is the persistence the agent needs around a run.
type JobStore interface {
	EnabledJobs() ([]models.SearchJob, error)
	TouchJobLastRun(id uint, at time.Time) error
	CreateRunLog(log *models.RunLog) error
}

// Searcher executes one job's query across all providers.
type Searcher interface {
	RunSearch(ctx context.Context, job models.SearchJob, page, perPage int) (aggregator.Page, map[string]error)
}

// SeenLedger is the two-phase notification memory.
type SeenLedger interface {
	FilterNovel(jobID uint, items []models.Item) ([]models.Item, error)
	RecordObserved(jobID uint, items []models.Item) error
	RecordNotified(jobID uint, items []models.Item, at time.Time) error
}

// Dispatcher sends one rendered digest.
type Dispatcher interface {
	Dispatch(ctx context.Context, d *digest.Digest) error
}

// Options are the run controller's tunables.
type Options struct {
	MinJobInterval time.Duration
	MaxDigestItems int
	PageSize       int
}

// RunReport summarizes one agent run.
type RunReport struct {
	RunID          string         `json:"run_id"`
	StartedAt      time.Time      `json:"started_at"`
	Duration       time.Duration  `json:"duration"`
	JobsProcessed  int            `json:"jobs_processed"`
	JobsSkipped    int            `json:"jobs_skipped"`
	ItemsFound     int            `json:"items_found"`
	ItemsNotified  int            `json:"items_notified"`
	ProviderErrors map[string]int `json:"provider_errors,omitempty"`
	Errors         []string       `json:"errors,omitempty"`
}

// Agent is the run controller: it walks every enabled job, aggregates
// results, filters novelty through the ledger, and dispatches per-user
// digests. Items are marked notified only after their digest was confirmed
// sent, so a dispatch failure leaves them eligible for the next run.
type Agent struct {
	store      JobStore
	searcher   Searcher
	ledger     SeenLedger
	dispatcher Dispatcher
	metrics    *metrics.Metrics
	opts       Options

	runMu sync.Mutex
	now   func() time.Time
}

// New creates an agent.
func New(store JobStore, searcher Searcher, ledger SeenLedger, dispatcher Dispatcher, m *metrics.Metrics, opts Options) *Agent {
	if opts.PageSize <= 0 {
		opts.PageSize = 50
	}
	return &Agent{
		store:      store,
		searcher:   searcher,
		ledger:     ledger,
		dispatcher: dispatcher,
		metrics:    m,
		opts:       opts,
		now:        time.Now,
	}
}

// RunOnce executes a single agent run. With force set, the per-job minimum
// interval is ignored. Returns ErrRunInProgress if another run is executing.
func (a *Agent) RunOnce(ctx context.Context, force bool) (*RunReport, error) {
	if !a.runMu.TryLock() {
		return nil, ErrRunInProgress
	}
	defer a.runMu.Unlock()

	start := a.now()
	report := &RunReport{
		RunID:          uuid.New().String(),
		StartedAt:      start,
		ProviderErrors: make(map[string]int),
	}

	if a.metrics != nil {
		a.metrics.RunCount.Inc()
	}
	logrus.WithField("run_id", report.RunID).Info("Starting agent run")

	jobs, err := a.store.EnabledJobs()
	if err != nil {
		report.Errors = append(report.Errors, fmt.Sprintf("load jobs: %v", err))
		a.finish(report, "error")
		return report, fmt.Errorf("failed to load enabled jobs: %w", err)
	}
	if a.metrics != nil {
		a.metrics.ActiveJobs.Set(float64(len(jobs)))
	}

	builder := digest.NewBuilder(a.opts.MaxDigestItems)

	for _, job := range jobs {
		if err := ctx.Err(); err != nil {
			report.Errors = append(report.Errors, "run cancelled")
			break
		}

		if !force && job.LastRunAt != nil && a.now().Sub(*job.LastRunAt) < a.opts.MinJobInterval {
			logrus.Debugf("Job %d ran %v ago, skipping", job.ID, a.now().Sub(*job.LastRunAt))
			report.JobsSkipped++
			continue
		}

		a.processJob(ctx, job, builder, report)
	}

	notified := a.dispatch(ctx, builder, report)
	report.ItemsNotified = notified

	status := "ok"
	if len(report.Errors) > 0 || len(report.ProviderErrors) > 0 {
		status = "partial"
	}
	a.finish(report, status)

	logrus.WithFields(logrus.Fields{
		"run_id":         report.RunID,
		"jobs_processed": report.JobsProcessed,
		"jobs_skipped":   report.JobsSkipped,
		"items_found":    report.ItemsFound,
		"items_notified": report.ItemsNotified,
		"duration":       report.Duration.String(),
	}).Info("Agent run completed")

	return report, nil
}

// processJob runs one job: search, observe, novelty-filter, stage digest.
func (a *Agent) processJob(ctx context.Context, job models.SearchJob, builder *digest.Builder, report *RunReport) {
	page, provErrs := a.searcher.RunSearch(ctx, job, 1, a.opts.PageSize)
	for name := range provErrs {
		report.ProviderErrors[name]++
		if a.metrics != nil {
			a.metrics.ProviderErrors.WithLabelValues(name).Inc()
		}
	}

	report.JobsProcessed++
	report.ItemsFound += len(page.Items)
	if a.metrics != nil {
		a.metrics.JobsProcessed.Inc()
		a.metrics.ItemsFound.Add(float64(len(page.Items)))
	}

	// First phase: every observed item gets a ledger record regardless of
	// whether a digest goes out this run.
	if err := a.ledger.RecordObserved(job.ID, page.Items); err != nil {
		logrus.Errorf("Failed to record observed items for job %d: %v", job.ID, err)
		report.Errors = append(report.Errors, fmt.Sprintf("job %d: record observed: %v", job.ID, err))
	}

	novel, err := a.ledger.FilterNovel(job.ID, page.Items)
	if err != nil {
		logrus.Errorf("Failed to filter novel items for job %d: %v", job.ID, err)
		report.Errors = append(report.Errors, fmt.Sprintf("job %d: novelty filter: %v", job.ID, err))
		return
	}

	if len(novel) > 0 && job.User != nil && job.User.DigestEnabled {
		builder.Add(job.User.Email, job, novel)
	}

	if err := a.store.TouchJobLastRun(job.ID, a.now()); err != nil {
		logrus.Errorf("Failed to stamp last run for job %d: %v", job.ID, err)
	}
}

// dispatch sends the staged digests. Only items inside a confirmed-sent
// digest are marked notified; overflow items were never enumerated and stay
// eligible.
func (a *Agent) dispatch(ctx context.Context, builder *digest.Builder, report *RunReport) int {
	notified := 0
	sentAt := a.now()

	for _, d := range builder.Digests() {
		if err := a.dispatcher.Dispatch(ctx, d); err != nil {
			logrus.Errorf("Failed to dispatch digest to %s: %v", d.UserEmail, err)
			report.Errors = append(report.Errors, fmt.Sprintf("digest to %s: %v", d.UserEmail, err))
			if a.metrics != nil {
				a.metrics.DigestFailures.Inc()
			}
			continue
		}

		for _, g := range d.Groups {
			if err := a.ledger.RecordNotified(g.JobID, g.Items, sentAt); err != nil {
				logrus.Errorf("Failed to mark items notified for job %d: %v", g.JobID, err)
				report.Errors = append(report.Errors, fmt.Sprintf("job %d: record notified: %v", g.JobID, err))
				continue
			}
			notified += len(g.Items)
		}
	}

	if a.metrics != nil {
		a.metrics.ItemsNotified.Add(float64(notified))
	}
	return notified
}

// finish stamps the duration and persists the run log.
func (a *Agent) finish(report *RunReport, status string) {
	report.Duration = a.now().Sub(report.StartedAt)
	if a.metrics != nil {
		a.metrics.RunDuration.Observe(report.Duration.Seconds())
	}

	provErrs, _ := json.Marshal(report.ProviderErrors)
	log := &models.RunLog{
		RunID:          report.RunID,
		StartedAt:      report.StartedAt,
		DurationMS:     report.Duration.Milliseconds(),
		JobsProcessed:  report.JobsProcessed,
		JobsSkipped:    report.JobsSkipped,
		ItemsFound:     report.ItemsFound,
		ItemsNotified:  report.ItemsNotified,
		ProviderErrors: string(provErrs),
		Status:         status,
	}
	if err := a.store.CreateRunLog(log); err != nil {
		logrus.Errorf("Failed to persist run log %s: %v", report.RunID, err)
	}
}
