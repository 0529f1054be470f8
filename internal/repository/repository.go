package repository

import (
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"marketscout/internal/models"
)

type Repository struct {
	db *gorm.DB
}

func New(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// EnabledJobs returns all enabled search jobs with their owners, ordered by
// job ID so a run covers them in a stable order.
func (r *Repository) EnabledJobs() ([]models.SearchJob, error) {
	var jobs []models.SearchJob
	result := r.db.Preload("User").Where("enabled = ?", true).Order("id").Find(&jobs)
	if result.Error != nil {
		return nil, fmt.Errorf("failed to load enabled jobs: %w", result.Error)
	}
	return jobs, nil
}

// GetJob returns one job by ID, or gorm.ErrRecordNotFound.
func (r *Repository) GetJob(id uint) (*models.SearchJob, error) {
	var job models.SearchJob
	if err := r.db.First(&job, id).Error; err != nil {
		return nil, err
	}
	return &job, nil
}

// AllJobs returns every job, newest first.
func (r *Repository) AllJobs() ([]models.SearchJob, error) {
	var jobs []models.SearchJob
	result := r.db.Order("created_at DESC").Find(&jobs)
	if result.Error != nil {
		return nil, fmt.Errorf("failed to load jobs: %w", result.Error)
	}
	return jobs, nil
}

// CreateJob persists a new search job.
func (r *Repository) CreateJob(job *models.SearchJob) error {
	if err := r.db.Create(job).Error; err != nil {
		return fmt.Errorf("failed to create job: %w", err)
	}
	return nil
}

// SaveJob persists changes to an existing job.
func (r *Repository) SaveJob(job *models.SearchJob) error {
	if err := r.db.Save(job).Error; err != nil {
		return fmt.Errorf("failed to save job: %w", err)
	}
	return nil
}

// DeleteJob removes a job and cascades its seen records so they do not
// linger as orphans.
func (r *Repository) DeleteJob(id uint) error {
	return r.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("job_id = ?", id).Delete(&models.SeenRecord{}).Error; err != nil {
			return fmt.Errorf("failed to delete seen records for job %d: %w", id, err)
		}
		if err := tx.Delete(&models.SearchJob{}, id).Error; err != nil {
			return fmt.Errorf("failed to delete job %d: %w", id, err)
		}
		return nil
	})
}

// TouchJobLastRun stamps the job's last processed time.
func (r *Repository) TouchJobLastRun(id uint, at time.Time) error {
	return r.db.Model(&models.SearchJob{}).Where("id = ?", id).Update("last_run_at", at).Error
}

// SetJobEnabled flips a job's enabled flag.
func (r *Repository) SetJobEnabled(id uint, enabled bool) error {
	return r.db.Model(&models.SearchJob{}).Where("id = ?", id).Update("enabled", enabled).Error
}

// Lookup fetches the seen records for the given keys of one job, keyed for
// the ledger's novelty check.
func (r *Repository) Lookup(jobID uint, keys []models.SeenKey) (map[models.SeenKey]models.SeenRecord, error) {
	out := make(map[models.SeenKey]models.SeenRecord, len(keys))
	if len(keys) == 0 {
		return out, nil
	}

	itemIDs := make([]string, 0, len(keys))
	for _, k := range keys {
		itemIDs = append(itemIDs, k.ItemID)
	}

	var records []models.SeenRecord
	result := r.db.Where("job_id = ? AND item_id IN ?", jobID, itemIDs).Find(&records)
	if result.Error != nil {
		return nil, fmt.Errorf("failed to look up seen records: %w", result.Error)
	}

	for _, rec := range records {
		out[models.SeenKey{Source: rec.Source, ItemID: rec.ItemID}] = rec
	}
	return out, nil
}

// UpsertObserved records first observation of each item for a job. Existing
// records are left untouched; LastNotifiedAt stays nil until a digest
// containing the item is confirmed sent.
func (r *Repository) UpsertObserved(jobID uint, items []models.Item, at time.Time) error {
	if len(items) == 0 {
		return nil
	}

	records := make([]models.SeenRecord, 0, len(items))
	for _, item := range items {
		records = append(records, models.SeenRecord{
			JobID:       jobID,
			Source:      item.Source,
			ItemID:      item.ID,
			FirstSeenAt: at,
		})
	}

	result := r.db.Clauses(clause.OnConflict{DoNothing: true}).Create(&records)
	if result.Error != nil {
		return fmt.Errorf("failed to record observed items: %w", result.Error)
	}
	return nil
}

// MarkNotified sets LastNotifiedAt for exactly the given items of one job.
func (r *Repository) MarkNotified(jobID uint, items []models.Item, at time.Time) error {
	if len(items) == 0 {
		return nil
	}

	itemIDs := make([]string, 0, len(items))
	for _, item := range items {
		itemIDs = append(itemIDs, item.ID)
	}

	result := r.db.Model(&models.SeenRecord{}).
		Where("job_id = ? AND item_id IN ?", jobID, itemIDs).
		Update("last_notified_at", at)
	if result.Error != nil {
		return fmt.Errorf("failed to mark items notified: %w", result.Error)
	}
	return nil
}

// CreateRunLog persists one run report.
func (r *Repository) CreateRunLog(log *models.RunLog) error {
	if err := r.db.Create(log).Error; err != nil {
		return fmt.Errorf("failed to create run log: %w", err)
	}
	return nil
}

// RunLogs returns recent run logs, newest first.
func (r *Repository) RunLogs(limit int) ([]models.RunLog, error) {
	var logs []models.RunLog
	result := r.db.Order("started_at DESC").Limit(limit).Find(&logs)
	if result.Error != nil {
		return nil, fmt.Errorf("failed to load run logs: %w", result.Error)
	}
	return logs, nil
}

// IsNotFound reports whether err is the record-not-found sentinel.
func IsNotFound(err error) bool {
	return errors.Is(err, gorm.ErrRecordNotFound)
}
