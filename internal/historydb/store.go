package historydb

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	dbmodel "phonepanel/cli/internal/db"

	"gorm.io/gorm"
)

const DefaultListLimit = 20

var (
	ErrNotFound        = errors.New("task not found")
	ErrAlreadyFinished = errors.New("task already finished")
	ErrInvalidStatus   = errors.New("invalid terminal status")
)

type Record struct {
	ID              int64      `json:"id"`
	TaskDescription string     `json:"task_description"`
	Status          string     `json:"status"`
	ResultMessage   *string    `json:"result_message"`
	CreatedAt       time.Time  `json:"created_at"`
	FinishedAt      *time.Time `json:"finished_at"`
}

// Terminal reports whether the record reached completed or failed.
func (r Record) Terminal() bool {
	return r.Status == dbmodel.TaskStatusCompleted || r.Status == dbmodel.TaskStatusFailed
}

type Store struct {
	db  *gorm.DB
	now func() time.Time
}

// NewStore uses the shared global DB. Caller must not close the db.
func NewStore(db *gorm.DB) (*Store, error) {
	if db == nil {
		return nil, errors.New("db is required")
	}
	return &Store{db: db, now: func() time.Time { return time.Now().UTC() }}, nil
}

// Create records a task that is about to run.
func (s *Store) Create(ctx context.Context, description string) (Record, error) {
	if s == nil || s.db == nil {
		return Record{}, errors.New("history store is not initialized")
	}
	desc := strings.TrimSpace(description)
	if desc == "" {
		return Record{}, errors.New("task description is required")
	}
	row := dbmodel.TaskHistory{
		TaskDescription: desc,
		Status:          dbmodel.TaskStatusRunning,
		CreatedAt:       s.now(),
	}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return Record{}, err
	}
	return toRecord(row), nil
}

// Finish moves a running task to completed or failed. Only the first terminal update wins.
func (s *Store) Finish(ctx context.Context, id int64, status, result string) error {
	if s == nil || s.db == nil {
		return errors.New("history store is not initialized")
	}
	if status != dbmodel.TaskStatusCompleted && status != dbmodel.TaskStatusFailed {
		return fmt.Errorf("%w: %q", ErrInvalidStatus, status)
	}
	res := s.db.WithContext(ctx).Model(&dbmodel.TaskHistory{}).
		Where("id = ? AND status = ?", id, dbmodel.TaskStatusRunning).
		Updates(map[string]any{
			"status":         status,
			"result_message": result,
			"finished_at":    s.now(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 1 {
		return nil
	}
	if _, err := s.Get(ctx, id); err != nil {
		return err
	}
	return fmt.Errorf("%w: id=%d", ErrAlreadyFinished, id)
}

// OrphanedResult is stored on tasks that were still running when the previous server exited.
const OrphanedResult = "interrupted: process restarted"

// FailOrphaned closes out every running row. Only a starting server may call
// it: the execution units that owned those rows died with the old process.
func (s *Store) FailOrphaned(ctx context.Context) (int64, error) {
	if s == nil || s.db == nil {
		return 0, errors.New("history store is not initialized")
	}
	res := s.db.WithContext(ctx).Model(&dbmodel.TaskHistory{}).
		Where("status = ?", dbmodel.TaskStatusRunning).
		Updates(map[string]any{
			"status":         dbmodel.TaskStatusFailed,
			"result_message": OrphanedResult,
			"finished_at":    s.now(),
		})
	return res.RowsAffected, res.Error
}

func (s *Store) Get(ctx context.Context, id int64) (Record, error) {
	if s == nil || s.db == nil {
		return Record{}, errors.New("history store is not initialized")
	}
	var row dbmodel.TaskHistory
	err := s.db.WithContext(ctx).Where("id = ?", id).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Record{}, fmt.Errorf("%w: id=%d", ErrNotFound, id)
	}
	if err != nil {
		return Record{}, err
	}
	return toRecord(row), nil
}

// ListRecent returns the newest tasks first.
func (s *Store) ListRecent(ctx context.Context, limit int) ([]Record, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("history store is not initialized")
	}
	if limit <= 0 {
		limit = DefaultListLimit
	}
	rows := make([]dbmodel.TaskHistory, 0, limit)
	if err := s.db.WithContext(ctx).Order("created_at DESC").Order("id DESC").Limit(limit).Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]Record, 0, len(rows))
	for _, row := range rows {
		out = append(out, toRecord(row))
	}
	return out, nil
}

func toRecord(row dbmodel.TaskHistory) Record {
	return Record{
		ID:              row.ID,
		TaskDescription: row.TaskDescription,
		Status:          row.Status,
		ResultMessage:   row.ResultMessage,
		CreatedAt:       row.CreatedAt.UTC(),
		FinishedAt:      utcPtr(row.FinishedAt),
	}
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := t.UTC()
	return &v
}
