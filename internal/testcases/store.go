package testcases

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	dbmodel "phonepanel/cli/internal/db"

	"gorm.io/gorm"
)

var ErrNotFound = errors.New("test case not found")

// ValidationError reports caller input that cannot be stored.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e == nil {
		return "invalid test case"
	}
	return e.Message
}

type TestCase struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	Description *string   `json:"description"`
	Instruction string    `json:"instruction"`
	Category    string    `json:"category"`
	IsActive    bool      `json:"is_active"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

type Input struct {
	Name        string  `json:"name"`
	Description *string `json:"description"`
	Instruction string  `json:"instruction"`
	Category    string  `json:"category"`
}

// Patch carries the fields of a partial update. Nil fields are left unchanged.
type Patch struct {
	Name        *string `json:"name"`
	Description *string `json:"description"`
	Instruction *string `json:"instruction"`
	Category    *string `json:"category"`
	IsActive    *bool   `json:"is_active"`
}

func (p Patch) empty() bool {
	return p.Name == nil && p.Description == nil && p.Instruction == nil && p.Category == nil && p.IsActive == nil
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

// List returns active test cases, newest first. An empty category matches all.
func (s *Store) List(ctx context.Context, category string) ([]TestCase, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("test case store is not initialized")
	}
	q := s.db.WithContext(ctx).Where("is_active = ?", true)
	if c := strings.TrimSpace(category); c != "" {
		q = q.Where("category = ?", c)
	}
	var rows []dbmodel.TestCase
	if err := q.Order("created_at DESC").Order("id DESC").Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]TestCase, 0, len(rows))
	for _, row := range rows {
		out = append(out, toTestCase(row))
	}
	return out, nil
}

func (s *Store) Get(ctx context.Context, id int64) (TestCase, error) {
	if s == nil || s.db == nil {
		return TestCase{}, errors.New("test case store is not initialized")
	}
	row, err := s.load(s.db.WithContext(ctx), id)
	if err != nil {
		return TestCase{}, err
	}
	return toTestCase(row), nil
}

func (s *Store) Create(ctx context.Context, in Input) (TestCase, error) {
	if s == nil || s.db == nil {
		return TestCase{}, errors.New("test case store is not initialized")
	}
	row, err := s.newRow(in)
	if err != nil {
		return TestCase{}, err
	}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return TestCase{}, err
	}
	return toTestCase(row), nil
}

func (s *Store) Update(ctx context.Context, id int64, patch Patch) (TestCase, error) {
	if s == nil || s.db == nil {
		return TestCase{}, errors.New("test case store is not initialized")
	}
	var out dbmodel.TestCase
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		row, err := s.load(tx, id)
		if err != nil {
			return err
		}
		if patch.empty() {
			out = row
			return nil
		}
		if err := applyPatch(&row, patch); err != nil {
			return err
		}
		row.UpdatedAt = s.now()
		if err := tx.Save(&row).Error; err != nil {
			return err
		}
		out = row
		return nil
	})
	if err != nil {
		return TestCase{}, err
	}
	return toTestCase(out), nil
}

// Delete hides the test case from listings. Rows are never removed.
func (s *Store) Delete(ctx context.Context, id int64) error {
	if s == nil || s.db == nil {
		return errors.New("test case store is not initialized")
	}
	res := s.db.WithContext(ctx).Model(&dbmodel.TestCase{}).
		Where("id = ?", id).
		Updates(map[string]any{"is_active": false, "updated_at": s.now()})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: id=%d", ErrNotFound, id)
	}
	return nil
}

// SeedDefaults inserts DefaultSet when the table is empty. When rows already
// exist nothing is written and the existing count is returned.
func (s *Store) SeedDefaults(ctx context.Context) (inserted int, existing int64, err error) {
	if s == nil || s.db == nil {
		return 0, 0, errors.New("test case store is not initialized")
	}
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&dbmodel.TestCase{}).Count(&existing).Error; err != nil {
			return err
		}
		if existing > 0 {
			return nil
		}
		rows := make([]dbmodel.TestCase, 0, len(DefaultSet))
		for _, in := range DefaultSet {
			row, err := s.newRow(in)
			if err != nil {
				return err
			}
			rows = append(rows, row)
		}
		if err := tx.Create(&rows).Error; err != nil {
			return err
		}
		inserted = len(rows)
		return nil
	})
	if err != nil {
		return 0, 0, err
	}
	return inserted, existing, nil
}

func (s *Store) load(tx *gorm.DB, id int64) (dbmodel.TestCase, error) {
	var row dbmodel.TestCase
	err := tx.Where("id = ?", id).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return dbmodel.TestCase{}, fmt.Errorf("%w: id=%d", ErrNotFound, id)
	}
	return row, err
}

func (s *Store) newRow(in Input) (dbmodel.TestCase, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return dbmodel.TestCase{}, &ValidationError{Field: "name", Message: "name is required"}
	}
	instruction := strings.TrimSpace(in.Instruction)
	if instruction == "" {
		return dbmodel.TestCase{}, &ValidationError{Field: "instruction", Message: "instruction is required"}
	}
	now := s.now()
	return dbmodel.TestCase{
		Name:        name,
		Description: normalizeDescription(in.Description),
		Instruction: instruction,
		Category:    normalizeCategory(in.Category),
		IsActive:    true,
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil
}

func applyPatch(row *dbmodel.TestCase, patch Patch) error {
	if patch.Name != nil {
		name := strings.TrimSpace(*patch.Name)
		if name == "" {
			return &ValidationError{Field: "name", Message: "name must not be empty"}
		}
		row.Name = name
	}
	if patch.Instruction != nil {
		instruction := strings.TrimSpace(*patch.Instruction)
		if instruction == "" {
			return &ValidationError{Field: "instruction", Message: "instruction must not be empty"}
		}
		row.Instruction = instruction
	}
	if patch.Description != nil {
		row.Description = normalizeDescription(patch.Description)
	}
	if patch.Category != nil {
		row.Category = normalizeCategory(*patch.Category)
	}
	if patch.IsActive != nil {
		row.IsActive = *patch.IsActive
	}
	return nil
}

func normalizeCategory(category string) string {
	category = strings.TrimSpace(category)
	if category == "" {
		return dbmodel.DefaultTestCaseCategory
	}
	return category
}

func normalizeDescription(desc *string) *string {
	if desc == nil {
		return nil
	}
	v := strings.TrimSpace(*desc)
	if v == "" {
		return nil
	}
	return &v
}

func toTestCase(row dbmodel.TestCase) TestCase {
	return TestCase{
		ID:          row.ID,
		Name:        row.Name,
		Description: row.Description,
		Instruction: row.Instruction,
		Category:    row.Category,
		IsActive:    row.IsActive,
		CreatedAt:   row.CreatedAt.UTC(),
		UpdatedAt:   row.UpdatedAt.UTC(),
	}
}
