package db

import "time"

const (
	TaskStatusPending   = "pending"
	TaskStatusRunning   = "running"
	TaskStatusCompleted = "completed"
	TaskStatusFailed    = "failed"
)

const DefaultTestCaseCategory = "general"

type TaskHistory struct {
	ID              int64      `gorm:"column:id;primaryKey;autoIncrement"`
	TaskDescription string     `gorm:"column:task_description;type:varchar(500);not null"`
	Status          string     `gorm:"column:status;type:varchar(50);not null;default:'pending'"`
	ResultMessage   *string    `gorm:"column:result_message;type:text"`
	CreatedAt       time.Time  `gorm:"column:created_at;not null"`
	FinishedAt      *time.Time `gorm:"column:finished_at"`
}

func (TaskHistory) TableName() string { return "task_history" }

type TestCase struct {
	ID          int64     `gorm:"column:id;primaryKey;autoIncrement"`
	Name        string    `gorm:"column:name;type:varchar(200);not null"`
	Description *string   `gorm:"column:description;type:text"`
	Instruction string    `gorm:"column:instruction;type:text;not null"`
	Category    string    `gorm:"column:category;type:varchar(50);not null;default:'general'"`
	IsActive    bool      `gorm:"column:is_active;not null;default:true"`
	CreatedAt   time.Time `gorm:"column:created_at;not null"`
	UpdatedAt   time.Time `gorm:"column:updated_at;not null"`
}

func (TestCase) TableName() string { return "test_cases" }
