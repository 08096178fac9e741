package db

import (
	"path/filepath"
	"testing"
	"time"

	"gorm.io/gorm"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	gdb, err := Open(filepath.Join(t.TempDir(), "phone_agent.db"))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { _ = Close(gdb) })
	return gdb
}

func TestOpen_CreatesCoreTables(t *testing.T) {
	gdb := openTestDB(t)
	for _, name := range []string{"task_history", "test_cases"} {
		var got string
		if err := gdb.Raw(`SELECT name FROM sqlite_master WHERE type='table' AND name=?`, name).Scan(&got).Error; err != nil {
			t.Fatalf("query table %s: %v", name, err)
		}
		if got != name {
			t.Fatalf("missing table %s", name)
		}
	}
	mustHaveColumns(t, gdb, "task_history", []string{"id", "task_description", "status", "result_message", "created_at", "finished_at"})
	mustHaveColumns(t, gdb, "test_cases", []string{"id", "name", "description", "instruction", "category", "is_active", "created_at", "updated_at"})
}

func TestOpen_IsIdempotent(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "nested", "phone_agent.db")
	gdb, err := Open(dbPath)
	if err != nil {
		t.Fatalf("first open failed: %v", err)
	}
	now := time.Now().UTC()
	if err := gdb.Create(&TestCase{Name: "n", Instruction: "i", Category: DefaultTestCaseCategory, IsActive: true, CreatedAt: now, UpdatedAt: now}).Error; err != nil {
		t.Fatalf("insert failed: %v", err)
	}
	_ = Close(gdb)

	gdb, err = Open(dbPath)
	if err != nil {
		t.Fatalf("second open failed: %v", err)
	}
	defer func() { _ = Close(gdb) }()
	var n int64
	if err := gdb.Model(&TestCase{}).Count(&n).Error; err != nil {
		t.Fatalf("count failed: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected existing row to survive reopen, got %d", n)
	}
}

func TestOpen_SetsBusyTimeout(t *testing.T) {
	gdb := openTestDB(t)
	var timeout int
	if err := gdb.Raw(`PRAGMA busy_timeout;`).Scan(&timeout).Error; err != nil {
		t.Fatalf("query busy_timeout failed: %v", err)
	}
	if timeout < 5000 {
		t.Fatalf("expected busy_timeout >= 5000, got %d", timeout)
	}
}

func TestOpen_LeavesRunningTasksAlone(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "phone_agent.db")
	server, err := Open(dbPath)
	if err != nil {
		t.Fatalf("server open failed: %v", err)
	}
	defer func() { _ = Close(server) }()
	running := TaskHistory{TaskDescription: "open settings", Status: TaskStatusRunning, CreatedAt: time.Now().UTC()}
	if err := server.Create(&running).Error; err != nil {
		t.Fatalf("insert running: %v", err)
	}

	// A second process (seed, migrate up) opening the same file while the task is in flight.
	other, err := Open(dbPath)
	if err != nil {
		t.Fatalf("second open failed: %v", err)
	}
	if err := Close(other); err != nil {
		t.Fatalf("close second handle: %v", err)
	}

	var got TaskHistory
	if err := server.First(&got, running.ID).Error; err != nil {
		t.Fatalf("load running row: %v", err)
	}
	if got.Status != TaskStatusRunning || got.FinishedAt != nil || got.ResultMessage != nil {
		t.Fatalf("expected in-flight task untouched, got %+v", got)
	}
}

func mustHaveColumns(t *testing.T, db *gorm.DB, table string, cols []string) {
	t.Helper()
	for _, col := range cols {
		if !db.Migrator().HasColumn(table, col) {
			t.Fatalf("missing column %s.%s", table, col)
		}
	}
}
