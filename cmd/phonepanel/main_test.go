package main

import (
	"context"
	"path/filepath"
	"testing"

	"phonepanel/cli/internal/config"
	dbmodel "phonepanel/cli/internal/db"
	"phonepanel/cli/internal/testcases"
)

func TestRunSeed_IsIdempotent(t *testing.T) {
	cfg := config.Defaults()
	cfg.LogLevel = "error"
	cfg.DBPath = filepath.Join(t.TempDir(), "phone_agent.db")

	if err := runMigrateUp(context.Background(), cfg); err != nil {
		t.Fatalf("migrate up failed: %v", err)
	}
	for i := 0; i < 2; i++ {
		if err := runSeed(context.Background(), cfg); err != nil {
			t.Fatalf("seed %d failed: %v", i, err)
		}
	}

	gdb, err := dbmodel.Open(cfg.DBPath)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer func() { _ = dbmodel.Close(gdb) }()
	st, err := testcases.NewStore(gdb)
	if err != nil {
		t.Fatalf("store failed: %v", err)
	}
	items, err := st.List(context.Background(), "")
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(items) != len(testcases.DefaultSet) {
		t.Fatalf("expected %d seeded cases, got %d", len(testcases.DefaultSet), len(items))
	}
}
