package alarm

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// setupTestDB creates an in-memory SQLite database with the alarm_rules table.
func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}

	schema := `
		CREATE TABLE alarm_rules (
			id             INTEGER PRIMARY KEY AUTOINCREMENT,
			device_id      TEXT NOT NULL,
			name           TEXT NOT NULL,
			parameter      TEXT NOT NULL,
			operator       TEXT NOT NULL,
			threshold      REAL NOT NULL,
			severity       TEXT NOT NULL DEFAULT 'medium',
			enabled        INTEGER NOT NULL DEFAULT 1,
			cooldown_ms    INTEGER NOT NULL DEFAULT 300000,
			last_triggered INTEGER,
			created_at     TEXT NOT NULL,
			updated_at     TEXT NOT NULL
		);
	`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		t.Fatalf("failed to create test schema: %v", err)
	}

	t.Cleanup(func() {
		db.Close()
	})

	return db
}

func testRule(deviceID string) *Rule {
	return &Rule{
		DeviceID:  deviceID,
		Name:      "high temperature",
		Parameter: "temperature",
		Operator:  OpGreater,
		Threshold: 30,
		Severity:  SeverityHigh,
		Enabled:   true,
	}
}

func TestCreateAndListEnabled(t *testing.T) {
	repo := NewSQLiteRepository(setupTestDB(t))
	ctx := context.Background()

	rule := testRule("GREENHOUSE-A1")
	if err := repo.Create(ctx, rule); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if rule.ID == 0 {
		t.Error("Create should fill in the rule ID")
	}
	if rule.Cooldown != DefaultCooldown {
		t.Errorf("Cooldown = %v, want default %v", rule.Cooldown, DefaultCooldown)
	}

	disabled := testRule("GREENHOUSE-A1")
	disabled.Enabled = false
	if err := repo.Create(ctx, disabled); err != nil {
		t.Fatalf("Create disabled: %v", err)
	}

	other := testRule("OTHER-DEVICE")
	if err := repo.Create(ctx, other); err != nil {
		t.Fatalf("Create other: %v", err)
	}

	rules, err := repo.ListEnabled(ctx, "GREENHOUSE-A1")
	if err != nil {
		t.Fatalf("ListEnabled: %v", err)
	}
	if len(rules) != 1 || rules[0].ID != rule.ID {
		t.Errorf("ListEnabled = %+v, want only the enabled rule for the device", rules)
	}
	if rules[0].LastTriggered != nil {
		t.Error("new rule should have nil LastTriggered")
	}
}

func TestCreateValidation(t *testing.T) {
	repo := NewSQLiteRepository(setupTestDB(t))
	ctx := context.Background()

	tests := []struct {
		name   string
		mutate func(*Rule)
	}{
		{"missing device", func(r *Rule) { r.DeviceID = "" }},
		{"missing parameter", func(r *Rule) { r.Parameter = "" }},
		{"bad operator", func(r *Rule) { r.Operator = "~=" }},
		{"bad severity", func(r *Rule) { r.Severity = "urgent" }},
		{"negative cooldown", func(r *Rule) { r.Cooldown = -time.Second }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rule := testRule("dev-1")
			tt.mutate(rule)
			if err := repo.Create(ctx, rule); !errors.Is(err, ErrInvalidRule) {
				t.Errorf("Create = %v, want ErrInvalidRule", err)
			}
		})
	}
}

func TestClaimTriggerCooldown(t *testing.T) {
	repo := NewSQLiteRepository(setupTestDB(t))
	ctx := context.Background()

	rule := testRule("dev-1")
	rule.Cooldown = 5 * time.Minute
	if err := repo.Create(ctx, rule); err != nil {
		t.Fatalf("Create: %v", err)
	}

	t0 := time.Date(2026, 8, 15, 12, 0, 0, 0, time.UTC)

	// First breach fires.
	claimed, err := repo.ClaimTrigger(ctx, rule.ID, t0)
	if err != nil {
		t.Fatalf("ClaimTrigger: %v", err)
	}
	if !claimed {
		t.Fatal("first claim should win")
	}

	// 100 seconds later: still cooling down.
	claimed, err = repo.ClaimTrigger(ctx, rule.ID, t0.Add(100*time.Second))
	if err != nil {
		t.Fatalf("ClaimTrigger: %v", err)
	}
	if claimed {
		t.Error("claim inside cooldown should lose")
	}

	// 400 seconds later: cooldown elapsed, fires again.
	claimed, err = repo.ClaimTrigger(ctx, rule.ID, t0.Add(400*time.Second))
	if err != nil {
		t.Fatalf("ClaimTrigger: %v", err)
	}
	if !claimed {
		t.Error("claim after cooldown should win")
	}
}

func TestClaimTriggerDisabledRule(t *testing.T) {
	repo := NewSQLiteRepository(setupTestDB(t))
	ctx := context.Background()

	rule := testRule("dev-1")
	if err := repo.Create(ctx, rule); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := repo.SetEnabled(ctx, rule.ID, false); err != nil {
		t.Fatalf("SetEnabled: %v", err)
	}

	claimed, err := repo.ClaimTrigger(ctx, rule.ID, time.Now())
	if err != nil {
		t.Fatalf("ClaimTrigger: %v", err)
	}
	if claimed {
		t.Error("disabled rule should never claim")
	}
}

func TestClaimTriggerConcurrent(t *testing.T) {
	// File-backed DB: :memory: gives each connection its own database.
	db, err := sql.Open("sqlite3", t.TempDir()+"/claims.db?_busy_timeout=5000")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	schema := `
		CREATE TABLE alarm_rules (
			id             INTEGER PRIMARY KEY AUTOINCREMENT,
			device_id      TEXT NOT NULL,
			name           TEXT NOT NULL,
			parameter      TEXT NOT NULL,
			operator       TEXT NOT NULL,
			threshold      REAL NOT NULL,
			severity       TEXT NOT NULL DEFAULT 'medium',
			enabled        INTEGER NOT NULL DEFAULT 1,
			cooldown_ms    INTEGER NOT NULL DEFAULT 300000,
			last_triggered INTEGER,
			created_at     TEXT NOT NULL,
			updated_at     TEXT NOT NULL
		);
	`
	if _, err := db.Exec(schema); err != nil {
		t.Fatalf("schema: %v", err)
	}

	repo := NewSQLiteRepository(db)
	ctx := context.Background()

	rule := testRule("dev-1")
	if err := repo.Create(ctx, rule); err != nil {
		t.Fatalf("Create: %v", err)
	}

	now := time.Now()
	var wg sync.WaitGroup
	var mu sync.Mutex
	wins := 0

	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			claimed, err := repo.ClaimTrigger(ctx, rule.ID, now)
			if err != nil {
				t.Errorf("ClaimTrigger: %v", err)
				return
			}
			if claimed {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if wins != 1 {
		t.Errorf("concurrent claims won %d times, want exactly 1", wins)
	}
}

func TestSetEnabledAndDeleteMissing(t *testing.T) {
	repo := NewSQLiteRepository(setupTestDB(t))
	ctx := context.Background()

	if err := repo.SetEnabled(ctx, 999, true); !errors.Is(err, ErrRuleNotFound) {
		t.Errorf("SetEnabled missing = %v, want ErrRuleNotFound", err)
	}
	if err := repo.Delete(ctx, 999); !errors.Is(err, ErrRuleNotFound) {
		t.Errorf("Delete missing = %v, want ErrRuleNotFound", err)
	}
}
