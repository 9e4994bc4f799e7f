package storage

import (
	"context"
	"testing"
	"time"
)

func TestAuditLogRoundTrip(t *testing.T) {
	store, err := New(":memory:")
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	defer store.Close()

	if err := store.Migrate(); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	ctx := context.Background()
	entry := AuditLog{
		GuildID:   "g1",
		UserID:    "u1",
		Level:     "WARN",
		Event:     "moderation_kick",
		Details:   "target=u2 reason=spam",
		CreatedAt: time.Now(),
	}
	if err := store.AddAuditLog(ctx, entry); err != nil {
		t.Fatalf("add audit log: %v", err)
	}

	logs, err := store.ListAuditLogs(ctx, "g1", time.Now().Add(-time.Hour))
	if err != nil {
		t.Fatalf("list audit logs: %v", err)
	}
	if len(logs) != 1 {
		t.Fatalf("expected 1 log, got %d", len(logs))
	}
	if logs[0].Event != "moderation_kick" || logs[0].UserID != "u1" {
		t.Fatalf("unexpected log: %+v", logs[0])
	}
}

func TestCleanupAuditLogs(t *testing.T) {
	store, err := New(":memory:")
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	defer store.Close()

	if err := store.Migrate(); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	ctx := context.Background()
	old := AuditLog{GuildID: "g1", UserID: "u1", Level: "INFO", Event: "old", CreatedAt: time.Now().AddDate(0, 0, -40)}
	recent := AuditLog{GuildID: "g1", UserID: "u1", Level: "INFO", Event: "recent", CreatedAt: time.Now()}
	if err := store.AddAuditLog(ctx, old); err != nil {
		t.Fatalf("add old: %v", err)
	}
	if err := store.AddAuditLog(ctx, recent); err != nil {
		t.Fatalf("add recent: %v", err)
	}

	if err := store.CleanupAuditLogs(ctx, 30); err != nil {
		t.Fatalf("cleanup: %v", err)
	}

	logs, err := store.ListAuditLogs(ctx, "g1", time.Now().AddDate(0, 0, -60))
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(logs) != 1 || logs[0].Event != "recent" {
		t.Fatalf("expected only the recent row to survive, got %+v", logs)
	}
}
