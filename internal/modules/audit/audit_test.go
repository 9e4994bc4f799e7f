package audit

import (
	"context"
	"testing"
	"time"

	"keywarden/internal/storage"

	"go.uber.org/zap"
)

func TestLogWritesAndNotifies(t *testing.T) {
	store, err := storage.New(":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer store.Close()
	if err := store.Migrate(); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	logger := NewLogger(store, zap.NewNop())
	var notified []storage.AuditLog
	logger.SetNotifier(func(ctx context.Context, entry storage.AuditLog) {
		notified = append(notified, entry)
	})

	ctx := context.Background()
	logger.Log(ctx, LevelCrit, "g1", "u1", "moderation_ban", "target=300 reason=spam")

	if len(notified) != 1 {
		t.Fatalf("expected 1 notification, got %d", len(notified))
	}
	if notified[0].Level != LevelCrit || notified[0].Event != "moderation_ban" {
		t.Fatalf("unexpected notified entry: %+v", notified[0])
	}

	logs, err := store.ListAuditLogs(ctx, "g1", time.Now().Add(-time.Minute))
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(logs) != 1 || logs[0].Details != "target=300 reason=spam" {
		t.Fatalf("unexpected stored logs: %+v", logs)
	}
}
