package readstate

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

var postgresIntegrationCounter uint64

func TestPostgresIntegrationStoreRoundTrip(t *testing.T) {
	dsn := strings.TrimSpace(os.Getenv("SUPPORTDESK_TEST_POSTGRES_DSN"))
	if dsn == "" {
		t.Skip("SUPPORTDESK_TEST_POSTGRES_DSN is not set")
	}
	store, err := NewPostgresStore(dsn)
	if err != nil {
		t.Fatalf("new postgres store: %v", err)
	}
	store.tableName = fmt.Sprintf("supportdesk_kv_it_%d_%d", time.Now().UnixNano(), atomic.AddUint64(&postgresIntegrationCounter, 1))
	t.Cleanup(func() {
		_ = store.Close()
		db, err := sql.Open("postgres", dsn)
		if err != nil {
			return
		}
		defer db.Close()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_, _ = db.ExecContext(ctx, "DROP TABLE IF EXISTS "+quoteIdentifier(store.tableName))
	})

	if _, ok, err := store.Get(DefaultKey); err != nil || ok {
		t.Fatalf("expected empty initial value, ok=%v err=%v", ok, err)
	}
	tracker, err := NewTracker(store, TrackerOptions{})
	if err != nil {
		t.Fatalf("new tracker: %v", err)
	}
	at := time.Date(2026, 10, 18, 8, 0, 0, 0, time.UTC)
	if _, err := tracker.MarkRead("c1", at); err != nil {
		t.Fatalf("mark read: %v", err)
	}
	reloaded, err := NewTracker(store, TrackerOptions{})
	if err != nil {
		t.Fatalf("reload tracker: %v", err)
	}
	if got, ok := reloaded.LastRead("c1"); !ok || !got.Equal(at) {
		t.Fatalf("expected %s, got %s ok=%v", at, got, ok)
	}
}
