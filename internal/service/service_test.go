package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"tempmail/inbox/internal/config"
	"tempmail/inbox/internal/domain"
	"tempmail/inbox/internal/monitoring"
	"tempmail/inbox/internal/storage/memory"
)

var base = time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

// fakeClock 测试用的可调时钟
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type fixture struct {
	store    *memory.Store
	clock    *fakeClock
	metrics  *monitoring.Metrics
	inboxes  *InboxService
	messages *MessageService
	ingest   *IngestService
	reaper   *Reaper
}

func testMailboxConfig() config.MailboxConfig {
	return config.MailboxConfig{
		Domains:         []string{"tempmail.local", "other.test"},
		InitialTTL:      time.Hour,
		MaxTTL:          2 * time.Hour,
		ExtendStep:      time.Hour,
		TrashRetention:  time.Hour,
		CleanupInterval: 5 * time.Minute,
	}
}

func newFixture(t *testing.T, notifier Notifier) *fixture {
	t.Helper()
	store := memory.NewStore()
	clock := &fakeClock{now: base}
	metrics := monitoring.NewMetrics()
	cfg := testMailboxConfig()

	f := &fixture{
		store:    store,
		clock:    clock,
		metrics:  metrics,
		inboxes:  NewInboxService(store, cfg, metrics, nil),
		messages: NewMessageService(store, metrics, nil),
		reaper:   NewReaper(store, cfg, metrics, nil),
	}
	f.ingest = NewIngestService(f.inboxes, store, notifier, metrics, nil)

	f.inboxes.SetClock(clock.Now)
	f.messages.SetClock(clock.Now)
	f.ingest.SetClock(clock.Now)
	f.reaper.SetClock(clock.Now)
	return f
}

func (f *fixture) mustIngest(t *testing.T, input IngestInput) *domain.Message {
	t.Helper()
	msg, err := f.ingest.Ingest(context.Background(), input)
	require.NoError(t, err)
	return msg
}
