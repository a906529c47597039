package backend_test

import (
	"path/filepath"
	"sync"
	"testing"
	"time"

	"miovo-bridge/internal/database"
	"miovo-bridge/internal/storage"
	"miovo-bridge/pkg/api"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func setupStore(t *testing.T) (*gorm.DB, *storage.LocalProvider) {
	t.Helper()

	db, err := database.NewDatabase(filepath.Join(t.TempDir(), "bridge.db"))
	require.NoError(t, err)
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})

	store, err := storage.NewLocalProvider(t.TempDir())
	require.NoError(t, err)

	return db, store
}

// inbox collects pushed messages so tests can wait on them.
type inbox struct {
	mu       sync.Mutex
	messages []api.Message
	arrived  chan struct{}
}

func newInbox() *inbox {
	return &inbox{arrived: make(chan struct{}, 100)}
}

func (i *inbox) notify(msg api.Message) {
	i.mu.Lock()
	i.messages = append(i.messages, msg)
	i.mu.Unlock()
	i.arrived <- struct{}{}
}

func (i *inbox) snapshot() []api.Message {
	i.mu.Lock()
	defer i.mu.Unlock()
	return append([]api.Message(nil), i.messages...)
}

// waitFor blocks until n messages have been received in total.
func (i *inbox) waitFor(t *testing.T, n int, timeout time.Duration) []api.Message {
	t.Helper()
	deadline := time.After(timeout)
	for len(i.snapshot()) < n {
		select {
		case <-i.arrived:
		case <-deadline:
			t.Fatalf("timed out waiting for %d messages, got %d", n, len(i.snapshot()))
		}
	}
	return i.snapshot()
}
