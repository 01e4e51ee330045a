package watch

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestWatchCacheRootNotifiesOnLockCreate(t *testing.T) {
	dir := t.TempDir()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	notified := make(chan string, 1)
	if err := WatchCacheRoot(ctx, dir, nil, func(name string) {
		select {
		case notified <- name:
		default:
		}
	}); err != nil {
		t.Fatalf("WatchCacheRoot: %v", err)
	}

	lockPath := filepath.Join(dir, "repo.lock")
	if err := os.WriteFile(lockPath, nil, 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	select {
	case name := <-notified:
		if name != lockPath {
			t.Fatalf("notified path = %q, want %q", name, lockPath)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("WatchCacheRoot did not notify on lock file creation")
	}
}

func TestHubBroadcastDropsWhenNoClients(t *testing.T) {
	h := NewHub(nil)
	// Must not panic or block with zero registered clients.
	h.broadcast(Message{Repo: "x", Phase: "checkout"})
}
