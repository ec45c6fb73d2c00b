package watcher

import (
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"
)

func TestWatcherFiresOnNewSubdirectory(t *testing.T) {
	dir := t.TempDir()
	var reloads int32

	w := New(dir, func() { atomic.AddInt32(&reloads, 1) }, WithDebounce(20*time.Millisecond))
	if err := w.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer w.Stop()

	if err := os.Mkdir(filepath.Join(dir, "new-plugin"), 0o755); err != nil {
		t.Fatalf("Mkdir: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if atomic.LoadInt32(&reloads) > 0 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("expected reload to fire after new subdirectory appeared")
}

func TestWatcherCoalescesBurstIntoOneReload(t *testing.T) {
	dir := t.TempDir()
	var reloads int32

	w := New(dir, func() { atomic.AddInt32(&reloads, 1) }, WithDebounce(50*time.Millisecond))
	if err := w.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer w.Stop()

	for i := 0; i < 5; i++ {
		_ = os.Mkdir(filepath.Join(dir, "plugin-"+string(rune('a'+i))), 0o755)
		time.Sleep(5 * time.Millisecond)
	}

	time.Sleep(500 * time.Millisecond)
	if got := atomic.LoadInt32(&reloads); got != 1 {
		t.Fatalf("expected exactly one coalesced reload, got %d", got)
	}
}

func TestStartCreatesMissingDirectory(t *testing.T) {
	base := t.TempDir()
	dir := filepath.Join(base, "does-not-exist-yet")

	w := New(dir, func() {})
	if err := w.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer w.Stop()

	if _, err := os.Stat(dir); err != nil {
		t.Fatalf("expected directory to be created: %v", err)
	}
}

func TestStopAfterStartReturnsNoError(t *testing.T) {
	dir := t.TempDir()
	w := New(dir, func() {})
	if err := w.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := w.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
}
