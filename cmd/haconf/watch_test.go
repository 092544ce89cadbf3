package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/nugget/haconf/internal/pipeline"
)

// syncBuffer is a bytes.Buffer safe for one writer goroutine and a
// polling reader.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func waitFor(t *testing.T, b *syncBuffer, substr string) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if strings.Contains(b.String(), substr) {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %q; output:\n%s", substr, b.String())
}

func TestWatch(t *testing.T) {
	cfg, root := setupTree(t, passingOfficial, map[string]string{"automations.yaml": goodAutomations})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var stdout, stderr syncBuffer
	done := make(chan error, 1)
	go func() {
		done <- run(ctx, &stdout, &stderr, []string{
			"--config", cfg, "watch", "--skip-official", "--debounce", "50ms",
		})
	}()

	waitFor(t, &stdout, "PASS")

	if err := os.WriteFile(filepath.Join(root, "automations.yaml"), []byte(badAutomations), 0o600); err != nil {
		t.Fatal(err)
	}
	waitFor(t, &stdout, "FAIL")

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("watch returned %v, want nil after cancel", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("watch did not stop after cancel")
	}
}

func TestWatch_APIMode(t *testing.T) {
	url := newFakeInstance(t, &fakeInstance{token: "good"})
	cfg, _ := setupTree(t, "  mode: api", map[string]string{"automations.yaml": goodAutomations})
	t.Setenv("HA_URL", url)
	t.Setenv("HA_TOKEN", "good")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var stdout, stderr syncBuffer
	done := make(chan error, 1)
	go func() {
		done <- run(ctx, &stdout, &stderr, []string{"--config", cfg, "watch", "--debounce", "50ms"})
	}()

	waitFor(t, &stdout, "PASS")
	if strings.Contains(stdout.String(), "not reachable") {
		t.Errorf("first run reported the instance unreachable:\n%s", stdout.String())
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("watch returned %v, want nil after cancel", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("watch did not stop after cancel")
	}
}

func TestWatchChecker_ReadyBeforeFirstCheck(t *testing.T) {
	url := newFakeInstance(t, &fakeInstance{token: "good"})
	cfg, root := setupTree(t, "  mode: api", nil)
	t.Setenv("HA_URL", url)
	t.Setenv("HA_TOKEN", "good")

	a := &app{stdout: &bytes.Buffer{}, stderr: &bytes.Buffer{}, configPath: cfg, output: "text"}
	if err := a.setup(); err != nil {
		t.Fatal(err)
	}
	checker, stop, err := a.watchChecker(t.Context(), pipeline.AllStages())
	if err != nil {
		t.Fatalf("watchChecker: %v", err)
	}
	defer stop()

	if _, err := checker.Check(t.Context(), root); err != nil {
		t.Errorf("Check right after start: %v", err)
	}
}

func TestRelevant(t *testing.T) {
	cfg, root := setupTree(t, passingOfficial, nil)
	a := &app{stdout: &bytes.Buffer{}, stderr: &bytes.Buffer{}, configPath: cfg, output: "text"}
	if err := a.setup(); err != nil {
		t.Fatal(err)
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		t.Fatal(err)
	}
	defer w.Close()

	tests := []struct {
		name string
		ev   fsnotify.Event
		want bool
	}{
		{"yaml write", fsnotify.Event{Name: filepath.Join(root, "automations.yaml"), Op: fsnotify.Write}, true},
		{"yml create", fsnotify.Event{Name: filepath.Join(root, "pkg", "x.yml"), Op: fsnotify.Create}, true},
		{"yaml remove", fsnotify.Event{Name: filepath.Join(root, "scripts.yaml"), Op: fsnotify.Remove}, true},
		{"chmod only", fsnotify.Event{Name: filepath.Join(root, "automations.yaml"), Op: fsnotify.Chmod}, false},
		{"not yaml", fsnotify.Event{Name: filepath.Join(root, "notes.txt"), Op: fsnotify.Write}, false},
		{"ignored dir", fsnotify.Event{Name: filepath.Join(root, ".storage", "core.entity_registry"), Op: fsnotify.Write}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := a.relevant(w, root, tt.ev); got != tt.want {
				t.Errorf("relevant(%v) = %v, want %v", tt.ev, got, tt.want)
			}
		})
	}
}
