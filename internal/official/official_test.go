package official

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/nugget/haconf/internal/connwatch"
	"github.com/nugget/haconf/internal/finding"
	"github.com/nugget/haconf/internal/homeassistant"
)

// checkConfigOutput restores the escape codes that check_config prints,
// written as "ESC" in the fixtures below.
func checkConfigOutput(s string) string {
	return strings.ReplaceAll(s, "ESC", "\x1b")
}

// failedOutput follows check_config's layout: a message per "- " item,
// each followed by a dump of the offending configuration.
var failedOutput = checkConfigOutput(`Testing configuration at /config
ESC[1;37mFailed configESC[0m
  ESC[1;36mautomation:ESC[0m ESC[31m
    - Invalid config for 'automation' at automations.yaml, line 12: required key 'triggers' not provided
    - actions: ESC[36m[source /config/automations.yaml:14]ESC[0m
        - action: light.turn_on
      alias: Warning lights
      id: x
ESC[0m
  ESC[1;36mGeneral Errors:ESC[0m ESC[31m
    - Platform error 'light' from integration 'frobnicator' - Integration 'frobnicator' not found.
      Please check your configuration.
ESC[0m
`)

var warningsOutput = checkConfigOutput(`Testing configuration at /config
ESC[1;37mIncorrect configESC[0m
  ESC[1;36mlight:ESC[0m ESC[33m
    - Deprecated option 'white_value' at /config/lights.yaml, line 3
    - name: Porch
      platform: group
ESC[0m
`)

func TestNormalize(t *testing.T) {
	got := Normalize(failedOutput, "/home/me/ha")
	if len(got) != 2 {
		t.Fatalf("got %d findings, want 2: %+v", len(got), got)
	}

	first := got[0]
	if first.Severity != finding.SeverityError || first.Source != finding.SourceOfficial {
		t.Errorf("first = %+v", first)
	}
	if first.File != "automations.yaml" || first.Line != 12 {
		t.Errorf("first location = %s, want automations.yaml:12", first.Location)
	}
	if !strings.HasPrefix(first.Message, "automation: Invalid config") {
		t.Errorf("first message = %q", first.Message)
	}

	second := got[1]
	if second.File != "" {
		t.Errorf("second file = %q, want none", second.File)
	}
	if !strings.HasSuffix(second.Message, "Please check your configuration.") {
		t.Errorf("continuation not joined: %q", second.Message)
	}
	for _, f := range got {
		if strings.Contains(f.Message, "alias") || strings.Contains(f.Message, "\x1b") {
			t.Errorf("configuration dump leaked into %q", f.Message)
		}
	}
}

func TestNormalize_Warnings(t *testing.T) {
	got := Normalize(warningsOutput, "/home/me/ha")
	if len(got) != 1 {
		t.Fatalf("got %d findings, want 1: %+v", len(got), got)
	}
	if got[0].Severity != finding.SeverityWarning {
		t.Errorf("severity = %s, want warning", got[0].Severity)
	}
	if got[0].File != "lights.yaml" || got[0].Line != 3 {
		t.Errorf("location = %s, want lights.yaml:3", got[0].Location)
	}
	if !strings.HasPrefix(got[0].Message, "light: Deprecated option") {
		t.Errorf("message = %q", got[0].Message)
	}
}

func TestNormalize_SuccessfulBlockIgnored(t *testing.T) {
	out := "Testing configuration at /config\nSuccessful config (all)\n  homeassistant:\n    - name: Home\n    - Not a finding\n"
	if got := Normalize(out, "/config"); len(got) != 0 {
		t.Errorf("findings = %+v, want none", got)
	}
}

func TestNormalize_SeeLocation(t *testing.T) {
	root := t.TempDir()
	out := "Incorrect config\n  - expected a dictionary (See " + filepath.Join(root, "packages", "heat.yaml") + ", line 4).\n"
	got := Normalize(out, root)
	if len(got) != 1 {
		t.Fatalf("got %d findings, want 1", len(got))
	}
	if got[0].File != "packages/heat.yaml" || got[0].Line != 4 {
		t.Errorf("location = %s, want packages/heat.yaml:4", got[0].Location)
	}
}

func TestNormalizeLines(t *testing.T) {
	got := NormalizeLines("first problem\n\n  - second at scenes.yaml, line 2\n", finding.SeverityError, "/config")
	if len(got) != 2 {
		t.Fatalf("got %d findings, want 2", len(got))
	}
	if got[1].Message != "second at scenes.yaml, line 2" || got[1].File != "scenes.yaml" {
		t.Errorf("second = %+v", got[1])
	}
}

func TestCommandChecker(t *testing.T) {
	root := t.TempDir()
	script := filepath.Join(root, "report.txt")
	if err := os.WriteFile(script, []byte(failedOutput), 0o644); err != nil {
		t.Fatal(err)
	}

	t.Run("pass", func(t *testing.T) {
		c := &CommandChecker{Command: "echo 'Testing configuration at {root}'; echo 'Successful config (all)'"}
		fs, err := c.Check(context.Background(), root)
		if err != nil {
			t.Fatalf("Check: %v", err)
		}
		if len(fs) != 0 {
			t.Errorf("findings = %+v, want none", fs)
		}
	})

	t.Run("rejected", func(t *testing.T) {
		c := &CommandChecker{Command: "cat report.txt; exit 1"}
		_, err := c.Check(context.Background(), root)
		var rej *finding.RejectedError
		if !errors.As(err, &rej) {
			t.Fatalf("err = %v, want RejectedError", err)
		}
		if errs, _ := finding.Count(rej.Findings); errs != 2 {
			t.Errorf("got %d errors, want 2: %+v", errs, rej.Findings)
		}
	})

	t.Run("warnings only", func(t *testing.T) {
		if err := os.WriteFile(filepath.Join(root, "warnings.txt"), []byte(warningsOutput), 0o644); err != nil {
			t.Fatal(err)
		}
		c := &CommandChecker{Command: "cat warnings.txt; exit 0"}
		fs, err := c.Check(context.Background(), root)
		if err != nil {
			t.Fatalf("Check: %v", err)
		}
		if len(fs) != 1 || fs[0].IsError() {
			t.Errorf("findings = %+v, want one warning", fs)
		}
	})

	t.Run("rejected without items", func(t *testing.T) {
		c := &CommandChecker{Command: "echo 'Traceback (most recent call last):'; echo 'boom' >&2; exit 1"}
		_, err := c.Check(context.Background(), root)
		var rej *finding.RejectedError
		if !errors.As(err, &rej) {
			t.Fatalf("err = %v, want RejectedError", err)
		}
		if len(rej.Findings) != 1 || !strings.Contains(rej.Findings[0].Message, "boom") {
			t.Errorf("findings = %+v, want one carrying the output tail", rej.Findings)
		}
	})

	t.Run("missing command", func(t *testing.T) {
		c := &CommandChecker{Command: "haconf-no-such-binary --config {root}"}
		_, err := c.Check(context.Background(), root)
		var un *finding.UnavailableError
		if !errors.As(err, &un) {
			t.Fatalf("err = %v, want UnavailableError", err)
		}
	})

	t.Run("timeout", func(t *testing.T) {
		c := &CommandChecker{Command: "exec sleep 5", Timeout: 100 * time.Millisecond}
		start := time.Now()
		_, err := c.Check(context.Background(), root)
		var un *finding.UnavailableError
		if !errors.As(err, &un) {
			t.Fatalf("err = %v, want UnavailableError", err)
		}
		if time.Since(start) > 4*time.Second {
			t.Errorf("timeout not enforced, took %s", time.Since(start))
		}
	})

	t.Run("root is quoted", func(t *testing.T) {
		odd := filepath.Join(t.TempDir(), "it's here")
		if err := os.Mkdir(odd, 0o755); err != nil {
			t.Fatal(err)
		}
		c := &CommandChecker{Command: "test -d {root}"}
		if _, err := c.Check(context.Background(), odd); err != nil {
			t.Errorf("Check with quoted root: %v", err)
		}
	})
}

func newAPIChecker(t *testing.T, h http.HandlerFunc) *APIChecker {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return &APIChecker{
		Client:  homeassistant.NewClient(srv.URL, "token", nil),
		Backoff: connwatch.BackoffConfig{InitialDelay: time.Millisecond, MaxRetries: 1},
	}
}

func checkHandler(res homeassistant.CheckResult) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/":
			json.NewEncoder(w).Encode(homeassistant.APIStatus{Message: "API running."})
		case "/api/config":
			json.NewEncoder(w).Encode(homeassistant.Config{Version: "2025.6.0", ConfigDir: "/srv/homeassistant"})
		case "/api/config/core/check_config":
			json.NewEncoder(w).Encode(res)
		default:
			http.NotFound(w, r)
		}
	}
}

func TestAPIChecker(t *testing.T) {
	t.Run("valid", func(t *testing.T) {
		a := newAPIChecker(t, checkHandler(homeassistant.CheckResult{Result: "valid", Warnings: "old option"}))
		fs, err := a.Check(context.Background(), "/config")
		if err != nil {
			t.Fatalf("Check: %v", err)
		}
		if len(fs) != 1 || fs[0].Severity != finding.SeverityWarning {
			t.Errorf("findings = %+v, want one warning", fs)
		}
	})

	t.Run("invalid", func(t *testing.T) {
		a := newAPIChecker(t, checkHandler(homeassistant.CheckResult{
			Result: "invalid",
			Errors: "Invalid config for 'automation' at automations.yaml, line 3: bad\nIntegration error: frobnicator",
		}))
		_, err := a.Check(context.Background(), "/config")
		var rej *finding.RejectedError
		if !errors.As(err, &rej) {
			t.Fatalf("err = %v, want RejectedError", err)
		}
		if len(rej.Findings) != 2 {
			t.Errorf("findings = %+v, want 2", rej.Findings)
		}
	})

	t.Run("paths relative to instance config dir", func(t *testing.T) {
		a := newAPIChecker(t, checkHandler(homeassistant.CheckResult{
			Result: "invalid",
			Errors: "Invalid config for 'script' at /srv/homeassistant/scripts/morning.yaml, line 7: bad",
		}))
		_, err := a.Check(context.Background(), "/home/me/ha")
		var rej *finding.RejectedError
		if !errors.As(err, &rej) {
			t.Fatalf("err = %v, want RejectedError", err)
		}
		if len(rej.Findings) != 1 || rej.Findings[0].File != "scripts/morning.yaml" || rej.Findings[0].Line != 7 {
			t.Errorf("findings = %+v, want scripts/morning.yaml:7", rej.Findings)
		}
	})

	t.Run("unreachable", func(t *testing.T) {
		a := newAPIChecker(t, func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
		})
		_, err := a.Check(context.Background(), "/config")
		var un *finding.UnavailableError
		if !errors.As(err, &un) {
			t.Fatalf("err = %v, want UnavailableError", err)
		}
	})

	t.Run("watcher down", func(t *testing.T) {
		a := newAPIChecker(t, checkHandler(homeassistant.CheckResult{Result: "valid"}))
		down := errors.New("connection refused")
		a.Client.SetWatcher(watcherState{checked: time.Now(), err: down})
		_, err := a.Check(context.Background(), "/config")
		var un *finding.UnavailableError
		if !errors.As(err, &un) {
			t.Fatalf("err = %v, want UnavailableError", err)
		}
		if !errors.Is(err, down) {
			t.Errorf("err = %v, want it to carry the watcher error", err)
		}
	})

	t.Run("watcher not yet checked", func(t *testing.T) {
		a := newAPIChecker(t, checkHandler(homeassistant.CheckResult{Result: "valid"}))
		a.Client.SetWatcher(watcherState{})
		if _, err := a.Check(context.Background(), "/config"); err != nil {
			t.Errorf("Check before the watcher's first check: %v", err)
		}
	})
}

// watcherState is a fixed connection watcher. A zero checked time means
// the watcher has not checked yet.
type watcherState struct {
	ready   bool
	checked time.Time
	err     error
}

func (w watcherState) IsReady() bool        { return w.ready }
func (w watcherState) LastCheck() time.Time { return w.checked }
func (w watcherState) LastError() error     { return w.err }
