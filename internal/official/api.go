package official

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/nugget/haconf/internal/connwatch"
	"github.com/nugget/haconf/internal/finding"
	"github.com/nugget/haconf/internal/homeassistant"
)

// APIChecker asks a live instance to check the configuration files it
// has on disk. The local tree must already have been pushed for the
// result to mean anything.
type APIChecker struct {
	Client  *homeassistant.Client
	Backoff connwatch.BackoffConfig
	Logger  *slog.Logger
}

// Name implements Checker.
func (a *APIChecker) Name() string {
	return "api"
}

// Check implements Checker. root is used only to relativize file paths
// in the diagnostics.
func (a *APIChecker) Check(ctx context.Context, root string) ([]finding.Finding, error) {
	logger := loggerOrDefault(a.Logger)
	if a.Client == nil {
		return nil, &finding.UnavailableError{Checker: a.Name(), Err: errors.New("no Home Assistant client configured")}
	}
	if !a.Client.IsReady() {
		err := errors.New("instance is not reachable")
		if last := a.Client.LastError(); last != nil {
			err = fmt.Errorf("instance is not reachable: %w", last)
		}
		return nil, &finding.UnavailableError{Checker: a.Name(), Err: err}
	}

	if err := connwatch.WaitReady(ctx, "homeassistant", a.Client.Ping, a.Backoff, logger); err != nil {
		return nil, &finding.UnavailableError{Checker: a.Name(), Err: err}
	}

	// Diagnostics name files as the instance sees them.
	dirs := []string{root}
	if cfg, err := a.Client.GetConfig(ctx); err == nil && cfg.ConfigDir != "" {
		dirs = append(dirs, cfg.ConfigDir)
	} else {
		logger.Debug("instance config directory unknown, assuming default", "error", err, "dir", RemoteConfigDir)
		dirs = append(dirs, RemoteConfigDir)
	}

	res, err := a.Client.CheckConfig(ctx)
	if err != nil {
		return nil, &finding.UnavailableError{Checker: a.Name(), Err: err}
	}
	logger.Debug("configuration check result", "url", a.Client.BaseURL(), "result", res.Result)

	fs := append(
		NormalizeLines(res.Errors, finding.SeverityError, dirs...),
		NormalizeLines(res.Warnings, finding.SeverityWarning, dirs...)...,
	)
	if !res.Valid() {
		return nil, rejected(a.Name(), fs, res.Errors)
	}
	finding.Sort(fs)
	return fs, nil
}
