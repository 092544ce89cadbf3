package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

// reloadTimeout bounds each reload call. A reload that hangs usually
// means the pushed configuration is broken.
const reloadTimeout = 30 * time.Second

// reloadServices are called in order after a push.
var reloadServices = []struct {
	name, domain, service string
}{
	{"core configuration", "homeassistant", "reload_core_config"},
	{"automations", "automation", "reload"},
	{"scripts", "script", "reload"},
	{"scenes", "scene", "reload"},
}

func newReloadCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "reload",
		Short: "Ask the live instance to reload core config, automations, scripts and scenes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.reload(cmd.Context())
		},
	}
}

// reload calls every reload service, continuing past failures, and
// returns an error if any of them failed.
func (a *app) reload(ctx context.Context) error {
	client, err := a.haClient()
	if err != nil {
		return err
	}

	failed := 0
	for _, r := range reloadServices {
		callCtx, cancel := context.WithTimeout(ctx, reloadTimeout)
		err := client.CallService(callCtx, r.domain, r.service, nil)
		cancel()
		if err != nil {
			failed++
			a.logger.Warn("reload failed", "service", r.domain+"."+r.service, "error", err)
			fmt.Fprintf(a.stdout, "  ✗ %s: %v\n", r.name, err)
			continue
		}
		fmt.Fprintf(a.stdout, "  ✓ %s reloaded\n", r.name)
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d reloads failed on %s", failed, len(reloadServices), client.BaseURL())
	}
	return nil
}
