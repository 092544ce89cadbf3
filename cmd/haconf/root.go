package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/nugget/haconf/internal/buildinfo"
	"github.com/nugget/haconf/internal/config"
	"github.com/nugget/haconf/internal/connwatch"
	"github.com/nugget/haconf/internal/finding"
	"github.com/nugget/haconf/internal/homeassistant"
	"github.com/nugget/haconf/internal/httpkit"
	"github.com/nugget/haconf/internal/official"
)

// app carries what every subcommand needs once the global flags have
// been applied.
type app struct {
	stdout io.Writer
	stderr io.Writer

	configPath string
	output     string // text or json
	logLevel   string
	noColor    bool

	cfg    *config.Config
	logger *slog.Logger
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	a := &app{stdout: stdout, stderr: stderr}

	root := &cobra.Command{
		Use:   "haconf",
		Short: "Validate Home Assistant configuration before it reaches the live system",
		Long: `haconf checks a Home Assistant configuration tree in three stages:
YAML syntax and custom tags, entity/device/area references against a
registry snapshot, and the platform's own configuration check. It exits
non-zero unless every stage passes.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup()
		},
	}
	root.SetOut(stdout)
	root.SetErr(stderr)

	pf := root.PersistentFlags()
	pf.StringVar(&a.configPath, "config", "", "path to config file (default: auto-discover)")
	pf.StringVarP(&a.output, "output", "o", "text", "output format: text or json")
	pf.StringVar(&a.logLevel, "log-level", "", "log level: trace, debug, info, warn, error")
	pf.BoolVar(&a.noColor, "no-color", false, "disable colored output")

	root.AddCommand(
		newValidateCmd(a),
		newSnapshotCmd(a),
		newReloadCmd(a),
		newWatchCmd(a),
		newInitCmd(a),
		newVersionCmd(a),
	)
	return root
}

// setup loads .env and the config file, applies flag overrides, and
// builds the logger. Logs go to stderr; stdout carries reports only.
func (a *app) setup() error {
	if a.output != "text" && a.output != "json" {
		return fmt.Errorf("unknown output format: %q (expected text or json)", a.output)
	}
	if err := config.LoadEnvFile(".env"); err != nil {
		return fmt.Errorf("load .env: %w", err)
	}

	cfg, err := loadConfig(a.configPath)
	if err != nil {
		return err
	}
	if a.logLevel != "" {
		cfg.LogLevel = a.logLevel
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	level, _ := config.ParseLogLevel(cfg.LogLevel)
	a.cfg = cfg
	a.logger = config.NewLogger(a.stderr, level, cfg.LogFormat)
	a.logger.Debug("haconf starting", "build", buildinfo.String(), "root", cfg.Root)
	return nil
}

// loadConfig locates and parses the config file. Without an explicit
// path and with nothing in the search paths, defaults are used.
func loadConfig(explicit string) (*config.Config, error) {
	cfgPath, err := config.FindConfig(explicit)
	if errors.Is(err, config.ErrNotFound) {
		return config.Default(), nil
	}
	if err != nil {
		return nil, err
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, fmt.Errorf("load config %s: %w", cfgPath, err)
	}
	return cfg, nil
}

// haClient builds the REST client for the configured instance.
func (a *app) haClient() (*homeassistant.Client, error) {
	if a.cfg.HomeAssistant.Token == "" {
		return nil, errors.New("no Home Assistant token: set homeassistant.token or HA_TOKEN (e.g. in .env)")
	}
	opts := []httpkit.ClientOption{httpkit.WithUserAgent(buildinfo.UserAgent())}
	if a.cfg.HomeAssistant.InsecureSkipVerify {
		opts = append(opts, httpkit.WithTLSInsecureSkipVerify())
	}
	return homeassistant.NewClient(a.cfg.HomeAssistant.URL, a.cfg.HomeAssistant.Token, a.logger, opts...), nil
}

// checker builds the external validator for official.mode. Mode none
// yields nil, which the pipeline reports as unavailable.
func (a *app) checker() (official.Checker, error) {
	switch a.cfg.Official.Mode {
	case config.ModeCommand:
		return &official.CommandChecker{
			Command: a.cfg.Official.Command,
			Timeout: a.cfg.Official.Timeout,
			Logger:  a.logger,
		}, nil
	case config.ModeAPI:
		client, err := a.haClient()
		if err != nil {
			return nil, err
		}
		return &official.APIChecker{
			Client:  client,
			Backoff: connwatch.DefaultBackoffConfig(),
			Logger:  a.logger,
		}, nil
	}
	return nil, nil
}

// writeReport renders report in the selected output format.
func (a *app) writeReport(report *finding.Report) error {
	if a.output == "json" {
		return report.WriteJSON(a.stdout)
	}
	colorize := !a.noColor && !color.NoColor && a.stdout == io.Writer(os.Stdout)
	return report.WriteText(a.stdout, colorize)
}
