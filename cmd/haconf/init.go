package main

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/nugget/haconf/examples"
	"github.com/nugget/haconf/internal/config"
)

func newInitCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "init [dir]",
		Short: "Write an example haconf.yaml and .env into dir (default: .)",
		Args:  cobra.MaximumNArgs(1),
		// init must work before any config exists.
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error { return nil },
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := "."
			if len(args) > 0 {
				dir = args[0]
			}
			return runInit(a.stdout, dir)
		},
	}
}

// runInit writes the example files into dir. Existing files are never
// overwritten. The .env file holds an access token and is created 0600.
func runInit(w io.Writer, dir string) error {
	fmt.Fprintf(w, "Initializing haconf in %s\n", dir)

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create %s: %w", dir, err)
	}

	if err := writeIfMissing(w, filepath.Join(dir, config.FileName), examples.ConfigYAML, 0o644); err != nil {
		return err
	}
	if err := writeIfMissing(w, filepath.Join(dir, ".env"), examples.EnvFile, 0o600); err != nil {
		return err
	}

	fmt.Fprintln(w)
	fmt.Fprintln(w, "Set HA_TOKEN in .env, then run \"haconf snapshot pull\" and \"haconf validate\".")
	return nil
}

// writeIfMissing creates path with content and mode unless it already
// exists, reporting what it did to w.
func writeIfMissing(w io.Writer, path string, content []byte, mode os.FileMode) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, mode)
	if errors.Is(err, fs.ErrExist) {
		fmt.Fprintf(w, "  - %s (exists, skipping)\n", path)
		return nil
	}
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	if _, err := f.Write(content); err != nil {
		f.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close %s: %w", path, err)
	}
	fmt.Fprintf(w, "  ✓ %s\n", path)
	return nil
}
