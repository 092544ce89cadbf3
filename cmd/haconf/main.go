// Haconf validates a Home Assistant configuration tree before it is
// pushed to a live instance.
//
// It checks YAML structure and the platform's custom tags, resolves
// entity, device and area references against a registry snapshot, and
// runs the platform's own configuration check. The exit status is zero
// only when every check passes, so haconf can gate a push script.
//
// Usage:
//
//	haconf validate [--root DIR] [--only STAGES] [--skip-official]
//	haconf validate syntax|references|official
//	haconf snapshot pull|info
//	haconf reload
//	haconf watch
//	haconf init [dir]
//	haconf version
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/nugget/haconf/internal/pipeline"
)

// Exit statuses.
const (
	exitFailed = 1 // validation ran and found errors
	exitError  = 2 // haconf itself could not do its job
)

// main constructs the OS-level environment and delegates to [run], so
// that the command surface can be driven from tests.
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := run(ctx, os.Stdout, os.Stderr, os.Args[1:])
	stop()
	os.Exit(exitCode(os.Stderr, err))
}

// exitCode prints err and maps it to the process exit status. A failed
// verdict has already been reported in full, so it is not printed again.
func exitCode(stderr io.Writer, err error) int {
	if err == nil {
		return 0
	}
	var failed *pipeline.FailedError
	if errors.As(err, &failed) {
		return exitFailed
	}
	fmt.Fprintf(stderr, "haconf: %s\n", err)
	return exitError
}

// run is the real entry point. All OS-level dependencies are injected:
// ctx bounds the process lifetime, stdout receives reports, stderr
// receives logs and errors, and args is os.Args[1:].
func run(ctx context.Context, stdout, stderr io.Writer, args []string) error {
	root := newRootCmd(stdout, stderr)
	root.SetArgs(args)
	return root.ExecuteContext(ctx)
}
