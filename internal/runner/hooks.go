package runner

import (
	"context"
	"fmt"
	"os"
	"os/exec"

	"github.com/mhatzl/embedded-runner/internal/config"
	"github.com/mhatzl/embedded-runner/internal/logging"
)

// runHook executes a pre/post hook with the binary path appended to its
// configured arguments, mirroring how flashing helpers expect to be
// invoked. Output streams through to the user. A nil hook is a no-op.
func runHook(ctx context.Context, hook *config.Hook, stage, binary, runID string) error {
	if hook == nil {
		return nil
	}

	args := append(append([]string(nil), hook.Args...), binary)
	cmd := exec.CommandContext(ctx, hook.Name, args...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	cmd.Env = append(os.Environ(),
		"EMBEDDED_RUNNER_RUN_ID="+runID,
		"EMBEDDED_RUNNER_BINARY="+binary,
	)

	logging.Info("running hook", "stage", stage, "command", hook.Name)
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("runner: %s hook %q: %w", stage, hook.Name, err)
	}
	return nil
}
