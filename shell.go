package taski

import (
	"context"
	"fmt"
	"os/exec"

	"github.com/google/shlex"
)

// Shell is the supplemented convenience helper SPEC_FULL.md §5 adds: a
// task can spawn a real OS subprocess whose stdout/stderr land in the same
// captured pipe as its own direct writes (spec.md §6's "(c) spawning a
// subprocess via the captured I/O path" legal suspension point). Command
// line splitting uses google/shlex, the same shell-word-splitting library
// the wider example pack pulls in for CLI argument handling, rather than
// a hand-rolled space-split that would mishandle quoting.
func (rc *RunCtx) Shell(ctx context.Context, command string) error {
	args, err := shlex.Split(command)
	if err != nil {
		return fmt.Errorf("shell: split %q: %w", command, err)
	}
	if len(args) == 0 {
		return fmt.Errorf("shell: empty command")
	}

	cmd := exec.CommandContext(ctx, args[0], args[1:]...)
	cmd.Stdout = rc.Stdout()
	cmd.Stderr = rc.Stderr()

	if err := cmd.Run(); err != nil {
		return fmt.Errorf("shell: %q: %w", command, err)
	}
	return nil
}
