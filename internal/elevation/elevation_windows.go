//go:build windows

package elevation

import (
	"context"
	"errors"
	"os/exec"
)

// platformElevated runs `net session`, which only succeeds for members of
// the Administrators group running elevated.
func platformElevated(ctx context.Context) (bool, error) {
	cmd := exec.CommandContext(ctx, "net", "session")
	if err := cmd.Run(); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}
