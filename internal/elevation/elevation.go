// Package elevation checks whether the process runs with the privileges the
// platform expects for serving.
//
// Only Windows needs a check: without an elevated shell, build steps that
// create symlinks fail and the user should be told before serving starts.
// Other platforms always pass.
package elevation

import (
	"context"
	"fmt"

	"github.com/shinji-kodama/devserve/internal/model"
)

// Reporter receives user-facing warnings.
type Reporter interface {
	Warn(msg string)
}

// Checker performs the platform privilege check.
type Checker struct {
	// Require turns a missing elevation from a warning into
	// model.ErrElevationDenied.
	Require bool

	// elevated reports whether the process is elevated. Nil means the
	// platform needs no check.
	elevated func(ctx context.Context) (bool, error)
}

// NewChecker returns a Checker for the current platform.
func NewChecker(require bool) *Checker {
	return &Checker{Require: require, elevated: platformElevated}
}

// Check resolves when it is safe to proceed. When the process is not
// elevated it warns through r, or fails if Require is set.
func (c *Checker) Check(ctx context.Context, r Reporter) error {
	if c.elevated == nil {
		return nil
	}

	ok, err := c.elevated(ctx)
	if err != nil {
		return fmt.Errorf("checking elevation: %w", err)
	}
	if ok {
		return nil
	}

	if c.Require {
		return model.NewSilentError(model.ExitElevationDenied,
			"devserve must run in an elevated (Administrator) shell", model.ErrElevationDenied)
	}
	if r != nil {
		r.Warn(notElevatedWarning)
	}
	return nil
}

const notElevatedWarning = "Running without elevated rights. " +
	"Running devserve with elevated rights (Run As Administrator) significantly improves build performance."
