package elevation

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shinji-kodama/devserve/internal/model"
)

type recordingReporter struct {
	warnings []string
}

func (r *recordingReporter) Warn(msg string) {
	r.warnings = append(r.warnings, msg)
}

func fixed(elevated bool, err error) func(context.Context) (bool, error) {
	return func(context.Context) (bool, error) { return elevated, err }
}

func TestCheck_NoPlatformCheck(t *testing.T) {
	r := &recordingReporter{}
	c := &Checker{Require: true}

	require.NoError(t, c.Check(context.Background(), r))
	assert.Empty(t, r.warnings)
}

func TestCheck_Elevated(t *testing.T) {
	r := &recordingReporter{}
	c := &Checker{elevated: fixed(true, nil)}

	require.NoError(t, c.Check(context.Background(), r))
	assert.Empty(t, r.warnings)
}

// TestCheck_NotElevatedWarns verifies the default policy: a warning, then
// proceed.
func TestCheck_NotElevatedWarns(t *testing.T) {
	r := &recordingReporter{}
	c := &Checker{elevated: fixed(false, nil)}

	require.NoError(t, c.Check(context.Background(), r))
	require.Len(t, r.warnings, 1)
	assert.Contains(t, r.warnings[0], "without elevated rights")
}

func TestCheck_NotElevatedRequired(t *testing.T) {
	r := &recordingReporter{}
	c := &Checker{Require: true, elevated: fixed(false, nil)}

	err := c.Check(context.Background(), r)
	assert.True(t, errors.Is(err, model.ErrElevationDenied))
	assert.Equal(t, model.ExitElevationDenied, model.ExitCodeFor(err))
	assert.Empty(t, r.warnings)
}

func TestCheck_ProbeFailure(t *testing.T) {
	c := &Checker{elevated: fixed(false, errors.New("net: not found"))}

	err := c.Check(context.Background(), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "checking elevation")
}

func TestNewChecker_Platform(t *testing.T) {
	c := NewChecker(false)
	assert.False(t, c.Require)
	// On non-Windows platforms the check is a no-op and must pass.
	if c.elevated == nil {
		assert.NoError(t, c.Check(context.Background(), nil))
	}
}
