//go:build !windows

package elevation

import "context"

// platformElevated is nil: no check is needed outside Windows.
var platformElevated func(ctx context.Context) (bool, error)
