//go:build windows

package procadapter

import (
	"context"
	"errors"
)

// newPTYAdapter has no Windows implementation; Spawn's fallback path (see
// adapter.go) logs and uses the plain adapter instead.
func newPTYAdapter(ctx context.Context, spec Spec, onData OnData, onExit OnExit) (Adapter, error) {
	return nil, errors.New("procadapter: pty not supported on windows")
}
