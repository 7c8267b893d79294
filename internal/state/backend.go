package state

import (
	"context"

	"github.com/picklr-io/picklr-aws/internal/errdefs"
	"github.com/picklr-io/picklr-aws/internal/ir"
)

const (
	BackendLocal = "local"
	BackendS3    = "s3"
)

// Backend stores the state document. Write bumps the serial of the state it
// is given. Lock and Unlock bracket every command that writes.
type Backend interface {
	Read(ctx context.Context) (*ir.State, error)
	Write(ctx context.Context, state *ir.State) error
	Lock(ctx context.Context) error
	Unlock(ctx context.Context) error
}

// NewBackend opens the backend cfg names. Without a backend block, state
// lives in the local file at localPath.
func NewBackend(ctx context.Context, cfg *ir.BackendConfig, localPath string) (Backend, error) {
	if cfg == nil || cfg.Type == "" {
		return NewManager(localPath), nil
	}
	switch cfg.Type {
	case BackendLocal:
		if p := cfg.Config["path"]; p != "" {
			localPath = p
		}
		return NewManager(localPath), nil
	case BackendS3:
		settings, err := parseS3Config(cfg.Config)
		if err != nil {
			return nil, err
		}
		return newS3Backend(ctx, settings)
	}
	return nil, errdefs.Configf("state.backend.type", "%q is not one of [%s, %s]", cfg.Type, BackendLocal, BackendS3)
}
