package classifier

import (
	"fmt"

	"github.com/feichai0017/timechange/pkg/logger"
)

type Backend string

const (
	BackendLocal  Backend = "local"
	BackendRemote Backend = "remote"
)

// Config selects and configures the training backend.
type Config struct {
	Backend Backend      `yaml:"backend"`
	Remote  RemoteConfig `yaml:"remote"`
}

// NewAdapter creates the adapter named by cfg.Backend. An empty backend
// means local.
func NewAdapter(cfg Config, log logger.Logger) (Adapter, error) {
	switch cfg.Backend {
	case "", BackendLocal:
		return NewLocalAdapter(log), nil
	case BackendRemote:
		return NewRemoteAdapter(cfg.Remote, log)
	default:
		return nil, fmt.Errorf("unsupported classifier backend: %s", cfg.Backend)
	}
}
