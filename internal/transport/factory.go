package transport

import (
	"fmt"
	"path/filepath"

	"github.com/orlunix/cam/internal/model"
)

// Factory builds Transport instances from a MachineConfig, rooting local
// session sockets under dataDir/sockets.
type Factory struct {
	dataDir string
}

// NewFactory builds a Factory that stores local transport sockets under
// dataDir.
func NewFactory(dataDir string) *Factory {
	return &Factory{dataDir: dataDir}
}

// Create builds a Transport for cfg, or an error if the transport type is
// unknown or its required fields are missing.
func (f *Factory) Create(cfg model.MachineConfig) (Transport, error) {
	switch cfg.Type {
	case "", model.TransportLocal:
		return NewLocal(filepath.Join(f.dataDir, "sockets"), cfg.EnvSetup)

	case model.TransportSSH:
		return NewSSH(cfg.Host, cfg.User, cfg.Port, cfg.KeyFile, cfg.EnvSetup)

	case model.TransportDocker:
		return NewDocker(cfg.Image, cfg.Volumes)

	case model.TransportWebSocket:
		return NewWSClient(cfg.Host, cfg.AgentPort, cfg.AuthToken)

	default:
		return nil, fmt.Errorf("unknown transport type %q", cfg.Type)
	}
}
