package gateway

import (
	"fmt"

	"loft-go/internal/config"
	"loft-go/internal/loft"
)

// NewGatewayFromConfig creates a Gateway implementation based on the gateway config type.
func NewGatewayFromConfig(cfg config.GatewayConfig, seeder loft.Seeder, clock loft.Clock, idgen loft.IDGenerator, appVersion string) (loft.Gateway, error) {
	switch cfg.Type {
	case "", "filesystem":
		return NewFileSystemGateway(seeder, clock, idgen, appVersion), nil
	case "memory":
		return NewMemoryGateway(seeder, clock, idgen, appVersion), nil
	default:
		return nil, fmt.Errorf("unknown gateway type: %s", cfg.Type)
	}
}
