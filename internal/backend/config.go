package backend

import (
	"fmt"

	"organizer/internal/config"
	"organizer/internal/services"
)

// FromAppConfig converts the application config to backend config
func FromAppConfig(appConfig *config.Config) (Config, error) {
	if appConfig == nil {
		return Config{}, fmt.Errorf("app config is nil")
	}

	gatewayType := GatewayType(appConfig.GatewayBackend)
	if !gatewayType.IsValid() {
		return Config{}, fmt.Errorf("invalid gateway backend in config: %s", appConfig.GatewayBackend)
	}

	return Config{
		Gateway: gatewayType,

		GatewayURL:     appConfig.GatewayURL,
		GatewayToken:   appConfig.GatewayToken,
		GatewayTimeout: appConfig.GatewayTimeout,
		ListCacheTTL:   appConfig.ListCacheTTL,
		ListCacheSize:  appConfig.ListCacheSize,

		DataDirectory: appConfig.DataDir,

		SQLiteDBPath: appConfig.SQLiteDBPath,
		AMQPURL:      appConfig.AMQPURL,
		AMQPExchange: appConfig.AMQPExchange,
		AMQPQueue:    appConfig.AMQPQueue,

		Session: services.SessionConfig{
			DebounceWindow:   appConfig.DebounceWindow,
			SavedDisplay:     appConfig.SavedDisplay,
			FlushConcurrency: appConfig.FlushConcurrency,
		},
	}, nil
}

// Validate validates the backend configuration
func (c Config) Validate() error {
	if !c.Gateway.IsValid() {
		return fmt.Errorf("invalid gateway type: %s", c.Gateway)
	}

	switch c.Gateway {
	case RESTGateway:
		if c.GatewayURL == "" {
			return fmt.Errorf("gateway URL is required for rest gateway")
		}
	case MemoryGateway:
		// DataDirectory defaults to "data" if empty
	}

	if c.AMQPURL != "" && c.AMQPExchange == "" {
		return fmt.Errorf("AMQP exchange is required when an AMQP URL is set")
	}
	return nil
}

// GatewayTypes returns all valid gateway types
func GatewayTypes() []GatewayType {
	return []GatewayType{RESTGateway, MemoryGateway}
}
