package backend

import (
	"context"
	"time"

	"organizer/internal/amqp"
	"organizer/internal/gateway"
	"organizer/internal/services"
	"organizer/internal/storage"
)

// CleanupFunc releases everything a Result holds.
type CleanupFunc func(ctx context.Context) error

// Result is a wired session plus the pieces it was built from. Snapshots
// and AMQP are nil when disabled or unavailable.
type Result struct {
	Session   *services.Session
	Gateway   gateway.Gateway
	Snapshots *storage.SQLiteRepository
	AMQP      *amqp.Client
	Cleanup   CleanupFunc
}

// Factory builds a Result from configuration.
type Factory interface {
	Create(ctx context.Context, config Config) (*Result, error)
}

// Config holds configuration for wiring a session
type Config struct {
	Gateway GatewayType

	// REST specific
	GatewayURL     string
	GatewayToken   string
	GatewayTimeout time.Duration
	ListCacheTTL   time.Duration
	ListCacheSize  int

	// Memory specific
	DataDirectory string

	// Optional side stores
	SQLiteDBPath string
	AMQPURL      string
	AMQPExchange string
	AMQPQueue    string

	Session services.SessionConfig
}

// GatewayType selects the gateway adapter
type GatewayType string

const (
	RESTGateway   GatewayType = "rest"
	MemoryGateway GatewayType = "memory"
)

// String implements fmt.Stringer
func (gt GatewayType) String() string {
	return string(gt)
}

// IsValid returns true if the gateway type is valid
func (gt GatewayType) IsValid() bool {
	switch gt {
	case RESTGateway, MemoryGateway:
		return true
	default:
		return false
	}
}
