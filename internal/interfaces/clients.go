package interfaces

import (
	"context"

	"github.com/avhall/hearth/internal/models"
)

// InstanceClient performs authenticated API calls against one instance.
type InstanceClient interface {
	// Status checks API availability (GET /api/).
	Status(ctx context.Context) (string, error)

	// States lists all entity states (GET /api/states).
	States(ctx context.Context) ([]models.EntityState, error)

	// State fetches one entity state by id (GET /api/states/{id}).
	State(ctx context.Context, entityID string) (*models.EntityState, error)

	// CallService invokes a domain service (POST /api/services/{domain}/{service})
	// and returns the states changed by the call.
	CallService(ctx context.Context, domain, service string, data map[string]any) ([]models.EntityState, error)

	// Connection returns a snapshot of the bound connection, reflecting any
	// token rotation performed by the client.
	Connection() models.Connection
}

// Discoverer browses the local network for candidate instances.
type Discoverer interface {
	Start(ctx context.Context) error
	Stop()
	Instances() []models.DiscoveredInstance
}
