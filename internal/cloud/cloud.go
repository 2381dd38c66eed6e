package cloud

import (
	"context"
	"time"
)

// Server represents a machine provisioned at the cloud provider
type Server struct {
	ID         int64
	Name       string
	Status     Status
	ServerType string
	Location   string
	Labels     map[string]string
	PublicIPv4 string
	Created    time.Time
}

// Status represents the machine lifecycle state as reported by the cloud
type Status string

const (
	StatusInitializing Status = "initializing"
	StatusStarting     Status = "starting"
	StatusRunning      Status = "running"
	StatusStopping     Status = "stopping"
	StatusOff          Status = "off"
	StatusDeleting     Status = "deleting"
	StatusRebuilding   Status = "rebuilding"
	StatusMigrating    Status = "migrating"
	StatusUnknown      Status = "unknown"
)

// CreateRequest contains parameters for creating a new server
type CreateRequest struct {
	Name       string
	ServerType string
	Image      string
	Location   string // empty means any location
	SSHKey     string
	Labels     map[string]string
}

// UpdateRequest renames and relabels an existing server in place
type UpdateRequest struct {
	Name   string
	Labels map[string]string
}

// Provider defines the interface for cloud machine providers
type Provider interface {
	// Name returns the provider name
	Name() string

	// ListServers returns all servers visible to the credentials
	ListServers(ctx context.Context) ([]*Server, error)

	// GetServer returns the server with the given name, or nil when no
	// such server exists
	GetServer(ctx context.Context, name string) (*Server, error)

	// CreateServer provisions a new server
	CreateServer(ctx context.Context, req *CreateRequest) (*Server, error)

	// UpdateServer renames and relabels an existing server
	UpdateServer(ctx context.Context, name string, req *UpdateRequest) (*Server, error)

	// RebuildServer reimages a server and blocks until the rebuild
	// action completes
	RebuildServer(ctx context.Context, name, image string) error

	// DeleteServer removes a server; deleting an absent server is not
	// an error
	DeleteServer(ctx context.Context, name string) error

	// WaitRunning polls until the server reports running, bounded by
	// timeout
	WaitRunning(ctx context.Context, name string, timeout time.Duration) (*Server, error)

	// ValidateLabels rejects label maps the provider would refuse
	ValidateLabels(labels map[string]string) error

	// HealthCheck performs a health check on the provider
	HealthCheck(ctx context.Context) error

	// Close releases any resources held by the provider
	Close() error
}
