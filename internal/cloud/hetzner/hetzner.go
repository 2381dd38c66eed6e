package hetzner

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"time"

	"flotilla/internal/cloud"
	"flotilla/internal/config"

	"github.com/hetznercloud/hcloud-go/v2/hcloud"
	"github.com/prometheus/client_golang/prometheus"
)

// Hetzner label syntax. Keys may carry a DNS-style prefix, values may be
// empty; both are limited to 63 characters after the prefix.
var (
	labelKeyRE   = regexp.MustCompile(`^([a-z0-9]([a-z0-9-.]{0,251}[a-z0-9])?/)?[a-zA-Z0-9]([a-zA-Z0-9_.-]{0,61}[a-zA-Z0-9])?$`)
	labelValueRE = regexp.MustCompile(`^([a-zA-Z0-9]([a-zA-Z0-9_.-]{0,61}[a-zA-Z0-9])?)?$`)
)

const pollInterval = time.Second

type HetznerProvider struct {
	client *hcloud.Client
	config config.HetznerConfig
	logger *slog.Logger
}

// New creates a new Hetzner Cloud provider. When registry is non-nil
// the SDK's request instrumentation is registered on it.
func New(cfg config.HetznerConfig, appVersion string, registry *prometheus.Registry, logger *slog.Logger) *HetznerProvider {
	opts := []hcloud.ClientOption{
		hcloud.WithToken(cfg.Token),
		hcloud.WithApplication("flotilla", appVersion),
	}
	if registry != nil {
		opts = append(opts, hcloud.WithInstrumentation(registry))
	}

	return &HetznerProvider{
		client: hcloud.NewClient(opts...),
		config: cfg,
		logger: logger.With("provider", "hetzner"),
	}
}

func (p *HetznerProvider) Name() string {
	return "hetzner"
}

func (p *HetznerProvider) ListServers(ctx context.Context) ([]*cloud.Server, error) {
	servers, err := p.client.Server.All(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list servers: %w", err)
	}

	out := make([]*cloud.Server, 0, len(servers))
	for _, s := range servers {
		out = append(out, serverToModel(s))
	}

	return out, nil
}

func (p *HetznerProvider) GetServer(ctx context.Context, name string) (*cloud.Server, error) {
	s, _, err := p.client.Server.GetByName(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("failed to get server %s: %w", name, err)
	}
	if s == nil {
		return nil, nil
	}

	return serverToModel(s), nil
}

func (p *HetznerProvider) CreateServer(ctx context.Context, req *cloud.CreateRequest) (*cloud.Server, error) {
	serverType, _, err := p.client.ServerType.GetByName(ctx, req.ServerType)
	if err != nil {
		return nil, fmt.Errorf("failed to get server type %s: %w", req.ServerType, err)
	}
	if serverType == nil {
		return nil, fmt.Errorf("server type %s not found", req.ServerType)
	}

	image, _, err := p.client.Image.GetByNameAndArchitecture(ctx, req.Image, serverType.Architecture)
	if err != nil {
		return nil, fmt.Errorf("failed to get image %s: %w", req.Image, err)
	}
	if image == nil {
		return nil, fmt.Errorf("image %s not found for architecture %s", req.Image, serverType.Architecture)
	}

	sshKey, _, err := p.client.SSHKey.GetByName(ctx, req.SSHKey)
	if err != nil {
		return nil, fmt.Errorf("failed to get ssh key %s: %w", req.SSHKey, err)
	}
	if sshKey == nil {
		return nil, fmt.Errorf("ssh key %s not found", req.SSHKey)
	}

	opts := hcloud.ServerCreateOpts{
		Name:       req.Name,
		ServerType: serverType,
		Image:      image,
		SSHKeys:    []*hcloud.SSHKey{sshKey},
		Labels:     req.Labels,
	}

	if req.Location != "" {
		location, _, err := p.client.Location.GetByName(ctx, req.Location)
		if err != nil {
			return nil, fmt.Errorf("failed to get location %s: %w", req.Location, err)
		}
		if location == nil {
			return nil, fmt.Errorf("location %s not found", req.Location)
		}
		opts.Location = location
	}

	p.logger.Info("creating server",
		"name", req.Name,
		"server_type", req.ServerType,
		"image", req.Image,
		"location", req.Location,
	)

	result, _, err := p.client.Server.Create(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to create server %s: %w", req.Name, err)
	}

	return serverToModel(result.Server), nil
}

func (p *HetznerProvider) UpdateServer(ctx context.Context, name string, req *cloud.UpdateRequest) (*cloud.Server, error) {
	s, _, err := p.client.Server.GetByName(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("failed to get server %s: %w", name, err)
	}
	if s == nil {
		return nil, fmt.Errorf("server %s not found", name)
	}

	updated, _, err := p.client.Server.Update(ctx, s, hcloud.ServerUpdateOpts{
		Name:   req.Name,
		Labels: req.Labels,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to update server %s: %w", name, err)
	}

	return serverToModel(updated), nil
}

func (p *HetznerProvider) RebuildServer(ctx context.Context, name, imageName string) error {
	s, _, err := p.client.Server.GetByName(ctx, name)
	if err != nil {
		return fmt.Errorf("failed to get server %s: %w", name, err)
	}
	if s == nil {
		return fmt.Errorf("server %s not found", name)
	}

	arch := hcloud.ArchitectureX86
	if s.ServerType != nil {
		arch = s.ServerType.Architecture
	}

	image, _, err := p.client.Image.GetByNameAndArchitecture(ctx, imageName, arch)
	if err != nil {
		return fmt.Errorf("failed to get image %s: %w", imageName, err)
	}
	if image == nil {
		return fmt.Errorf("image %s not found for architecture %s", imageName, arch)
	}

	p.logger.Info("rebuilding server", "name", name, "image", imageName)

	result, _, err := p.client.Server.RebuildWithResult(ctx, s, hcloud.ServerRebuildOpts{Image: image})
	if err != nil {
		return fmt.Errorf("failed to rebuild server %s: %w", name, err)
	}

	if err := p.client.Action.WaitFor(ctx, result.Action); err != nil {
		return fmt.Errorf("rebuild of server %s did not complete: %w", name, err)
	}

	return nil
}

func (p *HetznerProvider) DeleteServer(ctx context.Context, name string) error {
	s, _, err := p.client.Server.GetByName(ctx, name)
	if err != nil {
		return fmt.Errorf("failed to get server %s: %w", name, err)
	}
	if s == nil {
		return nil
	}

	p.logger.Info("deleting server", "name", name, "id", s.ID)

	if _, _, err := p.client.Server.DeleteWithResult(ctx, s); err != nil {
		return fmt.Errorf("failed to delete server %s: %w", name, err)
	}

	return nil
}

func (p *HetznerProvider) WaitRunning(ctx context.Context, name string, timeout time.Duration) (*cloud.Server, error) {
	deadline := time.Now().Add(timeout)

	for {
		s, _, err := p.client.Server.GetByName(ctx, name)
		if err != nil {
			return nil, fmt.Errorf("failed to get server %s: %w", name, err)
		}
		if s != nil && s.Status == hcloud.ServerStatusRunning {
			return serverToModel(s), nil
		}

		if time.Now().After(deadline) {
			return nil, fmt.Errorf("server %s not running after %s", name, timeout)
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(pollInterval):
		}
	}
}

func (p *HetznerProvider) ValidateLabels(labels map[string]string) error {
	for k, v := range labels {
		if !labelKeyRE.MatchString(k) {
			return fmt.Errorf("invalid label key %q", k)
		}
		if !labelValueRE.MatchString(v) {
			return fmt.Errorf("invalid label value %q for key %q", v, k)
		}
	}
	return nil
}

func (p *HetznerProvider) HealthCheck(ctx context.Context) error {
	_, err := p.client.Location.All(ctx)
	if err != nil {
		return fmt.Errorf("hetzner health check failed: %w", err)
	}
	return nil
}

func (p *HetznerProvider) Close() error {
	return nil
}

func serverToModel(s *hcloud.Server) *cloud.Server {
	out := &cloud.Server{
		ID:      s.ID,
		Name:    s.Name,
		Status:  mapServerStatus(s.Status),
		Labels:  s.Labels,
		Created: s.Created,
	}

	if s.ServerType != nil {
		out.ServerType = s.ServerType.Name
	}
	if s.Datacenter != nil && s.Datacenter.Location != nil {
		out.Location = s.Datacenter.Location.Name
	}
	if !s.PublicNet.IPv4.IsUnspecified() {
		out.PublicIPv4 = s.PublicNet.IPv4.IP.String()
	}

	return out
}

func mapServerStatus(status hcloud.ServerStatus) cloud.Status {
	switch status {
	case hcloud.ServerStatusInitializing:
		return cloud.StatusInitializing
	case hcloud.ServerStatusStarting:
		return cloud.StatusStarting
	case hcloud.ServerStatusRunning:
		return cloud.StatusRunning
	case hcloud.ServerStatusStopping:
		return cloud.StatusStopping
	case hcloud.ServerStatusOff:
		return cloud.StatusOff
	case hcloud.ServerStatusDeleting:
		return cloud.StatusDeleting
	case hcloud.ServerStatusRebuilding:
		return cloud.StatusRebuilding
	case hcloud.ServerStatusMigrating:
		return cloud.StatusMigrating
	default:
		return cloud.StatusUnknown
	}
}
