package provisioner

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strings"
	"time"

	"flotilla/internal/cloud"
	"flotilla/internal/config"
	"flotilla/internal/fleet"
	"flotilla/internal/github"
)

type CloudAPI interface {
	CreateServer(ctx context.Context, req *cloud.CreateRequest) (*cloud.Server, error)
	UpdateServer(ctx context.Context, name string, req *cloud.UpdateRequest) (*cloud.Server, error)
	RebuildServer(ctx context.Context, name, image string) error
	WaitRunning(ctx context.Context, name string, timeout time.Duration) (*cloud.Server, error)
	ValidateLabels(labels map[string]string) error
}

type GitHubAPI interface {
	Repository() string
	CreateRegistrationToken(ctx context.Context) (*github.RegistrationToken, error)
}

type Remote interface {
	WaitReady(ctx context.Context, addr string, timeout time.Duration) error
	Run(ctx context.Context, addr, command string, stdin io.Reader) error
}

// CreateSpec describes a server to provision.
type CreateSpec struct {
	Name       string
	Labels     fleet.LabelSet
	ServerType string
	Location   string
	Image      string
	Startup    string
}

// RecycleSpec converts an existing recyclable server into the described
// one by renaming, relabeling and reimaging it in place.
type RecycleSpec struct {
	OldName string
	CreateSpec
}

// Provisioner executes create, recycle and bootstrap operations on two
// bounded worker pools of equal width. Creates and recycles run on the
// outer pool; each hands its bootstrap to the inner pool so slow SSH
// work never holds an outer slot.
type Provisioner struct {
	cfg    *config.Config
	cloud  CloudAPI
	github GitHubAPI
	remote Remote
	setup  string
	logger *slog.Logger

	outer *Pool
	inner *Pool
}

func New(cfg *config.Config, cloudAPI CloudAPI, gh GitHubAPI, rem Remote, setupScript string, logger *slog.Logger) *Provisioner {
	return &Provisioner{
		cfg:    cfg,
		cloud:  cloudAPI,
		github: gh,
		remote: rem,
		setup:  setupScript,
		logger: logger.With("component", "provisioner"),
		outer:  NewPool(cfg.Scaling.Workers),
		inner:  NewPool(cfg.Scaling.Workers),
	}
}

// SubmitCreate queues creation of a new server. The task runs detached
// from ctx's cancellation so in-flight provisioning always completes.
func (p *Provisioner) SubmitCreate(ctx context.Context, batch *Batch, spec CreateSpec) *Task {
	task := newTask(spec.Name, OpCreate)
	batch.add(task)

	opCtx := context.WithoutCancel(ctx)
	p.outer.Go(func() {
		task.run(func() error { return p.create(opCtx, batch, spec) })
	})

	return task
}

// SubmitRecycle queues conversion of a recyclable server.
func (p *Provisioner) SubmitRecycle(ctx context.Context, batch *Batch, spec RecycleSpec) *Task {
	task := newTask(spec.Name, OpRecycle)
	batch.add(task)

	opCtx := context.WithoutCancel(ctx)
	p.outer.Go(func() {
		task.run(func() error { return p.recycle(opCtx, batch, spec) })
	})

	return task
}

func (p *Provisioner) create(ctx context.Context, batch *Batch, spec CreateSpec) error {
	labels := fleet.EncodeLabels(spec.Labels, p.cfg.Hetzner.SSHKey)
	if err := p.cloud.ValidateLabels(labels); err != nil {
		return fmt.Errorf("refusing to create %s: %w", spec.Name, err)
	}

	p.logger.Info("creating server",
		"name", spec.Name,
		"server_type", spec.ServerType,
		"location", spec.Location,
		"image", spec.Image,
	)

	if _, err := p.cloud.CreateServer(ctx, &cloud.CreateRequest{
		Name:       spec.Name,
		ServerType: spec.ServerType,
		Image:      spec.Image,
		Location:   spec.Location,
		SSHKey:     p.cfg.Hetzner.SSHKey,
		Labels:     labels,
	}); err != nil {
		return err
	}

	server, err := p.cloud.WaitRunning(ctx, spec.Name, p.cfg.Scaling.ServerReadyTimeout)
	if err != nil {
		return err
	}

	p.submitBootstrap(ctx, batch, server, spec)
	return nil
}

func (p *Provisioner) recycle(ctx context.Context, batch *Batch, spec RecycleSpec) error {
	labels := fleet.EncodeLabels(spec.Labels, p.cfg.Hetzner.SSHKey)
	if err := p.cloud.ValidateLabels(labels); err != nil {
		return fmt.Errorf("refusing to recycle %s: %w", spec.OldName, err)
	}

	p.logger.Info("recycling server",
		"old_name", spec.OldName,
		"name", spec.Name,
		"image", spec.Image,
	)

	if _, err := p.cloud.UpdateServer(ctx, spec.OldName, &cloud.UpdateRequest{
		Name:   spec.Name,
		Labels: labels,
	}); err != nil {
		return err
	}

	if err := p.cloud.RebuildServer(ctx, spec.Name, spec.Image); err != nil {
		return err
	}

	server, err := p.cloud.WaitRunning(ctx, spec.Name, p.cfg.Scaling.ServerReadyTimeout)
	if err != nil {
		return err
	}

	p.submitBootstrap(ctx, batch, server, spec.CreateSpec)
	return nil
}

func (p *Provisioner) submitBootstrap(ctx context.Context, batch *Batch, server *cloud.Server, spec CreateSpec) {
	task := newTask(spec.Name, OpBootstrap)
	batch.add(task)

	p.inner.Go(func() {
		task.run(func() error { return p.bootstrap(ctx, server, spec) })
	})
}

// bootstrap installs and registers the runner agent on a freshly
// provisioned server.
func (p *Provisioner) bootstrap(ctx context.Context, server *cloud.Server, spec CreateSpec) error {
	if server.PublicIPv4 == "" {
		return fmt.Errorf("server %s has no public address", server.Name)
	}
	addr := net.JoinHostPort(server.PublicIPv4, "22")

	if err := p.remote.WaitReady(ctx, addr, p.cfg.SSH.WaitTimeout); err != nil {
		return fmt.Errorf("ssh not reachable on %s: %w", server.Name, err)
	}

	token, err := p.github.CreateRegistrationToken(ctx)
	if err != nil {
		return err
	}

	p.logger.Info("bootstrapping runner", "name", server.Name, "addr", addr)

	if err := p.remote.Run(ctx, addr, "bash -s", strings.NewReader(p.setup)); err != nil {
		return fmt.Errorf("setup script failed on %s: %w", server.Name, err)
	}

	group := p.cfg.GitHub.RunnerGroup
	if group == "" {
		group = "Default"
	}

	command := fmt.Sprintf("sudo -u %s GITHUB_REPOSITORY=%s GITHUB_RUNNER_TOKEN=%s GITHUB_RUNNER_GROUP=%s GITHUB_RUNNER_LABELS=%s bash -s",
		p.cfg.SSH.User,
		shellQuote(p.github.Repository()),
		shellQuote(token.Token),
		shellQuote(group),
		shellQuote(spec.Labels.Join(",")),
	)

	if err := p.remote.Run(ctx, addr, command, strings.NewReader(spec.Startup)); err != nil {
		return fmt.Errorf("startup script failed on %s: %w", server.Name, err)
	}

	return nil
}

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
