package provisioner

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"flotilla/internal/cloud"
	"flotilla/internal/config"
	"flotilla/internal/fleet"
	"flotilla/internal/github"
)

type mockCloud struct {
	mu         sync.Mutex
	created    []*cloud.CreateRequest
	updated    map[string]*cloud.UpdateRequest
	rebuilt    []string
	createErr  error
	waitErr    error
	labelsErr  error
	noPublicIP bool
}

func (m *mockCloud) CreateServer(ctx context.Context, req *cloud.CreateRequest) (*cloud.Server, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createErr != nil {
		return nil, m.createErr
	}
	m.created = append(m.created, req)
	return &cloud.Server{Name: req.Name, Status: cloud.StatusInitializing}, nil
}

func (m *mockCloud) UpdateServer(ctx context.Context, name string, req *cloud.UpdateRequest) (*cloud.Server, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.updated == nil {
		m.updated = make(map[string]*cloud.UpdateRequest)
	}
	m.updated[name] = req
	return &cloud.Server{Name: req.Name}, nil
}

func (m *mockCloud) RebuildServer(ctx context.Context, name, image string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rebuilt = append(m.rebuilt, name+":"+image)
	return nil
}

func (m *mockCloud) WaitRunning(ctx context.Context, name string, timeout time.Duration) (*cloud.Server, error) {
	if m.waitErr != nil {
		return nil, m.waitErr
	}
	ip := "192.0.2.1"
	if m.noPublicIP {
		ip = ""
	}
	return &cloud.Server{Name: name, Status: cloud.StatusRunning, PublicIPv4: ip}, nil
}

func (m *mockCloud) ValidateLabels(labels map[string]string) error {
	return m.labelsErr
}

type mockGitHub struct {
	tokenErr error
}

func (m *mockGitHub) Repository() string { return "owner/repo" }

func (m *mockGitHub) CreateRegistrationToken(ctx context.Context) (*github.RegistrationToken, error) {
	if m.tokenErr != nil {
		return nil, m.tokenErr
	}
	return &github.RegistrationToken{Token: "REGTOKEN"}, nil
}

type remoteCall struct {
	addr    string
	command string
	stdin   string
}

type mockRemote struct {
	mu      sync.Mutex
	calls   []remoteCall
	waitErr error
	runErr  error
}

func (m *mockRemote) WaitReady(ctx context.Context, addr string, timeout time.Duration) error {
	return m.waitErr
}

func (m *mockRemote) Run(ctx context.Context, addr, command string, stdin io.Reader) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	body := ""
	if stdin != nil {
		b, _ := io.ReadAll(stdin)
		body = string(b)
	}
	m.calls = append(m.calls, remoteCall{addr: addr, command: command, stdin: body})
	return m.runErr
}

func testConfig() *config.Config {
	return &config.Config{
		GitHub: config.GitHubConfig{Repository: "owner/repo"},
		Hetzner: config.HetznerConfig{
			SSHKey:            "ci-key",
			DefaultServerType: "cx22",
			DefaultImage:      "ubuntu-22.04",
		},
		SSH: config.SSHConfig{User: "ubuntu", WaitTimeout: time.Second},
		Scaling: config.ScalingConfig{
			Workers:            2,
			ServerReadyTimeout: time.Second,
		},
	}
}

func testProvisioner(c *mockCloud, gh *mockGitHub, r *mockRemote) *Provisioner {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	return New(testConfig(), c, gh, r, "echo setup", logger)
}

func TestCreateBootstrapsServer(t *testing.T) {
	cloudAPI := &mockCloud{}
	remote := &mockRemote{}
	p := testProvisioner(cloudAPI, &mockGitHub{}, remote)

	batch := &Batch{}
	spec := CreateSpec{
		Name:       "flotilla-11-101",
		Labels:     fleet.NewLabelSet("self-hosted", "small"),
		ServerType: "cx22",
		Image:      "ubuntu-22.04",
		Startup:    "echo startup",
	}
	p.SubmitCreate(context.Background(), batch, spec)

	results := batch.Wait()
	if len(results) != 2 {
		t.Fatalf("expected create + bootstrap results, got %+v", results)
	}
	for _, r := range results {
		if r.Err != nil {
			t.Fatalf("%s failed: %v", r.Op, r.Err)
		}
	}

	if len(cloudAPI.created) != 1 {
		t.Fatalf("expected 1 create call, got %d", len(cloudAPI.created))
	}
	req := cloudAPI.created[0]
	if req.SSHKey != "ci-key" || req.Labels[fleet.SSHKeyLabel] != "ci-key" {
		t.Errorf("ssh key not carried: %+v", req)
	}
	if req.Labels[fleet.LabelKeyPrefix+"0"] != "self-hosted" {
		t.Errorf("labels not encoded: %v", req.Labels)
	}

	if len(remote.calls) != 2 {
		t.Fatalf("expected setup + startup calls, got %d", len(remote.calls))
	}
	if remote.calls[0].command != "bash -s" || remote.calls[0].stdin != "echo setup" {
		t.Errorf("unexpected setup call: %+v", remote.calls[0])
	}

	startup := remote.calls[1].command
	for _, want := range []string{
		"sudo -u ubuntu",
		"GITHUB_REPOSITORY='owner/repo'",
		"GITHUB_RUNNER_TOKEN='REGTOKEN'",
		"GITHUB_RUNNER_GROUP='Default'",
		"GITHUB_RUNNER_LABELS='self-hosted,small'",
	} {
		if !strings.Contains(startup, want) {
			t.Errorf("startup command missing %q: %s", want, startup)
		}
	}
	if remote.calls[1].stdin != "echo startup" {
		t.Errorf("startup script not streamed: %+v", remote.calls[1])
	}
}

func TestCreateInvalidLabelsFailsTask(t *testing.T) {
	cloudAPI := &mockCloud{labelsErr: errors.New("bad label")}
	p := testProvisioner(cloudAPI, &mockGitHub{}, &mockRemote{})

	batch := &Batch{}
	p.SubmitCreate(context.Background(), batch, CreateSpec{Name: "flotilla-11-101"})

	results := batch.Wait()
	if len(results) != 1 || results[0].Err == nil {
		t.Fatalf("expected single failed task, got %+v", results)
	}
	if len(cloudAPI.created) != 0 {
		t.Error("create must not be attempted with invalid labels")
	}
}

func TestCreateWaitRunningFailure(t *testing.T) {
	cloudAPI := &mockCloud{waitErr: errors.New("not running")}
	remote := &mockRemote{}
	p := testProvisioner(cloudAPI, &mockGitHub{}, remote)

	batch := &Batch{}
	p.SubmitCreate(context.Background(), batch, CreateSpec{Name: "flotilla-11-101"})

	results := batch.Wait()
	if len(results) != 1 || results[0].Err == nil {
		t.Fatalf("expected failed create without bootstrap, got %+v", results)
	}
	if len(remote.calls) != 0 {
		t.Error("bootstrap must not run when the server never came up")
	}
}

func TestRecycleConvertsServer(t *testing.T) {
	cloudAPI := &mockCloud{}
	remote := &mockRemote{}
	p := testProvisioner(cloudAPI, &mockGitHub{}, remote)

	batch := &Batch{}
	spec := RecycleSpec{
		OldName: fleet.RecycleNamePrefix + "old",
		CreateSpec: CreateSpec{
			Name:       "flotilla-11-101",
			Labels:     fleet.NewLabelSet("small"),
			ServerType: "cx22",
			Image:      "ubuntu-22.04",
			Startup:    "echo startup",
		},
	}
	p.SubmitRecycle(context.Background(), batch, spec)

	results := batch.Wait()
	for _, r := range results {
		if r.Err != nil {
			t.Fatalf("%s failed: %v", r.Op, r.Err)
		}
	}

	update := cloudAPI.updated[fleet.RecycleNamePrefix+"old"]
	if update == nil || update.Name != "flotilla-11-101" {
		t.Fatalf("recyclable not renamed: %+v", cloudAPI.updated)
	}
	if len(cloudAPI.rebuilt) != 1 || cloudAPI.rebuilt[0] != "flotilla-11-101:ubuntu-22.04" {
		t.Errorf("unexpected rebuilds: %v", cloudAPI.rebuilt)
	}
	if len(remote.calls) != 2 {
		t.Errorf("expected bootstrap after recycle, got %d remote calls", len(remote.calls))
	}
}

func TestBootstrapRequiresPublicAddress(t *testing.T) {
	cloudAPI := &mockCloud{noPublicIP: true}
	p := testProvisioner(cloudAPI, &mockGitHub{}, &mockRemote{})

	batch := &Batch{}
	p.SubmitCreate(context.Background(), batch, CreateSpec{Name: "flotilla-11-101"})

	results := batch.Wait()
	if len(results) != 2 {
		t.Fatalf("expected create + bootstrap, got %+v", results)
	}
	if results[1].Err == nil || !strings.Contains(results[1].Err.Error(), "public address") {
		t.Errorf("expected public address error, got %v", results[1].Err)
	}
}

func TestSubmitSurvivesCancelledContext(t *testing.T) {
	cloudAPI := &mockCloud{}
	p := testProvisioner(cloudAPI, &mockGitHub{}, &mockRemote{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	batch := &Batch{}
	p.SubmitCreate(ctx, batch, CreateSpec{Name: "flotilla-11-101", Startup: "s"})

	results := batch.Wait()
	for _, r := range results {
		if r.Err != nil {
			t.Fatalf("task interrupted by loop cancellation: %+v", r)
		}
	}
	if len(cloudAPI.created) != 1 {
		t.Error("create must proceed despite cancelled cycle context")
	}
}

func TestShellQuote(t *testing.T) {
	if got := shellQuote("plain"); got != "'plain'" {
		t.Errorf("shellQuote(plain) = %s", got)
	}
	if got := shellQuote("it's"); got != `'it'\''s'` {
		t.Errorf("shellQuote(it's) = %s", got)
	}
}
