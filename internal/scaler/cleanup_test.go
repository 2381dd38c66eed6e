package scaler

import (
	"context"
	"fmt"
	"testing"

	"flotilla/internal/cloud"
	"flotilla/internal/github"
)

type mockCleanupCloud struct {
	servers   []*cloud.Server
	deleted   []string
	deleteErr map[string]error
}

func (m *mockCleanupCloud) ListServers(ctx context.Context) ([]*cloud.Server, error) {
	return m.servers, nil
}

func (m *mockCleanupCloud) DeleteServer(ctx context.Context, name string) error {
	m.deleted = append(m.deleted, name)
	return m.deleteErr[name]
}

type mockCleanupGitHub struct {
	runners []*github.SelfHostedRunner
	removed []int64
}

func (m *mockCleanupGitHub) ListRunners(ctx context.Context) ([]*github.SelfHostedRunner, error) {
	return m.runners, nil
}

func (m *mockCleanupGitHub) DeleteRunner(ctx context.Context, id int64) error {
	m.removed = append(m.removed, id)
	return nil
}

func TestCleanupRemovesFleetResources(t *testing.T) {
	cloudAPI := &mockCleanupCloud{
		servers: []*cloud.Server{
			{Name: "flotilla-42-1"},
			{Name: "flotilla-standby-abc"},
			{Name: "unrelated-server"},
		},
	}
	gh := &mockCleanupGitHub{
		runners: []*github.SelfHostedRunner{
			{ID: 5, Name: "flotilla-42-1"},
			{ID: 6, Name: "someone-elses-runner"},
		},
	}

	if err := Cleanup(context.Background(), cloudAPI, gh, testLogger()); err != nil {
		t.Fatalf("Cleanup returned error: %v", err)
	}

	if len(gh.removed) != 1 || gh.removed[0] != 5 {
		t.Errorf("expected only runner 5 removed, got %v", gh.removed)
	}
	if len(cloudAPI.deleted) != 2 {
		t.Fatalf("expected 2 servers deleted, got %v", cloudAPI.deleted)
	}
	for _, name := range cloudAPI.deleted {
		if name == "unrelated-server" {
			t.Error("cleanup must not touch servers outside the fleet namespace")
		}
	}
}

func TestCleanupContinuesPastFailures(t *testing.T) {
	cloudAPI := &mockCleanupCloud{
		servers: []*cloud.Server{
			{Name: "flotilla-42-1"},
			{Name: "flotilla-42-2"},
		},
		deleteErr: map[string]error{
			"flotilla-42-1": fmt.Errorf("locked"),
		},
	}
	gh := &mockCleanupGitHub{}

	err := Cleanup(context.Background(), cloudAPI, gh, testLogger())
	if err == nil {
		t.Fatal("expected an error summarizing the failure")
	}
	if len(cloudAPI.deleted) != 2 {
		t.Fatalf("expected both deletions attempted, got %v", cloudAPI.deleted)
	}
}
