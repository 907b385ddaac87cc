//go:build e2e

package testfs

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/docker/docker/api/types/container"
)

const (
	// baseImage is the Docker image used for E2E tests.
	baseImage = "alpine:3.21"

	binaryName = "patiencebar"
	binaryPath = "/usr/local/bin/" + binaryName

	// DataDir is where the sown tree appears inside the container.
	DataDir = "/data"
)

// Harness runs the patiencebar binary inside a Docker container.
//
// Usage:
//
//	h := testfs.New(t, testfs.FileTree{Files: []testfs.File{...}})
//	res := h.RunTTY(testfs.Console{Rows: 24, Cols: 60}, "hash", testfs.DataDir)
//
// Requires PATIENCEBAR_E2E_BINDIR pointing at a directory holding a linux
// build of the binary. The container is removed in t.Cleanup().
type Harness struct {
	t         *testing.T
	ctx       context.Context
	given     FileTree
	root      string // host directory bind-mounted at DataDir
	container *Container
}

// New sows given on the host, then starts a container with it mounted
// read-only at DataDir and the binary on PATH.
func New(t *testing.T, given FileTree) *Harness {
	t.Helper()

	h := &Harness{
		t:     t,
		ctx:   context.Background(),
		given: given,
		root:  LocalTree(t, given),
	}

	cfg, hostCfg, err := h.buildContainerConfig()
	if err != nil {
		t.Fatalf("failed to build container config: %v", err)
	}

	c, err := NewContainer(h.ctx, cfg, hostCfg)
	if err != nil {
		t.Fatalf("failed to create container: %v", err)
	}
	h.container = c
	t.Cleanup(h.Cleanup)

	return h
}

// ExpectedDigests maps each file's in-container path to its hex SHA-256.
func (h *Harness) ExpectedDigests() map[string]string {
	h.t.Helper()
	return ExpectedDigests(h.t, DataDir, h.given)
}

// Run executes the binary without a terminal.
func (h *Harness) Run(args ...string) RunResult {
	h.t.Helper()

	res, err := h.container.Run(h.ctx, append([]string{binaryPath}, args...), nil)
	if err != nil {
		h.t.Fatalf("failed to run %s: %v", binaryName, err)
	}
	return res
}

// RunTTY executes the binary on a pseudo-terminal of the given size.
// COLUMNS and LINES are left unset so the size comes from the terminal.
func (h *Harness) RunTTY(console Console, args ...string) RunResult {
	h.t.Helper()

	res, err := h.container.RunTTY(h.ctx, append([]string{binaryPath}, args...), []string{"TERM=dumb"}, console)
	if err != nil {
		h.t.Fatalf("failed to run %s: %v", binaryName, err)
	}
	return res
}

// Cleanup terminates the container and releases resources.
func (h *Harness) Cleanup() {
	if h.container != nil {
		_ = h.container.Close(h.ctx)
		h.container = nil
	}
}

func (h *Harness) buildContainerConfig() (*container.Config, *container.HostConfig, error) {
	binDir := os.Getenv("PATIENCEBAR_E2E_BINDIR")
	if binDir == "" {
		return nil, nil, fmt.Errorf("PATIENCEBAR_E2E_BINDIR not set")
	}

	cfg := &container.Config{
		Image: baseImage,
		Cmd:   []string{"sleep", "infinity"},
	}

	hostCfg := &container.HostConfig{
		Binds: []string{
			fmt.Sprintf("%s:%s:ro", filepath.Join(binDir, binaryName), binaryPath),
			fmt.Sprintf("%s:%s:ro", h.root, DataDir),
		},
		AutoRemove: true,
	}

	return cfg, hostCfg, nil
}
