package scripts

import (
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

//go:embed scripts/*.sh
var embedded embed.FS

// Scripts holds the shell scripts streamed to new servers during
// bootstrap: setup runs as root, one of the startup variants runs as the
// service user.
type Scripts struct {
	Setup        string
	StartupX64   string
	StartupARM64 string
}

// Default returns the scripts compiled into the binary.
func Default() (*Scripts, error) {
	read := func(name string) (string, error) {
		b, err := embedded.ReadFile("scripts/" + name)
		if err != nil {
			return "", fmt.Errorf("failed to read embedded script %s: %w", name, err)
		}
		return string(b), nil
	}

	return load(read)
}

// FromDir reads setup.sh, startup-x64.sh and startup-arm64.sh from dir,
// overriding the embedded scripts.
func FromDir(dir string) (*Scripts, error) {
	read := func(name string) (string, error) {
		b, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return "", fmt.Errorf("failed to read script %s: %w", name, err)
		}
		return string(b), nil
	}

	return load(read)
}

// Load returns FromDir(dir) when dir is set and the embedded scripts
// otherwise.
func Load(dir string) (*Scripts, error) {
	if dir != "" {
		return FromDir(dir)
	}
	return Default()
}

func load(read func(name string) (string, error)) (*Scripts, error) {
	setup, err := read("setup.sh")
	if err != nil {
		return nil, err
	}
	x64, err := read("startup-x64.sh")
	if err != nil {
		return nil, err
	}
	arm64, err := read("startup-arm64.sh")
	if err != nil {
		return nil, err
	}

	return &Scripts{Setup: setup, StartupX64: x64, StartupARM64: arm64}, nil
}

// StartupFor selects the startup script variant for a server type.
// ARM64 server type names start with "ca" (CAX11, CAX21, ...).
func (s *Scripts) StartupFor(serverType string) string {
	if strings.HasPrefix(strings.ToLower(serverType), "ca") {
		return s.StartupARM64
	}
	return s.StartupX64
}
