// Package platform detects the host and adapts package and service management to it.
package platform

import (
	"os"
	"runtime"
	"strings"
	"sync"
)

// OS is the host operating system.
type OS string

// Supported operating systems.
const (
	OSDarwin  OS = "darwin"
	OSLinux   OS = "linux"
	OSUnknown OS = "unknown"
)

// Init names the service manager found on the host.
type Init string

// Service managers.
const (
	InitSystemd Init = "systemd"
	InitLaunchd Init = "launchd"
	// InitNone is typical of containers and WSL without systemd; starting
	// services fails there and --skip-services is the way through.
	InitNone Init = "none"
)

// Platform describes the host trunkprov runs on.
type Platform struct {
	os   OS
	arch string
	init Init
	root bool
}

var (
	detected   *Platform
	detectOnce sync.Once
)

// Detect inspects the host once and caches the result.
func Detect() *Platform {
	detectOnce.Do(func() {
		detected = detect()
	})
	return detected
}

func detect() *Platform {
	p := &Platform{arch: runtime.GOARCH, init: InitNone, root: os.Geteuid() == 0}
	switch runtime.GOOS {
	case "darwin":
		p.os = OSDarwin
		p.init = InitLaunchd
	case "linux":
		p.os = OSLinux
		// sd_booted(3): systemd is PID 1 iff this directory exists.
		if fi, err := os.Stat("/run/systemd/system"); err == nil && fi.IsDir() {
			p.init = InitSystemd
		}
	default:
		p.os = OSUnknown
	}
	return p
}

// New creates a Platform with fixed values, for tests.
func New(os OS, arch string, init Init, root bool) *Platform {
	return &Platform{os: os, arch: arch, init: init, root: root}
}

// OS returns the operating system.
func (p *Platform) OS() OS { return p.os }

// Arch returns the CPU architecture.
func (p *Platform) Arch() string { return p.arch }

// Init returns the detected service manager.
func (p *Platform) Init() Init { return p.init }

// IsRoot reports whether the process runs with effective UID 0.
func (p *Platform) IsRoot() bool { return p.root }

// CanManageServices reports whether services can be started on this host.
func (p *Platform) CanManageServices() bool { return p.init != InitNone }

// String returns "os/arch/init", e.g. "linux/amd64/systemd".
func (p *Platform) String() string {
	return strings.Join([]string{string(p.os), p.arch, string(p.init)}, "/")
}
