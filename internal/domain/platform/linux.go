package platform

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/trunkplayer/trunkprov/internal/ports"
)

// Package managers supported on Linux, in preference order.
var linuxPackageManagers = []string{"apt-get", "dnf", "yum"}

// LinuxSystemd manages packages with apt-get, dnf or yum and services with systemctl.
type LinuxSystemd struct {
	base
	pm         string
	updateOnce sync.Once
	updateErr  error
}

// NewLinuxSystemd creates the Linux adapter, picking the first package manager on PATH.
func NewLinuxSystemd(runner ports.CommandRunner, lookup ports.PathLookup, root bool) *LinuxSystemd {
	a := &LinuxSystemd{base: base{runner: runner, root: root, sudo: true}}
	for _, pm := range linuxPackageManagers {
		if _, err := lookup.LookPath(pm); err == nil {
			a.pm = pm
			break
		}
	}
	return a
}

// Name implements Adapter.
func (a *LinuxSystemd) Name() string {
	if a.pm == "" {
		return "linux-systemd"
	}
	return "linux-systemd/" + a.pm
}

// PackageManager returns the detected package manager, or "".
func (a *LinuxSystemd) PackageManager() string {
	return a.pm
}

func (a *LinuxSystemd) debian() bool {
	return a.pm == "apt-get"
}

// PackageNames implements Adapter.
func (a *LinuxSystemd) PackageNames(generic string) []string {
	switch generic {
	case PkgPython:
		if a.debian() {
			return []string{"python3", "python3-venv", "python3-pip", "python3-dev"}
		}
		return []string{"python3", "python3-pip", "python3-devel"}
	case PkgPostgres:
		if a.debian() {
			return []string{"postgresql", "postgresql-contrib", "libpq-dev"}
		}
		return []string{"postgresql-server", "postgresql-contrib", "libpq-devel"}
	case PkgSQLite:
		if a.debian() {
			return []string{"sqlite3"}
		}
		return []string{"sqlite"}
	}
	return []string{generic}
}

// ServiceName implements Adapter.
func (a *LinuxSystemd) ServiceName(generic string) string {
	if generic == PkgSupervisor && !a.debian() {
		return "supervisord"
	}
	return generic
}

// InstallPackage implements Adapter.
func (a *LinuxSystemd) InstallPackage(ctx context.Context, generic string) (string, error) {
	if a.pm == "" {
		return "", ErrNoPackageManager
	}
	pkgs := a.PackageNames(generic)

	var out string
	var err error
	if a.debian() {
		a.updateOnce.Do(func() {
			_, a.updateErr = a.runPrivileged(ctx, "apt-get", "update", "-q")
		})
		if a.updateErr != nil {
			return "", fmt.Errorf("apt-get update: %w", a.updateErr)
		}
		args := append([]string{"DEBIAN_FRONTEND=noninteractive", "apt-get", "install", "-y", "-q"}, pkgs...)
		out, err = a.runPrivileged(ctx, "env", args...)
	} else {
		out, err = a.runPrivileged(ctx, a.pm, append([]string{"install", "-y"}, pkgs...)...)
	}
	if err != nil {
		return out, err
	}

	if generic == PkgPostgres && !a.debian() {
		initOut, initErr := a.runPrivileged(ctx, "postgresql-setup", "--initdb")
		if initErr != nil && !strings.Contains(initOut, "not empty") {
			return out + "\n" + initOut, initErr
		}
	}
	return out, nil
}

// RemovePackage implements Adapter.
func (a *LinuxSystemd) RemovePackage(ctx context.Context, generic string) (string, error) {
	if a.pm == "" {
		return "", ErrNoPackageManager
	}
	pkgs := a.PackageNames(generic)
	if a.debian() {
		return a.runPrivileged(ctx, "env", append([]string{"DEBIAN_FRONTEND=noninteractive", "apt-get", "remove", "-y", "-q"}, pkgs...)...)
	}
	return a.runPrivileged(ctx, a.pm, append([]string{"remove", "-y"}, pkgs...)...)
}

// StartService implements Adapter.
func (a *LinuxSystemd) StartService(ctx context.Context, generic string) (string, error) {
	svc := a.ServiceName(generic)
	out, err := a.runPrivileged(ctx, "systemctl", "enable", "--now", svc)
	if err != nil {
		return out, fmt.Errorf("start %s: %w", svc, err)
	}
	return out, nil
}

// StopService implements Adapter.
func (a *LinuxSystemd) StopService(ctx context.Context, generic string) (string, error) {
	return a.runPrivileged(ctx, "systemctl", "stop", a.ServiceName(generic))
}

// ReloadService implements Adapter. Supervisor is reloaded through
// supervisorctl so new program files are picked up without restarting jobs.
func (a *LinuxSystemd) ReloadService(ctx context.Context, generic string) (string, error) {
	if generic == PkgSupervisor {
		out, err := a.runPrivileged(ctx, "supervisorctl", "reread")
		if err != nil {
			return out, err
		}
		upd, err := a.runPrivileged(ctx, "supervisorctl", "update")
		return strings.TrimSpace(out + "\n" + upd), err
	}
	return a.runPrivileged(ctx, "systemctl", "reload", a.ServiceName(generic))
}

// IsServiceRunning implements Adapter.
func (a *LinuxSystemd) IsServiceRunning(ctx context.Context, generic string) (bool, error) {
	res, err := a.runner.Run(ctx, "systemctl", "is-active", "--quiet", a.ServiceName(generic))
	if err != nil {
		return false, err
	}
	return res.Success(), nil
}

// Privileged implements Adapter.
func (a *LinuxSystemd) Privileged(cmd string, args ...string) (string, []string) {
	return a.privileged(cmd, args...)
}

// Superuser implements Adapter.
func (a *LinuxSystemd) Superuser(cmd string, args ...string) (string, []string) {
	return "sudo", append([]string{"-n", "-u", "postgres", cmd}, args...)
}

// NginxDirs implements Adapter.
func (a *LinuxSystemd) NginxDirs() NginxDirs {
	if a.debian() {
		return NginxDirs{Available: "/etc/nginx/sites-available", Enabled: "/etc/nginx/sites-enabled"}
	}
	return NginxDirs{Available: "/etc/nginx/conf.d"}
}

// SupervisorDir implements Adapter.
func (a *LinuxSystemd) SupervisorDir() string {
	if a.debian() {
		return "/etc/supervisor/conf.d"
	}
	return "/etc/supervisord.d"
}

// SupervisorExt implements Adapter.
func (a *LinuxSystemd) SupervisorExt() string {
	if a.debian() {
		return ".conf"
	}
	return ".ini"
}

var _ Adapter = (*LinuxSystemd)(nil)
