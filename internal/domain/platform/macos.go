package platform

import (
	"bufio"
	"context"
	"path/filepath"
	"strings"

	"github.com/trunkplayer/trunkprov/internal/ports"
)

// PostgresFormula is the Homebrew formula installed for PostgreSQL.
const PostgresFormula = "postgresql@16"

// MacOSHomebrew manages packages with brew and services with brew services.
type MacOSHomebrew struct {
	base
	prefix string
}

// NewMacOSHomebrew creates the macOS adapter.
func NewMacOSHomebrew(runner ports.CommandRunner, lookup ports.PathLookup, arch string) *MacOSHomebrew {
	prefix := "/usr/local"
	if arch == "arm64" {
		prefix = "/opt/homebrew"
	}
	if path, err := lookup.LookPath("brew"); err == nil {
		prefix = filepath.Dir(filepath.Dir(path))
	}
	return &MacOSHomebrew{base: base{runner: runner}, prefix: prefix}
}

// Name implements Adapter.
func (a *MacOSHomebrew) Name() string {
	return "macos-homebrew"
}

// Prefix returns the Homebrew prefix.
func (a *MacOSHomebrew) Prefix() string {
	return a.prefix
}

// PackageNames implements Adapter.
func (a *MacOSHomebrew) PackageNames(generic string) []string {
	switch generic {
	case PkgPython:
		return []string{"python@3"}
	case PkgPostgres:
		return []string{PostgresFormula}
	}
	return []string{generic}
}

// ServiceName implements Adapter.
func (a *MacOSHomebrew) ServiceName(generic string) string {
	if generic == PkgPostgres {
		return PostgresFormula
	}
	return generic
}

// InstallPackage implements Adapter.
func (a *MacOSHomebrew) InstallPackage(ctx context.Context, generic string) (string, error) {
	return a.run(ctx, "brew", append([]string{"install"}, a.PackageNames(generic)...)...)
}

// RemovePackage implements Adapter.
func (a *MacOSHomebrew) RemovePackage(ctx context.Context, generic string) (string, error) {
	return a.run(ctx, "brew", append([]string{"uninstall"}, a.PackageNames(generic)...)...)
}

// StartService implements Adapter.
func (a *MacOSHomebrew) StartService(ctx context.Context, generic string) (string, error) {
	return a.run(ctx, "brew", "services", "start", a.ServiceName(generic))
}

// StopService implements Adapter.
func (a *MacOSHomebrew) StopService(ctx context.Context, generic string) (string, error) {
	return a.run(ctx, "brew", "services", "stop", a.ServiceName(generic))
}

// ReloadService implements Adapter.
func (a *MacOSHomebrew) ReloadService(ctx context.Context, generic string) (string, error) {
	if generic == PkgSupervisor {
		out, err := a.run(ctx, "supervisorctl", "reread")
		if err != nil {
			return out, err
		}
		upd, err := a.run(ctx, "supervisorctl", "update")
		return strings.TrimSpace(out + "\n" + upd), err
	}
	return a.run(ctx, "brew", "services", "restart", a.ServiceName(generic))
}

// IsServiceRunning implements Adapter.
func (a *MacOSHomebrew) IsServiceRunning(ctx context.Context, generic string) (bool, error) {
	res, err := a.runner.Run(ctx, "brew", "services", "list")
	if _, err := ports.Check("brew", res, err); err != nil {
		return false, err
	}
	name := a.ServiceName(generic)
	sc := bufio.NewScanner(strings.NewReader(res.Stdout))
	for sc.Scan() {
		fields := strings.Fields(sc.Text())
		if len(fields) >= 2 && fields[0] == name {
			return fields[1] == "started", nil
		}
	}
	return false, nil
}

// Privileged implements Adapter. Homebrew paths belong to the user.
func (a *MacOSHomebrew) Privileged(cmd string, args ...string) (string, []string) {
	return cmd, args
}

// Superuser implements Adapter. Homebrew PostgreSQL makes the installing user a superuser.
func (a *MacOSHomebrew) Superuser(cmd string, args ...string) (string, []string) {
	return cmd, args
}

// NginxDirs implements Adapter.
func (a *MacOSHomebrew) NginxDirs() NginxDirs {
	return NginxDirs{Available: filepath.Join(a.prefix, "etc", "nginx", "servers")}
}

// SupervisorDir implements Adapter.
func (a *MacOSHomebrew) SupervisorDir() string {
	return filepath.Join(a.prefix, "etc", "supervisor.d")
}

// SupervisorExt implements Adapter.
func (a *MacOSHomebrew) SupervisorExt() string {
	return ".ini"
}

var _ Adapter = (*MacOSHomebrew)(nil)
