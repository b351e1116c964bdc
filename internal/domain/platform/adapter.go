package platform

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/trunkplayer/trunkprov/internal/ports"
)

// Generic package names used by steps. Adapters map them to real packages.
const (
	PkgPython     = "python"
	PkgPostgres   = "postgresql"
	PkgNginx      = "nginx"
	PkgSupervisor = "supervisor"
	PkgSQLite     = "sqlite"
)

// Errors returned by adapters.
var (
	ErrUnsupportedPlatform = errors.New("unsupported platform")
	ErrNoPackageManager    = errors.New("no supported package manager found")
)

// NginxDirs locates nginx site configuration.
type NginxDirs struct {
	// Available holds site files.
	Available string
	// Enabled holds symlinks to Available; empty when the layout has no enable step.
	Enabled string
}

// Adapter hides package and service management differences between hosts.
type Adapter interface {
	Name() string

	// PackageNames maps a generic name to the platform's package list.
	PackageNames(generic string) []string
	// ServiceName maps a generic name to the platform's service unit.
	ServiceName(generic string) string

	InstallPackage(ctx context.Context, generic string) (string, error)
	RemovePackage(ctx context.Context, generic string) (string, error)
	StartService(ctx context.Context, generic string) (string, error)
	StopService(ctx context.Context, generic string) (string, error)
	ReloadService(ctx context.Context, generic string) (string, error)
	IsServiceRunning(ctx context.Context, generic string) (bool, error)

	// Privileged wraps a command so it runs with administrative rights.
	Privileged(cmd string, args ...string) (string, []string)
	// Superuser wraps a command so it runs as the database superuser.
	Superuser(cmd string, args ...string) (string, []string)

	NginxDirs() NginxDirs
	SupervisorDir() string
	SupervisorExt() string

	// File operations on system paths, performed with Privileged rights.
	WriteFile(ctx context.Context, path, content string, mode os.FileMode) error
	RemovePath(ctx context.Context, path string) error
	Symlink(ctx context.Context, target, link string) error
	MakeDir(ctx context.Context, path, owner string) error
}

// Select returns the adapter for p. It is called once at startup.
func Select(p *Platform, runner ports.CommandRunner, lookup ports.PathLookup) (Adapter, error) {
	switch p.OS() {
	case OSLinux:
		return NewLinuxSystemd(runner, lookup, p.IsRoot()), nil
	case OSDarwin:
		return NewMacOSHomebrew(runner, lookup, p.Arch()), nil
	case OSUnknown:
	}
	return nil, fmt.Errorf("%w: %s", ErrUnsupportedPlatform, p)
}

// base carries what both adapters share.
type base struct {
	runner ports.CommandRunner
	root   bool
	sudo   bool
}

func (b base) privileged(cmd string, args ...string) (string, []string) {
	if b.root || !b.sudo {
		return cmd, args
	}
	return "sudo", append([]string{"-n", cmd}, args...)
}

func (b base) run(ctx context.Context, cmd string, args ...string) (string, error) {
	res, err := b.runner.Run(ctx, cmd, args...)
	res, err = ports.Check(cmd, res, err)
	return res.Combined(), err
}

func (b base) runPrivileged(ctx context.Context, cmd string, args ...string) (string, error) {
	name, argv := b.privileged(cmd, args...)
	res, err := b.runner.Run(ctx, name, argv...)
	res, err = ports.Check(cmd, res, err)
	return res.Combined(), err
}

func (b base) WriteFile(ctx context.Context, path, content string, mode os.FileMode) error {
	name, argv := b.privileged("tee", path)
	res, err := b.runner.RunWithInput(ctx, content, name, argv...)
	if _, err := ports.Check("tee", res, err); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	if _, err := b.runPrivileged(ctx, "chmod", fmt.Sprintf("%o", mode.Perm()), path); err != nil {
		return fmt.Errorf("chmod %s: %w", path, err)
	}
	return nil
}

func (b base) RemovePath(ctx context.Context, path string) error {
	if strings.TrimSpace(path) == "" || path == "/" {
		return fmt.Errorf("refusing to remove %q", path)
	}
	if _, err := b.runPrivileged(ctx, "rm", "-rf", path); err != nil {
		return fmt.Errorf("remove %s: %w", path, err)
	}
	return nil
}

func (b base) Symlink(ctx context.Context, target, link string) error {
	if _, err := b.runPrivileged(ctx, "ln", "-sfn", target, link); err != nil {
		return fmt.Errorf("link %s: %w", link, err)
	}
	return nil
}

func (b base) MakeDir(ctx context.Context, path, owner string) error {
	if _, err := b.runPrivileged(ctx, "mkdir", "-p", path); err != nil {
		return fmt.Errorf("mkdir %s: %w", path, err)
	}
	if owner == "" {
		return nil
	}
	if _, err := b.runPrivileged(ctx, "chown", owner, path); err != nil {
		return fmt.Errorf("chown %s: %w", path, err)
	}
	return nil
}
