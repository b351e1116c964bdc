package system_test

import (
	"context"
	"testing"

	"github.com/go-git/go-billy/v5/memfs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trunkplayer/trunkprov/internal/domain/compiler"
	"github.com/trunkplayer/trunkprov/internal/domain/platform"
	"github.com/trunkplayer/trunkprov/internal/domain/state"
	"github.com/trunkplayer/trunkprov/internal/ports"
	"github.com/trunkplayer/trunkprov/internal/provider"
	"github.com/trunkplayer/trunkprov/internal/provider/system"
	"github.com/trunkplayer/trunkprov/internal/testutil/mocks"
)

func newDeps(reachable ...string) (provider.Deps, *mocks.CommandRunner, *mocks.PathLookup) {
	runner := mocks.NewCommandRunner()
	lookup := mocks.NewPathLookup("apt-get")
	return provider.Deps{
		Runner:   runner,
		Lookup:   lookup,
		Dialer:   mocks.NewDialer(reachable...),
		FS:       memfs.New(),
		Platform: platform.NewLinuxSystemd(runner, lookup, true),
	}, runner, lookup
}

func rc() compiler.RunContext {
	return compiler.NewRunContext(context.Background())
}

func TestInstallPackageStep(t *testing.T) {
	t.Parallel()

	deps, runner, lookup := newDeps()
	step := system.NewInstallPackageStep(deps, system.PackageParams{
		Generic:     platform.PkgNginx,
		Binary:      "nginx",
		Goal:        compiler.GoalProxy,
		Criticality: compiler.CriticalityWarn,
		Gives:       []compiler.Resource{compiler.ResNginx},
	})

	assert.Equal(t, "install-package:nginx", step.ID().String())
	assert.Equal(t, []compiler.Resource{compiler.PackageResource("nginx"), compiler.ResNginx}, step.Provides())
	assert.Equal(t, compiler.CriticalityWarn, step.Policy().Criticality)
	assert.Equal(t, compiler.TimeoutLong, step.Policy().Retry.Timeout)

	status, err := step.Check(rc())
	require.NoError(t, err)
	assert.Equal(t, compiler.StatusNeedsApply, status)

	runner.AddResult("apt-get", []string{"update", "-q"}, ports.CommandResult{})
	runner.AddResult("env", []string{"DEBIAN_FRONTEND=noninteractive", "apt-get", "install", "-y", "-q", "nginx"}, ports.CommandResult{Stdout: "Setting up nginx"})

	res, err := step.Apply(rc())
	require.NoError(t, err)
	require.Len(t, res.Created, 1)
	assert.Equal(t, state.KindSystemPackage, res.Created[0].Kind)
	assert.Equal(t, "nginx", res.Created[0].Key)
	assert.Equal(t, "nginx", res.Created[0].Param(state.ParamPackage))

	lookup.Add("nginx", "/usr/sbin/nginx")
	status, err = step.Check(rc())
	require.NoError(t, err)
	assert.Equal(t, compiler.StatusSatisfied, status)
}

func TestRemovePackageStep(t *testing.T) {
	t.Parallel()

	deps, runner, _ := newDeps()
	runner.AddResult("env", []string{"DEBIAN_FRONTEND=noninteractive", "apt-get", "remove", "-y", "-q", "postgresql", "postgresql-contrib", "libpq-dev"}, ports.CommandResult{})
	entry := state.NewEntry(state.KindSystemPackage, platform.PkgPostgres, nil)

	step := system.NewRemovePackageStep(deps, entry)
	assert.Equal(t, "remove-package:postgresql", step.ID().String())
	assert.Equal(t, compiler.EffectDestructive, step.Policy().Effect)

	res, err := step.Apply(rc())
	require.NoError(t, err)
	assert.Equal(t, []state.Ref{entry.Ref()}, res.Removed)
}

func TestStartServiceStep(t *testing.T) {
	t.Parallel()

	deps, runner, _ := newDeps()
	runner.AddSequence("systemctl", []string{"is-active", "--quiet", "supervisor"},
		ports.CommandResult{ExitCode: 3}, ports.CommandResult{ExitCode: 0})
	runner.AddResult("systemctl", []string{"enable", "--now", "supervisor"}, ports.CommandResult{})

	step := system.NewStartServiceStep(deps, system.ServiceParams{
		Generic: platform.PkgSupervisor,
		Goal:    compiler.GoalServer,
		Gives:   []compiler.Resource{compiler.ResSupervisor},
	})
	assert.Equal(t, []compiler.Resource{compiler.PackageResource("supervisor")}, step.Requires())

	status, err := step.Check(rc())
	require.NoError(t, err)
	assert.Equal(t, compiler.StatusNeedsApply, status)

	_, err = step.Apply(rc())
	require.NoError(t, err)
	assert.True(t, runner.Ran("systemctl", "enable", "--now", "supervisor"))

	status, err = step.Check(rc())
	require.NoError(t, err)
	assert.Equal(t, compiler.StatusSatisfied, status)
}

func TestDirSteps(t *testing.T) {
	t.Parallel()

	deps, runner, _ := newDeps()
	runner.SetDefault(ports.CommandResult{})

	step := system.NewDirStep(deps, system.DirParams{
		ID:         "create-log-dir",
		Kind:       state.KindLogDir,
		ProjectDir: "/srv/app",
		Path:       "/var/log/trunk-player",
		Owner:      "www-data",
		Goal:       compiler.GoalServer,
		Gives:      []compiler.Resource{compiler.ResLogDir},
	})
	res, err := step.Apply(rc())
	require.NoError(t, err)
	require.Len(t, res.Created, 1)
	assert.Equal(t, state.Ref{Kind: state.KindLogDir, Key: "/var/log/trunk-player"}, res.Created[0].Ref())
	assert.True(t, runner.Ran("mkdir", "-p", "/var/log/trunk-player"))
	assert.True(t, runner.Ran("chown", "www-data", "/var/log/trunk-player"))

	require.NoError(t, deps.FS.MkdirAll("/var/log/trunk-player", 0o755))
	status, err := step.Check(rc())
	require.NoError(t, err)
	assert.Equal(t, compiler.StatusSatisfied, status)

	remove := system.NewRemoveDirStep(deps, res.Created[0])
	assert.Equal(t, "remove-log-dir:var/log/trunk-player", remove.ID().String())
	out, err := remove.Apply(rc())
	require.NoError(t, err)
	assert.Equal(t, []state.Ref{res.Created[0].Ref()}, out.Removed)
	assert.True(t, runner.Ran("rm", "-rf", "/var/log/trunk-player"))
}

func TestRemoveDirStep_RejectsRelativePath(t *testing.T) {
	t.Parallel()

	deps, runner, _ := newDeps()
	entry := state.NewEntry(state.KindAudioDir, "audio", map[string]string{state.ParamPath: "audio"})

	_, err := system.NewRemoveDirStep(deps, entry).Apply(rc())
	require.Error(t, err)
	assert.Empty(t, runner.Calls())
}

func TestWaitStep(t *testing.T) {
	t.Parallel()

	params := system.WaitParams{
		ID:    "wait-server-ready",
		What:  "application server",
		Addr:  "127.0.0.1:8000",
		Goal:  compiler.GoalServer,
		Gives: []compiler.Resource{compiler.ResServer},
	}

	down, _, _ := newDeps()
	step := system.NewWaitStep(down, params)
	assert.Equal(t, compiler.EffectReadOnly, step.Policy().Effect)
	assert.Equal(t, compiler.ReadinessAttempts, step.Policy().Attempts())

	status, err := step.Check(rc())
	require.NoError(t, err)
	assert.Equal(t, compiler.StatusNeedsApply, status)
	_, err = step.Apply(rc())
	assert.ErrorContains(t, err, "application server not ready")

	up, _, _ := newDeps("127.0.0.1:8000")
	res, err := system.NewWaitStep(up, params).Apply(rc())
	require.NoError(t, err)
	assert.Contains(t, res.Output, "accepting connections")
	assert.Equal(t, 0, up.Dialer.(*mocks.Dialer).Open())
}
