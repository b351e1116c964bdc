package nginx_test

import (
	"context"
	"testing"

	"github.com/go-git/go-billy/v5/memfs"
	"github.com/go-git/go-billy/v5/util"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trunkplayer/trunkprov/internal/domain/compiler"
	"github.com/trunkplayer/trunkprov/internal/domain/platform"
	"github.com/trunkplayer/trunkprov/internal/domain/state"
	"github.com/trunkplayer/trunkprov/internal/ports"
	"github.com/trunkplayer/trunkprov/internal/provider"
	"github.com/trunkplayer/trunkprov/internal/provider/nginx"
	"github.com/trunkplayer/trunkprov/internal/testutil/mocks"
)

const (
	siteFile = "/etc/nginx/sites-available/trunk_player"
	siteLink = "/etc/nginx/sites-enabled/trunk_player"
)

var (
	isActive   = []string{"is-active", "--quiet", "nginx"}
	notRunning = ports.CommandResult{ExitCode: 3}
)

func site() nginx.Site {
	return nginx.Site{
		Name:        "trunk_player",
		ServerNames: []string{"radio.example.org", "localhost"},
		ListenPort:  80,
		StaticRoot:  "/srv/app/static",
		Upstream:    "127.0.0.1:7055",
	}
}

func newDeps() (provider.Deps, *mocks.CommandRunner) {
	runner := mocks.NewCommandRunner()
	lookup := mocks.NewPathLookup("apt-get", "nginx")
	return provider.Deps{
		Runner:   runner,
		Lookup:   lookup,
		FS:       memfs.New(),
		Platform: platform.NewLinuxSystemd(runner, lookup, true),
	}, runner
}

func rc() compiler.RunContext {
	return compiler.NewRunContext(context.Background())
}

func TestSite_Render(t *testing.T) {
	t.Parallel()

	out, err := site().Render()
	require.NoError(t, err)
	assert.Contains(t, out, "listen 80;")
	assert.Contains(t, out, "server_name radio.example.org localhost;")
	assert.Contains(t, out, "alias /srv/app/static/;")
	assert.Contains(t, out, "proxy_pass http://127.0.0.1:7055;")
	assert.NotContains(t, out, "audio_files")

	withAudio := site()
	withAudio.AudioDir = "/var/lib/trunk/audio"
	out, err = withAudio.Render()
	require.NoError(t, err)
	assert.Contains(t, out, "location /audio_files/ {\n        alias /var/lib/trunk/audio/;")
}

func TestSite_Validate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		mutate func(*nginx.Site)
	}{
		{"bad name", func(s *nginx.Site) { s.Name = "trunk player" }},
		{"no server names", func(s *nginx.Site) { s.ServerNames = nil }},
		{"injected server name", func(s *nginx.Site) { s.ServerNames = []string{"a.org; return 301"} }},
		{"port", func(s *nginx.Site) { s.ListenPort = 0 }},
		{"relative static", func(s *nginx.Site) { s.StaticRoot = "static" }},
		{"directive in path", func(s *nginx.Site) { s.AudioDir = "/srv/a;b" }},
		{"upstream without port", func(s *nginx.Site) { s.Upstream = "127.0.0.1" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			s := site()
			tt.mutate(&s)
			assert.Error(t, s.Validate())
		})
	}
}

func TestPaths(t *testing.T) {
	t.Parallel()

	file, link := nginx.Paths(platform.NginxDirs{Available: "/etc/nginx/sites-available", Enabled: "/etc/nginx/sites-enabled"}, "tp")
	assert.Equal(t, "/etc/nginx/sites-available/tp", file)
	assert.Equal(t, "/etc/nginx/sites-enabled/tp", link)

	file, link = nginx.Paths(platform.NginxDirs{Available: "/opt/homebrew/etc/nginx/servers"}, "tp")
	assert.Equal(t, "/opt/homebrew/etc/nginx/servers/tp.conf", file)
	assert.Empty(t, link)
}

func TestConfigureStep_NewSite(t *testing.T) {
	t.Parallel()

	deps, runner := newDeps()
	runner.AddResult("tee", []string{siteFile}, ports.CommandResult{})
	runner.AddResult("chmod", []string{"644", siteFile}, ports.CommandResult{})
	changes := &provider.Changes{}

	step := nginx.NewConfigureStep(deps, site(), changes)
	assert.Equal(t, compiler.CriticalityWarn, step.Policy().Criticality)
	assert.Equal(t, compiler.GoalProxy, step.Goal())

	status, err := step.Check(rc())
	require.NoError(t, err)
	assert.Equal(t, compiler.StatusNeedsApply, status)

	res, err := step.Apply(rc())
	require.NoError(t, err)
	require.Len(t, res.Created, 1)
	assert.Equal(t, state.KindNginxSite, res.Created[0].Kind)
	assert.Equal(t, siteFile, res.Created[0].Param(state.ParamPath))
	assert.Equal(t, siteLink, res.Created[0].Param(state.ParamEnabledLink))
	assert.True(t, changes.Any())

	want, err := site().Render()
	require.NoError(t, err)
	var stdin string
	for _, c := range runner.Calls() {
		if c.Command == "tee" {
			stdin = c.Stdin
		}
	}
	assert.Equal(t, want, stdin)
}

func TestConfigureStep_ExistingSite(t *testing.T) {
	t.Parallel()

	deps, runner := newDeps()
	want, err := site().Render()
	require.NoError(t, err)
	require.NoError(t, util.WriteFile(deps.FS, siteFile, []byte(want), 0o644))
	changes := &provider.Changes{}
	step := nginx.NewConfigureStep(deps, site(), changes)

	status, err := step.Check(rc())
	require.NoError(t, err)
	assert.Equal(t, compiler.StatusSatisfied, status)

	require.NoError(t, util.WriteFile(deps.FS, siteFile, []byte("server {}\n"), 0o644))
	status, err = step.Check(rc())
	require.NoError(t, err)
	assert.Equal(t, compiler.StatusNeedsApply, status)

	runner.SetDefault(ports.CommandResult{})
	res, err := step.Apply(rc())
	require.NoError(t, err)
	assert.Empty(t, res.Created, "a file that already existed is not claimed")
}

func TestEnableStep(t *testing.T) {
	t.Parallel()

	deps, runner := newDeps()
	changes := &provider.Changes{}
	step := nginx.NewEnableStep(deps, "trunk_player", changes)

	status, err := step.Check(rc())
	require.NoError(t, err)
	assert.Equal(t, compiler.StatusNeedsApply, status)

	runner.AddResult("ln", []string{"-sfn", siteFile, siteLink}, ports.CommandResult{})
	_, err = step.Apply(rc())
	require.NoError(t, err)
	assert.True(t, changes.Any())

	require.NoError(t, deps.FS.Symlink(siteFile, siteLink))
	status, err = step.Check(rc())
	require.NoError(t, err)
	assert.Equal(t, compiler.StatusSatisfied, status)
}

func TestReloadStep(t *testing.T) {
	t.Parallel()

	t.Run("unchanged and running is satisfied", func(t *testing.T) {
		t.Parallel()
		deps, runner := newDeps()
		runner.AddResult("systemctl", isActive, ports.CommandResult{})

		status, err := nginx.NewReloadStep(deps, &provider.Changes{}).Check(rc())
		require.NoError(t, err)
		assert.Equal(t, compiler.StatusSatisfied, status)
	})

	t.Run("changed config reloads", func(t *testing.T) {
		t.Parallel()
		deps, runner := newDeps()
		runner.AddResult("nginx", []string{"-t"}, ports.CommandResult{Stderr: "syntax is ok"})
		runner.AddResult("systemctl", isActive, ports.CommandResult{})
		runner.AddResult("systemctl", []string{"reload", "nginx"}, ports.CommandResult{})
		changes := &provider.Changes{}
		changes.Mark()
		step := nginx.NewReloadStep(deps, changes)

		status, err := step.Check(rc())
		require.NoError(t, err)
		assert.Equal(t, compiler.StatusNeedsApply, status)

		_, err = step.Apply(rc())
		require.NoError(t, err)
		assert.Equal(t, 1, runner.CallCount("systemctl", "reload", "nginx"))
	})

	t.Run("stopped nginx is started", func(t *testing.T) {
		t.Parallel()
		deps, runner := newDeps()
		runner.AddResult("nginx", []string{"-t"}, ports.CommandResult{})
		runner.AddResult("systemctl", isActive, notRunning)
		runner.AddResult("systemctl", []string{"enable", "--now", "nginx"}, ports.CommandResult{})

		_, err := nginx.NewReloadStep(deps, &provider.Changes{}).Apply(rc())
		require.NoError(t, err)
		assert.True(t, runner.Ran("systemctl", "enable", "--now", "nginx"))
	})

	t.Run("failed config test stops the reload", func(t *testing.T) {
		t.Parallel()
		deps, runner := newDeps()
		runner.AddResult("nginx", []string{"-t"}, ports.CommandResult{ExitCode: 1, Stderr: "unexpected }"})

		_, err := nginx.NewReloadStep(deps, &provider.Changes{}).Apply(rc())
		require.ErrorContains(t, err, "configuration test failed")
		assert.False(t, runner.Ran("systemctl", "reload"))
	})
}

func TestRemoveSiteStep(t *testing.T) {
	t.Parallel()

	deps, runner := newDeps()
	runner.AddResult("rm", []string{"-rf", siteLink}, ports.CommandResult{})
	runner.AddResult("rm", []string{"-rf", siteFile}, ports.CommandResult{})
	runner.AddResult("systemctl", isActive, ports.CommandResult{})
	runner.AddResult("systemctl", []string{"reload", "nginx"}, ports.CommandResult{ExitCode: 1, Stderr: "failed"})

	entry := state.NewEntry(state.KindNginxSite, "trunk_player", map[string]string{
		state.ParamPath:        siteFile,
		state.ParamEnabledLink: siteLink,
	})
	step := nginx.NewRemoveSiteStep(deps, entry)
	assert.Equal(t, "remove-nginx-site:trunk_player", step.ID().String())
	assert.Equal(t, compiler.EffectDestructive, step.Policy().Effect)

	res, err := step.Apply(rc())
	require.NoError(t, err)
	assert.Equal(t, []state.Ref{entry.Ref()}, res.Removed)
	require.Len(t, res.Anomalies, 1)
	assert.Contains(t, res.Anomalies[0], "reload")
}
