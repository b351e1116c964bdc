package django_test

import (
	"context"
	"strings"
	"testing"

	"github.com/go-git/go-billy/v5/memfs"
	"github.com/go-git/go-billy/v5/util"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trunkplayer/trunkprov/internal/domain/compiler"
	"github.com/trunkplayer/trunkprov/internal/domain/settings"
	"github.com/trunkplayer/trunkprov/internal/ports"
	"github.com/trunkplayer/trunkprov/internal/provider"
	"github.com/trunkplayer/trunkprov/internal/provider/django"
	"github.com/trunkplayer/trunkprov/internal/testutil/mocks"
)

const template = `SECRET_KEY = 'REPLACE_WITH_SECRET_KEY'
ALLOWED_HOSTS = []
AUDIO_DIR = ''
# BEGIN DATABASES
DATABASES = {}
# END DATABASES
`

var params = django.Params{
	ProjectDir:   "/srv/app",
	Python:       "/srv/app/venv/bin/python",
	AllowedHosts: []string{"localhost", "127.0.0.1"},
	AudioDir:     "/srv/audio",
}

func newDeps(t *testing.T, withTemplate bool) (provider.Deps, *mocks.CommandRunner) {
	t.Helper()
	fs := memfs.New()
	if withTemplate {
		require.NoError(t, util.WriteFile(fs, "/srv/app/"+settings.TemplatePath, []byte(template), 0o644))
	}
	runner := mocks.NewCommandRunner()
	return provider.Deps{Runner: runner, FS: fs}, runner
}

func rc() compiler.RunContext {
	return compiler.NewRunContext(context.Background())
}

func read(t *testing.T, deps provider.Deps) string {
	t.Helper()
	content, err := settings.NewFile(deps.FS, "/srv/app").Read()
	require.NoError(t, err)
	return content
}

func TestWriteSettingsStep(t *testing.T) {
	t.Parallel()

	deps, _ := newDeps(t, true)
	step := django.NewWriteSettingsStep(deps, params)

	status, err := step.Check(rc())
	require.NoError(t, err)
	assert.Equal(t, compiler.StatusNeedsApply, status)

	res, err := step.Apply(rc())
	require.NoError(t, err)
	assert.Empty(t, res.Anomalies)
	assert.Contains(t, res.Output, "from template")

	content := read(t, deps)
	assert.Contains(t, content, "ALLOWED_HOSTS = ['localhost', '127.0.0.1']")
	assert.Contains(t, content, "AUDIO_DIR = '/srv/audio'")

	status, err = step.Check(rc())
	require.NoError(t, err)
	assert.Equal(t, compiler.StatusSatisfied, status)

	res, err = step.Apply(rc())
	require.NoError(t, err)
	assert.Empty(t, res.Output)
	assert.Equal(t, content, read(t, deps), "reapplying is a no-op")
}

func TestWriteSettingsStep_NoTemplate(t *testing.T) {
	t.Parallel()

	deps, _ := newDeps(t, false)
	step := django.NewWriteSettingsStep(deps, params)

	status, err := step.Check(rc())
	require.NoError(t, err)
	assert.Equal(t, compiler.StatusUnmet, status)

	_, err = step.Apply(rc())
	assert.ErrorIs(t, err, settings.ErrTemplateMissing)
}

func TestWriteSettingsStep_RejectsBadHost(t *testing.T) {
	t.Parallel()

	deps, _ := newDeps(t, true)
	bad := params
	bad.AllowedHosts = []string{"evil'] + __import__('os')"}
	_, err := django.NewWriteSettingsStep(deps, bad).Apply(rc())
	require.Error(t, err)
	assert.False(t, settings.NewFile(deps.FS, "/srv/app").Exists())
}

func TestWriteSettingsStep_MissingMarkerIsAnomaly(t *testing.T) {
	t.Parallel()

	deps, _ := newDeps(t, false)
	require.NoError(t, util.WriteFile(deps.FS, "/srv/app/"+settings.LocalPath, []byte("ALLOWED_HOSTS = []\n"), 0o600))

	res, err := django.NewWriteSettingsStep(deps, params).Apply(rc())
	require.NoError(t, err)
	require.Len(t, res.Anomalies, 1)
	assert.Contains(t, res.Anomalies[0], "AUDIO_DIR")
}

func TestGenerateSecretStep(t *testing.T) {
	t.Parallel()

	deps, _ := newDeps(t, true)
	_, err := django.NewWriteSettingsStep(deps, params).Apply(rc())
	require.NoError(t, err)

	step := django.NewGenerateSecretStep(deps, params)
	status, err := step.Check(rc())
	require.NoError(t, err)
	assert.Equal(t, compiler.StatusNeedsApply, status)

	res, err := step.Apply(rc())
	require.NoError(t, err)

	key, ok := settings.SecretKeyValue(read(t, deps))
	require.True(t, ok)
	assert.Len(t, key, settings.SecretKeyLength)
	assert.NotContains(t, res.Output, key, "the secret never appears in output")
	assert.Contains(t, res.Output, settings.Fingerprint(key))

	status, err = step.Check(rc())
	require.NoError(t, err)
	assert.Equal(t, compiler.StatusSatisfied, status)
}

func TestMigrateStep(t *testing.T) {
	t.Parallel()

	deps, runner := newDeps(t, true)
	check := []string{"/srv/app/manage.py", "migrate", "--check", "--noinput"}
	runner.AddSequence(params.Python, check, ports.CommandResult{ExitCode: 1}, ports.CommandResult{})
	runner.AddResult(params.Python, []string{"/srv/app/manage.py", "migrate", "--noinput"}, ports.CommandResult{Stdout: "Applying calls.0001_initial... OK"})

	step := django.NewMigrateStep(deps, params)
	assert.Equal(t, compiler.GoalDatabase, step.Goal())

	status, err := step.Check(rc())
	require.NoError(t, err)
	assert.Equal(t, compiler.StatusNeedsApply, status)

	res, err := step.Apply(rc())
	require.NoError(t, err)
	assert.Contains(t, res.Output, "OK")

	status, err = step.Check(rc())
	require.NoError(t, err)
	assert.Equal(t, compiler.StatusSatisfied, status)
}

func TestCollectStaticStep(t *testing.T) {
	t.Parallel()

	deps, runner := newDeps(t, true)
	dry := []string{"/srv/app/manage.py", "collectstatic", "--noinput", "--dry-run"}
	runner.AddSequence(params.Python, dry,
		ports.CommandResult{Stdout: "Pretending to copy 'x.css'\n\n128 static files copied to '/srv/app/static'."},
		ports.CommandResult{Stdout: "\n0 static files copied to '/srv/app/static', 128 unmodified."})
	runner.AddResult(params.Python, []string{"/srv/app/manage.py", "collectstatic", "--noinput"}, ports.CommandResult{Stdout: "128 static files copied"})

	step := django.NewCollectStaticStep(deps, params)
	assert.Equal(t, compiler.CriticalityWarn, step.Policy().Criticality)

	status, err := step.Check(rc())
	require.NoError(t, err)
	assert.Equal(t, compiler.StatusNeedsApply, status)

	res, err := step.Apply(rc())
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(res.Output, "128"))

	status, err = step.Check(rc())
	require.NoError(t, err)
	assert.Equal(t, compiler.StatusSatisfied, status)
}
