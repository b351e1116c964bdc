package install_test

import (
	"context"
	"testing"

	"github.com/go-git/go-billy/v5/memfs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trunkplayer/trunkprov/internal/domain/capability"
	"github.com/trunkplayer/trunkprov/internal/domain/compiler"
	"github.com/trunkplayer/trunkprov/internal/domain/config"
	"github.com/trunkplayer/trunkprov/internal/domain/execution"
	"github.com/trunkplayer/trunkprov/internal/domain/install"
	"github.com/trunkplayer/trunkprov/internal/domain/platform"
	"github.com/trunkplayer/trunkprov/internal/provider"
	"github.com/trunkplayer/trunkprov/internal/testutil/mocks"
)

func newBuilder(confirmer *mocks.Confirmer) *install.Builder {
	runner := mocks.NewCommandRunner()
	lookup := mocks.NewPathLookup("apt-get", "python3")
	deps := provider.Deps{
		Runner:   runner,
		Lookup:   lookup,
		Dialer:   mocks.NewDialer(),
		FS:       memfs.New(),
		Platform: platform.NewLinuxSystemd(runner, lookup, true),
	}
	return install.NewBuilder(deps, confirmer).WithRunID(func() string { return "run-1" })
}

func baseConfig() *config.Config {
	return &config.Config{
		ProjectDir: "/srv/trunk-player",
		Output:     config.FormatText,
		Python:     config.PythonConfig{Binary: "python3", MinVersion: "3.8"},
		Venv:       config.VenvConfig{Dir: "venv", Requirements: "requirements.txt"},
		Database: config.DatabaseConfig{
			Engine:         config.EngineAuto,
			ExistingPolicy: config.PolicyAsk,
			Name:           "trunk_player",
			User:           "trunk_player",
			Host:           "localhost",
			Port:           5432,
			SQLitePath:     "db.sqlite3",
		},
		Web: config.WebConfig{
			AllowedHosts: []string{"localhost"},
			ServerNames:  []string{"localhost"},
			ListenPort:   80,
			SiteName:     "trunk_player",
		},
		Server: config.ServerConfig{
			Program: "trunk_player",
			Bind:    "127.0.0.1:7055",
			User:    "radio",
			LogDir:  "/var/log/trunk_player",
		},
	}
}

func up(name capability.Name) capability.Capability {
	return capability.Capability{Name: name, Installed: true, Running: true, Version: "3.11.4"}
}

func fullHost() capability.Set {
	return capability.Set{
		capability.Python:     up(capability.Python),
		capability.Postgres:   up(capability.Postgres),
		capability.Nginx:      up(capability.Nginx),
		capability.Supervisor: up(capability.Supervisor),
	}
}

func build(t *testing.T, b *install.Builder, cfg *config.Config, caps capability.Set) (*execution.Plan, install.Decisions) {
	t.Helper()
	plan, dec, err := b.Build(context.Background(), cfg, caps)
	require.NoError(t, err)
	return plan, dec
}

func TestBuild_PostgresWithServices(t *testing.T) {
	t.Parallel()

	plan, dec := build(t, newBuilder(mocks.NewConfirmer(false)), baseConfig(), fullHost())

	assert.Equal(t, "run-1", plan.RunID())
	assert.Equal(t, execution.KindInstall, plan.Kind())
	assert.Equal(t, config.EnginePostgres, dec.Engine)
	assert.True(t, dec.Fallback)
	assert.Equal(t, []string{
		"create-venv",
		"install-deps",
		"write-settings",
		"generate-secret",
		"postgres-credentials",
		"pg-create-database",
		"run-migrations",
		"collect-static",
		"configure-nginx",
		"enable-nginx-site",
		"reload-nginx",
		"create-log-dir",
		"configure-supervisor",
		"reload-supervisor",
		"wait-server-ready",
	}, plan.PrimaryStepIDs())
	assert.True(t, plan.HasFallbacks(install.PostgresGroup))
	assert.True(t, plan.Contains("write-sqlite-config"))
	assert.Len(t, plan.Goals(), 4)
}

func TestBuild_PostgresUnreachableUsesSQLite(t *testing.T) {
	t.Parallel()

	caps := fullHost()
	caps[capability.Postgres] = capability.Capability{Name: capability.Postgres, Installed: true}

	plan, dec := build(t, newBuilder(mocks.NewConfirmer(false)), baseConfig(), caps)

	assert.Equal(t, config.EngineSQLite, dec.Engine)
	assert.False(t, dec.Fallback)
	assert.True(t, plan.Contains("write-sqlite-config"))
	assert.False(t, plan.Contains("postgres-credentials"))
	assert.False(t, plan.Contains("pg-create-database"))
	assert.False(t, plan.Contains("start-service:postgresql"))
	assert.NotEmpty(t, dec.Notes)
}

func TestBuild_ForcedPostgresStartsServer(t *testing.T) {
	t.Parallel()

	cfg := baseConfig()
	cfg.Database.Engine = config.EnginePostgres
	caps := fullHost()
	delete(caps, capability.Postgres)

	plan, _ := build(t, newBuilder(mocks.NewConfirmer(false)), cfg, caps)

	ids := plan.StepIDs()
	assert.Equal(t, []string{"install-package:postgresql", "start-service:postgresql", "wait-database-ready"},
		ids[4:7])
}

func TestBuild_ExistingDatabase(t *testing.T) {
	t.Parallel()

	existing := func() capability.Set {
		caps := fullHost()
		caps[capability.PostgresDatabase] = capability.Capability{Name: capability.PostgresDatabase, Installed: true}
		caps[capability.PostgresRole] = capability.Capability{Name: capability.PostgresRole, Installed: true}
		return caps
	}

	t.Run("interactive default reuses", func(t *testing.T) {
		t.Parallel()
		confirmer := mocks.NewConfirmer(true)
		plan, dec := build(t, newBuilder(confirmer), baseConfig(), existing())

		assert.Equal(t, []string{install.ExistingDatabasePrompt}, confirmer.Asked())
		assert.Equal(t, config.PolicyReuseExisting, dec.ExistingPolicy)
		assert.False(t, plan.Contains("pg-drop-database"))
		assert.True(t, plan.Contains("postgres-credentials"))
	})

	t.Run("drop and recreate", func(t *testing.T) {
		t.Parallel()
		confirmer := mocks.NewConfirmer(true)
		confirmer.AnswerChoose(install.ExistingDatabasePrompt, string(config.PolicyDropRecreate))
		plan, dec := build(t, newBuilder(confirmer), baseConfig(), existing())

		assert.Equal(t, config.PolicyDropRecreate, dec.ExistingPolicy)
		ids := plan.StepIDs()
		assert.Equal(t, []string{"pg-drop-database", "pg-drop-role", "postgres-credentials", "pg-create-database"},
			ids[4:8])
	})

	t.Run("skip database setup", func(t *testing.T) {
		t.Parallel()
		cfg := baseConfig()
		cfg.Database.ExistingPolicy = config.PolicySkipDBSetup
		confirmer := mocks.NewConfirmer(true)
		plan, dec := build(t, newBuilder(confirmer), cfg, existing())

		assert.Empty(t, confirmer.Asked())
		assert.Equal(t, config.PolicySkipDBSetup, dec.ExistingPolicy)
		assert.False(t, plan.Contains("postgres-credentials"))
		assert.False(t, plan.Contains("write-sqlite-config"))
		assert.True(t, plan.Contains("run-migrations"))
	})

	t.Run("non-interactive reuses without asking", func(t *testing.T) {
		t.Parallel()
		cfg := baseConfig()
		cfg.NonInteractive = true
		confirmer := mocks.NewConfirmer(false)
		_, dec := build(t, newBuilder(confirmer), cfg, existing())

		assert.Empty(t, confirmer.Asked())
		assert.Equal(t, config.PolicyReuseExisting, dec.ExistingPolicy)
	})
}

func TestBuild_SkipServices(t *testing.T) {
	t.Parallel()

	cfg := baseConfig()
	cfg.SkipServices = true
	plan, dec := build(t, newBuilder(mocks.NewConfirmer(false)), cfg, capability.Set{
		capability.Python: up(capability.Python),
	})

	goals := plan.Goals()
	assert.False(t, goals[compiler.GoalProxy])
	assert.False(t, goals[compiler.GoalServer])
	assert.Equal(t, "collect-static", plan.StepIDs()[plan.Len()-1])
	assert.Contains(t, dec.Notes[len(dec.Notes)-1], "service setup skipped")
}

func TestBuild_MissingServices(t *testing.T) {
	t.Parallel()

	plan, _ := build(t, newBuilder(mocks.NewConfirmer(false)), baseConfig(), capability.Set{
		capability.Python: up(capability.Python),
	})

	for _, id := range []string{
		"install-package:nginx", "start-service:nginx",
		"install-package:supervisor", "start-service:supervisor",
	} {
		assert.True(t, plan.Contains(id), id)
	}
	assert.Less(t, indexOf(plan.StepIDs(), "start-service:nginx"), indexOf(plan.StepIDs(), "configure-nginx"))
}

func TestBuild_Python(t *testing.T) {
	t.Parallel()

	t.Run("missing interpreter is installed first", func(t *testing.T) {
		t.Parallel()
		cfg := baseConfig()
		cfg.SkipServices = true
		plan, _ := build(t, newBuilder(mocks.NewConfirmer(false)), cfg, capability.Set{})
		assert.Equal(t, "install-package:python", plan.StepIDs()[0])
	})

	t.Run("old interpreter is an invocation error", func(t *testing.T) {
		t.Parallel()
		old := up(capability.Python)
		old.Version = "3.6.9"
		_, _, err := newBuilder(mocks.NewConfirmer(false)).Build(context.Background(), baseConfig(),
			capability.Set{capability.Python: old})
		require.Error(t, err)
		ue := config.GetUserError(err)
		require.NotNil(t, ue)
		assert.Equal(t, config.ErrCodeInvalidInvocation, ue.Code)
	})
}

func TestBuild_BrokenVenvIsRecreated(t *testing.T) {
	t.Parallel()

	cfg := baseConfig()
	cfg.SkipServices = true
	caps := capability.Set{
		capability.Python: up(capability.Python),
		capability.Venv:   {Name: capability.Venv, Installed: true},
	}
	plan, _ := build(t, newBuilder(mocks.NewConfirmer(false)), cfg, caps)

	assert.Equal(t, "recreate-venv", plan.StepIDs()[0])
	assert.False(t, plan.Contains("create-venv"))
}

func TestBuild_VenvPackages(t *testing.T) {
	t.Parallel()

	installDeps := func(plan *execution.Plan) compiler.Step {
		for _, step := range plan.Steps() {
			if step.ID().String() == "install-deps" {
				return step
			}
		}
		t.Fatal("install-deps not planned")
		return nil
	}

	cfg := baseConfig()
	cfg.SkipServices = true

	t.Run("import check fails", func(t *testing.T) {
		t.Parallel()
		caps := capability.Set{
			capability.Python:       up(capability.Python),
			capability.Venv:         up(capability.Venv),
			capability.VenvPackages: {Name: capability.VenvPackages, Detail: "import check failed: No module named 'django'"},
		}
		plan, dec := build(t, newBuilder(mocks.NewConfirmer(false)), cfg, caps)

		assert.Equal(t, "create-venv", plan.StepIDs()[0])
		assert.Equal(t, "Reinstall Python dependencies from requirements.txt", installDeps(plan).Description())
		assert.Contains(t, dec.Notes, "venv packages fail the import check: reinstalling dependencies")
	})

	t.Run("packages import", func(t *testing.T) {
		t.Parallel()
		caps := capability.Set{
			capability.Python:       up(capability.Python),
			capability.Venv:         up(capability.Venv),
			capability.VenvPackages: up(capability.VenvPackages),
		}
		plan, dec := build(t, newBuilder(mocks.NewConfirmer(false)), cfg, caps)

		assert.Equal(t, "Install Python dependencies from requirements.txt", installDeps(plan).Description())
		assert.NotContains(t, dec.Notes, "venv packages fail the import check: reinstalling dependencies")
	})

	t.Run("broken interpreter recreates instead", func(t *testing.T) {
		t.Parallel()
		caps := capability.Set{
			capability.Python:       up(capability.Python),
			capability.Venv:         {Name: capability.Venv, Installed: true},
			capability.VenvPackages: {Name: capability.VenvPackages},
		}
		plan, _ := build(t, newBuilder(mocks.NewConfirmer(false)), cfg, caps)

		assert.Equal(t, "recreate-venv", plan.StepIDs()[0])
		assert.Equal(t, "Install Python dependencies from requirements.txt", installDeps(plan).Description())
	})
}

func TestBuild_AudioDir(t *testing.T) {
	t.Parallel()

	cfg := baseConfig()
	cfg.SkipServices = true
	cfg.AudioDir = "/srv/audio"
	plan, _ := build(t, newBuilder(mocks.NewConfirmer(false)), cfg, capability.Set{
		capability.Python: up(capability.Python),
	})

	ids := plan.StepIDs()
	assert.Less(t, indexOf(ids, "create-audio-dir"), indexOf(ids, "write-settings"))
}

func TestAvailable(t *testing.T) {
	t.Parallel()

	set := install.Available(capability.Set{
		capability.Python: up(capability.Python),
		capability.Nginx:  {Name: capability.Nginx, Installed: true},
	})

	assert.True(t, set.Has(compiler.ResPython))
	assert.True(t, set.Has(compiler.ResNginx))
	assert.True(t, set.Has(compiler.PackageResource(platform.PkgNginx)))
	assert.False(t, set.Has(compiler.ServiceResource(platform.PkgNginx)))
	assert.False(t, set.Has(compiler.ResPostgres))
}

func indexOf(ids []string, id string) int {
	for i, v := range ids {
		if v == id {
			return i
		}
	}
	return -1
}
