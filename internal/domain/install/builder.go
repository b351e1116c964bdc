// Package install turns the desired configuration and the probed host into
// an install plan. Building never changes the host.
package install

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/trunkplayer/trunkprov/internal/domain/capability"
	"github.com/trunkplayer/trunkprov/internal/domain/compiler"
	"github.com/trunkplayer/trunkprov/internal/domain/config"
	"github.com/trunkplayer/trunkprov/internal/domain/execution"
	"github.com/trunkplayer/trunkprov/internal/domain/platform"
	"github.com/trunkplayer/trunkprov/internal/domain/state"
	"github.com/trunkplayer/trunkprov/internal/ports"
	"github.com/trunkplayer/trunkprov/internal/provider"
	"github.com/trunkplayer/trunkprov/internal/provider/django"
	"github.com/trunkplayer/trunkprov/internal/provider/nginx"
	"github.com/trunkplayer/trunkprov/internal/provider/postgres"
	"github.com/trunkplayer/trunkprov/internal/provider/sqlite"
	"github.com/trunkplayer/trunkprov/internal/provider/supervisor"
	"github.com/trunkplayer/trunkprov/internal/provider/system"
	"github.com/trunkplayer/trunkprov/internal/provider/venv"
)

// PostgresGroup names the plan group holding the PostgreSQL steps. Its
// fallback entries configure SQLite instead.
const PostgresGroup = "postgres"

// ExistingDatabasePrompt is asked when the database or role already exists.
const ExistingDatabasePrompt = "A PostgreSQL database or role for this project already exists. What should happen to it?"

// Decisions records the choices the builder made, for reporting.
type Decisions struct {
	Engine         config.Engine
	ExistingPolicy config.ExistingPolicy
	// Fallback is true when SQLite backs up the PostgreSQL group.
	Fallback bool
	Notes    []string
}

// Builder assembles install plans.
type Builder struct {
	deps      provider.Deps
	confirmer ports.Confirmer
	newRunID  func() string
}

// NewBuilder creates a Builder.
func NewBuilder(deps provider.Deps, confirmer ports.Confirmer) *Builder {
	return &Builder{deps: deps, confirmer: confirmer, newRunID: uuid.NewString}
}

// WithRunID returns a copy that stamps plans with fixed ids.
func (b *Builder) WithRunID(fn func() string) *Builder {
	c := *b
	c.newRunID = fn
	return &c
}

// Build returns the ordered install plan. The plan is validated before it
// is returned: every step's requirements are met by an earlier step or by
// the probed host.
func (b *Builder) Build(ctx context.Context, cfg *config.Config, caps capability.Set) (*execution.Plan, Decisions, error) {
	plan := execution.NewPlan(execution.KindInstall, b.newRunID())
	var dec Decisions
	available := Available(caps)

	if err := b.python(plan, cfg, caps); err != nil {
		return nil, dec, err
	}
	b.environment(plan, cfg, caps, &dec)

	if err := b.database(ctx, plan, cfg, caps, available, &dec); err != nil {
		return nil, dec, err
	}

	plan.AddSteps(django.NewCollectStaticStep(b.deps, b.djangoParams(cfg)))

	if cfg.SkipServices {
		dec.Notes = append(dec.Notes, "service setup skipped: nginx, supervisor and the server are not configured")
	} else {
		b.services(plan, cfg, caps)
	}

	if err := plan.Validate(available); err != nil {
		return nil, dec, err
	}
	b.log(ctx).Info(ctx, "install plan built",
		ports.F("run_id", plan.RunID()),
		ports.F("steps", plan.Len()),
		ports.F("engine", string(dec.Engine)),
		ports.F("existing_policy", string(dec.ExistingPolicy)))
	return plan, dec, nil
}

// Available lists what the probed host already provides.
func Available(caps capability.Set) compiler.ResourceSet {
	set := compiler.NewResourceSet()
	if caps.Installed(capability.Python) {
		set.Add(compiler.ResPython, compiler.PackageResource(platform.PkgPython))
	}
	if caps.Installed(capability.Postgres) {
		set.Add(compiler.PackageResource(platform.PkgPostgres))
	}
	if caps.Running(capability.Postgres) {
		set.Add(compiler.ResPostgres, compiler.ServiceResource(platform.PkgPostgres))
	}
	for name, generic := range map[capability.Name]string{
		capability.Nginx:      platform.PkgNginx,
		capability.Supervisor: platform.PkgSupervisor,
	} {
		if caps.Installed(name) {
			set.Add(compiler.PackageResource(generic))
		}
		if caps.Running(name) {
			set.Add(compiler.ServiceResource(generic))
		}
	}
	if caps.Installed(capability.Nginx) {
		set.Add(compiler.ResNginx)
	}
	if caps.Installed(capability.Supervisor) {
		set.Add(compiler.ResSupervisor)
	}
	return set
}

func (b *Builder) python(plan *execution.Plan, cfg *config.Config, caps capability.Set) error {
	py := caps.Get(capability.Python)
	if !py.Installed {
		plan.AddSteps(system.NewInstallPackageStep(b.deps, system.PackageParams{
			Generic: platform.PkgPython,
			Binary:  cfg.Python.Binary,
			Goal:    compiler.GoalEnvironment,
			Gives:   []compiler.Resource{compiler.ResPython},
		}))
		return nil
	}
	if py.Version != "" && !capability.MeetsMinimum(py, cfg.Python.MinVersion) {
		return config.NewInvocationError(
			fmt.Sprintf("python %s is older than the required %s", py.Version, cfg.Python.MinVersion),
			"Install a newer python3 or point python.binary at one.")
	}
	return nil
}

func (b *Builder) venvParams(cfg *config.Config) venv.Params {
	return venv.Params{
		ProjectDir:   cfg.ProjectDir,
		Dir:          cfg.VenvPath(),
		Python:       cfg.Python.Binary,
		Requirements: cfg.RequirementsPath(),
	}
}

func (b *Builder) djangoParams(cfg *config.Config) django.Params {
	return django.Params{
		ProjectDir:   cfg.ProjectDir,
		Python:       cfg.VenvPython(),
		AllowedHosts: cfg.Web.AllowedHosts,
		AudioDir:     cfg.AudioDir,
	}
}

// environment adds the venv, dependencies, audio directory and settings.
func (b *Builder) environment(plan *execution.Plan, cfg *config.Config, caps capability.Set, dec *Decisions) {
	vp := b.venvParams(cfg)
	v := caps.Get(capability.Venv)
	if v.Installed && !v.Running {
		plan.AddSteps(venv.NewRecreateStep(b.deps, vp))
	} else {
		plan.AddSteps(venv.NewCreateStep(b.deps, vp))
	}
	force := cfg.Venv.ForceReinstall
	if v.Installed && v.Running && !caps.Installed(capability.VenvPackages) {
		force = true
		dec.Notes = append(dec.Notes, "venv packages fail the import check: reinstalling dependencies")
	}
	plan.AddSteps(venv.NewInstallDepsStep(b.deps, vp, force))

	if cfg.AudioDir != "" {
		plan.AddSteps(system.NewDirStep(b.deps, system.DirParams{
			ID:         "create-audio-dir",
			Kind:       state.KindAudioDir,
			ProjectDir: cfg.ProjectDir,
			Path:       cfg.AudioDir,
			Owner:      cfg.Server.User,
			Goal:       compiler.GoalEnvironment,
			Gives:      []compiler.Resource{compiler.ResAudioDir},
		}))
	}

	dp := b.djangoParams(cfg)
	plan.AddSteps(
		django.NewWriteSettingsStep(b.deps, dp),
		django.NewGenerateSecretStep(b.deps, dp),
	)
}

// database adds the engine-specific steps and the migrations.
func (b *Builder) database(ctx context.Context, plan *execution.Plan, cfg *config.Config, caps capability.Set,
	available compiler.ResourceSet, dec *Decisions) error {
	dec.Engine = chooseEngine(cfg.Database.Engine, caps)

	sqliteStep := sqlite.NewWriteConfigStep(b.deps, sqlite.Params{ProjectDir: cfg.ProjectDir, Path: cfg.SQLitePath()})
	if dec.Engine == config.EngineSQLite {
		if cfg.Database.Engine == config.EngineAuto {
			dec.Notes = append(dec.Notes, "postgresql not reachable: using sqlite")
		}
		plan.AddSteps(sqliteStep)
		plan.AddSteps(django.NewMigrateStep(b.deps, b.djangoParams(cfg)))
		return nil
	}

	b.postgresServer(plan, cfg, caps)

	pp := postgres.Params{
		ProjectDir: cfg.ProjectDir,
		Name:       cfg.Database.Name,
		User:       cfg.Database.User,
		Host:       cfg.Database.Host,
		Port:       cfg.Database.Port,
	}
	existing := caps.Installed(capability.PostgresDatabase) || caps.Installed(capability.PostgresRole)
	policy := config.PolicyReuseExisting
	if existing {
		var err error
		if policy, err = b.existingPolicy(ctx, cfg); err != nil {
			return err
		}
		dec.ExistingPolicy = policy
	}

	switch policy {
	case config.PolicySkipDBSetup:
		// The operator vouches for the database and the settings block.
		available.Add(compiler.ResDatabaseConfig, compiler.ResDatabase)
		dec.Notes = append(dec.Notes, "existing database kept as is: credentials and DATABASES block untouched")
	case config.PolicyDropRecreate:
		if caps.Installed(capability.PostgresDatabase) {
			plan.AddSteps(postgres.NewDropExistingDatabaseStep(b.deps, pp))
		}
		if caps.Installed(capability.PostgresRole) {
			plan.AddSteps(postgres.NewDropExistingRoleStep(b.deps, pp))
		}
		fallthrough
	default:
		plan.Add(
			execution.NewPlanEntry(postgres.NewCredentialsStep(b.deps, pp)).InGroup(PostgresGroup),
			execution.NewPlanEntry(postgres.NewCreateDatabaseStep(b.deps, pp)).InGroup(PostgresGroup),
			execution.NewPlanEntry(sqliteStep).AsFallbackFor(PostgresGroup),
		)
		dec.Fallback = true
	}

	plan.AddSteps(django.NewMigrateStep(b.deps, b.djangoParams(cfg)))
	return nil
}

// chooseEngine applies the engine preference: auto picks PostgreSQL only
// when it answers.
func chooseEngine(pref config.Engine, caps capability.Set) config.Engine {
	switch pref {
	case config.EnginePostgres, config.EngineSQLite:
		return pref
	}
	if caps.Running(capability.Postgres) {
		return config.EnginePostgres
	}
	return config.EngineSQLite
}

// postgresServer installs and starts PostgreSQL when it was forced but is
// missing or down.
func (b *Builder) postgresServer(plan *execution.Plan, cfg *config.Config, caps capability.Set) {
	pg := caps.Get(capability.Postgres)
	if pg.Running {
		return
	}
	if !pg.Installed {
		plan.AddSteps(system.NewInstallPackageStep(b.deps, system.PackageParams{
			Generic: platform.PkgPostgres,
			Binary:  "psql",
			Goal:    compiler.GoalDatabase,
		}))
	}
	plan.AddSteps(
		system.NewStartServiceStep(b.deps, system.ServiceParams{
			Generic: platform.PkgPostgres,
			Goal:    compiler.GoalDatabase,
		}),
		system.NewWaitStep(b.deps, system.WaitParams{
			ID:    "wait-database-ready",
			What:  "postgresql",
			Addr:  capability.Config{PostgresHost: cfg.Database.Host, PostgresPort: cfg.Database.Port}.PostgresAddr(),
			Goal:  compiler.GoalDatabase,
			Needs: []compiler.Resource{compiler.ServiceResource(platform.PkgPostgres)},
			Gives: []compiler.Resource{compiler.ResPostgres},
		}),
	)
}

// existingPolicy resolves what to do with an existing database or role.
// A pinned policy wins; otherwise the operator is asked, and a
// non-interactive run reuses what exists.
func (b *Builder) existingPolicy(ctx context.Context, cfg *config.Config) (config.ExistingPolicy, error) {
	if p := cfg.Database.ExistingPolicy; p != "" && p != config.PolicyAsk {
		return p, nil
	}
	if cfg.NonInteractive || !b.confirmer.Interactive() {
		return config.PolicyReuseExisting, nil
	}
	choices := []ports.Choice{
		{Value: string(config.PolicyDropRecreate), Label: "Drop and recreate it (all data is lost)"},
		{Value: string(config.PolicyReuseExisting), Label: "Reuse it and reset the role password"},
		{Value: string(config.PolicySkipDBSetup), Label: "Skip database setup"},
	}
	v, err := b.confirmer.Choose(ctx, ExistingDatabasePrompt, choices, string(config.PolicyReuseExisting))
	if err != nil {
		return "", fmt.Errorf("choose existing database policy: %w", err)
	}
	for _, c := range config.Choices() {
		if string(c) == v {
			return c, nil
		}
	}
	return "", config.NewInvocationError(fmt.Sprintf("unknown choice %q", v), "")
}

// services adds the proxy, the supervised server and its readiness check.
func (b *Builder) services(plan *execution.Plan, cfg *config.Config, caps capability.Set) {
	b.serviceBase(plan, capability.Nginx, platform.PkgNginx, "nginx", compiler.GoalProxy, compiler.ResNginx, caps)

	site := nginx.Site{
		Name:        cfg.Web.SiteName,
		ServerNames: cfg.Web.ServerNames,
		ListenPort:  cfg.Web.ListenPort,
		StaticRoot:  cfg.StaticRoot(),
		AudioDir:    cfg.AudioDir,
		Upstream:    cfg.Server.Bind,
	}
	siteChanges := &provider.Changes{}
	plan.AddSteps(nginx.NewConfigureStep(b.deps, site, siteChanges))
	if _, link := nginx.Paths(b.deps.Platform.NginxDirs(), site.Name); link != "" {
		plan.AddSteps(nginx.NewEnableStep(b.deps, site.Name, siteChanges))
	}
	plan.AddSteps(nginx.NewReloadStep(b.deps, siteChanges))

	b.serviceBase(plan, capability.Supervisor, platform.PkgSupervisor, "supervisord", compiler.GoalServer, compiler.ResSupervisor, caps)

	plan.AddSteps(system.NewDirStep(b.deps, system.DirParams{
		ID:          "create-log-dir",
		Kind:        state.KindLogDir,
		ProjectDir:  cfg.ProjectDir,
		Path:        cfg.Server.LogDir,
		Owner:       cfg.Server.User,
		Goal:        compiler.GoalServer,
		Criticality: compiler.CriticalityWarn,
		Gives:       []compiler.Resource{compiler.ResLogDir},
	}))

	program := supervisor.Program{
		Name:      cfg.Server.Program,
		Command:   cfg.ServerCommand(),
		Directory: cfg.ProjectDir,
		User:      cfg.Server.User,
		LogDir:    cfg.Server.LogDir,
		Environment: map[string]string{
			"PATH":             cfg.VenvPath() + "/bin:/usr/local/bin:/usr/bin:/bin",
			"PYTHONUNBUFFERED": "1",
		},
	}
	jobChanges := &provider.Changes{}
	plan.AddSteps(
		supervisor.NewConfigureStep(b.deps, program, jobChanges),
		supervisor.NewReloadStep(b.deps, program.Name, jobChanges),
		system.NewWaitStep(b.deps, system.WaitParams{
			ID:          "wait-server-ready",
			What:        "application server",
			Addr:        cfg.Server.Bind,
			Goal:        compiler.GoalServer,
			Criticality: compiler.CriticalityWarn,
			Needs:       []compiler.Resource{compiler.ResSupervisorJob},
			Gives:       []compiler.Resource{compiler.ResServer},
		}),
	)
}

// serviceBase installs and starts a service the host lacks. Service steps
// warn rather than halt: the application is usable without them.
func (b *Builder) serviceBase(plan *execution.Plan, name capability.Name, generic, binary string,
	goal compiler.Goal, res compiler.Resource, caps capability.Set) {
	c := caps.Get(name)
	if !c.Installed {
		plan.AddSteps(system.NewInstallPackageStep(b.deps, system.PackageParams{
			Generic:     generic,
			Binary:      binary,
			Goal:        goal,
			Criticality: compiler.CriticalityWarn,
			Gives:       []compiler.Resource{res},
		}))
	}
	if !c.Running {
		plan.AddSteps(system.NewStartServiceStep(b.deps, system.ServiceParams{
			Generic:     generic,
			Goal:        goal,
			Criticality: compiler.CriticalityWarn,
		}))
	}
}

func (b *Builder) log(ctx context.Context) ports.Logger {
	return compiler.NewRunContext(ctx).Logger()
}
