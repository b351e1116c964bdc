// Package postgres provides the PostgreSQL database path: credentials, the
// database itself and the destructive drops used on recreate and teardown.
package postgres

import (
	"fmt"
	"strings"

	"github.com/trunkplayer/trunkprov/internal/domain/compiler"
	"github.com/trunkplayer/trunkprov/internal/domain/settings"
	"github.com/trunkplayer/trunkprov/internal/domain/state"
	"github.com/trunkplayer/trunkprov/internal/provider"
	"github.com/trunkplayer/trunkprov/internal/validation"
)

// EngineName is recorded in the ledger for PostgreSQL databases.
const EngineName = "postgresql"

// Params describe the database and its owner.
type Params struct {
	ProjectDir string
	Name       string
	User       string
	Host       string
	Port       int
}

func (p Params) validate() error {
	if err := validation.ValidateIdentifier(p.Name); err != nil {
		return err
	}
	return validation.ValidateIdentifier(p.User)
}

// CredentialsStep generates the database password, creates or updates the
// role with it and writes the connection block into the settings file.
// The password lives only inside Apply.
type CredentialsStep struct {
	provider.Meta
	client client
	file   *settings.File
	params Params

	applied     bool
	prevBody    string
	roleCreated bool
}

// NewCredentialsStep creates a CredentialsStep.
func NewCredentialsStep(deps provider.Deps, params Params) *CredentialsStep {
	meta := provider.NewMeta("postgres-credentials", "Create role "+params.User+" and write PostgreSQL settings",
		compiler.GoalDatabase, compiler.MutatingPolicy(compiler.TimeoutSetup)).
		Needs(compiler.ResPostgres, compiler.ResSettings).
		Gives(compiler.ResDatabaseConfig)
	return &CredentialsStep{
		Meta:   meta,
		client: client{deps: deps},
		file:   settings.NewFile(deps.FS, params.ProjectDir),
		params: params,
	}
}

func (s *CredentialsStep) configured(content string) bool {
	body, ok := settings.DatabasesBody(content)
	if !ok || settings.Engine(content) != settings.EnginePostgres {
		return false
	}
	return strings.Contains(body, "'NAME': '"+s.params.Name+"'") &&
		strings.Contains(body, "'USER': '"+s.params.User+"'")
}

// Check is satisfied when the role exists and the settings already point at it.
func (s *CredentialsStep) Check(ctx compiler.RunContext) (compiler.StepStatus, error) {
	if !s.file.Exists() {
		return compiler.StatusNeedsApply, nil
	}
	content, err := s.file.Read()
	if err != nil {
		return compiler.StatusUnknown, err
	}
	if !s.configured(content) {
		return compiler.StatusNeedsApply, nil
	}
	exists, err := s.client.roleExists(ctx.Context(), s.params.User)
	if err != nil {
		return compiler.StatusUnknown, err
	}
	if exists {
		return compiler.StatusSatisfied, nil
	}
	return compiler.StatusNeedsApply, nil
}

// Apply sets the password and writes the block.
func (s *CredentialsStep) Apply(ctx compiler.RunContext) (compiler.ApplyResult, error) {
	if err := s.params.validate(); err != nil {
		return compiler.ApplyResult{}, err
	}
	content, err := s.file.Read()
	if err != nil {
		return compiler.ApplyResult{}, err
	}
	prev, ok := settings.DatabasesBody(content)
	if !ok {
		return compiler.ApplyResult{}, fmt.Errorf("%s: DATABASES block markers not found", s.file.Path())
	}

	exists, err := s.client.roleExists(ctx.Context(), s.params.User)
	if err != nil {
		return compiler.ApplyResult{}, fmt.Errorf("look up role: %w", err)
	}
	password, err := settings.GeneratePassword()
	if err != nil {
		return compiler.ApplyResult{}, err
	}

	verb := "CREATE"
	if exists {
		verb = "ALTER"
	}
	stmt := fmt.Sprintf("%s ROLE %s WITH LOGIN PASSWORD '%s';\n", verb, s.params.User, password)
	_, err = s.client.execSecret(ctx.Context(), stmt)
	if err != nil {
		return compiler.ApplyResult{}, fmt.Errorf("%s role %s: %w", strings.ToLower(verb), s.params.User, err)
	}

	body := settings.PostgresBody(settings.PostgresParams{
		Name:     s.params.Name,
		User:     s.params.User,
		Password: password,
		Host:     s.params.Host,
		Port:     s.params.Port,
	})
	if _, _, err := s.file.Mutate(settings.Databases{Body: body}); err != nil {
		if !exists {
			_, _ = s.client.exec(ctx.Context(), "DROP ROLE IF EXISTS "+s.params.User+";\n")
		}
		return compiler.ApplyResult{}, err
	}

	s.applied = true
	s.prevBody = prev
	s.roleCreated = !exists

	result := compiler.ApplyResult{Output: fmt.Sprintf("DATABASES now uses PostgreSQL database %s as %s", s.params.Name, s.params.User)}
	if !exists {
		result.Created = []state.Entry{state.NewEntry(state.KindDBUser, s.params.User, map[string]string{
			state.ParamEngine:            EngineName,
			state.ParamSecretLocation:    s.file.Path(),
			state.ParamSecretFingerprint: settings.Fingerprint(password),
		})}
	} else {
		result = result.WithAnomaly("existing role " + s.params.User + " reused; its password was reset")
	}
	return result, nil
}

// CanRollback reports whether Apply ran in this process.
func (s *CredentialsStep) CanRollback() bool {
	return s.applied
}

// Rollback restores the previous DATABASES block and drops the role if it
// was created by Apply.
func (s *CredentialsStep) Rollback(ctx compiler.RunContext) (compiler.ApplyResult, error) {
	if !s.applied {
		return compiler.ApplyResult{}, nil
	}
	var result compiler.ApplyResult
	if _, _, err := s.file.Mutate(settings.Databases{Body: s.prevBody}); err != nil {
		return result, fmt.Errorf("restore DATABASES block: %w", err)
	}
	result.Output = "restored previous DATABASES block"
	if s.roleCreated {
		if _, err := s.client.exec(ctx.Context(), "DROP ROLE IF EXISTS "+s.params.User+";\n"); err != nil {
			return result, fmt.Errorf("drop role %s: %w", s.params.User, err)
		}
		result.Removed = []state.Ref{{Kind: state.KindDBUser, Key: s.params.User}}
	}
	s.applied = false
	return result, nil
}

// CreateDatabaseStep creates the application database.
type CreateDatabaseStep struct {
	provider.Meta
	client  client
	params  Params
	created bool
}

// NewCreateDatabaseStep creates a CreateDatabaseStep.
func NewCreateDatabaseStep(deps provider.Deps, params Params) *CreateDatabaseStep {
	meta := provider.NewMeta("pg-create-database", "Create PostgreSQL database "+params.Name,
		compiler.GoalDatabase, compiler.MutatingPolicy(compiler.TimeoutSetup)).
		Needs(compiler.ResPostgres, compiler.ResDatabaseConfig).
		Gives(compiler.ResDatabase)
	return &CreateDatabaseStep{Meta: meta, client: client{deps: deps}, params: params}
}

// Check is satisfied when the database exists.
func (s *CreateDatabaseStep) Check(ctx compiler.RunContext) (compiler.StepStatus, error) {
	exists, err := s.client.databaseExists(ctx.Context(), s.params.Name)
	if err != nil {
		return compiler.StatusUnknown, err
	}
	if exists {
		return compiler.StatusSatisfied, nil
	}
	return compiler.StatusNeedsApply, nil
}

// Apply creates the database owned by the application role.
func (s *CreateDatabaseStep) Apply(ctx compiler.RunContext) (compiler.ApplyResult, error) {
	if err := s.params.validate(); err != nil {
		return compiler.ApplyResult{}, err
	}
	out, err := s.client.exec(ctx.Context(), fmt.Sprintf("CREATE DATABASE %s OWNER %s;\n", s.params.Name, s.params.User))
	if err != nil {
		return compiler.ApplyResult{Output: out}, err
	}
	s.created = true
	entry := state.NewEntry(state.KindDatabase, s.params.Name, map[string]string{
		state.ParamEngine: EngineName,
		state.ParamOwner:  s.params.User,
	})
	return compiler.ApplyResult{Output: "created database " + s.params.Name, Created: []state.Entry{entry}}, nil
}

// CanRollback reports whether the database was created in this process.
func (s *CreateDatabaseStep) CanRollback() bool {
	return s.created
}

// Rollback drops the database created by Apply.
func (s *CreateDatabaseStep) Rollback(ctx compiler.RunContext) (compiler.ApplyResult, error) {
	if !s.created {
		return compiler.ApplyResult{}, nil
	}
	if _, err := s.client.exec(ctx.Context(), "DROP DATABASE IF EXISTS "+s.params.Name+";\n"); err != nil {
		return compiler.ApplyResult{}, err
	}
	s.created = false
	return compiler.ApplyResult{
		Output:  "dropped database " + s.params.Name,
		Removed: []state.Ref{{Kind: state.KindDatabase, Key: s.params.Name}},
	}, nil
}

var (
	_ compiler.RollbackableStep = (*CredentialsStep)(nil)
	_ compiler.RollbackableStep = (*CreateDatabaseStep)(nil)
)
