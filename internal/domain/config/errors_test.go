package config_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trunkplayer/trunkprov/internal/domain/config"
)

func TestUserError_Error(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  *config.UserError
		want string
	}{
		{"message only", config.NewUserError(config.ErrCodeConfigParse, "bad yaml"), "bad yaml"},
		{"with context", config.NewProjectError("/srv/tp", "manage.py not found"), "manage.py not found (at /srv/tp)"},
		{"suggestion is not part of Error", config.NewInvocationError("unexpected argument", "see --help"), "unexpected argument"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, tt.err.Error())
		})
	}
}

func TestUserError_Format(t *testing.T) {
	t.Parallel()

	got := config.NewProjectError("/srv/tp", "requirements.txt not found").Format()
	assert.Contains(t, got, "[PROJECT_INVALID] requirements.txt not found")
	assert.Contains(t, got, "Location: /srv/tp")
	assert.Contains(t, got, "Suggestion: Run trunkprov from the Trunk Player checkout")
}

func TestUserError_CopiesOnWith(t *testing.T) {
	t.Parallel()

	cause := errors.New("open trunkprov.toml: permission denied")
	base := config.NewUserError(config.ErrCodeConfigParse, "cannot read config")
	derived := base.WithContext("trunkprov.toml").WithSuggestion("fix permissions").WithUnderlying(cause)

	assert.Empty(t, base.Context)
	assert.Empty(t, base.Suggestion)
	assert.NoError(t, base.Unwrap())

	assert.Equal(t, "trunkprov.toml", derived.Context)
	assert.Equal(t, "fix permissions", derived.Suggestion)
	assert.ErrorIs(t, derived, cause)
}

func TestUserError_IsMatchesCode(t *testing.T) {
	t.Parallel()

	err := fmt.Errorf("load: %w", config.NewConfigNotFoundError("/etc/tp.yaml"))
	assert.ErrorIs(t, err, &config.UserError{Code: config.ErrCodeConfigNotFound})
	assert.NotErrorIs(t, err, &config.UserError{Code: config.ErrCodeConfigParse})
}

func TestErrorList(t *testing.T) {
	t.Parallel()

	list := config.NewErrorList()
	assert.False(t, list.HasErrors())
	require.NoError(t, list.AsError())
	assert.Empty(t, list.Error())
	assert.Empty(t, list.Format())

	list.Add(nil)
	list.AddValidation("database.engine", "must be one of auto, postgresql, sqlite", "use --db-engine=sqlite")
	assert.Equal(t, 1, list.Len())
	assert.Equal(t, "database.engine: must be one of auto, postgresql, sqlite (at database.engine)", list.Error())

	list.Add(config.NewValidationFailedError("server.bind", "missing port"))
	assert.Equal(t, 2, list.Len())
	assert.Contains(t, list.Error(), "2 configuration errors:")
	assert.Contains(t, list.Error(), "2. invalid server.bind: missing port")

	formatted := list.Format()
	assert.Contains(t, formatted, "Found 2 error(s)")
	assert.Contains(t, formatted, "Suggestion: use --db-engine=sqlite")

	entries := list.Errors()
	entries[0] = nil
	assert.NotNil(t, list.Errors()[0])

	require.Error(t, list.AsError())
	assert.True(t, config.IsUserError(list, config.ErrCodeValidationFailed))
}

func TestConstructors(t *testing.T) {
	t.Parallel()

	parse := config.NewConfigParseError("trunkprov.yaml", errors.New("line 3: mapping values are not allowed"))
	assert.Equal(t, config.ErrCodeConfigParse, parse.Code)
	assert.Equal(t, "trunkprov.yaml", parse.Context)
	assert.NotEmpty(t, parse.Suggestion)
	assert.Contains(t, parse.Unwrap().Error(), "line 3")

	missing := config.NewConfigNotFoundError("/tmp/nope.yaml")
	assert.Contains(t, missing.Message, "/tmp/nope.yaml")
	assert.Contains(t, missing.Suggestion, "--config")

	inv := config.NewInvocationError("unknown kind \"mail\"", "use --yes-venv")
	assert.Equal(t, config.ErrCodeInvalidInvocation, inv.Code)
	assert.Equal(t, "use --yes-venv", inv.Suggestion)
}

func TestGetUserError(t *testing.T) {
	t.Parallel()

	assert.Nil(t, config.GetUserError(nil))
	assert.Nil(t, config.GetUserError(errors.New("plain")))
	assert.False(t, config.IsUserError(errors.New("plain"), config.ErrCodeProjectInvalid))

	wrapped := fmt.Errorf("plan: %w", config.NewProjectError("/x", "not a checkout"))
	ue := config.GetUserError(wrapped)
	require.NotNil(t, ue)
	assert.Equal(t, config.ErrCodeProjectInvalid, ue.Code)
	assert.True(t, config.IsUserError(wrapped, config.ErrCodeProjectInvalid))
}
