package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/trunkplayer/trunkprov/internal/ports"
	"github.com/trunkplayer/trunkprov/internal/provider"
	"github.com/trunkplayer/trunkprov/internal/provider/commandutil"
	"github.com/trunkplayer/trunkprov/internal/validation"
)

// client runs SQL as the database superuser. Statements go through stdin.
type client struct {
	deps provider.Deps
}

func (c client) exec(ctx context.Context, sql string) (string, error) {
	cmd, args := c.deps.Platform.Superuser("psql", "-d", "postgres", "-v", "ON_ERROR_STOP=1", "-q")
	return commandutil.RunInput(ctx, c.deps.Runner, sql, cmd, args...)
}

// execSecret runs a statement that embeds a secret. psql quotes the failing
// statement in its error context, so a failure keeps only the exit status.
func (c client) execSecret(ctx context.Context, sql string) (string, error) {
	out, err := c.exec(ctx, sql)
	if err == nil {
		return out, nil
	}
	var exitErr *ports.ExitError
	if errors.As(err, &exitErr) {
		return "", &ports.ExitError{Command: exitErr.Command, ExitCode: exitErr.ExitCode}
	}
	return "", err
}

func (c client) exists(ctx context.Context, catalog, column, value string) (bool, error) {
	if err := validation.ValidateIdentifier(value); err != nil {
		return false, err
	}
	query := fmt.Sprintf("SELECT 1 FROM %s WHERE %s='%s'", catalog, column, value)
	cmd, args := c.deps.Platform.Superuser("psql", "-d", "postgres", "-tAc", query)
	res, err := c.deps.Runner.Run(ctx, cmd, args...)
	if _, err := ports.Check("psql", res, err); err != nil {
		return false, err
	}
	// psql may warn on stderr when sudo cannot chdir; only stdout counts.
	for _, line := range strings.Split(res.Stdout, "\n") {
		if strings.TrimSpace(line) == "1" {
			return true, nil
		}
	}
	return false, nil
}

func (c client) roleExists(ctx context.Context, role string) (bool, error) {
	return c.exists(ctx, "pg_roles", "rolname", role)
}

func (c client) databaseExists(ctx context.Context, name string) (bool, error) {
	return c.exists(ctx, "pg_database", "datname", name)
}
