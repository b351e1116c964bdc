package state_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trunkplayer/trunkprov/internal/domain/state"
)

func TestKind_Tier(t *testing.T) {
	t.Parallel()

	for _, k := range state.Kinds() {
		if k == state.KindSystemPackage {
			assert.Equal(t, state.TierSystem, k.Tier(), k)
			continue
		}
		assert.Equal(t, state.TierProject, k.Tier(), k)
	}
}

func TestParseKind(t *testing.T) {
	t.Parallel()

	k, err := state.ParseKind("nginx_site")
	require.NoError(t, err)
	assert.Equal(t, state.KindNginxSite, k)

	_, err = state.ParseKind("kernel_module")
	assert.Error(t, err)
}

func TestEntry_Validate(t *testing.T) {
	t.Parallel()

	assert.NoError(t, state.NewEntry(state.KindVenv, "/srv/app/venv", nil).Validate())
	assert.ErrorIs(t, state.NewEntry(state.KindVenv, "", nil).Validate(), state.ErrEmptyKey)
	assert.Error(t, state.Entry{Kind: "bogus", Key: "x"}.Validate())
}

func TestNewEntry_CopiesParams(t *testing.T) {
	t.Parallel()

	params := map[string]string{state.ParamPath: "/a"}
	e := state.NewEntry(state.KindLogDir, "/a", params)
	params[state.ParamPath] = "/b"

	assert.Equal(t, "/a", e.Param(state.ParamPath))
	assert.Equal(t, "", e.Param("missing"))
}

func TestFold_TombstonesAndRecreation(t *testing.T) {
	t.Parallel()

	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	venv := state.Entry{Kind: state.KindVenv, Key: "/app/venv", CreatedAt: t0}
	db := state.Entry{Kind: state.KindDatabase, Key: "trunk_player", CreatedAt: t0.Add(time.Minute)}
	venvAgain := venv
	venvAgain.CreatedAt = t0.Add(2 * time.Minute)

	events := []state.Event{
		{Op: state.OpRecord, Entry: venv},
		{Op: state.OpRecord, Entry: db},
		{Op: state.OpRemove, Entry: state.Entry{Kind: state.KindVenv, Key: "/app/venv"}},
		{Op: state.OpRecord, Entry: venvAgain},
	}

	active := state.Fold(events)
	require.Len(t, active, 2)
	assert.Equal(t, db.Ref(), active[0].Ref())
	assert.Equal(t, venvAgain.CreatedAt, active[1].CreatedAt)
}

func TestMemoryStore(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := state.NewMemoryStore()

	require.NoError(t, store.Record(ctx, state.NewEntry(state.KindVenv, "/app/venv", nil)))
	require.NoError(t, store.Record(ctx, state.NewEntry(state.KindDatabase, "/app/db.sqlite3", map[string]string{state.ParamEngine: "sqlite"})))

	entries, err := store.List(ctx)
	require.NoError(t, err)
	assert.Len(t, entries, 2)

	require.NoError(t, store.Remove(ctx, state.Ref{Kind: state.KindVenv, Key: "/app/venv"}))
	assert.ErrorIs(t, store.Remove(ctx, state.Ref{Kind: state.KindVenv, Key: "/app/venv"}), state.ErrNotFound)

	entries, err = store.List(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, state.KindDatabase, entries[0].Kind)

	history, err := store.History(ctx)
	require.NoError(t, err)
	assert.Len(t, history, 3, "removal keeps history")
}

func TestFilterAndHas(t *testing.T) {
	t.Parallel()

	entries := []state.Entry{
		{Kind: state.KindVenv, Key: "v"},
		{Kind: state.KindDatabase, Key: "d"},
	}
	assert.Len(t, state.Filter(entries, state.KindDatabase), 1)
	assert.True(t, state.Has(entries, state.Ref{Kind: state.KindVenv, Key: "v"}))
	assert.False(t, state.Has(entries, state.Ref{Kind: state.KindVenv, Key: "x"}))
	assert.Equal(t, "venv/v", entries[0].Ref().String())
}
