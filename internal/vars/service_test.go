package vars

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/valueapi/internal/history"
	"github.com/2389/valueapi/internal/store"
)

type testEnv struct {
	svc     *Service
	backend *store.MemoryBackend
	config  *store.ConfigStore
	ledger  *history.Ledger
}

func newTestService(t *testing.T) *testEnv {
	t.Helper()
	backend := store.NewMemoryBackend()
	config := store.NewConfigStore(backend)
	ledger := history.New(backend, history.DefaultLimit)
	return &testEnv{
		svc:     NewService(config, ledger),
		backend: backend,
		config:  config,
		ledger:  ledger,
	}
}

func TestService_CreateThenGet(t *testing.T) {
	env := newTestService(t)
	ctx := context.Background()

	cases := []struct{ name, value string }{
		{"simple", "1"},
		{"empty-value", ""},
		{"unicode", "值"},
		{"spaces in name", "a b c"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			created, err := env.svc.CreateVariable(ctx, tc.name, tc.value, "")
			require.NoError(t, err)
			assert.Equal(t, store.DefaultGroupID, created.GroupID)

			got, err := env.svc.GetVariable(ctx, tc.name)
			require.NoError(t, err)
			assert.Equal(t, tc.value, got.Value)

			_, err = env.svc.CreateVariable(ctx, tc.name, "other", "")
			assert.ErrorIs(t, err, store.ErrAlreadyExists)
		})
	}
}

func TestService_CreateRecordsHistory(t *testing.T) {
	env := newTestService(t)
	ctx := WithSource(context.Background(), "192.0.2.1")

	_, err := env.svc.CreateVariable(ctx, "x", "1", "")
	require.NoError(t, err)

	entries := env.svc.VariableHistory(ctx, "x")
	require.Len(t, entries, 1)
	assert.Equal(t, history.ActionCreate, entries[0].Action)
	assert.Nil(t, entries[0].OldValue)
	assert.Equal(t, "1", *entries[0].NewValue)
	assert.Equal(t, "192.0.2.1", entries[0].IP)
}

func TestService_CreateInvalidGroup(t *testing.T) {
	env := newTestService(t)
	ctx := context.Background()

	_, err := env.svc.CreateVariable(ctx, "x", "1", "no-such-group")
	assert.ErrorIs(t, err, store.ErrInvalidGroup)
	assert.Empty(t, env.svc.ListVariables(ctx, Filter{}))
	assert.Empty(t, env.svc.History(ctx))
}

func TestService_EmptyNameRejected(t *testing.T) {
	env := newTestService(t)
	ctx := context.Background()

	_, err := env.svc.CreateVariable(ctx, "", "1", "")
	assert.ErrorIs(t, err, store.ErrInvalidArgument)
	_, err = env.svc.GetVariable(ctx, "")
	assert.ErrorIs(t, err, store.ErrInvalidArgument)
	_, err = env.svc.UpdateVariable(ctx, "", "1")
	assert.ErrorIs(t, err, store.ErrInvalidArgument)
	assert.ErrorIs(t, env.svc.DeleteVariable(ctx, ""), store.ErrInvalidArgument)
	_, err = env.svc.CreateGroup(ctx, "   ")
	assert.ErrorIs(t, err, store.ErrInvalidArgument)
}

func TestService_UpdateAppendsHistoryNewestFirst(t *testing.T) {
	env := newTestService(t)
	ctx := context.Background()

	_, err := env.svc.CreateVariable(ctx, "x", "1", "")
	require.NoError(t, err)
	updated, err := env.svc.UpdateVariable(ctx, "x", "2")
	require.NoError(t, err)
	assert.Equal(t, "2", updated.Value)

	entries := env.svc.VariableHistory(ctx, "x")
	require.Len(t, entries, 2)
	assert.Equal(t, history.ActionUpdate, entries[0].Action)
	assert.Equal(t, "1", *entries[0].OldValue)
	assert.Equal(t, "2", *entries[0].NewValue)
	assert.Equal(t, history.ActionCreate, entries[1].Action)
}

func TestService_UpdateNotFound(t *testing.T) {
	env := newTestService(t)
	_, err := env.svc.UpdateVariable(context.Background(), "ghost", "1")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestService_Delete(t *testing.T) {
	env := newTestService(t)
	ctx := context.Background()

	_, err := env.svc.CreateVariable(ctx, "x", "1", "")
	require.NoError(t, err)
	require.NoError(t, env.svc.DeleteVariable(ctx, "x"))

	_, err = env.svc.GetVariable(ctx, "x")
	assert.ErrorIs(t, err, store.ErrNotFound)

	entries := env.svc.VariableHistory(ctx, "x")
	require.Len(t, entries, 2)
	assert.Equal(t, history.ActionDelete, entries[0].Action)
	assert.Nil(t, entries[0].NewValue)
	assert.Equal(t, "1", *entries[0].OldValue)

	assert.ErrorIs(t, env.svc.DeleteVariable(ctx, "x"), store.ErrNotFound)
}

func TestService_ListVariablesFilter(t *testing.T) {
	env := newTestService(t)
	ctx := context.Background()

	g, err := env.svc.CreateGroup(ctx, "Team")
	require.NoError(t, err)
	for _, name := range []string{"app.a", "app.b", "db.host"} {
		_, err := env.svc.CreateVariable(ctx, name, "v", "")
		require.NoError(t, err)
	}
	_, err = env.svc.CreateVariable(ctx, "app.c", "v", g.ID)
	require.NoError(t, err)

	names := func(vs []store.Variable) []string {
		out := make([]string, len(vs))
		for i, v := range vs {
			out[i] = v.Name
		}
		return out
	}

	assert.Equal(t, []string{"app.a", "app.b", "db.host", "app.c"}, names(env.svc.ListVariables(ctx, Filter{})))
	assert.Equal(t, []string{"app.a", "app.b", "app.c"}, names(env.svc.ListVariables(ctx, Filter{NamePrefix: "app."})))
	assert.Equal(t, []string{"app.c"}, names(env.svc.ListVariables(ctx, Filter{GroupID: g.ID})))
	assert.Equal(t, []string{"app.a", "app.b"}, names(env.svc.ListVariables(ctx, Filter{NamePrefix: "app.", GroupID: store.DefaultGroupID})))
}

func TestService_DeleteGroupReassignsMembers(t *testing.T) {
	env := newTestService(t)
	ctx := context.Background()

	g, err := env.svc.CreateGroup(ctx, "Team")
	require.NoError(t, err)

	const n = 4
	for i := 0; i < n; i++ {
		_, err := env.svc.CreateVariable(ctx, fmt.Sprintf("v%d", i), "x", g.ID)
		require.NoError(t, err)
	}

	require.NoError(t, env.svc.DeleteGroup(ctx, g.ID))

	for _, v := range env.svc.ListVariables(ctx, Filter{}) {
		assert.Equal(t, store.DefaultGroupID, v.GroupID)
	}
	for _, grp := range env.svc.ListGroups(ctx) {
		assert.NotEqual(t, g.ID, grp.ID)
	}
	_, err = env.svc.GetGroup(ctx, g.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestService_DefaultGroupProtected(t *testing.T) {
	env := newTestService(t)
	ctx := context.Background()

	_, err := env.svc.CreateVariable(ctx, "x", "1", "")
	require.NoError(t, err)
	before, _ := env.backend.Get(store.ConfigDocumentName)
	writes := env.backend.Writes()

	assert.ErrorIs(t, env.svc.DeleteGroup(ctx, store.DefaultGroupID), store.ErrProtected)
	_, err = env.svc.RenameGroup(ctx, store.DefaultGroupID, "Other")
	assert.ErrorIs(t, err, store.ErrProtected)

	after, _ := env.backend.Get(store.ConfigDocumentName)
	assert.Equal(t, string(before), string(after))
	assert.Equal(t, writes, env.backend.Writes())

	groups := env.svc.ListGroups(ctx)
	require.Len(t, groups, 1)
	assert.Equal(t, store.DefaultGroupName, groups[0].Name)
}

func TestService_RenameAndDeleteUnknownGroup(t *testing.T) {
	env := newTestService(t)
	ctx := context.Background()

	_, err := env.svc.RenameGroup(ctx, "ghost", "x")
	assert.ErrorIs(t, err, store.ErrNotFound)
	assert.ErrorIs(t, env.svc.DeleteGroup(ctx, "ghost"), store.ErrNotFound)

	g, err := env.svc.CreateGroup(ctx, "Team")
	require.NoError(t, err)
	renamed, err := env.svc.RenameGroup(ctx, g.ID, "Squad")
	require.NoError(t, err)
	assert.Equal(t, "Squad", renamed.Name)
	assert.Equal(t, g.ID, renamed.ID)
}

func TestService_MoveVariable(t *testing.T) {
	env := newTestService(t)
	ctx := context.Background()

	g, err := env.svc.CreateGroup(ctx, "Team")
	require.NoError(t, err)
	_, err = env.svc.CreateVariable(ctx, "x", "1", "")
	require.NoError(t, err)

	moved, err := env.svc.MoveVariable(ctx, "x", g.ID)
	require.NoError(t, err)
	assert.Equal(t, g.ID, moved.GroupID)

	got, err := env.svc.GetVariable(ctx, "x")
	require.NoError(t, err)
	assert.Equal(t, g.ID, got.GroupID)
	assert.Equal(t, "1", got.Value)

	_, err = env.svc.MoveVariable(ctx, "x", "ghost")
	assert.ErrorIs(t, err, store.ErrInvalidGroup)
	_, err = env.svc.MoveVariable(ctx, "ghost", g.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)

	// Only the create is in history
	assert.Len(t, env.svc.VariableHistory(ctx, "x"), 1)
}

func TestService_DeleteGroupSaveFailureLeavesStateIntact(t *testing.T) {
	env := newTestService(t)
	ctx := context.Background()

	g, err := env.svc.CreateGroup(ctx, "Team")
	require.NoError(t, err)
	_, err = env.svc.CreateVariable(ctx, "x", "1", g.ID)
	require.NoError(t, err)

	env.backend.FailWrites(errors.New("disk full"))
	err = env.svc.DeleteGroup(ctx, g.ID)
	assert.ErrorIs(t, err, store.ErrIO)

	got, err := env.svc.GetVariable(ctx, "x")
	require.NoError(t, err)
	assert.Equal(t, g.ID, got.GroupID)
	_, err = env.svc.GetGroup(ctx, g.ID)
	assert.NoError(t, err)
}

func TestService_SaveFailureWritesNoHistory(t *testing.T) {
	env := newTestService(t)
	ctx := context.Background()

	_, err := env.svc.CreateVariable(ctx, "x", "1", "")
	require.NoError(t, err)

	env.backend.FailWrites(errors.New("disk full"))
	_, err = env.svc.UpdateVariable(ctx, "x", "2")
	assert.ErrorIs(t, err, store.ErrIO)

	env.backend.FailWrites(nil)
	got, err := env.svc.GetVariable(ctx, "x")
	require.NoError(t, err)
	assert.Equal(t, "1", got.Value)
	assert.Len(t, env.svc.VariableHistory(ctx, "x"), 1)
}

func TestService_Scenario(t *testing.T) {
	env := newTestService(t)
	ctx := context.Background()

	g1, err := env.svc.CreateGroup(ctx, "Team")
	require.NoError(t, err)
	_, err = env.svc.CreateVariable(ctx, "x", "1", g1.ID)
	require.NoError(t, err)
	_, err = env.svc.UpdateVariable(ctx, "x", "2")
	require.NoError(t, err)
	require.NoError(t, env.svc.DeleteGroup(ctx, g1.ID))

	x, err := env.svc.GetVariable(ctx, "x")
	require.NoError(t, err)
	assert.Equal(t, store.DefaultGroupID, x.GroupID)
	assert.Equal(t, "2", x.Value)

	entries := env.svc.VariableHistory(ctx, "x")
	require.Len(t, entries, 2)
	assert.Equal(t, history.ActionUpdate, entries[0].Action)
	assert.Equal(t, history.ActionCreate, entries[1].Action)
}

func TestService_ConcurrentUpdatesAllRecorded(t *testing.T) {
	env := newTestService(t)
	ctx := context.Background()

	const n = 20
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := env.svc.CreateVariable(ctx, fmt.Sprintf("v%d", i), "x", "")
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	// The service lock prevents lost updates
	assert.Len(t, env.svc.ListVariables(ctx, Filter{}), n)
	assert.Len(t, env.svc.History(ctx), n)
}

func TestService_GroupIDsAreUnique(t *testing.T) {
	env := newTestService(t)
	ctx := context.Background()

	a, err := env.svc.CreateGroup(ctx, "A")
	require.NoError(t, err)
	b, err := env.svc.CreateGroup(ctx, "A")
	require.NoError(t, err)
	assert.NotEqual(t, a.ID, b.ID)
	assert.Len(t, env.svc.ListGroups(ctx), 3)
}
