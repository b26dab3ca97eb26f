// internal/dispatcher/dispatcher_test.go
package dispatcher

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/starforge/hyperdrive/internal/config"
	"github.com/starforge/hyperdrive/internal/core"
	"github.com/starforge/hyperdrive/internal/failover"
	"github.com/starforge/hyperdrive/internal/metrics"
	"github.com/starforge/hyperdrive/internal/notify"
	"github.com/starforge/hyperdrive/internal/policy"
	"github.com/starforge/hyperdrive/internal/provider"
	"github.com/starforge/hyperdrive/internal/provider/providertest"
	"github.com/starforge/hyperdrive/internal/replication"
	"github.com/starforge/hyperdrive/internal/scoring"
)

type fixture struct {
	dispatcher *Dispatcher
	registry   *provider.Registry
	fakes      map[provider.Type]*providertest.Fake
}

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Replication.IsEnabled = true
	cfg.Failover.IsEnabled = true
	cfg.Failover.Triggers = []config.FailoverTrigger{
		{Name: "everything", IsEnabled: true,
			Condition: config.TriggerCondition{Type: "any"}},
	}
	return cfg
}

func newFixture(t *testing.T, cfg *config.Config, types ...provider.Type) *fixture {
	t.Helper()

	reg := provider.NewRegistry(zap.NewNop())
	fakes := make(map[provider.Type]*providertest.Fake, len(types))
	for _, typ := range types {
		f := providertest.New(typ, provider.CategoryStorage)
		fakes[typ] = f
		reg.Register(f, provider.Signals{})
		require.False(t, reg.Activate(context.Background(), typ).IsError)
	}

	store := config.NewStore(cfg, zap.NewNop())
	sel := policy.NewSelector(reg, scoring.NewEngine(cfg.Selection, zap.NewNop()), zap.NewNop())
	notifier := notify.NewLogNotifier(zap.NewNop())
	collector := metrics.NewCollector()

	fo := failover.NewOrchestrator(store, reg, sel, notifier, collector, zap.NewNop(),
		failover.WithHopDelay(0, 0))
	repl := replication.NewOrchestrator(store, reg, sel, notifier, collector, zap.NewNop())

	d := New(store, reg, sel, fo, repl, collector, zap.NewNop())
	return &fixture{dispatcher: d, registry: reg, fakes: fakes}
}

func TestSaveAvatar_StampsAndStores(t *testing.T) {
	fx := newFixture(t, testConfig(), provider.TypeMemory, provider.TypeRedis, provider.TypeMongoDB)

	avatar := &core.Avatar{Username: "mira", Email: "mira@example.com"}
	res := fx.dispatcher.SaveAvatar(context.Background(), avatar)

	require.True(t, res.Succeeded())
	assert.True(t, res.WasSaved)
	assert.NotEqual(t, uuid.Nil, res.Value.ID)
	assert.False(t, res.Value.CreatedDate.IsZero())
	assert.Equal(t, 1, res.Value.Version)

	// Equal scores break ties by ascending type: Memory is the primary.
	assert.True(t, fx.fakes[provider.TypeMemory].Stored(res.Value.ID))
}

func TestSaveAvatar_MirrorsToReplicationTargets(t *testing.T) {
	fx := newFixture(t, testConfig(), provider.TypeMemory, provider.TypeRedis, provider.TypeMongoDB)

	res := fx.dispatcher.SaveAvatar(context.Background(), &core.Avatar{Username: "mira"})
	require.True(t, res.Succeeded())
	fx.dispatcher.Drain()

	assert.True(t, fx.fakes[provider.TypeRedis].Stored(res.Value.ID))
	assert.True(t, fx.fakes[provider.TypeMongoDB].Stored(res.Value.ID))
}

func TestSaveAvatar_ReplicationSkipBecomesWarning(t *testing.T) {
	cfg := testConfig()
	cfg.Replication.IsEnabled = false
	fx := newFixture(t, cfg, provider.TypeMemory, provider.TypeRedis)

	res := fx.dispatcher.SaveAvatar(context.Background(), &core.Avatar{Username: "mira"})

	require.True(t, res.Succeeded(), "a skipped replication must not fail the write")
	assert.True(t, res.IsWarning)
	require.NotEmpty(t, res.Warnings)
	assert.Contains(t, res.Warnings[0], "replication skipped")
}

func TestLoadAvatar_RoundTrip(t *testing.T) {
	fx := newFixture(t, testConfig(), provider.TypeMemory, provider.TypeRedis)

	saved := fx.dispatcher.SaveAvatar(context.Background(), &core.Avatar{Username: "mira"})
	require.True(t, saved.Succeeded())

	res := fx.dispatcher.LoadAvatar(context.Background(), saved.Value.ID)
	require.True(t, res.Succeeded())
	assert.True(t, res.WasLoaded)
	assert.Equal(t, "mira", res.Value.Username)
}

func TestLoadAvatar_NotFound(t *testing.T) {
	fx := newFixture(t, testConfig(), provider.TypeMemory)

	res := fx.dispatcher.LoadAvatar(context.Background(), uuid.New())
	require.True(t, res.IsError)
	assert.ErrorIs(t, res.Err, core.ErrNotFound)
}

func TestLoadAvatar_RejectsWrongKind(t *testing.T) {
	fx := newFixture(t, testConfig(), provider.TypeMemory)

	saved := fx.dispatcher.SaveHolon(context.Background(), &core.Holon{Name: "root", HolonType: "zome"})
	require.True(t, saved.Succeeded())

	res := fx.dispatcher.LoadAvatar(context.Background(), saved.Value.ID)
	require.True(t, res.IsError)
	assert.Contains(t, res.Message, "not an avatar")
}

func TestNoProviderAvailable(t *testing.T) {
	fx := newFixture(t, testConfig())

	res := fx.dispatcher.SaveAvatar(context.Background(), &core.Avatar{Username: "mira"})
	require.True(t, res.IsError)
	assert.ErrorIs(t, res.Err, core.ErrNoProviderAvailable)
}

func TestSave_FailsOverToNextProvider(t *testing.T) {
	fx := newFixture(t, testConfig(), provider.TypeMemory, provider.TypeRedis, provider.TypeMongoDB)
	fx.fakes[provider.TypeMemory].SaveErr = errors.New("disk full")

	res := fx.dispatcher.SaveAvatar(context.Background(), &core.Avatar{Username: "mira"})

	require.True(t, res.Succeeded())
	assert.True(t, res.IsWarning, "a failover save carries a warning")
	assert.True(t, fx.fakes[provider.TypeRedis].Stored(res.Value.ID))

	current, ok := fx.registry.Current()
	require.True(t, ok)
	assert.Equal(t, provider.TypeRedis, current.Type)
}

func TestSave_TimeoutMarksPrimaryUnreachable(t *testing.T) {
	fx := newFixture(t, testConfig(), provider.TypeMemory, provider.TypeRedis)
	fx.fakes[provider.TypeMemory].SaveErr = context.DeadlineExceeded

	res := fx.dispatcher.SaveAvatar(context.Background(), &core.Avatar{Username: "mira"})
	require.True(t, res.Succeeded(), "failover must absorb the timeout")

	d, _ := fx.registry.Describe(provider.TypeMemory)
	assert.Equal(t, provider.HealthUnreachable, d.Health)
}

func TestSave_ExhaustedFailoverSurfacesEveryCause(t *testing.T) {
	fx := newFixture(t, testConfig(), provider.TypeMemory, provider.TypeRedis)
	fx.fakes[provider.TypeMemory].SaveErr = errors.New("memory down")
	fx.fakes[provider.TypeRedis].SaveErr = errors.New("redis down")

	res := fx.dispatcher.SaveAvatar(context.Background(), &core.Avatar{Username: "mira"})

	require.True(t, res.IsError)
	var exhausted *core.FailoverExhaustedError
	require.ErrorAs(t, res.Err, &exhausted)
	assert.Len(t, exhausted.Causes, 2)
}

func TestDeleteAvatar(t *testing.T) {
	fx := newFixture(t, testConfig(), provider.TypeMemory)

	saved := fx.dispatcher.SaveAvatar(context.Background(), &core.Avatar{Username: "mira"})
	require.True(t, saved.Succeeded())

	res := fx.dispatcher.DeleteAvatar(context.Background(), saved.Value.ID, true)
	require.True(t, res.Succeeded())
	assert.True(t, res.WasDeleted)
	assert.Equal(t, int64(1), res.DeletedCount)

	load := fx.dispatcher.LoadAvatar(context.Background(), saved.Value.ID)
	assert.True(t, load.IsError)
}

func TestDeleteAvatar_PropagatesToReplicas(t *testing.T) {
	fx := newFixture(t, testConfig(), provider.TypeMemory, provider.TypeRedis, provider.TypeMongoDB)

	saved := fx.dispatcher.SaveAvatar(context.Background(), &core.Avatar{Username: "mira"})
	require.True(t, saved.Succeeded())
	fx.dispatcher.Drain()
	require.True(t, fx.fakes[provider.TypeRedis].Stored(saved.Value.ID))

	res := fx.dispatcher.DeleteAvatar(context.Background(), saved.Value.ID, false)
	require.True(t, res.Succeeded())
	fx.dispatcher.Drain()

	// Replicas must not keep serving an entity the primary deleted.
	assert.False(t, fx.fakes[provider.TypeRedis].Stored(saved.Value.ID))
	assert.False(t, fx.fakes[provider.TypeMongoDB].Stored(saved.Value.ID))
}

func TestSearch_FiltersByKind(t *testing.T) {
	fx := newFixture(t, testConfig(), provider.TypeMemory)

	require.True(t, fx.dispatcher.SaveAvatar(context.Background(),
		&core.Avatar{Username: "mira"}).Succeeded())
	require.True(t, fx.dispatcher.SaveHolon(context.Background(),
		&core.Holon{Name: "mira-node", HolonType: "zome"}).Succeeded())

	res := fx.dispatcher.Search(context.Background(),
		core.SearchQuery{Text: "mira", Kind: core.KindAvatar})

	require.True(t, res.Succeeded())
	require.Equal(t, 1, res.Value.NumResults)
	assert.Equal(t, core.KindAvatar, res.Value.Entities[0].EntityKind())
}

func TestSaveHolon_VersionIncrementsOnResave(t *testing.T) {
	fx := newFixture(t, testConfig(), provider.TypeMemory)

	h := &core.Holon{Name: "root", HolonType: "zome"}
	first := fx.dispatcher.SaveHolon(context.Background(), h)
	require.True(t, first.Succeeded())
	require.Equal(t, 1, first.Value.Version)

	second := fx.dispatcher.SaveHolon(context.Background(), h)
	require.True(t, second.Succeeded())
	assert.Equal(t, 2, second.Value.Version)
	assert.Equal(t, first.Value.ID, second.Value.ID)
}
