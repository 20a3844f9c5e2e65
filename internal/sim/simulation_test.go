package sim

import (
	"context"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/annel0/mmo-physics/internal/eventbus"
	"github.com/annel0/mmo-physics/internal/physics"
	"github.com/annel0/mmo-physics/internal/storage"
	"github.com/annel0/mmo-physics/internal/vec"
	"github.com/annel0/mmo-physics/internal/world"
	"github.com/annel0/mmo-physics/internal/world/block"
)

const groundY = 10

// flatBlocks создаёт мир с каменным полом, верх которого на высоте groundY
func flatBlocks(t *testing.T) *world.BlockWorld {
	t.Helper()
	w := world.NewBlockWorld(world.NewWorldGenerator(1), nil, nil)

	flat := make([]block.BlockID, world.ChunkVolume)
	for y := 0; y < groundY; y++ {
		for i := 0; i < world.ChunkSize*world.ChunkSize; i++ {
			flat[y*world.ChunkSize*world.ChunkSize+i] = block.StoneBlockID
		}
	}

	for cx := -2; cx <= 2; cx++ {
		for cz := -2; cz <= 2; cz++ {
			c, err := w.LoadChunk(context.Background(), vec.Vec2{X: cx, Y: cz})
			require.NoError(t, err)
			require.NoError(t, c.LoadBlocks(flat))
		}
	}
	return w
}

func newSim(t *testing.T, repo storage.PositionRepo, bus eventbus.EventBus) *Simulation {
	t.Helper()
	return NewSimulation(Config{
		Params:        physics.DefaultParams(),
		CommandQueue:  16,
		PreloadRadius: 1,
	}, flatBlocks(t), repo, bus, nil)
}

func ticks(s *Simulation, n int) {
	for i := 0; i < n; i++ {
		s.Tick(context.Background())
	}
}

func TestPlayerFallsAndLands(t *testing.T) {
	bus := eventbus.NewMemoryBus(64)
	defer bus.Close()

	var mu sync.Mutex
	var landings []eventbus.ObjectLanded
	_, err := bus.Subscribe(context.Background(), eventbus.Filter{Types: []string{eventbus.TypeObjectLanded}},
		func(ctx context.Context, ev *eventbus.Envelope) {
			var payload eventbus.ObjectLanded
			if ev.Decode(&payload) == nil {
				mu.Lock()
				landings = append(landings, payload)
				mu.Unlock()
			}
		})
	require.NoError(t, err)

	s := newSim(t, nil, bus)
	info, err := s.Spawn(context.Background(), SpawnRequest{Type: EntityTypePlayer, Position: vec.Vec3Float{X: 8, Y: 15, Z: 8}})
	require.NoError(t, err)

	ticks(s, 100)

	got, ok := s.Body(info.ID)
	require.True(t, ok)
	assert.InDelta(t, groundY, got.Position.Y, 1e-3)
	assert.Equal(t, 0.0, got.Velocity.Y)
	assert.InDelta(t, 8, got.Position.X, 1e-9)

	bus.Close()
	mu.Lock()
	defer mu.Unlock()
	require.Len(t, landings, 1, "одно приземление")
	assert.Equal(t, info.ID, landings[0].ObjectID)
	assert.Greater(t, landings[0].FallSpeed, 0.0)
}

func TestApplyForceThroughQueue(t *testing.T) {
	s := newSim(t, nil, nil)
	info, err := s.Spawn(context.Background(), SpawnRequest{Type: EntityTypePlayer, Position: vec.Vec3Float{X: 8, Y: groundY, Z: 8}})
	require.NoError(t, err)
	ticks(s, 2)

	require.NoError(t, s.ApplyForce(info.ID, vec.Vec3Float{X: 0.5}))
	assert.Equal(t, 1, s.Stats().PendingCommands)

	report := s.Tick(context.Background())
	assert.Equal(t, 1, report.Commands)
	assert.Equal(t, 0, report.Rejected)

	got, _ := s.Body(info.ID)
	assert.InDelta(t, 8.5, got.Position.X, 1e-6)
	assert.InDelta(t, groundY, got.Position.Y, 1e-3)
	assert.Equal(t, 0, s.Stats().PendingCommands)
}

func TestRejectedCommands(t *testing.T) {
	s := newSim(t, nil, nil)
	info, err := s.Spawn(context.Background(), SpawnRequest{Type: EntityTypeItem, Position: vec.Vec3Float{X: 3, Y: groundY, Z: 3}})
	require.NoError(t, err)

	require.NoError(t, s.ApplyForce(999999, vec.Vec3Float{X: 1}))
	require.NoError(t, s.ApplyForce(info.ID, vec.Vec3Float{Y: 100}), "предел проверяется в тике")

	report := s.Tick(context.Background())
	assert.Equal(t, 2, report.Rejected)
	assert.Equal(t, 0, report.Commands)

	assert.Error(t, s.ApplyForce(info.ID, vec.Vec3Float{X: math.NaN()}))
}

func TestCommandQueueFull(t *testing.T) {
	s := newSim(t, nil, nil)
	for i := 0; i < 16; i++ {
		require.NoError(t, s.SetNoGravity(1, true))
	}
	assert.ErrorIs(t, s.SetNoGravity(1, true), ErrQueueFull)
}

func TestTeleport(t *testing.T) {
	s := newSim(t, nil, nil)
	info, err := s.Spawn(context.Background(), SpawnRequest{Type: EntityTypePlayer, Position: vec.Vec3Float{X: 8, Y: groundY, Z: 8}})
	require.NoError(t, err)

	require.NoError(t, s.Teleport(info.ID, vec.Vec3Float{X: -20, Y: groundY, Z: -20}))
	s.Tick(context.Background())

	got, _ := s.Body(info.ID)
	assert.InDelta(t, -20, got.Position.X, 1e-9)
	assert.InDelta(t, -20, got.Position.Z, 1e-9)

	found := s.Describe(s.World().SearchObjectsInBox(physics.AABBAround(vec.Vec3Float{X: -20, Y: groundY + 1, Z: -20}, 1)))
	require.Len(t, found, 1)
	assert.Equal(t, info.ID, found[0].ID)
	assert.Empty(t, s.World().SearchObjectsInBox(physics.AABBAround(vec.Vec3Float{X: 8, Y: groundY + 1, Z: 8}, 1)))
}

func TestSpawnRestoresSnapshot(t *testing.T) {
	repo := storage.NewMemoryPositionRepo()
	ctx := context.Background()
	require.NoError(t, repo.Save(ctx, storage.ObjectSnapshot{
		Key:      "alice",
		Kind:     string(EntityTypePlayer),
		Position: vec.Vec3Float{X: 20, Y: groundY, Z: 20},
	}))

	s := newSim(t, repo, nil)
	info, err := s.Spawn(ctx, SpawnRequest{Key: "alice", Type: EntityTypePlayer, Position: vec.Vec3Float{X: 1, Y: 50, Z: 1}})
	require.NoError(t, err)
	assert.InDelta(t, 20, info.Position.X, 1e-9)
	assert.InDelta(t, groundY, info.Position.Y, 1e-9)
	assert.InDelta(t, 20, info.Position.Z, 1e-9)

	byKey, ok := s.BodyByKey("alice")
	require.True(t, ok)
	assert.Equal(t, info.ID, byKey.ID)

	_, err = s.Spawn(ctx, SpawnRequest{Key: "alice", Type: EntityTypePlayer})
	assert.ErrorIs(t, err, ErrAlreadySpawned)

	_, err = s.Spawn(ctx, SpawnRequest{Type: "dragon"})
	assert.ErrorIs(t, err, ErrUnknownEntityType)
}

func TestSpawnRejectsInvalidVelocity(t *testing.T) {
	s := newSim(t, nil, nil)
	ctx := context.Background()
	pos := vec.Vec3Float{X: 8, Y: groundY, Z: 8}

	_, err := s.Spawn(ctx, SpawnRequest{Type: EntityTypeProjectile, Position: pos, Velocity: vec.Vec3Float{X: 1e9}})
	assert.ErrorIs(t, err, ErrInvalidSpawn)
	_, err = s.Spawn(ctx, SpawnRequest{Type: EntityTypeProjectile, Position: pos, Velocity: vec.Vec3Float{Z: -physics.DefaultMaxForce - 0.01}})
	assert.ErrorIs(t, err, ErrInvalidSpawn)
	_, err = s.Spawn(ctx, SpawnRequest{Type: EntityTypeProjectile, Position: pos, Velocity: vec.Vec3Float{Y: math.NaN()}})
	assert.ErrorIs(t, err, ErrInvalidSpawn)
	assert.Equal(t, 0, s.Stats().Bodies)

	info, err := s.Spawn(ctx, SpawnRequest{Type: EntityTypeProjectile, Position: pos, Velocity: vec.Vec3Float{X: physics.DefaultMaxForce}})
	require.NoError(t, err)
	assert.InDelta(t, physics.DefaultMaxForce, info.Velocity.X, 1e-9)
}

func TestDespawnSavesSnapshot(t *testing.T) {
	repo := storage.NewMemoryPositionRepo()
	ctx := context.Background()
	s := newSim(t, repo, nil)

	info, err := s.Spawn(ctx, SpawnRequest{Key: "bob", Type: EntityTypeAnimal, Position: vec.Vec3Float{X: 4, Y: groundY + 2, Z: 4}})
	require.NoError(t, err)
	ticks(s, 40)

	require.NoError(t, s.Despawn(ctx, info.ID))
	_, ok := s.Body(info.ID)
	assert.False(t, ok)
	assert.Equal(t, 0, s.World().ObjectCount())

	snap, found, err := repo.Load(ctx, "bob")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, string(EntityTypeAnimal), snap.Kind)
	assert.InDelta(t, groundY, snap.Position.Y, 1e-3)

	assert.ErrorIs(t, s.Despawn(ctx, info.ID), ErrObjectNotFound)

	// Повторный спавн по ключу возвращает сущность на место
	again, err := s.Spawn(ctx, SpawnRequest{Key: "bob", Type: EntityTypeAnimal})
	require.NoError(t, err)
	assert.InDelta(t, 4, again.Position.X, 1e-9)
}

func TestSaveAll(t *testing.T) {
	repo := storage.NewMemoryPositionRepo()
	ctx := context.Background()
	s := newSim(t, repo, nil)

	for _, key := range []string{"a", "b", ""} {
		_, err := s.Spawn(ctx, SpawnRequest{Key: key, Type: EntityTypeItem, Position: vec.Vec3Float{X: 5, Y: groundY, Z: 5}})
		require.NoError(t, err)
	}

	n, err := s.SaveAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, []string{"a", "b"}, repo.Keys())

	n, err = newSim(t, nil, nil).SaveAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestSpectatorAndMarker(t *testing.T) {
	s := newSim(t, nil, nil)
	ctx := context.Background()

	spectator, err := s.Spawn(ctx, SpawnRequest{Type: EntityTypeSpectator, Position: vec.Vec3Float{X: 2, Y: 30, Z: 2}})
	require.NoError(t, err)
	marker, err := s.Spawn(ctx, SpawnRequest{Type: EntityTypeMarker, Position: vec.Vec3Float{X: 6, Y: 30, Z: 6}})
	require.NoError(t, err)
	require.NoError(t, s.ApplyForce(marker.ID, vec.Vec3Float{X: 1}))

	ticks(s, 10)

	got, _ := s.Body(spectator.ID)
	assert.Equal(t, 30.0, got.Position.Y, "наблюдатель не падает")
	assert.Nil(t, got.Box)

	got, _ = s.Body(marker.ID)
	assert.Equal(t, vec.Vec3Float{X: 6, Y: 30, Z: 6}, got.Position, "кинематическое тело игнорирует силы")
	require.NotNil(t, got.Box)

	assert.Equal(t, 1, s.World().CellCount(), "индексируется только маркер")
}

func TestPreloadPublishesChunkEvents(t *testing.T) {
	bus := eventbus.NewMemoryBus(64)
	defer bus.Close()

	var mu sync.Mutex
	loaded := map[vec.Vec2]bool{}
	_, err := bus.Subscribe(context.Background(), eventbus.Filter{Types: []string{eventbus.TypeChunkLoaded}},
		func(ctx context.Context, ev *eventbus.Envelope) {
			var payload eventbus.ChunkLoaded
			if ev.Decode(&payload) == nil {
				mu.Lock()
				loaded[payload.Coords] = true
				mu.Unlock()
			}
		})
	require.NoError(t, err)

	s := newSim(t, nil, bus)
	before := s.Blocks().Stats().LoadedChunks

	// Чанк (3,0) и его соседи справа ещё не загружены
	_, err = s.Spawn(context.Background(), SpawnRequest{Type: EntityTypeMarker, Position: vec.Vec3Float{X: 50, Y: 100, Z: 8}})
	require.NoError(t, err)
	assert.Equal(t, before+6, s.Blocks().Stats().LoadedChunks)

	bus.Close()
	mu.Lock()
	defer mu.Unlock()
	assert.Len(t, loaded, 6)
	assert.True(t, loaded[vec.Vec2{X: 4, Y: 1}])
}

func TestObserversAndStats(t *testing.T) {
	s := newSim(t, nil, nil)
	var reports []TickReport
	s.AddObserver(func(r TickReport) { reports = append(reports, r) })

	_, err := s.Spawn(context.Background(), SpawnRequest{Type: EntityTypeProjectile, Position: vec.Vec3Float{X: 8, Y: 40, Z: 8}, Velocity: vec.Vec3Float{X: 1}})
	require.NoError(t, err)
	ticks(s, 3)

	require.Len(t, reports, 3)
	assert.Equal(t, uint64(3), reports[2].Number)
	assert.Equal(t, 1, reports[2].Objects)

	stats := s.Stats()
	assert.Equal(t, uint64(3), stats.Ticks)
	assert.Equal(t, uint64(3), stats.Physics.Ticks)
	assert.Equal(t, 1, stats.Bodies)
	assert.Equal(t, 25, stats.Blocks.LoadedChunks)
	assert.Greater(t, stats.Terrain.Sweeps, uint64(0))
}

func TestRunStopsOnCancel(t *testing.T) {
	repo := storage.NewMemoryPositionRepo()
	params := physics.DefaultParams()
	params.TickDuration = 5 * time.Millisecond
	s := NewSimulation(Config{Params: params, PreloadRadius: 1}, flatBlocks(t), repo, nil, nil)

	_, err := s.Spawn(context.Background(), SpawnRequest{Key: "runner", Type: EntityTypePlayer, Position: vec.Vec3Float{X: 8, Y: 12, Z: 8}})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Millisecond)
	defer cancel()
	require.NoError(t, s.Run(ctx))

	assert.Greater(t, s.Stats().Ticks, uint64(0))
	assert.ErrorIs(t, s.ApplyForce(1, vec.Vec3Float{}), ErrStopped)

	_, found, err := repo.Load(context.Background(), "runner")
	require.NoError(t, err)
	assert.True(t, found, "снимок сохранён при остановке")
}

func TestArchetypes(t *testing.T) {
	assert.Len(t, EntityTypes(), 7)
	assert.Equal(t, EntityTypeAnimal, EntityTypes()[0])

	player, err := ArchetypeOf(EntityTypePlayer)
	require.NoError(t, err)
	box := player.Volume(vec.Vec3Float{X: 1, Y: 2, Z: 3}).MinBoundingBox()
	assert.InDelta(t, 0.6, box.Max.X-box.Min.X, 1e-9)
	assert.InDelta(t, 1.8, box.Max.Y-box.Min.Y, 1e-9)
	assert.Equal(t, physics.MovementStepable, player.Movement.Kind)

	spectator, err := ArchetypeOf(EntityTypeSpectator)
	require.NoError(t, err)
	assert.False(t, spectator.OccupiesSpace())
	assert.Equal(t, physics.VolumeEmpty, spectator.Volume(vec.Vec3Float{}).Kind())
}
