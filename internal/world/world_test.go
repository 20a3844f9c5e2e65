package world

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/annel0/mmo-physics/internal/physics"
	"github.com/annel0/mmo-physics/internal/vec"
	"github.com/annel0/mmo-physics/internal/world/block"
)

type memStore struct {
	mu      sync.Mutex
	data    map[vec.Vec2][]block.BlockID
	loadErr error
	saves   int
}

func newMemStore() *memStore {
	return &memStore{data: make(map[vec.Vec2][]block.BlockID)}
}

func (s *memStore) LoadChunk(_ context.Context, coords vec.Vec2) ([]block.BlockID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.loadErr != nil {
		return nil, s.loadErr
	}
	blocks, ok := s.data[coords]
	if !ok {
		return nil, ErrChunkNotFound
	}
	return blocks, nil
}

func (s *memStore) SaveChunk(_ context.Context, coords vec.Vec2, blocks []block.BlockID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[coords] = blocks
	s.saves++
	return nil
}

// flatWorld загружает чанки [-1..1]x[-1..1], заполненные камнем до groundY включительно.
func flatWorld(t *testing.T, groundY int) *BlockWorld {
	t.Helper()
	w := NewBlockWorld(NewWorldGenerator(1), nil, nil)
	for cz := -1; cz <= 1; cz++ {
		for cx := -1; cx <= 1; cx++ {
			c := NewChunk(vec.Vec2{X: cx, Y: cz})
			for y := 0; y <= groundY; y++ {
				for z := 0; z < ChunkSize; z++ {
					for x := 0; x < ChunkSize; x++ {
						c.setBlockUnchecked(x, y, z, block.StoneBlockID)
					}
				}
			}
			w.chunks[c.Coords] = c
		}
	}
	return w
}

func player(feet vec.Vec3Float) physics.BoundingVolume {
	return physics.NewBoxVolume(physics.EntityAABB(feet, 0.6, 1.8))
}

func TestEnumerateObstaclesFlatGround(t *testing.T) {
	w := flatWorld(t, 9)

	envelope := physics.EntityAABB(vec.Vec3Float{X: 0.5, Y: 10, Z: 0.5}, 0.6, 1.8).
		Extended(vec.Vec3Float{Y: -0.5})
	boxes := w.EnumerateObstacles(envelope)

	require.Len(t, boxes, 1)
	assert.Equal(t, vec.Vec3Float{X: 0, Y: 9, Z: 0}, boxes[0].Min)
	assert.Equal(t, vec.Vec3Float{X: 1, Y: 10, Z: 1}, boxes[0].Max)
	assert.Equal(t, uint64(1), w.Stats().Queries)
}

func TestEnumerateObstaclesNegativeCoords(t *testing.T) {
	w := flatWorld(t, 9)

	envelope := physics.NewAABB(
		vec.Vec3Float{X: -0.5, Y: 10.5, Z: -0.5},
		vec.Vec3Float{X: -1.5, Y: 9.5, Z: -1.5},
	)
	boxes := w.EnumerateObstacles(envelope)

	// Столбцы x,z в {-2,-1}: верхний слой y=9
	require.Len(t, boxes, 4)
	for _, b := range boxes {
		assert.Equal(t, 9.0, b.Min.Y)
		assert.LessOrEqual(t, b.Max.X, 0.0)
		assert.LessOrEqual(t, b.Max.Z, 0.0)
	}
}

func TestEnumerateObstaclesUnloadedIsSolid(t *testing.T) {
	w := flatWorld(t, 9)

	// x=48 лежит в чанке 3, который не загружен
	envelope := physics.NewAABB(
		vec.Vec3Float{X: 48.5, Y: 20.5, Z: 0.5},
		vec.Vec3Float{X: 48.2, Y: 19.5, Z: 0.2},
	)
	boxes := w.EnumerateObstacles(envelope)

	require.Len(t, boxes, 1)
	assert.Equal(t, 48.0, boxes[0].Min.X)
	assert.Equal(t, 49.0, boxes[0].Max.X)
	assert.Equal(t, 19.0, boxes[0].Min.Y)
	assert.Equal(t, 21.0, boxes[0].Max.Y)
	assert.Equal(t, uint64(1), w.Stats().UnloadedHits)
}

func TestEnumerateObstaclesBelowZeroIsSolid(t *testing.T) {
	w := NewBlockWorld(NewWorldGenerator(1), nil, nil)
	w.chunks[vec.Vec2{}] = NewChunk(vec.Vec2{})

	envelope := physics.NewAABB(
		vec.Vec3Float{X: 1.5, Y: 1, Z: 1.5},
		vec.Vec3Float{X: 1.2, Y: -0.5, Z: 1.2},
	)
	boxes := w.EnumerateObstacles(envelope)

	require.Len(t, boxes, 1)
	assert.Equal(t, 0.0, boxes[0].Max.Y)
	assert.True(t, boxes[0].TestIntersection(envelope))
}

func TestTerrainLandsOnBlocks(t *testing.T) {
	w := flatWorld(t, 9)
	terrain := physics.NewTerrain(w, physics.DefaultParams())

	out, v := physics.SimpleMovement().Resolve(terrain, player(vec.Vec3Float{X: 0.5, Y: 10.5, Z: 0.5}), vec.Vec3Float{Y: -1})

	assert.InDelta(t, 10.0, out.MinBoundingBox().Min.Y, 1e-3)
	assert.Equal(t, 0.0, v.Y)
}

func TestTerrainStepsOntoSlab(t *testing.T) {
	w := flatWorld(t, 9)
	require.NoError(t, w.SetBlock(vec.Vec3{X: 1, Y: 10, Z: 0}, block.StoneSlabBlockID))
	terrain := physics.NewTerrain(w, physics.DefaultParams())

	out, _ := physics.Stepable(0.6).Resolve(terrain, player(vec.Vec3Float{X: 0.5, Y: 10, Z: 0.5}), vec.Vec3Float{X: 1, Y: -0.1})

	box := out.MinBoundingBox()
	assert.InDelta(t, 10.5, box.Min.Y, 1e-3, "поднялись на слэб")
	assert.InDelta(t, 1.2, box.Min.X, 1e-3)
	assert.Equal(t, uint64(1), terrain.Stats().StepUps)
}

func TestTerrainBlockedByFullBlock(t *testing.T) {
	w := flatWorld(t, 9)
	require.NoError(t, w.SetBlock(vec.Vec3{X: 1, Y: 10, Z: 0}, block.StoneBlockID))
	terrain := physics.NewTerrain(w, physics.DefaultParams())

	out, v := physics.Stepable(0.6).Resolve(terrain, player(vec.Vec3Float{X: 0.5, Y: 10, Z: 0.5}), vec.Vec3Float{X: 1, Y: -0.1})

	box := out.MinBoundingBox()
	assert.InDelta(t, 1.0, box.Max.X, 1e-3, "упёрлись в блок")
	assert.InDelta(t, 10.0, box.Min.Y, 1e-3)
	assert.Equal(t, 0.0, v.X)
}

func TestGetSetBlock(t *testing.T) {
	w := flatWorld(t, 9)

	id, ok := w.GetBlock(vec.Vec3{X: -5, Y: 9, Z: -5})
	assert.True(t, ok)
	assert.Equal(t, block.StoneBlockID, id)

	_, ok = w.GetBlock(vec.Vec3{X: 100, Y: 9, Z: 0})
	assert.False(t, ok)

	err := w.SetBlock(vec.Vec3{X: 100, Y: 9, Z: 0}, block.StoneBlockID)
	assert.True(t, errors.Is(err, ErrChunkNotLoaded))

	err = w.SetBlock(vec.Vec3{X: 0, Y: ChunkHeight, Z: 0}, block.StoneBlockID)
	assert.True(t, errors.Is(err, ErrOutOfWorld))
}

func TestSurfaceY(t *testing.T) {
	w := flatWorld(t, 9)
	require.NoError(t, w.SetBlock(vec.Vec3{X: 3, Y: 10, Z: 3}, block.CarpetBlockID))

	y, ok := w.SurfaceY(0, 0)
	require.True(t, ok)
	assert.Equal(t, 10.0, y)

	y, ok = w.SurfaceY(3, 3)
	require.True(t, ok)
	assert.InDelta(t, 10.0625, y, 1e-9)

	_, ok = w.SurfaceY(500, 500)
	assert.False(t, ok)
}

func TestLoadChunkGeneratesAndPersists(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	w := NewBlockWorld(NewWorldGenerator(99), store, nil)

	c, err := w.LoadChunk(ctx, vec.Vec2{X: 2, Y: -3})
	require.NoError(t, err)
	assert.True(t, c.HasChanges(), "новый чанк ещё не сохранён")

	again, err := w.LoadChunk(ctx, vec.Vec2{X: 2, Y: -3})
	require.NoError(t, err)
	assert.Same(t, c, again)

	n, err := w.SaveDirty(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.False(t, c.HasChanges())

	// Второй мир читает чанк из хранилища
	w2 := NewBlockWorld(NewWorldGenerator(99), store, nil)
	c2, err := w2.LoadChunk(ctx, vec.Vec2{X: 2, Y: -3})
	require.NoError(t, err)
	assert.Equal(t, c.Snapshot(), c2.Snapshot())
	assert.Equal(t, uint64(1), w2.Stats().FromStore)
	assert.Equal(t, uint64(0), w2.Stats().Generated)
}

func TestLoadChunkStoreError(t *testing.T) {
	store := newMemStore()
	store.loadErr = errors.New("диск недоступен")
	w := NewBlockWorld(NewWorldGenerator(1), store, nil)

	_, err := w.LoadChunk(context.Background(), vec.Vec2{})
	require.Error(t, err)
	assert.False(t, w.IsLoaded(vec.Vec2{}))
}

func TestUnloadChunkSaves(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	w := NewBlockWorld(NewWorldGenerator(5), store, nil)

	_, err := w.LoadChunk(ctx, vec.Vec2{})
	require.NoError(t, err)
	require.NoError(t, w.UnloadChunk(ctx, vec.Vec2{}))

	assert.False(t, w.IsLoaded(vec.Vec2{}))
	assert.Equal(t, 1, store.saves)
	assert.NoError(t, w.UnloadChunk(ctx, vec.Vec2{}), "повторная выгрузка - no-op")
}

func TestEnsureArea(t *testing.T) {
	w := NewBlockWorld(NewWorldGenerator(3), nil, nil)

	require.NoError(t, w.EnsureArea(context.Background(), vec.Vec3Float{X: -1, Y: 60, Z: 20}, 1))

	assert.Equal(t, 9, w.Stats().LoadedChunks)
	assert.True(t, w.IsLoaded(vec.Vec2{X: -1, Y: 1}))
	assert.True(t, w.IsLoaded(vec.Vec2{X: -2, Y: 0}))
	assert.True(t, w.IsLoaded(vec.Vec2{X: 0, Y: 2}))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, w.EnsureArea(ctx, vec.Vec3Float{X: 500}, 1), context.Canceled)
}
