package world

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/annel0/mmo-physics/internal/vec"
	"github.com/annel0/mmo-physics/internal/world/block"
)

func TestChunkCreateAndGetBlock(t *testing.T) {
	chunk := NewChunk(vec.Vec2{X: 5, Y: 10})
	assert.Equal(t, vec.Vec2{X: 5, Y: 10}, chunk.Coords)

	pos := vec.Vec3{X: 3, Y: 64, Z: 4}
	assert.Equal(t, block.AirBlockID, chunk.GetBlock(pos), "новый чанк заполнен воздухом")

	require.NoError(t, chunk.SetBlock(pos, block.StoneBlockID))
	assert.Equal(t, block.StoneBlockID, chunk.GetBlock(pos))
	assert.Equal(t, 1, chunk.ChangeCounter())

	// Повторная установка того же блока не считается изменением
	require.NoError(t, chunk.SetBlock(pos, block.StoneBlockID))
	assert.Equal(t, 1, chunk.ChangeCounter())
}

func TestChunkBounds(t *testing.T) {
	chunk := NewChunk(vec.Vec2{})

	assert.Error(t, chunk.SetBlock(vec.Vec3{X: 16, Y: 0, Z: 0}, block.StoneBlockID))
	assert.Error(t, chunk.SetBlock(vec.Vec3{X: 0, Y: ChunkHeight, Z: 0}, block.StoneBlockID))
	assert.Error(t, chunk.SetBlock(vec.Vec3{X: 0, Y: -1, Z: 0}, block.StoneBlockID))
	assert.Equal(t, block.AirBlockID, chunk.GetBlock(vec.Vec3{X: -1, Y: 0, Z: 0}))
	assert.False(t, chunk.HasChanges())
}

func TestChunkHighestSolid(t *testing.T) {
	chunk := NewChunk(vec.Vec2{})
	assert.Equal(t, -1, chunk.HighestSolid(2, 2))

	require.NoError(t, chunk.SetBlock(vec.Vec3{X: 2, Y: 10, Z: 2}, block.DirtBlockID))
	require.NoError(t, chunk.SetBlock(vec.Vec3{X: 2, Y: 11, Z: 2}, block.FlowerBlockID))
	assert.Equal(t, 10, chunk.HighestSolid(2, 2), "цветок проходим")
	assert.Equal(t, -1, chunk.HighestSolid(16, 2))
}

func TestChunkSnapshotRoundTrip(t *testing.T) {
	src := NewChunk(vec.Vec2{X: 1, Y: 1})
	require.NoError(t, src.SetBlock(vec.Vec3{X: 15, Y: 127, Z: 15}, block.SandBlockID))

	snap := src.Snapshot()
	require.Len(t, snap, ChunkVolume)

	// Снимок - копия
	snap[0] = block.StoneBlockID
	assert.Equal(t, block.AirBlockID, src.GetBlock(vec.Vec3{}))

	dst := NewChunk(vec.Vec2{X: 1, Y: 1})
	require.NoError(t, dst.LoadBlocks(src.Snapshot()))
	assert.Equal(t, block.SandBlockID, dst.GetBlock(vec.Vec3{X: 15, Y: 127, Z: 15}))
	assert.False(t, dst.HasChanges())

	assert.Error(t, dst.LoadBlocks(make([]block.BlockID, 10)))
}

func TestChunkMarkSavedKeepsLaterChanges(t *testing.T) {
	chunk := NewChunk(vec.Vec2{})
	require.NoError(t, chunk.SetBlock(vec.Vec3{X: 1, Y: 1, Z: 1}, block.StoneBlockID))

	_, n := chunk.snapshotForSave()
	require.NoError(t, chunk.SetBlock(vec.Vec3{X: 2, Y: 1, Z: 1}, block.StoneBlockID))
	chunk.markSaved(n)

	assert.Equal(t, 1, chunk.ChangeCounter())
	chunk.ClearChanges()
	assert.False(t, chunk.HasChanges())
}
