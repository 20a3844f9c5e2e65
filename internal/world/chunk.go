package world

import (
	"fmt"
	"sync"

	"github.com/annel0/mmo-physics/internal/vec"
	"github.com/annel0/mmo-physics/internal/world/block"
)

const (
	// ChunkSize - размер чанка по X и Z
	ChunkSize = 16
	// ChunkHeight - высота мира в блоках
	ChunkHeight = 128
	// ChunkVolume - число блоков в чанке
	ChunkVolume = ChunkSize * ChunkSize * ChunkHeight
)

// Chunk представляет столбец мира 16x16xChunkHeight блоков
type Chunk struct {
	Coords vec.Vec2 // Координаты чанка в мире

	mu            sync.RWMutex
	blocks        []block.BlockID // [y][z][x]
	changeCounter int
}

// NewChunk создаёт пустой (воздух) чанк с указанными координатами
func NewChunk(coords vec.Vec2) *Chunk {
	return &Chunk{
		Coords: coords,
		blocks: make([]block.BlockID, ChunkVolume),
	}
}

func blockIndex(local vec.Vec3) int {
	return local.Y*ChunkSize*ChunkSize + local.Z*ChunkSize + local.X
}

// InBounds проверяет локальные координаты
func InBounds(local vec.Vec3) bool {
	return local.X >= 0 && local.X < ChunkSize &&
		local.Z >= 0 && local.Z < ChunkSize &&
		local.Y >= 0 && local.Y < ChunkHeight
}

// GetBlock возвращает ID блока по локальным координатам. Вне чанка - воздух.
func (c *Chunk) GetBlock(local vec.Vec3) block.BlockID {
	if !InBounds(local) {
		return block.AirBlockID
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.blocks[blockIndex(local)]
}

// SetBlock устанавливает блок по локальным координатам
func (c *Chunk) SetBlock(local vec.Vec3, id block.BlockID) error {
	if !InBounds(local) {
		return fmt.Errorf("координаты %v вне чанка", local)
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	idx := blockIndex(local)
	if c.blocks[idx] == id {
		return nil
	}
	c.blocks[idx] = id
	c.changeCounter++
	return nil
}

// setBlockUnchecked используется генератором до публикации чанка
func (c *Chunk) setBlockUnchecked(x, y, z int, id block.BlockID) {
	c.blocks[y*ChunkSize*ChunkSize+z*ChunkSize+x] = id
}

// HighestSolid возвращает y верхнего непустого блока столбца или -1.
func (c *Chunk) HighestSolid(x, z int) int {
	if x < 0 || x >= ChunkSize || z < 0 || z >= ChunkSize {
		return -1
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	for y := ChunkHeight - 1; y >= 0; y-- {
		if block.IsSolid(c.blocks[y*ChunkSize*ChunkSize+z*ChunkSize+x]) {
			return y
		}
	}
	return -1
}

// visitRange вызывает fn для каждого блока в прямоугольнике (локальные координаты включительно).
func (c *Chunk) visitRange(lo, hi vec.Vec3, fn func(local vec.Vec3, id block.BlockID)) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for y := lo.Y; y <= hi.Y; y++ {
		for z := lo.Z; z <= hi.Z; z++ {
			for x := lo.X; x <= hi.X; x++ {
				local := vec.Vec3{X: x, Y: y, Z: z}
				fn(local, c.blocks[blockIndex(local)])
			}
		}
	}
}

// HasChanges возвращает true, если в чанке есть несохранённые изменения
func (c *Chunk) HasChanges() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.changeCounter > 0
}

// ChangeCounter возвращает число изменений с последнего сохранения
func (c *Chunk) ChangeCounter() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.changeCounter
}

// ClearChanges сбрасывает счётчик изменений
func (c *Chunk) ClearChanges() {
	c.mu.Lock()
	c.changeCounter = 0
	c.mu.Unlock()
}

// Snapshot возвращает копию блоков для сохранения
func (c *Chunk) Snapshot() []block.BlockID {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]block.BlockID, len(c.blocks))
	copy(out, c.blocks)
	return out
}

// snapshotForSave возвращает копию блоков и текущий счётчик изменений
func (c *Chunk) snapshotForSave() ([]block.BlockID, int) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]block.BlockID, len(c.blocks))
	copy(out, c.blocks)
	return out, c.changeCounter
}

// markSaved вычитает сохранённые изменения. Изменения после снимка остаются грязными.
func (c *Chunk) markSaved(saved int) {
	c.mu.Lock()
	c.changeCounter -= saved
	if c.changeCounter < 0 {
		c.changeCounter = 0
	}
	c.mu.Unlock()
}

// LoadBlocks заменяет содержимое чанка
func (c *Chunk) LoadBlocks(blocks []block.BlockID) error {
	if len(blocks) != ChunkVolume {
		return fmt.Errorf("неверный размер чанка %v: %d блоков, ожидалось %d", c.Coords, len(blocks), ChunkVolume)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	copy(c.blocks, blocks)
	c.changeCounter = 0
	return nil
}
