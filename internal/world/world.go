package world

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/annel0/mmo-physics/internal/logging"
	"github.com/annel0/mmo-physics/internal/physics"
	"github.com/annel0/mmo-physics/internal/vec"
	"github.com/annel0/mmo-physics/internal/world/block"
)

var (
	// ErrChunkNotFound - хранилище не содержит чанк
	ErrChunkNotFound = errors.New("chunk not found")
	// ErrChunkNotLoaded - чанк не загружен в память
	ErrChunkNotLoaded = errors.New("chunk not loaded")
	// ErrOutOfWorld - координата за пределами высоты мира
	ErrOutOfWorld = errors.New("position out of world")
)

// ChunkStore - постоянное хранилище чанков
type ChunkStore interface {
	// LoadChunk возвращает ErrChunkNotFound, если чанк ещё не сохранялся.
	LoadChunk(ctx context.Context, coords vec.Vec2) ([]block.BlockID, error)
	SaveChunk(ctx context.Context, coords vec.Vec2, blocks []block.BlockID) error
}

// WorldStats - счётчики блочного мира
type WorldStats struct {
	LoadedChunks int    `json:"loaded_chunks"`
	Generated    uint64 `json:"generated"`
	FromStore    uint64 `json:"from_store"`
	Saved        uint64 `json:"saved"`
	Queries      uint64 `json:"obstacle_queries"`
	// UnloadedHits - запросы препятствий, задевшие незагруженный чанк
	UnloadedHits uint64 `json:"unloaded_hits"`
}

// BlockWorld хранит загруженные чанки и отдаёт физике препятствия.
// Незагруженные чанки и всё ниже y=0 считаются сплошными.
type BlockWorld struct {
	generator *WorldGenerator
	store     ChunkStore
	logger    *logging.Logger

	mu     sync.RWMutex
	chunks map[vec.Vec2]*Chunk

	generated    atomic.Uint64
	fromStore    atomic.Uint64
	saved        atomic.Uint64
	queries      atomic.Uint64
	unloadedHits atomic.Uint64
}

var _ physics.ObstacleSource = (*BlockWorld)(nil)

// NewBlockWorld создаёт мир. store может быть nil - тогда чанки только генерируются.
func NewBlockWorld(generator *WorldGenerator, store ChunkStore, logger *logging.Logger) *BlockWorld {
	if generator == nil {
		panic("world: nil generator")
	}
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &BlockWorld{
		generator: generator,
		store:     store,
		logger:    logger,
		chunks:    make(map[vec.Vec2]*Chunk),
	}
}

// Generator возвращает генератор мира
func (w *BlockWorld) Generator() *WorldGenerator { return w.generator }

// Chunk возвращает загруженный чанк
func (w *BlockWorld) Chunk(coords vec.Vec2) (*Chunk, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	c, ok := w.chunks[coords]
	return c, ok
}

// IsLoaded проверяет, загружен ли чанк
func (w *BlockWorld) IsLoaded(coords vec.Vec2) bool {
	_, ok := w.Chunk(coords)
	return ok
}

// LoadChunk загружает чанк из хранилища или генерирует его.
func (w *BlockWorld) LoadChunk(ctx context.Context, coords vec.Vec2) (*Chunk, error) {
	if c, ok := w.Chunk(coords); ok {
		return c, nil
	}

	chunk, fromStore, err := w.readOrGenerate(ctx, coords)
	if err != nil {
		return nil, err
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	// Другой загрузчик мог успеть раньше
	if existing, ok := w.chunks[coords]; ok {
		return existing, nil
	}
	w.chunks[coords] = chunk
	if fromStore {
		w.fromStore.Add(1)
	} else {
		w.generated.Add(1)
	}
	return chunk, nil
}

func (w *BlockWorld) readOrGenerate(ctx context.Context, coords vec.Vec2) (*Chunk, bool, error) {
	if w.store != nil {
		blocks, err := w.store.LoadChunk(ctx, coords)
		switch {
		case err == nil:
			chunk := NewChunk(coords)
			if err := chunk.LoadBlocks(blocks); err != nil {
				return nil, false, err
			}
			w.logger.Trace("Чанк %v загружен из хранилища", coords)
			return chunk, true, nil
		case !errors.Is(err, ErrChunkNotFound):
			return nil, false, fmt.Errorf("ошибка загрузки чанка %v: %w", coords, err)
		}
	}

	chunk := w.generator.GenerateChunk(coords)
	// Сгенерированный чанк ещё не сохранён
	if w.store != nil {
		chunk.changeCounter = 1
	}
	w.logger.Trace("Чанк %v сгенерирован", coords)
	return chunk, false, nil
}

// EnsureArea загружает квадрат чанков радиуса radius вокруг точки
func (w *BlockWorld) EnsureArea(ctx context.Context, center vec.Vec3Float, radius int) error {
	for _, coords := range center.Floor().ToVec2().ToChunkCoords().ChunkSquare(radius) {
		if err := ctx.Err(); err != nil {
			return err
		}
		if _, err := w.LoadChunk(ctx, coords); err != nil {
			return err
		}
	}
	return nil
}

// GetBlock возвращает блок по мировым координатам
func (w *BlockWorld) GetBlock(pos vec.Vec3) (block.BlockID, bool) {
	if pos.Y < 0 || pos.Y >= ChunkHeight {
		return block.AirBlockID, false
	}
	chunk, ok := w.Chunk(pos.ToVec2().ToChunkCoords())
	if !ok {
		return block.AirBlockID, false
	}
	return chunk.GetBlock(localPos(pos)), true
}

// SetBlock устанавливает блок по мировым координатам в загруженном чанке
func (w *BlockWorld) SetBlock(pos vec.Vec3, id block.BlockID) error {
	if pos.Y < 0 || pos.Y >= ChunkHeight {
		return fmt.Errorf("%w: %v", ErrOutOfWorld, pos)
	}
	coords := pos.ToVec2().ToChunkCoords()
	chunk, ok := w.Chunk(coords)
	if !ok {
		return fmt.Errorf("%w: %v", ErrChunkNotLoaded, coords)
	}
	return chunk.SetBlock(localPos(pos), id)
}

func localPos(pos vec.Vec3) vec.Vec3 {
	l := pos.ToVec2().LocalInChunk()
	return vec.Vec3{X: l.X, Y: pos.Y, Z: l.Y}
}

// SurfaceY возвращает высоту верхней грани самого высокого препятствия в столбце.
func (w *BlockWorld) SurfaceY(x, z int) (float64, bool) {
	p := vec.Vec2{X: x, Y: z}
	chunk, ok := w.Chunk(p.ToChunkCoords())
	if !ok {
		return 0, false
	}
	l := p.LocalInChunk()
	y := chunk.HighestSolid(l.X, l.Y)
	if y < 0 {
		return 0, true
	}
	id := chunk.GetBlock(vec.Vec3{X: l.X, Y: y, Z: l.Y})
	return float64(y) + block.ShapeOf(id).Top(), true
}

// EnumerateObstacles возвращает все препятствия, пересекающие envelope (касание считается).
func (w *BlockWorld) EnumerateObstacles(envelope physics.AABB) []physics.AABB {
	w.queries.Add(1)

	lo := vec.Vec3{
		X: int(math.Ceil(envelope.Min.X)) - 1,
		Y: int(math.Ceil(envelope.Min.Y)) - 1,
		Z: int(math.Ceil(envelope.Min.Z)) - 1,
	}
	hi := envelope.Max.Floor()

	var out []physics.AABB

	// Ниже нуля - сплошное основание
	if lo.Y < 0 {
		out = append(out, physics.NewAABB(
			vec.Vec3Float{X: float64(hi.X + 1), Y: 0, Z: float64(hi.Z + 1)},
			lo.ToFloat(),
		))
		lo.Y = 0
	}
	if hi.Y >= ChunkHeight {
		hi.Y = ChunkHeight - 1
	}
	if lo.Y > hi.Y {
		return out
	}

	w.mu.RLock()
	defer w.mu.RUnlock()

	for cz := lo.Z >> 4; cz <= hi.Z>>4; cz++ {
		for cx := lo.X >> 4; cx <= hi.X>>4; cx++ {
			baseX, baseZ := cx<<4, cz<<4
			x0, x1 := max(lo.X, baseX), min(hi.X, baseX+ChunkSize-1)
			z0, z1 := max(lo.Z, baseZ), min(hi.Z, baseZ+ChunkSize-1)

			chunk, ok := w.chunks[vec.Vec2{X: cx, Y: cz}]
			if !ok {
				w.unloadedHits.Add(1)
				out = append(out, physics.NewAABB(
					vec.Vec3Float{X: float64(x1 + 1), Y: float64(hi.Y + 1), Z: float64(z1 + 1)},
					vec.Vec3Float{X: float64(x0), Y: float64(lo.Y), Z: float64(z0)},
				))
				continue
			}

			chunk.visitRange(
				vec.Vec3{X: x0 - baseX, Y: lo.Y, Z: z0 - baseZ},
				vec.Vec3{X: x1 - baseX, Y: hi.Y, Z: z1 - baseZ},
				func(local vec.Vec3, id block.BlockID) {
					if id == block.AirBlockID {
						return
					}
					pos := vec.Vec3{X: baseX + local.X, Y: local.Y, Z: baseZ + local.Z}
					for _, box := range block.ShapeOf(id).Boxes(pos) {
						if box.TestIntersection(envelope) {
							out = append(out, box)
						}
					}
				},
			)
		}
	}
	return out
}

// SaveDirty сохраняет изменённые чанки и возвращает их число
func (w *BlockWorld) SaveDirty(ctx context.Context) (int, error) {
	if w.store == nil {
		return 0, nil
	}

	w.mu.RLock()
	dirty := make([]*Chunk, 0)
	for _, c := range w.chunks {
		if c.HasChanges() {
			dirty = append(dirty, c)
		}
	}
	w.mu.RUnlock()

	saved := 0
	for _, c := range dirty {
		if err := w.saveChunk(ctx, c); err != nil {
			return saved, err
		}
		saved++
	}
	if saved > 0 {
		w.logger.Debug("Сохранено чанков: %d", saved)
	}
	return saved, nil
}

func (w *BlockWorld) saveChunk(ctx context.Context, c *Chunk) error {
	blocks, changes := c.snapshotForSave()
	if err := w.store.SaveChunk(ctx, c.Coords, blocks); err != nil {
		return fmt.Errorf("ошибка сохранения чанка %v: %w", c.Coords, err)
	}
	c.markSaved(changes)
	w.saved.Add(1)
	return nil
}

// UnloadChunk сохраняет (при изменениях) и выгружает чанк
func (w *BlockWorld) UnloadChunk(ctx context.Context, coords vec.Vec2) error {
	c, ok := w.Chunk(coords)
	if !ok {
		return nil
	}
	if w.store != nil && c.HasChanges() {
		if err := w.saveChunk(ctx, c); err != nil {
			return err
		}
	}
	w.mu.Lock()
	delete(w.chunks, coords)
	w.mu.Unlock()
	return nil
}

// Run периодически сохраняет изменённые чанки до отмены контекста
func (w *BlockWorld) Run(ctx context.Context, interval time.Duration) {
	if w.store == nil || interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := w.SaveDirty(ctx); err != nil && ctx.Err() == nil {
				w.logger.Error("Автосохранение мира: %v", err)
			}
		}
	}
}

// Stats возвращает счётчики мира
func (w *BlockWorld) Stats() WorldStats {
	w.mu.RLock()
	loaded := len(w.chunks)
	w.mu.RUnlock()
	return WorldStats{
		LoadedChunks: loaded,
		Generated:    w.generated.Load(),
		FromStore:    w.fromStore.Load(),
		Saved:        w.saved.Load(),
		Queries:      w.queries.Load(),
		UnloadedHits: w.unloadedHits.Load(),
	}
}
