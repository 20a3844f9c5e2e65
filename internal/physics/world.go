package physics

import (
	"errors"
	"fmt"
	"math"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/annel0/mmo-physics/internal/vec"
)

var (
	// ErrObjectExists - объект уже зарегистрирован в мире
	ErrObjectExists = errors.New("object already mapped")
	// ErrObjectNotFound - объект не зарегистрирован в мире
	ErrObjectNotFound = errors.New("object not mapped")
)

const cellShardCount = 32

// cellShard хранит часть ячеек сетки. Структурные изменения и чтение
// идут под коротким мьютексом шарда.
type cellShard struct {
	mu    sync.RWMutex
	cells map[Cell]map[uint64]*Object
}

// indexedObject - запись индекса: объект и его последняя сетка (nil, если объект не занимает места)
type indexedObject struct {
	obj  *Object
	grid *Grid
}

// WorldStats - снимок состояния мира
type WorldStats struct {
	Objects int
	Cells   int
	Ticks   uint64
	Queries uint64
}

// World - набор физических тел с пространственным индексом по горизонтальным ячейкам.
// Шаг симуляции выполняется в одном потоке, запросы можно делать параллельно:
// они видят состояние сетки с опозданием не больше чем на один тик.
type World struct {
	params Params
	shards [cellShardCount]cellShard

	objectsMu sync.RWMutex
	objects   map[uint64]*indexedObject
	order     []*Object

	ticks   atomic.Uint64
	queries atomic.Uint64
}

// NewWorld создаёт пустой мир
func NewWorld(params Params) *World {
	w := &World{
		params:  params.Normalize(),
		objects: make(map[uint64]*indexedObject),
	}
	for i := range w.shards {
		w.shards[i].cells = make(map[Cell]map[uint64]*Object)
	}
	return w
}

// Params возвращает параметры мира
func (w *World) Params() Params {
	return w.params
}

func (w *World) shard(c Cell) *cellShard {
	return &w.shards[c.hash()%cellShardCount]
}

// gridOf возвращает сетку объёма или nil для пустого объёма
func (w *World) gridOf(volume BoundingVolume) *Grid {
	if !volume.OccupiesSpace() {
		return nil
	}
	g := GridFor(volume.MinBoundingBox(), w.params.CellWidth)
	return &g
}

func (w *World) insertIntoCell(c Cell, obj *Object) {
	s := w.shard(c)
	s.mu.Lock()
	objs, ok := s.cells[c]
	if !ok {
		objs = make(map[uint64]*Object)
		s.cells[c] = objs
	}
	objs[obj.id] = obj
	s.mu.Unlock()
}

func (w *World) extractFromCell(c Cell, obj *Object) {
	s := w.shard(c)
	s.mu.Lock()
	if objs, ok := s.cells[c]; ok {
		delete(objs, obj.id)
		if len(objs) == 0 {
			delete(s.cells, c)
		}
	}
	s.mu.Unlock()
}

// InitObjectMapping регистрирует объект и добавляет его во все покрытые ячейки
func (w *World) InitObjectMapping(obj *Object) error {
	w.objectsMu.Lock()
	defer w.objectsMu.Unlock()

	if _, exists := w.objects[obj.id]; exists {
		return fmt.Errorf("object %d: %w", obj.id, ErrObjectExists)
	}

	grid := w.gridOf(obj.BoundingVolume())
	if grid != nil {
		for _, c := range grid.Cells() {
			w.insertIntoCell(c, obj)
		}
	}
	w.objects[obj.id] = &indexedObject{obj: obj, grid: grid}
	w.order = append(w.order, obj)
	return nil
}

// CloseObjectMapping удаляет объект из мира и из всех его ячеек
func (w *World) CloseObjectMapping(obj *Object) error {
	w.objectsMu.Lock()
	defer w.objectsMu.Unlock()

	indexed, exists := w.objects[obj.id]
	if !exists {
		return fmt.Errorf("object %d: %w", obj.id, ErrObjectNotFound)
	}
	if indexed.grid != nil {
		for _, c := range indexed.grid.Cells() {
			w.extractFromCell(c, obj)
		}
	}
	delete(w.objects, obj.id)
	w.order = slices.DeleteFunc(w.order, func(o *Object) bool { return o.id == obj.id })
	return nil
}

// UpdateObjectMapping приводит членство объекта в ячейках к его текущему объёму.
// Затрагиваются только ячейки вне пересечения старой и новой сеток.
func (w *World) UpdateObjectMapping(obj *Object) error {
	w.objectsMu.Lock()
	defer w.objectsMu.Unlock()

	indexed, exists := w.objects[obj.id]
	if !exists {
		return fmt.Errorf("object %d: %w", obj.id, ErrObjectNotFound)
	}

	prev := indexed.grid
	next := w.gridOf(obj.BoundingVolume())

	switch {
	case prev == nil && next == nil:
	case prev == nil:
		for _, c := range next.Cells() {
			w.insertIntoCell(c, obj)
		}
	case next == nil:
		for _, c := range prev.Cells() {
			w.extractFromCell(c, obj)
		}
	case *prev != *next:
		between, overlap := prev.Overlap(*next)
		for _, c := range prev.Cells() {
			if overlap && between.Contains(c) {
				continue
			}
			w.extractFromCell(c, obj)
		}
		for _, c := range next.Cells() {
			if overlap && between.Contains(c) {
				continue
			}
			w.insertIntoCell(c, obj)
		}
	}

	indexed.grid = next
	return nil
}

// Step выполняет один тик: Integrate, Move и обновление сетки для каждого объекта
// в порядке регистрации.
func (w *World) Step(terrain *Terrain, dt time.Duration) {
	for _, obj := range w.Objects() {
		volume, v := obj.Integrate(terrain, dt)
		obj.Move(volume, v)
		// Объект мог быть удалён параллельно, это не ошибка тика
		_ = w.UpdateObjectMapping(obj)
	}
	w.ticks.Add(1)
}

// Objects возвращает объекты в порядке регистрации
func (w *World) Objects() []*Object {
	w.objectsMu.RLock()
	defer w.objectsMu.RUnlock()
	return slices.Clone(w.order)
}

// Object ищет объект по идентификатору
func (w *World) Object(id uint64) (*Object, bool) {
	w.objectsMu.RLock()
	defer w.objectsMu.RUnlock()
	indexed, ok := w.objects[id]
	if !ok {
		return nil, false
	}
	return indexed.obj, true
}

// GridOf возвращает последнюю сетку объекта
func (w *World) GridOf(obj *Object) (Grid, bool) {
	w.objectsMu.RLock()
	defer w.objectsMu.RUnlock()
	indexed, ok := w.objects[obj.id]
	if !ok || indexed.grid == nil {
		return Grid{}, false
	}
	return *indexed.grid, true
}

// CellObjects возвращает идентификаторы объектов в ячейке по возрастанию
func (w *World) CellObjects(c Cell) []uint64 {
	s := w.shard(c)
	s.mu.RLock()
	ids := make([]uint64, 0, len(s.cells[c]))
	for id := range s.cells[c] {
		ids = append(ids, id)
	}
	s.mu.RUnlock()
	slices.Sort(ids)
	return ids
}

// ObjectCount возвращает количество объектов
func (w *World) ObjectCount() int {
	w.objectsMu.RLock()
	defer w.objectsMu.RUnlock()
	return len(w.objects)
}

// CellCount возвращает количество непустых ячеек
func (w *World) CellCount() int {
	total := 0
	for i := range w.shards {
		s := &w.shards[i]
		s.mu.RLock()
		total += len(s.cells)
		s.mu.RUnlock()
	}
	return total
}

// Stats возвращает снимок статистики
func (w *World) Stats() WorldStats {
	return WorldStats{
		Objects: w.ObjectCount(),
		Cells:   w.CellCount(),
		Ticks:   w.ticks.Load(),
		Queries: w.queries.Load(),
	}
}

// collect собирает уникальных кандидатов из ячеек сетки.
// Если сетка шире заполненной части мира, обходятся только непустые ячейки.
func (w *World) collect(grid Grid, except *Object) map[uint64]*Object {
	found := make(map[uint64]*Object)
	add := func(objs map[uint64]*Object) {
		for id, obj := range objs {
			if except != nil && id == except.id {
				continue
			}
			found[id] = obj
		}
	}

	if grid.Count() > w.CellCount() {
		for i := range w.shards {
			s := &w.shards[i]
			s.mu.RLock()
			for c, objs := range s.cells {
				if grid.Contains(c) {
					add(objs)
				}
			}
			s.mu.RUnlock()
		}
		return found
	}

	for z := grid.Min.Z; z <= grid.Max.Z; z++ {
		for x := grid.Min.X; x <= grid.Max.X; x++ {
			c := Cell{X: x, Z: z}
			s := w.shard(c)
			s.mu.RLock()
			add(s.cells[c])
			s.mu.RUnlock()
		}
	}
	return found
}

func sortedByID(found map[uint64]*Object) []*Object {
	out := make([]*Object, 0, len(found))
	for _, obj := range found {
		out = append(out, obj)
	}
	slices.SortFunc(out, func(a, b *Object) int {
		switch {
		case a.id < b.id:
			return -1
		case a.id > b.id:
			return 1
		}
		return 0
	})
	return out
}

// SearchObjects возвращает объекты из ячеек, покрытых volume.
// При strict остаются только объекты, чей объём пересекается с volume.
func (w *World) SearchObjects(volume BoundingVolume, strict bool, except *Object) []*Object {
	w.queries.Add(1)

	grid := GridFor(volume.MinBoundingBox(), w.params.CellWidth)
	found := w.collect(grid, except)
	if strict {
		for id, obj := range found {
			if !obj.BoundingVolume().TestIntersection(volume) {
				delete(found, id)
			}
		}
	}
	return sortedByID(found)
}

// SearchObjectsInBox - нестрогий поиск по коробке
func (w *World) SearchObjectsInBox(box AABB) []*Object {
	return w.SearchObjects(NewBoxVolume(box), false, nil)
}

// SearchObjectsOnRay возвращает объекты, пересекаемые отрезком [o, o+d]
func (w *World) SearchObjectsOnRay(o, d vec.Vec3Float) []*Object {
	w.queries.Add(1)

	grid := GridFor(AABBFromRay(o, d), w.params.CellWidth)
	found := w.collect(grid, nil)
	for id, obj := range found {
		if obj.BoundingVolume().TestRayIntersection(o, d) < 0 {
			delete(found, id)
		}
	}
	return sortedByID(found)
}

// SearchClosestObject возвращает ближайший к o объект на отрезке [o, o+d] или nil.
// except исключается из поиска (обычно сам стреляющий).
func (w *World) SearchClosestObject(o, d vec.Vec3Float, except *Object) *Object {
	w.queries.Add(1)

	grid := GridFor(AABBFromRay(o, d), w.params.CellWidth)
	var closest *Object
	best := math.Inf(1)
	for _, obj := range sortedByID(w.collect(grid, except)) {
		t := obj.BoundingVolume().TestRayIntersection(o, d)
		if t >= 0 && t < best {
			best, closest = t, obj
		}
	}
	return closest
}
