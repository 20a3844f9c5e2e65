package physics

import (
	"fmt"
	"sync/atomic"

	"github.com/annel0/mmo-physics/internal/vec"
)

// ObstacleSource отдаёт статическую геометрию мира, пересекающую область envelope.
// Физика ничего не знает о блоках и формате хранения.
type ObstacleSource interface {
	EnumerateObstacles(envelope AABB) []AABB
}

// ObstacleSourceFunc адаптирует функцию к ObstacleSource
type ObstacleSourceFunc func(envelope AABB) []AABB

func (f ObstacleSourceFunc) EnumerateObstacles(envelope AABB) []AABB {
	return f(envelope)
}

// TerrainStats - счётчики работы Terrain
type TerrainStats struct {
	Sweeps   uint64 // вызовы ResolveCollisions с непустым объёмом
	Contacts uint64 // столкновения, обрезавшие движение
	StepUps  uint64 // успешные подъёмы на уступ
}

// minStepRise - подъём меньше этого значения не считается шагом на уступ
const minStepRise = 1e-3

// Terrain разрешает движение объёмов относительно статической геометрии
type Terrain struct {
	source  ObstacleSource
	epsilon float64

	sweeps   atomic.Uint64
	contacts atomic.Uint64
	stepUps  atomic.Uint64
}

// NewTerrain создаёт Terrain поверх источника препятствий
func NewTerrain(source ObstacleSource, params Params) *Terrain {
	if source == nil {
		panic("physics: nil obstacle source")
	}
	params = params.Normalize()
	return &Terrain{source: source, epsilon: params.ContactEpsilon}
}

// Stats возвращает снимок счётчиков
func (tr *Terrain) Stats() TerrainStats {
	return TerrainStats{
		Sweeps:   tr.sweeps.Load(),
		Contacts: tr.contacts.Load(),
		StepUps:  tr.stepUps.Load(),
	}
}

// ResolveCollisions перемещает копию volume на v, скользя вдоль препятствий.
// При приземлении (удар по Y при движении вниз) включается режим земли:
// подъём на maxStepHeight, горизонтальное движение и спуск обратно,
// что позволяет перешагивать уступы не выше maxStepHeight.
//
// Возвращает итоговый объём и скорость, у которой обнулены заблокированные компоненты.
func (tr *Terrain) ResolveCollisions(volume BoundingVolume, maxStepHeight float64, v vec.Vec3Float) (BoundingVolume, vec.Vec3Float) {
	if maxStepHeight < 0 {
		panic(fmt.Sprintf("physics: negative step height %.4f", maxStepHeight))
	}
	if !v.IsFinite() {
		panic("physics: non-finite velocity")
	}

	out := volume.Clone()
	if !out.OccupiesSpace() {
		out.Move(v)
		return out, v
	}
	tr.sweeps.Add(1)

	envelope := out.MinBoundingBox().Extended(v)
	if maxStepHeight > 0 {
		envelope.Extend(vec.Vec3Float{Y: maxStepHeight})
	}

	obstacles := tr.source.EnumerateObstacles(envelope)
	if len(obstacles) == 0 {
		out.Move(v)
		return out, v
	}

	blocked := tr.slide(&out, obstacles, maxStepHeight, v)
	return out, blocked.apply(v)
}

// slide двигает объём, пока скорость не израсходована. Каждая итерация
// обнуляет одну ось, поэтому итераций не больше трёх.
func (tr *Terrain) slide(volume *BoundingVolume, obstacles []AABB, maxStepHeight float64, v vec.Vec3Float) axisMask {
	var blocked axisMask
	for !v.IsZero() {
		axis, t := resolveAll(*volume, obstacles, v)
		if axis == AxisNone {
			volume.Move(v)
			return blocked
		}
		tr.contacts.Add(1)

		t = tr.withContactError(t)
		volume.Move(v.Mul(t))
		rest := axis.zero(v.Mul(1 - t))
		blocked = blocked.with(axis)

		if axis == AxisY && v.Y < 0 {
			return blocked | tr.slideOnGround(volume, obstacles, maxStepHeight, rest)
		}
		v = rest
	}
	return blocked
}

// slideOnGround - режим земли: подъём, горизонтальное скольжение, спуск
func (tr *Terrain) slideOnGround(volume *BoundingVolume, obstacles []AABB, maxStepHeight float64, v vec.Vec3Float) axisMask {
	var blocked axisMask
	startY := volume.MinBoundingBox().Min.Y

	if maxStepHeight > 0 {
		tr.probe(volume, obstacles, vec.Vec3Float{Y: maxStepHeight})
	}

	for !v.IsZero() {
		axis, t := resolveAll(*volume, obstacles, v)
		if axis == AxisNone {
			volume.Move(v)
			break
		}
		tr.contacts.Add(1)

		t = tr.withContactError(t)
		volume.Move(v.Mul(t))
		blocked = blocked.with(axis)
		v = axis.zero(v.Mul(1 - t))
	}

	if maxStepHeight > 0 {
		tr.probe(volume, obstacles, vec.Vec3Float{Y: -maxStepHeight})
		if volume.MinBoundingBox().Min.Y-startY > minStepRise {
			tr.stepUps.Add(1)
		}
	}
	return blocked
}

// probe сдвигает объём на v, останавливаясь у первого препятствия
func (tr *Terrain) probe(volume *BoundingVolume, obstacles []AABB, v vec.Vec3Float) {
	axis, t := resolveAll(*volume, obstacles, v)
	if axis == AxisNone {
		volume.Move(v)
		return
	}
	volume.Move(v.Mul(tr.withContactError(t)))
}

// withContactError отступает от точки контакта, чтобы объект не оказался
// внутри препятствия на следующем тике
func (tr *Terrain) withContactError(t float64) float64 {
	if t > 0 {
		t -= tr.epsilon
	}
	if t < 0 {
		t = 0
	}
	return t
}

// axisMask - набор заблокированных осей
type axisMask uint8

func (m axisMask) with(a Axis) axisMask {
	if a == AxisNone {
		return m
	}
	return m | 1<<uint(a)
}

func (m axisMask) has(a Axis) bool {
	return a != AxisNone && m&(1<<uint(a)) != 0
}

func (m axisMask) apply(v vec.Vec3Float) vec.Vec3Float {
	for _, a := range [...]Axis{AxisY, AxisX, AxisZ} {
		if m.has(a) {
			v = a.zero(v)
		}
	}
	return v
}
