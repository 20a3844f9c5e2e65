package physics

import (
	"fmt"
	"math"

	"github.com/annel0/mmo-physics/internal/vec"
)

// Axis - ось, вдоль которой произошло столкновение
type Axis int

const (
	AxisNone Axis = -1
	AxisY    Axis = 0
	AxisX    Axis = 1
	AxisZ    Axis = 2
)

func (a Axis) String() string {
	switch a {
	case AxisNone:
		return "none"
	case AxisY:
		return "y"
	case AxisX:
		return "x"
	case AxisZ:
		return "z"
	default:
		return fmt.Sprintf("Axis(%d)", int(a))
	}
}

// zero обнуляет компоненту v вдоль оси
func (a Axis) zero(v vec.Vec3Float) vec.Vec3Float {
	switch a {
	case AxisY:
		v.Y = 0
	case AxisX:
		v.X = 0
	case AxisZ:
		v.Z = 0
	}
	return v
}

type axisSweep struct {
	axis                      Axis
	maxM, minM, maxS, minS, v float64
}

// ResolveBoxes находит момент столкновения движущейся коробки moving со скоростью v
// с неподвижной obstacle. Оси проверяются в порядке Y, X, Z.
// Возвращает AxisNone, если за тик столкновения нет или коробки уже проникают друг в друга.
func ResolveBoxes(moving, obstacle AABB, v vec.Vec3Float) (Axis, float64) {
	if moving.overlapsStrictly(obstacle) {
		return AxisNone, 0
	}

	t, tPrime := math.Inf(-1), math.Inf(1)
	axis := AxisNone

	steps := [3]axisSweep{
		{AxisY, moving.Max.Y, moving.Min.Y, obstacle.Max.Y, obstacle.Min.Y, v.Y},
		{AxisX, moving.Max.X, moving.Min.X, obstacle.Max.X, obstacle.Min.X, v.X},
		{AxisZ, moving.Max.Z, moving.Min.Z, obstacle.Max.Z, obstacle.Min.Z, v.Z},
	}
	for _, s := range steps {
		collided, updated := FindCollisionInterval(s.maxM, s.minM, s.maxS, s.minS, s.v, &t, &tPrime)
		if !collided {
			return AxisNone, 0
		}
		if updated {
			axis = s.axis
		}
	}

	if axis == AxisNone || t < 0 || t > 1 {
		return AxisNone, 0
	}
	return axis, t
}

// Resolve разрешает движение объёма против неподвижного препятствия.
// Для составного объёма берётся самое раннее столкновение среди частей.
func Resolve(moving BoundingVolume, obstacle AABB, v vec.Vec3Float) (Axis, float64) {
	switch moving.kind {
	case VolumeEmpty:
		return AxisNone, 0
	case VolumeBox:
		return ResolveBoxes(moving.box, obstacle, v)
	case VolumeCompound:
		axis, best := AxisNone, math.Inf(1)
		for _, p := range moving.parts {
			if a, t := ResolveBoxes(p, obstacle, v); a != AxisNone && t < best {
				axis, best = a, t
			}
		}
		if axis == AxisNone {
			return AxisNone, 0
		}
		return axis, best
	default:
		panic(fmt.Sprintf("physics: unknown volume kind %s", moving.kind))
	}
}

// resolveAll возвращает самое раннее столкновение среди кандидатов.
// При равном времени остаётся первый найденный.
func resolveAll(moving BoundingVolume, obstacles []AABB, v vec.Vec3Float) (Axis, float64) {
	axis, best := AxisNone, math.Inf(1)
	for _, o := range obstacles {
		if a, t := Resolve(moving, o, v); a != AxisNone && t < best {
			axis, best = a, t
		}
	}
	if axis == AxisNone {
		return AxisNone, 0
	}
	return axis, best
}
