package physics

import (
	"fmt"

	"github.com/annel0/mmo-physics/internal/vec"
)

// MovementKind - политика разрешения движения объекта
type MovementKind uint8

const (
	// MovementNone игнорирует столкновения и не двигает объём (призраки, отключённые игроки)
	MovementNone MovementKind = iota
	// MovementPassthrough двигает объём без проверки столкновений
	MovementPassthrough
	// MovementSimple скользит вдоль препятствий без подъёма на уступы
	MovementSimple
	// MovementStepable дополнительно перешагивает уступы высотой до MaxStepHeight
	MovementStepable
)

func (k MovementKind) String() string {
	switch k {
	case MovementNone:
		return "none"
	case MovementPassthrough:
		return "passthrough"
	case MovementSimple:
		return "simple"
	case MovementStepable:
		return "stepable"
	default:
		return fmt.Sprintf("MovementKind(%d)", uint8(k))
	}
}

// Movement - политика движения с параметрами
type Movement struct {
	Kind          MovementKind
	MaxStepHeight float64
}

func NoMovement() Movement     { return Movement{Kind: MovementNone} }
func Passthrough() Movement    { return Movement{Kind: MovementPassthrough} }
func SimpleMovement() Movement { return Movement{Kind: MovementSimple} }

// Stepable создаёт политику с подъёмом на уступы высотой до h
func Stepable(h float64) Movement {
	if h < 0 {
		panic(fmt.Sprintf("physics: negative step height %.4f", h))
	}
	return Movement{Kind: MovementStepable, MaxStepHeight: h}
}

// Resolve применяет политику к скорости v и возвращает новый объём и скорость.
// Исходный объём не изменяется.
func (m Movement) Resolve(terrain *Terrain, volume BoundingVolume, v vec.Vec3Float) (BoundingVolume, vec.Vec3Float) {
	switch m.Kind {
	case MovementNone:
		return volume, v
	case MovementPassthrough:
		out := volume.Clone()
		out.Move(v)
		return out, v
	case MovementSimple:
		return mustTerrain(terrain).ResolveCollisions(volume, 0, v)
	case MovementStepable:
		return mustTerrain(terrain).ResolveCollisions(volume, m.MaxStepHeight, v)
	default:
		panic(fmt.Sprintf("physics: unknown movement kind %s", m.Kind))
	}
}

func mustTerrain(terrain *Terrain) *Terrain {
	if terrain == nil {
		panic("physics: movement requires terrain")
	}
	return terrain
}
