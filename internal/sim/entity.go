package sim

import (
	"fmt"
	"sort"

	"github.com/annel0/mmo-physics/internal/physics"
	"github.com/annel0/mmo-physics/internal/vec"
)

// EntityType определяет тип сущности
type EntityType string

const (
	EntityTypePlayer     EntityType = "player"
	EntityTypeSneaking   EntityType = "sneaking"
	EntityTypeSpectator  EntityType = "spectator"
	EntityTypeItem       EntityType = "item"
	EntityTypeProjectile EntityType = "projectile"
	EntityTypeAnimal     EntityType = "animal"
	EntityTypeMarker     EntityType = "marker"
)

// Archetype - физические характеристики типа сущности
type Archetype struct {
	Type      EntityType
	Mass      float64 // 0 - кинематическое тело
	Width     float64 // ширина хитбокса по X и Z; 0 - тело не занимает места
	Height    float64
	Movement  physics.Movement
	NoGravity bool
}

var archetypes = map[EntityType]Archetype{
	EntityTypePlayer: {
		Type: EntityTypePlayer, Mass: 1, Width: 0.6, Height: 1.8,
		Movement: physics.Stepable(0.6),
	},
	EntityTypeSneaking: {
		Type: EntityTypeSneaking, Mass: 1, Width: 0.6, Height: 1.65,
		Movement: physics.Stepable(0.6),
	},
	// Наблюдатель пролетает сквозь блоки и не индексируется
	EntityTypeSpectator: {
		Type: EntityTypeSpectator, Mass: 1,
		Movement: physics.Passthrough(), NoGravity: true,
	},
	EntityTypeItem: {
		Type: EntityTypeItem, Mass: 1, Width: 0.25, Height: 0.25,
		Movement: physics.Stepable(0),
	},
	EntityTypeProjectile: {
		Type: EntityTypeProjectile, Mass: 0.1, Width: 0.5, Height: 0.5,
		Movement: physics.SimpleMovement(),
	},
	EntityTypeAnimal: {
		Type: EntityTypeAnimal, Mass: 2, Width: 0.9, Height: 0.9,
		Movement: physics.Stepable(0.6),
	},
	EntityTypeMarker: {
		Type: EntityTypeMarker, Mass: 0, Width: 1, Height: 1,
		Movement: physics.NoMovement(), NoGravity: true,
	},
}

// ArchetypeOf возвращает характеристики типа
func ArchetypeOf(t EntityType) (Archetype, error) {
	a, ok := archetypes[t]
	if !ok {
		return Archetype{}, fmt.Errorf("%w: %q", ErrUnknownEntityType, t)
	}
	return a, nil
}

// EntityTypes возвращает известные типы по алфавиту
func EntityTypes() []EntityType {
	types := make([]EntityType, 0, len(archetypes))
	for t := range archetypes {
		types = append(types, t)
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })
	return types
}

// OccupiesSpace сообщает, есть ли у типа хитбокс
func (a Archetype) OccupiesSpace() bool {
	return a.Width > 0 && a.Height > 0
}

// Volume строит объём сущности, стоящей ногами в feet
func (a Archetype) Volume(feet vec.Vec3Float) physics.BoundingVolume {
	if !a.OccupiesSpace() {
		return physics.NewEmptyVolume(feet)
	}
	return physics.NewBoxVolume(physics.EntityAABB(feet, a.Width, a.Height))
}

// NewObject создаёт физическое тело типа в точке feet
func (a Archetype) NewObject(feet, velocity vec.Vec3Float, params physics.Params) *physics.Object {
	opts := []physics.ObjectOption{physics.WithParams(params), physics.WithVelocity(velocity)}
	if a.NoGravity {
		opts = append(opts, physics.WithNoGravity())
	}
	return physics.NewObject(a.Mass, a.Volume(feet), a.Movement, opts...)
}
