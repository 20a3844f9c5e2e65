package physics

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/annel0/mmo-physics/internal/vec"
)

// ErrForceOutOfRange возвращается ApplyForce, если компонента силы вне допустимого диапазона
var ErrForceOutOfRange = errors.New("force out of range")

// ErrInvalidForce возвращается ApplyForce для NaN или бесконечных компонент
var ErrInvalidForce = errors.New("invalid force")

var lastObjectID atomic.Uint64

// Object - физическое тело мира.
// Силы копятся в ApplyForce и расходуются ровно один раз за тик в Integrate,
// результат фиксируется вызовом Move.
type Object struct {
	id       uint64
	mass     float64
	movement Movement
	params   Params

	noGravity atomic.Bool

	forcesMu sync.Mutex
	forces   []vec.Vec3Float

	mu       sync.RWMutex
	volume   BoundingVolume
	velocity vec.Vec3Float
}

// ObjectOption настраивает Object при создании
type ObjectOption func(*Object)

// WithParams задаёт параметры симуляции объекта
func WithParams(p Params) ObjectOption {
	return func(o *Object) {
		o.params = p.Normalize()
	}
}

// WithNoGravity отключает гравитацию
func WithNoGravity() ObjectOption {
	return func(o *Object) {
		o.noGravity.Store(true)
	}
}

// WithVelocity задаёт начальную скорость
func WithVelocity(v vec.Vec3Float) ObjectOption {
	return func(o *Object) {
		o.velocity = v
	}
}

// NewObject создаёт тело. Масса 0 означает кинематическое тело:
// силы и гравитация на него не действуют.
func NewObject(mass float64, volume BoundingVolume, movement Movement, opts ...ObjectOption) *Object {
	if mass < 0 {
		panic(fmt.Sprintf("physics: negative mass %.4f", mass))
	}
	o := &Object{
		id:       lastObjectID.Add(1),
		mass:     mass,
		movement: movement,
		params:   DefaultParams(),
		volume:   volume.Clone(),
	}
	for _, opt := range opts {
		opt(o)
	}
	if !o.velocity.IsFinite() {
		panic("physics: non-finite initial velocity")
	}
	return o
}

func (o *Object) ID() uint64 {
	return o.id
}

func (o *Object) Mass() float64 {
	return o.mass
}

func (o *Object) Movement() Movement {
	return o.movement
}

// Velocity возвращает скорость на конец последнего тика
func (o *Object) Velocity() vec.Vec3Float {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.velocity
}

// BoundingVolume возвращает копию текущего объёма
func (o *Object) BoundingVolume() BoundingVolume {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.volume.Clone()
}

// Position - центр нижней грани объёма
func (o *Object) Position() vec.Vec3Float {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.volume.Position()
}

func (o *Object) NoGravity() bool {
	return o.noGravity.Load()
}

func (o *Object) SetNoGravity(v bool) {
	o.noGravity.Store(v)
}

// ApplyForce ставит силу в очередь до следующего Integrate
func (o *Object) ApplyForce(f vec.Vec3Float) error {
	if !f.IsFinite() {
		return fmt.Errorf("object %d: %w: %+v", o.id, ErrInvalidForce, f)
	}
	limit := o.params.MaxForce
	for _, c := range [...]float64{f.X, f.Y, f.Z} {
		if c < -limit || c > limit {
			return fmt.Errorf("object %d: %w: %+v (limit %.3f)", o.id, ErrForceOutOfRange, f, limit)
		}
	}

	o.forcesMu.Lock()
	o.forces = append(o.forces, f)
	o.forcesMu.Unlock()
	return nil
}

// PendingForces возвращает число сил в очереди
func (o *Object) PendingForces() int {
	o.forcesMu.Lock()
	defer o.forcesMu.Unlock()
	return len(o.forces)
}

// drainForces забирает буфер сил целиком
func (o *Object) drainForces() []vec.Vec3Float {
	o.forcesMu.Lock()
	defer o.forcesMu.Unlock()
	forces := o.forces
	o.forces = nil
	return forces
}

// Integrate считает движение тела за dt: добавляет сопротивление и гравитацию,
// расходует накопленные силы и разрешает движение по политике объекта.
// Состояние тела не меняется до вызова Move.
func (o *Object) Integrate(terrain *Terrain, dt time.Duration) (BoundingVolume, vec.Vec3Float) {
	o.mu.RLock()
	volume := o.volume.Clone()
	v := o.velocity
	o.mu.RUnlock()

	forces := o.drainForces()

	if o.mass > 0 {
		// Сопротивление
		forces = append(forces, o.params.Damping.Hadamard(v).Neg())

		if !o.noGravity.Load() && volume.OccupiesSpace() {
			scale := float64(dt) / float64(o.params.TickDuration)
			forces = append(forces, vec.Vec3Float{Y: -o.mass * o.params.Gravity * scale})
		}

		for _, f := range forces {
			v = v.Add(f.Div(o.mass))
		}
	}

	if v.LengthSquared() == 0 {
		return volume, v
	}
	return o.movement.Resolve(terrain, volume, v)
}

// Move фиксирует результат Integrate. Паника, если после Integrate появились новые силы:
// значит, тик был обработан дважды без фиксации.
func (o *Object) Move(volume BoundingVolume, v vec.Vec3Float) {
	if n := o.PendingForces(); n > 0 {
		panic(fmt.Sprintf("physics: object %d moved with %d pending forces", o.id, n))
	}
	if !v.IsFinite() {
		panic(fmt.Sprintf("physics: object %d moved with non-finite velocity", o.id))
	}

	o.mu.Lock()
	o.volume = volume.Clone()
	o.velocity = v
	o.mu.Unlock()
}

// Teleport заменяет объём и сбрасывает скорость и очередь сил.
// После вызова владелец должен обновить сетку мира.
func (o *Object) Teleport(volume BoundingVolume) {
	o.drainForces()

	o.mu.Lock()
	o.volume = volume.Clone()
	o.velocity = vec.Zero
	o.mu.Unlock()
}

func (o *Object) String() string {
	return fmt.Sprintf("Object#%d(mass=%.2f, %s, %s)", o.id, o.mass, o.movement.Kind, o.BoundingVolume())
}
