package physics

import (
	"time"

	"github.com/annel0/mmo-physics/internal/vec"
)

// Params - константы симуляции. Нулевые поля заменяются значениями по умолчанию в Normalize.
type Params struct {
	// Gravity - ускорение свободного падения за стандартный тик
	Gravity float64
	// Damping - покомпонентные коэффициенты силы сопротивления
	Damping vec.Vec3Float
	// TickDuration - длительность стандартного тика, к которой нормируется гравитация
	TickDuration time.Duration
	// ContactEpsilon - на сколько время контакта отступает от препятствия
	ContactEpsilon float64
	// CellWidth - ширина ячейки пространственной сетки
	CellWidth float64
	// MaxForce ограничивает каждую компоненту силы в ApplyForce диапазоном [-MaxForce, MaxForce]
	MaxForce float64
}

const (
	DefaultGravity        = 0.08
	DefaultTickDuration   = 50 * time.Millisecond
	DefaultContactEpsilon = 0.00001
	DefaultCellWidth      = 16.0

	// DefaultMaxForce - предел скорости, который клиент способен закодировать (short / 8000)
	DefaultMaxForce = 4.0
)

// DefaultDamping - сопротивление воздуха: 1-0.91 по горизонтали, 1-0.98 по вертикали
var DefaultDamping = vec.Vec3Float{X: 1.0 - 0.91, Y: 1.0 - 0.9800000190734863, Z: 1.0 - 0.91}

// DefaultParams возвращает стандартные параметры мира
func DefaultParams() Params {
	return Params{
		Gravity:        DefaultGravity,
		Damping:        DefaultDamping,
		TickDuration:   DefaultTickDuration,
		ContactEpsilon: DefaultContactEpsilon,
		CellWidth:      DefaultCellWidth,
		MaxForce:       DefaultMaxForce,
	}
}

// Normalize подставляет значения по умолчанию вместо нулевых полей.
// Gravity и Damping не трогаются: ноль для них - допустимое значение.
func (p Params) Normalize() Params {
	if p.TickDuration <= 0 {
		p.TickDuration = DefaultTickDuration
	}
	if p.ContactEpsilon <= 0 {
		p.ContactEpsilon = DefaultContactEpsilon
	}
	if p.CellWidth <= 0 {
		p.CellWidth = DefaultCellWidth
	}
	if p.MaxForce <= 0 {
		p.MaxForce = DefaultMaxForce
	}
	return p
}
