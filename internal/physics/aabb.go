package physics

import (
	"fmt"
	"math"

	"github.com/annel0/mmo-physics/internal/vec"
)

// AABB - ограничивающий параллелепипед, выровненный по осям.
// Инвариант: Max >= Min по каждой оси, все координаты конечны.
type AABB struct {
	Max vec.Vec3Float
	Min vec.Vec3Float
}

// NewAABB создаёт AABB и паникует при нарушении инварианта
func NewAABB(max, min vec.Vec3Float) AABB {
	b := AABB{Max: max, Min: min}
	b.mustBeValid()
	return b
}

// EntityAABB строит хитбокс сущности: feet - центр нижней грани
func EntityAABB(feet vec.Vec3Float, width, height float64) AABB {
	if width < 0 || height < 0 {
		panic(fmt.Sprintf("physics: negative hitbox size %.3fx%.3f", width, height))
	}
	w := width / 2
	return NewAABB(
		vec.Vec3Float{X: feet.X + w, Y: feet.Y + height, Z: feet.Z + w},
		vec.Vec3Float{X: feet.X - w, Y: feet.Y, Z: feet.Z - w},
	)
}

// AABBFromRay возвращает оболочку отрезка [o, o+d]
func AABBFromRay(o, d vec.Vec3Float) AABB {
	end := o.Add(d)
	return NewAABB(
		vec.Vec3Float{X: math.Max(o.X, end.X), Y: math.Max(o.Y, end.Y), Z: math.Max(o.Z, end.Z)},
		vec.Vec3Float{X: math.Min(o.X, end.X), Y: math.Min(o.Y, end.Y), Z: math.Min(o.Z, end.Z)},
	)
}

// AABBAround возвращает куб с центром p и полуразмером r
func AABBAround(p vec.Vec3Float, r float64) AABB {
	r = math.Abs(r)
	ext := vec.Vec3Float{X: r, Y: r, Z: r}
	return NewAABB(p.Add(ext), p.Sub(ext))
}

func (b AABB) mustBeValid() {
	if !b.Max.IsFinite() || !b.Min.IsFinite() {
		panic(fmt.Sprintf("physics: non-finite AABB %s", b))
	}
	if b.Max.X < b.Min.X || b.Max.Y < b.Min.Y || b.Max.Z < b.Min.Z {
		panic(fmt.Sprintf("physics: inverted AABB %s", b))
	}
}

// Move сдвигает оба угла на v
func (b *AABB) Move(v vec.Vec3Float) {
	b.Max = b.Max.Add(v)
	b.Min = b.Min.Add(v)
	b.mustBeValid()
}

// Extend растягивает коробку в направлении знака v по каждой оси
func (b *AABB) Extend(v vec.Vec3Float) {
	if v.X > 0 {
		b.Max.X += v.X
	} else {
		b.Min.X += v.X
	}
	if v.Y > 0 {
		b.Max.Y += v.Y
	} else {
		b.Min.Y += v.Y
	}
	if v.Z > 0 {
		b.Max.Z += v.Z
	} else {
		b.Min.Z += v.Z
	}
	b.mustBeValid()
}

// Moved возвращает сдвинутую копию
func (b AABB) Moved(v vec.Vec3Float) AABB {
	b.Move(v)
	return b
}

// Extended возвращает растянутую копию
func (b AABB) Extended(v vec.Vec3Float) AABB {
	b.Extend(v)
	return b
}

// Union возвращает наименьшую коробку, содержащую обе
func (b AABB) Union(other AABB) AABB {
	return AABB{
		Max: vec.Vec3Float{X: math.Max(b.Max.X, other.Max.X), Y: math.Max(b.Max.Y, other.Max.Y), Z: math.Max(b.Max.Z, other.Max.Z)},
		Min: vec.Vec3Float{X: math.Min(b.Min.X, other.Min.X), Y: math.Min(b.Min.Y, other.Min.Y), Z: math.Min(b.Min.Z, other.Min.Z)},
	}
}

func (b AABB) Center() vec.Vec3Float {
	return b.Max.Add(b.Min).Mul(0.5)
}

// BottomCenter - центр нижней грани (позиция "ног" сущности)
func (b AABB) BottomCenter() vec.Vec3Float {
	return vec.Vec3Float{X: (b.Max.X + b.Min.X) / 2, Y: b.Min.Y, Z: (b.Max.Z + b.Min.Z) / 2}
}

func (b AABB) Height() float64 {
	return b.Max.Y - b.Min.Y
}

// TestIntersection - статическая проверка пересечения. Касание считается пересечением.
func (b AABB) TestIntersection(other AABB) bool {
	return !nonOverlapping(b.Max.X, b.Min.X, other.Max.X, other.Min.X) &&
		!nonOverlapping(b.Max.Y, b.Min.Y, other.Max.Y, other.Min.Y) &&
		!nonOverlapping(b.Max.Z, b.Min.Z, other.Max.Z, other.Min.Z)
}

// overlapsStrictly истинно, только если объёмы действительно проникают друг в друга
func (b AABB) overlapsStrictly(other AABB) bool {
	return other.Min.X < b.Max.X && b.Min.X < other.Max.X &&
		other.Min.Y < b.Max.Y && b.Min.Y < other.Max.Y &&
		other.Min.Z < b.Max.Z && b.Min.Z < other.Max.Z
}

// TestRayIntersection выполняет slab-тест для отрезка [o, o+d].
// Возвращает параметр входа луча или -1, если пересечения нет.
func (b AABB) TestRayIntersection(o, d vec.Vec3Float) float64 {
	tMin, tMax := math.Inf(-1), math.Inf(1)

	slabs := [3][4]float64{
		{o.X, d.X, b.Min.X, b.Max.X},
		{o.Y, d.Y, b.Min.Y, b.Max.Y},
		{o.Z, d.Z, b.Min.Z, b.Max.Z},
	}
	for _, s := range slabs {
		origin, dir, lo, hi := s[0], s[1], s[2], s[3]
		if dir == 0 {
			// Луч параллелен плоскостям слоя
			if origin < lo || origin > hi {
				return -1
			}
			continue
		}
		t1 := (lo - origin) / dir
		t2 := (hi - origin) / dir
		if t1 > t2 {
			t1, t2 = t2, t1
		}
		if t1 > tMax || t2 < tMin {
			return -1
		}
		tMin = math.Max(tMin, t1)
		tMax = math.Min(tMax, t2)
	}

	if tMin <= 1 && tMax >= 0 {
		return tMin
	}
	return -1
}

func (b AABB) String() string {
	return fmt.Sprintf("(max: %.4f,%.4f,%.4f min: %.4f,%.4f,%.4f)",
		b.Max.X, b.Max.Y, b.Max.Z, b.Min.X, b.Min.Y, b.Min.Z)
}

func nonOverlapping(max1, min1, max2, min2 float64) bool {
	return max1 < min2 || max2 < min1
}
