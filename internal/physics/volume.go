package physics

import (
	"fmt"
	"math"

	"github.com/annel0/mmo-physics/internal/vec"
)

// VolumeKind - вид ограничивающего объёма
type VolumeKind uint8

const (
	// VolumeEmpty - объект сейчас не занимает места (отключённый или невидимый)
	VolumeEmpty VolumeKind = iota
	VolumeBox
	// VolumeCompound - упорядоченный набор коробок, проверяемых независимо
	VolumeCompound
)

func (k VolumeKind) String() string {
	switch k {
	case VolumeEmpty:
		return "empty"
	case VolumeBox:
		return "box"
	case VolumeCompound:
		return "compound"
	default:
		return fmt.Sprintf("VolumeKind(%d)", uint8(k))
	}
}

// BoundingVolume - закрытый вариант: пустой объём, AABB или составной объём.
// Нулевое значение - пустой объём в начале координат.
type BoundingVolume struct {
	kind  VolumeKind
	point vec.Vec3Float
	box   AABB
	parts []AABB
}

// NewEmptyVolume создаёт пустой объём, привязанный к точке p
func NewEmptyVolume(p vec.Vec3Float) BoundingVolume {
	if !p.IsFinite() {
		panic("physics: non-finite empty volume position")
	}
	return BoundingVolume{kind: VolumeEmpty, point: p}
}

// NewBoxVolume оборачивает AABB
func NewBoxVolume(box AABB) BoundingVolume {
	box.mustBeValid()
	return BoundingVolume{kind: VolumeBox, box: box}
}

// NewCompoundVolume создаёт составной объём. Нужна хотя бы одна часть.
func NewCompoundVolume(parts ...AABB) BoundingVolume {
	if len(parts) == 0 {
		panic("physics: compound volume without parts")
	}
	cp := make([]AABB, len(parts))
	for i, p := range parts {
		p.mustBeValid()
		cp[i] = p
	}
	return BoundingVolume{kind: VolumeCompound, parts: cp}
}

func (bv BoundingVolume) Kind() VolumeKind {
	return bv.kind
}

// OccupiesSpace возвращает false для пустого объёма
func (bv BoundingVolume) OccupiesSpace() bool {
	return bv.kind != VolumeEmpty
}

// Parts возвращает коробки объёма: одну для AABB, все части для составного, ничего для пустого
func (bv BoundingVolume) Parts() []AABB {
	switch bv.kind {
	case VolumeEmpty:
		return nil
	case VolumeBox:
		return []AABB{bv.box}
	case VolumeCompound:
		out := make([]AABB, len(bv.parts))
		copy(out, bv.parts)
		return out
	default:
		panic(fmt.Sprintf("physics: unknown volume kind %s", bv.kind))
	}
}

// Clone возвращает независимую копию (части составного объёма копируются)
func (bv BoundingVolume) Clone() BoundingVolume {
	if bv.kind == VolumeCompound {
		bv.parts = append([]AABB(nil), bv.parts...)
	}
	return bv
}

// MinBoundingBox возвращает наименьшую AABB, содержащую объём.
// Для пустого объёма это вырожденная коробка в его точке.
func (bv BoundingVolume) MinBoundingBox() AABB {
	switch bv.kind {
	case VolumeEmpty:
		return AABB{Max: bv.point, Min: bv.point}
	case VolumeBox:
		return bv.box
	case VolumeCompound:
		out := bv.parts[0]
		for _, p := range bv.parts[1:] {
			out = out.Union(p)
		}
		return out
	default:
		panic(fmt.Sprintf("physics: unknown volume kind %s", bv.kind))
	}
}

// Position - точка привязки объекта: центр нижней грани
func (bv BoundingVolume) Position() vec.Vec3Float {
	if bv.kind == VolumeEmpty {
		return bv.point
	}
	return bv.MinBoundingBox().BottomCenter()
}

func (bv BoundingVolume) Height() float64 {
	return bv.MinBoundingBox().Height()
}

// Move сдвигает объём на v
func (bv *BoundingVolume) Move(v vec.Vec3Float) {
	switch bv.kind {
	case VolumeEmpty:
		bv.point = bv.point.Add(v)
		if !bv.point.IsFinite() {
			panic("physics: non-finite empty volume position")
		}
	case VolumeBox:
		bv.box.Move(v)
	case VolumeCompound:
		for i := range bv.parts {
			bv.parts[i].Move(v)
		}
	default:
		panic(fmt.Sprintf("physics: unknown volume kind %s", bv.kind))
	}
}

// TestIntersection - статическая проверка с другим объёмом.
// Составной объём пересекается, если пересекается любая его часть; пустой - никогда.
func (bv BoundingVolume) TestIntersection(other BoundingVolume) bool {
	if bv.kind == VolumeEmpty || other.kind == VolumeEmpty {
		return false
	}
	for _, a := range bv.Parts() {
		for _, b := range other.Parts() {
			if a.TestIntersection(b) {
				return true
			}
		}
	}
	return false
}

// TestIntersectionBox - то же, что TestIntersection, для одиночной AABB
func (bv BoundingVolume) TestIntersectionBox(box AABB) bool {
	switch bv.kind {
	case VolumeEmpty:
		return false
	case VolumeBox:
		return bv.box.TestIntersection(box)
	case VolumeCompound:
		for _, p := range bv.parts {
			if p.TestIntersection(box) {
				return true
			}
		}
		return false
	default:
		panic(fmt.Sprintf("physics: unknown volume kind %s", bv.kind))
	}
}

// TestRayIntersection возвращает наименьший параметр входа луча среди частей или -1
func (bv BoundingVolume) TestRayIntersection(o, d vec.Vec3Float) float64 {
	switch bv.kind {
	case VolumeEmpty:
		return -1
	case VolumeBox:
		return bv.box.TestRayIntersection(o, d)
	case VolumeCompound:
		best := math.Inf(1)
		for _, p := range bv.parts {
			if t := p.TestRayIntersection(o, d); t >= 0 && t < best {
				best = t
			}
		}
		if math.IsInf(best, 1) {
			return -1
		}
		return best
	default:
		panic(fmt.Sprintf("physics: unknown volume kind %s", bv.kind))
	}
}

func (bv BoundingVolume) String() string {
	switch bv.kind {
	case VolumeEmpty:
		return fmt.Sprintf("empty(%.4f,%.4f,%.4f)", bv.point.X, bv.point.Y, bv.point.Z)
	case VolumeBox:
		return "box" + bv.box.String()
	default:
		return fmt.Sprintf("compound[%d]%s", len(bv.parts), bv.MinBoundingBox())
	}
}
