package block

import (
	"github.com/annel0/mmo-physics/internal/physics"
	"github.com/annel0/mmo-physics/internal/vec"
)

// Shape - геометрия блока внутри его единичной ячейки
type Shape uint8

const (
	ShapeNone Shape = iota
	ShapeCube
	ShapeBottomSlab
	ShapeTopSlab
	ShapeCarpet
)

// CarpetHeight - высота ковра
const CarpetHeight = 0.0625

func (s Shape) String() string {
	switch s {
	case ShapeNone:
		return "none"
	case ShapeCube:
		return "cube"
	case ShapeBottomSlab:
		return "bottom_slab"
	case ShapeTopSlab:
		return "top_slab"
	case ShapeCarpet:
		return "carpet"
	default:
		return "unknown"
	}
}

// Top возвращает верхнюю грань формы относительно низа ячейки, 0 для пустой формы.
func (s Shape) Top() float64 {
	switch s {
	case ShapeCube, ShapeTopSlab:
		return 1
	case ShapeBottomSlab:
		return 0.5
	case ShapeCarpet:
		return CarpetHeight
	default:
		return 0
	}
}

// Boxes возвращает препятствия формы в мировых координатах для блока pos.
func (s Shape) Boxes(pos vec.Vec3) []physics.AABB {
	lo := pos.ToFloat()
	cell := func(bottom, top float64) []physics.AABB {
		return []physics.AABB{physics.NewAABB(
			vec.Vec3Float{X: lo.X + 1, Y: lo.Y + top, Z: lo.Z + 1},
			vec.Vec3Float{X: lo.X, Y: lo.Y + bottom, Z: lo.Z},
		)}
	}

	switch s {
	case ShapeNone:
		return nil
	case ShapeCube:
		return cell(0, 1)
	case ShapeBottomSlab:
		return cell(0, 0.5)
	case ShapeTopSlab:
		return cell(0.5, 1)
	case ShapeCarpet:
		return cell(0, CarpetHeight)
	default:
		return cell(0, 1)
	}
}
