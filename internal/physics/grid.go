package physics

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/cespare/xxhash/v2"
)

// Cell - горизонтальная ячейка сетки (X, Z)
type Cell struct {
	X, Z int
}

func (c Cell) String() string {
	return fmt.Sprintf("[%d,%d]", c.X, c.Z)
}

// hash используется для выбора шарда
func (c Cell) hash() uint64 {
	var buf [16]byte
	binary.LittleEndian.PutUint64(buf[:8], uint64(int64(c.X)))
	binary.LittleEndian.PutUint64(buf[8:], uint64(int64(c.Z)))
	return xxhash.Sum64(buf[:])
}

// Grid - включительный диапазон ячеек, покрывающий горизонтальную проекцию коробки
type Grid struct {
	Max, Min Cell
}

// MaxCellCoord ограничивает координаты ячеек, чтобы Count не переполнялся
const MaxCellCoord = 1 << 30

// GridFor вычисляет сетку для коробки при ширине ячейки width.
// Грань, лежащая ровно на границе ячеек, не захватывает соседнюю ячейку.
func GridFor(box AABB, width float64) Grid {
	lo := Cell{
		X: cellCoord(math.Floor(box.Min.X / width)),
		Z: cellCoord(math.Floor(box.Min.Z / width)),
	}
	hi := Cell{
		X: cellCoord(math.Ceil(box.Max.X/width) - 1),
		Z: cellCoord(math.Ceil(box.Max.Z/width) - 1),
	}
	// Вырожденная коробка на границе ячеек
	if hi.X < lo.X {
		hi.X = lo.X
	}
	if hi.Z < lo.Z {
		hi.Z = lo.Z
	}
	return Grid{Max: hi, Min: lo}
}

func cellCoord(v float64) int {
	switch {
	case v > MaxCellCoord:
		return MaxCellCoord
	case v < -MaxCellCoord:
		return -MaxCellCoord
	}
	return int(v)
}

// Contains проверяет, входит ли ячейка в сетку
func (g Grid) Contains(c Cell) bool {
	return c.X <= g.Max.X && c.X >= g.Min.X &&
		c.Z <= g.Max.Z && c.Z >= g.Min.Z
}

// Count возвращает количество ячеек
func (g Grid) Count() int {
	return (g.Max.X - g.Min.X + 1) * (g.Max.Z - g.Min.Z + 1)
}

// Cells перечисляет ячейки построчно по Z
func (g Grid) Cells() []Cell {
	cells := make([]Cell, 0, g.Count())
	for z := g.Min.Z; z <= g.Max.Z; z++ {
		for x := g.Min.X; x <= g.Max.X; x++ {
			cells = append(cells, Cell{X: x, Z: z})
		}
	}
	return cells
}

// Overlap возвращает пересечение двух сеток
func (g Grid) Overlap(other Grid) (Grid, bool) {
	out := Grid{
		Max: Cell{X: min(g.Max.X, other.Max.X), Z: min(g.Max.Z, other.Max.Z)},
		Min: Cell{X: max(g.Min.X, other.Min.X), Z: max(g.Min.Z, other.Min.Z)},
	}
	if out.Max.X < out.Min.X || out.Max.Z < out.Min.Z {
		return Grid{}, false
	}
	return out, true
}

func (g Grid) String() string {
	return fmt.Sprintf("(max: %s, min: %s)", g.Max, g.Min)
}
