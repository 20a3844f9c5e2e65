package vec

// ChunkShift - log2 ширины чанка
const ChunkShift = 4

// Vec2 - целые координаты на плоскости XZ (Y хранит Z)
type Vec2 struct {
	X, Y int
}

// ToChunkCoords возвращает координаты чанка, которому принадлежит блок.
// Арифметический сдвиг корректно округляет отрицательные координаты вниз.
func (v Vec2) ToChunkCoords() Vec2 {
	return Vec2{X: v.X >> ChunkShift, Y: v.Y >> ChunkShift}
}

// LocalInChunk возвращает координаты блока внутри его чанка, 0..15
func (v Vec2) LocalInChunk() Vec2 {
	const mask = 1<<ChunkShift - 1
	return Vec2{X: v.X & mask, Y: v.Y & mask}
}

// ChunkSquare перечисляет чанки квадрата (2r+1)x(2r+1) с центром в v,
// начиная с центра и расходясь кольцами. Отрицательный r даёт пустой срез.
func (v Vec2) ChunkSquare(r int) []Vec2 {
	if r < 0 {
		return nil
	}
	out := make([]Vec2, 0, (2*r+1)*(2*r+1))
	out = append(out, v)
	for ring := 1; ring <= r; ring++ {
		for dz := -ring; dz <= ring; dz++ {
			for dx := -ring; dx <= ring; dx++ {
				if dx != -ring && dx != ring && dz != -ring && dz != ring {
					continue
				}
				out = append(out, Vec2{X: v.X + dx, Y: v.Y + dz})
			}
		}
	}
	return out
}
