package block

import (
	"fmt"
	"sync"
)

// BlockID представляет идентификатор блока
type BlockID uint16

// Константы ID блоков
const (
	// Базовые типы блоков
	AirBlockID     BlockID = iota // 0
	StoneBlockID                  // 1
	GrassBlockID                  // 2
	WaterBlockID                  // 3
	SandBlockID                   // 4
	DirtBlockID                   // 5
	GravelBlockID                 // 6

	// Декоративные блоки неполной высоты (начиная с 100)
	StoneSlabBlockID    BlockID = 100 // Нижняя половина блока
	StoneTopSlabBlockID BlockID = 101 // Верхняя половина блока
	CarpetBlockID       BlockID = 102 // Ковёр, 1/16 блока
	FlowerBlockID       BlockID = 103 // Проходимый цветок
)

// Properties описывает блок для генератора и физики
type Properties struct {
	Name  string
	Shape Shape
}

var (
	registryMu sync.RWMutex
	registry   = make(map[BlockID]Properties)
)

func init() {
	Register(AirBlockID, Properties{Name: "air", Shape: ShapeNone})
	Register(StoneBlockID, Properties{Name: "stone", Shape: ShapeCube})
	Register(GrassBlockID, Properties{Name: "grass", Shape: ShapeCube})
	Register(WaterBlockID, Properties{Name: "water", Shape: ShapeNone})
	Register(SandBlockID, Properties{Name: "sand", Shape: ShapeCube})
	Register(DirtBlockID, Properties{Name: "dirt", Shape: ShapeCube})
	Register(GravelBlockID, Properties{Name: "gravel", Shape: ShapeCube})
	Register(StoneSlabBlockID, Properties{Name: "stone_slab", Shape: ShapeBottomSlab})
	Register(StoneTopSlabBlockID, Properties{Name: "stone_slab_top", Shape: ShapeTopSlab})
	Register(CarpetBlockID, Properties{Name: "carpet", Shape: ShapeCarpet})
	Register(FlowerBlockID, Properties{Name: "flower", Shape: ShapeNone})
}

// Register добавляет или заменяет описание блока в регистре
func Register(id BlockID, props Properties) {
	registryMu.Lock()
	registry[id] = props
	registryMu.Unlock()
}

// Get возвращает описание для указанного ID
func Get(id BlockID) (Properties, bool) {
	registryMu.RLock()
	props, exists := registry[id]
	registryMu.RUnlock()
	return props, exists
}

// IsValidBlockID проверяет, является ли ID допустимым идентификатором блока
func IsValidBlockID(id BlockID) bool {
	_, exists := Get(id)
	return exists
}

// ShapeOf возвращает форму блока. Неизвестные блоки считаются сплошными.
func ShapeOf(id BlockID) Shape {
	if props, ok := Get(id); ok {
		return props.Shape
	}
	return ShapeCube
}

// IsSolid - блок даёт хотя бы одно препятствие
func IsSolid(id BlockID) bool {
	return ShapeOf(id) != ShapeNone
}

func (id BlockID) String() string {
	if props, ok := Get(id); ok {
		return props.Name
	}
	return fmt.Sprintf("block#%d", uint16(id))
}
