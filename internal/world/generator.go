package world

import (
	"math/rand"

	"github.com/annel0/mmo-physics/internal/util"
	"github.com/annel0/mmo-physics/internal/vec"
	"github.com/annel0/mmo-physics/internal/world/block"
)

// BiomeType представляет тип биома
type BiomeType int

const (
	BiomePlains BiomeType = iota
	BiomeDesert
	BiomeForest
	BiomeMountains
	BiomeWater
)

func (b BiomeType) String() string {
	switch b {
	case BiomePlains:
		return "plains"
	case BiomeDesert:
		return "desert"
	case BiomeForest:
		return "forest"
	case BiomeMountains:
		return "mountains"
	case BiomeWater:
		return "water"
	default:
		return "unknown"
	}
}

// Пороги шума для генерации
const (
	MountainStart = 0.75 // Выше - горы
	DesertMax     = 0.35 // Шум биома ниже - пустыня
	ForestMin     = 0.65 // Шум биома выше - лес
)

// WorldGenerator генерирует ландшафт мира
type WorldGenerator struct {
	Seed        int64   // Сид для генерации шума
	NoiseScale  float64 // Масштаб основного шума (высота)
	BiomeScale  float64 // Масштаб шума биомов
	BaseHeight  int     // Минимальная высота поверхности
	HeightRange int     // Разброс высоты поверхности
	SeaLevel    int     // Уровень воды
	// DecorationDensity - шанс декоративного блока (слэб, ковёр, цветок) на поверхности
	DecorationDensity float64

	heightNoise *util.Noise
	biomeNoise  *util.Noise
}

// NewWorldGenerator создаёт новый генератор мира
func NewWorldGenerator(seed int64) *WorldGenerator {
	return &WorldGenerator{
		Seed:              seed,
		NoiseScale:        0.02,
		BiomeScale:        0.01,
		BaseHeight:        40,
		HeightRange:       40,
		SeaLevel:          52,
		DecorationDensity: 0.04,
		heightNoise:       util.NewNoise(seed),
		biomeNoise:        util.NewNoise(seed + 42),
	}
}

// HeightAt возвращает y верхнего блока рельефа в столбце (без декораций)
func (wg *WorldGenerator) HeightAt(x, z int) int {
	h := wg.heightNoise.Noise2D(float64(x)*wg.NoiseScale, float64(z)*wg.NoiseScale)
	y := wg.BaseHeight + int(h*float64(wg.HeightRange))
	if y < 1 {
		y = 1
	}
	if y > ChunkHeight-2 {
		y = ChunkHeight - 2
	}
	return y
}

// BiomeAt определяет биом столбца
func (wg *WorldGenerator) BiomeAt(x, z int) BiomeType {
	height := wg.HeightAt(x, z)
	if height < wg.SeaLevel {
		return BiomeWater
	}
	h := wg.heightNoise.Noise2D(float64(x)*wg.NoiseScale, float64(z)*wg.NoiseScale)
	if h > MountainStart {
		return BiomeMountains
	}
	b := wg.biomeNoise.Noise2D(float64(x)*wg.BiomeScale, float64(z)*wg.BiomeScale)
	switch {
	case b < DesertMax:
		return BiomeDesert
	case b > ForestMin:
		return BiomeForest
	default:
		return BiomePlains
	}
}

// GenerateChunk генерирует чанк по его координатам
func (wg *WorldGenerator) GenerateChunk(coords vec.Vec2) *Chunk {
	chunk := NewChunk(coords)

	// Локальный генератор случайных чисел для детерминированности чанка
	chunkSeed := wg.Seed + int64(coords.X*31) + int64(coords.Y*17)
	rng := rand.New(rand.NewSource(chunkSeed))

	startX := coords.X << 4
	startZ := coords.Y << 4

	for z := 0; z < ChunkSize; z++ {
		for x := 0; x < ChunkSize; x++ {
			gx, gz := startX+x, startZ+z
			height := wg.HeightAt(gx, gz)
			biome := wg.BiomeAt(gx, gz)
			surface, filler := surfaceBlocks(biome)

			for y := 0; y <= height; y++ {
				id := block.StoneBlockID
				switch {
				case y == height:
					id = surface
				case y >= height-3:
					id = filler
				}
				chunk.setBlockUnchecked(x, y, z, id)
			}

			if biome == BiomeWater {
				for y := height + 1; y <= wg.SeaLevel && y < ChunkHeight; y++ {
					chunk.setBlockUnchecked(x, y, z, block.WaterBlockID)
				}
				continue
			}

			if height+1 < ChunkHeight && rng.Float64() < wg.DecorationDensity {
				chunk.setBlockUnchecked(x, height+1, z, decorationFor(biome))
			}
		}
	}

	return chunk
}

// surfaceBlocks возвращает верхний блок и блок подслоя для биома
func surfaceBlocks(biome BiomeType) (surface, filler block.BlockID) {
	switch biome {
	case BiomeDesert:
		return block.SandBlockID, block.SandBlockID
	case BiomeMountains:
		return block.StoneBlockID, block.StoneBlockID
	case BiomeWater:
		return block.GravelBlockID, block.SandBlockID
	default:
		return block.GrassBlockID, block.DirtBlockID
	}
}

// decorationFor возвращает декоративный блок поверх поверхности
func decorationFor(biome BiomeType) block.BlockID {
	switch biome {
	case BiomeMountains:
		return block.StoneSlabBlockID
	case BiomeForest:
		return block.CarpetBlockID
	case BiomeDesert:
		return block.StoneSlabBlockID
	default:
		return block.FlowerBlockID
	}
}
