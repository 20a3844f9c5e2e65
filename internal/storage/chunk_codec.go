package storage

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/klauspost/compress/zstd"

	"github.com/annel0/mmo-physics/internal/world/block"
)

// ErrCorruptChunk - данные чанка не удалось разобрать
var ErrCorruptChunk = errors.New("corrupt chunk data")

// chunkMagic открывает каждую запись чанка
var chunkMagic = [4]byte{'V', 'X', 'C', '1'}

const chunkHeaderSize = 8 // magic + uint32 число блоков

// ChunkCodec кодирует блоки чанка: заголовок, uint16 LE на блок, затем zstd.
// Безопасен для конкурентного использования.
type ChunkCodec struct {
	compressor   *zstd.Encoder
	decompressor *zstd.Decoder
}

// NewChunkCodec создаёт кодек
func NewChunkCodec() (*ChunkCodec, error) {
	compressor, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("ошибка создания компрессора: %w", err)
	}
	decompressor, err := zstd.NewReader(nil)
	if err != nil {
		compressor.Close()
		return nil, fmt.Errorf("ошибка создания декомпрессора: %w", err)
	}
	return &ChunkCodec{compressor: compressor, decompressor: decompressor}, nil
}

// Encode сериализует и сжимает блоки
func (c *ChunkCodec) Encode(blocks []block.BlockID) []byte {
	raw := make([]byte, chunkHeaderSize+2*len(blocks))
	copy(raw, chunkMagic[:])
	binary.LittleEndian.PutUint32(raw[4:], uint32(len(blocks)))
	for i, id := range blocks {
		binary.LittleEndian.PutUint16(raw[chunkHeaderSize+2*i:], uint16(id))
	}
	return c.compressor.EncodeAll(raw, make([]byte, 0, len(raw)/8))
}

// Decode распаковывает блоки, проверяя заголовок и длину
func (c *ChunkCodec) Decode(data []byte) ([]block.BlockID, error) {
	raw, err := c.decompressor.DecodeAll(data, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptChunk, err)
	}
	if len(raw) < chunkHeaderSize || [4]byte(raw[:4]) != chunkMagic {
		return nil, fmt.Errorf("%w: неверный заголовок", ErrCorruptChunk)
	}

	count := int(binary.LittleEndian.Uint32(raw[4:]))
	if len(raw) != chunkHeaderSize+2*count {
		return nil, fmt.Errorf("%w: ожидалось %d блоков, данных %d байт", ErrCorruptChunk, count, len(raw)-chunkHeaderSize)
	}

	blocks := make([]block.BlockID, count)
	for i := range blocks {
		blocks[i] = block.BlockID(binary.LittleEndian.Uint16(raw[chunkHeaderSize+2*i:]))
	}
	return blocks, nil
}

// Close освобождает ресурсы кодека
func (c *ChunkCodec) Close() {
	c.compressor.Close()
	c.decompressor.Close()
}
