package storage

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/dgraph-io/badger/v3"

	"github.com/annel0/mmo-physics/internal/vec"
	"github.com/annel0/mmo-physics/internal/world"
	"github.com/annel0/mmo-physics/internal/world/block"
)

var (
	// ErrChunkNotFound совпадает с world.ErrChunkNotFound, чтобы мир мог генерировать отсутствующие чанки
	ErrChunkNotFound = world.ErrChunkNotFound
	// ErrStorageClosed - хранилище уже закрыто
	ErrStorageClosed = errors.New("storage closed")
)

const chunkKeyPrefix = "chunk:"

// WorldStorage хранит чанки мира в BadgerDB
type WorldStorage struct {
	db      *badger.DB
	dbPath  string
	codec   *ChunkCodec
	mutex   sync.RWMutex
	isReady bool
}

var _ world.ChunkStore = (*WorldStorage)(nil)

// NewWorldStorage открывает хранилище в dataPath/world
func NewWorldStorage(dataPath string) (*WorldStorage, error) {
	dbPath := filepath.Join(dataPath, "world")
	opts := badger.DefaultOptions(dbPath)
	opts.Logger = nil // Отключаем логирование BadgerDB
	return openWorldStorage(opts, dbPath)
}

// NewInMemoryWorldStorage создаёт хранилище без диска (тесты, временные миры)
func NewInMemoryWorldStorage() (*WorldStorage, error) {
	opts := badger.DefaultOptions("").WithInMemory(true)
	opts.Logger = nil
	return openWorldStorage(opts, "")
}

func openWorldStorage(opts badger.Options, dbPath string) (*WorldStorage, error) {
	codec, err := NewChunkCodec()
	if err != nil {
		return nil, err
	}

	db, err := badger.Open(opts)
	if err != nil {
		codec.Close()
		return nil, fmt.Errorf("не удалось открыть BadgerDB: %w", err)
	}

	return &WorldStorage{
		db:      db,
		dbPath:  dbPath,
		codec:   codec,
		isReady: true,
	}, nil
}

func chunkKey(coords vec.Vec2) []byte {
	return []byte(fmt.Sprintf("%s%d:%d", chunkKeyPrefix, coords.X, coords.Y))
}

// Close закрывает хранилище данных
func (ws *WorldStorage) Close() error {
	ws.mutex.Lock()
	defer ws.mutex.Unlock()

	if !ws.isReady {
		return nil
	}

	ws.isReady = false
	ws.codec.Close()
	return ws.db.Close()
}

// SaveChunk сохраняет все блоки чанка
func (ws *WorldStorage) SaveChunk(ctx context.Context, coords vec.Vec2, blocks []block.BlockID) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	ws.mutex.RLock()
	defer ws.mutex.RUnlock()

	if !ws.isReady {
		return ErrStorageClosed
	}

	data := ws.codec.Encode(blocks)
	err := ws.db.Update(func(txn *badger.Txn) error {
		return txn.Set(chunkKey(coords), data)
	})
	if err != nil {
		return fmt.Errorf("ошибка сохранения в BadgerDB: %w", err)
	}
	return nil
}

// LoadChunk загружает блоки чанка. Для несохранённого чанка возвращает ErrChunkNotFound.
func (ws *WorldStorage) LoadChunk(ctx context.Context, coords vec.Vec2) ([]block.BlockID, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	ws.mutex.RLock()
	defer ws.mutex.RUnlock()

	if !ws.isReady {
		return nil, ErrStorageClosed
	}

	var data []byte
	err := ws.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(chunkKey(coords))
		if err != nil {
			return err
		}
		data, err = item.ValueCopy(nil)
		return err
	})

	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, fmt.Errorf("%w: %v", ErrChunkNotFound, coords)
	}
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения из BadgerDB: %w", err)
	}

	blocks, err := ws.codec.Decode(data)
	if err != nil {
		return nil, fmt.Errorf("чанк %v: %w", coords, err)
	}
	return blocks, nil
}

// DeleteChunk удаляет сохранённый чанк
func (ws *WorldStorage) DeleteChunk(ctx context.Context, coords vec.Vec2) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	ws.mutex.RLock()
	defer ws.mutex.RUnlock()

	if !ws.isReady {
		return ErrStorageClosed
	}

	return ws.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(chunkKey(coords))
	})
}

// ChunkCount возвращает число сохранённых чанков
func (ws *WorldStorage) ChunkCount() (int, error) {
	ws.mutex.RLock()
	defer ws.mutex.RUnlock()

	if !ws.isReady {
		return 0, ErrStorageClosed
	}

	count := 0
	err := ws.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = []byte(chunkKeyPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			count++
		}
		return nil
	})
	return count, err
}
