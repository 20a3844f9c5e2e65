package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// MemoryPositionRepo реализует PositionRepo в памяти.
// Используется, когда Redis не настроен, и в тестах.
// Данные теряются при перезапуске сервера.
type MemoryPositionRepo struct {
	mu   sync.RWMutex
	data map[string]ObjectSnapshot
}

// NewMemoryPositionRepo создает новый репозиторий снимков в памяти
func NewMemoryPositionRepo() *MemoryPositionRepo {
	return &MemoryPositionRepo{
		data: make(map[string]ObjectSnapshot),
	}
}

// Save сохраняет снимок в памяти
func (r *MemoryPositionRepo) Save(ctx context.Context, snap ObjectSnapshot) error {
	if err := snap.Validate(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.data[snap.Key] = snap
	return nil
}

// Load загружает снимок из памяти
func (r *MemoryPositionRepo) Load(ctx context.Context, key string) (ObjectSnapshot, bool, error) {
	if key == "" {
		return ObjectSnapshot{}, false, fmt.Errorf("пустой ключ снимка")
	}
	if err := ctx.Err(); err != nil {
		return ObjectSnapshot{}, false, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	snap, exists := r.data[key]
	return snap, exists, nil
}

// Delete удаляет снимок из памяти
func (r *MemoryPositionRepo) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.data[key]; !exists {
		return fmt.Errorf("снимок %q не найден", key)
	}
	delete(r.data, key)
	return nil
}

// BatchSave сохраняет несколько снимков. Если хотя бы один невалиден, не сохраняется ничего.
func (r *MemoryPositionRepo) BatchSave(ctx context.Context, snaps []ObjectSnapshot) error {
	if len(snaps) == 0 {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	for _, snap := range snaps {
		if err := snap.Validate(); err != nil {
			return fmt.Errorf("batch: %w", err)
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, snap := range snaps {
		r.data[snap.Key] = snap
	}
	return nil
}

// Keys возвращает отсортированные ключи (для отладки и тестов)
func (r *MemoryPositionRepo) Keys() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	keys := make([]string, 0, len(r.data))
	for k := range r.data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Count возвращает количество сохранённых снимков
func (r *MemoryPositionRepo) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.data)
}
