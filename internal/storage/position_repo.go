package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/annel0/mmo-physics/internal/vec"
)

// ObjectSnapshot - последнее известное состояние физического объекта.
// Key - постоянный идентификатор владельца (аккаунт, сохранённый предмет),
// ID объекта живёт только в рамках процесса.
type ObjectSnapshot struct {
	Key       string        `json:"key"`
	Kind      string        `json:"kind"`
	ObjectID  uint64        `json:"object_id"`
	Position  vec.Vec3Float `json:"position"`
	Velocity  vec.Vec3Float `json:"velocity"`
	UpdatedAt time.Time     `json:"updated_at"`
}

// Validate проверяет снимок перед записью
func (s ObjectSnapshot) Validate() error {
	if s.Key == "" {
		return fmt.Errorf("пустой ключ снимка")
	}
	if !s.Position.IsFinite() || !s.Velocity.IsFinite() {
		return fmt.Errorf("снимок %s: нечисловые координаты", s.Key)
	}
	return nil
}

// PositionRepo сохраняет снимки объектов между сессиями (например, при деспавне).
type PositionRepo interface {
	// Save сохраняет снимок, перезаписывая предыдущий с тем же ключом.
	Save(ctx context.Context, snap ObjectSnapshot) error

	// Load возвращает снимок; false, если ключ не найден.
	Load(ctx context.Context, key string) (ObjectSnapshot, bool, error)

	// Delete удаляет снимок. Отсутствующий ключ - ошибка.
	Delete(ctx context.Context, key string) error

	// BatchSave сохраняет несколько снимков (автосохранение).
	BatchSave(ctx context.Context, snaps []ObjectSnapshot) error
}
