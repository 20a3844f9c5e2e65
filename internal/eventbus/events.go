package eventbus

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/annel0/mmo-physics/internal/vec"
)

// Типы событий симуляции
const (
	TypeObjectSpawned   = "ObjectSpawned"
	TypeObjectDespawned = "ObjectDespawned"
	TypeObjectLanded    = "ObjectLanded"
	TypeChunkLoaded     = "ChunkLoaded"
)

// Приоритеты событий
const (
	PriorityLow    = 1
	PriorityNormal = 5
	PriorityHigh   = 8
)

// payloadVersion - текущая версия схемы полезной нагрузки
const payloadVersion = 1

// ObjectSpawned - объект добавлен в мир
type ObjectSpawned struct {
	ObjectID uint64        `json:"object_id"`
	Key      string        `json:"key,omitempty"`
	Kind     string        `json:"kind"`
	Position vec.Vec3Float `json:"position"`
	Restored bool          `json:"restored"`
}

// ObjectDespawned - объект удалён из мира
type ObjectDespawned struct {
	ObjectID uint64        `json:"object_id"`
	Key      string        `json:"key,omitempty"`
	Kind     string        `json:"kind"`
	Position vec.Vec3Float `json:"position"`
	Saved    bool          `json:"saved"`
}

// ObjectLanded - объект коснулся опоры после падения
type ObjectLanded struct {
	ObjectID   uint64        `json:"object_id"`
	Position   vec.Vec3Float `json:"position"`
	FallSpeed  float64       `json:"fall_speed"`
	TickNumber uint64        `json:"tick"`
}

// ChunkLoaded - чанк загружен вокруг объектов
type ChunkLoaded struct {
	Coords vec.Vec2 `json:"coords"`
}

// NewEnvelope сериализует payload в JSON и заполняет служебные поля
func NewEnvelope(eventType, source string, priority int, payload any) (*Envelope, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s payload: %w", eventType, err)
	}
	return &Envelope{
		ID:        uuid.NewString(),
		Timestamp: time.Now().UTC(),
		Source:    source,
		EventType: eventType,
		Version:   payloadVersion,
		Priority:  priority,
		Payload:   data,
	}, nil
}

// Decode разбирает полезную нагрузку в out
func (ev *Envelope) Decode(out any) error {
	if err := json.Unmarshal(ev.Payload, out); err != nil {
		return fmt.Errorf("failed to unmarshal %s payload: %w", ev.EventType, err)
	}
	return nil
}
