package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/annel0/mmo-physics/internal/logging"
)

// RedisConfig содержит настройки подключения к Redis
type RedisConfig struct {
	Addr      string        // Адрес Redis сервера
	Password  string        // Пароль (пустой если не требуется)
	DB        int           // Номер базы данных
	KeyPrefix string        // Префикс для ключей
	TTL       time.Duration // Время жизни записей, 0 - без срока
}

// DefaultRedisConfig возвращает конфигурацию по умолчанию
func DefaultRedisConfig() *RedisConfig {
	return &RedisConfig{
		Addr:      "localhost:6379",
		KeyPrefix: "physics:snap:",
		TTL:       24 * time.Hour,
	}
}

// RedisPositionRepo хранит снимки объектов в Redis
type RedisPositionRepo struct {
	client    *redis.Client
	keyPrefix string
	ttl       time.Duration
	logger    *logging.Logger
}

var _ PositionRepo = (*RedisPositionRepo)(nil)

// NewRedisPositionRepo подключается к Redis и проверяет соединение
func NewRedisPositionRepo(ctx context.Context, config *RedisConfig, logger *logging.Logger) (*RedisPositionRepo, error) {
	if config == nil {
		config = DefaultRedisConfig()
	}
	if logger == nil {
		logger = logging.NewNopLogger()
	}

	client := redis.NewClient(&redis.Options{
		Addr:     config.Addr,
		Password: config.Password,
		DB:       config.DB,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	logger.Info("Подключено к Redis %s", config.Addr)
	return &RedisPositionRepo{
		client:    client,
		keyPrefix: config.KeyPrefix,
		ttl:       config.TTL,
		logger:    logger,
	}, nil
}

func (r *RedisPositionRepo) key(k string) string {
	return r.keyPrefix + k
}

func encodeSnapshot(snap ObjectSnapshot) ([]byte, error) {
	if err := snap.Validate(); err != nil {
		return nil, err
	}
	data, err := json.Marshal(snap)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal snapshot %s: %w", snap.Key, err)
	}
	return data, nil
}

func decodeSnapshot(data []byte) (ObjectSnapshot, error) {
	var snap ObjectSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return ObjectSnapshot{}, fmt.Errorf("failed to unmarshal snapshot: %w", err)
	}
	return snap, nil
}

// Save сохраняет снимок
func (r *RedisPositionRepo) Save(ctx context.Context, snap ObjectSnapshot) error {
	data, err := encodeSnapshot(snap)
	if err != nil {
		return err
	}
	if err := r.client.Set(ctx, r.key(snap.Key), data, r.ttl).Err(); err != nil {
		return fmt.Errorf("failed to save snapshot: %w", err)
	}
	return nil
}

// Load получает снимок
func (r *RedisPositionRepo) Load(ctx context.Context, key string) (ObjectSnapshot, bool, error) {
	data, err := r.client.Get(ctx, r.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return ObjectSnapshot{}, false, nil
	}
	if err != nil {
		return ObjectSnapshot{}, false, fmt.Errorf("failed to get snapshot: %w", err)
	}

	snap, err := decodeSnapshot(data)
	if err != nil {
		return ObjectSnapshot{}, false, err
	}
	return snap, true, nil
}

// Delete удаляет снимок
func (r *RedisPositionRepo) Delete(ctx context.Context, key string) error {
	n, err := r.client.Del(ctx, r.key(key)).Result()
	if err != nil {
		return fmt.Errorf("failed to delete snapshot: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("снимок %q не найден", key)
	}
	return nil
}

// BatchSave записывает снимки одним пайплайном
func (r *RedisPositionRepo) BatchSave(ctx context.Context, snaps []ObjectSnapshot) error {
	if len(snaps) == 0 {
		return nil
	}

	pipe := r.client.Pipeline()
	for _, snap := range snaps {
		data, err := encodeSnapshot(snap)
		if err != nil {
			return fmt.Errorf("batch: %w", err)
		}
		pipe.Set(ctx, r.key(snap.Key), data, r.ttl)
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to execute batch: %w", err)
	}
	r.logger.Debug("Сохранено снимков в Redis: %d", len(snaps))
	return nil
}

// Close закрывает соединение с Redis
func (r *RedisPositionRepo) Close() error {
	return r.client.Close()
}
