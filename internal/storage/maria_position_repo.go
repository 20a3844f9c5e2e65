package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql"

	"github.com/annel0/mmo-physics/internal/logging"
)

// MariaConfig содержит настройки подключения к MariaDB
type MariaConfig struct {
	Host     string // например, localhost
	Port     int    // например, 3306
	Database string // например, physics
	Username string // пользователь БД
	Password string // пароль БД
}

// DSN формирует строку подключения драйвера mysql
func (c MariaConfig) DSN() string {
	host, port, database := c.Host, c.Port, c.Database
	if host == "" {
		host = "localhost"
	}
	if port == 0 {
		port = 3306
	}
	if database == "" {
		database = "physics"
	}
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=true&loc=UTC",
		c.Username, c.Password, host, port, database)
}

const createSnapshotsTable = `
CREATE TABLE IF NOT EXISTS object_snapshots (
	snapshot_key VARCHAR(191) NOT NULL PRIMARY KEY,
	kind VARCHAR(32) NOT NULL,
	object_id BIGINT UNSIGNED NOT NULL,
	pos_x DOUBLE NOT NULL,
	pos_y DOUBLE NOT NULL,
	pos_z DOUBLE NOT NULL,
	vel_x DOUBLE NOT NULL,
	vel_y DOUBLE NOT NULL,
	vel_z DOUBLE NOT NULL,
	updated_at DATETIME(6) NOT NULL,
	INDEX idx_kind (kind)
) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci`

const upsertSnapshot = `
INSERT INTO object_snapshots
	(snapshot_key, kind, object_id, pos_x, pos_y, pos_z, vel_x, vel_y, vel_z, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON DUPLICATE KEY UPDATE
	kind = VALUES(kind), object_id = VALUES(object_id),
	pos_x = VALUES(pos_x), pos_y = VALUES(pos_y), pos_z = VALUES(pos_z),
	vel_x = VALUES(vel_x), vel_y = VALUES(vel_y), vel_z = VALUES(vel_z),
	updated_at = VALUES(updated_at)`

const selectSnapshot = `
SELECT snapshot_key, kind, object_id, pos_x, pos_y, pos_z, vel_x, vel_y, vel_z, updated_at
FROM object_snapshots WHERE snapshot_key = ?`

// MariaPositionRepo реализует PositionRepo для MariaDB/MySQL
type MariaPositionRepo struct {
	db     *sql.DB
	logger *logging.Logger
}

var _ PositionRepo = (*MariaPositionRepo)(nil)

// NewMariaPositionRepo открывает подключение и создаёт таблицу снимков, если её нет
func NewMariaPositionRepo(ctx context.Context, cfg MariaConfig, logger *logging.Logger) (*MariaPositionRepo, error) {
	if logger == nil {
		logger = logging.NewNopLogger()
	}

	db, err := sql.Open("mysql", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("не удалось открыть подключение к MariaDB: %w", err)
	}
	db.SetMaxOpenConns(8)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("не удалось подключиться к MariaDB: %w", err)
	}
	if _, err := db.ExecContext(ctx, createSnapshotsTable); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("не удалось создать таблицу object_snapshots: %w", err)
	}

	logger.Info("Подключено к MariaDB %s:%d/%s", cfg.Host, cfg.Port, cfg.Database)
	return &MariaPositionRepo{db: db, logger: logger}, nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func upsert(ctx context.Context, ex execer, snap ObjectSnapshot) error {
	_, err := ex.ExecContext(ctx, upsertSnapshot,
		snap.Key, snap.Kind, snap.ObjectID,
		snap.Position.X, snap.Position.Y, snap.Position.Z,
		snap.Velocity.X, snap.Velocity.Y, snap.Velocity.Z,
		snap.UpdatedAt.UTC())
	return err
}

// Save сохраняет снимок
func (m *MariaPositionRepo) Save(ctx context.Context, snap ObjectSnapshot) error {
	if err := snap.Validate(); err != nil {
		return err
	}
	if err := upsert(ctx, m.db, snap); err != nil {
		return fmt.Errorf("ошибка сохранения снимка: %w", err)
	}
	return nil
}

// Load получает снимок
func (m *MariaPositionRepo) Load(ctx context.Context, key string) (ObjectSnapshot, bool, error) {
	var s ObjectSnapshot
	err := m.db.QueryRowContext(ctx, selectSnapshot, key).Scan(
		&s.Key, &s.Kind, &s.ObjectID,
		&s.Position.X, &s.Position.Y, &s.Position.Z,
		&s.Velocity.X, &s.Velocity.Y, &s.Velocity.Z,
		&s.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return ObjectSnapshot{}, false, nil
	}
	if err != nil {
		return ObjectSnapshot{}, false, fmt.Errorf("ошибка чтения снимка: %w", err)
	}
	return s, true, nil
}

// Delete удаляет снимок
func (m *MariaPositionRepo) Delete(ctx context.Context, key string) error {
	res, err := m.db.ExecContext(ctx, "DELETE FROM object_snapshots WHERE snapshot_key = ?", key)
	if err != nil {
		return fmt.Errorf("ошибка удаления снимка: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("снимок %q не найден", key)
	}
	return nil
}

// BatchSave записывает снимки в одной транзакции
func (m *MariaPositionRepo) BatchSave(ctx context.Context, snaps []ObjectSnapshot) error {
	if len(snaps) == 0 {
		return nil
	}
	for _, snap := range snaps {
		if err := snap.Validate(); err != nil {
			return fmt.Errorf("batch: %w", err)
		}
	}

	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("ошибка начала транзакции: %w", err)
	}
	for _, snap := range snaps {
		if err := upsert(ctx, tx, snap); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("batch %s: %w", snap.Key, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("ошибка фиксации транзакции: %w", err)
	}
	m.logger.Debug("Сохранено снимков в MariaDB: %d", len(snaps))
	return nil
}

// Close закрывает пул соединений
func (m *MariaPositionRepo) Close() error {
	return m.db.Close()
}
