package storage

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/annel0/mmo-physics/internal/logging"
	"github.com/annel0/mmo-physics/internal/vec"
)

// MongoConfig contains connection settings for the MongoDB snapshot repository.
type MongoConfig struct {
	URI        string // e.g. mongodb://localhost:27017
	Database   string // e.g. physics
	Collection string // e.g. snapshots
}

// MongoPositionRepo implements PositionRepo on MongoDB backend.
type MongoPositionRepo struct {
	client     *mongo.Client
	collection *mongo.Collection
	ctxTimeout time.Duration
	logger     *logging.Logger
}

var _ PositionRepo = (*MongoPositionRepo)(nil)

type vecDoc struct {
	X float64 `bson:"x"`
	Y float64 `bson:"y"`
	Z float64 `bson:"z"`
}

type snapshotDoc struct {
	Key       string    `bson:"_id"`
	Kind      string    `bson:"kind"`
	ObjectID  uint64    `bson:"object_id"`
	Position  vecDoc    `bson:"position"`
	Velocity  vecDoc    `bson:"velocity"`
	UpdatedAt time.Time `bson:"updated_at"`
}

func toDoc(s ObjectSnapshot) snapshotDoc {
	return snapshotDoc{
		Key:       s.Key,
		Kind:      s.Kind,
		ObjectID:  s.ObjectID,
		Position:  vecDoc{X: s.Position.X, Y: s.Position.Y, Z: s.Position.Z},
		Velocity:  vecDoc{X: s.Velocity.X, Y: s.Velocity.Y, Z: s.Velocity.Z},
		UpdatedAt: s.UpdatedAt.UTC(),
	}
}

func (d snapshotDoc) snapshot() ObjectSnapshot {
	return ObjectSnapshot{
		Key:       d.Key,
		Kind:      d.Kind,
		ObjectID:  d.ObjectID,
		Position:  vec.Vec3Float{X: d.Position.X, Y: d.Position.Y, Z: d.Position.Z},
		Velocity:  vec.Vec3Float{X: d.Velocity.X, Y: d.Velocity.Y, Z: d.Velocity.Z},
		UpdatedAt: d.UpdatedAt,
	}
}

// NewMongoPositionRepo establishes connection and returns repository.
func NewMongoPositionRepo(ctx context.Context, cfg MongoConfig, logger *logging.Logger) (*MongoPositionRepo, error) {
	if cfg.URI == "" {
		cfg.URI = "mongodb://localhost:27017"
	}
	if cfg.Database == "" {
		cfg.Database = "physics"
	}
	if cfg.Collection == "" {
		cfg.Collection = "snapshots"
	}
	if logger == nil {
		logger = logging.NewNopLogger()
	}

	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	client, err := mongo.Connect(connectCtx, options.Client().ApplyURI(cfg.URI))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}
	if err := client.Ping(connectCtx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	repo := &MongoPositionRepo{
		client:     client,
		collection: client.Database(cfg.Database).Collection(cfg.Collection),
		ctxTimeout: 5 * time.Second,
		logger:     logger,
	}
	if err := repo.ensureIndexes(connectCtx); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}

	logger.Info("Подключено к MongoDB %s/%s", cfg.Database, cfg.Collection)
	return repo, nil
}

// kind индексируется для выборок по типу сущности из внешних инструментов
func (m *MongoPositionRepo) ensureIndexes(ctx context.Context) error {
	kindIdx := mongo.IndexModel{
		Keys:    bson.D{{Key: "kind", Value: 1}, {Key: "updated_at", Value: -1}},
		Options: options.Index().SetName("kind_updated"),
	}
	if _, err := m.collection.Indexes().CreateOne(ctx, kindIdx); err != nil {
		return fmt.Errorf("failed to create indexes: %w", err)
	}
	return nil
}

func (m *MongoPositionRepo) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, m.ctxTimeout)
}

// Save implements PositionRepo.
func (m *MongoPositionRepo) Save(ctx context.Context, snap ObjectSnapshot) error {
	if err := snap.Validate(); err != nil {
		return err
	}
	ctx, cancel := m.withTimeout(ctx)
	defer cancel()

	_, err := m.collection.ReplaceOne(ctx, bson.M{"_id": snap.Key}, toDoc(snap), options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("failed to save snapshot: %w", err)
	}
	return nil
}

// Load implements PositionRepo.
func (m *MongoPositionRepo) Load(ctx context.Context, key string) (ObjectSnapshot, bool, error) {
	ctx, cancel := m.withTimeout(ctx)
	defer cancel()

	var doc snapshotDoc
	err := m.collection.FindOne(ctx, bson.M{"_id": key}).Decode(&doc)
	if err == mongo.ErrNoDocuments {
		return ObjectSnapshot{}, false, nil
	}
	if err != nil {
		return ObjectSnapshot{}, false, fmt.Errorf("failed to get snapshot: %w", err)
	}
	return doc.snapshot(), true, nil
}

// Delete implements PositionRepo.
func (m *MongoPositionRepo) Delete(ctx context.Context, key string) error {
	ctx, cancel := m.withTimeout(ctx)
	defer cancel()

	res, err := m.collection.DeleteOne(ctx, bson.M{"_id": key})
	if err != nil {
		return fmt.Errorf("failed to delete snapshot: %w", err)
	}
	if res.DeletedCount == 0 {
		return fmt.Errorf("снимок %q не найден", key)
	}
	return nil
}

// BatchSave upserts all snapshots with one BulkWrite.
func (m *MongoPositionRepo) BatchSave(ctx context.Context, snaps []ObjectSnapshot) error {
	if len(snaps) == 0 {
		return nil
	}

	models := make([]mongo.WriteModel, 0, len(snaps))
	for _, snap := range snaps {
		if err := snap.Validate(); err != nil {
			return fmt.Errorf("batch: %w", err)
		}
		models = append(models, mongo.NewReplaceOneModel().
			SetFilter(bson.M{"_id": snap.Key}).
			SetReplacement(toDoc(snap)).
			SetUpsert(true))
	}

	ctx, cancel := m.withTimeout(ctx)
	defer cancel()
	if _, err := m.collection.BulkWrite(ctx, models, options.BulkWrite().SetOrdered(false)); err != nil {
		return fmt.Errorf("failed to execute batch: %w", err)
	}
	m.logger.Debug("Сохранено снимков в MongoDB: %d", len(snaps))
	return nil
}

// Close terminates connection.
func (m *MongoPositionRepo) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return m.client.Disconnect(ctx)
}
