package storage

import (
	"context"
	"fmt"
	"math"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/annel0/mmo-physics/internal/vec"
)

func snapshot(key string, x, y, z float64) ObjectSnapshot {
	return ObjectSnapshot{
		Key:       key,
		Kind:      "player",
		ObjectID:  7,
		Position:  vec.Vec3Float{X: x, Y: y, Z: z},
		Velocity:  vec.Vec3Float{X: 0.1},
		UpdatedAt: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}
}

// TestMemoryPositionRepo тестирует in-memory репозиторий снимков
func TestMemoryPositionRepo(t *testing.T) {
	repo := NewMemoryPositionRepo()
	ctx := context.Background()

	t.Run("Save and Load", func(t *testing.T) {
		want := snapshot("alice", 10.5, 64, -3.25)
		require.NoError(t, repo.Save(ctx, want))

		got, found, err := repo.Load(ctx, "alice")
		require.NoError(t, err)
		require.True(t, found)
		assert.Equal(t, want, got)
	})

	t.Run("Load Missing", func(t *testing.T) {
		got, found, err := repo.Load(ctx, "nobody")
		require.NoError(t, err)
		assert.False(t, found)
		assert.Equal(t, ObjectSnapshot{}, got)
	})

	t.Run("Overwrite", func(t *testing.T) {
		require.NoError(t, repo.Save(ctx, snapshot("bob", 1, 2, 3)))
		require.NoError(t, repo.Save(ctx, snapshot("bob", 4, 5, 6)))

		got, _, err := repo.Load(ctx, "bob")
		require.NoError(t, err)
		assert.Equal(t, vec.Vec3Float{X: 4, Y: 5, Z: 6}, got.Position)
	})

	t.Run("Delete", func(t *testing.T) {
		require.NoError(t, repo.Save(ctx, snapshot("carol", 0, 0, 0)))
		require.NoError(t, repo.Delete(ctx, "carol"))

		_, found, err := repo.Load(ctx, "carol")
		require.NoError(t, err)
		assert.False(t, found)

		assert.Error(t, repo.Delete(ctx, "carol"), "повторное удаление")
	})

	t.Run("BatchSave", func(t *testing.T) {
		batch := []ObjectSnapshot{snapshot("d1", 1, 1, 1), snapshot("d2", 2, 2, 2)}
		require.NoError(t, repo.BatchSave(ctx, batch))
		assert.NoError(t, repo.BatchSave(ctx, nil))

		for _, s := range batch {
			got, found, err := repo.Load(ctx, s.Key)
			require.NoError(t, err)
			require.True(t, found)
			assert.Equal(t, s.Position, got.Position)
		}
	})

	t.Run("Validation", func(t *testing.T) {
		assert.Error(t, repo.Save(ctx, snapshot("", 0, 0, 0)))
		assert.Error(t, repo.Save(ctx, snapshot("nan", math.NaN(), 0, 0)))

		before := repo.Count()
		err := repo.BatchSave(ctx, []ObjectSnapshot{snapshot("ok", 0, 0, 0), snapshot("", 0, 0, 0)})
		assert.Error(t, err)
		assert.Equal(t, before, repo.Count(), "невалидный batch не сохраняется частично")

		_, _, err = repo.Load(ctx, "")
		assert.Error(t, err)
	})

	t.Run("Context Cancellation", func(t *testing.T) {
		cancelled, cancel := context.WithCancel(ctx)
		cancel()

		assert.ErrorIs(t, repo.Save(cancelled, snapshot("x", 0, 0, 0)), context.Canceled)
		_, _, err := repo.Load(cancelled, "alice")
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestMemoryPositionRepoKeys(t *testing.T) {
	repo := NewMemoryPositionRepo()
	ctx := context.Background()

	for _, k := range []string{"c", "a", "b"} {
		require.NoError(t, repo.Save(ctx, snapshot(k, 0, 0, 0)))
	}
	assert.Equal(t, []string{"a", "b", "c"}, repo.Keys())
	assert.Equal(t, 3, repo.Count())
}

func TestConcurrentAccess(t *testing.T) {
	repo := NewMemoryPositionRepo()
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			key := fmt.Sprintf("obj-%d", i)
			for j := 0; j < 50; j++ {
				assert.NoError(t, repo.Save(ctx, snapshot(key, float64(j), 0, 0)))
				_, _, err := repo.Load(ctx, key)
				assert.NoError(t, err)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 20, repo.Count())
}

func TestSnapshotJSONRoundTrip(t *testing.T) {
	want := snapshot("json", 1.5, -2.25, 1e6)
	data, err := encodeSnapshot(want)
	require.NoError(t, err)

	got, err := decodeSnapshot(data)
	require.NoError(t, err)
	assert.Equal(t, want, got)

	_, err = decodeSnapshot([]byte("{"))
	assert.Error(t, err)
}

// TestRedisPositionRepo требует живой Redis: REDIS_ADDR=localhost:6379
func TestRedisPositionRepo(t *testing.T) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR не задан")
	}

	ctx := context.Background()
	cfg := DefaultRedisConfig()
	cfg.Addr = addr
	cfg.KeyPrefix = fmt.Sprintf("physics:test:%d:", time.Now().UnixNano())
	cfg.TTL = time.Minute

	repo, err := NewRedisPositionRepo(ctx, cfg, nil)
	require.NoError(t, err)
	defer repo.Close()

	want := snapshot("redis", 3, 4, 5)
	require.NoError(t, repo.Save(ctx, want))

	got, found, err := repo.Load(ctx, "redis")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, want.Position, got.Position)

	require.NoError(t, repo.BatchSave(ctx, []ObjectSnapshot{snapshot("r1", 1, 0, 0), snapshot("r2", 2, 0, 0)}))
	require.NoError(t, repo.Delete(ctx, "r1"))
	assert.Error(t, repo.Delete(ctx, "r1"))

	_, found, err = repo.Load(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestMongoSnapshotDocument(t *testing.T) {
	want := snapshot("doc", 1.5, 2, -3)
	doc := toDoc(want)
	assert.Equal(t, "doc", doc.Key)
	assert.Equal(t, vecDoc{X: 1.5, Y: 2, Z: -3}, doc.Position)
	assert.Equal(t, want, doc.snapshot())
}

func TestMariaDSN(t *testing.T) {
	assert.Equal(t, "u:p@tcp(localhost:3306)/physics?charset=utf8mb4&parseTime=true&loc=UTC",
		MariaConfig{Username: "u", Password: "p"}.DSN())
	assert.Equal(t, "u:@tcp(db:3307)/sim?charset=utf8mb4&parseTime=true&loc=UTC",
		MariaConfig{Host: "db", Port: 3307, Database: "sim", Username: "u"}.DSN())
}

// exercisePositionRepo прогоняет общий сценарий для внешних хранилищ
func exercisePositionRepo(t *testing.T, repo PositionRepo, prefix string) {
	t.Helper()
	ctx := context.Background()

	want := snapshot(prefix+"a", 3, 4, 5)
	require.NoError(t, repo.Save(ctx, want))

	got, found, err := repo.Load(ctx, want.Key)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, want.Position, got.Position)
	assert.Equal(t, want.Velocity, got.Velocity)
	assert.True(t, want.UpdatedAt.Equal(got.UpdatedAt))

	require.NoError(t, repo.BatchSave(ctx, []ObjectSnapshot{snapshot(prefix+"b", 1, 0, 0), snapshot(prefix+"a", 9, 9, 9)}))
	got, _, err = repo.Load(ctx, want.Key)
	require.NoError(t, err)
	assert.Equal(t, 9.0, got.Position.X)

	require.NoError(t, repo.Delete(ctx, prefix+"b"))
	assert.Error(t, repo.Delete(ctx, prefix+"b"))
	require.NoError(t, repo.Delete(ctx, prefix+"a"))

	_, found, err = repo.Load(ctx, prefix+"missing")
	require.NoError(t, err)
	assert.False(t, found)
}

// TestMongoPositionRepo требует живой MongoDB: MONGO_URI=mongodb://localhost:27017
func TestMongoPositionRepo(t *testing.T) {
	uri := os.Getenv("MONGO_URI")
	if uri == "" {
		t.Skip("MONGO_URI не задан")
	}
	repo, err := NewMongoPositionRepo(context.Background(), MongoConfig{URI: uri, Database: "physics_test"}, nil)
	require.NoError(t, err)
	defer repo.Close()

	exercisePositionRepo(t, repo, fmt.Sprintf("t%d-", time.Now().UnixNano()))
}

// TestMariaPositionRepo требует живой MariaDB: MARIA_HOST, MARIA_USER, MARIA_PASSWORD
func TestMariaPositionRepo(t *testing.T) {
	host := os.Getenv("MARIA_HOST")
	if host == "" {
		t.Skip("MARIA_HOST не задан")
	}
	repo, err := NewMariaPositionRepo(context.Background(), MariaConfig{
		Host:     host,
		Database: "physics_test",
		Username: os.Getenv("MARIA_USER"),
		Password: os.Getenv("MARIA_PASSWORD"),
	}, nil)
	require.NoError(t, err)
	defer repo.Close()

	exercisePositionRepo(t, repo, fmt.Sprintf("t%d-", time.Now().UnixNano()))
}
