package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/annel0/mmo-physics/internal/auth"
	"github.com/annel0/mmo-physics/internal/eventbus"
	"github.com/annel0/mmo-physics/internal/physics"
	"github.com/annel0/mmo-physics/internal/sim"
	"github.com/annel0/mmo-physics/internal/vec"
	"github.com/annel0/mmo-physics/internal/world"
	"github.com/annel0/mmo-physics/internal/world/block"
)

const groundY = 10

type envelope struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func newTestSim(t *testing.T) *sim.Simulation {
	t.Helper()
	w := world.NewBlockWorld(world.NewWorldGenerator(1), nil, nil)

	flat := make([]block.BlockID, world.ChunkVolume)
	for i := 0; i < groundY*world.ChunkSize*world.ChunkSize; i++ {
		flat[i] = block.StoneBlockID
	}
	for cx := -2; cx <= 2; cx++ {
		for cz := -2; cz <= 2; cz++ {
			c, err := w.LoadChunk(context.Background(), vec.Vec2{X: cx, Y: cz})
			require.NoError(t, err)
			require.NoError(t, c.LoadBlocks(flat))
		}
	}

	return sim.NewSimulation(sim.Config{
		Params:        physics.DefaultParams(),
		CommandQueue:  16,
		PreloadRadius: 0,
	}, w, nil, nil, nil)
}

func spawn(t *testing.T, s *sim.Simulation, x, z float64) sim.BodyInfo {
	t.Helper()
	info, err := s.Spawn(context.Background(), sim.SpawnRequest{
		Type:     sim.EntityTypePlayer,
		Position: vec.Vec3Float{X: x, Y: groundY, Z: z},
	})
	require.NoError(t, err)
	return info
}

func newServer(t *testing.T, cfg Config) *RestServer {
	t.Helper()
	cfg.GinMode = gin.TestMode
	rs, err := NewRestServer(cfg)
	require.NoError(t, err)
	return rs
}

func request(t *testing.T, h http.Handler, method, path, token string, body interface{}) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	var env envelope
	_ = json.Unmarshal(w.Body.Bytes(), &env)
	return w, env
}

func objectPath(id uint64, suffix string) string {
	return fmt.Sprintf("/api/objects/%d%s", id, suffix)
}

func decodeBodies(t *testing.T, env envelope) []sim.BodyInfo {
	t.Helper()
	var out []sim.BodyInfo
	require.NoError(t, json.Unmarshal(env.Data, &out))
	return out
}

func TestHealthAndStats(t *testing.T) {
	s := newTestSim(t)
	spawn(t, s, 8, 8)
	bus := eventbus.NewMemoryBus(8)
	defer bus.Close()

	rs := newServer(t, Config{Sim: s, Bus: bus})

	w, _ := request(t, rs.Handler(), http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w, env := request(t, rs.Handler(), http.MethodGet, "/api/stats", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, env.Success)

	var stats StatsResponse
	require.NoError(t, json.Unmarshal(env.Data, &stats))
	assert.Equal(t, 1, stats.Simulation.Bodies)
	assert.NotNil(t, stats.EventBus)
	assert.Greater(t, stats.Process.Goroutines, 0)
}

func TestSearchObjects(t *testing.T) {
	s := newTestSim(t)
	first := spawn(t, s, 8, 8)
	spawn(t, s, 20, 8)
	rs := newServer(t, Config{Sim: s})

	_, env := request(t, rs.Handler(), http.MethodGet, "/api/objects", "", nil)
	assert.Len(t, decodeBodies(t, env), 2)

	w, env := request(t, rs.Handler(), http.MethodGet, "/api/objects?min=7,9,7&max=9,12,9&strict=true", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	found := decodeBodies(t, env)
	require.Len(t, found, 1)
	assert.Equal(t, first.ID, found[0].ID)

	w, _ = request(t, rs.Handler(), http.MethodGet, "/api/objects?min=1,2&max=3,4,5", "", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, _ = request(t, rs.Handler(), http.MethodGet, "/api/objects?min=9,9,9&max=7,12,12", "", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code, "перевёрнутая коробка")

	w, _ = request(t, rs.Handler(), http.MethodGet, "/api/objects?min=0,0,0&max=1,1,1&strict=maybe", "", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, _ = request(t, rs.Handler(), http.MethodGet, "/api/objects?min=-1e9,0,-1e9&max=1e9,1,1e9", "", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code, "слишком широкая коробка")
}

func TestGetObject(t *testing.T) {
	s := newTestSim(t)
	info := spawn(t, s, 8, 8)
	rs := newServer(t, Config{Sim: s})

	w, env := request(t, rs.Handler(), http.MethodGet, fmt.Sprintf("/api/objects/%d", info.ID), "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var got sim.BodyInfo
	require.NoError(t, json.Unmarshal(env.Data, &got))
	assert.Equal(t, info.ID, got.ID)
	assert.Equal(t, sim.EntityTypePlayer, got.Type)

	w, _ = request(t, rs.Handler(), http.MethodGet, "/api/objects/999999999", "", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w, _ = request(t, rs.Handler(), http.MethodGet, "/api/objects/abc", "", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRaycast(t *testing.T) {
	s := newTestSim(t)
	near := spawn(t, s, 8, 8)
	far := spawn(t, s, 20, 8)
	rs := newServer(t, Config{Sim: s})

	w, env := request(t, rs.Handler(), http.MethodGet, "/api/raycast?origin=0,11,8&dir=40,0,0", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var all RaycastResponse
	require.NoError(t, json.Unmarshal(env.Data, &all))
	assert.Len(t, all.Hits, 2)

	_, env = request(t, rs.Handler(), http.MethodGet, "/api/raycast?origin=0,11,8&dir=40,0,0&closest=true", "", nil)
	var closest RaycastResponse
	require.NoError(t, json.Unmarshal(env.Data, &closest))
	require.Len(t, closest.Hits, 1)
	assert.Equal(t, near.ID, closest.Hits[0].ID)
	assert.InDelta(t, 7.7/40, closest.Hits[0].T, 1e-6)

	_, env = request(t, rs.Handler(), http.MethodGet, "/api/raycast?origin=0,11,8&dir=40,0,0&closest=true&except="+strconv.FormatUint(near.ID, 10), "", nil)
	require.NoError(t, json.Unmarshal(env.Data, &closest))
	require.Len(t, closest.Hits, 1)
	assert.Equal(t, far.ID, closest.Hits[0].ID)

	w, _ = request(t, rs.Handler(), http.MethodGet, "/api/raycast?origin=0,11,8", "", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, _ = request(t, rs.Handler(), http.MethodGet, "/api/raycast?origin=0,11,8&dir=1e9,0,0", "", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code, "слишком длинный луч")
}

func TestRaycastSkipsObjectsWithoutBody(t *testing.T) {
	s := newTestSim(t)
	near := spawn(t, s, 8, 8)
	// Объект мира без сущности с ID между near и far
	orphan := physics.NewObject(1, physics.NewBoxVolume(physics.NewAABB(
		vec.Vec3Float{X: 15, Y: 12, Z: 8.5}, vec.Vec3Float{X: 14, Y: 10, Z: 7.5})), physics.Passthrough())
	require.NoError(t, s.World().InitObjectMapping(orphan))
	far := spawn(t, s, 20, 8)
	rs := newServer(t, Config{Sim: s})

	w, env := request(t, rs.Handler(), http.MethodGet, "/api/raycast?origin=0,11,8&dir=40,0,0", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var got RaycastResponse
	require.NoError(t, json.Unmarshal(env.Data, &got))
	require.Len(t, got.Hits, 2)
	assert.Equal(t, near.ID, got.Hits[0].ID)
	assert.InDelta(t, 7.7/40, got.Hits[0].T, 1e-6)
	assert.Equal(t, far.ID, got.Hits[1].ID)
	assert.InDelta(t, 19.7/40, got.Hits[1].T, 1e-6, "параметр считается для своего объекта")
}

func TestSurface(t *testing.T) {
	rs := newServer(t, Config{Sim: newTestSim(t)})

	w, env := request(t, rs.Handler(), http.MethodGet, "/api/surface?x=3&z=-5", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var got struct {
		Y float64 `json:"y"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &got))
	assert.Equal(t, float64(groundY), got.Y)

	w, _ = request(t, rs.Handler(), http.MethodGet, "/api/surface?x=1000&z=0", "", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w, _ = request(t, rs.Handler(), http.MethodGet, "/api/surface?x=a&z=0", "", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestWritesDisabledWithoutOperators(t *testing.T) {
	rs := newServer(t, Config{Sim: newTestSim(t)})

	w, _ := request(t, rs.Handler(), http.MethodPost, "/api/auth/login", "", LoginRequest{Username: "a", Password: "b"})
	assert.Equal(t, http.StatusNotFound, w.Code)

	w, _ = request(t, rs.Handler(), http.MethodPost, "/api/objects", "", SpawnRequest{Type: "player"})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func writableServer(t *testing.T) (*RestServer, *sim.Simulation) {
	t.Helper()
	authority, err := auth.NewTokenAuthority("", time.Hour)
	require.NoError(t, err)

	operators := auth.NewOperatorStore()
	for _, op := range []struct {
		name  string
		admin bool
	}{{"root", true}, {"viewer", false}} {
		hash, err := auth.HashPassword(op.name + "-pass")
		require.NoError(t, err)
		require.NoError(t, operators.Add(auth.Operator{Username: op.name, PasswordHash: hash, IsAdmin: op.admin}))
	}

	s := newTestSim(t)
	return newServer(t, Config{Sim: s, Authority: authority, Operators: operators}), s
}

func login(t *testing.T, h http.Handler, user string) string {
	t.Helper()
	w := httptest.NewRecorder()
	body, _ := json.Marshal(LoginRequest{Username: user, Password: user + "-pass"})
	req := httptest.NewRequest(http.MethodPost, "/api/auth/login", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	h.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	var resp LoginResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.True(t, resp.Success)
	return resp.Token
}

func TestLogin(t *testing.T) {
	rs, _ := writableServer(t)

	w, _ := request(t, rs.Handler(), http.MethodPost, "/api/auth/login", "", LoginRequest{Username: "root", Password: "wrong"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w, _ = request(t, rs.Handler(), http.MethodPost, "/api/auth/login", "", map[string]string{"username": "root"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	assert.NotEmpty(t, login(t, rs.Handler(), "ROOT"))
}

func TestSpawnAndCommandsRequireToken(t *testing.T) {
	rs, s := writableServer(t)
	token := login(t, rs.Handler(), "viewer")

	req := SpawnRequest{Key: "npc-1", Type: "player", Position: vec.Vec3Float{X: 8, Y: groundY, Z: 8}}
	w, _ := request(t, rs.Handler(), http.MethodPost, "/api/objects", "", req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w, _ = request(t, rs.Handler(), http.MethodPost, "/api/objects", "garbage", req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w, env := request(t, rs.Handler(), http.MethodPost, "/api/objects", token, req)
	require.Equal(t, http.StatusCreated, w.Code)
	var info sim.BodyInfo
	require.NoError(t, json.Unmarshal(env.Data, &info))
	assert.Equal(t, "npc-1", info.Key)

	w, _ = request(t, rs.Handler(), http.MethodPost, "/api/objects", token, req)
	assert.Equal(t, http.StatusConflict, w.Code)

	w, _ = request(t, rs.Handler(), http.MethodPost, "/api/objects", token, SpawnRequest{Type: "dragon"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, _ = request(t, rs.Handler(), http.MethodPost, "/api/objects", token,
		SpawnRequest{Type: "projectile", Position: vec.Vec3Float{X: 8, Y: groundY, Z: 8}, Velocity: vec.Vec3Float{X: 1e9}})
	assert.Equal(t, http.StatusBadRequest, w.Code, "скорость больше предела силы")

	w, _ = request(t, rs.Handler(), http.MethodPost, objectPath(info.ID, "/force"), token, VectorRequest{Vector: vec.Vec3Float{X: 0.5}})
	assert.Equal(t, http.StatusAccepted, w.Code)
	assert.Equal(t, 1, s.Stats().PendingCommands)

	w, _ = request(t, rs.Handler(), http.MethodPost, objectPath(info.ID, "/force"), token, VectorRequest{Vector: vec.Vec3Float{Y: 100}})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, _ = request(t, rs.Handler(), http.MethodPost, objectPath(999999999, "/teleport"), token, VectorRequest{Vector: vec.Vec3Float{X: 1}})
	assert.Equal(t, http.StatusNotFound, w.Code)

	w, _ = request(t, rs.Handler(), http.MethodPost, objectPath(info.ID, "/teleport"), token, VectorRequest{Vector: vec.Vec3Float{X: 3, Y: groundY, Z: 3}})
	assert.Equal(t, http.StatusAccepted, w.Code)

	s.Tick(context.Background())
	got, ok := s.Body(info.ID)
	require.True(t, ok)
	assert.InDelta(t, 3, got.Position.X, 1e-6)
}

func TestDespawnRequiresAdmin(t *testing.T) {
	rs, s := writableServer(t)
	info := spawn(t, s, 8, 8)

	viewer := login(t, rs.Handler(), "viewer")
	w, _ := request(t, rs.Handler(), http.MethodDelete, objectPath(info.ID, ""), viewer, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	root := login(t, rs.Handler(), "root")
	w, _ = request(t, rs.Handler(), http.MethodDelete, objectPath(info.ID, ""), root, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	_, ok := s.Body(info.ID)
	assert.False(t, ok)

	w, _ = request(t, rs.Handler(), http.MethodDelete, objectPath(info.ID, ""), root, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestMetricsRoute(t *testing.T) {
	reg := prometheus.NewRegistry()
	rs := newServer(t, Config{Sim: newTestSim(t), Registry: reg})

	request(t, rs.Handler(), http.MethodGet, "/api/stats", "", nil)
	w, _ := request(t, rs.Handler(), http.MethodGet, "/metrics", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "physics_api_http_request_duration_seconds")
}
