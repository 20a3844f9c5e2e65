package api

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/annel0/mmo-physics/internal/auth"
	"github.com/annel0/mmo-physics/internal/eventbus"
	"github.com/annel0/mmo-physics/internal/physics"
	"github.com/annel0/mmo-physics/internal/sim"
	"github.com/annel0/mmo-physics/internal/vec"
)

// StatsResponse - содержимое /api/stats
type StatsResponse struct {
	Simulation sim.Stats       `json:"simulation"`
	Process    ProcessStats    `json:"process"`
	EventBus   *eventbus.Stats `json:"event_bus,omitempty"`
}

// maxQuerySpan ограничивает протяжённость коробки поиска и луча по каждой оси (в блоках)
const maxQuerySpan = 4096.0

// RaycastResponse - результат /api/raycast
type RaycastResponse struct {
	Hits []RayHit `json:"hits"`
}

// RayHit - объект на луче и параметр t точки входа
type RayHit struct {
	sim.BodyInfo
	T float64 `json:"t"`
}

// LoginRequest представляет запрос на вход
type LoginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// LoginResponse представляет ответ на вход
type LoginResponse struct {
	Success bool   `json:"success"`
	Token   string `json:"token,omitempty"`
	Message string `json:"message"`
	IsAdmin bool   `json:"is_admin,omitempty"`
}

// SpawnRequest - тело POST /api/objects
type SpawnRequest struct {
	Key      string        `json:"key"`
	Type     string        `json:"type" binding:"required"`
	Position vec.Vec3Float `json:"position"`
	Velocity vec.Vec3Float `json:"velocity"`
}

// VectorRequest - тело запросов силы и телепорта
type VectorRequest struct {
	Vector vec.Vec3Float `json:"vector"`
}

func fail(c *gin.Context, status int, format string, args ...interface{}) {
	c.JSON(status, GenericResponse{Success: false, Message: fmt.Sprintf(format, args...)})
}

func ok(c *gin.Context, status int, message string, data interface{}) {
	c.JSON(status, GenericResponse{Success: true, Message: message, Data: data})
}

// parseVec разбирает "x,y,z"
func parseVec(s string) (vec.Vec3Float, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 3 {
		return vec.Vec3Float{}, fmt.Errorf("ожидалось x,y,z, получено %q", s)
	}
	var out [3]float64
	for i, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return vec.Vec3Float{}, fmt.Errorf("координата %q: %w", p, err)
		}
		out[i] = f
	}
	v := vec.Vec3Float{X: out[0], Y: out[1], Z: out[2]}
	if !v.IsFinite() {
		return vec.Vec3Float{}, fmt.Errorf("нечисловой вектор %q", s)
	}
	return v, nil
}

func queryVec(c *gin.Context, name string) (vec.Vec3Float, bool) {
	v, err := parseVec(c.Query(name))
	if err != nil {
		fail(c, http.StatusBadRequest, "параметр %s: %v", name, err)
		return vec.Vec3Float{}, false
	}
	return v, true
}

func queryBool(c *gin.Context, name string) (bool, bool) {
	raw := c.Query(name)
	if raw == "" {
		return false, true
	}
	b, err := strconv.ParseBool(raw)
	if err != nil {
		fail(c, http.StatusBadRequest, "параметр %s: %v", name, err)
		return false, false
	}
	return b, true
}

func paramID(c *gin.Context) (uint64, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		fail(c, http.StatusBadRequest, "неверный id %q", c.Param("id"))
		return 0, false
	}
	return id, true
}

func (rs *RestServer) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"ticks":  rs.sim.Stats().Ticks,
		"time":   time.Now().Unix(),
	})
}

// handleStats отдаёт статистику симуляции, процесса и шины событий
func (rs *RestServer) handleStats(c *gin.Context) {
	resp := StatsResponse{
		Simulation: rs.sim.Stats(),
		Process:    rs.metrics.Snapshot(),
	}
	if rs.bus != nil {
		busStats := rs.bus.Metrics()
		resp.EventBus = &busStats
	}
	ok(c, http.StatusOK, "Статистика получена", resp)
}

// handleSearchObjects: без min/max - все сущности, иначе поиск по коробке.
// strict=true оставляет только объекты, пересекающие коробку.
func (rs *RestServer) handleSearchObjects(c *gin.Context) {
	if c.Query("min") == "" && c.Query("max") == "" {
		ok(c, http.StatusOK, "Все объекты", rs.sim.Bodies())
		return
	}

	lo, valid := queryVec(c, "min")
	if !valid {
		return
	}
	hi, valid := queryVec(c, "max")
	if !valid {
		return
	}
	strict, valid := queryBool(c, "strict")
	if !valid {
		return
	}
	if hi.X < lo.X || hi.Y < lo.Y || hi.Z < lo.Z {
		fail(c, http.StatusBadRequest, "max должен быть не меньше min по каждой оси")
		return
	}
	if absMax(hi.Sub(lo)) > maxQuerySpan {
		fail(c, http.StatusBadRequest, "коробка шире %.0f блоков", maxQuerySpan)
		return
	}

	box := physics.NewAABB(hi, lo)
	found := rs.sim.World().SearchObjects(physics.NewBoxVolume(box), strict, nil)
	ok(c, http.StatusOK, fmt.Sprintf("Найдено объектов: %d", len(found)), rs.sim.Describe(found))
}

func (rs *RestServer) handleGetObject(c *gin.Context) {
	id, valid := paramID(c)
	if !valid {
		return
	}
	info, found := rs.sim.Body(id)
	if !found {
		fail(c, http.StatusNotFound, "объект %d не найден", id)
		return
	}
	ok(c, http.StatusOK, "Объект найден", info)
}

// handleRaycast ищет объекты на отрезке [origin, origin+dir].
// closest=true возвращает только ближайший, except исключает объект по id.
func (rs *RestServer) handleRaycast(c *gin.Context) {
	origin, valid := queryVec(c, "origin")
	if !valid {
		return
	}
	dir, valid := queryVec(c, "dir")
	if !valid {
		return
	}
	closest, valid := queryBool(c, "closest")
	if !valid {
		return
	}
	if absMax(dir) > maxQuerySpan {
		fail(c, http.StatusBadRequest, "луч длиннее %.0f блоков по оси", maxQuerySpan)
		return
	}

	world := rs.sim.World()
	var objs []*physics.Object
	if closest {
		var except *physics.Object
		if raw := c.Query("except"); raw != "" {
			id, err := strconv.ParseUint(raw, 10, 64)
			if err != nil {
				fail(c, http.StatusBadRequest, "неверный except %q", raw)
				return
			}
			except, _ = world.Object(id)
		}
		if obj := world.SearchClosestObject(origin, dir, except); obj != nil {
			objs = append(objs, obj)
		}
	} else {
		objs = world.SearchObjectsOnRay(origin, dir)
	}

	resp := RaycastResponse{Hits: make([]RayHit, 0, len(objs))}
	for _, obj := range objs {
		// Объект без сущности (например, удалённый после запроса к миру) пропускается
		info, found := rs.sim.Body(obj.ID())
		if !found {
			continue
		}
		resp.Hits = append(resp.Hits, RayHit{
			BodyInfo: info,
			T:        obj.BoundingVolume().TestRayIntersection(origin, dir),
		})
	}
	ok(c, http.StatusOK, fmt.Sprintf("Попаданий: %d", len(resp.Hits)), resp)
}

// handleSurface возвращает высоту поверхности в колонке x,z
func (rs *RestServer) handleSurface(c *gin.Context) {
	x, errX := strconv.Atoi(c.Query("x"))
	z, errZ := strconv.Atoi(c.Query("z"))
	if errX != nil || errZ != nil {
		fail(c, http.StatusBadRequest, "нужны целые x и z")
		return
	}
	y, found := rs.sim.Blocks().SurfaceY(x, z)
	if !found {
		fail(c, http.StatusNotFound, "колонка %d,%d не загружена или пуста", x, z)
		return
	}
	ok(c, http.StatusOK, "Поверхность найдена", gin.H{"x": x, "z": z, "y": y})
}

// handleLogin обменивает пароль оператора на токен
func (rs *RestServer) handleLogin(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, LoginResponse{Message: "Неверный формат запроса"})
		return
	}

	op, err := rs.operators.Authenticate(req.Username, req.Password)
	if errors.Is(err, auth.ErrInvalidCredentials) {
		rs.logger.Warn("Неудачный вход оператора %q с %s", req.Username, c.ClientIP())
		c.JSON(http.StatusUnauthorized, LoginResponse{Message: "Неверное имя пользователя или пароль"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, LoginResponse{Message: "Внутренняя ошибка сервера"})
		return
	}

	token, err := rs.authority.Issue(op)
	if err != nil {
		rs.logger.Error("Не удалось выпустить токен: %v", err)
		c.JSON(http.StatusInternalServerError, LoginResponse{Message: "Внутренняя ошибка сервера"})
		return
	}

	rs.logger.Info("Оператор %s вошёл (admin=%v)", op.Username, op.IsAdmin)
	c.JSON(http.StatusOK, LoginResponse{Success: true, Token: token, Message: "Вход выполнен", IsAdmin: op.IsAdmin})
}

func (rs *RestServer) handleSpawn(c *gin.Context) {
	var req SpawnRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "Неверный формат запроса: %v", err)
		return
	}

	info, err := rs.sim.Spawn(c.Request.Context(), sim.SpawnRequest{
		Key:      req.Key,
		Type:     sim.EntityType(req.Type),
		Position: req.Position,
		Velocity: req.Velocity,
	})
	switch {
	case errors.Is(err, sim.ErrUnknownEntityType), errors.Is(err, sim.ErrInvalidSpawn):
		fail(c, http.StatusBadRequest, "%v", err)
	case errors.Is(err, sim.ErrAlreadySpawned):
		fail(c, http.StatusConflict, "%v", err)
	case err != nil:
		fail(c, http.StatusInternalServerError, "%v", err)
	default:
		ok(c, http.StatusCreated, "Объект создан", info)
	}
}

func (rs *RestServer) bindVector(c *gin.Context) (uint64, vec.Vec3Float, bool) {
	id, valid := paramID(c)
	if !valid {
		return 0, vec.Vec3Float{}, false
	}
	var req VectorRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "Неверный формат запроса: %v", err)
		return 0, vec.Vec3Float{}, false
	}
	if _, found := rs.sim.Body(id); !found {
		fail(c, http.StatusNotFound, "объект %d не найден", id)
		return 0, vec.Vec3Float{}, false
	}
	return id, req.Vector, true
}

func (rs *RestServer) commandResult(c *gin.Context, err error) {
	switch {
	case errors.Is(err, sim.ErrQueueFull), errors.Is(err, sim.ErrStopped):
		fail(c, http.StatusServiceUnavailable, "%v", err)
	case err != nil:
		fail(c, http.StatusBadRequest, "%v", err)
	default:
		ok(c, http.StatusAccepted, "Команда поставлена в очередь", nil)
	}
}

func (rs *RestServer) handleApplyForce(c *gin.Context) {
	id, force, valid := rs.bindVector(c)
	if !valid {
		return
	}
	if limit := rs.sim.Params().MaxForce; absMax(force) > limit {
		fail(c, http.StatusBadRequest, "сила вне диапазона ±%.2f", limit)
		return
	}
	rs.commandResult(c, rs.sim.ApplyForce(id, force))
}

func (rs *RestServer) handleTeleport(c *gin.Context) {
	id, pos, valid := rs.bindVector(c)
	if !valid {
		return
	}
	rs.commandResult(c, rs.sim.Teleport(id, pos))
}

func (rs *RestServer) handleDespawn(c *gin.Context) {
	id, valid := paramID(c)
	if !valid {
		return
	}
	err := rs.sim.Despawn(c.Request.Context(), id)
	switch {
	case errors.Is(err, sim.ErrObjectNotFound):
		fail(c, http.StatusNotFound, "%v", err)
	case err != nil:
		fail(c, http.StatusInternalServerError, "%v", err)
	default:
		ok(c, http.StatusOK, "Объект удалён", nil)
	}
}

func absMax(v vec.Vec3Float) float64 {
	m := 0.0
	for _, c := range [...]float64{v.X, v.Y, v.Z} {
		if c < 0 {
			c = -c
		}
		if c > m {
			m = c
		}
	}
	return m
}
