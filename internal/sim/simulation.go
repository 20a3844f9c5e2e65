package sim

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/annel0/mmo-physics/internal/eventbus"
	"github.com/annel0/mmo-physics/internal/logging"
	"github.com/annel0/mmo-physics/internal/observability"
	"github.com/annel0/mmo-physics/internal/physics"
	"github.com/annel0/mmo-physics/internal/storage"
	"github.com/annel0/mmo-physics/internal/vec"
	"github.com/annel0/mmo-physics/internal/world"
)

var (
	ErrUnknownEntityType = errors.New("unknown entity type")
	ErrAlreadySpawned    = errors.New("object key already spawned")
	ErrObjectNotFound    = errors.New("object not found")
	ErrQueueFull         = errors.New("command queue full")
	ErrStopped           = errors.New("simulation stopped")
	ErrInvalidSpawn      = errors.New("invalid spawn request")
)

const eventSource = "sim"

// Config - параметры симуляции
type Config struct {
	Params        physics.Params
	CommandQueue  int
	PreloadRadius int
}

// SpawnRequest описывает добавляемую сущность.
// Если Key задан и для него есть снимок, позиция и скорость берутся из снимка.
type SpawnRequest struct {
	Key      string
	Type     EntityType
	Position vec.Vec3Float
	Velocity vec.Vec3Float
}

// Body - сущность симуляции: физическое тело и его метаданные
type Body struct {
	Object    *physics.Object
	Key       string
	Archetype Archetype

	chunk vec.Vec2
}

// BodyInfo - снимок сущности для чтения извне тика
type BodyInfo struct {
	ID       uint64        `json:"id"`
	Key      string        `json:"key,omitempty"`
	Type     EntityType    `json:"type"`
	Position vec.Vec3Float `json:"position"`
	Velocity vec.Vec3Float `json:"velocity"`
	Box      *physics.AABB `json:"box,omitempty"`
}

// TickReport - итог одного тика
type TickReport struct {
	Number   uint64
	Duration time.Duration
	Objects  int
	Commands int
	Landings int
	Rejected int
}

// TickObserver получает отчёт после каждого тика в потоке симуляции
type TickObserver func(TickReport)

// Stats - снимок состояния симуляции
type Stats struct {
	Ticks           uint64               `json:"ticks"`
	Bodies          int                  `json:"bodies"`
	PendingCommands int                  `json:"pending_commands"`
	LastTickMicros  int64                `json:"last_tick_us"`
	Physics         physics.WorldStats   `json:"physics"`
	Terrain         physics.TerrainStats `json:"terrain"`
	Blocks          world.WorldStats     `json:"blocks"`
}

type commandKind uint8

const (
	cmdForce commandKind = iota
	cmdTeleport
	cmdNoGravity
)

type command struct {
	kind  commandKind
	id    uint64
	value vec.Vec3Float
	flag  bool
}

// Simulation ведёт тик-цикл физического мира поверх блокового мира.
// Силы и телепорты из других горутин идут через очередь команд
// и применяются в начале тика.
type Simulation struct {
	cfg     Config
	world   *physics.World
	terrain *physics.Terrain
	blocks  *world.BlockWorld
	repo    storage.PositionRepo
	bus     eventbus.EventBus
	logger  *logging.Logger
	tracer  trace.Tracer

	commands chan command

	mu     sync.RWMutex
	bodies map[uint64]*Body
	byKey  map[string]uint64

	observersMu sync.RWMutex
	observers   []TickObserver

	tickMu   sync.Mutex
	ticks    atomic.Uint64
	lastTick atomic.Int64
	stopped  atomic.Bool
}

// NewSimulation создаёт симуляцию. repo и bus могут быть nil.
func NewSimulation(cfg Config, blocks *world.BlockWorld, repo storage.PositionRepo, bus eventbus.EventBus, logger *logging.Logger) *Simulation {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	if cfg.CommandQueue <= 0 {
		cfg.CommandQueue = 1024
	}
	cfg.Params = cfg.Params.Normalize()

	return &Simulation{
		cfg:      cfg,
		world:    physics.NewWorld(cfg.Params),
		terrain:  physics.NewTerrain(blocks, cfg.Params),
		blocks:   blocks,
		repo:     repo,
		bus:      bus,
		logger:   logger,
		tracer:   observability.Tracer(),
		commands: make(chan command, cfg.CommandQueue),
		bodies:   make(map[uint64]*Body),
		byKey:    make(map[string]uint64),
	}
}

func (s *Simulation) World() *physics.World     { return s.world }
func (s *Simulation) Terrain() *physics.Terrain { return s.terrain }
func (s *Simulation) Blocks() *world.BlockWorld { return s.blocks }
func (s *Simulation) Params() physics.Params    { return s.cfg.Params }

// AddObserver подписывает наблюдателя на отчёты тиков
func (s *Simulation) AddObserver(o TickObserver) {
	s.observersMu.Lock()
	s.observers = append(s.observers, o)
	s.observersMu.Unlock()
}

// Spawn добавляет сущность в мир и догружает чанки вокруг неё
func (s *Simulation) Spawn(ctx context.Context, req SpawnRequest) (BodyInfo, error) {
	ctx, span := s.tracer.Start(ctx, "sim.spawn", trace.WithAttributes(
		attribute.String("entity.type", string(req.Type)),
		attribute.String("entity.key", req.Key),
	))
	defer span.End()

	arch, err := ArchetypeOf(req.Type)
	if err != nil {
		return BodyInfo{}, err
	}
	if !req.Position.IsFinite() || !req.Velocity.IsFinite() {
		return BodyInfo{}, fmt.Errorf("%w %q: non-finite position or velocity", ErrInvalidSpawn, req.Key)
	}
	// Начальная скорость ограничена так же, как сила в ApplyForce
	limit := s.cfg.Params.MaxForce
	for _, c := range [...]float64{req.Velocity.X, req.Velocity.Y, req.Velocity.Z} {
		if c < -limit || c > limit {
			return BodyInfo{}, fmt.Errorf("%w %q: velocity %+v outside ±%.3f", ErrInvalidSpawn, req.Key, req.Velocity, limit)
		}
	}

	if req.Key != "" {
		s.mu.RLock()
		_, exists := s.byKey[req.Key]
		s.mu.RUnlock()
		if exists {
			return BodyInfo{}, fmt.Errorf("%w: %q", ErrAlreadySpawned, req.Key)
		}
	}

	restored := false
	if req.Key != "" && s.repo != nil {
		snap, found, err := s.repo.Load(ctx, req.Key)
		if err != nil {
			span.RecordError(err)
			return BodyInfo{}, fmt.Errorf("spawn %q: %w", req.Key, err)
		}
		if found {
			req.Position, req.Velocity = snap.Position, snap.Velocity
			restored = true
		}
	}

	if err := s.preload(ctx, req.Position); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return BodyInfo{}, fmt.Errorf("spawn %q: preload: %w", req.Key, err)
	}

	obj := arch.NewObject(req.Position, req.Velocity, s.cfg.Params)
	body := &Body{
		Object:    obj,
		Key:       req.Key,
		Archetype: arch,
		chunk:     chunkOf(req.Position),
	}

	s.mu.Lock()
	if req.Key != "" {
		if _, exists := s.byKey[req.Key]; exists {
			s.mu.Unlock()
			return BodyInfo{}, fmt.Errorf("%w: %q", ErrAlreadySpawned, req.Key)
		}
		s.byKey[req.Key] = obj.ID()
	}
	s.bodies[obj.ID()] = body
	s.mu.Unlock()

	if err := s.world.InitObjectMapping(obj); err != nil {
		s.forget(body)
		return BodyInfo{}, err
	}

	span.SetAttributes(attribute.Int64("object.id", int64(obj.ID())), attribute.Bool("restored", restored))
	s.logger.Debug("Spawn %s key=%q type=%s pos=%+v restored=%v", obj, req.Key, arch.Type, req.Position, restored)
	s.publish(ctx, eventbus.TypeObjectSpawned, eventbus.PriorityNormal, eventbus.ObjectSpawned{
		ObjectID: obj.ID(),
		Key:      req.Key,
		Kind:     string(arch.Type),
		Position: req.Position,
		Restored: restored,
	})
	return body.info(), nil
}

// Despawn убирает сущность из мира. Снимок сущности с ключом сохраняется в репозиторий.
func (s *Simulation) Despawn(ctx context.Context, id uint64) error {
	ctx, span := s.tracer.Start(ctx, "sim.despawn", trace.WithAttributes(attribute.Int64("object.id", int64(id))))
	defer span.End()

	s.mu.RLock()
	body, ok := s.bodies[id]
	s.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %d", ErrObjectNotFound, id)
	}

	// Тик не должен двигать объект между снимком и удалением
	s.tickMu.Lock()
	err := s.world.CloseObjectMapping(body.Object)
	s.forget(body)
	s.tickMu.Unlock()
	if err != nil {
		return err
	}

	saved := false
	if body.Key != "" && s.repo != nil {
		if err := s.repo.Save(ctx, body.snapshot(time.Now())); err != nil {
			span.RecordError(err)
			s.logger.Error("Не удалось сохранить снимок %q: %v", body.Key, err)
			return fmt.Errorf("despawn %d: %w", id, err)
		}
		saved = true
	}

	s.logger.Debug("Despawn %s key=%q saved=%v", body.Object, body.Key, saved)
	s.publish(ctx, eventbus.TypeObjectDespawned, eventbus.PriorityHigh, eventbus.ObjectDespawned{
		ObjectID: id,
		Key:      body.Key,
		Kind:     string(body.Archetype.Type),
		Position: body.Object.Position(),
		Saved:    saved,
	})
	return nil
}

func (s *Simulation) forget(body *Body) {
	s.mu.Lock()
	delete(s.bodies, body.Object.ID())
	if body.Key != "" {
		delete(s.byKey, body.Key)
	}
	s.mu.Unlock()
}

// ApplyForce ставит силу в очередь команд
func (s *Simulation) ApplyForce(id uint64, f vec.Vec3Float) error {
	if !f.IsFinite() {
		return fmt.Errorf("object %d: %w", id, physics.ErrInvalidForce)
	}
	return s.submit(command{kind: cmdForce, id: id, value: f})
}

// Teleport ставит перенос сущности ногами в feet в очередь команд
func (s *Simulation) Teleport(id uint64, feet vec.Vec3Float) error {
	if !feet.IsFinite() {
		return fmt.Errorf("teleport %d: non-finite position", id)
	}
	return s.submit(command{kind: cmdTeleport, id: id, value: feet})
}

// SetNoGravity ставит переключение гравитации в очередь команд
func (s *Simulation) SetNoGravity(id uint64, noGravity bool) error {
	return s.submit(command{kind: cmdNoGravity, id: id, flag: noGravity})
}

func (s *Simulation) submit(cmd command) error {
	if s.stopped.Load() {
		return ErrStopped
	}
	select {
	case s.commands <- cmd:
		return nil
	default:
		return ErrQueueFull
	}
}

// drainCommands применяет накопленные команды. Возвращает число применённых и отклонённых.
func (s *Simulation) drainCommands() (applied, rejected int) {
	for {
		select {
		case cmd := <-s.commands:
			if err := s.apply(cmd); err != nil {
				rejected++
				s.logger.Warn("Команда отклонена: %v", err)
				continue
			}
			applied++
		default:
			return applied, rejected
		}
	}
}

func (s *Simulation) apply(cmd command) error {
	s.mu.RLock()
	body, ok := s.bodies[cmd.id]
	s.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %d", ErrObjectNotFound, cmd.id)
	}

	switch cmd.kind {
	case cmdForce:
		return body.Object.ApplyForce(cmd.value)
	case cmdTeleport:
		body.Object.Teleport(body.Archetype.Volume(cmd.value))
		return s.world.UpdateObjectMapping(body.Object)
	case cmdNoGravity:
		body.Object.SetNoGravity(cmd.flag)
		return nil
	default:
		panic(fmt.Sprintf("sim: unknown command kind %d", cmd.kind))
	}
}

// Tick выполняет один шаг симуляции длительностью Params.TickDuration
func (s *Simulation) Tick(ctx context.Context) TickReport {
	s.tickMu.Lock()
	defer s.tickMu.Unlock()

	start := time.Now()
	number := s.ticks.Add(1)
	ctx, span := s.tracer.Start(ctx, "physics.tick", trace.WithAttributes(attribute.Int64("tick", int64(number))))
	defer span.End()

	applied, rejected := s.drainCommands()

	bodies := s.snapshotBodies()
	falling := make(map[uint64]float64, len(bodies))
	for _, b := range bodies {
		if v := b.Object.Velocity(); v.Y < 0 {
			falling[b.Object.ID()] = v.Y
		}
	}

	s.world.Step(s.terrain, s.cfg.Params.TickDuration)

	landings := 0
	for _, b := range bodies {
		pos := b.Object.Position()
		if c := chunkOf(pos); c != b.chunk {
			b.chunk = c
			if err := s.preload(ctx, pos); err != nil {
				s.logger.Warn("Не удалось загрузить чанки вокруг %s: %v", b.Object, err)
				span.RecordError(err)
			}
		}

		vy, wasFalling := falling[b.Object.ID()]
		if wasFalling && b.Object.Velocity().Y == 0 && b.Archetype.OccupiesSpace() {
			landings++
			s.publish(ctx, eventbus.TypeObjectLanded, eventbus.PriorityLow, eventbus.ObjectLanded{
				ObjectID:   b.Object.ID(),
				Position:   pos,
				FallSpeed:  -vy,
				TickNumber: number,
			})
		}
	}

	report := TickReport{
		Number:   number,
		Duration: time.Since(start),
		Objects:  len(bodies),
		Commands: applied,
		Landings: landings,
		Rejected: rejected,
	}
	s.lastTick.Store(int64(report.Duration))
	span.SetAttributes(
		attribute.Int("objects", report.Objects),
		attribute.Int("commands", report.Commands),
		attribute.Int("landings", report.Landings),
	)

	s.observersMu.RLock()
	for _, o := range s.observers {
		o(report)
	}
	s.observersMu.RUnlock()

	if report.Duration > s.cfg.Params.TickDuration {
		s.logger.Warn("Тик %d занял %v при бюджете %v", number, report.Duration, s.cfg.Params.TickDuration)
	}
	return report
}

// Run крутит тики с периодом Params.TickDuration до отмены ctx.
// При остановке сохраняет снимки всех сущностей с ключами.
func (s *Simulation) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.Params.TickDuration)
	defer ticker.Stop()

	s.logger.Info("Симуляция запущена: тик %v, ячейка %.1f", s.cfg.Params.TickDuration, s.cfg.Params.CellWidth)
	for {
		select {
		case <-ctx.Done():
			s.stopped.Store(true)
			saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
			n, err := s.SaveAll(saveCtx)
			cancel()
			if err != nil {
				s.logger.Error("Ошибка сохранения снимков при остановке: %v", err)
				return err
			}
			s.logger.Info("Симуляция остановлена после %d тиков, сохранено снимков: %d", s.ticks.Load(), n)
			return nil
		case <-ticker.C:
			s.Tick(ctx)
		}
	}
}

// SaveAll сохраняет снимки всех сущностей с ключами одним пакетом
func (s *Simulation) SaveAll(ctx context.Context) (int, error) {
	if s.repo == nil {
		return 0, nil
	}
	now := time.Now()
	var snaps []storage.ObjectSnapshot
	for _, b := range s.snapshotBodies() {
		if b.Key != "" {
			snaps = append(snaps, b.snapshot(now))
		}
	}
	if err := s.repo.BatchSave(ctx, snaps); err != nil {
		return 0, fmt.Errorf("save all: %w", err)
	}
	return len(snaps), nil
}

// Body возвращает снимок сущности
func (s *Simulation) Body(id uint64) (BodyInfo, bool) {
	s.mu.RLock()
	body, ok := s.bodies[id]
	s.mu.RUnlock()
	if !ok {
		return BodyInfo{}, false
	}
	return body.info(), true
}

// BodyByKey ищет сущность по ключу
func (s *Simulation) BodyByKey(key string) (BodyInfo, bool) {
	s.mu.RLock()
	id, ok := s.byKey[key]
	s.mu.RUnlock()
	if !ok {
		return BodyInfo{}, false
	}
	return s.Body(id)
}

// Describe переводит объекты запроса в снимки сущностей; чужие объекты пропускаются
func (s *Simulation) Describe(objs []*physics.Object) []BodyInfo {
	out := make([]BodyInfo, 0, len(objs))
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, obj := range objs {
		if body, ok := s.bodies[obj.ID()]; ok {
			out = append(out, body.info())
		}
	}
	return out
}

// Bodies возвращает снимки всех сущностей по возрастанию ID
func (s *Simulation) Bodies() []BodyInfo {
	bodies := s.snapshotBodies()
	out := make([]BodyInfo, 0, len(bodies))
	for _, b := range bodies {
		out = append(out, b.info())
	}
	return out
}

func (s *Simulation) snapshotBodies() []*Body {
	s.mu.RLock()
	bodies := make([]*Body, 0, len(s.bodies))
	for _, b := range s.bodies {
		bodies = append(bodies, b)
	}
	s.mu.RUnlock()
	sort.Slice(bodies, func(i, j int) bool { return bodies[i].Object.ID() < bodies[j].Object.ID() })
	return bodies
}

// Stats возвращает снимок статистики симуляции и её зависимостей
func (s *Simulation) Stats() Stats {
	s.mu.RLock()
	n := len(s.bodies)
	s.mu.RUnlock()
	return Stats{
		Ticks:           s.ticks.Load(),
		Bodies:          n,
		PendingCommands: len(s.commands),
		LastTickMicros:  time.Duration(s.lastTick.Load()).Microseconds(),
		Physics:         s.world.Stats(),
		Terrain:         s.terrain.Stats(),
		Blocks:          s.blocks.Stats(),
	}
}

// preload загружает чанки в радиусе PreloadRadius вокруг pos
func (s *Simulation) preload(ctx context.Context, pos vec.Vec3Float) error {
	for _, coords := range chunkOf(pos).ChunkSquare(s.cfg.PreloadRadius) {
		if s.blocks.IsLoaded(coords) {
			continue
		}
		if _, err := s.blocks.LoadChunk(ctx, coords); err != nil {
			return err
		}
		s.publish(ctx, eventbus.TypeChunkLoaded, eventbus.PriorityLow, eventbus.ChunkLoaded{Coords: coords})
	}
	return nil
}

func (s *Simulation) publish(ctx context.Context, eventType string, priority int, payload any) {
	if s.bus == nil {
		return
	}
	ev, err := eventbus.NewEnvelope(eventType, eventSource, priority, payload)
	if err == nil {
		err = s.bus.Publish(ctx, ev)
	}
	if err != nil {
		s.logger.Warn("Событие %s не опубликовано: %v", eventType, err)
	}
}

func chunkOf(pos vec.Vec3Float) vec.Vec2 {
	return pos.Floor().ToVec2().ToChunkCoords()
}

func (b *Body) info() BodyInfo {
	volume := b.Object.BoundingVolume()
	info := BodyInfo{
		ID:       b.Object.ID(),
		Key:      b.Key,
		Type:     b.Archetype.Type,
		Position: volume.Position(),
		Velocity: b.Object.Velocity(),
	}
	if volume.OccupiesSpace() {
		box := volume.MinBoundingBox()
		info.Box = &box
	}
	return info
}

func (b *Body) snapshot(now time.Time) storage.ObjectSnapshot {
	return storage.ObjectSnapshot{
		Key:       b.Key,
		Kind:      string(b.Archetype.Type),
		ObjectID:  b.Object.ID(),
		Position:  b.Object.Position(),
		Velocity:  b.Object.Velocity(),
		UpdatedAt: now.UTC(),
	}
}
