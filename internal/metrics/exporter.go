package metrics

import (
	"context"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/annel0/mmo-physics/internal/eventbus"
	"github.com/annel0/mmo-physics/internal/sim"
)

// StatsSource отдаёт снимок статистики симуляции
type StatsSource interface {
	Stats() sim.Stats
}

// Exporter публикует статистику симуляции и шины событий в Prometheus.
// Тики учитываются через ObserveTick, остальное опрашивается раз в интервал.
type Exporter struct {
	tickDuration prometheus.Histogram
	ticks        prometheus.Counter
	commands     prometheus.Counter
	rejected     prometheus.Counter
	landings     prometheus.Counter

	objects      prometheus.Gauge
	cells        prometheus.Gauge
	loadedChunks prometheus.Gauge
	pending      prometheus.Gauge
	busInFlight  prometheus.Gauge
	busSubs      prometheus.Gauge

	sweeps       prometheus.Counter
	contacts     prometheus.Counter
	stepUps      prometheus.Counter
	queries      prometheus.Counter
	obstacleQs   prometheus.Counter
	unloadedHits prometheus.Counter
	chunkLoads   *prometheus.CounterVec
	chunksSaved  prometheus.Counter
	busEvents    *prometheus.CounterVec

	mu      sync.Mutex
	lastSim sim.Stats
	lastBus eventbus.Stats
}

// NewExporter создаёт метрики и регистрирует их в reg
func NewExporter(reg prometheus.Registerer, namespace string) *Exporter {
	counter := func(name, help string) prometheus.Counter {
		return prometheus.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: name, Help: help})
	}
	gauge := func(name, help string) prometheus.Gauge {
		return prometheus.NewGauge(prometheus.GaugeOpts{Namespace: namespace, Name: name, Help: help})
	}

	e := &Exporter{
		tickDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "tick_duration_seconds",
			Help:      "Длительность тика симуляции.",
			Buckets:   []float64{0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1},
		}),
		ticks:    counter("ticks_total", "Выполненные тики."),
		commands: counter("commands_applied_total", "Применённые команды (силы, телепорты)."),
		rejected: counter("commands_rejected_total", "Отклонённые команды."),
		landings: counter("landings_total", "Приземления объектов."),

		objects:      gauge("objects", "Объекты в физическом мире."),
		cells:        gauge("grid_cells", "Непустые ячейки пространственной сетки."),
		loadedChunks: gauge("loaded_chunks", "Загруженные чанки блокового мира."),
		pending:      gauge("pending_commands", "Команды в очереди."),
		busInFlight:  gauge("eventbus_inflight", "События в очереди и ящиках подписчиков."),
		busSubs:      gauge("eventbus_subscribers", "Подписчики шины."),

		sweeps:       counter("terrain_sweeps_total", "Проверки движения против рельефа."),
		contacts:     counter("terrain_contacts_total", "Столкновения с рельефом."),
		stepUps:      counter("terrain_step_ups_total", "Подъёмы на уступ."),
		queries:      counter("spatial_queries_total", "Пространственные запросы к миру."),
		obstacleQs:   counter("obstacle_queries_total", "Запросы препятствий к блоковому миру."),
		unloadedHits: counter("obstacle_unloaded_hits_total", "Запросы препятствий, задевшие незагруженный чанк."),
		chunkLoads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chunk_loads_total",
			Help:      "Загрузки чанков по источнику.",
		}, []string{"source"}),
		chunksSaved: counter("chunks_saved_total", "Сохранённые чанки."),
		busEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "eventbus_events_total",
			Help:      "События шины по результату.",
		}, []string{"result"}),
	}

	reg.MustRegister(
		e.tickDuration, e.ticks, e.commands, e.rejected, e.landings,
		e.objects, e.cells, e.loadedChunks, e.pending, e.busInFlight, e.busSubs,
		e.sweeps, e.contacts, e.stepUps, e.queries, e.obstacleQs, e.unloadedHits,
		e.chunkLoads, e.chunksSaved, e.busEvents,
	)
	return e
}

// ObserveTick учитывает отчёт тика; подходит как sim.TickObserver
func (e *Exporter) ObserveTick(r sim.TickReport) {
	e.tickDuration.Observe(r.Duration.Seconds())
	e.ticks.Inc()
	e.commands.Add(float64(r.Commands))
	e.rejected.Add(float64(r.Rejected))
	e.landings.Add(float64(r.Landings))
}

// Collect снимает статистику и добавляет к счётчикам прирост с прошлого вызова
func (e *Exporter) Collect(src StatsSource, bus eventbus.EventBus) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if src != nil {
		s := src.Stats()
		e.objects.Set(float64(s.Physics.Objects))
		e.cells.Set(float64(s.Physics.Cells))
		e.loadedChunks.Set(float64(s.Blocks.LoadedChunks))
		e.pending.Set(float64(s.PendingCommands))

		addDelta(e.sweeps, s.Terrain.Sweeps, e.lastSim.Terrain.Sweeps)
		addDelta(e.contacts, s.Terrain.Contacts, e.lastSim.Terrain.Contacts)
		addDelta(e.stepUps, s.Terrain.StepUps, e.lastSim.Terrain.StepUps)
		addDelta(e.queries, s.Physics.Queries, e.lastSim.Physics.Queries)
		addDelta(e.obstacleQs, s.Blocks.Queries, e.lastSim.Blocks.Queries)
		addDelta(e.unloadedHits, s.Blocks.UnloadedHits, e.lastSim.Blocks.UnloadedHits)
		addDelta(e.chunkLoads.WithLabelValues("generated"), s.Blocks.Generated, e.lastSim.Blocks.Generated)
		addDelta(e.chunkLoads.WithLabelValues("store"), s.Blocks.FromStore, e.lastSim.Blocks.FromStore)
		addDelta(e.chunksSaved, s.Blocks.Saved, e.lastSim.Blocks.Saved)
		e.lastSim = s
	}

	if bus != nil {
		b := bus.Metrics()
		e.busInFlight.Set(float64(b.InFlight))
		e.busSubs.Set(float64(b.Subscribers))
		addDelta(e.busEvents.WithLabelValues("published"), b.Published, e.lastBus.Published)
		addDelta(e.busEvents.WithLabelValues("consumed"), b.Consumed, e.lastBus.Consumed)
		addDelta(e.busEvents.WithLabelValues("dropped"), b.Dropped, e.lastBus.Dropped)
		e.lastBus = b
	}
}

// Run опрашивает статистику с периодом interval до отмены ctx
func (e *Exporter) Run(ctx context.Context, interval time.Duration, src StatsSource, bus eventbus.EventBus) {
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.Collect(src, bus)
		}
	}
}

func addDelta(c prometheus.Counter, cur, prev uint64) {
	if cur > prev {
		c.Add(float64(cur - prev))
	}
}
