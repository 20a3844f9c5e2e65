package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/annel0/mmo-physics/internal/auth"
	"github.com/annel0/mmo-physics/internal/eventbus"
	"github.com/annel0/mmo-physics/internal/logging"
	"github.com/annel0/mmo-physics/internal/middleware"
	"github.com/annel0/mmo-physics/internal/sim"
)

// Config содержит зависимости REST сервера
type Config struct {
	Addr        string               // адрес listener, например ":8088"
	GinMode     string               // release / debug / test
	ServiceName string               // имя для otelgin
	Sim         *sim.Simulation      // обязательна
	Bus         eventbus.EventBus    // может быть nil
	Registry    *prometheus.Registry // nil - метрики HTTP не собираются, /metrics не отдаётся
	Authority   *auth.TokenAuthority // nil или пустой Operators - изменяющие маршруты выключены
	Operators   *auth.OperatorStore
	Logger      *logging.Logger
}

// RestServer - отладочный REST API над симуляцией
type RestServer struct {
	router    *gin.Engine
	sim       *sim.Simulation
	bus       eventbus.EventBus
	authority *auth.TokenAuthority
	operators *auth.OperatorStore
	metrics   *ServerMetrics
	stream    *EventStream
	logger    *logging.Logger
	http      *http.Server
}

// GenericResponse представляет общий ответ API
type GenericResponse struct {
	Success bool        `json:"success"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// NewRestServer создает новый REST API сервер
func NewRestServer(cfg Config) (*RestServer, error) {
	if cfg.Sim == nil {
		return nil, errors.New("api: simulation is required")
	}
	if cfg.Addr == "" {
		cfg.Addr = ":8088"
	}
	if cfg.ServiceName == "" {
		cfg.ServiceName = "mmo-physics"
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.NewNopLogger()
	}
	if cfg.GinMode != "" {
		gin.SetMode(cfg.GinMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware(cfg.ServiceName))
	router.Use(middleware.NewRequestLogger(cfg.Logger).Handler())

	if cfg.Registry != nil {
		promMw := middleware.NewPrometheusMiddleware(cfg.Registry, "physics_api", "/metrics", "/health")
		router.Use(promMw.Handler())
		promMw.RegisterMetricsEndpoint(router, cfg.Registry)
	}

	rs := &RestServer{
		router:    router,
		sim:       cfg.Sim,
		bus:       cfg.Bus,
		authority: cfg.Authority,
		operators: cfg.Operators,
		metrics:   NewServerMetrics(),
		logger:    cfg.Logger,
	}
	if cfg.Bus != nil {
		rs.stream = NewEventStream(cfg.Bus, cfg.Logger)
	}
	rs.http = &http.Server{
		Addr:              cfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	rs.setupRoutes()
	return rs, nil
}

func (rs *RestServer) writesEnabled() bool {
	return rs.authority != nil && rs.operators != nil && rs.operators.Len() > 0
}

// setupRoutes настраивает маршруты REST API
func (rs *RestServer) setupRoutes() {
	rs.router.GET("/health", rs.handleHealth)

	api := rs.router.Group("/api")
	{
		api.GET("/stats", rs.handleStats)
		api.GET("/objects", rs.handleSearchObjects)
		api.GET("/objects/:id", rs.handleGetObject)
		api.GET("/raycast", rs.handleRaycast)
		api.GET("/surface", rs.handleSurface)
	}
	if rs.stream != nil {
		api.GET("/events/ws", rs.stream.HandleConnection)
	}

	if !rs.writesEnabled() {
		rs.logger.Info("Операторы не настроены: изменяющие маршруты API выключены")
		return
	}

	api.POST("/auth/login", rs.handleLogin)

	protected := api.Group("/")
	protected.Use(rs.jwtMiddleware())
	{
		protected.POST("/objects", rs.handleSpawn)
		protected.POST("/objects/:id/force", rs.handleApplyForce)
		protected.POST("/objects/:id/teleport", rs.handleTeleport)

		admin := protected.Group("/")
		admin.Use(rs.adminMiddleware())
		admin.DELETE("/objects/:id", rs.handleDespawn)
	}
}

// Handler возвращает http.Handler сервера (для тестов и встраивания)
func (rs *RestServer) Handler() http.Handler {
	return rs.router
}

// Start слушает адрес до вызова Shutdown
func (rs *RestServer) Start() error {
	rs.logger.Info("REST API слушает %s", rs.http.Addr)
	if err := rs.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("rest server: %w", err)
	}
	return nil
}

// Shutdown закрывает потоки событий и дожидается завершения активных запросов
func (rs *RestServer) Shutdown(ctx context.Context) error {
	if rs.stream != nil {
		rs.stream.Close()
	}
	return rs.http.Shutdown(ctx)
}
