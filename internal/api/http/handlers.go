package http

import (
	"errors"
	"net/http"
	"sort"
	"sync"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/ragstudio/internal/backend"
	"github.com/GriffinCanCode/ragstudio/internal/domain/events"
	"github.com/GriffinCanCode/ragstudio/internal/domain/generation"
	"github.com/GriffinCanCode/ragstudio/internal/domain/registry"
	"github.com/GriffinCanCode/ragstudio/internal/domain/session"
	"github.com/GriffinCanCode/ragstudio/internal/infrastructure/logging"
	"github.com/GriffinCanCode/ragstudio/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/ragstudio/internal/infrastructure/resilience"
)

// Version is reported by the root endpoint.
const Version = "1.0.0"

// BreakerReporter exposes the REST circuit breaker.
type BreakerReporter interface {
	Breaker() resilience.Snapshot
}

// Deps are the runtime components exposed for inspection.
type Deps struct {
	Dispatcher *events.Dispatcher
	Ingress    *events.Ingress
	Registry   *registry.Manager
	Sessions   *session.Factory
	Status     *backend.StatusCache
	Backend    BreakerReporter
	Metrics    *monitoring.Metrics
	Logger     *zap.Logger
}

// Handlers serves the diagnostics API.
type Handlers struct {
	deps   Deps
	logger *zap.Logger

	mu       sync.RWMutex
	machines map[string]*generation.Machine
}

// NewHandlers creates the handler set.
func NewHandlers(deps Deps) *Handlers {
	return &Handlers{
		deps:     deps,
		logger:   logging.OrNop(deps.Logger).Named("diagnostics"),
		machines: make(map[string]*generation.Machine),
	}
}

// TrackMachine exposes a generation machine under its resource.
func (h *Handlers) TrackMachine(resource string, m *generation.Machine) {
	h.mu.Lock()
	h.machines[resource] = m
	h.mu.Unlock()
}

// Register mounts every route on r.
func (h *Handlers) Register(r gin.IRouter) {
	r.GET("/", h.Root)
	r.GET("/health", h.Health)
	if h.deps.Metrics != nil {
		r.GET("/metrics", gin.WrapH(h.deps.Metrics.Handler()))
	}

	debug := r.Group("/debug")
	debug.GET("/dispatcher", h.Dispatcher)
	debug.GET("/registry", h.Registry)
	debug.GET("/sessions", h.Session)
	debug.GET("/generation", h.Generation)
	debug.GET("/status/:resource", h.Status)
	debug.POST("/frames", h.InjectFrame)
}

// Root identifies the service.
func (h *Handlers) Root(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "online",
		"service": "ragstudio client diagnostics",
		"version": Version,
	})
}

// Health reports aggregate runtime health.
func (h *Handlers) Health(c *gin.Context) {
	resp := gin.H{
		"status":     "healthy",
		"dispatcher": h.deps.Dispatcher.Health(),
		"registry":   h.deps.Registry.Status(),
	}
	if h.deps.Metrics != nil {
		resp["metrics"] = h.deps.Metrics.Snapshot()
	}
	if h.deps.Backend != nil {
		breaker := h.deps.Backend.Breaker()
		resp["backend"] = breaker
		if breaker.State != resilience.StateClosed {
			resp["status"] = "degraded"
		}
	}
	c.JSON(http.StatusOK, resp)
}

// Dispatcher reports per-type dispatch statistics.
func (h *Handlers) Dispatcher(c *gin.Context) {
	stats := h.deps.Dispatcher.Stats()
	byType := make(map[string]events.TypeStats, len(stats))
	for t, st := range stats {
		byType[string(t)] = st
	}

	resp := gin.H{
		"types":  h.deps.Dispatcher.Types(),
		"stats":  byType,
		"health": h.deps.Dispatcher.Health(),
	}
	if h.deps.Ingress != nil {
		resp["ingress"] = h.deps.Ingress.Stats()
	}
	c.JSON(http.StatusOK, resp)
}

// Registry reports the registry tables.
func (h *Handlers) Registry(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": h.deps.Registry.Status(),
		"scopes": h.deps.Registry.Scopes(),
	})
}

// Session reports one session's health. The scope comes from the query
// string because scopes may contain slashes.
func (h *Handlers) Session(c *gin.Context) {
	scope := c.Query("scope")
	if scope == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "scope is required"})
		return
	}
	if h.deps.Sessions == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "no session for scope"})
		return
	}

	s, ok := h.deps.Sessions.Lookup(scope)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "no session for scope"})
		return
	}
	c.JSON(http.StatusOK, s.HealthStatus())
}

// Generation lists tracked machines.
func (h *Handlers) Generation(c *gin.Context) {
	h.mu.RLock()
	views := make([]generation.View, 0, len(h.machines))
	for _, m := range h.machines {
		views = append(views, m.View())
	}
	h.mu.RUnlock()

	sort.Slice(views, func(i, j int) bool { return views[i].Resource < views[j].Resource })
	c.JSON(http.StatusOK, gin.H{"machines": views})
}

// Status returns the cached data/storage status of a resource.
func (h *Handlers) Status(c *gin.Context) {
	if h.deps.Status == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "status cache not configured"})
		return
	}

	resource := c.Param("resource")
	status, err := h.deps.Status.Get(c.Request.Context(), resource)
	if err != nil {
		code := http.StatusBadGateway
		if errors.Is(err, backend.ErrNotFound) {
			code = http.StatusNotFound
		}
		c.JSON(code, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, status)
}

// InjectRequest is the body of POST /debug/frames.
type InjectRequest struct {
	Origin string       `json:"origin"`
	Frame  events.Frame `json:"frame"`
}

// InjectFrame feeds a frame through the ingress as if it had been pushed.
func (h *Handlers) InjectFrame(c *gin.Context) {
	var req InjectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	result, err := h.deps.Ingress.AcceptFrame(c.Request.Context(), req.Origin, req.Frame)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	h.logger.Debug("Frame injected",
		zap.String("type", string(req.Frame.Type)),
		zap.String("origin", req.Origin),
	)
	c.JSON(http.StatusAccepted, gin.H{
		"invoked": result.Invoked,
		"failed":  result.Failed,
	})
}
