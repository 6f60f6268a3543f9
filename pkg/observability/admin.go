package observability

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// StatusFunc returns a JSON-serialisable snapshot of one channel.
type StatusFunc func() any

// AdminConfig configures the admin HTTP surface.
type AdminConfig struct {
	Addr        string
	CORSOrigins []string
	Logger      zerolog.Logger
	// Bus, when set, is mounted at /bus.
	Bus http.Handler
}

// Admin serves /health, /metrics, /status and, optionally, the bus hub.
type Admin struct {
	cfg     AdminConfig
	router  *gin.Engine
	started time.Time
	status  map[string]StatusFunc
	server  *http.Server
}

func NewAdmin(cfg AdminConfig) *Admin {
	RegisterMetrics()
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(RequestLogger(cfg.Logger))
	r.Use(RequestMetricsMiddleware())
	if len(cfg.CORSOrigins) > 0 {
		r.Use(cors.New(cors.Config{
			AllowOrigins: cfg.CORSOrigins,
			AllowMethods: []string{"GET"},
			AllowHeaders: []string{"Origin", "Content-Type"},
			MaxAge:       12 * time.Hour,
		}))
	}
	_ = r.SetTrustedProxies([]string{"127.0.0.1", "::1"})

	a := &Admin{
		cfg:     cfg,
		router:  r,
		started: time.Now(),
		status:  make(map[string]StatusFunc),
	}
	a.routes()
	return a
}

// AddStatus registers a channel's snapshot under name. Call before Run.
func (a *Admin) AddStatus(name string, fn StatusFunc) {
	a.status[name] = fn
}

// Handler exposes the router, mainly for tests.
func (a *Admin) Handler() http.Handler { return a.router }

func (a *Admin) routes() {
	a.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status": "ok",
			"uptime": time.Since(a.started).String(),
		})
	})

	a.router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	a.router.GET("/status", func(c *gin.Context) {
		out := make(map[string]any, len(a.status))
		for name, fn := range a.status {
			out[name] = fn()
		}
		c.JSON(http.StatusOK, gin.H{"channels": out})
	})

	a.router.GET("/status/:channel", func(c *gin.Context) {
		fn, ok := a.status[c.Param("channel")]
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "unknown channel"})
			return
		}
		c.JSON(http.StatusOK, fn())
	})

	if a.cfg.Bus != nil {
		a.router.GET("/bus", gin.WrapH(a.cfg.Bus))
	}
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (a *Admin) Run(ctx context.Context) error {
	a.server = &http.Server{
		Addr:              a.cfg.Addr,
		Handler:           a.router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		a.cfg.Logger.Info().Str("addr", a.cfg.Addr).Msg("admin server listening")
		errCh <- a.server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		return a.server.Shutdown(shutdownCtx)
	}
}
