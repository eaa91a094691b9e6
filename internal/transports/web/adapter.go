package web

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"boardgate/internal/gateway"
	"boardgate/internal/observability"
)

// Config определяет параметры HTTP-транспорта.
type Config struct {
	ListenAddr         string
	ReadTimeout        time.Duration
	WriteTimeout       time.Duration
	ShutdownTimeout    time.Duration
	MaxRequestBody     int64
	CORSAllowedOrigins []string
}

// StatusProvider отдает сведения для GET /status.
type StatusProvider interface {
	Status(ctx context.Context) map[string]any
}

type mount struct {
	path    string
	handler http.Handler
}

// Adapter реализует request/response транспорт поверх gin.
type Adapter struct {
	svc    *gateway.Service
	status StatusProvider
	cfg    Config
	logger zerolog.Logger
	mounts []mount

	mu     sync.Mutex
	server *http.Server
}

// NewAdapter создает web transport. status может быть nil.
func NewAdapter(svc *gateway.Service, status StatusProvider, cfg Config, logger zerolog.Logger) *Adapter {
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = "0.0.0.0:3000"
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = 5 * time.Second
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 5 * time.Second
	}
	if cfg.MaxRequestBody <= 0 {
		cfg.MaxRequestBody = 1 << 20
	}
	return &Adapter{
		svc:    svc,
		status: status,
		cfg:    cfg,
		logger: logger.With().Str("transport", "web").Logger(),
	}
}

func (a *Adapter) Name() string { return "web" }

// Mount добавляет GET-маршрут стороннего обработчика (например, upgrade событийного транспорта).
// Вызывается до Start.
func (a *Adapter) Mount(path string, h http.Handler) {
	a.mounts = append(a.mounts, mount{path: path, handler: h})
}

// Start занимает порт синхронно, чтобы ошибка bind вернулась вызывающему.
func (a *Adapter) Start(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.server != nil {
		return errors.New("web transport already started")
	}

	ln, err := net.Listen("tcp", a.cfg.ListenAddr)
	if err != nil {
		return err
	}
	// WriteTimeout оставлен нулевым по умолчанию: компиляция и загрузка идут минутами.
	srv := &http.Server{
		Handler:      a.Handler(),
		ReadTimeout:  a.cfg.ReadTimeout,
		WriteTimeout: a.cfg.WriteTimeout,
	}
	a.server = srv

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error().Err(err).Msg("http server stopped")
		}
	}()
	go func() {
		<-ctx.Done()
		stopCtx, cancel := context.WithTimeout(context.Background(), a.cfg.ShutdownTimeout)
		defer cancel()
		_ = a.Stop(stopCtx)
	}()

	a.logger.Info().Str("addr", ln.Addr().String()).Msg("listening")
	return nil
}

// Stop завершает HTTP server.
func (a *Adapter) Stop(ctx context.Context) error {
	a.mu.Lock()
	srv := a.server
	a.server = nil
	a.mu.Unlock()
	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}

// Handler собирает маршруты.
func (a *Adapter) Handler() http.Handler {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(requestIDMiddleware())
	r.Use(observability.RequestLogger(a.logger))
	r.Use(observability.RequestMetricsMiddleware())
	r.Use(cors.New(a.corsConfig()))

	r.GET("/", func(c *gin.Context) {
		c.String(http.StatusOK, "alive")
	})

	r.GET("/boards/list", a.handleOperation(gateway.OpListBoards, false))
	r.GET("/boards/connected", a.handleOperation(gateway.OpListConnectedBoards, false))
	r.GET("/cores/list", a.handleOperation(gateway.OpListCores, false))
	r.POST("/cores/install", a.handleOperation(gateway.OpInstallCore, true))
	r.POST("/sketch/compile", a.handleOperation(gateway.OpCompileSketch, true))
	r.POST("/sketch/upload", a.handleOperation(gateway.OpUploadSketch, true))

	r.GET("/operations", a.handleOperations)
	r.GET("/status", a.handleStatus)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	for _, m := range a.mounts {
		r.GET(m.path, gin.WrapH(m.handler))
	}
	return r
}

func (a *Adapter) corsConfig() cors.Config {
	cfg := cors.Config{
		AllowMethods: []string{"GET", "POST", "OPTIONS"},
		AllowHeaders: []string{"Origin", "Content-Type", "X-Request-ID"},
		MaxAge:       12 * time.Hour,
	}
	origins := make([]string, 0, len(a.cfg.CORSAllowedOrigins))
	for _, origin := range a.cfg.CORSAllowedOrigins {
		origin = strings.TrimSpace(origin)
		if origin == "*" {
			cfg.AllowAllOrigins = true
			return cfg
		}
		if origin != "" {
			origins = append(origins, origin)
		}
	}
	if len(origins) == 0 {
		cfg.AllowAllOrigins = true
		return cfg
	}
	cfg.AllowOrigins = origins
	return cfg
}

// handleOperation отвечает 200 с каноничным Response даже при ошибке операции.
// 4xx возвращается только когда тело запроса нельзя разобрать.
func (a *Adapter) handleOperation(operation string, withBody bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		var payload json.RawMessage
		if withBody {
			body, status, code := a.readBody(c)
			if code != "" {
				writeError(c, status, code)
				return
			}
			payload = body
		}
		resp := a.svc.Execute(c.Request.Context(), c.ClientIP(), operation, payload)
		c.JSON(http.StatusOK, resp)
	}
}

func (a *Adapter) readBody(c *gin.Context) (json.RawMessage, int, string) {
	body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, a.cfg.MaxRequestBody))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, http.StatusRequestEntityTooLarge, "payload_too_large"
		}
		return nil, http.StatusBadRequest, "invalid_body"
	}
	body = bytes.TrimSpace(body)
	if len(body) > 0 && !json.Valid(body) {
		return nil, http.StatusBadRequest, "invalid_json"
	}
	return body, 0, ""
}

func (a *Adapter) handleOperations(c *gin.Context) {
	type operationDTO struct {
		Name    string `json:"name"`
		Command string `json:"command"`
	}
	ops := a.svc.Registry().Operations()
	items := make([]operationDTO, 0, len(ops))
	for _, op := range ops {
		items = append(items, operationDTO{Name: op.Name, Command: op.Command})
	}
	c.JSON(http.StatusOK, gin.H{"items": items})
}

func (a *Adapter) handleStatus(c *gin.Context) {
	body := map[string]any{"in_flight": a.svc.InFlight()}
	if a.status != nil {
		for k, v := range a.status.Status(c.Request.Context()) {
			body[k] = v
		}
	}
	c.JSON(http.StatusOK, body)
}

func requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := sanitizeRequestID(c.GetHeader("X-Request-ID"))
		if requestID == "" {
			requestID = uuid.NewString()
		}
		c.Set(observability.RequestIDKey, requestID)
		c.Header("X-Request-ID", requestID)
		c.Next()
	}
}

func sanitizeRequestID(v string) string {
	id := strings.TrimSpace(v)
	if id == "" || len(id) > 64 {
		return ""
	}
	for _, ch := range id {
		if (ch >= 'a' && ch <= 'z') || (ch >= 'A' && ch <= 'Z') || (ch >= '0' && ch <= '9') {
			continue
		}
		switch ch {
		case '-', '_', '.', ':':
			continue
		default:
			return ""
		}
	}
	return id
}

func writeError(c *gin.Context, statusCode int, code string) {
	c.AbortWithStatusJSON(statusCode, gin.H{
		"request_id": c.GetString(observability.RequestIDKey),
		"error_code": code,
		"message":    errorMessage(code),
	})
}

func errorMessage(code string) string {
	switch code {
	case "payload_too_large":
		return "request payload is too large"
	case "invalid_json":
		return "request body is not valid JSON"
	case "invalid_body":
		return "request body could not be read"
	default:
		return code
	}
}
