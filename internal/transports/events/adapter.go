// Package events реализует событийный транспорт: JSON-кадры поверх websocket,
// ответы операций доставляются через ack в порядке завершения.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"path"
	"sort"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"boardgate/internal/core"
	"boardgate/internal/gateway"
	"boardgate/internal/observability"
)

// Config определяет параметры событийного транспорта.
// Пустой ListenAddr означает, что обработчик монтируется на web-транспорт.
type Config struct {
	ListenAddr      string
	Path            string
	Namespaces      []string
	WriteTimeout    time.Duration
	MaxMessageBytes int64
	AllowedOrigins  []string
}

// Adapter реализует websocket event transport.
type Adapter struct {
	svc      *gateway.Service
	cfg      Config
	logger   zerolog.Logger
	upgrader websocket.Upgrader
	paths    map[string]string

	mu       sync.Mutex
	started  bool
	stopping bool
	server   *http.Server
	conns    map[string]*conn
	ops      sync.WaitGroup
}

// NewAdapter создает событийный транспорт.
func NewAdapter(svc *gateway.Service, cfg Config, logger zerolog.Logger) *Adapter {
	if cfg.Path == "" {
		cfg.Path = "/socket"
	}
	if len(cfg.Namespaces) == 0 {
		cfg.Namespaces = []string{"/"}
	}
	if cfg.MaxMessageBytes <= 0 {
		cfg.MaxMessageBytes = 1 << 20
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 10 * time.Second
	}

	a := &Adapter{
		svc:    svc,
		cfg:    cfg,
		logger: logger.With().Str("transport", "events").Logger(),
		paths:  make(map[string]string, len(cfg.Namespaces)),
		conns:  make(map[string]*conn),
	}
	for _, ns := range cfg.Namespaces {
		a.paths[path.Join(cfg.Path, ns)] = path.Join("/", ns)
	}
	a.upgrader = websocket.Upgrader{CheckOrigin: a.checkOrigin}
	return a
}

func (a *Adapter) Name() string { return "events" }

// Paths возвращает URL-пути всех пространств имен.
func (a *Adapter) Paths() []string {
	out := make([]string, 0, len(a.paths))
	for p := range a.paths {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// Start открывает собственный listener, если задан ListenAddr.
func (a *Adapter) Start(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.started {
		return errors.New("events transport already started")
	}
	a.started = true
	a.stopping = false
	if a.cfg.ListenAddr == "" {
		a.logger.Info().Strs("paths", a.Paths()).Msg("mounted on web transport")
		return nil
	}

	ln, err := net.Listen("tcp", a.cfg.ListenAddr)
	if err != nil {
		a.started = false
		return err
	}
	mux := http.NewServeMux()
	for p := range a.paths {
		mux.Handle(p, a)
	}
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	a.server = srv
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error().Err(err).Msg("events server stopped")
		}
	}()
	a.logger.Info().Str("addr", ln.Addr().String()).Strs("paths", a.Paths()).Msg("listening")
	return nil
}

// Stop перестает принимать соединения и события, дожидается запущенных операций
// (в пределах ctx), затем закрывает соединения.
func (a *Adapter) Stop(ctx context.Context) error {
	a.mu.Lock()
	if !a.started {
		a.mu.Unlock()
		return nil
	}
	a.started = false
	a.stopping = true
	srv := a.server
	a.server = nil
	a.mu.Unlock()

	var errs []error
	if srv != nil {
		errs = append(errs, srv.Shutdown(ctx))
	}

	done := make(chan struct{})
	go func() {
		a.ops.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		errs = append(errs, fmt.Errorf("waiting for running operations: %w", ctx.Err()))
	}

	a.mu.Lock()
	conns := make([]*conn, 0, len(a.conns))
	for _, c := range a.conns {
		conns = append(conns, c)
	}
	a.mu.Unlock()
	for _, c := range conns {
		c.close(websocket.CloseGoingAway, "server shutting down")
	}
	return errors.Join(errs...)
}

// ServeHTTP выполняет upgrade и обслуживает соединение до его закрытия.
func (a *Adapter) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	namespace, ok := a.paths[r.URL.Path]
	if !ok {
		http.NotFound(w, r)
		return
	}
	if a.isStopping() {
		http.Error(w, "server shutting down", http.StatusServiceUnavailable)
		return
	}

	ws, err := a.upgrader.Upgrade(w, r, nil)
	if err != nil {
		a.logger.Warn().Err(err).Str("remote", r.RemoteAddr).Msg("upgrade failed")
		return
	}
	c := newConn(ws, namespace, a.cfg.WriteTimeout)
	if !a.track(c) {
		c.close(websocket.CloseGoingAway, "server shutting down")
		return
	}
	defer a.untrack(c)

	a.serve(c, r)
}

func (a *Adapter) serve(c *conn, r *http.Request) {
	log := a.logger.With().Str("conn_id", c.id).Str("namespace", c.namespace).Logger()
	log.Info().Str("remote", r.RemoteAddr).Msg("client connected")

	c.ws.SetReadLimit(a.cfg.MaxMessageBytes)
	// Дедлайн чтения HTTP-сервера сохраняется после hijack.
	_ = c.ws.SetReadDeadline(time.Time{})

	if err := c.emit(EventAuth, authPayload(r)); err != nil {
		log.Warn().Err(err).Msg("auth emit failed")
	}

	for {
		mt, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Debug().Err(err).Msg("read failed")
			}
			break
		}
		if mt != websocket.TextMessage {
			a.emitError(c, "binary frames are not supported")
			continue
		}
		a.dispatch(c, data)
	}

	c.close(websocket.CloseNormalClosure, "")
	log.Info().Msg("client disconnected")
}

// dispatch возвращает управление циклу чтения сразу: операции выполняются в отдельных горутинах.
func (a *Adapter) dispatch(c *conn, data []byte) {
	var in inbound
	if err := json.Unmarshal(data, &in); err != nil || in.Event == "" {
		a.emitError(c, "malformed event envelope")
		return
	}

	switch in.Event {
	case EventMessage:
		if err := c.emit(EventMessageBack, in.Data); err != nil {
			a.logger.Warn().Err(err).Str("conn_id", c.id).Msg("echo failed")
		}
		return
	case EventMessageWithAck:
		if in.ID != nil {
			a.ack(c, in.Event, *in.ID, in.Data)
		}
		return
	}

	operation, ok := eventOperations[in.Event]
	if !ok {
		if in.ID != nil {
			a.ack(c, in.Event, *in.ID, gateway.Reject(in.Event, nil, "unknown event "+in.Event))
			return
		}
		a.emitError(c, "unknown event "+in.Event)
		return
	}
	if in.ID == nil {
		a.emitError(c, "event "+in.Event+" requires an ack id")
		return
	}

	if !a.beginOperation() {
		a.ack(c, in.Event, *in.ID, gateway.Reject(operation, nil, "server shutting down"))
		return
	}
	go a.runOperation(c, in.Event, *in.ID, operation, adaptPayload(operation, in.Data))
}

func (a *Adapter) runOperation(c *conn, event string, id int64, operation string, payload json.RawMessage) {
	defer a.ops.Done()

	var resp core.Response
	func() {
		defer func() {
			if r := recover(); r != nil {
				a.logger.Error().Interface("panic", r).Str("operation", operation).Msg("operation panicked")
				resp = gateway.Reject(operation, nil, fmt.Sprintf("internal error: %v", r))
			}
		}()
		resp = a.svc.Execute(c.ctx, c.id, operation, payload)
	}()

	a.ack(c, event, id, resp)
}

// ack доставляет ответ. Ошибка доставки не теряется: она логируется и учитывается в метриках.
func (a *Adapter) ack(c *conn, event string, id int64, data any) {
	if err := c.write(ackFrame{Ack: id, Data: data}); err != nil {
		observability.RecordAckFailure(event)
		a.logger.Error().Err(err).
			Str("conn_id", c.id).
			Str("event", event).
			Int64("ack", id).
			Msg("ack delivery failed")
	}
}

func (a *Adapter) emitError(c *conn, message string) {
	if err := c.emit(EventError, errorData{Error: message}); err != nil {
		a.logger.Warn().Err(err).Str("conn_id", c.id).Msg("error emit failed")
	}
}

func (a *Adapter) beginOperation() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.stopping {
		return false
	}
	a.ops.Add(1)
	return true
}

func (a *Adapter) isStopping() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.stopping
}

func (a *Adapter) track(c *conn) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.stopping {
		return false
	}
	a.conns[c.id] = c
	return true
}

func (a *Adapter) untrack(c *conn) {
	a.mu.Lock()
	delete(a.conns, c.id)
	a.mu.Unlock()
}

// Connections возвращает число открытых соединений.
func (a *Adapter) Connections() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.conns)
}

func (a *Adapter) checkOrigin(r *http.Request) bool {
	if len(a.cfg.AllowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range a.cfg.AllowedOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	return false
}

// authPayload передает параметр auth без проверки: JSON как есть, иначе строкой.
func authPayload(r *http.Request) any {
	raw := r.URL.Query().Get("auth")
	if raw == "" {
		return nil
	}
	if json.Valid([]byte(raw)) {
		return json.RawMessage(raw)
	}
	return raw
}
