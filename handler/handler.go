package handler

import (
	"context"
	"errors"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"github.com/xdimtech/go-avatarlink/handler/renderer"
	"github.com/xdimtech/go-avatarlink/pkg/protocol/avatar"
	"github.com/xdimtech/go-avatarlink/pkg/utils"
)

const (
	DefaultPath     = "/avatar/v1/"
	shutdownTimeout = 5 * time.Second
)

// WebSocketServer is the renderer side of the link: it accepts animation events and
// acknowledges each of them.
type WebSocketServer struct {
	path         string
	idleTimeout  time.Duration
	pingInterval time.Duration
	logger       *zap.Logger
	sink         renderer.Sink
	registerer   prometheus.Registerer

	connections atomic.Int64
	frames      atomic.Int64
	framesTotal *prometheus.CounterVec
}

type ServerOption func(*WebSocketServer)

func WithPath(path string) ServerOption {
	return func(s *WebSocketServer) {
		s.path = path
	}
}

func WithIdleTimeout(d time.Duration) ServerOption {
	return func(s *WebSocketServer) {
		s.idleTimeout = d
	}
}

func WithPingInterval(d time.Duration) ServerOption {
	return func(s *WebSocketServer) {
		s.pingInterval = d
	}
}

func WithLogger(logger *zap.Logger) ServerOption {
	return func(s *WebSocketServer) {
		s.logger = logger
	}
}

// WithSink forwards every accepted event to sink.
func WithSink(sink renderer.Sink) ServerOption {
	return func(s *WebSocketServer) {
		s.sink = sink
	}
}

func WithRegisterer(reg prometheus.Registerer) ServerOption {
	return func(s *WebSocketServer) {
		s.registerer = reg
	}
}

func NewWebSocketServer(ops ...ServerOption) *WebSocketServer {
	s := &WebSocketServer{
		path:   DefaultPath,
		logger: zap.NewNop(),
	}
	for _, op := range ops {
		op(s)
	}
	s.framesTotal = promauto.With(s.registerer).NewCounterVec(prometheus.CounterOpts{
		Namespace: "avatarlink",
		Subsystem: "renderer",
		Name:      "frames_received_total",
		Help:      "Animation events accepted by the renderer endpoint.",
	}, []string{"type"})
	return s
}

func (s *WebSocketServer) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(s.path, s.RealTime)
	mux.HandleFunc("/status", s.Status)
	return mux
}

// Start serves until ctx is done.
func (s *WebSocketServer) Start(ctx context.Context, addr string) error {
	srv := &http.Server{Addr: addr, Handler: s.Handler()}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	s.logger.Info("renderer endpoint started", zap.String("url", "ws://127.0.0.1"+addr+s.path))
	if ip, err := utils.GetLocalIP(); err == nil {
		s.logger.Info("renderer endpoint public address", zap.String("url", "ws://"+ip+addr+s.path))
	}
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *WebSocketServer) wsConnect(w http.ResponseWriter, r *http.Request) (*websocket.Conn, error) {
	upgrader := &websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			return true
		},
	}
	return upgrader.Upgrade(w, r, nil)
}

func (s *WebSocketServer) RealTime(w http.ResponseWriter, r *http.Request) {
	conn, err := s.wsConnect(w, r)
	if err != nil {
		s.logger.Warn("upgrade failed", zap.Error(err))
		return
	}

	s.connections.Add(1)
	defer s.connections.Add(-1)

	logger := s.logger.With(zap.String("conn_id", utils.UniqueID()), zap.String("remote", r.RemoteAddr))
	logger.Info("renderer client connected")

	ctx := r.Context()
	connWrapper, err := renderer.NewConnWrapper(ctx, conn,
		renderer.WithHandler(renderer.NewHandler(s.accept)),
		renderer.WithIdleTimeout(s.idleTimeout),
		renderer.WithPingInterval(s.pingInterval),
		renderer.WithLogger(logger),
	)
	if err != nil {
		logger.Error("create connection", zap.Error(err))
		_ = conn.Close()
		return
	}

	_ = connWrapper.ReadLoop(ctx)
	logger.Info("renderer client disconnected")
}

type statusResp struct {
	Connections    int64 `json:"connections"`
	FramesReceived int64 `json:"frames_received"`
}

func (s *WebSocketServer) Status(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		utils.WriteRespWithHttpStatus(w, http.StatusMethodNotAllowed)
		return
	}
	utils.WriteResp(w, http.StatusOK, statusResp{
		Connections:    s.connections.Load(),
		FramesReceived: s.frames.Load(),
	})
}

func (s *WebSocketServer) accept(ctx context.Context, ev avatar.Event) {
	s.frames.Add(1)
	s.framesTotal.WithLabelValues(string(ev.GetType())).Inc()
	if s.sink != nil {
		s.sink(ctx, ev)
	}
}
