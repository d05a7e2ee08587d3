// =============================================================================
// 🌐 Convoloop HTTP 服务器
// =============================================================================
// 会话管理 API + 健康检查 + Prometheus 指标 + WebSocket 转录推送
// =============================================================================
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/BaSui01/convoloop/config"
	"github.com/BaSui01/convoloop/internal/metrics"
	"github.com/BaSui01/convoloop/llm"
	"github.com/BaSui01/convoloop/llm/providers/openaicompat"
	"github.com/BaSui01/convoloop/llm/retry"
	"github.com/BaSui01/convoloop/llm/tokenizer"
	"github.com/BaSui01/convoloop/memory"
	"github.com/BaSui01/convoloop/persistence"
	"github.com/BaSui01/convoloop/persona"
	"github.com/BaSui01/convoloop/selector"
	"github.com/BaSui01/convoloop/session"
	"github.com/BaSui01/convoloop/types"
)

// Server 承载会话 API 与运维端点。
type Server struct {
	cfg       *config.Config
	logger    *zap.Logger
	provider  llm.Provider
	store     persistence.Store
	manager   *session.Manager
	collector *metrics.Collector
	registry  *prometheus.Registry

	httpSrv    *http.Server
	metricsSrv *http.Server
	shutdownCh chan os.Signal
}

// ServerOption 定制服务器装配,主要供测试注入。
type ServerOption func(*Server)

// WithProvider 覆盖默认的 LLM Provider。
func WithProvider(p llm.Provider) ServerOption {
	return func(s *Server) { s.provider = p }
}

// WithStore 覆盖默认的快照存储。
func WithStore(store persistence.Store) ServerOption {
	return func(s *Server) { s.store = store }
}

// NewServer 按配置装配全部组件。
func NewServer(cfg *config.Config, logger *zap.Logger, opts ...ServerOption) (*Server, error) {
	registry := prometheus.NewRegistry()
	s := &Server{
		cfg:        cfg,
		logger:     logger,
		manager:    session.NewManager(logger),
		collector:  metrics.NewCollector("convoloop", registry),
		registry:   registry,
		shutdownCh: make(chan os.Signal, 1),
	}
	for _, opt := range opts {
		opt(s)
	}

	if s.provider == nil {
		provider, err := buildProvider(cfg, logger, s.collector)
		if err != nil {
			return nil, err
		}
		s.provider = provider
	}
	if s.store == nil {
		store, err := buildStore(cfg)
		if err != nil {
			return nil, err
		}
		s.store = store
	}

	s.httpSrv = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.HTTPPort),
		Handler:      s.routes(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	s.metricsSrv = &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.MetricsPort),
		Handler: metricsMux,
	}

	return s, nil
}

// buildProvider 构建带重试与限流的上游 Provider。
func buildProvider(cfg *config.Config, logger *zap.Logger, collector *metrics.Collector) (llm.Provider, error) {
	base, err := openaicompat.New(openaicompat.Config{
		ProviderName: cfg.LLM.Provider,
		APIKey:       cfg.LLM.APIKey,
		BaseURL:      cfg.LLM.BaseURL,
		Timeout:      cfg.LLM.Timeout,
	}, logger)
	if err != nil {
		return nil, err
	}

	policy := retry.DefaultPolicy()
	policy.MaxRetries = cfg.LLM.MaxRetries
	return llm.NewResilientProvider(base, &llm.ResilientConfig{
		RetryPolicy:       policy,
		RequestsPerSecond: cfg.LLM.RequestsPerSecond,
		Burst:             cfg.LLM.Burst,
		Metrics:           collector,
	}, logger), nil
}

// buildStore 按配置选择快照存储后端。
func buildStore(cfg *config.Config) (persistence.Store, error) {
	factoryCfg := persistence.FactoryConfig{Type: persistence.StoreTypeMemory}
	switch {
	case cfg.Redis.Enabled:
		factoryCfg = persistence.FactoryConfig{
			Type: persistence.StoreTypeRedis,
			Redis: persistence.RedisStoreConfig{
				Addr:        cfg.Redis.Addr,
				Password:    cfg.Redis.Password,
				DB:          cfg.Redis.DB,
				PoolSize:    cfg.Redis.PoolSize,
				SnapshotTTL: cfg.Redis.SnapshotTTL,
			},
		}
	case cfg.Database.Enabled:
		factoryCfg = persistence.FactoryConfig{
			Type:       persistence.StoreTypeSQLite,
			SQLitePath: cfg.Database.Path,
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return persistence.NewStore(ctx, factoryCfg)
}

// =============================================================================
// 🚦 生命周期
// =============================================================================

// Start 启动 API 与指标两个监听端口。
func (s *Server) Start() error {
	go func() {
		s.logger.Info("HTTP server listening", zap.String("addr", s.httpSrv.Addr))
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("HTTP server failed", zap.Error(err))
		}
	}()
	go func() {
		s.logger.Info("metrics server listening", zap.String("addr", s.metricsSrv.Addr))
		if err := s.metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("metrics server failed", zap.Error(err))
		}
	}()

	signal.Notify(s.shutdownCh, syscall.SIGINT, syscall.SIGTERM)
	return nil
}

// WaitForShutdown 阻塞直到收到退出信号,然后优雅关闭。
func (s *Server) WaitForShutdown() {
	sig := <-s.shutdownCh
	s.logger.Info("shutdown signal received", zap.String("signal", sig.String()))
	s.Shutdown()
}

// Shutdown 停止所有会话并关闭监听与存储。
func (s *Server) Shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := s.manager.StopAll(ctx); err != nil {
		s.logger.Warn("failed to stop all sessions", zap.Error(err))
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.httpSrv.Shutdown(ctx) })
	g.Go(func() error { return s.metricsSrv.Shutdown(ctx) })
	if err := g.Wait(); err != nil {
		s.logger.Warn("server shutdown incomplete", zap.Error(err))
	}

	if err := s.store.Close(); err != nil {
		s.logger.Warn("failed to close snapshot store", zap.Error(err))
	}
}

// =============================================================================
// 🗺️ 路由
// =============================================================================

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("POST /sessions", s.handleCreateSession)
	mux.HandleFunc("GET /sessions", s.handleListSessions)
	mux.HandleFunc("GET /sessions/{id}", s.handleGetSession)
	mux.HandleFunc("POST /sessions/{id}/start", s.handleSessionCommand("start"))
	mux.HandleFunc("POST /sessions/{id}/pause", s.handleSessionCommand("pause"))
	mux.HandleFunc("POST /sessions/{id}/resume", s.handleSessionCommand("resume"))
	mux.HandleFunc("POST /sessions/{id}/stop", s.handleSessionCommand("stop"))
	mux.HandleFunc("POST /sessions/{id}/messages", s.handleInjectMessage)
	mux.HandleFunc("POST /sessions/{id}/scene", s.handleChangeScene)
	mux.HandleFunc("GET /sessions/{id}/ws", s.handleTranscriptFeed)

	return mux
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":   "ok",
		"version":  Version,
		"sessions": len(s.manager.IDs()),
	})
}

// createSessionRequest 新建或恢复会话的请求体。
// ResumeFrom 非空时从存储的快照恢复,其余字段忽略。
type createSessionRequest struct {
	Title                string          `json:"title,omitempty"`
	Agents               []types.Agent   `json:"agents"`
	Scene                types.Scene     `json:"scene"`
	TerminationCondition string          `json:"termination_condition"`
	History              []types.Message `json:"history,omitempty"`
	ResumeFrom           string          `json:"resume_from,omitempty"`
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	params := session.Params{
		Title:                req.Title,
		Agents:               req.Agents,
		Scene:                req.Scene,
		TerminationCondition: req.TerminationCondition,
		History:              req.History,
	}
	if req.ResumeFrom != "" {
		snap, err := s.store.LoadSnapshot(r.Context(), req.ResumeFrom)
		if err != nil {
			if errors.Is(err, persistence.ErrNotFound) {
				writeError(w, http.StatusNotFound, "no stored snapshot for session "+req.ResumeFrom)
				return
			}
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		params = session.Params{
			ID:                   snap.SessionID,
			Title:                snap.Title,
			Agents:               snap.Agents,
			Scene:                snap.Scene,
			TerminationCondition: snap.TerminationCondition,
			History:              snap.History,
			InvocationCounts:     snap.InvocationCounts,
			Round:                snap.Round,
		}
	}

	sess, err := s.newSession(params)
	if err != nil {
		writeError(w, httpStatusFor(err), err.Error())
		return
	}
	if err := s.manager.Add(sess); err != nil {
		writeError(w, http.StatusConflict, err.Error())
		return
	}

	writeJSON(w, http.StatusCreated, map[string]string{
		"session_id": sess.ID(),
		"state":      string(sess.State()),
	})
}

// newSession 用服务器的共享组件装配一个新会话。
func (s *Server) newSession(params session.Params) (*session.Session, error) {
	sel, err := selector.New(s.provider, selector.Config{
		Model:       s.cfg.Selector.Model,
		Temperature: float32(s.cfg.Selector.Temperature),
		MaxTokens:   s.cfg.Selector.MaxTokens,
	}, s.logger)
	if err != nil {
		return nil, err
	}

	gov, err := memory.New(s.provider, memory.Config{
		MaxBeforeSummary: s.cfg.Memory.MaxBeforeSummary,
		KeepAfterSummary: s.cfg.Memory.KeepAfterSummary,
		Model:            s.cfg.Memory.Model,
		Temperature:      float32(s.cfg.Memory.Temperature),
		MaxTokens:        s.cfg.Memory.MaxTokens,
	}, tokenizer.NewTiktokenCounter(""), s.logger)
	if err != nil {
		return nil, err
	}

	resp, err := persona.NewResponder(s.provider, persona.Config{
		Model:         s.cfg.Persona.Model,
		Temperature:   float32(s.cfg.Persona.Temperature),
		MaxTokens:     s.cfg.Persona.MaxTokens,
		ReminderEvery: s.cfg.Persona.TerminationReminderEvery,
	}, s.logger)
	if err != nil {
		return nil, err
	}

	return session.New(session.Deps{
		Selector:  sel,
		Governor:  gov,
		Responder: resp,
		Logger:    s.logger,
		Metrics:   s.collector,
		Sinks:     []session.SnapshotSink{s.store},
	}, session.Config{
		TurnDelayMin:                s.cfg.Session.TurnDelayMin,
		TurnDelayMax:                s.cfg.Session.TurnDelayMax,
		SelectorRetries:             s.cfg.Selector.Retries,
		SelectorRetryDelay:          s.cfg.Selector.RetryDelay,
		ConsecutiveFailureThreshold: s.cfg.Session.ConsecutiveFailureThreshold,
		ErrorRetryDelay:             s.cfg.Session.ErrorRetryDelay,
		IncludeInvocationCounts:     s.cfg.Selector.IncludeInvocationCounts,
	}, params)
}

func (s *Server) handleListSessions(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"sessions": s.manager.Snapshots()})
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.manager.Get(r.PathValue("id"))
	if !ok {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}
	writeJSON(w, http.StatusOK, sess.Snapshot())
}

func (s *Server) handleSessionCommand(cmd string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sess, ok := s.manager.Get(r.PathValue("id"))
		if !ok {
			writeError(w, http.StatusNotFound, "session not found")
			return
		}

		var err error
		switch cmd {
		case "start":
			err = sess.Start(r.Context())
		case "pause":
			err = sess.Pause(r.Context())
		case "resume":
			err = sess.Resume(r.Context())
		case "stop":
			err = sess.Stop(r.Context())
		}
		if err != nil {
			writeError(w, httpStatusFor(err), err.Error())
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{
			"session_id": sess.ID(),
			"state":      string(sess.State()),
		})
	}
}

func (s *Server) handleInjectMessage(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.manager.Get(r.PathValue("id"))
	if !ok {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}

	var body struct {
		Content string `json:"content"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Content == "" {
		writeError(w, http.StatusBadRequest, "content is required")
		return
	}

	if err := sess.InjectUserMessage(r.Context(), body.Content); err != nil {
		writeError(w, httpStatusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"session_id": sess.ID()})
}

func (s *Server) handleChangeScene(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.manager.Get(r.PathValue("id"))
	if !ok {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}

	var scene types.Scene
	if err := json.NewDecoder(r.Body).Decode(&scene); err != nil {
		writeError(w, http.StatusBadRequest, "invalid scene body")
		return
	}

	if err := sess.ChangeScene(r.Context(), scene); err != nil {
		writeError(w, httpStatusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"session_id": sess.ID()})
}

// handleTranscriptFeed 通过 WebSocket 推送会话快照流。
func (s *Server) handleTranscriptFeed(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.manager.Get(r.PathValue("id"))
	if !ok {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket accept failed", zap.Error(err))
		return
	}
	defer conn.CloseNow()

	ctx := r.Context()
	feed := make(chan *types.Snapshot, 16)
	unsubscribe := sess.Subscribe(func(snap *types.Snapshot) {
		select {
		case feed <- snap:
		default:
			// 慢消费者丢弃中间快照,下一条会带上全量状态
		}
	})
	defer unsubscribe()

	// 先推当前状态,再推增量
	if err := wsjson.Write(ctx, conn, sess.Snapshot()); err != nil {
		return
	}
	for {
		select {
		case snap := <-feed:
			if err := wsjson.Write(ctx, conn, snap); err != nil {
				return
			}
		case <-sess.Done():
			// 会话结束,推最终快照后正常关闭
			_ = wsjson.Write(ctx, conn, sess.Snapshot())
			conn.Close(websocket.StatusNormalClosure, "session terminated")
			return
		case <-ctx.Done():
			return
		}
	}
}

// =============================================================================
// 🔧 JSON 辅助
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// httpStatusFor 把引擎错误码映射为 HTTP 状态码。
func httpStatusFor(err error) int {
	switch types.GetErrorCode(err) {
	case types.ErrInvalidConfig, types.ErrInvalidRequest:
		return http.StatusBadRequest
	case types.ErrInvalidTransition, types.ErrSessionTerminated:
		return http.StatusConflict
	case types.ErrRateLimited:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}
