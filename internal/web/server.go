package web

import (
	"bytes"
	"context"
	"embed"
	"fmt"
	"log/slog"
	"net/http"
	"text/template"
	"time"

	"github.com/mtzanidakis/swarmhub/internal/config"
	"github.com/mtzanidakis/swarmhub/internal/natsbus"
	"github.com/mtzanidakis/swarmhub/internal/registry"
	"github.com/mtzanidakis/swarmhub/internal/swarm"
	"github.com/rs/cors"
	"golang.org/x/time/rate"
)

//go:embed static
var staticFiles embed.FS

type Server struct {
	engine    *swarm.Engine
	registry  *registry.Registry
	nats      *natsbus.Client
	hub       *Hub
	cfg       config.WebConfig
	version   string
	startedAt time.Time
	skill     []byte

	registerLimiter *rate.Limiter
}

// NewServer wires the HTTP API. nc may be nil, in which case the WebSocket
// hub only sees events handed to Hub().Publish directly.
func NewServer(engine *swarm.Engine, reg *registry.Registry, nc *natsbus.Client, cfg config.WebConfig, version string) (*Server, error) {
	skill, err := renderSkill(cfg.BaseURL)
	if err != nil {
		return nil, err
	}

	s := &Server{
		engine:    engine,
		registry:  reg,
		nats:      nc,
		hub:       NewHub(),
		cfg:       cfg,
		version:   version,
		startedAt: time.Now(),
		skill:     skill,
	}
	if cfg.RegisterRate > 0 {
		s.registerLimiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(cfg.RegisterRate)), cfg.RegisterRate)
	}
	return s, nil
}

func renderSkill(baseURL string) ([]byte, error) {
	tmpl, err := template.ParseFS(staticFiles, "static/skill.md")
	if err != nil {
		return nil, fmt.Errorf("parse skill.md: %w", err)
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, struct{ BaseURL string }{baseURL}); err != nil {
		return nil, fmt.Errorf("render skill.md: %w", err)
	}
	return buf.Bytes(), nil
}

// Hub is the WebSocket fan-out. It is also a swarm.Publisher.
func (s *Server) Hub() *Hub {
	return s.hub
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /skill.md", s.handleSkill)
	mux.HandleFunc("GET /{$}", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/skill.md", http.StatusFound)
	})

	s.registerAPI(mux)

	mux.HandleFunc("GET /api/v1/ws", s.handleWebSocket)

	origins := s.cfg.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	c := cors.New(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodOptions},
		AllowedHeaders: []string{"Authorization", "Content-Type"},
	})
	return c.Handler(mux)
}

func (s *Server) Start(ctx context.Context) error {
	go s.hub.Run(ctx)

	// Forward bus events to WebSocket clients
	if err := s.subscribeEvents(); err != nil {
		return err
	}

	addr := fmt.Sprintf(":%d", s.cfg.Port)
	server := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	slog.Info("web server listening", "addr", addr)
	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) subscribeEvents() error {
	if s.nats == nil {
		return nil
	}
	_, err := s.nats.SubscribeEvents(natsbus.TopicEventsAll, s.hub.Publish)
	if err != nil {
		return fmt.Errorf("subscribe events: %w", err)
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	jsonResponse(w, map[string]any{
		"status":  "ok",
		"service": "SwarmHub",
		"version": s.version,
		"uptime":  time.Since(s.startedAt).Round(time.Second).String(),
	})
}

func (s *Server) handleSkill(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/markdown; charset=utf-8")
	_, _ = w.Write(s.skill)
}
