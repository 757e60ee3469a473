package server

import (
	"context"
	"embed"
	"io/fs"
	"net/http"
	"os"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/go-go-golems/agent-relay/pkg/agent"
	"github.com/go-go-golems/agent-relay/pkg/config"
	"github.com/go-go-golems/agent-relay/pkg/eventbus"
	"github.com/go-go-golems/agent-relay/pkg/relay"
	"github.com/go-go-golems/agent-relay/pkg/transcript"
	"github.com/go-go-golems/agent-relay/pkg/upload"
)

//go:embed web
var webFS embed.FS

const shutdownTimeout = 30 * time.Second

type Option func(*Server)

// WithAgent replaces the agent runtime built from the configuration.
func WithAgent(a relay.AgentPort) Option {
	return func(s *Server) { s.agent = a }
}

// WithStaticFS serves assets from f instead of the static dir or the embedded UI.
func WithStaticFS(f fs.FS) Option {
	return func(s *Server) { s.staticFS = f }
}

// Server wires the relay, its agent runtime and the HTTP surface together.
type Server struct {
	cfg     config.Config
	baseCtx context.Context
	cancel  context.CancelFunc

	bus         *eventbus.Bus
	agent       relay.AgentPort
	registry    *relay.MemoryRegistry
	coordinator *relay.Coordinator
	uploads     *upload.Store
	transcripts transcript.Store
	recorder    *transcript.Recorder
	staticFS    fs.FS
	httpSrv     *http.Server
}

func New(ctx context.Context, cfg config.Config, opts ...Option) (*Server, error) {
	if ctx == nil {
		return nil, errors.New("ctx is nil")
	}
	s := &Server{cfg: cfg}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	s.baseCtx, s.cancel = context.WithCancel(ctx)
	if err := s.build(); err != nil {
		s.closeResources()
		return nil, err
	}
	return s, nil
}

func (s *Server) build() error {
	cfg := s.cfg
	if s.agent == nil {
		bus, err := eventbus.New(s.baseCtx, cfg.Redis)
		if err != nil {
			return errors.Wrap(err, "build event bus")
		}
		s.bus = bus
		rt, err := buildRuntime(cfg, bus)
		if err != nil {
			return err
		}
		s.agent = rt
	}

	registry, err := relay.NewMemoryRegistry(relay.RegistryOptions{
		BaseCtx:     s.baseCtx,
		Agent:       s.agent,
		MaxSessions: cfg.MaxSessions,
	})
	if err != nil {
		return errors.Wrap(err, "build session registry")
	}
	registry.SetEvictionConfig(cfg.EvictIdle, cfg.EvictInterval)
	s.registry = registry

	coordOpts := []relay.CoordinatorOption{
		relay.WithWriteTimeout(cfg.WriteTimeout),
		relay.WithInboundRate(cfg.InboundRate, cfg.InboundBurst),
	}
	store, err := buildTranscriptStore(cfg)
	if err != nil {
		return err
	}
	if store != nil {
		s.transcripts = store
		s.recorder = transcript.NewRecorder(store, 0)
		coordOpts = append(coordOpts, relay.WithObserver(s.recorder))
	}
	s.coordinator, err = relay.NewCoordinator(registry, coordOpts...)
	if err != nil {
		return errors.Wrap(err, "build coordinator")
	}

	s.uploads, err = upload.NewStore(cfg.UploadsDir, cfg.MaxUploadBytes)
	if err != nil {
		return err
	}
	log.Info().Str("component", "server").Str("dir", s.uploads.AbsDir()).Msg("uploads directory")

	if s.staticFS == nil {
		s.staticFS, err = resolveStatic(cfg.StaticDir)
		if err != nil {
			return err
		}
	}

	s.httpSrv = &http.Server{
		Addr:              cfg.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return nil
}

func buildRuntime(cfg config.Config, bus *eventbus.Bus) (*agent.Runtime, error) {
	def, err := agent.LoadDefinition(cfg.AgentFile)
	if err != nil {
		return nil, err
	}
	var responder agent.Responder
	switch cfg.Responder {
	case config.ResponderOpenAI:
		r, err := agent.NewOpenAIResponder(agent.OpenAIConfig{
			BaseURL: cfg.OpenAIBaseURL,
			APIKey:  cfg.OpenAIAPIKey,
			Model:   cfg.OpenAIModel,
		})
		if err != nil {
			return nil, errors.Wrap(err, "build openai responder")
		}
		responder = r
	default:
		responder = agent.EchoResponder{Delay: 20 * time.Millisecond}
	}
	rt, err := agent.NewRuntime(agent.RuntimeOptions{
		Definition: def,
		Responder:  responder,
		Bus:        bus,
	})
	if err != nil {
		return nil, errors.Wrap(err, "build agent runtime")
	}
	log.Info().Str("component", "server").Str("agent", def.Name).Str("model", def.Model).Str("responder", cfg.Responder).Msg("agent runtime ready")
	return rt, nil
}

func buildTranscriptStore(cfg config.Config) (transcript.Store, error) {
	if cfg.TranscriptDB != "" {
		dsn, err := transcript.SQLiteDSNForFile(cfg.TranscriptDB)
		if err != nil {
			return nil, err
		}
		store, err := transcript.NewSQLiteStore(dsn)
		if err != nil {
			return nil, errors.Wrap(err, "open transcript db")
		}
		return store, nil
	}
	if cfg.TranscriptInMemMax > 0 {
		return transcript.NewInMemoryStore(cfg.TranscriptInMemMax), nil
	}
	return nil, nil
}

// resolveStatic prefers a static dir on disk and falls back to the embedded UI.
func resolveStatic(dir string) (fs.FS, error) {
	if dir != "" {
		if st, err := os.Stat(dir); err == nil && st.IsDir() {
			log.Info().Str("component", "server").Str("dir", dir).Msg("serving static files from disk")
			return os.DirFS(dir), nil
		}
		log.Warn().Str("component", "server").Str("dir", dir).Msg("static directory not found, serving embedded UI")
	}
	sub, err := fs.Sub(webFS, "web")
	if err != nil {
		return nil, errors.Wrap(err, "embedded ui")
	}
	return sub, nil
}

func (s *Server) Registry() *relay.MemoryRegistry { return s.registry }

func (s *Server) HTTPServer() *http.Server { return s.httpSrv }

// Run serves HTTP until ctx is cancelled or the listener fails, then shuts down.
func (s *Server) Run(ctx context.Context) error {
	if ctx == nil {
		return errors.New("ctx is nil")
	}
	if s == nil || s.httpSrv == nil {
		return errors.New("server is not initialized")
	}
	defer s.closeResources()

	eg, gctx := errgroup.WithContext(ctx)
	recCtx, recCancel := context.WithCancel(context.WithoutCancel(ctx))
	defer recCancel()

	s.registry.StartIdleSweeper(s.baseCtx)

	if s.recorder != nil {
		eg.Go(func() error { return s.recorder.Run(recCtx) })
	}

	eg.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("shutting down relay server")
		s.cancel()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		err := s.httpSrv.Shutdown(shutdownCtx)
		// hijacked websocket connections are not tracked by Shutdown
		s.registry.CloseAll()
		recCancel()
		if err != nil {
			log.Error().Err(err).Msg("server shutdown error")
			return err
		}
		log.Info().Msg("server shutdown complete")
		return nil
	})

	eg.Go(func() error {
		log.Info().Str("addr", s.httpSrv.Addr).Msg("starting agent relay server")
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("server listen error")
			return err
		}
		return nil
	})

	return eg.Wait()
}

// Close releases everything without serving. Run does this itself on exit.
func (s *Server) Close() error {
	if s.registry != nil {
		s.registry.CloseAll()
	}
	s.closeResources()
	return nil
}

func (s *Server) closeResources() {
	if s.cancel != nil {
		s.cancel()
	}
	if s.transcripts != nil {
		if err := s.transcripts.Close(); err != nil {
			log.Error().Err(err).Msg("transcript store close error")
		}
		s.transcripts = nil
	}
	if s.bus != nil {
		if err := s.bus.Close(); err != nil {
			log.Error().Err(err).Msg("event bus close error")
		}
		s.bus = nil
	}
}
