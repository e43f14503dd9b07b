package runtime

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/humanoid-lab/motion-bridge/internal/bridge"
	appconfig "github.com/humanoid-lab/motion-bridge/internal/config"
	apphttp "github.com/humanoid-lab/motion-bridge/internal/http"
	applogger "github.com/humanoid-lab/motion-bridge/internal/logger"
	"github.com/humanoid-lab/motion-bridge/internal/motion"
	"github.com/humanoid-lab/motion-bridge/internal/session"
	"github.com/humanoid-lab/motion-bridge/internal/store"
	"github.com/humanoid-lab/motion-bridge/internal/ws"
	"github.com/humanoid-lab/motion-bridge/pkg/mogen"
)

// Server wires the generation client, converter, store, execution bridge and
// session controller together behind one HTTP observation surface.
type Server struct {
	cfg        appconfig.Config
	logger     *zap.Logger
	server     *http.Server
	generator  *mogen.Client
	bridge     *bridge.Bridge
	motions    *store.Store
	controller *session.Controller

	cancel context.CancelFunc
}

// New executes the new function.
func New(configPath string) (*Server, error) {
	cfg, err := appconfig.LoadConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("load bridge config: %w", err)
	}

	logger, err := applogger.New(cfg.Log)
	if err != nil {
		logger, _ = zap.NewProduction()
	}
	logger.Info("bridge config loaded",
		zap.String("config_path", configPath),
		zap.String("root_dir", cfg.RootDir),
		zap.String("http_addr", cfg.HTTPAddr),
		zap.String("backend_url", cfg.Generation.BackendURL),
	)

	mapping, err := buildMapping(cfg)
	if err != nil {
		return nil, fmt.Errorf("load robot profile: %w", err)
	}

	motions, err := store.Open(cfg.Store.Dir, logger)
	if err != nil {
		return nil, fmt.Errorf("open motion store: %w", err)
	}

	generator := mogen.NewClient(mogen.Config{
		BackendURL:      cfg.Generation.BackendURL,
		DialTimeout:     cfg.Generation.DialTimeout(),
		RequestTimeout:  cfg.Generation.RequestTimeout(),
		MaxPayloadBytes: cfg.Generation.MaxPayloadBytes,
	}, logger)

	execBridge, err := bridge.New(bridge.Config{
		CommandAddr:  net.JoinHostPort(cfg.Executor.CommandHost, strconv.Itoa(cfg.Executor.CommandPort)),
		FeedbackAddr: net.JoinHostPort(cfg.Executor.FeedbackHost, strconv.Itoa(cfg.Executor.FeedbackPort)),
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("dial execution bridge: %w", err)
	}

	var wsHandler *ws.Handler
	controller := session.New(session.Options{
		AutoDefaultOnComplete: cfg.Session.AutoDefaultOnComplete,
		RetainCount:           cfg.Session.RetainCount,
		GetUpClip:             cfg.Executor.GetUpClip,
		MotionLengthSec:       cfg.Generation.MotionLengthSec,
		InferenceSteps:        cfg.Generation.InferenceSteps,
		Smoothing: motion.SmoothingOptions{
			Adaptive:     cfg.Generation.AdaptiveSmooth,
			StaticStart:  cfg.Generation.StaticStart,
			StaticFrames: cfg.Generation.StaticFrames,
			BlendFrames:  cfg.Generation.BlendFrames,
		},
		Notify: func(msg string) {
			logger.Info("session notice", zap.String("message", msg))
			if wsHandler != nil {
				wsHandler.BroadcastNotice(msg)
			}
		},
		OnState: func(state session.State) {
			if wsHandler != nil {
				wsHandler.BroadcastState(state)
			}
		},
	}, generator, execBridge, motions, motion.NewConverter(mapping), logger)
	wsHandler = ws.NewHandler(controller, logger)

	router := apphttp.NewRouter(controller, motions, wsHandler, logger)
	httpServer := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: router,
	}

	return &Server{
		cfg:        cfg,
		logger:     logger,
		server:     httpServer,
		generator:  generator,
		bridge:     execBridge,
		motions:    motions,
		controller: controller,
	}, nil
}

func buildMapping(cfg appconfig.Config) (*motion.Mapping, error) {
	if cfg.RobotProfile == "" {
		return motion.DefaultMapping(), nil
	}
	profile, err := appconfig.ReadRobotProfile(cfg.RobotProfile)
	if err != nil {
		return nil, err
	}
	return motion.NewMapping(profile.GeneratorJointOrder, profile.ControllerJointOrder)
}

// Controller returns the session controller for direct input feeds (stdin).
func (s *Server) Controller() *session.Controller {
	return s.controller
}

// Addr executes the addr method.
func (s *Server) Addr() string {
	if s == nil || s.server == nil {
		return ""
	}
	return s.server.Addr
}

// Run starts the session loop, the feedback listener and the HTTP server.
// It blocks until the server stops.
func (s *Server) Run() error {
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel

	go s.controller.Run(ctx)

	if err := s.bridge.Listen(ctx, s.controller.HandleFeedback); err != nil {
		cancel()
		return fmt.Errorf("listen for executor feedback: %w", err)
	}

	s.logger.Info("starting http server", zap.String("addr", s.cfg.HTTPAddr))
	err := s.server.ListenAndServe()
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown executes the shutdown method.
func (s *Server) Shutdown(ctx context.Context) error {
	if s == nil {
		return nil
	}
	if s.cancel != nil {
		s.cancel()
	}
	err := s.server.Shutdown(ctx)
	if errors.Is(err, http.ErrServerClosed) {
		err = nil
	}
	s.bridge.Close()
	s.generator.Close()
	s.logger.Sync()
	return err
}
