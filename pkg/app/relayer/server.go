// Package relayer implements app.Runner for the bridge runtime process.
package relayer

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/omnibridge/bridge-runtime/pkg/app/httpserver"
	"github.com/omnibridge/bridge-runtime/pkg/bitcoinadapter"
	"github.com/omnibridge/bridge-runtime/pkg/config"
	"github.com/omnibridge/bridge-runtime/pkg/db"
	"github.com/omnibridge/bridge-runtime/pkg/ethereum"
	"github.com/omnibridge/bridge-runtime/pkg/indexer"
	"github.com/omnibridge/bridge-runtime/pkg/ledger"
	"github.com/omnibridge/bridge-runtime/pkg/reconciler"
	"github.com/omnibridge/bridge-runtime/pkg/relayer"
	"github.com/omnibridge/bridge-runtime/pkg/signer"
)

// TODO: take these from config
const (
	defaultGracefulShutdownTimeout = 30 * time.Second
	defaultHTTPMiddlewareTimeout   = 60 * time.Second
	defaultHTTPReadTimeout         = 15 * time.Second
	defaultHTTPWriteTimeout        = 15 * time.Second
	defaultHTTPIdleTimeout         = 60 * time.Second

	defaultLogRingCapacity = 1024
)

// Server holds configuration for the bridge runtime process.
type Server struct {
	cfg *config.Config
}

// NewServer initializes a new bridge runtime Server.
func NewServer(cfg *config.Config) *Server {
	return &Server{cfg: cfg}
}

// Run starts the bridge engine and the operational HTTP server.
// It blocks until an OS shutdown signal is received or a fatal server error occurs.
func (s *Server) Run() error {
	if s.cfg == nil {
		return fmt.Errorf("nil config")
	}
	cfg := s.cfg

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger, logRing, err := config.NewLoggerWithRing(cfg.Logging, defaultLogRingCapacity)
	if err != nil {
		return fmt.Errorf("create logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("Starting bridge runtime")

	store, err := db.NewStore(cfg.Database.GetConnectionString())
	if err != nil {
		return fmt.Errorf("connect bridge db: %w", err)
	}
	defer func() { _ = store.Close() }()
	logger.Info("Database connection established")

	evmClient, err := ethereum.NewClient(ctx, cfg.Evm, logger.Named("evm"))
	if err != nil {
		return fmt.Errorf("initialize evm client: %w", err)
	}
	defer evmClient.Close()

	signerBackend, err := s.buildSigner(ctx, store)
	if err != nil {
		return fmt.Errorf("initialize signer: %w", err)
	}

	deps := &relayer.Deps{
		Store:    store,
		EVM:      evmClient,
		Signer:   signerBackend,
		Indexers: indexer.New(cfg.Indexer),
		Config:   *cfg,
		Logger:   logger.Named("engine"),
	}

	var btcClient *bitcoinadapter.Client
	if cfg.Bitcoin.AdapterAddr != "" {
		conn, err := bitcoinadapter.Dial(cfg.Bitcoin)
		if err != nil {
			return fmt.Errorf("dial bitcoin adapter: %w", err)
		}
		btcClient = bitcoinadapter.NewClient(conn)
		defer func() { _ = btcClient.Close() }()
		deps.Bitcoin = btcClient
		logger.Info("Bitcoin adapter connected", zap.String("addr", cfg.Bitcoin.AdapterAddr))
	}

	if cfg.Ledger.AdapterAddr != "" {
		conn, err := ledger.Dial(cfg.Ledger)
		if err != nil {
			return fmt.Errorf("dial allowance ledger: %w", err)
		}
		ledgerClient := ledger.NewClient(conn, cfg.Ledger.BridgeAccount)
		defer func() { _ = ledgerClient.Close() }()
		deps.Ledger = ledgerClient
		logger.Info("Allowance ledger connected", zap.String("addr", cfg.Ledger.AdapterAddr))
	}

	// The lease identity must be unique per process instance even across
	// pid reuse, so it carries a random component.
	hostname, _ := os.Hostname()
	engine := relayer.New(deps, fmt.Sprintf("%s:%d:%s", hostname, os.Getpid(), uuid.NewString()[:8]))
	if err := engine.Start(ctx); err != nil {
		return fmt.Errorf("start bridge engine: %w", err)
	}
	defer engine.Stop()

	stopReconcile := s.startReconciler(store, btcClient, signerBackend, logger)
	defer stopReconcile()

	router := s.newRouter(store, evmClient, engine, logRing, logger)

	serverAddr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	httpServer := newHTTPServer(serverAddr, router)

	err = httpserver.ServeAndWait(ctx, logger, httpServer, defaultGracefulShutdownTimeout)

	// Stop background work before deferred client closes kick in.
	stopReconcile()

	return err
}

func (s *Server) buildSigner(ctx context.Context, store *db.Store) (signer.Signer, error) {
	switch s.cfg.Signer.Backend {
	case config.SignerBackendPlatform:
		return signer.NewPlatformSigner(ctx, s.cfg.Signer)
	default:
		return signer.NewLocalSigner(ctx, store, s.cfg.Signer)
	}
}

func (s *Server) startReconciler(store *db.Store, btc *bitcoinadapter.Client, signerBackend signer.Signer, logger *zap.Logger) func() {
	if btc == nil {
		return func() {}
	}
	rec := reconciler.New(store, btc, bridgeFundingAddress(signerBackend, s.cfg.Bitcoin.Network), logger.Named("reconciler"))
	rec.StartPeriodicReconciliation(s.cfg.Evm.PollingInterval * 4)
	return rec.Stop
}

// bridgeFundingAddress resolves the bridge's own P2WPKH funding address
// when the signer backend can derive it; empty disables UTXO refresh.
func bridgeFundingAddress(signerBackend signer.Signer, network string) string {
	seeder, ok := signerBackend.(interface{ BitcoinFundingAddress(string) (string, error) })
	if !ok {
		return ""
	}
	addr, err := seeder.BitcoinFundingAddress(network)
	if err != nil {
		return ""
	}
	return addr
}

func (s *Server) newRouter(store *db.Store, evmClient *ethereum.Client, engine *relayer.Engine, logRing *config.LogRing, logger *zap.Logger) http.Handler {
	cfg := s.cfg

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(defaultHTTPMiddlewareTimeout))

	// NOTE: chi's middleware.Logger logs to stdlib.
	// Keep it temporarily if access logs are useful; replace with zap-based middleware later.
	r.Use(middleware.Logger)

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	r.Get("/ready", func(w http.ResponseWriter, _ *http.Request) {
		if !engine.IsReady() {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("NOT_READY"))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("READY"))
	})

	if cfg.Monitoring.Enabled {
		r.Handle("/metrics", promhttp.Handler())
		logger.Info("Metrics enabled", zap.String("path", "/metrics"))
	}

	cp := newControlPlane(store, evmClient, cfg, logRing)
	cp.routes(r)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/operations", handleListOperations(store, logger))
	})

	return r
}

func newHTTPServer(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  defaultHTTPReadTimeout,
		WriteTimeout: defaultHTTPWriteTimeout,
		IdleTimeout:  defaultHTTPIdleTimeout,
	}
}
