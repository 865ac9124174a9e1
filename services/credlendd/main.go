package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"credlend/config"
	"credlend/core"
	"credlend/core/events"
	"credlend/core/state"
	"credlend/crypto"
	"credlend/gateway/middleware"
	"credlend/gateway/routes"
	"credlend/native/lending"
	"credlend/observability/logging"
	"credlend/storage"
)

func main() {
	var cfgPath string
	flag.StringVar(&cfgPath, "config", "services/credlendd/config.yaml", "path to credlendd config")
	flag.Parse()

	cfg, err := LoadConfig(cfgPath)
	if err != nil {
		logging.Setup(logging.Options{Service: "credlendd"}).Error("load config", "error", err)
		os.Exit(1)
	}

	log := logging.Setup(logging.Options{
		Service:  "credlendd",
		Env:      cfg.Environment,
		Level:    cfg.LogLevel,
		FilePath: cfg.LogFile,
	})
	if err := cfg.Validate(); err != nil {
		log.Error("invalid config", "error", err)
		os.Exit(1)
	}
	log.Info("configuration loaded", "config", cfg.Sanitized())

	nodeCfg, err := config.Load(cfg.NodeConfigPath)
	if err != nil {
		log.Error("load node config", "error", err)
		os.Exit(1)
	}

	if err := os.MkdirAll(nodeCfg.DataDir, 0o755); err != nil {
		log.Error("create data dir", "error", err)
		os.Exit(1)
	}
	db, err := storage.NewLevelDB(filepath.Join(nodeCfg.DataDir, "state"))
	if err != nil {
		log.Error("open state database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	journal, err := events.OpenJournal(nodeCfg.JournalPath, log)
	if err != nil {
		log.Error("open event journal", "error", err)
		os.Exit(1)
	}
	defer journal.Close()

	module := core.NewLendingModule(state.NewManager(db),
		core.WithJournal(journal),
		core.WithPolicy(nodeCfg.Policy),
		core.WithPauses(nodeCfg.Pauses),
		core.WithLogger(log),
	)

	if err := applyGenesis(module, nodeCfg.Genesis); err != nil {
		log.Error("apply genesis", "error", err)
		os.Exit(1)
	}

	handler := routes.New(routes.Config{
		Module:  module,
		Journal: journal,
		Authenticator: middleware.NewAuthenticator(middleware.AuthConfig{
			Enabled:    cfg.AuthEnabled,
			HMACSecret: cfg.AuthSecret,
			Issuer:     cfg.AuthIssuer,
			Audience:   cfg.AuthAudience,
		}, log),
		RateLimiter: middleware.NewRateLimiter(map[string]middleware.RateLimit{
			"api": {RequestsPerMinute: cfg.RateLimitPerMin, Burst: cfg.RateLimitBurst},
		}, log),
		Observability: middleware.NewObservability(middleware.ObservabilityConfig{
			ServiceName: "credlendd",
			Enabled:     cfg.MetricsEnabled,
			LogRequests: cfg.LogRequests,
		}, log),
		RateLimitKey: "api",
		Logger:       log,
	})

	server := &http.Server{
		Addr:              cfg.Listen,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	serverErr := make(chan error, 1)
	go func() {
		log.Info("credlendd listening", "address", cfg.Listen)
		serverErr <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		log.Info("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Warn("forcing server stop", "error", err)
			_ = server.Close()
		}
	case err := <-serverErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("serve http", "error", err)
			os.Exit(1)
		}
	}
}

// applyGenesis initializes the protocol on first boot when the node config
// names a founding admin. An already-initialized store is left untouched.
func applyGenesis(module *core.LendingModule, genesis config.GenesisConfig) error {
	admin := strings.TrimSpace(genesis.FoundingAdmin)
	if admin == "" {
		return nil
	}
	if _, err := module.GetConfig(); err == nil {
		return nil
	} else if !errors.Is(err, lending.ErrNotInitialized) {
		return err
	}
	addr, err := crypto.DecodeAddress(admin)
	if err != nil {
		return err
	}
	_, err = module.Initialize(addr, genesis.TokenA, genesis.TokenB, genesis.Params())
	return err
}
