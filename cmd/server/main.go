package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"

	"secrethitler-lite/game/agent"
	"secrethitler-lite/internal/assistants"
	"secrethitler-lite/internal/auth"
	"secrethitler-lite/internal/config"
	"secrethitler-lite/internal/gateway"
	"secrethitler-lite/internal/ledger"
	"secrethitler-lite/internal/lobby"
	"secrethitler-lite/internal/otel"
	"secrethitler-lite/internal/report"
	"secrethitler-lite/internal/timeouts"
	"secrethitler-lite/transcript"
)

func main() {
	// A missing .env is fine; the environment may already be set.
	_ = godotenv.Load()

	cfg, err := config.ParseConfig(flag.CommandLine, os.Args[1:])
	if err != nil {
		log.Fatalf("[Server] Invalid configuration: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := otel.Setup(ctx, "secrethitler-lite")
	if err != nil {
		log.Printf("[Server] Tracing disabled: %v", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), timeouts.Shutdown)
		defer cancel()
		if err := shutdownTracing(sctx); err != nil {
			log.Printf("[Server] Tracing shutdown: %v", err)
		}
	}()

	providers, err := providerFactory(cfg)
	if err != nil {
		log.Fatalf("[Server] Failed to init provider: %v", err)
	}

	ledgerService, ledgerMode, err := ledger.NewServiceFromEnv(cfg.LedgerMode)
	if err != nil {
		log.Fatalf("[Server] Failed to init ledger service: %v", err)
	}
	defer ledgerService.Close()

	authService, authMode, err := auth.NewServiceFromEnv(cfg.AuthMode, auth.Options{
		SessionTTL:       cfg.SessionTTL,
		OpenRegistration: cfg.OpenRegistration,
	})
	if err != nil {
		log.Fatalf("[Server] Failed to init auth manager: %v", err)
	}
	defer authService.Close()
	password := cfg.OperatorPassword
	if password == "" {
		password = uuid.NewString()
		log.Printf("[Server] Generated operator password for %s: %s", cfg.OperatorUser, password)
	}
	if _, err := authService.EnsureAccount(cfg.OperatorUser, password); err != nil {
		log.Fatalf("[Server] Failed to create operator account: %v", err)
	}

	lobbyOpts := lobby.Options{
		Providers:    providers,
		ClientConfig: cfg.ClientConfig(),
		Seed:         cfg.Seed,
		ShuffleSeats: cfg.ShuffleSeats,
		MaxRounds:    cfg.MaxRounds,
		Parallelism:  cfg.Parallelism,
		Ledger:       ledgerService,
	}
	// The gateway reads backlogs from the lobby and the lobby publishes to
	// the gateway, so the gateway gets a lazily bound backlog.
	backlog := &lobbyBacklog{}
	gw := gateway.New(authService, backlog)
	lobbyOpts.Publisher = gw.Sink()
	lby, err := lobby.New(lobbyOpts)
	if err != nil {
		log.Fatalf("[Server] Failed to init lobby: %v", err)
	}
	backlog.lobby = lby

	var srv *http.Server
	if cfg.Addr != "" {
		mux := http.NewServeMux()
		mux.HandleFunc("/ws", gw.HandleWebSocket)
		mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
			w.Write([]byte("ok"))
		})
		auth.NewHTTPHandler(authService, cfg.OpenRegistration).RegisterRoutes(mux)
		ledger.NewHTTPHandler(authService, ledgerService).RegisterRoutes(mux)

		srv = &http.Server{Addr: cfg.Addr, Handler: mux, ReadHeaderTimeout: timeouts.ReadHeader}
		go func() {
			log.Printf("[Server] Listening on %s", cfg.Addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Printf("[Server] HTTP server stopped: %v", err)
				stop()
			}
		}()
	}

	log.Printf("[Server] Provider: %s", providerName(cfg))
	log.Printf("[Server] Auth mode: %s", authMode)
	log.Printf("[Server] Ledger mode: %s", ledgerMode)
	log.Printf("[Server] Running %d game(s), parallelism %d", cfg.Games, cfg.Parallelism)

	start := time.Now()
	infos, err := lby.RunBatch(ctx, cfg.Games)
	if err != nil && !errors.Is(err, context.Canceled) {
		log.Printf("[Server] Batch error: %v", err)
	}
	if len(infos) > 0 {
		format := report.ChooseFormat(cfg.Report, os.Stdout)
		if werr := report.Write(os.Stdout, format, report.Build(infos, time.Since(start))); werr != nil {
			log.Printf("[Server] Failed to write report: %v", werr)
		}
	}

	if srv != nil {
		if ctx.Err() == nil {
			log.Printf("[Server] Batch finished; serving until interrupted")
			<-ctx.Done()
		}
		sctx, cancel := context.WithTimeout(context.Background(), timeouts.Shutdown)
		defer cancel()
		if err := srv.Shutdown(sctx); err != nil {
			log.Printf("[Server] Shutdown: %v", err)
		}
	}
}

func providerName(cfg config.Config) string {
	if cfg.UseAssistants() {
		return "assistants (" + cfg.Model + ")"
	}
	return "rule"
}

// providerFactory returns the per-instance provider constructor.
func providerFactory(cfg config.Config) (lobby.ProviderFactory, error) {
	registry, err := agent.DefaultRegistry()
	if err != nil {
		return nil, err
	}
	if cfg.PersonasPath != "" {
		if err := registry.LoadFromFile(cfg.PersonasPath); err != nil {
			return nil, err
		}
	}
	if cfg.UseAssistants() {
		return func(int64) (agent.Provider, error) {
			return assistants.New(assistants.Config{
				APIKey:   cfg.APIKey,
				BaseURL:  cfg.BaseURL,
				Model:    cfg.Model,
				Registry: registry,
			})
		}, nil
	}
	return func(seed int64) (agent.Provider, error) {
		if seed == 0 {
			seed = time.Now().UnixNano()
		}
		return agent.NewRuleProvider(registry, seed), nil
	}, nil
}

type lobbyBacklog struct {
	lobby *lobby.Lobby
}

func (b *lobbyBacklog) Records(gameID string) ([]transcript.Record, bool) {
	if b.lobby == nil {
		return nil, false
	}
	return b.lobby.Records(gameID)
}
