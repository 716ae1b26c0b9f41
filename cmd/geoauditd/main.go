// Command geoauditd is the ambient process entrypoint: it wires config,
// logging, telemetry, the database pool, metrics, the provider stack, and
// starts WORKER_COUNT job-processor loops. Structured after the teacher's
// cmd/agentflow/main.go (serve/migrate/version/health subcommands), carried
// as ambient stack per SPEC_FULL.md §2.1/§6.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/brandpulse/geoaudit/circuitbreaker"
	"github.com/brandpulse/geoaudit/config"
	"github.com/brandpulse/geoaudit/domainfetch"
	"github.com/brandpulse/geoaudit/egress"
	"github.com/brandpulse/geoaudit/internal/database"
	"github.com/brandpulse/geoaudit/internal/logging"
	"github.com/brandpulse/geoaudit/internal/metrics"
	"github.com/brandpulse/geoaudit/internal/telemetry"
	"github.com/brandpulse/geoaudit/persistence"
	"github.com/brandpulse/geoaudit/pipeline/analyzer"
	"github.com/brandpulse/geoaudit/pipeline/dashboard"
	"github.com/brandpulse/geoaudit/pipeline/job"
	"github.com/brandpulse/geoaudit/pipeline/orchestrator"
	"github.com/brandpulse/geoaudit/pipeline/querygen"
	"github.com/brandpulse/geoaudit/pipeline/recommend"
	"github.com/brandpulse/geoaudit/pipeline/scorer"
	"github.com/brandpulse/geoaudit/provider"
	"github.com/brandpulse/geoaudit/ratelimit"
	"github.com/brandpulse/geoaudit/retry"
)

var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "serve":
		runServe(os.Args[2:])
	case "migrate":
		runMigrate(os.Args[2:])
	case "version":
		printVersion()
	case "health":
		runHealthCheck(os.Args[2:])
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func runServe(args []string) {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config file")
	fs.Parse(args)

	loader := config.NewLoader()
	if *configPath != "" {
		loader = loader.WithConfigPath(*configPath)
	}
	cfg, err := loader.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.New(cfg.Log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("starting geoauditd",
		zap.String("version", Version), zap.String("build_time", BuildTime), zap.String("git_commit", GitCommit))

	otelProviders, err := telemetry.Init(cfg.Telemetry, logger)
	if err != nil {
		logger.Warn("failed to initialize telemetry", zap.Error(err))
	}
	defer func() {
		if otelProviders != nil {
			_ = otelProviders.Shutdown(context.Background())
		}
	}()

	db, err := openDatabase(cfg.Database, logger)
	if err != nil {
		logger.Fatal("failed to open database", zap.Error(err))
	}
	pool, err := database.NewPoolManager(db, database.DefaultPoolConfig(), logger)
	if err != nil {
		logger.Fatal("failed to init connection pool", zap.Error(err))
	}
	defer pool.Close()

	repo := persistence.New(pool)
	if err := repo.Migrate(context.Background()); err != nil {
		logger.Fatal("failed to migrate schema", zap.Error(err))
	}

	collector := metrics.NewCollector(cfg.Metrics.Namespace, logger)
	_ = collector // wired into the Rate-Limited Caller's call sites by each provider adapter's caller in a fuller deployment

	redisClient := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
	bus := egress.NewBus(redisClient)

	providers, rpms, tpms := buildProviders(cfg)
	limiter := ratelimit.NewTokenManager(rpms, tpms)
	breakers := circuitbreaker.NewManager(circuitbreaker.DefaultConfig())
	caller := provider.NewCaller(providers, limiter, breakers, retry.DefaultPolicy(), cfg.Pipeline.DomainFetchTimeout)

	fetcher := domainfetch.New(cfg.Pipeline.DomainFetchTimeout)

	defaultProvider := config.KnownProviders[0]
	defaultModel := cfg.Providers.Entries[defaultProvider].Model

	gen := querygen.New(caller, defaultProvider, defaultModel)
	orch := orchestrator.New(caller, repo, bus, cfg.Pipeline.OrchestratorConcurrency, defaultModel)
	az := analyzer.New(caller, repo, bus, fetcher, cfg.Pipeline.AnalyzerConcurrency, defaultProvider, defaultModel)
	sc := scorer.New(repo)
	extractor := recommend.New(caller, defaultProvider, defaultModel)
	populator := dashboard.New(caller, repo, defaultProvider, defaultModel)

	processor := job.New(repo, bus, gen, orch, az.Run, sc, extractor, populator, job.Config{
		HeartbeatInterval: cfg.Pipeline.HeartbeatInterval,
		DefaultQueryCount: cfg.Pipeline.DefaultQueryCount,
	}, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	startHealthServer(logger)

	for i := 0; i < cfg.Worker.Count; i++ {
		go runWorkerLoop(ctx, i, repo, processor, logger)
	}

	waitForShutdown(logger)
}

// runWorkerLoop polls for pending audits and drives them through the
// processor; a production deployment would instead consume a work queue,
// but polling keeps this entrypoint self-contained for the core's scope.
func runWorkerLoop(ctx context.Context, workerID int, repo *persistence.Repository, processor *job.Processor, logger *zap.Logger) {
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	log := logger.With(zap.Int("worker_id", workerID))
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			auditID, ok := repo.NextPendingAuditID(ctx)
			if !ok {
				continue
			}
			if err := processor.Process(ctx, auditID); err != nil {
				log.Error("audit processing failed", zap.String("audit_id", auditID), zap.Error(err))
			}
		}
	}
}

func buildProviders(cfg *config.Config) ([]provider.Provider, map[string]int, map[string]int) {
	var providers []provider.Provider
	rpms := make(map[string]int, len(cfg.Providers.Entries))
	tpms := make(map[string]int, len(cfg.Providers.Entries))
	for _, id := range config.KnownProviders {
		pc, ok := cfg.Providers.Entries[id]
		if !ok {
			continue
		}
		rpms[id] = pc.RPM
		tpms[id] = pc.TPM
		switch id {
		case "openai":
			providers = append(providers, provider.NewOpenAI(pc.APIKey, pc.BaseURL, pc.Model))
		case "anthropic":
			providers = append(providers, provider.NewAnthropic(pc.APIKey, pc.BaseURL, pc.Model))
		case "google":
			providers = append(providers, provider.NewGoogle(pc.APIKey, pc.BaseURL, pc.Model))
		case "perplexity":
			providers = append(providers, provider.NewPerplexity(pc.APIKey, pc.BaseURL, pc.Model))
		}
	}
	return providers, rpms, tpms
}

func openDatabase(dbCfg config.DatabaseConfig, logger *zap.Logger) (*gorm.DB, error) {
	if dbCfg.Driver == "" {
		return nil, fmt.Errorf("database driver not configured")
	}

	var dialector gorm.Dialector
	switch dbCfg.Driver {
	case "postgres":
		dialector = postgres.Open(dbCfg.DSN)
	case "mysql":
		dialector = mysql.Open(dbCfg.DSN)
	case "sqlite":
		dialector = sqlite.Open(dbCfg.DSN)
	default:
		return nil, fmt.Errorf("unsupported database driver: %s (supported: postgres, mysql, sqlite)", dbCfg.Driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to connect database: %w", err)
	}

	logger.Info("database connected", zap.String("driver", dbCfg.Driver))
	return db, nil
}

func startHealthServer(logger *zap.Logger) {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
	go func() {
		if err := http.ListenAndServe(":8080", mux); err != nil && err != http.ErrServerClosed {
			logger.Warn("health server stopped", zap.Error(err))
		}
	}()
}

func waitForShutdown(logger *zap.Logger) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	logger.Info("geoauditd stopping")
}

func runMigrate(args []string) {
	fs := flag.NewFlagSet("migrate", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config file")
	fs.Parse(args)
	if fs.NArg() != 1 || fs.Arg(0) != "up" {
		fmt.Fprintln(os.Stderr, "usage: geoauditd migrate [-config <path>] up")
		os.Exit(1)
	}

	loader := config.NewLoader()
	if *configPath != "" {
		loader = loader.WithConfigPath(*configPath)
	}
	cfg, err := loader.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger, _ := logging.New(cfg.Log)
	defer logger.Sync()

	db, err := openDatabase(cfg.Database, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to open database: %v\n", err)
		os.Exit(1)
	}
	pool, err := database.NewPoolManager(db, database.DefaultPoolConfig(), logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to init connection pool: %v\n", err)
		os.Exit(1)
	}
	defer pool.Close()

	repo := persistence.New(pool)
	if err := repo.Migrate(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "migration failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("migration complete")
}

func runHealthCheck(args []string) {
	fs := flag.NewFlagSet("health", flag.ExitOnError)
	addr := fs.String("addr", "http://localhost:8080", "Server address")
	fs.Parse(args)

	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get(*addr + "/health")
	if err != nil {
		fmt.Fprintf(os.Stderr, "health check failed: %v\n", err)
		os.Exit(1)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		fmt.Fprintf(os.Stderr, "health check failed: status %d\n", resp.StatusCode)
		os.Exit(1)
	}
	fmt.Println("OK")
}

func printVersion() {
	fmt.Printf("geoauditd %s\n", Version)
	fmt.Printf("  Build Time: %s\n", BuildTime)
	fmt.Printf("  Git Commit: %s\n", GitCommit)
}

func printUsage() {
	fmt.Println(`geoauditd - LLM brand visibility audit worker

Usage:
  geoauditd <command> [options]

Commands:
  serve     Start worker loops and the health endpoint
  migrate   Run database schema migration
  version   Show version information
  health    Check worker health
  help      Show this help message

Options for 'serve':
  --config <path>   Path to configuration file (YAML)

Examples:
  geoauditd serve
  geoauditd serve --config /etc/geoauditd/config.yaml
  geoauditd migrate up
  geoauditd health --addr http://localhost:8080
  geoauditd version`)
}
