// Package main provides the entry point for the credential server
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/credential-engine/go-core/internal/api/rest"
	"github.com/credential-engine/go-core/internal/audit"
	"github.com/credential-engine/go-core/internal/cache"
	"github.com/credential-engine/go-core/internal/credential"
	"github.com/credential-engine/go-core/internal/db"
	"github.com/credential-engine/go-core/internal/delegation"
	"github.com/credential-engine/go-core/internal/metrics"
	"github.com/credential-engine/go-core/internal/policy"
	"github.com/credential-engine/go-core/internal/scope"
)

var (
	// Version information (set at build time)
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

func main() {
	var (
		httpPort        = flag.Int("http-port", 8080, "HTTP server port")
		logLevel        = flag.String("log-level", "info", "Log level (debug, info, warn, error)")
		logFormat       = flag.String("log-format", "json", "Log format (json, console)")
		showVersion     = flag.Bool("version", false, "Show version information")
		databaseURL     = flag.String("database-url", "", "PostgreSQL URL (empty: in-memory stores)")
		dbMaxConns      = flag.Int("db-max-conns", 20, "Maximum database connections")
		redisAddr       = flag.String("redis-addr", "", "Redis address for the revocation cache (empty: in-process cache)")
		redisPassword   = flag.String("redis-password", "", "Redis password")
		scopeTablePath  = flag.String("scope-table", "", "Path to the YAML scope implication table")
		policyFile      = flag.String("policy-file", "", "Path to a YAML policy file (watched for changes)")
		issuer          = flag.String("issuer", "credential-engine", "Issuer name embedded in tokens")
		signingSecret   = flag.String("signing-secret", "", "Token signing secret (or CREDSVC_SIGNING_SECRET)")
		clientID        = flag.String("root-client-id", "", "Client id allowed to request root credentials")
		clientSecret    = flag.String("root-client-secret", "", "Secret for the root client (or CREDSVC_ROOT_CLIENT_SECRET)")
		defaultTTL      = flag.Duration("default-ttl", 15*time.Minute, "Default credential TTL")
		maxTTL          = flag.Duration("max-ttl", time.Hour, "Maximum credential TTL")
		maxDepth        = flag.Int("max-delegation-depth", 10, "Maximum delegation chain depth")
		cascade         = flag.Bool("revocation-cascade", false, "Revoke the subtree under a revoked credential")
		sensitiveScopes = flag.String("sensitive-scopes", "", "Comma-separated scopes requiring step-up before delegation")
		auditFile       = flag.String("audit-file", "", "Optional JSONL audit mirror path")
		gracefulTimeout = flag.Duration("shutdown-timeout", 30*time.Second, "Graceful shutdown timeout")
	)
	flag.Parse()

	if *showVersion {
		fmt.Printf("credential-server %s\n", Version)
		fmt.Printf("  Build Time: %s\n", BuildTime)
		fmt.Printf("  Git Commit: %s\n", GitCommit)
		os.Exit(0)
	}

	logger, err := initLogger(*logLevel, *logFormat)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("Starting credential server",
		zap.String("version", Version),
		zap.Int("http_port", *httpPort),
	)

	secret := *signingSecret
	if secret == "" {
		secret = os.Getenv("CREDSVC_SIGNING_SECRET")
	}
	if secret == "" {
		logger.Fatal("A signing secret is required (-signing-secret or CREDSVC_SIGNING_SECRET)")
	}

	// Scope registry
	var table *scope.Table
	if *scopeTablePath != "" {
		table, err = scope.LoadTable(*scopeTablePath)
		if err != nil {
			logger.Fatal("Failed to load scope table", zap.Error(err))
		}
	}
	registry, err := scope.NewRegistry(scope.DefaultConfig(), table)
	if err != nil {
		logger.Fatal("Failed to build scope registry", zap.Error(err))
	}

	// Policy store with optional file loading and hot reload
	policyStore := policy.NewMemoryStore()
	if *policyFile != "" {
		loader := policy.NewLoader(logger)
		policies, err := loader.LoadFromFile(*policyFile)
		if err != nil {
			logger.Fatal("Failed to load policies", zap.Error(err))
		}
		if err := policyStore.Replace(policies); err != nil {
			logger.Fatal("Failed to install policies", zap.Error(err))
		}
		logger.Info("Policies loaded", zap.Int("count", len(policies)))

		watcher, err := policy.NewFileWatcher(*policyFile, policyStore, loader, logger)
		if err != nil {
			logger.Fatal("Failed to watch policy file", zap.Error(err))
		}
		if err := watcher.Watch(context.Background()); err != nil {
			logger.Fatal("Failed to start policy watcher", zap.Error(err))
		}
		defer watcher.Stop()
	}

	evaluator, err := policy.NewEvaluator(policy.Config{}, logger)
	if err != nil {
		logger.Fatal("Failed to create policy evaluator", zap.Error(err))
	}

	// Persistence
	var (
		credStore  credential.Store
		eventStore audit.EventStore
		grantStore delegation.GrantStore
		credSource audit.CredentialSource
	)
	if *databaseURL != "" {
		conn, err := db.Connect(*databaseURL, *dbMaxConns)
		if err != nil {
			logger.Fatal("Failed to connect to database", zap.Error(err))
		}
		defer conn.Close()

		runner, err := db.NewMigrationRunner(conn, logger)
		if err != nil {
			logger.Fatal("Failed to create migration runner", zap.Error(err))
		}
		if err := runner.Up(); err != nil {
			logger.Fatal("Failed to run migrations", zap.Error(err))
		}

		pgCreds := credential.NewPostgresStore(conn)
		credStore = pgCreds
		credSource = pgCreds
		eventStore = audit.NewPostgresEventStore(conn)
		grantStore = delegation.NewPostgresGrantStore(conn)
		logger.Info("Using PostgreSQL stores")
	} else {
		memCreds := credential.NewMemoryStore()
		credStore = memCreds
		credSource = memCreds
		eventStore = audit.NewMemoryEventStore()
		grantStore = delegation.NewMemoryGrantStore()
		logger.Warn("Using in-memory stores; state is lost on restart")
	}

	// Optional audit file mirror
	var mirror *audit.FileWriter
	if *auditFile != "" {
		mirror, err = audit.NewFileWriter(*auditFile, 100, 30, 10)
		if err != nil {
			logger.Fatal("Failed to open audit mirror", zap.Error(err))
		}
		defer mirror.Close()
	}

	auditor, err := audit.NewIndexer(audit.DefaultConfig(), eventStore, credSource, mirror, logger)
	if err != nil {
		logger.Fatal("Failed to create audit indexer", zap.Error(err))
	}

	// Revocation cache
	var revCache credential.RevocationCache
	if *redisAddr != "" {
		redisCfg := cache.DefaultRedisConfig()
		redisCfg.Addr = *redisAddr
		redisCfg.Password = *redisPassword
		redisCache, err := cache.NewRedisRevocationCache(context.Background(), redisCfg)
		if err != nil {
			logger.Fatal("Failed to connect to redis", zap.Error(err))
		}
		defer redisCache.Close()
		revCache = redisCache
		logger.Info("Using Redis revocation cache", zap.String("addr", *redisAddr))
	} else {
		revCache = cache.NewMemoryRevocationCache()
	}

	// Token issuer and root clients
	tokens, err := credential.NewTokenIssuer(secret, *issuer)
	if err != nil {
		logger.Fatal("Failed to create token issuer", zap.Error(err))
	}
	clients := credential.NewClientRegistry()
	if *clientID != "" {
		rootSecret := *clientSecret
		if rootSecret == "" {
			rootSecret = os.Getenv("CREDSVC_ROOT_CLIENT_SECRET")
		}
		if rootSecret == "" {
			logger.Fatal("Root client configured without a secret")
		}
		if err := clients.Register(*clientID, rootSecret); err != nil {
			logger.Fatal("Failed to register root client", zap.Error(err))
		}
	}

	engineCfg := credential.Config{
		Issuer:             *issuer,
		DefaultTTL:         *defaultTTL,
		MaxTTL:             *maxTTL,
		MaxDelegationDepth: *maxDepth,
		RevocationCascade:  *cascade,
	}
	engine, err := credential.NewEngine(engineCfg, credStore, registry, policyStore,
		evaluator, tokens, clients, auditor, revCache, logger)
	if err != nil {
		logger.Fatal("Failed to create credential engine", zap.Error(err))
	}

	// Delegation manager with step-up
	stepup := delegation.NewStepUpService(5*time.Minute, auditor)
	managerCfg := delegation.DefaultConfig()
	if *sensitiveScopes != "" {
		managerCfg.SensitiveScopes = strings.Split(*sensitiveScopes, ",")
	}
	manager, err := delegation.NewManager(managerCfg, grantStore, engine, registry,
		stepup, auditor, logger)
	if err != nil {
		logger.Fatal("Failed to create delegation manager", zap.Error(err))
	}

	m := metrics.New("credsvc")

	restCfg := rest.DefaultConfig()
	restCfg.Port = *httpPort
	restCfg.Version = Version
	srv, err := rest.New(restCfg, engine, manager, stepup, policyStore, evaluator,
		registry, auditor, m, logger)
	if err != nil {
		logger.Fatal("Failed to create REST server", zap.Error(err))
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("Received shutdown signal", zap.String("signal", sig.String()))
	case err := <-errCh:
		logger.Error("Server error", zap.Error(err))
	}

	ctx, cancel := context.WithTimeout(context.Background(), *gracefulTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("Shutdown error", zap.Error(err))
	}
	logger.Info("Server stopped")
}

func initLogger(level, format string) (*zap.Logger, error) {
	var zapLevel zapcore.Level
	switch level {
	case "debug":
		zapLevel = zapcore.DebugLevel
	case "info":
		zapLevel = zapcore.InfoLevel
	case "warn":
		zapLevel = zapcore.WarnLevel
	case "error":
		zapLevel = zapcore.ErrorLevel
	default:
		zapLevel = zapcore.InfoLevel
	}

	var config zap.Config
	if format == "console" {
		config = zap.NewDevelopmentConfig()
	} else {
		config = zap.NewProductionConfig()
	}
	config.Level = zap.NewAtomicLevelAt(zapLevel)

	return config.Build()
}
