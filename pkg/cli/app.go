package cli

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/ekaya-inc/golden-engine/pkg/adapters/datasource"
	"github.com/ekaya-inc/golden-engine/pkg/config"
	"github.com/ekaya-inc/golden-engine/pkg/crypto"
	"github.com/ekaya-inc/golden-engine/pkg/database"
	"github.com/ekaya-inc/golden-engine/pkg/lock"
	"github.com/ekaya-inc/golden-engine/pkg/logging"
	"github.com/ekaya-inc/golden-engine/pkg/metrics"
	"github.com/ekaya-inc/golden-engine/pkg/repositories"
	"github.com/ekaya-inc/golden-engine/pkg/services"
)

const scanLockPrefix = "golden-engine:scan:"

// app is the composition root: it owns the store pool, the source connection
// manager and every service, and hands them to commands.
type app struct {
	cfg     *config.Config
	logger  *zap.Logger
	db      *database.DB
	redis   *redis.Client
	connMgr *datasource.ConnectionManager
	metrics *metrics.Metrics

	rules    services.RuleService
	sources  services.SourceService
	identity services.IdentityService
	scanner  services.ScannerService
	worker   services.IdentityWorker
}

// loadBase loads configuration and builds the logger.
func loadBase(opts *rootOptions) (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load(opts.configPath, opts.version)
	if err != nil {
		return nil, nil, err
	}
	if opts.logLevel != "" {
		cfg.Logging.Level = opts.logLevel
	}

	logger, err := logging.NewLogger(cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create logger: %w", err)
	}
	return cfg, logger, nil
}

// connectStore opens the engine's own PostgreSQL store.
func connectStore(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*database.DB, error) {
	logger.Info("Connecting to store",
		zap.String("host", cfg.Database.Host),
		zap.Int("port", cfg.Database.Port),
		zap.String("database", cfg.Database.Database),
		zap.String("url", logging.SanitizeConnectionString(cfg.Database.URL)))

	return database.NewConnection(ctx, &database.Config{
		URL:            cfg.Database.ConnectionString(),
		MaxConnections: cfg.Database.MaxConnections,
	})
}

func newApp(ctx context.Context, opts *rootOptions) (*app, error) {
	cfg, logger, err := loadBase(opts)
	if err != nil {
		return nil, err
	}

	if cfg.CredentialsKey == "" {
		return nil, fmt.Errorf("PROJECT_CREDENTIALS_KEY is required to seal source passwords")
	}
	encryptor, err := crypto.NewCredentialEncryptor(cfg.CredentialsKey)
	if err != nil {
		return nil, fmt.Errorf("invalid PROJECT_CREDENTIALS_KEY: %w", err)
	}

	db, err := connectStore(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	redisClient, err := database.NewRedisClient(ctx, &cfg.Redis)
	if err != nil {
		db.Close()
		return nil, err
	}
	if redisClient == nil {
		logger.Debug("Redis not configured, scan locks disabled")
	}

	connMgr := datasource.NewConnectionManager(datasource.ConnectionManagerConfig{
		TTLMinutes:   cfg.Datasource.ConnectionTTLMinutes,
		PoolMaxConns: cfg.Datasource.PoolMaxConns,
		PoolMinConns: cfg.Datasource.PoolMinConns,
	}, logger)

	a := &app{
		cfg:     cfg,
		logger:  logger,
		db:      db,
		redis:   redisClient,
		connMgr: connMgr,
		metrics: metrics.New(),
	}

	ruleRepo := repositories.NewIdentityRuleRepository(db)
	objectRepo := repositories.NewGoldenObjectRepository(db)
	sourceRepo := repositories.NewSourceRepository(db)
	runRepo := repositories.NewScanRunRepository(db)
	profileRepo := repositories.NewProfileRepository(db)
	candidateRepo := repositories.NewCandidateRepository(db)

	factory := datasource.NewProfilerFactory(a.connMgr, logger)

	a.rules = services.NewRuleService(ruleRepo, logger)
	a.sources = services.NewSourceService(sourceRepo, encryptor, cfg.Scanner.LoopbackAlias, logger)
	a.identity = services.NewIdentityService(ruleRepo, objectRepo, a.metrics, logger)
	a.scanner = services.NewScannerService(
		a.sources,
		factory,
		services.NewScanRunTracker(runRepo, a.metrics, logger),
		profileRepo,
		candidateRepo,
		objectRepo,
		lock.New(redisClient, scanLockPrefix),
		cfg.Scanner,
		a.metrics,
		logger,
	)
	a.worker = services.NewIdentityWorker(a.sources, factory, a.identity, a.metrics, logger)

	return a, nil
}

func (a *app) Close() {
	if err := a.connMgr.Close(); err != nil {
		a.logger.Warn("Failed to close source connections", zap.Error(err))
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.logger.Warn("Failed to close redis client", zap.Error(err))
		}
	}
	a.db.Close()
	_ = a.logger.Sync()
}
