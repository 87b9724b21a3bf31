package main

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/nerrad567/warden-core/internal/api"
	"github.com/nerrad567/warden-core/internal/audit"
	"github.com/nerrad567/warden-core/internal/auth"
	"github.com/nerrad567/warden-core/internal/infrastructure/config"
	"github.com/nerrad567/warden-core/internal/infrastructure/database"
	"github.com/nerrad567/warden-core/internal/infrastructure/influxdb"
	"github.com/nerrad567/warden-core/internal/infrastructure/logging"
	"github.com/nerrad567/warden-core/internal/infrastructure/mqtt"
	"github.com/nerrad567/warden-core/internal/metrics"
	"github.com/nerrad567/warden-core/internal/ratelimit"
	"github.com/nerrad567/warden-core/internal/security/hasher"
	"github.com/nerrad567/warden-core/migrations"
)

const (
	// tokenSweepInterval is how often expired refresh tokens are purged.
	tokenSweepInterval = time.Hour

	// redisPingTimeout bounds the startup probe of the rate limit store.
	redisPingTimeout = 3 * time.Second

	menuCacheName = "menus"
)

// runServe wires every component and serves the API until ctx ends.
//
// The database is required. MQTT and InfluxDB are optional and only
// connected when enabled in config; a failure to reach an enabled
// integration aborts startup.
func runServe(ctx context.Context, configPath string) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	log := newLogger(cfg, configPath)
	log.Info("starting Warden Core",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	db, err := openDatabase(ctx, cfg.Database, log)
	if err != nil {
		return err
	}
	defer func() {
		log.Info("closing database")
		if closeErr := db.Close(); closeErr != nil {
			log.Error("error closing database", "error", closeErr)
		}
	}()

	if migrateErr := db.Migrate(ctx, migrations.FS); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	log.Info("database migrations complete")

	health := map[string]api.HealthChecker{"database": db}
	m := metrics.New()

	var mqttClient *mqtt.Client
	if cfg.MQTT.Enabled {
		mqttClient, err = mqtt.Connect(cfg.MQTT)
		if err != nil {
			return fmt.Errorf("connecting to MQTT: %w", err)
		}
		defer func() {
			log.Info("disconnecting from MQTT")
			if closeErr := mqttClient.Close(); closeErr != nil {
				log.Error("error closing MQTT", "error", closeErr)
			}
		}()
		mqttClient.SetLogger(log.Component("mqtt"))
		mqttClient.SetOnConnect(func() {
			log.Info("MQTT reconnected")
		})
		mqttClient.SetOnDisconnect(func(err error) {
			log.Warn("MQTT disconnected", "error", err)
		})
		health["mqtt"] = mqttClient
		log.Info("MQTT connected",
			"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
			"client_id", cfg.MQTT.Broker.ClientID,
		)
	} else {
		log.Info("MQTT disabled")
	}

	var influxClient *influxdb.Client
	if cfg.InfluxDB.Enabled {
		influxClient, err = influxdb.Connect(cfg.InfluxDB)
		if err != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", err)
		}
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
		health["influxdb"] = influxClient
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)
	} else {
		log.Info("InfluxDB disabled")
	}

	// Audit trail: SQLite first, then bus and telemetry fan-out.
	auditRepo := audit.NewSQLiteRepository(db.DB)
	var recOpts []audit.RecorderOption
	if mqttClient != nil {
		recOpts = append(recOpts, audit.WithPublisher(mqttClient, auth.ActionTokenReuse, auth.ActionMenuCycle))
	}
	if influxClient != nil {
		recOpts = append(recOpts, audit.WithPointWriter(influxClient))
	}
	recorder := audit.NewRecorder(auditRepo, log.Component("audit"), recOpts...)
	defer recorder.Close()

	resolver := auth.NewResolver(auth.NewPermissionStore(db.DB),
		auth.WithMenuCache(cfg.Cache.MenuTTL),
		auth.WithCycleHandler(func(ctx context.Context, err error) {
			m.ObserveMenuCycle()
			recorder.Record(ctx, &audit.AuditLog{
				Action:     auth.ActionMenuCycle,
				EntityType: "menu",
				Source:     "resolver",
				Details:    map[string]any{"error": err.Error()},
			})
		}),
	)

	menus := auth.NewMenuRepository(db.DB, auth.WithMenuChangeHook(func() {
		resolver.InvalidateMenus()
		if mqttClient == nil {
			return
		}
		payload := map[string]any{
			"source": cfg.MQTT.Broker.ClientID,
			"at":     time.Now().UTC().Format(time.RFC3339),
		}
		if pubErr := mqttClient.PublishJSON(mqtt.Topics{}.CacheInvalidate(menuCacheName), payload); pubErr != nil {
			log.Warn("publishing menu invalidation failed", "error", pubErr)
		}
	}))
	if mqttClient != nil {
		// Peers changing menus invalidate our cache too.
		topic := mqtt.Topics{}.CacheInvalidate(menuCacheName)
		if subErr := mqttClient.Subscribe(topic, byte(cfg.MQTT.QoS), func(string, []byte) error { //nolint:gosec // QoS validated to 0..2
			resolver.InvalidateMenus()
			return nil
		}); subErr != nil {
			return fmt.Errorf("subscribing to %s: %w", topic, subErr)
		}
	}

	limiter, closeLimiter, err := newLimiter(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer closeLimiter()

	var observer auth.Observer = m
	if influxClient != nil {
		observer = hashTelemetry{Metrics: m, influx: influxClient}
	}

	users := auth.NewUserRepository(db.DB)
	tokens := auth.NewTokenRepository(db.DB)
	svc, err := newAuthService(cfg, authWiring{
		db:       db,
		resolver: resolver,
		users:    users,
		tokens:   tokens,
		recorder: recorder,
		limiter:  limiter,
		observer: observer,
		logger:   log.Component("auth"),
	})
	if err != nil {
		return err
	}

	srv, err := api.New(api.Deps{
		Config:   cfg.API,
		Logger:   log.Component("api"),
		Service:  svc,
		Resolver: resolver,
		Users:    users,
		Roles:    auth.NewRoleRepository(db.DB),
		Menus:    menus,
		Elements: auth.NewElementRepository(db.DB),
		Audit:    auditRepo,
		Recorder: recorder,
		Metrics:  m,
		Health:   health,
		Version:  version,
	})
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}
	if startErr := srv.Start(ctx); startErr != nil {
		return fmt.Errorf("starting API server: %w", startErr)
	}
	defer func() {
		log.Info("stopping API server")
		if closeErr := srv.Close(); closeErr != nil {
			log.Error("error stopping API server", "error", closeErr)
		}
	}()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		sweepExpiredTokens(gctx, tokens, tokenSweepInterval, log)
		return nil
	})

	log.Info("initialisation complete, waiting for shutdown signal", "addr", srv.Addr())

	<-ctx.Done()

	log.Info("shutdown signal received, cleaning up")
	if waitErr := g.Wait(); waitErr != nil {
		log.Error("background task failed", "error", waitErr)
	}

	log.Info("Warden Core stopped")
	return nil
}

// openDatabase opens the SQLite store described by cfg.
func openDatabase(ctx context.Context, cfg config.DatabaseConfig, log *logging.Logger) (*database.DB, error) {
	db, err := database.Open(ctx, database.Config{
		Path:        cfg.Path,
		WALMode:     cfg.WALMode,
		BusyTimeout: cfg.BusyTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	log.Info("database connected", "path", cfg.Path)
	return db, nil
}

// authWiring carries the collaborators newAuthService does not build itself.
// tokens, limiter and observer may be nil.
type authWiring struct {
	db       *database.DB
	resolver *auth.Resolver
	users    auth.UserRepository
	tokens   auth.TokenRepository
	recorder auth.AuditRecorder
	limiter  auth.RateLimiter
	observer auth.Observer
	logger   *logging.Logger
}

// newAuthService builds the issuer and hasher pool from config and returns
// the session service.
func newAuthService(cfg *config.Config, w authWiring) (*auth.Service, error) {
	jwtCfg := cfg.Security.JWT
	issuer, err := auth.NewIssuer(auth.IssuerConfig{
		AccessSecret:  []byte(jwtCfg.AccessSecret),
		RefreshSecret: []byte(jwtCfg.RefreshSecret),
		Issuer:        jwtCfg.Issuer,
		AccessTTL:     jwtCfg.AccessTokenTTL,
		RefreshTTL:    jwtCfg.RefreshTokenTTL,
	}, w.resolver)
	if err != nil {
		return nil, fmt.Errorf("creating token issuer: %w", err)
	}

	h, err := hasher.New(cfg.Security.Hashing.Iterations)
	if err != nil {
		return nil, fmt.Errorf("creating password hasher: %w", err)
	}

	tokens := w.tokens
	if tokens == nil {
		tokens = auth.NewTokenRepository(w.db.DB)
	}

	svc, err := auth.NewService(auth.ServiceDeps{
		Users:    w.users,
		Tokens:   tokens,
		Issuer:   issuer,
		Roles:    w.resolver,
		Hasher:   hasher.NewPool(h, cfg.Security.Hashing.Workers),
		Limiter:  w.limiter,
		Audit:    w.recorder,
		Observer: w.observer,
		Logger:   w.logger,
	})
	if err != nil {
		return nil, fmt.Errorf("creating auth service: %w", err)
	}
	return svc, nil
}

// newLimiter returns the login limiter selected by config, or nil when rate
// limiting is off. The returned func releases the backing store.
func newLimiter(ctx context.Context, cfg *config.Config, log *logging.Logger) (auth.RateLimiter, func(), error) {
	rl := cfg.Security.RateLimit
	limitCfg := ratelimit.Config{MaxAttempts: rl.MaxAttempts, Window: rl.Window}
	noop := func() {}

	if !rl.Enabled {
		log.Warn("login rate limiting disabled")
		return nil, noop, nil
	}

	if rl.Backend != "redis" {
		l, err := ratelimit.NewMemoryLimiter(limitCfg)
		if err != nil {
			return nil, noop, fmt.Errorf("creating rate limiter: %w", err)
		}
		log.Info("login rate limiting enabled", "backend", "memory", "max_attempts", rl.MaxAttempts, "window", rl.Window)
		return l, noop, nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	closeClient := func() {
		if err := client.Close(); err != nil {
			log.Error("error closing redis", "error", err)
		}
	}

	// The limiter fails open, so an unreachable Redis at boot is a warning.
	pingCtx, cancel := context.WithTimeout(ctx, redisPingTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		log.Warn("redis unreachable, login throttling inactive until it recovers", "addr", cfg.Redis.Addr, "error", err)
	}

	l, err := ratelimit.NewRedisLimiter(client, cfg.Redis.Prefix, limitCfg)
	if err != nil {
		closeClient()
		return nil, noop, fmt.Errorf("creating rate limiter: %w", err)
	}
	log.Info("login rate limiting enabled", "backend", "redis", "addr", cfg.Redis.Addr)
	return l, closeClient, nil
}

// hashTelemetry reports derivation timings to Prometheus and InfluxDB.
type hashTelemetry struct {
	*metrics.Metrics
	influx *influxdb.Client
}

func (h hashTelemetry) ObserveHash(d time.Duration) {
	h.Metrics.ObserveHash(d)
	h.influx.WriteHashDuration(d)
}

// tokenPurger deletes expired refresh tokens.
type tokenPurger interface {
	DeleteExpired(ctx context.Context) (int64, error)
}

// sweepExpiredTokens purges expired refresh tokens every interval until ctx ends.
func sweepExpiredTokens(ctx context.Context, tokens tokenPurger, interval time.Duration, log *logging.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := tokens.DeleteExpired(ctx)
			if err != nil {
				log.Warn("purging expired refresh tokens failed", "error", err)
				continue
			}
			if n > 0 {
				log.Debug("purged expired refresh tokens", "count", n)
			}
		}
	}
}
