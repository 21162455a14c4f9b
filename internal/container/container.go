// Package container wires configuration into services and adapters.
package container

import (
	"context"

	"github.com/jmoiron/sqlx"

	"sleepstage/adapters/healthapi"
	"sleepstage/adapters/jsonexport"
	"sleepstage/adapters/mqtt"
	"sleepstage/adapters/postgres"
	"sleepstage/adapters/redis"
	"sleepstage/app"
	"sleepstage/domain/core"
	"sleepstage/internal"
	"sleepstage/internal/api"
	"sleepstage/internal/classifier"
	"sleepstage/internal/config"
	"sleepstage/internal/errors"
	"sleepstage/internal/migration"
	"sleepstage/internal/validation"
	"sleepstage/ports"

	goredis "github.com/go-redis/redis/v8"
)

// Container holds all application dependencies and manages their lifecycle
type Container struct {
	Config *config.Config
	Logger *internal.Logger

	// Infrastructure
	DB     *sqlx.DB
	Redis  *goredis.Client
	Broker mqtt.Broker

	// Ports
	Models ports.ModelRepository
	Runs   ports.TrainingRunRepository
	Vitals ports.VitalsSource

	// Services
	Breathing *mqtt.BreathingFeed
	SSEHub    *api.SSEHub
	Training  *app.TrainingService
	Tracking  *app.TrackingService
}

// New creates a container. Nothing is connected until Init.
func New(cfg *config.Config, logger *internal.Logger) (*Container, error) {
	if cfg == nil {
		return nil, errors.ConfigInvalid("config cannot be nil")
	}
	if logger == nil {
		logger = internal.NewNopLogger()
	}
	return &Container{Config: cfg, Logger: logger}, nil
}

// Init opens the database, runs migrations and builds every service.
// Redis and MQTT are optional and skipped when not configured.
func (c *Container) Init(ctx context.Context) error {
	db, err := postgres.Open(ctx, c.Config.Database.Driver, c.Config.Database.URL)
	if err != nil {
		return errors.Wrap(err, "opening database")
	}
	return c.InitWithDatabase(ctx, db)
}

// InitWithDatabase builds the container on an already-open database.
func (c *Container) InitWithDatabase(ctx context.Context, db *sqlx.DB) error {
	if db == nil {
		return errors.ConfigInvalid("database connection cannot be nil")
	}
	c.DB = db
	if err := migration.NewRunner().Run(ctx, db); err != nil {
		return errors.Wrap(err, "database migration failed")
	}

	if err := c.initRepositories(ctx); err != nil {
		return err
	}
	if err := c.initVitals(); err != nil {
		return err
	}
	if err := c.initMessaging(); err != nil {
		return err
	}
	c.initServices()

	c.Logger.Info("[Container] initialized (driver=%s, redis=%t, mqtt=%t)",
		c.Config.Database.Driver, c.Redis != nil, c.Broker != nil)
	return nil
}

func (c *Container) initRepositories(ctx context.Context) error {
	var models ports.ModelRepository = postgres.NewModelRepository(c.DB, c.Logger)
	if c.Config.Redis.Addr != "" {
		c.Redis = redis.NewClient(c.Config.Redis.Addr, c.Config.Redis.Password, c.Config.Redis.DB)
		if err := redis.Ping(ctx, c.Redis); err != nil {
			return errors.Wrap(err, "connecting to redis")
		}
		models = redis.NewModelCache(c.Redis, models, c.Config.Redis.TTL, c.Logger)
	}
	c.Models = models
	c.Runs = postgres.NewTrainingRunRepository(c.DB)
	return nil
}

func (c *Container) initVitals() error {
	h := c.Config.HealthAPI
	switch {
	case h.ExportFile != "":
		c.Vitals = jsonexport.NewFileSource(h.ExportFile, c.Logger)
	case h.BaseURL != "":
		c.Vitals = healthapi.NewClient(h, c.Logger)
	default:
		return errors.ConfigInvalid("HEALTH_API_URL or HEALTH_EXPORT_FILE is required")
	}
	return nil
}

func (c *Container) initMessaging() error {
	c.SSEHub = api.NewSSEHub(c.Logger)
	if c.Config.MQTT.Broker == "" {
		return nil
	}
	client, err := mqtt.NewClient(c.Config.MQTT, c.Logger)
	if err != nil {
		return errors.Wrap(err, "connecting to mqtt")
	}
	c.Broker = client
	c.Breathing = mqtt.NewBreathingFeed(c.Config.MQTT.BreathingTopic, c.Logger)
	if err := c.Breathing.Subscribe(client); err != nil {
		return errors.Wrap(err, "subscribing to breathing summaries")
	}
	return nil
}

func (c *Container) initServices() {
	cfg := c.Config
	harnessCfg := validation.DefaultConfig()
	harnessCfg.Workers = cfg.Training.CVWorkers
	harnessCfg.Classifier = ClassifierConfig(cfg.Classifier)

	c.Training = app.NewTrainingService(c.Vitals, c.Models,
		app.WithTrainingLogger(c.Logger),
		app.WithMaxNights(cfg.Training.MaxNights),
		app.WithDefaultHoursBack(cfg.Training.HoursBack),
		app.WithRunRecorder(c.Runs),
		app.WithHarness(validation.NewHarness(harnessCfg, validation.WithLogger(c.Logger))),
	)

	trackingCfg := app.DefaultTrackingConfig()
	trackingCfg.Classifier = ClassifierConfig(cfg.Classifier)
	trackingCfg.UseSmoother = cfg.Classifier.UseSmoother

	opts := []app.TrackingOption{
		app.WithTrackingLogger(c.Logger),
		app.WithPublisher(api.NewSSEEventPublisher(c.SSEHub)),
	}
	if c.Broker != nil {
		opts = append(opts,
			app.WithPublisher(mqtt.NewEventPublisher(c.Broker, cfg.MQTT.TopicPrefix)),
			app.WithUserAudio(func(userID core.UserID) ports.AudioSource { return c.Breathing.Source(userID) }),
		)
	}
	c.Tracking = app.NewTrackingService(trackingCfg, c.Training, opts...)
}

// ClassifierConfig overlays the configured knobs on the default constants.
func ClassifierConfig(cc config.ClassifierConfig) classifier.Config {
	out := classifier.DefaultConfig()
	out.UseLearnedAwakeParams = cc.UseLearnedAwakeParams
	out.UseRRFeature = cc.UseRRFeature
	out.AwakeConsecutiveTicks = cc.AwakeConsecutiveTicks
	out.RemConsecutiveTicks = cc.RemConsecutiveTicks
	return out
}

// Server builds the HTTP API over the container's services.
func (c *Container) Server() *api.Server {
	return api.NewServer(c.Tracking, c.Training, c.SSEHub, c.Logger)
}

// Shutdown releases connections in reverse order of creation
func (c *Container) Shutdown(ctx context.Context) error {
	if c.SSEHub != nil {
		c.SSEHub.Close()
	}
	if c.Broker != nil {
		c.Broker.Close()
	}
	if c.Redis != nil {
		c.Redis.Close()
	}
	if c.DB != nil {
		return c.DB.Close()
	}
	return nil
}
