package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dpcore/statement-service/internal/config"
	"github.com/dpcore/statement-service/internal/doc"
	"github.com/dpcore/statement-service/internal/domain"
	"github.com/dpcore/statement-service/internal/email"
	"github.com/dpcore/statement-service/internal/export"
	"github.com/dpcore/statement-service/internal/exportstore"
	"github.com/dpcore/statement-service/internal/filestore"
	"github.com/dpcore/statement-service/internal/jobstore"
	"github.com/dpcore/statement-service/internal/members"
	"github.com/dpcore/statement-service/internal/render"
	"github.com/dpcore/statement-service/internal/worker"
	"github.com/dpcore/statement-service/shared/logger"
	"github.com/dpcore/statement-service/shared/postgresql"
	"github.com/dpcore/statement-service/shared/rabbitmq"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables or flags")
	}

	defaultConfigPath := os.Getenv("WORKER_SERVICE_CONFIG_PATH")
	if defaultConfigPath == "" {
		defaultConfigPath = "configs/worker-service/config.yaml"
	}
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.ValidateWorkerConfig(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	appLogger, err := initLogger(&cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	appLogger.Info("Starting worker service",
		slog.String("app", cfg.App.Name),
		slog.String("version", cfg.App.Version),
		slog.String("environment", cfg.App.Environment),
	)

	dbClient, err := initPostgreSQL(&cfg.Database, appLogger.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer dbClient.Close()

	if err := dbClient.Migrate(); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	appLogger.Info("Database connection established")

	var nudges <-chan string
	var rabbitClient *rabbitmq.Client
	if cfg.RabbitMQ.Enabled {
		rabbitClient, err = initRabbitMQ(&cfg.RabbitMQ, appLogger.Logger)
		if err != nil {
			return fmt.Errorf("failed to initialize RabbitMQ: %w", err)
		}
		defer rabbitClient.Close()

		nudges, err = consumeNudges(rabbitClient)
		if err != nil {
			return fmt.Errorf("failed to consume nudges: %w", err)
		}
		appLogger.Info("RabbitMQ nudge channel established")
	} else {
		appLogger.Info("RabbitMQ disabled; polling alone drives the worker")
	}

	key, err := members.KeyFromHex(cfg.EncryptionKey)
	if err != nil {
		return fmt.Errorf("invalid encryption key: %w", err)
	}

	files, err := initFilestore(context.Background(), &cfg.Storage, appLogger.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize file storage: %w", err)
	}

	builder, err := doc.NewBuilder()
	if err != nil {
		return fmt.Errorf("failed to build document templates: %w", err)
	}

	db := dbClient.GetDB()
	jobs := jobstore.NewStore(db, appLogger.Logger, cfg.Worker.MaxBackoff, cfg.Worker.DefaultMaxAttempts)
	exports := exportstore.NewStore(db, appLogger.Logger)
	source := members.NewSource(db, key, appLogger.Logger)
	engine := render.NewHTTPEngine(cfg.Renderer.BaseURL, cfg.Renderer.Token, cfg.Renderer.SessionTimeout, appLogger.Logger)

	exportHandler := export.NewHandler(
		exports,
		source,
		builder,
		engine,
		jobs,
		files,
		export.Options{
			ChunkSize:         cfg.Export.ChunkSize,
			RenderConcurrency: cfg.Export.RenderConcurrency,
			MemberRetries:     cfg.Export.MemberRetries,
			MemberRetryDelay:  cfg.Export.MemberRetryDelay,
			RenderTimeout:     cfg.Export.RenderTimeout,
			ArchivePrefix:     cfg.Export.ArchivePrefix,
		},
		appLogger.Logger,
	)

	mailer := email.NewClient(cfg.Mailer.BaseURL, cfg.Mailer.Token, "no-reply@statements.local", cfg.Mailer.Timeout, appLogger.Logger)
	emailHandler := email.NewHandler(mailer, source, source, appLogger.Logger)

	w := worker.New(jobs, nudges, worker.Options{
		QueueName:       cfg.Worker.Queue,
		PollInterval:    cfg.Worker.PollInterval,
		MaxActiveJobs:   cfg.Worker.MaxActiveJobs,
		ShutdownTimeout: cfg.Worker.ShutdownTimeout,
		StaleAfter:      cfg.Worker.StaleAfter,
		ReclaimInterval: cfg.Worker.ReclaimInterval,
	}, appLogger.Logger)

	w.Register(domain.JobKindBatchExport, exportHandler)
	w.Register(domain.JobKindNoPlayEmail, emailHandler)

	if cfg.Worker.MetricsPort > 0 {
		go serveMetrics(cfg.Worker.MetricsPort, appLogger.Logger)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return w.Start(ctx)
}

// serveMetrics exposes Prometheus metrics on a dedicated port.
func serveMetrics(port int, logger *slog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	addr := fmt.Sprintf(":%d", port)
	logger.Info("Serving metrics", slog.String("address", addr))

	if err := http.ListenAndServe(addr, mux); err != nil && err != http.ErrServerClosed {
		logger.Error("Metrics server failed", slog.Any("error", err))
	}
}

// consumeNudges adapts AMQP deliveries to the worker's wake-up channel.
func consumeNudges(client *rabbitmq.Client) (<-chan string, error) {
	deliveries, err := client.ConsumeNudges("statement-worker")
	if err != nil {
		return nil, err
	}

	nudges := make(chan string)
	go func() {
		defer close(nudges)
		for d := range deliveries {
			nudges <- string(d.Body)
		}
	}()

	return nudges, nil
}

// initLogger initializes and configures the application logger
func initLogger(cfg *config.LoggingConfig) (*logger.Logger, error) {
	loggerCfg := &logger.Config{
		Level:        cfg.Level,
		Format:       cfg.Format,
		Output:       cfg.Output,
		EnableSource: cfg.EnableCaller,
		TimeFormat:   time.RFC3339,
	}

	return logger.New(loggerCfg)
}

// initPostgreSQL initializes the PostgreSQL database client
func initPostgreSQL(cfg *config.DatabaseConfig, logger *slog.Logger) (*postgresql.Client, error) {
	dbConfig := &postgresql.Config{
		Host:            cfg.Host,
		Port:            cfg.Port,
		User:            cfg.User,
		Password:        cfg.Password,
		Database:        cfg.Database,
		SSLMode:         cfg.SSLMode,
		MaxOpenConns:    cfg.MaxOpenConns,
		MaxIdleConns:    cfg.MaxIdleConns,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
		ConnMaxIdleTime: cfg.ConnMaxIdleTime,
	}

	return postgresql.NewClient(dbConfig, logger)
}

// initRabbitMQ initializes the nudge channel client
func initRabbitMQ(cfg *config.RabbitMQConfig, logger *slog.Logger) (*rabbitmq.Client, error) {
	rabbitConfig := &rabbitmq.Config{
		Host:          cfg.Host,
		Port:          cfg.Port,
		User:          cfg.User,
		Password:      cfg.Password,
		VHost:         cfg.VHost,
		Exchange:      cfg.Exchange,
		Queue:         cfg.Queue,
		RoutingKey:    cfg.RoutingKey,
		RetryAttempts: cfg.RetryAttempts,
		RetryInterval: cfg.RetryInterval,
		Heartbeat:     cfg.Heartbeat,
	}

	return rabbitmq.NewClient(rabbitConfig, logger)
}

// initFilestore selects the archive storage backend
func initFilestore(ctx context.Context, cfg *config.StorageConfig, logger *slog.Logger) (filestore.Store, error) {
	switch cfg.Backend {
	case "s3":
		return filestore.NewS3(ctx, filestore.S3Config{
			Endpoint:  cfg.S3.Endpoint,
			Bucket:    cfg.S3.Bucket,
			AccessKey: cfg.S3.AccessKey,
			SecretKey: cfg.S3.SecretKey,
			UseSSL:    cfg.S3.UseSSL,
		}, logger)
	default:
		return filestore.NewLocal(cfg.LocalDir, logger)
	}
}
