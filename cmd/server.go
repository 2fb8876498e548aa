package main

import (
	"context"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"procodus.dev/telemetry-hub/internal/backend"
	"procodus.dev/telemetry-hub/internal/telemetry"
)

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Run the telemetry server",
	Long: `Run the telemetry server that:
- Receives radio frames on POST /data and network readings on POST /upload
- Optionally consumes both transports from RabbitMQ
- Persists every reading to SQLite or PostgreSQL
- Serves the snapshot, logs, orientation, export and login API`,
	RunE: runServer,
}

func init() {
	rootCmd.AddCommand(serverCmd)

	// Server-specific flags
	serverCmd.Flags().Int("http-port", 5000, "HTTP server port")
	serverCmd.Flags().String("db-driver", "sqlite", "database driver (sqlite, postgres)")
	serverCmd.Flags().String("db-path", "telemetry.db", "SQLite database file")
	serverCmd.Flags().String("db-host", "localhost", "PostgreSQL host")
	serverCmd.Flags().Int("db-port", 5432, "PostgreSQL port")
	serverCmd.Flags().String("db-user", "postgres", "PostgreSQL user")
	serverCmd.Flags().String("db-password", "", "PostgreSQL password")
	serverCmd.Flags().String("db-name", "telemetry", "PostgreSQL database name")
	serverCmd.Flags().String("db-sslmode", "disable", "PostgreSQL SSL mode")
	serverCmd.Flags().String("rabbitmq-url", "", "RabbitMQ URL (empty disables queue ingestion)")
	serverCmd.Flags().String("redis-addr", "", "Redis address for ingest counters (empty keeps them in memory)")
	serverCmd.Flags().Bool("debug", false, "run the HTTP router in debug mode")

	// Bind flags to viper
	_ = viper.BindPFlag("server.http.port", serverCmd.Flags().Lookup("http-port"))
	_ = viper.BindPFlag("server.db.driver", serverCmd.Flags().Lookup("db-driver"))
	_ = viper.BindPFlag("server.db.path", serverCmd.Flags().Lookup("db-path"))
	_ = viper.BindPFlag("server.db.host", serverCmd.Flags().Lookup("db-host"))
	_ = viper.BindPFlag("server.db.port", serverCmd.Flags().Lookup("db-port"))
	_ = viper.BindPFlag("server.db.user", serverCmd.Flags().Lookup("db-user"))
	_ = viper.BindPFlag("server.db.password", serverCmd.Flags().Lookup("db-password"))
	_ = viper.BindPFlag("server.db.name", serverCmd.Flags().Lookup("db-name"))
	_ = viper.BindPFlag("server.db.sslmode", serverCmd.Flags().Lookup("db-sslmode"))
	_ = viper.BindPFlag("server.rabbitmq.url", serverCmd.Flags().Lookup("rabbitmq-url"))
	_ = viper.BindPFlag("server.redis.addr", serverCmd.Flags().Lookup("redis-addr"))
	_ = viper.BindPFlag("server.debug", serverCmd.Flags().Lookup("debug"))
}

func runServer(_ *cobra.Command, _ []string) error {
	logger, closer, err := GetLogger()
	if err != nil {
		return err
	}
	defer closer.Close()

	logger.Info("starting telemetry server")

	// Create server configuration from viper
	config := &backend.ServerConfig{
		Logger:   logger,
		HTTPHost: viper.GetString("server.http.host"),
		HTTPPort: viper.GetInt("server.http.port"),
		DB: telemetry.DBConfig{
			Driver:   viper.GetString("server.db.driver"),
			Path:     viper.GetString("server.db.path"),
			Host:     viper.GetString("server.db.host"),
			Port:     viper.GetInt("server.db.port"),
			User:     viper.GetString("server.db.user"),
			Password: viper.GetString("server.db.password"),
			DBName:   viper.GetString("server.db.name"),
			SSLMode:  viper.GetString("server.db.sslmode"),
		},
		RabbitMQURL:       viper.GetString("server.rabbitmq.url"),
		RadioQueue:        viper.GetString("server.rabbitmq.radio_queue"),
		NetworkQueue:      viper.GetString("server.rabbitmq.network_queue"),
		ConsumerReadyWait: viper.GetDuration("server.rabbitmq.ready_timeout"),
		RedisAddr:         viper.GetString("server.redis.addr"),
		RedisPassword:     viper.GetString("server.redis.password"),
		RedisDB:           viper.GetInt("server.redis.db"),
		AuthUsername:      viper.GetString("server.auth.username"),
		AuthPasswordHash:  viper.GetString("server.auth.password_hash"),
		CORSOrigins:       viper.GetStringSlice("server.cors.origins"),
		RateLimit:         viper.GetFloat64("server.rate_limit.rps"),
		RateBurst:         viper.GetInt("server.rate_limit.burst"),
		Debug:             viper.GetBool("server.debug"),
	}

	// Create and run server
	server, err := backend.NewServer(config)
	if err != nil {
		logger.Error("failed to create telemetry server", "error", err)
		return err
	}

	logger.Info("telemetry server configuration",
		"http_port", config.HTTPPort,
		"db_driver", config.DB.Driver,
		"db_path", config.DB.Path,
		"db_host", config.DB.Host,
		"rabbitmq_enabled", config.RabbitMQURL != "",
		"radio_queue", config.RadioQueue,
		"network_queue", config.NetworkQueue,
		"redis_enabled", config.RedisAddr != "",
		"auth_enabled", config.AuthUsername != "",
		"rate_limit", config.RateLimit,
	)

	if err := server.Run(context.Background()); err != nil {
		logger.Error("telemetry server error", "error", err)
		return err
	}

	logger.Info("telemetry server stopped")
	return nil
}
