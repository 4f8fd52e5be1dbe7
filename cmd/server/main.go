package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/reflection"

	grpcAdapter "github.com/quentinrf/sky-quality-meter/internal/adapters/grpc"
	"github.com/quentinrf/sky-quality-meter/internal/adapters/httpapi"
	"github.com/quentinrf/sky-quality-meter/internal/adapters/influx"
	"github.com/quentinrf/sky-quality-meter/internal/adapters/memory"
	"github.com/quentinrf/sky-quality-meter/internal/adapters/mock"
	"github.com/quentinrf/sky-quality-meter/internal/adapters/serialport"
	"github.com/quentinrf/sky-quality-meter/internal/adapters/sqlite"
	"github.com/quentinrf/sky-quality-meter/internal/domain"
	"github.com/quentinrf/sky-quality-meter/internal/ports"
	"github.com/quentinrf/sky-quality-meter/pkg/tlsconfig"
)

// serialPollTimeout bounds each serial read; the meter applies the full answer timeout
const serialPollTimeout = 100 * time.Millisecond

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warn().Err(err).Msg("failed to load .env file")
	}

	// Read configuration from environment
	config := loadConfig()

	// Initialize logger
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	zerolog.SetGlobalLevel(config.LogLevel)
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	log.Info().Msg("starting sky quality gateway")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize repository
	var repo domain.MeasurementRepository
	switch config.RepoType {
	case "sqlite":
		r, err := sqlite.NewMeasurementRepository(config.DBPath)
		if err != nil {
			log.Fatal().Err(err).Str("db_path", config.DBPath).Msg("failed to open SQLite database")
		}
		defer r.Close()
		repo = r
		log.Info().Str("db_path", config.DBPath).Msg("initialized SQLite repository")
	default:
		repo = memory.NewMeasurementRepository()
		log.Info().Msg("initialized in-memory repository")
	}

	// Initialize meter
	meterConfig := serialport.MeterConfig{
		ReadTimeout: config.ReadTimeout,
		ResetDelay:  config.ResetDelay,
	}

	var meter *serialport.Meter
	switch config.MeterType {
	case "serial":
		if config.SerialPort == "" {
			log.Fatal().Msg("METER_TYPE=serial needs SERIAL_PORT")
		}
		port, err := serialport.Open(serialport.Config{
			Name:        config.SerialPort,
			BaudRate:    config.BaudRate,
			ReadTimeout: serialPollTimeout,
		})
		if err != nil {
			log.Fatal().Err(err).Str("port", config.SerialPort).Msg("failed to open serial port")
		}
		meter = serialport.NewMeter(port, meterConfig)
		log.Info().Str("port", config.SerialPort).Int("baud", config.BaudRate).Msg("initialized serial meter")
	default:
		sensor := mock.NewFakeSensor(1000, 200, 0.05) // about 52 lux
		conn := mock.StartSimulatedDevice(ctx, sensor, ports.DefaultDeviceConfig())
		meterConfig.ResetDelay = 0
		meter = serialport.NewMeter(conn, meterConfig)
		log.Info().Msg("initialized simulated meter")
	}
	defer meter.Close()

	if err := meter.Connect(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to connect to meter")
	}

	// Initialize sinks
	hub := httpapi.NewHub()
	defer hub.Close()
	sinks := []ports.MeasurementSink{hub}

	if config.Influx.URL != "" {
		sink := influx.NewSink(config.Influx)
		defer sink.Close()

		pingCtx, pingCancel := context.WithTimeout(ctx, 5*time.Second)
		if err := sink.Ping(pingCtx); err != nil {
			log.Warn().Err(err).Str("url", config.Influx.URL).Msg("InfluxDB not reachable, writes will be retried per reading")
		}
		pingCancel()

		sinks = append(sinks, sink)
		log.Info().Str("url", config.Influx.URL).Str("bucket", config.Influx.Bucket).Msg("InfluxDB sink enabled")
	}

	recorder := ports.NewRecorder(meter, repo, config.RecordInterval, config.Retention, sinks...)

	// Configure TLS if certificates are provided
	var serverOpts []grpc.ServerOption
	if config.TLS.Enabled() {
		tlsCfg, err := config.TLS.Server()
		if err != nil {
			log.Fatal().Err(err).Msg("failed to load TLS config")
		}
		serverOpts = append(serverOpts, grpc.Creds(credentials.NewTLS(tlsCfg)))
		log.Info().Msg("mTLS enabled")
	} else {
		log.Warn().Msg("TLS_CERT not set, starting without TLS (dev mode only)")
	}

	// Create gRPC server
	grpcServer := grpc.NewServer(serverOpts...)
	grpcAdapter.RegisterSkyQualityServer(grpcServer, grpcAdapter.NewSkyQualityHandler(repo, recorder))

	// Enable gRPC reflection for grpcurl testing
	reflection.Register(grpcServer)

	listener, err := net.Listen("tcp", fmt.Sprintf(":%s", config.Port))
	if err != nil {
		log.Fatal().Err(err).Msg("failed to listen")
	}

	log.Info().Str("port", config.Port).Msg("gRPC server listening")

	go func() {
		if err := grpcServer.Serve(listener); err != nil {
			log.Fatal().Err(err).Msg("failed to serve gRPC")
		}
	}()

	// Create HTTP server
	gin.SetMode(gin.ReleaseMode)
	router := httpapi.NewRouter()
	httpapi.NewServer(repo, recorder, hub).SetupRoutes(router)

	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%s", config.HTTPPort),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	log.Info().Str("port", config.HTTPPort).Msg("HTTP server listening")

	go func() {
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("failed to serve HTTP")
		}
	}()

	// Start background recorder
	go recorder.Start(ctx)

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down server...")

	// Graceful shutdown
	cancel() // Stop recorder and simulated meter

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	hub.Close()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP shutdown failed")
	}
	grpcServer.GracefulStop()

	log.Info().Msg("server stopped")
}

// Config holds application configuration
type Config struct {
	Port           string // gRPC
	HTTPPort       string
	RecordInterval time.Duration
	Retention      time.Duration
	RepoType       string // "memory" | "sqlite"
	DBPath         string // SQLite database file path (used when RepoType=sqlite)
	MeterType      string // "mock" | "serial"
	SerialPort     string
	BaudRate       int
	ReadTimeout    time.Duration
	ResetDelay     time.Duration
	Influx         influx.Config // disabled when URL is empty
	TLS            tlsconfig.Files
	LogLevel       zerolog.Level
}

// loadConfig reads configuration from environment variables
func loadConfig() Config {
	defaults := serialport.DefaultMeterConfig()

	meterType := getEnv("METER_TYPE", "")
	if meterType == "" {
		meterType = "mock"
		if os.Getenv("SERIAL_PORT") != "" {
			meterType = "serial"
		}
	}

	baud := serialport.DefaultBaudRate
	if v := os.Getenv("SERIAL_BAUD"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			baud = n
		}
	}

	level := zerolog.InfoLevel
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		if l, err := zerolog.ParseLevel(v); err == nil {
			level = l
		}
	}

	return Config{
		Port:           getEnv("PORT", "50051"),
		HTTPPort:       getEnv("HTTP_PORT", "8080"),
		RecordInterval: getDuration("RECORD_INTERVAL", 5*time.Minute),
		Retention:      getDuration("RETENTION", 30*24*time.Hour),
		RepoType:       getEnv("REPO_TYPE", "memory"),
		DBPath:         getEnv("DB_PATH", "./sky.db"),
		MeterType:      meterType,
		SerialPort:     os.Getenv("SERIAL_PORT"),
		BaudRate:       baud,
		ReadTimeout:    getDuration("READ_TIMEOUT", defaults.ReadTimeout),
		ResetDelay:     getDuration("RESET_DELAY", defaults.ResetDelay),
		Influx: influx.Config{
			URL:    os.Getenv("INFLUX_URL"),
			Token:  os.Getenv("INFLUX_TOKEN"),
			Org:    os.Getenv("INFLUX_ORG"),
			Bucket: getEnv("INFLUX_BUCKET", "sky"),
		},
		TLS: tlsconfig.Files{
			Cert: os.Getenv("TLS_CERT"),
			Key:  os.Getenv("TLS_KEY"),
			CA:   os.Getenv("TLS_CA"),
		},
		LogLevel: level,
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getDuration(key string, defaultValue time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			return d
		}
		log.Warn().Str("key", key).Str("value", v).Msg("invalid duration, using default")
	}
	return defaultValue
}
