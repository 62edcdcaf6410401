package main

import (
	"context"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"

	"ocpp-engine/internal/correlation"
	"ocpp-engine/internal/emulator"
	"ocpp-engine/internal/handlers"
	"ocpp-engine/internal/server"
	"ocpp-engine/internal/transport"
)

const (
	defaultRedisAddr = "localhost:6379"
	defaultHTTPPort  = "8081"
	defaultMQTTHost  = "localhost"
	defaultMQTTPort  = 1883
	defaultNATSURL   = "nats://127.0.0.1:4222"
)

func main() {
	setupLogging()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	switch role := getEnvOrDefault("OCPP_ROLE", "central"); role {
	case "central":
		runCentralSystem(ctx)
	case "chargepoint":
		runChargePoint(ctx)
	default:
		log.Fatalf("Invalid OCPP_ROLE %q, expected central or chargepoint", role)
	}
}

func setupLogging() {
	if strings.EqualFold(os.Getenv("LOG_FORMAT"), "json") {
		log.SetFormatter(&log.JSONFormatter{})
	} else {
		log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	}
	log.SetOutput(os.Stdout)
	level, err := log.ParseLevel(getEnvOrDefault("LOG_LEVEL", "info"))
	if err != nil {
		log.Fatalf("Invalid LOG_LEVEL: %v", err)
	}
	log.SetLevel(level)
}

func runCentralSystem(ctx context.Context) {
	httpPort := getEnvOrDefault("HTTP_PORT", defaultHTTPPort)
	config := server.Config{
		HTTPPort:          httpPort,
		HeartbeatInterval: getIntOrDefault("OCPP_HEARTBEAT_INTERVAL", handlers.DefaultHeartbeatInterval),
		CallTimeout:       getDurationOrDefault("OCPP_CALL_TIMEOUT", correlation.DefaultCallTimeout),
		SOAPPublicURL:     os.Getenv("OCPP_SOAP_URL"),

		RedisEnabled:  getBoolOrDefault("REDIS_ENABLED", false),
		RedisAddr:     getEnvOrDefault("REDIS_ADDR", defaultRedisAddr),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
		RedisStateTTL: getDurationOrDefault("REDIS_STATE_TTL", 10*time.Minute),

		MQTTEnabled:               getBoolOrDefault("MQTT_ENABLED", false),
		MQTTHost:                  getEnvOrDefault("MQTT_HOST", defaultMQTTHost),
		MQTTPort:                  getIntOrDefault("MQTT_PORT", defaultMQTTPort),
		MQTTUsername:              os.Getenv("MQTT_USERNAME"),
		MQTTPassword:              os.Getenv("MQTT_PASSWORD"),
		MQTTClientID:              getEnvOrDefault("MQTT_CLIENT_ID", "ocpp-engine"),
		MQTTBusinessEventsEnabled: getBoolOrDefault("MQTT_BUSINESS_EVENTS_ENABLED", true),
		MQTTFramesEnabled:         getBoolOrDefault("MQTT_FRAMES_ENABLED", false),

		NATSEnabled: getBoolOrDefault("NATS_ENABLED", false),
		NATSURL:     getEnvOrDefault("NATS_URL", defaultNATSURL),
		NATSSubject: os.Getenv("NATS_SUBJECT"),

		TransactionDBPath: os.Getenv("TRANSACTION_DB_PATH"),
	}

	srv, err := server.NewServer(config)
	if err != nil {
		log.Fatalf("Failed to create server: %v", err)
	}

	log.Printf("Starting Central System with HTTP API on port %s...", httpPort)
	if err := srv.Start(ctx); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}

	<-ctx.Done()
	log.Println("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Error during shutdown: %v", err)
	}
	log.Println("Server stopped")
}

func runChargePoint(ctx context.Context) {
	config := emulator.Config{
		Identity:         getEnvOrDefault("CHARGE_POINT_ID", "CP-1"),
		CentralSystemURL: getEnvOrDefault("CENTRAL_SYSTEM_URL", "ws://localhost:"+defaultHTTPPort+"/ocpp"),
		StationFile:      os.Getenv("STATION_FILE"),
		FixtureDir:       os.Getenv("FIXTURE_DIR"),
		Connectors:       getIntOrDefault("CONNECTORS", 1),
		Vendor:           os.Getenv("CHARGE_POINT_VENDOR"),
		Model:            os.Getenv("CHARGE_POINT_MODEL"),
		FirmwareVersion:  os.Getenv("FIRMWARE_VERSION"),
		SerialNumber:     os.Getenv("CHARGE_POINT_SERIAL_NUMBER"),
		CallTimeout:      getDurationOrDefault("OCPP_CALL_TIMEOUT", correlation.DefaultCallTimeout),
	}

	emu, err := emulator.New(config)
	if err != nil {
		log.Fatalf("Failed to create emulator: %v", err)
	}

	go emu.KeepConnected(ctx, func(ctx context.Context) (emulator.Connection, error) {
		conn, err := transport.Dial(ctx, config.CentralSystemURL, config.Identity)
		if err != nil {
			return nil, err
		}
		return conn, nil
	})

	log.Printf("Starting charge point %s against %s...", config.Identity, config.CentralSystemURL)
	if err := emu.Run(ctx); err != nil && err != context.Canceled {
		log.Printf("Emulator stopped: %v", err)
	}
	log.Println("Charge point stopped")
}

// getEnvOrDefault returns environment variable value or default if not set
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntOrDefault(key string, defaultValue int) int {
	value, err := strconv.Atoi(getEnvOrDefault(key, strconv.Itoa(defaultValue)))
	if err != nil {
		log.Fatalf("Invalid %s: %v", key, err)
	}
	return value
}

func getBoolOrDefault(key string, defaultValue bool) bool {
	value, err := strconv.ParseBool(getEnvOrDefault(key, strconv.FormatBool(defaultValue)))
	if err != nil {
		log.Fatalf("Invalid %s: %v", key, err)
	}
	return value
}

func getDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	value, err := time.ParseDuration(getEnvOrDefault(key, defaultValue.String()))
	if err != nil {
		log.Fatalf("Invalid %s: %v", key, err)
	}
	return value
}
