package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"therapy-chat-sync/internal/env"
)

// Config holds all process configuration
type Config struct {
	Environment string
	ListenAddr  string
	Dynamo      DynamoConfig
	Feed        FeedConfig
	Auth        AuthConfig
	Booking     BookingConfig
	Messaging   MessagingConfig
	Sweep       SweepConfig
	Queue       QueueConfig
	Logging     LoggingConfig
	Telemetry   TelemetryConfig
}

type DynamoConfig struct {
	Region       string
	AccessKey    string
	SecretKey    string
	SessionToken string
	Endpoint     string
	TablePrefix  string
}

type FeedConfig struct {
	RedisAddr     string
	RedisPassword string
	// Resync re-reads subscribed queries on this period even without a
	// change signal. Zero keeps the store default.
	Resync time.Duration
}

type AuthConfig struct {
	UserSecret     string
	TokenTTL       time.Duration
	AllowedOrigins []string
}

type BookingConfig struct {
	Duration time.Duration
}

type MessagingConfig struct {
	MaxLength int
}

type SweepConfig struct {
	Interval    time.Duration
	Concurrency int
	CacheRepair bool
}

type QueueConfig struct {
	Size    int
	Workers int
}

type LoggingConfig struct {
	Level string
	File  string
}

type TelemetryConfig struct {
	ServiceName  string
	OTLPEndpoint string
}

const (
	DefaultAppointmentDuration = time.Hour
	DefaultMessageMaxLength    = 4000
	DefaultSweepInterval       = 15 * time.Minute
	DefaultSweepConcurrency    = 8
	DefaultTokenTTL            = 15 * time.Minute
	DefaultFeedResync          = 30 * time.Second
	DefaultQueueSize           = 100
	DefaultQueueWorkers        = 10
)

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	duration, err := getEnvAsDuration(env.AppointmentDuration, DefaultAppointmentDuration)
	if err != nil {
		return nil, err
	}
	if duration <= 0 {
		return nil, fmt.Errorf("config: %s must be positive", env.AppointmentDuration)
	}

	sweepInterval, err := getEnvAsDuration(env.SweepInterval, DefaultSweepInterval)
	if err != nil {
		return nil, err
	}

	maxLength, err := getEnvAsInt(env.MessageMaxLength, DefaultMessageMaxLength)
	if err != nil {
		return nil, err
	}

	concurrency, err := getEnvAsInt(env.SweepConcurrency, DefaultSweepConcurrency)
	if err != nil {
		return nil, err
	}

	tokenTTL, err := getEnvAsDuration(env.TokenTTL, DefaultTokenTTL)
	if err != nil {
		return nil, err
	}

	resync, err := getEnvAsDuration(env.FeedResync, DefaultFeedResync)
	if err != nil {
		return nil, err
	}

	repair, err := getEnvAsBool(env.SweepRepairCache, true)
	if err != nil {
		return nil, err
	}

	queueSize, err := getEnvAsInt(env.QueueSize, DefaultQueueSize)
	if err != nil {
		return nil, err
	}

	queueWorkers, err := getEnvAsInt(env.QueueWorkers, DefaultQueueWorkers)
	if err != nil {
		return nil, err
	}

	return &Config{
		Environment: env.GetOrDefault(env.AppEnv, "development"),
		ListenAddr:  env.GetOrDefault(env.ListenAddr, ":8080"),
		Dynamo: DynamoConfig{
			Region:       env.GetOrDefault(env.AWSRegion, "eu-central-1"),
			AccessKey:    env.Get(env.AWSID),
			SecretKey:    env.Get(env.AWSSecret),
			SessionToken: env.Get(env.AWSToken),
			Endpoint:     env.Get(env.DynamoDBEndpoint),
			TablePrefix:  env.Get(env.TablePrefix),
		},
		Feed: FeedConfig{
			RedisAddr:     env.GetOrDefault(env.FeedRedisURL, "localhost:6379"),
			RedisPassword: env.Get(env.FeedRedisPass),
			Resync:        resync,
		},
		Auth: AuthConfig{
			UserSecret:     env.Get(env.UserSecretKey),
			TokenTTL:       tokenTTL,
			AllowedOrigins: splitList(env.GetOrDefault(env.AllowedOrigins, "http://localhost:3000")),
		},
		Booking: BookingConfig{
			Duration: duration,
		},
		Messaging: MessagingConfig{
			MaxLength: maxLength,
		},
		Sweep: SweepConfig{
			Interval:    sweepInterval,
			Concurrency: concurrency,
			CacheRepair: repair,
		},
		Queue: QueueConfig{
			Size:    queueSize,
			Workers: queueWorkers,
		},
		Logging: LoggingConfig{
			Level: env.GetOrDefault(env.LogLevel, "info"),
			File:  env.Get(env.LogFile),
		},
		Telemetry: TelemetryConfig{
			ServiceName:  env.GetOrDefault(env.ServiceName, "therapy-chat-sync"),
			OTLPEndpoint: env.Get(env.OTLPEndpoint),
		},
	}, nil
}

func getEnvAsInt(key string, defaultValue int) (int, error) {
	raw := env.Get(key)
	if raw == "" {
		return defaultValue, nil
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("config: %s: %w", key, err)
	}
	return value, nil
}

func getEnvAsBool(key string, defaultValue bool) (bool, error) {
	raw := env.Get(key)
	if raw == "" {
		return defaultValue, nil
	}
	value, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("config: %s: %w", key, err)
	}
	return value, nil
}

func getEnvAsDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	raw := env.Get(key)
	if raw == "" {
		return defaultValue, nil
	}
	value, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("config: %s: %w", key, err)
	}
	return value, nil
}

func splitList(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
