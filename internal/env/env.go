package env

import (
	"fmt"
	"os"
)

const (
	AppEnv              = "APP_ENV"
	ListenAddr          = "LISTEN_ADDR"
	AWSRegion           = "AWS_REGION"
	AWSID               = "AWS_ID"
	AWSSecret           = "AWS_SECRET"
	AWSToken            = "AWS_TOKEN"
	DynamoDBEndpoint    = "DYNAMODB_ENDPOINT"
	TablePrefix         = "DYNAMODB_TABLE_PREFIX"
	UserSecretKey       = "USER_SECRET"
	FeedRedisURL        = "FEED_REDIS_URL"
	FeedRedisPass       = "FEED_REDIS_PASS"
	AllowedOrigins      = "ALLOWED_ORIGINS"
	AppointmentDuration = "APPOINTMENT_DURATION"
	MessageMaxLength    = "MESSAGE_MAX_LENGTH"
	SweepInterval       = "SWEEP_INTERVAL"
	SweepConcurrency    = "SWEEP_CONCURRENCY"
	LogLevel            = "LOG_LEVEL"
	LogFile             = "LOG_FILE"
	OTLPEndpoint        = "OTEL_EXPORTER_OTLP_ENDPOINT"
	ServiceName         = "OTEL_SERVICE_NAME"
	TokenTTL            = "TOKEN_TTL"
	SweepRepairCache    = "SWEEP_REPAIR_CACHE"
	FeedResync          = "FEED_RESYNC_INTERVAL"
	QueueSize           = "REQUEST_QUEUE_SIZE"
	QueueWorkers        = "REQUEST_QUEUE_WORKERS"
)

// Require fails on the first key that is unset.
func Require(keys ...string) error {
	for _, key := range keys {
		if os.Getenv(key) == "" {
			return fmt.Errorf("env: required environment variable not set: %s", key)
		}
	}
	return nil
}

func Get(key string) string {
	return os.Getenv(key)
}

func GetOrDefault(key, defaultVal string) string {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	return val
}

func MustGet(key string) string {
	val := os.Getenv(key)
	if val == "" {
		panic("env: required environment variable not set: " + key)
	}
	return val
}
