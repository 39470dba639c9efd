package config

import (
	"fmt"
	"os"
	"strconv"
)

func setStr(dst *string, key string) {
	if v, ok := os.LookupEnv(key); ok {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v, ok := os.LookupEnv(key); ok {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v, ok := os.LookupEnv(key); ok {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func (c *Config) applyEnv() {
	setStr(&c.LogLevel, "LOG_LEVEL")

	setInt(&c.Pool.Workers, "RUNNER_WORKERS")
	setInt(&c.Pool.QueueSize, "RUNNER_QUEUE_SIZE")
	setStr(&c.Sandbox.Backend, "RUNNER_BACKEND")
	setBool(&c.Sandbox.Namespaces, "RUNNER_NAMESPACES")
	setStr(&c.Sandbox.DockerImage, "RUNNER_DOCKER_IMAGE")
	setStr(&c.Executor.WorkspaceRoot, "RUNNER_WORKSPACE_ROOT")
	setStr(&c.Intake.HTTPAddr, "RUNNER_HTTP_ADDR")

	setStr(&c.Intake.NatsURL, "NATS_URL")
	setStr(&c.Intake.RedisAddr, "REDIS_ADDR")
	setStr(&c.Intake.RedisPassword, "REDIS_PASSWORD")
	setStr(&c.Intake.SqsQueueURL, "SQS_SUBMISSION_QUEUE_URL")
	setStr(&c.Sink.SqsQueueURL, "SQS_RESULT_QUEUE_URL")
	setStr(&c.Intake.S3Region, "AWS_REGION")

	if dsn := postgresDSN(); dsn != "" {
		c.Sink.PostgresDSN = dsn
	}
}

// postgresDSN builds a connection string from DB_* variables. It is empty
// when DB_HOST is not set.
func postgresDSN() string {
	host := os.Getenv("DB_HOST")
	if host == "" {
		return ""
	}
	port := os.Getenv("DB_PORT")
	if port == "" {
		port = "5432"
	}
	sslMode := os.Getenv("DB_SSLMODE")
	if sslMode == "" {
		sslMode = "disable"
	}
	return fmt.Sprintf(
		`host=%s port=%s user=%s password=%s dbname=%s sslmode=%s`,
		host, port, os.Getenv("DB_USER"), os.Getenv("DB_PASS"), os.Getenv("DB_NAME"), sslMode)
}
