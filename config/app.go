package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/lokeshkhabiya/round0/internal/models"
)

type AppConfig struct {
	Port string

	InterviewTokenSecret string

	GCSBucket    string
	GCPProjectID string
	GCPLocation  string
	LLMModel     string

	Policy RoundPolicy
}

// RoundPolicy holds the timeouts and retry bounds of the round orchestrator.
type RoundPolicy struct {
	EvaluationTimeout      time.Duration `yaml:"evaluation_timeout"`
	EvaluationMaxRetries   int           `yaml:"evaluation_max_retries"`
	EvaluationRetryBackoff time.Duration `yaml:"evaluation_retry_backoff"`

	UploadMaxAttempts int           `yaml:"upload_max_attempts"`
	UploadBaseBackoff time.Duration `yaml:"upload_base_backoff"`
	UploadWorkers     int           `yaml:"upload_workers"`
	UploadQueueSize   int           `yaml:"upload_queue_size"`
	// UploadGrace bounds how long EndRound waits for the recording upload.
	// 0 disables the wait; failures are still recorded as warnings when they happen.
	UploadGrace       time.Duration `yaml:"upload_grace"`

	AudioWorkers int `yaml:"audio_workers"`

	RequiredArtifacts map[models.RoundType][]string `yaml:"required_artifacts"`
}

func DefaultRoundPolicy() RoundPolicy {
	return RoundPolicy{
		EvaluationTimeout:      45 * time.Second,
		EvaluationMaxRetries:   2,
		EvaluationRetryBackoff: 300 * time.Millisecond,
		UploadMaxAttempts:      3,
		UploadBaseBackoff:      500 * time.Millisecond,
		UploadWorkers:          2,
		UploadQueueSize:        64,
		UploadGrace:            5 * time.Second,
		AudioWorkers:           3,
		RequiredArtifacts: map[models.RoundType][]string{
			models.RoundCode:   {string(models.ArtifactCode)},
			models.RoundDesign: {string(models.ArtifactDesign)},
		},
	}
}

func LoadAppConfig() (*AppConfig, error) {
	cfg := &AppConfig{
		Port:                 getEnv("PORT", "8080"),
		InterviewTokenSecret: os.Getenv("INTERVIEW_TOKEN_SECRET"),
		GCSBucket:            os.Getenv("GCS_BUCKET"),
		GCPProjectID:         os.Getenv("GCP_PROJECT_ID"),
		GCPLocation:          getEnv("GCP_LOCATION", "us-central1"),
		LLMModel:             getEnv("LLM_MODEL", "gemini-1.5-flash"),
	}
	if cfg.InterviewTokenSecret == "" {
		return nil, errors.New("INTERVIEW_TOKEN_SECRET environment variable is not set")
	}

	policy := DefaultRoundPolicy()
	if path := os.Getenv("ROUND_POLICY_FILE"); path != "" {
		p, err := LoadRoundPolicy(path)
		if err != nil {
			return nil, err
		}
		policy = *p
	}

	policy.EvaluationTimeout = getEnvAsDuration("EVALUATION_TIMEOUT", policy.EvaluationTimeout)
	policy.EvaluationMaxRetries = getEnvAsInt("EVALUATION_MAX_RETRIES", policy.EvaluationMaxRetries)
	policy.UploadMaxAttempts = getEnvAsInt("UPLOAD_MAX_ATTEMPTS", policy.UploadMaxAttempts)
	policy.UploadBaseBackoff = getEnvAsDuration("UPLOAD_BASE_BACKOFF", policy.UploadBaseBackoff)
	policy.UploadWorkers = getEnvAsInt("UPLOAD_WORKERS", policy.UploadWorkers)
	policy.UploadQueueSize = getEnvAsInt("UPLOAD_QUEUE_SIZE", policy.UploadQueueSize)
	policy.UploadGrace = getEnvAsDuration("UPLOAD_GRACE", policy.UploadGrace)
	policy.AudioWorkers = getEnvAsInt("AUDIO_WORKERS", policy.AudioWorkers)

	if err := policy.Validate(); err != nil {
		return nil, fmt.Errorf("invalid round policy: %w", err)
	}
	cfg.Policy = policy
	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
