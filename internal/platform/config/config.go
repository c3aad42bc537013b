package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config captures process level configuration read from the environment.
type Config struct {
	Addr        string
	Environment string
	LogLevel    string
	AdminToken  string

	DatabaseURL  string
	Redis        RedisConfig
	KafkaBrokers []string

	AnonymizationSecret   string
	AnonymizedEmailDomain string
	ExportSigningKey      string
	ExportExpiry          time.Duration
	RejectedRetentionDays int

	Drive  DriveConfig
	Worker WorkerConfig
	Jobs   JobIntervals

	AccessRulesFile   string
	LegalDocumentsDir string
}

// RedisConfig configures the task queue connection.
type RedisConfig struct {
	URL          string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// DriveConfig points at the storage-permission API and throttles calls to
// it. An empty Token selects the in-process fake.
type DriveConfig struct {
	BaseURL           string
	Token             string
	RequestsPerSecond float64
	Burst             int
	Domain            string
}

// WorkerConfig sizes the task worker pool.
type WorkerConfig struct {
	Concurrency int
	MaxAttempts int
	BaseBackoff time.Duration
}

// JobIntervals is the cadence of each scheduled job. Zero disables a job.
type JobIntervals struct {
	ExpirySweep      time.Duration
	ConsentDeadlines time.Duration
	ReconcileAll     time.Duration
	RetryFailed      time.Duration
	SyncDocuments    time.Duration
	CleanupExports   time.Duration
	AnonymizeRejects time.Duration
}

const devAnonymizationSecret = "dev-anonymization-secret"

// FromEnv builds a Config from environment variables so main stays lean.
func FromEnv() Config {
	day := 24 * time.Hour
	return Config{
		Addr:        getEnv("MEMBERSHIP_ADDR", ":8080"),
		Environment: getEnv("ENVIRONMENT", "dev"),
		LogLevel:    getEnv("LOG_LEVEL", "info"),
		AdminToken:  os.Getenv("ADMIN_API_TOKEN"),

		DatabaseURL: os.Getenv("DATABASE_URL"),
		Redis: RedisConfig{
			URL:          os.Getenv("REDIS_URL"),
			PoolSize:     getEnvInt("REDIS_POOL_SIZE", 10),
			MinIdleConns: getEnvInt("REDIS_MIN_IDLE_CONNS", 2),
			DialTimeout:  getEnvDuration("REDIS_DIAL_TIMEOUT", 5*time.Second),
			ReadTimeout:  getEnvDuration("REDIS_READ_TIMEOUT", 3*time.Second),
			WriteTimeout: getEnvDuration("REDIS_WRITE_TIMEOUT", 3*time.Second),
		},
		KafkaBrokers: splitList(os.Getenv("KAFKA_BROKERS")),

		AnonymizationSecret:   getEnv("ANONYMIZATION_SECRET", devAnonymizationSecret),
		AnonymizedEmailDomain: getEnv("ANONYMIZED_EMAIL_DOMAIN", "anonymized.invalid"),
		ExportSigningKey:      getEnv("EXPORT_SIGNING_KEY", "dev-export-key-change-in-production"),
		ExportExpiry:          time.Duration(getEnvInt("GDPR_EXPORT_EXPIRY_DAYS", 7)) * day,
		RejectedRetentionDays: getEnvInt("REJECTED_APPLICATION_RETENTION_DAYS", 365),

		Drive: DriveConfig{
			BaseURL:           os.Getenv("DRIVE_API_BASE_URL"),
			Token:             os.Getenv("DRIVE_ACCESS_TOKEN"),
			RequestsPerSecond: getEnvFloat("DRIVE_REQUESTS_PER_SECOND", 5),
			Burst:             getEnvInt("DRIVE_BURST", 10),
			Domain:            os.Getenv("DRIVE_DOMAIN"),
		},
		Worker: WorkerConfig{
			Concurrency: getEnvInt("WORKER_CONCURRENCY", 4),
			MaxAttempts: getEnvInt("WORKER_MAX_ATTEMPTS", 5),
			BaseBackoff: getEnvDuration("WORKER_BASE_BACKOFF", 2*time.Second),
		},
		Jobs: JobIntervals{
			ExpirySweep:      getEnvDuration("JOB_EXPIRY_SWEEP_INTERVAL", day),
			ConsentDeadlines: getEnvDuration("JOB_CONSENT_DEADLINES_INTERVAL", day),
			ReconcileAll:     getEnvDuration("JOB_RECONCILE_INTERVAL", day),
			RetryFailed:      getEnvDuration("JOB_RETRY_FAILED_INTERVAL", time.Hour),
			SyncDocuments:    getEnvDuration("JOB_SYNC_DOCUMENTS_INTERVAL", day),
			CleanupExports:   getEnvDuration("JOB_CLEANUP_EXPORTS_INTERVAL", day),
			AnonymizeRejects: getEnvDuration("JOB_ANONYMIZE_REJECTED_INTERVAL", day),
		},

		AccessRulesFile:   os.Getenv("ACCESS_RULES_FILE"),
		LegalDocumentsDir: os.Getenv("LEGAL_DOCUMENTS_DIR"),
	}
}

// IsDev reports whether the process runs in a development environment.
func (c Config) IsDev() bool {
	return c.Environment == "dev" || c.Environment == "test"
}

// Validate rejects configurations that are unsafe or unusable.
func (c Config) Validate() error {
	var errs []error
	if c.Addr == "" {
		errs = append(errs, errors.New("MEMBERSHIP_ADDR must not be empty"))
	}
	if !c.IsDev() {
		if c.AnonymizationSecret == "" || c.AnonymizationSecret == devAnonymizationSecret {
			errs = append(errs, errors.New("ANONYMIZATION_SECRET must be set outside dev"))
		}
		if c.DatabaseURL == "" {
			errs = append(errs, errors.New("DATABASE_URL must be set outside dev"))
		}
		if c.Drive.Token == "" {
			errs = append(errs, errors.New("DRIVE_ACCESS_TOKEN must be set outside dev"))
		}
	}
	if c.ExportExpiry <= 0 {
		errs = append(errs, errors.New("GDPR_EXPORT_EXPIRY_DAYS must be positive"))
	}
	if c.RejectedRetentionDays <= 0 {
		errs = append(errs, errors.New("REJECTED_APPLICATION_RETENTION_DAYS must be positive"))
	}
	if c.Drive.RequestsPerSecond <= 0 || c.Drive.Burst <= 0 {
		errs = append(errs, errors.New("drive rate limits must be positive"))
	}
	if c.Worker.Concurrency <= 0 {
		errs = append(errs, errors.New("WORKER_CONCURRENCY must be positive"))
	}
	if c.Worker.MaxAttempts <= 0 {
		errs = append(errs, errors.New("WORKER_MAX_ATTEMPTS must be positive"))
	}
	return errors.Join(errs...)
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func getEnvFloat(key string, fallback float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fallback
	}
	return f
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}

func splitList(v string) []string {
	if v == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// String redacts secrets for startup logging.
func (c Config) String() string {
	return fmt.Sprintf("addr=%s env=%s database=%t redis=%t kafka=%d", c.Addr, c.Environment, c.DatabaseURL != "", c.Redis.URL != "", len(c.KafkaBrokers))
}
