package config

import "time"

// Config holds all application configuration.
// It organizes settings into logical groups for better maintainability.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"    validate:"required"`
	Database  DatabaseConfig  `mapstructure:"database"  validate:"required"`
	Queue     QueueConfig     `mapstructure:"queue"     validate:"required"`
	Messaging MessagingConfig `mapstructure:"messaging" validate:"required"`
	Webhook   WebhookConfig   `mapstructure:"webhook"   validate:"required"`
}

// ServerConfig contains the HTTP listener and logging settings for the
// worker's callback/health/metrics endpoint.
type ServerConfig struct {
	Port     int    `mapstructure:"port"      validate:"required,gt=0,lt=65536"`
	LogLevel string `mapstructure:"log_level" validate:"required,oneof=debug info warn error"`
}

// DatabaseConfig contains all database-related configuration settings.
type DatabaseConfig struct {
	URL string `mapstructure:"url" validate:"required,url"`
}

// QueueConfig contains the claim/lease and scan settings for the job queue.
type QueueConfig struct {
	// WorkerID identifies this worker in job leases. Empty means a
	// generated ID is used.
	WorkerID string `mapstructure:"worker_id"`

	// MaxBatch is the maximum number of jobs a single claim may lease.
	MaxBatch int `mapstructure:"max_batch" validate:"required,gt=0"`

	// PollInterval is how often an idle worker polls for claimable jobs.
	PollInterval time.Duration `mapstructure:"poll_interval" validate:"required"`

	// LeaseTTL bounds how long a claimed job stays invisible to other
	// workers. A worker that crashes mid-lease loses the job to
	// reclaim once the TTL lapses.
	LeaseTTL time.Duration `mapstructure:"lease_ttl" validate:"required"`

	// ScanInterval is how often the scheduler runs the due-date scan.
	ScanInterval time.Duration `mapstructure:"scan_interval" validate:"required"`

	// ScanBatch caps how many due work items one scan pass considers.
	ScanBatch int `mapstructure:"scan_batch" validate:"required,gt=0"`
}

// MessagingConfig contains the outbound channel provider settings.
type MessagingConfig struct {
	// ProviderURL is the base URL of the message gateway the send
	// handler POSTs to.
	ProviderURL string `mapstructure:"provider_url" validate:"required,url"`

	// APIKey authenticates against the provider gateway.
	APIKey string `mapstructure:"api_key" validate:"required"`

	// Timeout bounds a single provider send attempt.
	Timeout time.Duration `mapstructure:"timeout" validate:"required"`

	// MaxSendAttempts is the send handler's own retry ceiling; once a
	// message job has failed this many times the message record is
	// terminalized as failed. The queue itself enforces no ceiling.
	MaxSendAttempts int `mapstructure:"max_send_attempts" validate:"required,gt=0"`
}

// WebhookConfig contains the outbound webhook dispatch settings.
type WebhookConfig struct {
	// SigningSecret is the HS256 key used to sign dispatch tokens.
	SigningSecret string `mapstructure:"signing_secret" validate:"required,min=32"`

	// NotifyURL receives work item reminder and nudge events.
	NotifyURL string `mapstructure:"notify_url" validate:"required,url"`

	// Timeout bounds a single webhook delivery attempt.
	Timeout time.Duration `mapstructure:"timeout" validate:"required"`
}
