/*
Copyright 2025 Openshelf Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package config

import (
	"encoding/json"
	"errors"
	"log"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/sirupsen/logrus"
)

const (
	DEFAULT_PORT = "5002"

	// PrimaryProvider is the metered paid provider guarded by the quota gate.
	PrimaryProvider = "isbndb"

	// DefaultEnrichmentQueue is the fallback queue name when config is unavailable.
	DefaultEnrichmentQueue = "new:enrichment_1"
)

var ConfigStore atomic.Value

type ServerConfig struct {
	SSL       bool   `json:"ssl" envconfig:"OPENSHELF_SERVER_SSL"`
	Secure    bool   `json:"secure" envconfig:"OPENSHELF_SERVER_SECURE"`
	SecretKey string `json:"secret_key" envconfig:"OPENSHELF_SERVER_SECRET_KEY"`
	Domain    string `json:"domain" envconfig:"OPENSHELF_SERVER_SSL_DOMAIN"`
	Email     string `json:"ssl_email" envconfig:"OPENSHELF_SERVER_SSL_EMAIL"`
	Port      string `json:"port" envconfig:"OPENSHELF_SERVER_PORT"`
}

type DataSourceConfig struct {
	Dns string `json:"dns" envconfig:"OPENSHELF_DATA_SOURCE_DNS"`
}

type RedisConfig struct {
	Dns           string `json:"dns" envconfig:"OPENSHELF_REDIS_DNS"`
	SkipTLSVerify bool   `json:"skip_tls_verify" envconfig:"OPENSHELF_REDIS_SKIP_TLS_VERIFY"`
}

// ResolverConfig describes one fallback resolver in the orchestrator chain.
type ResolverConfig struct {
	Name        string `json:"name"`
	MinDelayMs  int    `json:"min_delay_ms"`
	TimeoutSec  int    `json:"timeout_sec"`
	MaxFailures int    `json:"max_failures"`
	CooldownSec int    `json:"cooldown_sec"`
}

// ProvidersConfig holds credentials and budgets for the external metadata providers.
type ProvidersConfig struct {
	ISBNdbKey           string           `json:"isbndb_key" envconfig:"OPENSHELF_ISBNDB_KEY"`
	ISBNdbDailyQuota    int              `json:"isbndb_daily_quota" envconfig:"OPENSHELF_ISBNDB_DAILY_QUOTA"`
	ISBNdbMinDelayMs    int              `json:"isbndb_min_delay_ms" envconfig:"OPENSHELF_ISBNDB_MIN_DELAY_MS"`
	SoftQuotaPercent    int              `json:"soft_quota_percent" envconfig:"OPENSHELF_SOFT_QUOTA_PERCENT"`
	HardQuotaPercent    int              `json:"hard_quota_percent" envconfig:"OPENSHELF_HARD_QUOTA_PERCENT"`
	SimilarityThreshold float64          `json:"similarity_threshold" envconfig:"OPENSHELF_SIMILARITY_THRESHOLD"`
	ResolverTimeoutSec  int              `json:"resolver_timeout_sec" envconfig:"OPENSHELF_RESOLVER_TIMEOUT_SEC"`
	Resolvers           []ResolverConfig `json:"resolvers"`
}

type QueueConfig struct {
	EnrichmentQueue  string `json:"enrichment_queue" envconfig:"OPENSHELF_ENRICHMENT_QUEUE"`
	EnhancerQueue    string `json:"enhancer_queue" envconfig:"OPENSHELF_ENHANCER_QUEUE"`
	NumberOfQueues   int    `json:"number_of_queues" envconfig:"OPENSHELF_NUMBER_OF_QUEUES"`
	MaxRetryAttempts int    `json:"max_retry_attempts" envconfig:"OPENSHELF_QUEUE_MAX_RETRY_ATTEMPTS"`
	BatchSize        int    `json:"batch_size" envconfig:"OPENSHELF_QUEUE_BATCH_SIZE"`
	MonitoringPort   string `json:"monitoring_port" envconfig:"OPENSHELF_QUEUE_MONITORING_PORT"`
}

// EnhancerConfig controls the synthetic-record enhancement job.
type EnhancerConfig struct {
	ScanIntervalMin int `json:"scan_interval_min" envconfig:"OPENSHELF_ENHANCER_SCAN_INTERVAL_MIN"`
	BatchSize       int `json:"batch_size" envconfig:"OPENSHELF_ENHANCER_BATCH_SIZE"`
	CooldownMin     int `json:"cooldown_min" envconfig:"OPENSHELF_ENHANCER_COOLDOWN_MIN"`
}

type RateLimitConfig struct {
	RequestsPerSecond  *float64 `json:"requests_per_second" envconfig:"OPENSHELF_RATE_LIMIT_RPS"`
	Burst              *int     `json:"burst" envconfig:"OPENSHELF_RATE_LIMIT_BURST"`
	CleanupIntervalSec *int     `json:"cleanup_interval_sec" envconfig:"OPENSHELF_RATE_LIMIT_CLEANUP_INTERVAL_SEC"`
}

type SlackWebhook struct {
	WebhookUrl string `json:"webhook_url"`
}

type Notification struct {
	Slack   SlackWebhook `json:"slack"`
	Webhook struct {
		Url     string            `json:"url"`
		Headers map[string]string `json:"headers"`
	} `json:"webhook"`
}

type Configuration struct {
	ProjectName        string           `json:"project_name" envconfig:"OPENSHELF_PROJECT_NAME"`
	BackupDir          string           `json:"backup_dir" envconfig:"OPENSHELF_BACKUP_DIR"`
	AwsAccessKeyId     string           `json:"aws_access_key_id"`
	S3Endpoint         string           `json:"s3_endpoint"`
	AwsSecretAccessKey string           `json:"aws_secret_access_key"`
	S3BucketName       string           `json:"s3_bucket_name"`
	S3Region           string           `json:"s3_region"`
	Server             ServerConfig     `json:"server"`
	DataSource         DataSourceConfig `json:"data_source"`
	Redis              RedisConfig      `json:"redis"`
	Providers          ProvidersConfig  `json:"providers"`
	Queue              QueueConfig      `json:"queue"`
	Enhancer           EnhancerConfig   `json:"enhancer"`
	Notification       Notification     `json:"notification"`
	RateLimit          RateLimitConfig  `json:"rate_limit"`
	OtlpEndpoint       string           `json:"otlp_endpoint" envconfig:"OPENSHELF_OTLP_ENDPOINT"`
}

// ResolverTimeout returns the per-resolver hard timeout for the orchestrator chain.
func (cnf *Configuration) ResolverTimeout() time.Duration {
	return time.Duration(cnf.Providers.ResolverTimeoutSec) * time.Second
}

// EnhancerCooldown returns how long a queue-failed work stays ineligible for re-enhancement.
func (cnf *Configuration) EnhancerCooldown() time.Duration {
	return time.Duration(cnf.Enhancer.CooldownMin) * time.Minute
}

func loadConfigFromFile(file string) error {
	var cnf Configuration
	_, err := os.Stat(file)
	if err == nil {
		f, err := os.Open(file)
		if err != nil {
			return err
		}
		err = json.NewDecoder(f).Decode(&cnf)
		if err != nil {
			return err
		}

	} else if errors.Is(err, os.ErrNotExist) {
		log.Println("config json not passed, will use env variables")
	}

	// override config from environment variables
	err = envconfig.Process("openshelf", &cnf)
	if err != nil {
		return err
	}

	err = cnf.validateAndAddDefaults()
	if err != nil {
		return err
	}

	ConfigStore.Store(&cnf)
	return err
}

func InitConfig(configFile string) error {
	logger()
	return loadConfigFromFile(configFile)
}

func Fetch() (*Configuration, error) {
	config := ConfigStore.Load()
	c, ok := config.(*Configuration)
	if !ok {
		return nil, errors.New("config not loaded from file. Create a json file called openshelf.json with your config ❌")
	}
	return c, nil
}

func (cnf *Configuration) validateAndAddDefaults() error {
	if cnf.ProjectName == "" {
		log.Println("Warning: Project name is empty. Setting a default name.")
		cnf.ProjectName = "Openshelf Server"
	}

	if cnf.DataSource.Dns == "" {
		log.Println("Error: Data source DNS is empty. It's a required field.")
		return errors.New("data source DNS is required")
	}

	if cnf.Redis.Dns == "" {
		log.Println("Error: Redis DNS is empty. It's a required field.")
		return errors.New("redis DNS is required")
	}

	// Trim white spaces from fields
	cnf.ProjectName = strings.TrimSpace(cnf.ProjectName)
	cnf.Server.Port = strings.TrimSpace(cnf.Server.Port)
	cnf.DataSource.Dns = strings.TrimSpace(cnf.DataSource.Dns)
	cnf.Redis.Dns = strings.TrimSpace(cnf.Redis.Dns)

	if cnf.Server.Port == "" {
		cnf.Server.Port = DEFAULT_PORT
		log.Printf("Warning: Port not specified in config. Setting default port: %s", DEFAULT_PORT)
	}

	cnf.addProviderDefaults()
	cnf.addQueueDefaults()
	cnf.addEnhancerDefaults()

	// Rate limiting is disabled by default (when both RPS and Burst are nil)
	if cnf.RateLimit.RequestsPerSecond != nil && cnf.RateLimit.Burst == nil {
		defaultBurst := 2 * int(*cnf.RateLimit.RequestsPerSecond)
		cnf.RateLimit.Burst = &defaultBurst
		log.Printf("Warning: Rate limit burst not specified. Setting default value: %d", defaultBurst)
	}
	if cnf.RateLimit.RequestsPerSecond == nil && cnf.RateLimit.Burst != nil {
		defaultRPS := float64(*cnf.RateLimit.Burst) / 2
		cnf.RateLimit.RequestsPerSecond = &defaultRPS
		log.Printf("Warning: Rate limit RPS not specified. Setting default value: %.2f", defaultRPS)
	}
	if cnf.RateLimit.CleanupIntervalSec == nil {
		defaultCleanup := 10800 // 3 hours in seconds
		cnf.RateLimit.CleanupIntervalSec = &defaultCleanup
	}

	return nil
}

func (cnf *Configuration) addProviderDefaults() {
	if cnf.Providers.ISBNdbDailyQuota == 0 {
		cnf.Providers.ISBNdbDailyQuota = 5000
	}
	if cnf.Providers.ISBNdbMinDelayMs == 0 {
		cnf.Providers.ISBNdbMinDelayMs = 1000
	}
	if cnf.Providers.SoftQuotaPercent == 0 {
		cnf.Providers.SoftQuotaPercent = 70
	}
	if cnf.Providers.HardQuotaPercent == 0 {
		cnf.Providers.HardQuotaPercent = 85
	}
	if cnf.Providers.SimilarityThreshold == 0 {
		cnf.Providers.SimilarityThreshold = 0.70
	}
	if cnf.Providers.ResolverTimeoutSec == 0 {
		cnf.Providers.ResolverTimeoutSec = 15
	}
	if len(cnf.Providers.Resolvers) == 0 {
		// Ordered by observed catalog coverage: largest free catalog first.
		cnf.Providers.Resolvers = []ResolverConfig{
			{Name: "openlibrary", MinDelayMs: 1000},
			{Name: "googlebooks", MinDelayMs: 500},
		}
	}
	for i := range cnf.Providers.Resolvers {
		if cnf.Providers.Resolvers[i].TimeoutSec == 0 {
			cnf.Providers.Resolvers[i].TimeoutSec = cnf.Providers.ResolverTimeoutSec
		}
		if cnf.Providers.Resolvers[i].MaxFailures == 0 {
			cnf.Providers.Resolvers[i].MaxFailures = 5
		}
		if cnf.Providers.Resolvers[i].CooldownSec == 0 {
			cnf.Providers.Resolvers[i].CooldownSec = 60
		}
	}
}

func (cnf *Configuration) addQueueDefaults() {
	if cnf.Queue.EnrichmentQueue == "" {
		cnf.Queue.EnrichmentQueue = "new:enrichment"
	}
	if cnf.Queue.EnhancerQueue == "" {
		cnf.Queue.EnhancerQueue = "new:enhancer"
	}
	if cnf.Queue.NumberOfQueues == 0 {
		cnf.Queue.NumberOfQueues = 4
	}
	if cnf.Queue.MaxRetryAttempts == 0 {
		cnf.Queue.MaxRetryAttempts = 5
	}
	if cnf.Queue.BatchSize == 0 {
		cnf.Queue.BatchSize = 100
	}
	if cnf.Queue.MonitoringPort == "" {
		cnf.Queue.MonitoringPort = "5003"
	}
}

func (cnf *Configuration) addEnhancerDefaults() {
	if cnf.Enhancer.ScanIntervalMin == 0 {
		cnf.Enhancer.ScanIntervalMin = 30
	}
	if cnf.Enhancer.BatchSize == 0 {
		cnf.Enhancer.BatchSize = 50
	}
	if cnf.Enhancer.CooldownMin == 0 {
		cnf.Enhancer.CooldownMin = 360
	}
}

// MockConfig sets a mock configuration for testing purposes.
func MockConfig(mockConfig *Configuration) {
	mockConfig.addProviderDefaults()
	mockConfig.addQueueDefaults()
	mockConfig.addEnhancerDefaults()
	ConfigStore.Store(mockConfig)
}

func logger() {
	logger := logrus.New()
	log.SetOutput(logger.Writer())
}
