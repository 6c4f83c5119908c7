package config

import (
	"log"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// AppConfig описывает конфигурацию сервисов.
type AppConfig struct {
	AppEnv string `envconfig:"APP_ENV" default:"dev"`
	Port   int    `envconfig:"PORT" default:"8080"`

	PGDSN string `envconfig:"PG_DSN"`

	RedisAddr string `envconfig:"REDIS_ADDR"`

	RabbitURL string `envconfig:"RABBITMQ_URL"`

	OpenAI struct {
		APIKey  string        `envconfig:"OPENAI_API_KEY"`
		BaseURL string        `envconfig:"OPENAI_BASE_URL"`
		Model   string        `envconfig:"OPENAI_MODEL" default:"gpt-4.1-mini"`
		Timeout time.Duration `envconfig:"OPENAI_TIMEOUT" default:"45s"`
	} `envconfig:""`

	Evaluator struct {
		CronSpec         string        `envconfig:"EVALUATOR_CRON" default:"0 */10 * * * *"`
		BatchSize        int           `envconfig:"EVALUATOR_BATCH_SIZE" default:"3"`
		BatchDelay       time.Duration `envconfig:"EVALUATOR_BATCH_DELAY" default:"500ms"`
		LookbackHours    int           `envconfig:"EVALUATOR_LOOKBACK_HOURS" default:"3"`
		OverlapHours     int           `envconfig:"EVALUATOR_OVERLAP_HOURS" default:"4"`
		ActivityTrailing time.Duration `envconfig:"EVALUATOR_ACTIVITY_TRAILING" default:"168h"`
	} `envconfig:""`

	Generation struct {
		MaxAttempts    int           `envconfig:"GENERATION_MAX_ATTEMPTS" default:"3"`
		RetryDelay     time.Duration `envconfig:"GENERATION_RETRY_DELAY" default:"2s"`
		AttemptTimeout time.Duration `envconfig:"GENERATION_ATTEMPT_TIMEOUT" default:"45s"`
		ContextWindow  int           `envconfig:"GENERATION_CONTEXT_WINDOW" default:"16000"`
	} `envconfig:""`

	Reports struct {
		RetentionDays int `envconfig:"REPORTS_RETENTION_DAYS" default:"7"`
		LatestLimit   int `envconfig:"REPORTS_LATEST_LIMIT" default:"20"`
	} `envconfig:""`

	Queues struct {
		Trigger string `envconfig:"TRIGGER_QUEUE_KEY" default:"generation_triggers"`
	} `envconfig:""`
}

// Load загружает конфиг из окружения.
func Load() AppConfig {
	var cfg AppConfig
	if err := envconfig.Process("", &cfg); err != nil {
		log.Fatalf("не удалось загрузить конфиг: %v", err)
	}
	return cfg
}
