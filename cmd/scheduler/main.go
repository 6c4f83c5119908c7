package main

import (
	"context"
	"errors"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"channel-pulse/internal/adapters/llm"
	"channel-pulse/internal/adapters/repo"
	"channel-pulse/internal/domain"
	"channel-pulse/internal/infra/cache"
	"channel-pulse/internal/infra/config"
	"channel-pulse/internal/infra/db"
	applog "channel-pulse/internal/infra/log"
	"channel-pulse/internal/infra/metrics"
	"channel-pulse/internal/infra/openai"
	"channel-pulse/internal/infra/queue"
	"channel-pulse/internal/infra/retry"
	"channel-pulse/internal/usecase/evaluator"
	"channel-pulse/internal/usecase/generation"
	"channel-pulse/internal/usecase/reports"
)

func main() {
	cfg := config.Load()
	logger := applog.NewLogger(cfg.AppEnv)

	metrics.MustRegister(prometheus.DefaultRegisterer)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metrics.StartServer(ctx, applog.ForComponent(logger, "metrics"), ":9090")

	pool, err := db.Connect(cfg.PGDSN)
	if err != nil {
		logger.Fatal().Err(err).Msg("scheduler: нет подключения к БД")
	}
	defer pool.Close()

	if cfg.RedisAddr == "" {
		logger.Fatal().Msg("scheduler: не указан адрес Redis (REDIS_ADDR)")
	}
	redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	defer redisClient.Close()

	repoAdapter := repo.NewPostgres(pool)
	fastCache := cache.NewRedis(redisClient)

	completion := llm.NewOpenAI(openai.NewClient(cfg.OpenAI.APIKey, cfg.OpenAI.BaseURL, cfg.OpenAI.Timeout), cfg.OpenAI.Model)
	pipeline, err := generation.NewService(completion, retry.Policy{
		MaxAttempts:    cfg.Generation.MaxAttempts,
		BaseDelay:      cfg.Generation.RetryDelay,
		MaxDelay:       30 * time.Second,
		BackoffFactor:  2,
		AttemptTimeout: cfg.Generation.AttemptTimeout,
	}, generation.DefaultBudget(cfg.Generation.ContextWindow), applog.ForComponent(logger, "generation"))
	if err != nil {
		logger.Fatal().Err(err).Msg("scheduler: пайплайн генерации не собран")
	}

	reportService, err := reports.NewService(repoAdapter, fastCache, time.Duration(cfg.Reports.RetentionDays)*24*time.Hour, cfg.Reports.LatestLimit, applog.ForComponent(logger, "reports"))
	if err != nil {
		logger.Fatal().Err(err).Msg("scheduler: сервис отчётов не собран")
	}

	fetcher := evaluator.NewContextFetcher(repoAdapter, repoAdapter, fastCache, applog.ForComponent(logger, "fetcher"))
	evalService, err := evaluator.NewService(repoAdapter, fetcher, pipeline, reportService, fastCache, evaluator.Config{
		BatchSize:        cfg.Evaluator.BatchSize,
		BatchDelay:       cfg.Evaluator.BatchDelay,
		MaxLookback:      time.Duration(cfg.Evaluator.LookbackHours) * time.Hour,
		OverlapWindow:    time.Duration(cfg.Evaluator.OverlapHours) * time.Hour,
		ActivityTrailing: cfg.Evaluator.ActivityTrailing,
	}, applog.ForComponent(logger, "evaluator"))
	if err != nil {
		logger.Fatal().Err(err).Msg("scheduler: оценщик не собран")
	}

	triggerQueue := buildTriggerQueue(cfg, redisClient, logger)
	go consumeTriggers(ctx, triggerQueue, evalService, logger)

	c := cron.New(cron.WithSeconds())
	if _, err := c.AddFunc(cfg.Evaluator.CronSpec, func() {
		evalService.EvaluateAllChannels(ctx)
	}); err != nil {
		logger.Fatal().Err(err).Str("cron", cfg.Evaluator.CronSpec).Msg("scheduler: некорректное cron-выражение")
	}
	c.Start()
	logger.Info().Str("cron", cfg.Evaluator.CronSpec).Msg("scheduler: запущен")

	<-ctx.Done()
	cronCtx := c.Stop()
	<-cronCtx.Done()
	logger.Info().Msg("scheduler: остановлен")
}

// buildTriggerQueue выбирает очередь ручных триггеров: AMQP при наличии
// RABBITMQ_URL, иначе Redis list.
func buildTriggerQueue(cfg config.AppConfig, redisClient *redis.Client, logger zerolog.Logger) domain.TriggerQueue {
	if cfg.RabbitURL != "" {
		q, err := queue.NewRabbitTriggerQueue(cfg.RabbitURL, cfg.Queues.Trigger)
		if err != nil {
			logger.Fatal().Err(err).Msg("scheduler: очередь RabbitMQ не собрана")
		}
		return q
	}
	return queue.NewRedisTriggerQueue(redisClient, cfg.Queues.Trigger)
}

func consumeTriggers(ctx context.Context, q domain.TriggerQueue, eval *evaluator.Service, logger zerolog.Logger) {
	for {
		job, err := q.Pop(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			logger.Error().Err(err).Msg("scheduler: чтение очереди триггеров не удалось")
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
			continue
		}
		if _, err := eval.EvaluateChannel(ctx, job.ChannelID, job.Timeframe); err != nil {
			logger.Error().Err(err).Int64("channel", job.ChannelID).Msg("scheduler: ручной триггер не обработан")
		}
	}
}
