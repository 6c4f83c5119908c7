package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	chi "github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"channel-pulse/internal/adapters/repo"
	"channel-pulse/internal/domain"
	"channel-pulse/internal/infra/cache"
	"channel-pulse/internal/infra/config"
	"channel-pulse/internal/infra/db"
	httpinfra "channel-pulse/internal/infra/http"
	applog "channel-pulse/internal/infra/log"
	"channel-pulse/internal/infra/metrics"
	"channel-pulse/internal/infra/queue"
	"channel-pulse/internal/usecase/reports"
)

func main() {
	cfg := config.Load()
	logger := applog.NewLogger(cfg.AppEnv)

	metrics.MustRegister(prometheus.DefaultRegisterer)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := db.Connect(cfg.PGDSN)
	if err != nil {
		log.Fatal().Err(err).Msg("api: нет подключения к БД")
	}
	defer pool.Close()

	if cfg.RedisAddr == "" {
		log.Fatal().Msg("api: не указан адрес Redis (REDIS_ADDR)")
	}
	redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	defer redisClient.Close()

	repoAdapter := repo.NewPostgres(pool)
	fastCache := cache.NewRedis(redisClient)

	reportService, err := reports.NewService(repoAdapter, fastCache, time.Duration(cfg.Reports.RetentionDays)*24*time.Hour, cfg.Reports.LatestLimit, applog.ForComponent(logger, "reports"))
	if err != nil {
		log.Fatal().Err(err).Msg("api: сервис отчётов не собран")
	}

	var triggerQueue domain.TriggerQueue
	if cfg.RabbitURL != "" {
		q, err := queue.NewRabbitTriggerQueue(cfg.RabbitURL, cfg.Queues.Trigger)
		if err != nil {
			log.Fatal().Err(err).Msg("api: очередь RabbitMQ не собрана")
		}
		defer q.Close()
		triggerQueue = q
	} else {
		triggerQueue = queue.NewRedisTriggerQueue(redisClient, cfg.Queues.Trigger)
	}

	srv := httpinfra.NewServer(applog.ForComponent(logger, "http"))

	srv.Router.Get("/api/v1/reports/latest", func(w http.ResponseWriter, r *http.Request) {
		limit := cfg.Reports.LatestLimit
		if raw := r.URL.Query().Get("limit"); raw != "" {
			parsed, err := strconv.Atoi(raw)
			if err != nil || parsed <= 0 {
				writeError(w, http.StatusBadRequest, "limit должен быть положительным числом")
				return
			}
			limit = parsed
		}
		list, err := reportService.Latest(r.Context(), limit)
		if err != nil {
			log.Error().Err(err).Msg("api: чтение последних отчётов")
			writeError(w, http.StatusInternalServerError, "не удалось получить отчёты")
			return
		}
		writeJSON(w, map[string]any{"reports": list})
	})

	srv.Router.Get("/api/v1/channels", func(w http.ResponseWriter, r *http.Request) {
		channels, err := repoAdapter.ListActiveChannels(r.Context())
		if err != nil {
			log.Error().Err(err).Msg("api: чтение каналов")
			writeError(w, http.StatusInternalServerError, "не удалось получить каналы")
			return
		}
		writeJSON(w, map[string]any{"channels": channels})
	})

	srv.Router.Get("/api/v1/channels/{id}/reports", func(w http.ResponseWriter, r *http.Request) {
		channelID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "некорректный идентификатор канала")
			return
		}
		timeframe := r.URL.Query().Get("timeframe")
		if timeframe == "" {
			timeframe = domain.TimeframeRecent
		}
		if timeframe != domain.TimeframeRecent && timeframe != domain.TimeframeDynamic {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("неизвестный timeframe %q", timeframe))
			return
		}
		if _, err := repoAdapter.GetChannel(r.Context(), channelID); err != nil {
			if errors.Is(err, repo.ErrChannelNotFound) {
				writeError(w, http.StatusNotFound, "канал не найден")
				return
			}
			log.Error().Err(err).Int64("channel", channelID).Msg("api: чтение канала")
			writeError(w, http.StatusInternalServerError, "не удалось получить канал")
			return
		}
		list, err := reportService.ForChannel(r.Context(), channelID, timeframe)
		if err != nil {
			log.Error().Err(err).Int64("channel", channelID).Msg("api: чтение отчётов канала")
			writeError(w, http.StatusInternalServerError, "не удалось получить отчёты")
			return
		}
		writeJSON(w, map[string]any{"channel_id": channelID, "timeframe": timeframe, "reports": list})
	})

	srv.Router.Post("/api/v1/channels/{id}/generate", func(w http.ResponseWriter, r *http.Request) {
		channelID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "некорректный идентификатор канала")
			return
		}
		if _, err := repoAdapter.GetChannel(r.Context(), channelID); err != nil {
			if errors.Is(err, repo.ErrChannelNotFound) {
				writeError(w, http.StatusNotFound, "канал не найден")
				return
			}
			log.Error().Err(err).Int64("channel", channelID).Msg("api: чтение канала")
			writeError(w, http.StatusInternalServerError, "не удалось получить канал")
			return
		}
		job := domain.TriggerJob{ChannelID: channelID, Timeframe: domain.TimeframeDynamic}
		if err := triggerQueue.Enqueue(r.Context(), job); err != nil {
			log.Error().Err(err).Int64("channel", channelID).Msg("api: постановка триггера в очередь")
			writeError(w, http.StatusInternalServerError, "не удалось поставить генерацию в очередь")
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusAccepted)
		_ = json.NewEncoder(w).Encode(map[string]any{"status": "queued", "channel_id": channelID})
	})

	go func() {
		if err := srv.Start(fmt.Sprintf(":%d", cfg.Port)); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("api: сервер остановлен")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("api: остановка")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{"error": msg})
}
