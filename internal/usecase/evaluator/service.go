package evaluator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"channel-pulse/internal/domain"
	"channel-pulse/internal/infra/metrics"
	"channel-pulse/internal/usecase/generation"
)

// ErrChannelUnknown возвращается при ручном триггере по неизвестному каналу.
var ErrChannelUnknown = errors.New("канал не участвует в оценке")

const metricsBucketTTL = 48 * time.Hour

type reportGenerator interface {
	Generate(ctx context.Context, req generation.Request) (domain.Report, error)
}

type reportStore interface {
	StoreReport(ctx context.Context, report domain.Report) error
	RecentForContext(ctx context.Context, channelID int64) ([]domain.Report, error)
}

// Config задаёт параметры тика оценки.
type Config struct {
	BatchSize        int
	BatchDelay       time.Duration
	MaxLookback      time.Duration
	OverlapWindow    time.Duration
	ActivityTrailing time.Duration
}

func (c Config) withDefaults() Config {
	if c.BatchSize <= 0 {
		c.BatchSize = 3
	}
	if c.BatchDelay < 0 {
		c.BatchDelay = 0
	}
	if c.MaxLookback <= 0 {
		c.MaxLookback = 3 * time.Hour
	}
	if c.OverlapWindow <= 0 {
		c.OverlapWindow = 4 * time.Hour
	}
	if c.ActivityTrailing <= 0 {
		c.ActivityTrailing = 7 * 24 * time.Hour
	}
	return c
}

// Service решает по каждому каналу, накопилось ли достаточно новой
// неперекрытой активности для запуска генерации, и запускает её.
type Service struct {
	channels  domain.ChannelRepo
	fetcher   *ContextFetcher
	generator reportGenerator
	store     reportStore
	cache     domain.Cache
	cfg       Config
	log       zerolog.Logger
	now       func() time.Time
}

// NewService создаёт оценщик. Отсутствие любой из обязательных
// зависимостей — фатальная ошибка конфигурации: без хранилищ тик не
// должен запускаться вовсе.
func NewService(channels domain.ChannelRepo, fetcher *ContextFetcher, generator reportGenerator, store reportStore, cache domain.Cache, cfg Config, logger zerolog.Logger) (*Service, error) {
	if channels == nil {
		return nil, errors.New("evaluator: не задан репозиторий каналов")
	}
	if fetcher == nil {
		return nil, errors.New("evaluator: не задан выборщик контекста")
	}
	if generator == nil {
		return nil, errors.New("evaluator: не задан пайплайн генерации")
	}
	if store == nil {
		return nil, errors.New("evaluator: не задано хранилище отчётов")
	}
	if cache == nil {
		return nil, errors.New("evaluator: не задан кэш")
	}
	return &Service{
		channels:  channels,
		fetcher:   fetcher,
		generator: generator,
		store:     store,
		cache:     cache,
		cfg:       cfg.withDefaults(),
		log:       logger,
		now:       time.Now,
	}, nil
}

// EvaluateAllChannels выполняет один тик: оценивает все активные каналы
// и всегда возвращает итоговую запись, даже если все каналы упали.
func (s *Service) EvaluateAllChannels(ctx context.Context) domain.TickSummary {
	rows, err := s.channels.ListActivityMetrics(ctx, s.cfg.ActivityTrailing)
	if err != nil {
		s.log.Error().Err(err).Msg("evaluator: выборка агрегатов активности не удалась")
		rows = nil
	}
	return s.evaluate(ctx, rows, domain.TriggerScheduled, domain.TimeframeRecent)
}

// EvaluateChannel выполняет оценку одного канала по ручному триггеру.
func (s *Service) EvaluateChannel(ctx context.Context, channelID int64, timeframe string) (domain.TickSummary, error) {
	rows, err := s.channels.ListActivityMetrics(ctx, s.cfg.ActivityTrailing)
	if err != nil {
		return domain.TickSummary{}, fmt.Errorf("выборка агрегатов активности: %w", err)
	}
	var selected []domain.ChannelActivityMetric
	for _, row := range rows {
		if row.ChannelID == channelID {
			selected = append(selected, row)
			break
		}
	}
	if len(selected) == 0 {
		return domain.TickSummary{}, ErrChannelUnknown
	}
	if timeframe == "" {
		timeframe = domain.TimeframeDynamic
	}
	return s.evaluate(ctx, selected, domain.TriggerDynamic, timeframe), nil
}

// evaluate — один проход по каналам: два батчевых запроса контекста, затем
// оценка малыми группами с изоляцией ошибок и паузой между группами.
func (s *Service) evaluate(ctx context.Context, rows []domain.ChannelActivityMetric, trigger, timeframe string) domain.TickSummary {
	started := s.now()
	now := started.UTC()

	channelIDs := make([]int64, 0, len(rows))
	for _, row := range rows {
		channelIDs = append(channelIDs, row.ChannelID)
	}
	bulk := s.fetcher.FetchAll(ctx, channelIDs, s.cfg.MaxLookback, s.cfg.OverlapWindow)

	var (
		mu      sync.Mutex
		results []domain.ChannelEvaluation
	)
	for offset := 0; offset < len(rows); offset += s.cfg.BatchSize {
		end := offset + s.cfg.BatchSize
		if end > len(rows) {
			end = len(rows)
		}
		g, gCtx := errgroup.WithContext(ctx)
		for _, row := range rows[offset:end] {
			row := row
			g.Go(func() error {
				eval := s.evaluateChannel(gCtx, row, bulk, now, trigger, timeframe)
				mu.Lock()
				results = append(results, eval)
				mu.Unlock()
				// Ошибка канала не должна валить остальные: исход уже записан.
				return nil
			})
		}
		_ = g.Wait()

		if end < len(rows) && s.cfg.BatchDelay > 0 {
			select {
			case <-ctx.Done():
			case <-time.After(s.cfg.BatchDelay):
			}
		}
	}

	summary := domain.TickSummary{Timestamp: now, TotalEvaluated: len(results), PerChannel: results}
	for _, eval := range results {
		switch eval.Outcome {
		case domain.OutcomeGenerated:
			summary.Generated++
		case domain.OutcomeSkippedOverlap:
			summary.SkippedOverlap++
		case domain.OutcomeSkippedThreshold:
			summary.SkippedThreshold++
		case domain.OutcomeFailed:
			summary.Failed++
		}
	}

	metrics.ObserveTick(time.Since(started), summary.Generated, summary.SkippedOverlap, summary.SkippedThreshold, summary.Failed)
	s.persistSummary(ctx, summary)
	s.log.Info().
		Int("evaluated", summary.TotalEvaluated).
		Int("generated", summary.Generated).
		Int("skipped_overlap", summary.SkippedOverlap).
		Int("skipped_threshold", summary.SkippedThreshold).
		Int("failed", summary.Failed).
		Str("trigger", trigger).
		Msg("evaluator: тик завершён")
	return summary
}

// evaluateChannel решает судьбу одного канала в тике.
func (s *Service) evaluateChannel(ctx context.Context, metric domain.ChannelActivityMetric, bulk BulkContext, now time.Time, trigger, timeframe string) domain.ChannelEvaluation {
	eval := domain.ChannelEvaluation{ChannelID: metric.ChannelID, ChannelName: metric.ChannelName}
	threshold := ThresholdFor(metric.AvgMessagesPerReport)
	maxInterval := time.Duration(threshold.MaxIntervalMinutes) * time.Minute

	lastGen, hasLast := bulk.LastGeneration[metric.ChannelID]
	lookback := maxInterval
	var sinceLast time.Duration
	if hasLast {
		sinceLast = now.Sub(lastGen)
		if sinceLast < lookback {
			lookback = sinceLast
		}
	}

	window := domain.EvaluationWindow{ChannelID: metric.ChannelID, WindowStart: now.Add(-lookback), WindowEnd: now}
	messageCount := 0
	var windowed []domain.Message
	for _, msg := range bulk.MessagesByChannel[metric.ChannelID] {
		if msg.PublishedAt.Before(window.WindowStart) || msg.PublishedAt.After(window.WindowEnd) {
			continue
		}
		windowed = append(windowed, msg)
		messageCount++
	}
	eval.MessageCount = messageCount

	intervalElapsed := !hasLast || sinceLast >= maxInterval
	if messageCount < threshold.MinMessages && !(intervalElapsed && messageCount > 0) {
		eval.Outcome = domain.OutcomeSkippedThreshold
		eval.Reason = fmt.Sprintf("сообщений %d < %d, интервал не истёк", messageCount, threshold.MinMessages)
		return eval
	}

	if skip, ratio := DetectOverlap(window, bulk.WindowsByChannel[metric.ChannelID]); skip {
		eval.Outcome = domain.OutcomeSkippedOverlap
		eval.Reason = fmt.Sprintf("overlap %.0f%% с прежним окном генерации", ratio*100)
		return eval
	}

	channel, err := s.channels.GetChannel(ctx, metric.ChannelID)
	if err != nil {
		s.log.Warn().Err(err).Int64("channel", metric.ChannelID).Msg("evaluator: чтение канала не удалось")
		channel = domain.Channel{ID: metric.ChannelID, Name: metric.ChannelName}
	}

	prior, err := s.store.RecentForContext(ctx, metric.ChannelID)
	if err != nil {
		s.log.Warn().Err(err).Int64("channel", metric.ChannelID).Msg("evaluator: контекст прежних отчётов недоступен")
		prior = nil
	}

	report, err := s.generator.Generate(ctx, generation.Request{
		Channel:      channel,
		WindowStart:  window.WindowStart,
		WindowEnd:    window.WindowEnd,
		Messages:     windowed,
		PriorReports: prior,
		Timeframe:    timeframe,
		Trigger:      trigger,
	})
	if err != nil {
		s.log.Error().Err(err).Int64("channel", metric.ChannelID).Msg("evaluator: генерация отчёта не удалась")
		eval.Outcome = domain.OutcomeFailed
		eval.Reason = err.Error()
		return eval
	}

	if err := s.store.StoreReport(ctx, report); err != nil {
		s.log.Error().Err(err).Int64("channel", metric.ChannelID).Msg("evaluator: сохранение отчёта не удалось")
		eval.Outcome = domain.OutcomeFailed
		eval.Reason = fmt.Sprintf("сохранение отчёта: %v", err)
		return eval
	}

	// Отметка обновляется только после успешного сохранения: при сбое
	// следующий тик повторит попытку с тем же или большим окном.
	if err := s.fetcher.MarkGenerated(ctx, metric.ChannelID, now); err != nil {
		s.log.Warn().Err(err).Int64("channel", metric.ChannelID).Msg("evaluator: запись отметки генерации не удалась")
	}

	eval.Outcome = domain.OutcomeGenerated
	eval.ReportID = report.ID
	return eval
}

// persistSummary дописывает итог тика в суточную корзину с TTL 48 часов.
func (s *Service) persistSummary(ctx context.Context, summary domain.TickSummary) {
	raw, err := json.Marshal(summary)
	if err != nil {
		s.log.Warn().Err(err).Msg("evaluator: сериализация итога тика не удалась")
		return
	}
	key := "pulse:metrics:" + summary.Timestamp.Format("2006-01-02")
	if err := s.cache.Append(ctx, key, raw, metricsBucketTTL); err != nil {
		s.log.Warn().Err(err).Msg("evaluator: запись итога тика не удалась")
	}
}
