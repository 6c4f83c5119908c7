package evaluator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"channel-pulse/internal/domain"
)

// markerTTL — срок жизни отметки последней генерации в кэше.
const markerTTL = 7 * 24 * time.Hour

// markerReadConcurrency ограничивает параллельные чтения кэша: у кэша нет
// массового чтения, но последовательный обход каналов недопустим.
const markerReadConcurrency = 8

func markerKey(channelID int64) string {
	return fmt.Sprintf("pulse:lastgen:%d", channelID)
}

// BulkContext — данные, достаточные для оценки всех каналов одного тика.
type BulkContext struct {
	MessagesByChannel map[int64][]domain.Message
	WindowsByChannel  map[int64][]domain.GeneratedWindow
	LastGeneration    map[int64]time.Time
}

// ContextFetcher выполняет батчевую выборку контекста тика: два запроса к
// БД на все каналы сразу плюс параллельные чтения отметок из кэша.
type ContextFetcher struct {
	messages domain.MessageSource
	reports  domain.ReportRepo
	cache    domain.Cache
	log      zerolog.Logger
}

// NewContextFetcher создаёт выборщик контекста.
func NewContextFetcher(messages domain.MessageSource, reports domain.ReportRepo, cache domain.Cache, logger zerolog.Logger) *ContextFetcher {
	return &ContextFetcher{messages: messages, reports: reports, cache: cache, log: logger}
}

// FetchAll собирает контекст для всех каналов. Частичный сбой любого из
// источников деградирует до пустой карты: затронутые каналы оцениваются
// как не имеющие данных.
func (f *ContextFetcher) FetchAll(ctx context.Context, channelIDs []int64, maxLookback, overlapWindow time.Duration) BulkContext {
	now := time.Now().UTC()
	result := BulkContext{
		MessagesByChannel: map[int64][]domain.Message{},
		WindowsByChannel:  map[int64][]domain.GeneratedWindow{},
		LastGeneration:    map[int64]time.Time{},
	}
	if len(channelIDs) == 0 {
		return result
	}

	messages, err := f.messages.ListMessagesBulk(ctx, channelIDs, now.Add(-maxLookback))
	if err != nil {
		f.log.Error().Err(err).Msg("fetcher: батчевая выборка сообщений не удалась")
	} else {
		result.MessagesByChannel = messages
	}

	windows, err := f.reports.ListGeneratedWindows(ctx, channelIDs, now.Add(-overlapWindow))
	if err != nil {
		f.log.Error().Err(err).Msg("fetcher: выборка окон прежних отчётов не удалась")
	} else {
		result.WindowsByChannel = windows
	}

	var mu sync.Mutex
	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(markerReadConcurrency)
	for _, channelID := range channelIDs {
		channelID := channelID
		g.Go(func() error {
			raw, err := f.cache.Get(gCtx, markerKey(channelID))
			if err != nil {
				if !errors.Is(err, domain.ErrCacheMiss) {
					f.log.Warn().Err(err).Int64("channel", channelID).Msg("fetcher: чтение отметки генерации не удалось")
				}
				return nil
			}
			ts, err := time.Parse(time.RFC3339, string(raw))
			if err != nil {
				f.log.Warn().Err(err).Int64("channel", channelID).Msg("fetcher: некорректная отметка генерации")
				return nil
			}
			mu.Lock()
			result.LastGeneration[channelID] = ts
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	return result
}

// MarkGenerated записывает отметку последней генерации канала.
func (f *ContextFetcher) MarkGenerated(ctx context.Context, channelID int64, at time.Time) error {
	return f.cache.Set(ctx, markerKey(channelID), []byte(at.UTC().Format(time.RFC3339)), markerTTL)
}
