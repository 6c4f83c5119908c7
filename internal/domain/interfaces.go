package domain

import (
	"context"
	"errors"
	"time"
)

// MessageSource читает сообщения из внешнего хранилища приёма.
type MessageSource interface {
	ListMessagesBulk(ctx context.Context, channelIDs []int64, since time.Time) (map[int64][]Message, error)
	ListMessagesSince(ctx context.Context, channelID int64, since time.Time) ([]Message, error)
}

// ChannelRepo отдаёт каналы и агрегаты их активности.
type ChannelRepo interface {
	ListActiveChannels(ctx context.Context) ([]Channel, error)
	GetChannel(ctx context.Context, channelID int64) (Channel, error)
	ListActivityMetrics(ctx context.Context, trailing time.Duration) ([]ChannelActivityMetric, error)
}

// ReportRepo сохраняет и возвращает отчёты.
type ReportRepo interface {
	ReplaceReports(ctx context.Context, channelID int64, timeframe string, reports []Report) error
	ListReports(ctx context.Context, channelID int64, timeframe string) ([]Report, error)
	ListAllReports(ctx context.Context, limit int) ([]Report, error)
	ListRecentForContext(ctx context.Context, channelID int64, since time.Time, limit int) ([]Report, error)
	ListGeneratedWindows(ctx context.Context, channelIDs []int64, since time.Time) (map[int64][]GeneratedWindow, error)
}

// CompletionService выполняет запрос к внешнему сервису генерации текста.
// Повторы при сбоях — ответственность вызывающего.
type CompletionService interface {
	Complete(ctx context.Context, systemPrompt, userPrompt, schemaHint string) (string, error)
}

// Cache — эфемерное TTL-хранилище ключ/значение.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	List(ctx context.Context, prefix string) ([]string, error)
	Append(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

// TriggerQueue — очередь ручных запросов на генерацию.
type TriggerQueue interface {
	Enqueue(ctx context.Context, job TriggerJob) error
	Pop(ctx context.Context) (TriggerJob, error)
}

// ErrCacheMiss возвращают реализации Cache при отсутствии ключа.
var ErrCacheMiss = errors.New("cache: ключ не найден")
