package domain

import "time"

// Таймфреймы отчётов.
const (
	TimeframeRecent  = "recent"
	TimeframeDynamic = "dynamic"
)

// Триггеры генерации.
const (
	TriggerScheduled = "scheduled"
	TriggerDynamic   = "dynamic"
)

// Channel описывает логический канал входящих сообщений.
type Channel struct {
	ID        int64
	Name      string
	City      string
	IsActive  bool
	CreatedAt time.Time
}

// MessageField хранит именованное структурированное поле сообщения.
type MessageField struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// Message представляет сообщение канала. Сообщения принадлежат внешней
// системе приёма и здесь только читаются.
type Message struct {
	ID          int64
	ChannelID   int64
	PublishedAt time.Time
	Content     string
	Title       string
	Description string
	Fields      []MessageField
	Quoted      string
}

// Report — сгенерированный отчёт по окну активности канала.
// Неизменяем после создания, удаляется только ретеншном.
type Report struct {
	ID           string
	ChannelID    int64
	ChannelName  string
	Headline     string
	City         string
	Body         string
	GeneratedAt  time.Time
	MessageCount int
	MessageIDs   []int64
	Timeframe    string
	WindowStart  time.Time
	WindowEnd    time.Time
	Trigger      string
}

// ChannelActivityMetric — агрегат активности канала за трейлинг-окно.
// Пересчитывается каждый тик, отдельно не хранится.
type ChannelActivityMetric struct {
	ChannelID            int64
	ChannelName          string
	AvgMessagesPerReport float64
	TotalReports         int
	LastGeneratedAt      *time.Time
}

// Threshold — порог генерации, выведенный из активности канала.
type Threshold struct {
	MinMessages        int
	MaxIntervalMinutes int
}

// EvaluationWindow — кандидатное окно оценки. WindowEnd всегда "сейчас".
type EvaluationWindow struct {
	ChannelID   int64
	WindowStart time.Time
	WindowEnd   time.Time
}

// GeneratedWindow — временной диапазон ранее сгенерированного отчёта.
type GeneratedWindow struct {
	WindowStart time.Time
	WindowEnd   time.Time
}

// Исходы оценки канала.
const (
	OutcomeGenerated        = "generated"
	OutcomeSkippedThreshold = "skipped_threshold"
	OutcomeSkippedOverlap   = "skipped_overlap"
	OutcomeFailed           = "failed"
)

// ChannelEvaluation — результат оценки одного канала в тике.
type ChannelEvaluation struct {
	ChannelID    int64  `json:"channel_id"`
	ChannelName  string `json:"channel_name"`
	Outcome      string `json:"outcome"`
	Reason       string `json:"reason,omitempty"`
	MessageCount int    `json:"message_count"`
	ReportID     string `json:"report_id,omitempty"`
}

// TickSummary — итог одного тика оценки, append-only запись.
type TickSummary struct {
	Timestamp        time.Time           `json:"timestamp"`
	TotalEvaluated   int                 `json:"total_evaluated"`
	Generated        int                 `json:"generated"`
	SkippedOverlap   int                 `json:"skipped_overlap"`
	SkippedThreshold int                 `json:"skipped_threshold"`
	Failed           int                 `json:"failed"`
	PerChannel       []ChannelEvaluation `json:"per_channel"`
}

// TriggerJob — ручной запрос генерации по конкретному каналу.
type TriggerJob struct {
	ChannelID int64  `json:"channel_id"`
	Timeframe string `json:"timeframe,omitempty"`
}
