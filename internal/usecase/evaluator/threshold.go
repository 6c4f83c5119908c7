package evaluator

import "channel-pulse/internal/domain"

// Уровни активности канала (среднее число сообщений на отчёт).
const (
	highActivityAvg   = 8
	mediumActivityAvg = 3
)

// ThresholdFor возвращает порог генерации по средней активности канала.
// Функция тотальна и монотонна: чем активнее канал, тем короче
// максимальный интервал между отчётами.
func ThresholdFor(avgMessagesPerReport float64) domain.Threshold {
	switch {
	case avgMessagesPerReport >= highActivityAvg:
		return domain.Threshold{MinMessages: 3, MaxIntervalMinutes: 30}
	case avgMessagesPerReport >= mediumActivityAvg:
		return domain.Threshold{MinMessages: 2, MaxIntervalMinutes: 60}
	default:
		return domain.Threshold{MinMessages: 1, MaxIntervalMinutes: 180}
	}
}
