package evaluator

import (
	"time"

	"channel-pulse/internal/domain"
)

// overlapSkipRatio — доля перекрытия кандидатного окна, выше которой
// генерация пропускается.
const overlapSkipRatio = 0.5

// DetectOverlap сравнивает кандидатное окно с окнами прежних отчётов и
// возвращает признак пропуска вместе с максимальной найденной долей
// перекрытия.
func DetectOverlap(candidate domain.EvaluationWindow, prior []domain.GeneratedWindow) (bool, float64) {
	duration := candidate.WindowEnd.Sub(candidate.WindowStart)
	if duration <= 0 {
		return false, 0
	}

	var maxRatio float64
	for _, w := range prior {
		end := minTime(candidate.WindowEnd, w.WindowEnd)
		start := maxTime(candidate.WindowStart, w.WindowStart)
		overlap := end.Sub(start)
		if overlap <= 0 {
			continue
		}
		ratio := float64(overlap) / float64(duration)
		if ratio > maxRatio {
			maxRatio = ratio
		}
	}
	return maxRatio > overlapSkipRatio, maxRatio
}

func minTime(a, b time.Time) time.Time {
	if a.Before(b) {
		return a
	}
	return b
}

func maxTime(a, b time.Time) time.Time {
	if a.After(b) {
		return a
	}
	return b
}
