package evaluator

import (
	"testing"
	"time"

	"channel-pulse/internal/domain"
)

func windowAt(base time.Time, startMin, endMin int) domain.EvaluationWindow {
	return domain.EvaluationWindow{
		WindowStart: base.Add(time.Duration(startMin) * time.Minute),
		WindowEnd:   base.Add(time.Duration(endMin) * time.Minute),
	}
}

func generatedAt(base time.Time, startMin, endMin int) domain.GeneratedWindow {
	return domain.GeneratedWindow{
		WindowStart: base.Add(time.Duration(startMin) * time.Minute),
		WindowEnd:   base.Add(time.Duration(endMin) * time.Minute),
	}
}

func TestDetectOverlapNoPriorWindows(t *testing.T) {
	base := time.Date(2026, 2, 10, 12, 0, 0, 0, time.UTC)
	skip, ratio := DetectOverlap(windowAt(base, 0, 60), nil)
	if skip || ratio != 0 {
		t.Fatalf("без прежних окон пропуска быть не должно: skip=%v ratio=%v", skip, ratio)
	}
}

func TestDetectOverlapBelowHalfDoesNotSkip(t *testing.T) {
	base := time.Date(2026, 2, 10, 12, 0, 0, 0, time.UTC)
	// Перекрытие 30 из 60 минут — ровно половина, ещё не пропуск.
	skip, ratio := DetectOverlap(windowAt(base, 0, 60), []domain.GeneratedWindow{generatedAt(base, -30, 30)})
	if skip {
		t.Fatalf("перекрытие 50%% не должно давать пропуск")
	}
	if ratio != 0.5 {
		t.Fatalf("ожидали долю 0.5, получили %v", ratio)
	}
}

func TestDetectOverlapAboveHalfSkips(t *testing.T) {
	base := time.Date(2026, 2, 10, 12, 0, 0, 0, time.UTC)
	skip, ratio := DetectOverlap(windowAt(base, 0, 60), []domain.GeneratedWindow{generatedAt(base, -10, 50)})
	if !skip {
		t.Fatalf("перекрытие выше половины окна должно давать пропуск")
	}
	if ratio <= 0.5 {
		t.Fatalf("ожидали долю > 0.5, получили %v", ratio)
	}
}

func TestDetectOverlapTakesMaxRatio(t *testing.T) {
	base := time.Date(2026, 2, 10, 12, 0, 0, 0, time.UTC)
	prior := []domain.GeneratedWindow{
		generatedAt(base, -50, 10), // 10 минут перекрытия
		generatedAt(base, 15, 60),  // 45 минут перекрытия
	}
	skip, ratio := DetectOverlap(windowAt(base, 0, 60), prior)
	if !skip {
		t.Fatalf("наибольшее перекрытие должно давать пропуск")
	}
	if ratio != 0.75 {
		t.Fatalf("ожидали максимальную долю 0.75, получили %v", ratio)
	}
}

func TestDetectOverlapZeroDurationWindow(t *testing.T) {
	base := time.Date(2026, 2, 10, 12, 0, 0, 0, time.UTC)
	skip, ratio := DetectOverlap(windowAt(base, 0, 0), []domain.GeneratedWindow{generatedAt(base, -60, 60)})
	if skip || ratio != 0 {
		t.Fatalf("пустое окно не перекрывается: skip=%v ratio=%v", skip, ratio)
	}
}
