package evaluator

import (
	"testing"

	"channel-pulse/internal/domain"
)

func TestThresholdForTiers(t *testing.T) {
	cases := []struct {
		avg  float64
		want domain.Threshold
	}{
		{0, domain.Threshold{MinMessages: 1, MaxIntervalMinutes: 180}},
		{2.9, domain.Threshold{MinMessages: 1, MaxIntervalMinutes: 180}},
		{3, domain.Threshold{MinMessages: 2, MaxIntervalMinutes: 60}},
		{7.9, domain.Threshold{MinMessages: 2, MaxIntervalMinutes: 60}},
		{8, domain.Threshold{MinMessages: 3, MaxIntervalMinutes: 30}},
		{120, domain.Threshold{MinMessages: 3, MaxIntervalMinutes: 30}},
	}
	for _, tc := range cases {
		got := ThresholdFor(tc.avg)
		if got != tc.want {
			t.Fatalf("avg=%v: ожидали %+v, получили %+v", tc.avg, tc.want, got)
		}
	}
}

func TestThresholdForMonotonic(t *testing.T) {
	prev := ThresholdFor(0)
	for avg := 0.5; avg <= 20; avg += 0.5 {
		cur := ThresholdFor(avg)
		if cur.MaxIntervalMinutes > prev.MaxIntervalMinutes {
			t.Fatalf("avg=%v: интервал вырос с ростом активности (%d > %d)", avg, cur.MaxIntervalMinutes, prev.MaxIntervalMinutes)
		}
		if cur.MinMessages < prev.MinMessages {
			t.Fatalf("avg=%v: порог сообщений упал с ростом активности (%d < %d)", avg, cur.MinMessages, prev.MinMessages)
		}
		prev = cur
	}
}
