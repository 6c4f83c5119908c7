package generation

import (
	"strings"
	"testing"
	"time"

	"channel-pulse/internal/domain"
)

func TestEstimateTokensRoundsUp(t *testing.T) {
	budget := DefaultBudget(16000)
	if got := budget.EstimateTokens(""); got != 0 {
		t.Fatalf("пустая строка должна стоить 0 токенов, получили %d", got)
	}
	if got := budget.EstimateTokens("абв"); got != 1 {
		t.Fatalf("три символа должны стоить 1 токен, получили %d", got)
	}
	if got := budget.EstimateTokens("абвгд"); got != 2 {
		t.Fatalf("пять символов должны стоить 2 токена, получили %d", got)
	}
}

func TestBuildPromptOrdersNewestFirst(t *testing.T) {
	base := time.Date(2026, 2, 10, 12, 0, 0, 0, time.UTC)
	messages := []domain.Message{
		{ID: 1, PublishedAt: base.Add(-30 * time.Minute), Content: "старое событие"},
		{ID: 2, PublishedAt: base.Add(-5 * time.Minute), Content: "свежее событие"},
		{ID: 3, PublishedAt: base.Add(-15 * time.Minute), Content: "среднее событие"},
	}

	prompt, included := BuildPrompt(messages, "", DefaultBudget(16000))
	if prompt == "" {
		t.Fatalf("ожидали непустой промпт")
	}
	if len(included) != 3 {
		t.Fatalf("ожидали 3 сообщения, получили %d", len(included))
	}
	if included[0] != 2 || included[1] != 3 || included[2] != 1 {
		t.Fatalf("ожидали порядок новые-первыми [2 3 1], получили %v", included)
	}
	fresh := strings.Index(prompt, "свежее событие")
	old := strings.Index(prompt, "старое событие")
	if fresh < 0 || old < 0 || fresh > old {
		t.Fatalf("свежее сообщение должно идти раньше старого")
	}
}

func TestBuildPromptDropsOldestOverBudget(t *testing.T) {
	base := time.Date(2026, 2, 10, 12, 0, 0, 0, time.UTC)
	long := strings.Repeat("а", 400)
	var messages []domain.Message
	for i := 0; i < 10; i++ {
		messages = append(messages, domain.Message{
			ID:          int64(i + 1),
			PublishedAt: base.Add(-time.Duration(i) * time.Minute),
			Content:     long,
		})
	}
	// Бюджет вмещает примерно три строки по ~105 токенов.
	budget := Budget{ContextWindow: 3120, OverheadTokens: 1200, OutputBuffer: 1600, CharsPerToken: 4}

	_, included := BuildPrompt(messages, "", budget)
	if len(included) == 0 || len(included) >= 10 {
		t.Fatalf("ожидали усечение набора, получили %d сообщений", len(included))
	}
	// Усечение отбрасывает именно старые: вошедшие ID идут подряд от самого нового.
	for i, id := range included {
		if id != int64(i+1) {
			t.Fatalf("ожидали вошедшие ID [1..%d], получили %v", len(included), included)
		}
	}
}

func TestBuildPromptEmptyWhenNothingFits(t *testing.T) {
	budget := Budget{ContextWindow: 2800, OverheadTokens: 1200, OutputBuffer: 1600, CharsPerToken: 4}
	messages := []domain.Message{{ID: 1, PublishedAt: time.Now(), Content: "событие"}}

	prompt, included := BuildPrompt(messages, "", budget)
	if prompt != "" || included != nil {
		t.Fatalf("при нулевом бюджете ожидали пустой результат, получили %q / %v", prompt, included)
	}
}

func TestBuildPromptAccountsForPriorContext(t *testing.T) {
	base := time.Date(2026, 2, 10, 12, 0, 0, 0, time.UTC)
	messages := []domain.Message{{ID: 1, PublishedAt: base, Content: "событие"}}
	prior := BuildPriorContext([]domain.Report{{
		Headline:    "вчерашний отчёт",
		Body:        "уже освещённые события",
		GeneratedAt: base.Add(-2 * time.Hour),
	}})
	if prior == "" {
		t.Fatalf("ожидали непустой блок контекста")
	}

	prompt, included := BuildPrompt(messages, prior, DefaultBudget(16000))
	if len(included) != 1 {
		t.Fatalf("сообщение должно войти в промпт")
	}
	if !strings.Contains(prompt, "вчерашний отчёт") {
		t.Fatalf("промпт должен содержать контекст прежних отчётов")
	}

	// Контекст съедает бюджет: при маленьком окне сообщения не влезают.
	tight := Budget{ContextWindow: 2810, OverheadTokens: 1200, OutputBuffer: 1600, CharsPerToken: 4}
	prompt, included = BuildPrompt(messages, prior, tight)
	if prompt != "" || included != nil {
		t.Fatalf("контекст должен вычитаться из бюджета, получили %q / %v", prompt, included)
	}
}

func TestFormatMessageLineJoinsParts(t *testing.T) {
	msg := domain.Message{
		PublishedAt: time.Date(2026, 2, 10, 12, 0, 0, 0, time.UTC),
		Title:       "Авария",
		Content:     "перекрыта  улица\nЛенина",
		Description: "подробности уточняются",
		Fields:      []domain.MessageField{{Name: "район", Value: "центральный"}, {Name: "пусто", Value: "  "}},
		Quoted:      "свидетель сообщает",
	}
	line := formatMessageLine(msg)
	if !strings.Contains(line, "Авария —") {
		t.Fatalf("строка должна содержать заголовок: %q", line)
	}
	if !strings.Contains(line, "перекрыта улица Ленина") {
		t.Fatalf("переносы строк должны схлопываться: %q", line)
	}
	if !strings.Contains(line, "район: центральный") {
		t.Fatalf("структурированные поля должны входить в строку: %q", line)
	}
	if strings.Contains(line, "пусто") {
		t.Fatalf("поля с пустым значением должны отбрасываться: %q", line)
	}
	if !strings.Contains(line, "цитата: свидетель сообщает") {
		t.Fatalf("цитата должна входить в строку: %q", line)
	}
}
