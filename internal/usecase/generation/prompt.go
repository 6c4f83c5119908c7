package generation

import (
	"fmt"
	"sort"
	"strings"

	"channel-pulse/internal/domain"
)

// Budget описывает токен-бюджет промпта. Оценка токенов — фиксированное
// отношение символов к токену, без настоящего токенизатора.
type Budget struct {
	ContextWindow  int
	OverheadTokens int
	OutputBuffer   int
	CharsPerToken  int
}

// DefaultBudget возвращает бюджет по умолчанию.
func DefaultBudget(contextWindow int) Budget {
	if contextWindow <= 0 {
		contextWindow = 16000
	}
	return Budget{
		ContextWindow:  contextWindow,
		OverheadTokens: 1200,
		OutputBuffer:   1600,
		CharsPerToken:  4,
	}
}

// EstimateTokens оценивает число токенов строки.
func (b Budget) EstimateTokens(s string) int {
	cpt := b.CharsPerToken
	if cpt <= 0 {
		cpt = 4
	}
	runes := len([]rune(s))
	return (runes + cpt - 1) / cpt
}

// BuildPriorContext формирует блок контекста из прежних отчётов канала.
func BuildPriorContext(reports []domain.Report) string {
	if len(reports) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("Прежние отчёты по каналу (не повторяй уже освещённое):\n")
	for _, r := range reports {
		fmt.Fprintf(&b, "- [%s] %s: %s\n", r.GeneratedAt.Local().Format("02.01 15:04"), r.Headline, clipRunes(r.Body, 400))
	}
	return b.String()
}

// BuildPrompt собирает промпт из сообщений окна, новые первыми, пока
// оценка не упрётся в бюджет. Старые сообщения за пределами бюджета
// молча отбрасываются. Возвращает текст и ID вошедших сообщений.
func BuildPrompt(messages []domain.Message, priorContext string, budget Budget) (string, []int64) {
	maxTokens := budget.ContextWindow - budget.OverheadTokens - budget.OutputBuffer - budget.EstimateTokens(priorContext)
	if maxTokens <= 0 {
		return "", nil
	}

	ordered := append([]domain.Message(nil), messages...)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].PublishedAt.After(ordered[j].PublishedAt)
	})

	var (
		b        strings.Builder
		included []int64
		used     int
	)
	if priorContext != "" {
		b.WriteString(priorContext)
		b.WriteString("\n")
	}
	b.WriteString("Сообщения окна, новые первыми:\n")
	for _, msg := range ordered {
		line := formatMessageLine(msg)
		cost := budget.EstimateTokens(line)
		if used+cost > maxTokens {
			break
		}
		b.WriteString(line)
		b.WriteString("\n")
		used += cost
		included = append(included, msg.ID)
	}
	if len(included) == 0 {
		return "", nil
	}
	return b.String(), included
}

// formatMessageLine сводит сообщение в одну строку: локальное время,
// заголовок, текст, структурированные поля и развёрнутая цитата.
func formatMessageLine(msg domain.Message) string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s]", msg.PublishedAt.Local().Format("02.01 15:04"))
	if title := strings.TrimSpace(msg.Title); title != "" {
		b.WriteString(" ")
		b.WriteString(title)
		b.WriteString(" —")
	}
	if content := strings.TrimSpace(msg.Content); content != "" {
		b.WriteString(" ")
		b.WriteString(flatten(content))
	}
	if desc := strings.TrimSpace(msg.Description); desc != "" {
		b.WriteString(" | ")
		b.WriteString(flatten(desc))
	}
	for _, field := range msg.Fields {
		name := strings.TrimSpace(field.Name)
		value := strings.TrimSpace(field.Value)
		if name == "" || value == "" {
			continue
		}
		fmt.Fprintf(&b, " | %s: %s", name, flatten(value))
	}
	if quoted := strings.TrimSpace(msg.Quoted); quoted != "" {
		fmt.Fprintf(&b, " | цитата: %s", flatten(quoted))
	}
	return b.String()
}

func flatten(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func clipRunes(text string, limit int) string {
	if limit <= 0 {
		return text
	}
	runes := []rune(text)
	if len(runes) <= limit {
		return text
	}
	return string(runes[:limit])
}
