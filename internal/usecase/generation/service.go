package generation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"channel-pulse/internal/domain"
	"channel-pulse/internal/infra/metrics"
	"channel-pulse/internal/infra/retry"
)

// ErrNoMessages возвращается если в окне нет сообщений для промпта.
var ErrNoMessages = errors.New("нет сообщений для генерации")

// GenerationError — типизированная ошибка пайплайна после исчерпания
// всех попыток.
type GenerationError struct {
	ChannelID int64
	Attempts  int
	Err       error
}

func (e *GenerationError) Error() string {
	return fmt.Sprintf("генерация отчёта канала %d не удалась за %d попыток: %v", e.ChannelID, e.Attempts, e.Err)
}

func (e *GenerationError) Unwrap() error { return e.Err }

const systemPrompt = "Ты редактор городской новостной ленты. Пиши только проверенные факты из переданных сообщений и не добавляй выдумок. " +
	"Составь один связный отчёт о событиях окна: заголовок, город и текст. " +
	"Верни JSON-объект с полями headline, city и body без пояснений."

const schemaHint = `{"headline": "...", "city": "...", "body": "..."}`

// Request описывает вход пайплайна генерации.
type Request struct {
	Channel      domain.Channel
	WindowStart  time.Time
	WindowEnd    time.Time
	Messages     []domain.Message
	PriorReports []domain.Report
	Timeframe    string
	Trigger      string
}

// Service — пайплайн генерации: промпт в пределах бюджета, вызов внешнего
// сервиса с повторами и валидация структурированного ответа.
type Service struct {
	client domain.CompletionService
	policy retry.Policy
	budget Budget
	log    zerolog.Logger
	now    func() time.Time
}

// NewService создаёт пайплайн. Без клиента генерации работать нельзя.
func NewService(client domain.CompletionService, policy retry.Policy, budget Budget, logger zerolog.Logger) (*Service, error) {
	if client == nil {
		return nil, errors.New("generation: не задан клиент генерации")
	}
	if policy.MaxAttempts <= 0 {
		policy.MaxAttempts = 3
	}
	return &Service{client: client, policy: policy, budget: budget, log: logger, now: time.Now}, nil
}

type reportPayload struct {
	Headline string `json:"headline"`
	City     string `json:"city"`
	Body     string `json:"body"`
}

// Generate строит один отчёт по окну сообщений. Ответ, не прошедший
// валидацию, считается сбоем попытки и повторяется с тем же бюджетом.
func (s *Service) Generate(ctx context.Context, req Request) (domain.Report, error) {
	prompt, includedIDs := BuildPrompt(req.Messages, BuildPriorContext(req.PriorReports), s.budget)
	if prompt == "" {
		return domain.Report{}, ErrNoMessages
	}

	start := time.Now()
	var payload reportPayload
	err := retry.Do(ctx, s.policy, func(attemptCtx context.Context) error {
		raw, err := s.client.Complete(attemptCtx, systemPrompt, prompt, schemaHint)
		if err != nil {
			metrics.GenerationAttempts.WithLabelValues("error").Inc()
			return err
		}
		parsed, err := parsePayload(raw)
		if err != nil {
			metrics.GenerationAttempts.WithLabelValues("invalid").Inc()
			return err
		}
		metrics.GenerationAttempts.WithLabelValues("success").Inc()
		payload = parsed
		return nil
	})
	metrics.ReportBuildSeconds.Observe(time.Since(start).Seconds())
	if err != nil {
		return domain.Report{}, &GenerationError{ChannelID: req.Channel.ID, Attempts: s.policy.MaxAttempts, Err: err}
	}

	now := s.now().UTC()
	timeframe := req.Timeframe
	if timeframe == "" {
		timeframe = domain.TimeframeDynamic
	}
	trigger := req.Trigger
	if trigger == "" {
		trigger = domain.TriggerScheduled
	}
	city := payload.City
	if req.Channel.City != "" {
		city = req.Channel.City
	}
	return domain.Report{
		ID:           uuid.NewString(),
		ChannelID:    req.Channel.ID,
		ChannelName:  req.Channel.Name,
		Headline:     payload.Headline,
		City:         city,
		Body:         payload.Body,
		GeneratedAt:  now,
		MessageCount: len(includedIDs),
		MessageIDs:   includedIDs,
		Timeframe:    timeframe,
		WindowStart:  req.WindowStart,
		WindowEnd:    req.WindowEnd,
		Trigger:      trigger,
	}, nil
}

// parsePayload валидирует структурированный ответ: JSON с непустыми
// headline, city и body.
func parsePayload(raw string) (reportPayload, error) {
	var parsed reportPayload
	if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
		return reportPayload{}, fmt.Errorf("распаковка ответа LLM: %w", err)
	}
	parsed.Headline = strings.TrimSpace(parsed.Headline)
	parsed.City = strings.TrimSpace(parsed.City)
	parsed.Body = strings.TrimSpace(parsed.Body)
	if parsed.Headline == "" || parsed.City == "" || parsed.Body == "" {
		return reportPayload{}, errors.New("ответ LLM неполный: нужны headline, city и body")
	}
	return parsed, nil
}
