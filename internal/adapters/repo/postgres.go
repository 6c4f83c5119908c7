package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"channel-pulse/internal/domain"
	"channel-pulse/internal/infra/metrics"
)

// Postgres реализует репозитории на основе pgxpool.
type Postgres struct {
	pool *pgxpool.Pool
}

var (
	_ domain.MessageSource = (*Postgres)(nil)
	_ domain.ChannelRepo   = (*Postgres)(nil)
	_ domain.ReportRepo    = (*Postgres)(nil)
)

// ErrChannelNotFound возвращается если канал отсутствует.
var ErrChannelNotFound = errors.New("канал не найден")

// NewPostgres создаёт адаптер БД.
func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

func (p *Postgres) connCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	if _, ok := ctx.Deadline(); ok {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, 5*time.Second)
}

// ListActiveChannels возвращает каналы, участвующие в оценке.
func (p *Postgres) ListActiveChannels(ctx context.Context) ([]domain.Channel, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	rows, err := p.pool.Query(ctx, `
SELECT id, name, city, is_active, created_at
FROM channels WHERE is_active
ORDER BY id
`)
	metrics.ObserveNetworkRequest("postgres", "channels_list_active", "channels", start, err)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var channels []domain.Channel
	for rows.Next() {
		var ch domain.Channel
		if err := rows.Scan(&ch.ID, &ch.Name, &ch.City, &ch.IsActive, &ch.CreatedAt); err != nil {
			return nil, err
		}
		channels = append(channels, ch)
	}
	return channels, rows.Err()
}

// GetChannel возвращает канал по идентификатору.
func (p *Postgres) GetChannel(ctx context.Context, channelID int64) (domain.Channel, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	var ch domain.Channel
	start := time.Now()
	err := p.pool.QueryRow(ctx, `
SELECT id, name, city, is_active, created_at
FROM channels WHERE id=$1
`, channelID).Scan(&ch.ID, &ch.Name, &ch.City, &ch.IsActive, &ch.CreatedAt)
	metrics.ObserveNetworkRequest("postgres", "channels_get", "channels", start, err)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Channel{}, ErrChannelNotFound
	}
	return ch, err
}

// ListActivityMetrics считает агрегаты активности каналов за трейлинг-окно.
// Каналы без отчётов получают нулевую среднюю активность.
func (p *Postgres) ListActivityMetrics(ctx context.Context, trailing time.Duration) ([]domain.ChannelActivityMetric, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	since := time.Now().UTC().Add(-trailing)
	start := time.Now()
	rows, err := p.pool.Query(ctx, `
SELECT c.id, c.name,
       COALESCE(AVG(r.message_count), 0),
       COUNT(r.id),
       MAX(r.generated_at)
FROM channels c
LEFT JOIN reports r ON r.channel_id = c.id AND r.generated_at >= $1
WHERE c.is_active
GROUP BY c.id, c.name
ORDER BY c.id
`, since)
	metrics.ObserveNetworkRequest("postgres", "activity_metrics_aggregate", "reports", start, err)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var result []domain.ChannelActivityMetric
	for rows.Next() {
		var (
			m    domain.ChannelActivityMetric
			last sql.NullTime
		)
		if err := rows.Scan(&m.ChannelID, &m.ChannelName, &m.AvgMessagesPerReport, &m.TotalReports, &last); err != nil {
			return nil, err
		}
		if last.Valid {
			ts := last.Time
			m.LastGeneratedAt = &ts
		}
		result = append(result, m)
	}
	return result, rows.Err()
}

// ListMessagesBulk возвращает сообщения всех каналов одним запросом,
// сгруппированные по каналу на стороне клиента.
func (p *Postgres) ListMessagesBulk(ctx context.Context, channelIDs []int64, since time.Time) (map[int64][]domain.Message, error) {
	grouped := make(map[int64][]domain.Message, len(channelIDs))
	if len(channelIDs) == 0 {
		return grouped, nil
	}
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	rows, err := p.pool.Query(ctx, `
SELECT id, channel_id, published_at, content, title, description, fields_json, quoted
FROM messages WHERE channel_id = ANY($1) AND published_at >= $2
ORDER BY published_at DESC
`, channelIDs, since)
	metrics.ObserveNetworkRequest("postgres", "messages_list_bulk", "messages", start, err)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		grouped[msg.ChannelID] = append(grouped[msg.ChannelID], msg)
	}
	return grouped, rows.Err()
}

// ListMessagesSince возвращает сообщения одного канала.
func (p *Postgres) ListMessagesSince(ctx context.Context, channelID int64, since time.Time) ([]domain.Message, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	rows, err := p.pool.Query(ctx, `
SELECT id, channel_id, published_at, content, title, description, fields_json, quoted
FROM messages WHERE channel_id = $1 AND published_at >= $2
ORDER BY published_at DESC
`, channelID, since)
	metrics.ObserveNetworkRequest("postgres", "messages_list_since", "messages", start, err)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var messages []domain.Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		messages = append(messages, msg)
	}
	return messages, rows.Err()
}

func scanMessage(rows pgx.Rows) (domain.Message, error) {
	var (
		msg         domain.Message
		title       sql.NullString
		description sql.NullString
		quoted      sql.NullString
		fieldsJSON  []byte
	)
	if err := rows.Scan(&msg.ID, &msg.ChannelID, &msg.PublishedAt, &msg.Content, &title, &description, &fieldsJSON, &quoted); err != nil {
		return domain.Message{}, err
	}
	if title.Valid {
		msg.Title = title.String
	}
	if description.Valid {
		msg.Description = description.String
	}
	if quoted.Valid {
		msg.Quoted = quoted.String
	}
	if len(fieldsJSON) > 0 {
		if err := json.Unmarshal(fieldsJSON, &msg.Fields); err != nil {
			return domain.Message{}, fmt.Errorf("распаковка полей сообщения %d: %w", msg.ID, err)
		}
	}
	return msg, nil
}

// ReplaceReports в одной транзакции удаляет прежний набор отчётов ключа
// (channel_id, timeframe) и вставляет новый.
func (p *Postgres) ReplaceReports(ctx context.Context, channelID int64, timeframe string, reports []domain.Report) error {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	tx, err := p.pool.BeginTx(ctx, pgx.TxOptions{})
	metrics.ObserveNetworkRequest("postgres", "begin_tx", "reports", start, err)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	start = time.Now()
	_, err = tx.Exec(ctx, `DELETE FROM reports WHERE channel_id=$1 AND timeframe=$2`, channelID, timeframe)
	metrics.ObserveNetworkRequest("postgres", "reports_delete_key", "reports", start, err)
	if err != nil {
		return err
	}

	if len(reports) > 0 {
		batch := &pgx.Batch{}
		for _, r := range reports {
			batch.Queue(`
INSERT INTO reports (id, channel_id, channel_name, headline, city, body, generated_at, message_count, message_ids, timeframe, window_start, window_end, trigger)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
`, r.ID, r.ChannelID, r.ChannelName, r.Headline, r.City, r.Body, r.GeneratedAt, r.MessageCount, r.MessageIDs, r.Timeframe, r.WindowStart, r.WindowEnd, r.Trigger)
		}
		start = time.Now()
		br := tx.SendBatch(ctx, batch)
		metrics.ObserveNetworkRequest("postgres", "reports_send_batch", "reports", start, nil)
		for range reports {
			if _, err := br.Exec(); err != nil {
				_ = br.Close()
				return err
			}
		}
		if err := br.Close(); err != nil {
			return err
		}
	}

	start = time.Now()
	err = tx.Commit(ctx)
	metrics.ObserveNetworkRequest("postgres", "commit", "reports", start, err)
	return err
}

const reportColumns = `id, channel_id, channel_name, headline, city, body, generated_at, message_count, message_ids, timeframe, window_start, window_end, trigger`

// ListReports возвращает отчёты ключа (channel_id, timeframe), новые первыми.
func (p *Postgres) ListReports(ctx context.Context, channelID int64, timeframe string) ([]domain.Report, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	rows, err := p.pool.Query(ctx, `
SELECT `+reportColumns+`
FROM reports WHERE channel_id=$1 AND timeframe=$2
ORDER BY generated_at DESC
`, channelID, timeframe)
	metrics.ObserveNetworkRequest("postgres", "reports_list_key", "reports", start, err)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectReports(rows)
}

// ListAllReports возвращает отчёты всех каналов, новые первыми.
func (p *Postgres) ListAllReports(ctx context.Context, limit int) ([]domain.Report, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	if limit <= 0 {
		limit = 100
	}
	start := time.Now()
	rows, err := p.pool.Query(ctx, `
SELECT `+reportColumns+`
FROM reports
ORDER BY generated_at DESC
LIMIT $1
`, limit)
	metrics.ObserveNetworkRequest("postgres", "reports_list_all", "reports", start, err)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectReports(rows)
}

// ListRecentForContext возвращает свежие отчёты канала для контекста генерации.
func (p *Postgres) ListRecentForContext(ctx context.Context, channelID int64, since time.Time, limit int) ([]domain.Report, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	rows, err := p.pool.Query(ctx, `
SELECT `+reportColumns+`
FROM reports WHERE channel_id=$1 AND generated_at >= $2
ORDER BY generated_at DESC
LIMIT $3
`, channelID, since, limit)
	metrics.ObserveNetworkRequest("postgres", "reports_recent_for_context", "reports", start, err)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectReports(rows)
}

// ListGeneratedWindows возвращает окна недавних отчётов всех каналов одним
// запросом, сгруппированные по каналу на стороне клиента.
func (p *Postgres) ListGeneratedWindows(ctx context.Context, channelIDs []int64, since time.Time) (map[int64][]domain.GeneratedWindow, error) {
	grouped := make(map[int64][]domain.GeneratedWindow, len(channelIDs))
	if len(channelIDs) == 0 {
		return grouped, nil
	}
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	rows, err := p.pool.Query(ctx, `
SELECT channel_id, window_start, window_end
FROM reports WHERE channel_id = ANY($1) AND generated_at >= $2
ORDER BY generated_at DESC
`, channelIDs, since)
	metrics.ObserveNetworkRequest("postgres", "reports_list_windows", "reports", start, err)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var (
			channelID int64
			window    domain.GeneratedWindow
		)
		if err := rows.Scan(&channelID, &window.WindowStart, &window.WindowEnd); err != nil {
			return nil, err
		}
		grouped[channelID] = append(grouped[channelID], window)
	}
	return grouped, rows.Err()
}

func collectReports(rows pgx.Rows) ([]domain.Report, error) {
	var reports []domain.Report
	for rows.Next() {
		var r domain.Report
		if err := rows.Scan(&r.ID, &r.ChannelID, &r.ChannelName, &r.Headline, &r.City, &r.Body, &r.GeneratedAt, &r.MessageCount, &r.MessageIDs, &r.Timeframe, &r.WindowStart, &r.WindowEnd, &r.Trigger); err != nil {
			return nil, err
		}
		reports = append(reports, r)
	}
	return reports, rows.Err()
}
