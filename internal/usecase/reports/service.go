package reports

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"channel-pulse/internal/domain"
)

const (
	latestKey       = "pulse:reports:latest"
	latestBackupKey = "pulse:reports:latest:backup"

	latestTTL       = time.Minute
	latestBackupTTL = 10 * time.Minute

	// contextWindow и contextLimit задают выборку прежних отчётов,
	// передаваемых генерации как нарративный контекст.
	contextWindow = 4 * time.Hour
	contextLimit  = 3
)

// Service — слой хранения отчётов: ретеншн на записи, полная замена
// набора ключа и читающий кэш последних отчётов.
type Service struct {
	repo        domain.ReportRepo
	cache       domain.Cache
	retention   time.Duration
	latestLimit int
	log         zerolog.Logger
	now         func() time.Time
}

// NewService создаёт сервис отчётов. Без репозитория работать нельзя.
func NewService(repo domain.ReportRepo, cache domain.Cache, retention time.Duration, latestLimit int, logger zerolog.Logger) (*Service, error) {
	if repo == nil {
		return nil, errors.New("reports: не задан репозиторий")
	}
	if cache == nil {
		return nil, errors.New("reports: не задан кэш")
	}
	if retention <= 0 {
		retention = 7 * 24 * time.Hour
	}
	if latestLimit <= 0 {
		latestLimit = 20
	}
	return &Service{repo: repo, cache: cache, retention: retention, latestLimit: latestLimit, log: logger, now: time.Now}, nil
}

// Store применяет ретеншн к набору и полностью заменяет отчёты ключа
// (channelID, timeframe), затем обновляет кэш последних отчётов.
func (s *Service) Store(ctx context.Context, channelID int64, timeframe string, reports []domain.Report) error {
	cutoff := s.now().UTC().Add(-s.retention)
	kept := make([]domain.Report, 0, len(reports))
	for _, r := range reports {
		if r.GeneratedAt.Before(cutoff) {
			continue
		}
		kept = append(kept, r)
	}
	if err := s.repo.ReplaceReports(ctx, channelID, timeframe, kept); err != nil {
		return err
	}
	s.refreshLatest(ctx)
	return nil
}

// StoreReport добавляет свежий отчёт к набору ключа: существующий набор
// дополняется и перезаписывается целиком с учётом ретеншна.
func (s *Service) StoreReport(ctx context.Context, report domain.Report) error {
	existing, err := s.repo.ListReports(ctx, report.ChannelID, report.Timeframe)
	if err != nil {
		s.log.Warn().Err(err).Int64("channel", report.ChannelID).Msg("reports: чтение набора перед записью не удалось")
		existing = nil
	}
	return s.Store(ctx, report.ChannelID, report.Timeframe, append(existing, report))
}

// ForChannel возвращает отчёты ключа (channelID, timeframe), новые первыми.
func (s *Service) ForChannel(ctx context.Context, channelID int64, timeframe string) ([]domain.Report, error) {
	return s.repo.ListReports(ctx, channelID, timeframe)
}

// RecentForContext возвращает до трёх отчётов канала за последние четыре
// часа — нарративный контекст следующей генерации.
func (s *Service) RecentForContext(ctx context.Context, channelID int64) ([]domain.Report, error) {
	since := s.now().UTC().Add(-contextWindow)
	return s.repo.ListRecentForContext(ctx, channelID, since, contextLimit)
}

// Latest возвращает отчёты всех каналов, новые первыми. Для небольших
// лимитов читает материализованное представление из кэша; остывший
// основной ключ подстраховывается резервной копией с более долгим TTL.
func (s *Service) Latest(ctx context.Context, limit int) ([]domain.Report, error) {
	if limit <= 0 || limit > s.latestLimit {
		return s.repo.ListAllReports(ctx, limit)
	}

	if cached, ok := s.readLatest(ctx, latestKey); ok {
		return clampReports(cached, limit), nil
	}
	if cached, ok := s.readLatest(ctx, latestBackupKey); ok {
		return clampReports(cached, limit), nil
	}

	reports, err := s.repo.ListAllReports(ctx, s.latestLimit)
	if err != nil {
		return nil, err
	}
	s.writeLatest(ctx, reports)
	return clampReports(reports, limit), nil
}

func (s *Service) readLatest(ctx context.Context, key string) ([]domain.Report, bool) {
	raw, err := s.cache.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, domain.ErrCacheMiss) {
			s.log.Warn().Err(err).Str("key", key).Msg("reports: чтение кэша не удалось")
		}
		return nil, false
	}
	var reports []domain.Report
	if err := json.Unmarshal(raw, &reports); err != nil {
		s.log.Warn().Err(err).Str("key", key).Msg("reports: некорректное содержимое кэша")
		return nil, false
	}
	return reports, true
}

// refreshLatest перечитывает последние отчёты и обновляет обе копии
// представления. Сбой кэша не считается ошибкой записи.
func (s *Service) refreshLatest(ctx context.Context) {
	reports, err := s.repo.ListAllReports(ctx, s.latestLimit)
	if err != nil {
		s.log.Warn().Err(err).Msg("reports: обновление представления последних отчётов не удалось")
		return
	}
	s.writeLatest(ctx, reports)
}

func (s *Service) writeLatest(ctx context.Context, reports []domain.Report) {
	raw, err := json.Marshal(reports)
	if err != nil {
		s.log.Warn().Err(err).Msg("reports: сериализация представления не удалась")
		return
	}
	if err := s.cache.Set(ctx, latestKey, raw, latestTTL); err != nil {
		s.log.Warn().Err(err).Msg("reports: запись основного представления не удалась")
	}
	if err := s.cache.Set(ctx, latestBackupKey, raw, latestBackupTTL); err != nil {
		s.log.Warn().Err(err).Msg("reports: запись резервного представления не удалась")
	}
}

func clampReports(reports []domain.Report, limit int) []domain.Report {
	if limit > 0 && len(reports) > limit {
		return reports[:limit]
	}
	return reports
}
