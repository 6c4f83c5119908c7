package reports

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"channel-pulse/internal/domain"
)

type stubRepo struct {
	replaced     map[string][]domain.Report
	listed       []domain.Report
	all          []domain.Report
	allCalls     int
	recentSince  time.Time
	recentLimit  int
	recent       []domain.Report
	replaceErr   error
	listErr      error
	allErr       error
}

func newStubRepo() *stubRepo {
	return &stubRepo{replaced: map[string][]domain.Report{}}
}

func storeKey(channelID int64, timeframe string) string {
	return fmt.Sprintf("%d/%s", channelID, timeframe)
}

func (s *stubRepo) ReplaceReports(_ context.Context, channelID int64, timeframe string, reports []domain.Report) error {
	if s.replaceErr != nil {
		return s.replaceErr
	}
	s.replaced[storeKey(channelID, timeframe)] = reports
	return nil
}

func (s *stubRepo) ListReports(_ context.Context, _ int64, _ string) ([]domain.Report, error) {
	return s.listed, s.listErr
}

func (s *stubRepo) ListAllReports(_ context.Context, _ int) ([]domain.Report, error) {
	s.allCalls++
	return s.all, s.allErr
}

func (s *stubRepo) ListRecentForContext(_ context.Context, _ int64, since time.Time, limit int) ([]domain.Report, error) {
	s.recentSince = since
	s.recentLimit = limit
	return s.recent, nil
}

func (s *stubRepo) ListGeneratedWindows(context.Context, []int64, time.Time) (map[int64][]domain.GeneratedWindow, error) {
	return nil, nil
}

type stubCache struct {
	values  map[string][]byte
	getErr  error
	setKeys []string
}

func newStubCache() *stubCache {
	return &stubCache{values: map[string][]byte{}}
}

func (s *stubCache) Get(_ context.Context, key string) ([]byte, error) {
	if s.getErr != nil {
		return nil, s.getErr
	}
	raw, ok := s.values[key]
	if !ok {
		return nil, domain.ErrCacheMiss
	}
	return raw, nil
}

func (s *stubCache) Set(_ context.Context, key string, value []byte, _ time.Duration) error {
	s.values[key] = value
	s.setKeys = append(s.setKeys, key)
	return nil
}

func (s *stubCache) List(context.Context, string) ([]string, error) { return nil, nil }

func (s *stubCache) Append(context.Context, string, []byte, time.Duration) error { return nil }

func newTestService(t *testing.T, repo *stubRepo, cache *stubCache) *Service {
	t.Helper()
	service, err := NewService(repo, cache, 7*24*time.Hour, 20, zerolog.Nop())
	if err != nil {
		t.Fatalf("не ожидали ошибку конструктора: %v", err)
	}
	return service
}

func TestStoreFiltersExpiredReports(t *testing.T) {
	repo := newStubRepo()
	cache := newStubCache()
	service := newTestService(t, repo, cache)
	now := time.Date(2026, 2, 10, 12, 0, 0, 0, time.UTC)
	service.now = func() time.Time { return now }

	reports := []domain.Report{
		{ID: "old", ChannelID: 1, Timeframe: domain.TimeframeRecent, GeneratedAt: now.Add(-8 * 24 * time.Hour)},
		{ID: "fresh", ChannelID: 1, Timeframe: domain.TimeframeRecent, GeneratedAt: now.Add(-time.Hour)},
	}
	if err := service.Store(context.Background(), 1, domain.TimeframeRecent, reports); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}

	kept := repo.replaced[storeKey(1, domain.TimeframeRecent)]
	if len(kept) != 1 || kept[0].ID != "fresh" {
		t.Fatalf("ретеншн должен отбросить старый отчёт, получили %+v", kept)
	}
}

func TestStoreReportAppendsToExistingSet(t *testing.T) {
	repo := newStubRepo()
	cache := newStubCache()
	service := newTestService(t, repo, cache)
	now := time.Date(2026, 2, 10, 12, 0, 0, 0, time.UTC)
	service.now = func() time.Time { return now }
	repo.listed = []domain.Report{{ID: "prev", ChannelID: 1, Timeframe: domain.TimeframeRecent, GeneratedAt: now.Add(-2 * time.Hour)}}

	fresh := domain.Report{ID: "new", ChannelID: 1, Timeframe: domain.TimeframeRecent, GeneratedAt: now}
	if err := service.StoreReport(context.Background(), fresh); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}

	kept := repo.replaced[storeKey(1, domain.TimeframeRecent)]
	if len(kept) != 2 {
		t.Fatalf("ожидали прежний и новый отчёты, получили %+v", kept)
	}
	if kept[0].ID != "prev" || kept[1].ID != "new" {
		t.Fatalf("набор должен дополняться, получили %+v", kept)
	}
}

func TestStoreReportSurvivesListFailure(t *testing.T) {
	repo := newStubRepo()
	repo.listErr = errors.New("бд недоступна")
	service := newTestService(t, repo, newStubCache())

	fresh := domain.Report{ID: "new", ChannelID: 1, Timeframe: domain.TimeframeRecent, GeneratedAt: time.Now().UTC()}
	if err := service.StoreReport(context.Background(), fresh); err != nil {
		t.Fatalf("сбой чтения набора не должен блокировать запись: %v", err)
	}
	kept := repo.replaced[storeKey(1, domain.TimeframeRecent)]
	if len(kept) != 1 || kept[0].ID != "new" {
		t.Fatalf("новый отчёт должен быть записан, получили %+v", kept)
	}
}

func TestLatestServedFromPrimaryCache(t *testing.T) {
	repo := newStubRepo()
	cache := newStubCache()
	service := newTestService(t, repo, cache)

	cached := []domain.Report{{ID: "a"}, {ID: "b"}, {ID: "c"}}
	raw, _ := json.Marshal(cached)
	cache.values[latestKey] = raw

	got, err := service.Latest(context.Background(), 2)
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if len(got) != 2 || got[0].ID != "a" {
		t.Fatalf("ожидали 2 отчёта из кэша, получили %+v", got)
	}
	if repo.allCalls != 0 {
		t.Fatalf("попадание в кэш не должно ходить в БД")
	}
}

func TestLatestFallsBackToBackupCache(t *testing.T) {
	repo := newStubRepo()
	cache := newStubCache()
	service := newTestService(t, repo, cache)

	cached := []domain.Report{{ID: "backup"}}
	raw, _ := json.Marshal(cached)
	cache.values[latestBackupKey] = raw

	got, err := service.Latest(context.Background(), 5)
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if len(got) != 1 || got[0].ID != "backup" {
		t.Fatalf("ожидали отчёт из резервной копии, получили %+v", got)
	}
	if repo.allCalls != 0 {
		t.Fatalf("резервная копия не должна ходить в БД")
	}
}

func TestLatestColdCacheReadsRepoAndWarmsBothKeys(t *testing.T) {
	repo := newStubRepo()
	repo.all = []domain.Report{{ID: "db-1"}, {ID: "db-2"}}
	cache := newStubCache()
	service := newTestService(t, repo, cache)

	got, err := service.Latest(context.Background(), 1)
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if len(got) != 1 || got[0].ID != "db-1" {
		t.Fatalf("ожидали усечённый ответ из БД, получили %+v", got)
	}
	if repo.allCalls != 1 {
		t.Fatalf("ожидали 1 обращение к БД, получили %d", repo.allCalls)
	}
	if _, ok := cache.values[latestKey]; !ok {
		t.Fatalf("основной ключ кэша должен прогреться")
	}
	if _, ok := cache.values[latestBackupKey]; !ok {
		t.Fatalf("резервный ключ кэша должен прогреться")
	}
}

func TestLatestLargeLimitBypassesCache(t *testing.T) {
	repo := newStubRepo()
	repo.all = []domain.Report{{ID: "db-1"}}
	cache := newStubCache()
	cache.values[latestKey] = []byte("мусор")
	service := newTestService(t, repo, cache)

	got, err := service.Latest(context.Background(), 100)
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if len(got) != 1 || got[0].ID != "db-1" {
		t.Fatalf("большой лимит должен читаться напрямую из БД, получили %+v", got)
	}
	if repo.allCalls != 1 {
		t.Fatalf("ожидали прямое обращение к БД")
	}
}

func TestRecentForContextWindowAndLimit(t *testing.T) {
	repo := newStubRepo()
	service := newTestService(t, repo, newStubCache())
	now := time.Date(2026, 2, 10, 12, 0, 0, 0, time.UTC)
	service.now = func() time.Time { return now }

	if _, err := service.RecentForContext(context.Background(), 1); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if !repo.recentSince.Equal(now.Add(-4 * time.Hour)) {
		t.Fatalf("ожидали окно контекста 4 часа, получили %v", repo.recentSince)
	}
	if repo.recentLimit != 3 {
		t.Fatalf("ожидали лимит контекста 3, получили %d", repo.recentLimit)
	}
}
