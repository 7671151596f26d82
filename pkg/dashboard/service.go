package dashboard

import (
	"errors"
	"log/slog"
	"time"

	"github.com/jellydator/ttlcache/v3"
	"github.com/jonboulle/clockwork"

	"github.com/malbeclabs/analyst/pkg/dataset"
)

const (
	defaultCacheTTL = time.Minute
	dashboardKey    = "dashboard"
)

type ServiceConfig struct {
	Logger   *slog.Logger
	Dataset  *dataset.Dataset
	Clock    clockwork.Clock
	CacheTTL time.Duration
}

func (cfg *ServiceConfig) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.CacheTTL == 0 {
		cfg.CacheTTL = defaultCacheTTL
	}
	if cfg.CacheTTL < 0 {
		return errors.New("cache TTL must be greater than 0")
	}
	return nil
}

type Service struct {
	log   *slog.Logger
	cfg   *ServiceConfig
	cache *ttlcache.Cache[string, *Data]
}

func NewService(cfg *ServiceConfig) (*Service, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cache := ttlcache.New(
		ttlcache.WithTTL[string, *Data](cfg.CacheTTL),
	)
	return &Service{log: cfg.Logger, cfg: cfg, cache: cache}, nil
}

// Data returns the dashboard, computing it at most once per cache TTL. It falls back
// to mock figures when the dataset cannot back the dashboard.
func (s *Service) Data() *Data {
	if item := s.cache.Get(dashboardKey); item != nil {
		return item.Value()
	}

	data, err := Compute(s.cfg.Dataset)
	if err != nil {
		s.log.Warn("dashboard: using mock data", "error", err)
		data = Mock(s.cfg.Clock.Now())
	}
	s.cache.Set(dashboardKey, data, ttlcache.DefaultTTL)
	return data
}

// Preview returns rows [skip, skip+limit) of the dataset.
func (s *Service) Preview(skip, limit int) *Preview {
	ds := s.cfg.Dataset
	if ds == nil || len(ds.ColumnNames()) == 0 {
		return &Preview{
			Error:   "Dataset not found",
			Data:    []map[string]any{},
			Columns: []string{},
			DTypes:  map[string]string{},
		}
	}
	return &Preview{
		Data:    ds.Records(skip, limit),
		Total:   ds.Len(),
		Columns: ds.ColumnNames(),
		DTypes:  ds.DTypes(),
		Skip:    skip,
		Limit:   limit,
	}
}
