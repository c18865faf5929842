package pmfm

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/fieldlog/internal/api"
	"github.com/MarcoPoloResearchLab/fieldlog/internal/entities"
	"github.com/MarcoPoloResearchLab/fieldlog/internal/remote"
	"github.com/MarcoPoloResearchLab/fieldlog/internal/stream"
	"github.com/patrickmn/go-cache"
	"go.uber.org/zap"
)

const (
	defaultProgramTTL = 60 * time.Minute
	pmfmQueryName     = "Pmfms"
)

// ErrMissingGateway indicates that the program service has no remote gateway.
var ErrMissingGateway = errors.New("pmfm: gateway is required")

// ProgramChange announces that the PMFMs of a program were reloaded.
type ProgramChange struct {
	ProgramLabel string
	Count        int
}

// ProgramServiceConfig configures a ProgramService.
type ProgramServiceConfig struct {
	Gateway remote.Gateway
	TTL     time.Duration
	Logger  *zap.Logger
}

// ProgramService is the referential Source backed by the remote gateway.
// Lists are cached per program and acquisition level; change listeners for
// the same program share one live query.
type ProgramService struct {
	gateway   remote.Gateway
	cache     *cache.Cache
	listeners *stream.Registry[stream.Event[ProgramChange]]
	logger    *zap.Logger
}

// NewProgramService constructs a ProgramService.
func NewProgramService(cfg ProgramServiceConfig) (*ProgramService, error) {
	if cfg.Gateway == nil {
		return nil, ErrMissingGateway
	}
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = defaultProgramTTL
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ProgramService{
		gateway:   cfg.Gateway,
		cache:     cache.New(ttl, 2*ttl),
		listeners: stream.NewRegistry[stream.Event[ProgramChange]](),
		logger:    logger,
	}, nil
}

// LoadPmfms returns the PMFMs of key's program and acquisition level that
// apply to its strategy and gear, ordered by rank.
func (s *ProgramService) LoadPmfms(ctx context.Context, key Key) ([]*entities.Pmfm, error) {
	all, err := s.programPmfms(ctx, key.ProgramLabel, key.AcquisitionLevel)
	if err != nil {
		return nil, err
	}
	out := make([]*entities.Pmfm, 0, len(all))
	for _, pmfm := range all {
		if key.StrategyLabel != "" && pmfm.StrategyLabel != "" && pmfm.StrategyLabel != key.StrategyLabel {
			continue
		}
		if key.GearID != nil && len(pmfm.GearIDs) > 0 && !slices.Contains(pmfm.GearIDs, *key.GearID) {
			continue
		}
		out = append(out, copyPmfm(pmfm))
	}
	return out, nil
}

// Invalidate drops every cached list of programLabel.
func (s *ProgramService) Invalidate(programLabel string) {
	prefix := programLabel + "|"
	for cacheKey := range s.cache.Items() {
		if strings.HasPrefix(cacheKey, prefix) {
			s.cache.Delete(cacheKey)
		}
	}
}

// ListenChanges streams a ProgramChange each time the PMFMs of programLabel
// are reloaded from the server. The stream ends when ctx is done.
func (s *ProgramService) ListenChanges(ctx context.Context, programLabel string) (<-chan stream.Event[ProgramChange], error) {
	if programLabel == "" {
		return nil, fmt.Errorf("pmfm: program label is required")
	}
	key := listenerKey(programLabel)
	subject, release := s.listeners.Subscribe(key, func(producerCtx context.Context, subject *stream.Subject[stream.Event[ProgramChange]]) {
		s.produceChanges(producerCtx, programLabel, subject)
	})
	events := subject.Subscribe(ctx)
	go func() {
		<-ctx.Done()
		release()
	}()
	return events, nil
}

// ListenerCount reports the consumers listening to programLabel.
func (s *ProgramService) ListenerCount(programLabel string) int {
	return s.listeners.RefCount(listenerKey(programLabel))
}

func (s *ProgramService) produceChanges(ctx context.Context, programLabel string, subject *stream.Subject[stream.Event[ProgramChange]]) {
	pages, err := s.gateway.WatchQuery(ctx, remote.Query{
		Name:        pmfmQueryName,
		EntityName:  entities.PmfmEntityName,
		Variables:   api.QueryRequest{Filter: entities.Filter{ProgramLabel: programLabel}, SortBy: "rankOrder"},
		FetchPolicy: remote.NetworkOnly,
	})
	if err != nil {
		subject.Next(stream.Event[ProgramChange]{Err: err})
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-pages:
			if !ok {
				return
			}
			if event.Err != nil {
				s.logger.Warn("pmfm program watch failed", zap.String("program", programLabel), zap.Error(event.Err))
				subject.Next(stream.Event[ProgramChange]{Err: event.Err})
				continue
			}
			s.Invalidate(programLabel)
			subject.Next(stream.Event[ProgramChange]{Value: ProgramChange{ProgramLabel: programLabel, Count: event.Value.Count()}})
		}
	}
}

func (s *ProgramService) programPmfms(ctx context.Context, programLabel, acquisitionLevel string) ([]*entities.Pmfm, error) {
	cacheKey := programLabel + "|" + acquisitionLevel
	if cached, ok := s.cache.Get(cacheKey); ok {
		return cached.([]*entities.Pmfm), nil
	}
	page, err := s.gateway.Query(ctx, remote.Query{
		Name:       pmfmQueryName,
		EntityName: entities.PmfmEntityName,
		Variables: api.QueryRequest{
			SortBy: "rankOrder",
			Filter: entities.Filter{ProgramLabel: programLabel, AcquisitionLevel: acquisitionLevel},
		},
		FetchPolicy: remote.NetworkOnly,
	})
	if err != nil {
		return nil, fmt.Errorf("pmfm: load program %s: %w", programLabel, err)
	}
	pmfms := make([]*entities.Pmfm, 0, len(page.Data))
	for _, entity := range page.Data {
		pmfm, ok := entity.(*entities.Pmfm)
		if !ok {
			continue
		}
		pmfms = append(pmfms, pmfm)
	}
	slices.SortStableFunc(pmfms, func(a, b *entities.Pmfm) int { return a.RankOrder - b.RankOrder })
	s.cache.SetDefault(cacheKey, pmfms)
	return pmfms, nil
}

func listenerKey(programLabel string) string {
	return "program:" + programLabel
}

func copyPmfm(pmfm *entities.Pmfm) *entities.Pmfm {
	out := *pmfm
	out.GearIDs = slices.Clone(pmfm.GearIDs)
	return &out
}
