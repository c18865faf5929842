// Package pmfm serves the parameterized field definitions (PMFMs) of a
// program, scoped by acquisition level, strategy and gear.
package pmfm

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"sync"

	"github.com/MarcoPoloResearchLab/fieldlog/internal/entities"
	"github.com/MarcoPoloResearchLab/fieldlog/internal/stream"
	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"go.uber.org/zap"
)

var (
	// ErrRestart is returned when waiting on a cache that was already stopped.
	ErrRestart = errors.New("pmfm: stopped cache cannot be restarted")
	// ErrMissingSource indicates that no PMFM source was configured.
	ErrMissingSource = errors.New("pmfm: source is required")
)

// Key selects the PMFMs a form needs.
type Key struct {
	ProgramLabel     string
	AcquisitionLevel string
	StrategyLabel    string
	GearID           *int64
}

// Source loads the PMFMs matching key.
type Source interface {
	LoadPmfms(ctx context.Context, key Key) ([]*entities.Pmfm, error)
}

// Mapper post-processes a loaded list before it is published.
type Mapper func(ctx context.Context, pmfms []*entities.Pmfm) ([]*entities.Pmfm, error)

// ScopedCacheConfig configures a ScopedCache.
type ScopedCacheConfig struct {
	Source          Source
	RequireStrategy bool
	RequireGear     bool
	Mapper          Mapper
	Logger          *zap.Logger
}

// ScopedCache keeps one hot list of PMFMs for the current key. Setters
// trigger a refresh; watchers only see a list when it actually changes, and
// never one loaded for another key.
type ScopedCache struct {
	source          Source
	requireStrategy bool
	requireGear     bool
	mapper          Mapper
	logger          *zap.Logger

	mu      sync.Mutex
	key     Key
	loading bool
	pending bool
	stopped bool
	lastKey string

	trigger chan struct{}
	subject *stream.Subject[snapshot]
	cancel  context.CancelFunc
}

// snapshot is a loaded list tagged with the watch key it was loaded for.
type snapshot struct {
	key   string
	pmfms []*entities.Pmfm
}

// NewScopedCache constructs a cache and starts its refresh loop.
func NewScopedCache(cfg ScopedCacheConfig) (*ScopedCache, error) {
	if cfg.Source == nil {
		return nil, ErrMissingSource
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	cache := &ScopedCache{
		source:          cfg.Source,
		requireStrategy: cfg.RequireStrategy,
		requireGear:     cfg.RequireGear,
		mapper:          cfg.Mapper,
		logger:          logger,
		trigger:         make(chan struct{}, 1),
		subject:         stream.NewSubject[snapshot](),
		cancel:          cancel,
	}
	go cache.run(ctx)
	return cache, nil
}

// SetProgramLabel changes the program component of the key.
func (c *ScopedCache) SetProgramLabel(label string) {
	c.update(func(key *Key) { key.ProgramLabel = label })
}

// SetAcquisitionLevel changes the acquisition level component of the key.
func (c *ScopedCache) SetAcquisitionLevel(level string) {
	c.update(func(key *Key) { key.AcquisitionLevel = level })
}

// SetStrategyLabel changes the strategy component of the key.
func (c *ScopedCache) SetStrategyLabel(label string) {
	c.update(func(key *Key) { key.StrategyLabel = label })
}

// SetGearID changes the gear component of the key. Nil clears it.
func (c *ScopedCache) SetGearID(gearID *int64) {
	c.update(func(key *Key) {
		if gearID == nil {
			key.GearID = nil
			return
		}
		value := *gearID
		key.GearID = &value
	})
}

// Key returns the current key.
func (c *ScopedCache) Key() Key {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.key
}

// Refresh forces a reload of the current key, e.g. after the program changed.
func (c *ScopedCache) Refresh() {
	c.mu.Lock()
	c.lastKey = ""
	c.mu.Unlock()
	c.update(func(*Key) {})
}

// Value returns the list loaded for the current key. It reports false while
// the key is incomplete or its list has not been loaded yet.
func (c *ScopedCache) Value() ([]*entities.Pmfm, bool) {
	loaded, ok := c.subject.Value()
	if !ok || !c.isCurrent(loaded.key) {
		return nil, false
	}
	return loaded.pmfms, true
}

// Watch streams the lists loaded for the current key until ctx is done or the
// cache stops. Lists of a previous key are withheld, as are repeats.
func (c *ScopedCache) Watch(ctx context.Context) <-chan []*entities.Pmfm {
	updates := c.subject.Subscribe(ctx)
	out := make(chan []*entities.Pmfm)
	go func() {
		defer close(out)
		var last []*entities.Pmfm
		sent := false
		for loaded := range updates {
			if !c.isCurrent(loaded.key) {
				continue
			}
			if sent && cmp.Equal(last, loaded.pmfms, cmpopts.EquateEmpty()) {
				continue
			}
			select {
			case out <- loaded.pmfms:
				last, sent = loaded.pmfms, true
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}

// Ready blocks until the list of the current key is loaded. It returns nil
// when the cache is stopped meanwhile and ErrRestart when it was stopped before.
func (c *ScopedCache) Ready(ctx context.Context) error {
	c.mu.Lock()
	stopped := c.stopped
	c.mu.Unlock()
	if stopped {
		return ErrRestart
	}
	waitCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	for loaded := range c.subject.Subscribe(waitCtx) {
		if c.isCurrent(loaded.key) {
			return nil
		}
	}
	return ctx.Err()
}

// Stop ends the refresh loop and completes every watcher.
func (c *ScopedCache) Stop() {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return
	}
	c.stopped = true
	c.mu.Unlock()
	c.cancel()
	c.subject.Complete()
}

func (c *ScopedCache) update(mutate func(key *Key)) {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return
	}
	mutate(&c.key)
	if c.loading {
		c.pending = true
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()
	c.signal()
}

func (c *ScopedCache) signal() {
	select {
	case c.trigger <- struct{}{}:
	default:
	}
}

func (c *ScopedCache) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.trigger:
		}
		c.refresh(ctx)
	}
}

func (c *ScopedCache) refresh(ctx context.Context) {
	c.mu.Lock()
	key := c.key
	watchKey := c.watchKey(key)
	if watchKey == "" || watchKey == c.lastKey {
		c.mu.Unlock()
		return
	}
	c.lastKey = watchKey
	c.loading = true
	c.mu.Unlock()

	value, err := c.load(ctx, key)

	c.mu.Lock()
	c.loading = false
	rerun := c.pending
	c.pending = false
	if err != nil {
		c.lastKey = ""
	}
	c.mu.Unlock()

	if err != nil {
		if ctx.Err() == nil {
			c.logger.Warn("pmfm load failed", zap.String("key", watchKey), zap.Error(err))
		}
	} else {
		c.subject.Next(snapshot{key: watchKey, pmfms: value})
	}
	if rerun {
		c.signal()
	}
}

func (c *ScopedCache) load(ctx context.Context, key Key) ([]*entities.Pmfm, error) {
	pmfms, err := c.source.LoadPmfms(ctx, key)
	if err != nil {
		return nil, err
	}
	if c.mapper != nil {
		return c.mapper(ctx, pmfms)
	}
	return pmfms, nil
}

// isCurrent reports whether key is the complete watch key of the current key.
func (c *ScopedCache) isCurrent(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return key != "" && key == c.watchKey(c.key)
}

// watchKey is empty while a required component is missing.
func (c *ScopedCache) watchKey(key Key) string {
	if key.ProgramLabel == "" || key.AcquisitionLevel == "" {
		return ""
	}
	if c.requireStrategy && key.StrategyLabel == "" {
		return ""
	}
	if c.requireGear && key.GearID == nil {
		return ""
	}
	gear := ""
	if key.GearID != nil {
		gear = strconv.FormatInt(*key.GearID, 10)
	}
	return strings.Join([]string{key.ProgramLabel, key.AcquisitionLevel, key.StrategyLabel, gear}, "|")
}
