// Package position samples the device location on a timer and stores it
// against the entity being edited.
package position

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/MarcoPoloResearchLab/fieldlog/internal/entities"
	"github.com/MarcoPoloResearchLab/fieldlog/internal/metrics"
	"github.com/MarcoPoloResearchLab/fieldlog/internal/stream"
	"go.uber.org/zap"
)

const (
	defaultCheckInterval = 30 * time.Second
	defaultSaveInterval  = 5 * time.Minute

	sampleSaved   = "saved"
	sampleSkipped = "skipped"
	sampleDenied  = "denied"
	sampleFailed  = "failed"
)

var (
	// ErrPermissionDenied is returned by a Geolocation the user has not authorized.
	ErrPermissionDenied = errors.New("position: geolocation permission denied")

	errMissingGeolocation = errors.New("position: geolocation is required")
	errMissingSaver       = errors.New("position: saver is required")
)

// Position is one location fix.
type Position struct {
	Latitude  float64   `json:"latitude"`
	Longitude float64   `json:"longitude"`
	DateTime  time.Time `json:"dateTime"`
}

// Geolocation reads the current fix of the device.
type Geolocation interface {
	CurrentPosition(ctx context.Context) (Position, error)
}

// Saver persists a device position, locally or remotely depending on the entity.
type Saver interface {
	Save(ctx context.Context, entity entities.Entity) (entities.Entity, error)
}

// WatchdogConfig configures a Watchdog.
type WatchdogConfig struct {
	Geolocation   Geolocation
	Saver         Saver
	Enabled       bool
	Mobile        bool
	CheckInterval time.Duration
	SaveInterval  time.Duration
	Clock         func() time.Time
	Logger        *zap.Logger
}

// Watchdog periodically samples the device position while enabled on a
// mobile platform and saves at most one sample per save interval.
type Watchdog struct {
	geolocation   Geolocation
	saver         Saver
	mobile        bool
	checkInterval time.Duration
	saveInterval  time.Duration
	clock         func() time.Time
	logger        *zap.Logger
	mustAsk       *stream.Subject[bool]

	mu        sync.Mutex
	enabled   bool
	base      context.Context
	cancel    context.CancelFunc
	done      chan struct{}
	owner     *owner
	last      *Position
	lastSaved *Position
}

type owner struct {
	objectType string
	objectID   int64
	program    *entities.Program
}

// NewWatchdog constructs a stopped Watchdog.
func NewWatchdog(cfg WatchdogConfig) (*Watchdog, error) {
	if cfg.Geolocation == nil {
		return nil, errMissingGeolocation
	}
	if cfg.Saver == nil {
		return nil, errMissingSaver
	}
	checkInterval := cfg.CheckInterval
	if checkInterval <= 0 {
		checkInterval = defaultCheckInterval
	}
	saveInterval := cfg.SaveInterval
	if saveInterval <= 0 {
		saveInterval = defaultSaveInterval
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Watchdog{
		geolocation:   cfg.Geolocation,
		saver:         cfg.Saver,
		enabled:       cfg.Enabled,
		mobile:        cfg.Mobile,
		checkInterval: checkInterval,
		saveInterval:  saveInterval,
		clock:         clock,
		logger:        logger,
		mustAsk:       stream.NewSubjectWithValue(false),
	}, nil
}

// Start begins sampling until ctx is done or Stop is called. It reports
// whether the timer runs; it does not when disabled or not on a mobile platform.
func (w *Watchdog) Start(ctx context.Context) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.base = ctx
	return w.startLocked()
}

// Stop cancels the timer and waits for the running sample to finish.
func (w *Watchdog) Stop() {
	w.mu.Lock()
	done := w.stopLocked()
	w.base = nil
	w.mu.Unlock()
	if done != nil {
		<-done
	}
}

// SetEnabled turns sampling on or off. Disabling cancels the timer.
func (w *Watchdog) SetEnabled(enabled bool) {
	w.mu.Lock()
	w.enabled = enabled
	if enabled {
		w.startLocked()
		w.mu.Unlock()
		return
	}
	done := w.stopLocked()
	w.mu.Unlock()
	if done != nil {
		<-done
	}
}

// Running reports whether the timer is active.
func (w *Watchdog) Running() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.cancel != nil
}

// SetOwner attaches later samples to the given entity and its program. A nil
// id detaches them.
func (w *Watchdog) SetOwner(objectType string, objectID *int64, program *entities.Program) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if objectID == nil {
		w.owner = nil
		return
	}
	w.owner = &owner{objectType: objectType, objectID: *objectID}
	if program != nil {
		w.owner.program = &entities.Program{ID: program.ID, Label: program.Label}
	}
	w.lastSaved = nil
}

// MustAskGeolocation streams whether the user must be asked to enable geolocation.
func (w *Watchdog) MustAskGeolocation(ctx context.Context) <-chan bool {
	return w.mustAsk.Subscribe(ctx)
}

// NeedsPermission returns the current value of the must-ask flag.
func (w *Watchdog) NeedsPermission() bool {
	value, _ := w.mustAsk.Value()
	return value
}

// LastPosition returns the latest accepted fix.
func (w *Watchdog) LastPosition() (Position, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.last == nil {
		return Position{}, false
	}
	return *w.last, true
}

// Sample reads one fix and saves it when the save interval has elapsed.
// A permission denial raises the must-ask flag instead of failing.
func (w *Watchdog) Sample(ctx context.Context) error {
	fix, err := w.geolocation.CurrentPosition(ctx)
	if errors.Is(err, ErrPermissionDenied) {
		w.mustAsk.Next(true)
		metrics.RecordPositionSample(sampleDenied)
		return nil
	}
	if err != nil {
		metrics.RecordPositionSample(sampleFailed)
		return fmt.Errorf("position: read fix: %w", err)
	}
	if w.NeedsPermission() {
		w.mustAsk.Next(false)
	}
	if fix.DateTime.IsZero() {
		fix.DateTime = w.clock()
	}

	w.mu.Lock()
	w.last = &fix
	current := w.owner
	due := w.lastSaved == nil || w.clock().Sub(w.lastSaved.DateTime) > w.saveInterval
	w.mu.Unlock()

	if current == nil || !due {
		metrics.RecordPositionSample(sampleSkipped)
		return nil
	}

	objectID := current.objectID
	dateTime := fix.DateTime
	record := &entities.DevicePosition{
		ObjectType: current.objectType,
		ObjectID:   &objectID,
		DateTime:   &dateTime,
		Latitude:   fix.Latitude,
		Longitude:  fix.Longitude,
	}
	if current.program != nil {
		program := *current.program
		record.Program = &program
	}
	if objectID < 0 {
		record.SynchronizationStatus = entities.StatusDirty
	}
	if _, err := w.saver.Save(ctx, record); err != nil {
		metrics.RecordPositionSample(sampleFailed)
		return fmt.Errorf("position: save sample: %w", err)
	}

	w.mu.Lock()
	w.lastSaved = &fix
	w.mu.Unlock()
	metrics.RecordPositionSample(sampleSaved)
	return nil
}

func (w *Watchdog) startLocked() bool {
	if w.cancel != nil {
		return true
	}
	if !w.enabled || !w.mobile || w.base == nil {
		return false
	}
	ctx, cancel := context.WithCancel(w.base)
	done := make(chan struct{})
	w.cancel = cancel
	w.done = done
	go w.loop(ctx, done)
	return true
}

func (w *Watchdog) stopLocked() chan struct{} {
	if w.cancel == nil {
		return nil
	}
	w.cancel()
	done := w.done
	w.cancel = nil
	w.done = nil
	return done
}

func (w *Watchdog) loop(ctx context.Context, done chan struct{}) {
	defer func() {
		w.mu.Lock()
		if w.done == done {
			w.cancel()
			w.cancel = nil
			w.done = nil
		}
		w.mu.Unlock()
		close(done)
	}()
	ticker := time.NewTicker(w.checkInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := w.Sample(ctx); err != nil && ctx.Err() == nil {
				w.logger.Warn("device position sample failed", zap.Error(err))
			}
		}
	}
}
