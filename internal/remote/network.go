package remote

import (
	"context"
	"time"

	"github.com/MarcoPoloResearchLab/fieldlog/internal/stream"
	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
)

const (
	defaultPingInterval = 30 * time.Second
	pingAttempts        = 3
)

// Pinger checks that the server answers.
type Pinger interface {
	Ping(ctx context.Context) error
}

// NetworkMonitorConfig wires a NetworkMonitor.
type NetworkMonitorConfig struct {
	Pinger   Pinger
	Interval time.Duration
	// InitialBackoff is the first wait between ping attempts of one check.
	InitialBackoff time.Duration
	Logger         *zap.Logger
}

// NetworkMonitor tracks connectivity by pinging the server.
type NetworkMonitor struct {
	pinger         Pinger
	interval       time.Duration
	initialBackoff time.Duration
	logger         *zap.Logger
	status         *stream.Subject[bool]
}

// NewNetworkMonitor constructs a monitor that starts offline until the first check.
func NewNetworkMonitor(cfg NetworkMonitorConfig) *NetworkMonitor {
	interval := cfg.Interval
	if interval <= 0 {
		interval = defaultPingInterval
	}
	initialBackoff := cfg.InitialBackoff
	if initialBackoff <= 0 {
		initialBackoff = 200 * time.Millisecond
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &NetworkMonitor{
		pinger:         cfg.Pinger,
		interval:       interval,
		initialBackoff: initialBackoff,
		logger:         logger,
		status:         stream.NewSubjectWithValue(false),
	}
}

// IsOnline reports the last known status.
func (m *NetworkMonitor) IsOnline() bool {
	online, _ := m.status.Value()
	return online
}

// Watch emits the current status and every change until ctx is done.
func (m *NetworkMonitor) Watch(ctx context.Context) <-chan bool {
	return m.status.Subscribe(ctx)
}

// SetOnline overrides the status, e.g. when the user forces offline mode.
func (m *NetworkMonitor) SetOnline(online bool) {
	if m.IsOnline() != online {
		m.logger.Info("network status changed", zap.Bool("online", online))
	}
	m.status.Next(online)
}

// Check pings the server with a short exponential backoff and records the outcome.
func (m *NetworkMonitor) Check(ctx context.Context) bool {
	if m.pinger == nil {
		m.SetOnline(false)
		return false
	}
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = m.initialBackoff
	retry := backoff.WithContext(backoff.WithMaxRetries(policy, pingAttempts-1), ctx)
	err := backoff.Retry(func() error {
		return m.pinger.Ping(ctx)
	}, retry)
	if err != nil {
		m.logger.Debug("ping failed", zap.Error(err))
	}
	m.SetOnline(err == nil)
	return err == nil
}

// Run checks connectivity every interval until ctx is done.
func (m *NetworkMonitor) Run(ctx context.Context) {
	m.Check(ctx)
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Check(ctx)
		}
	}
}
