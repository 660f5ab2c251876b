package quota

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/trendscout/backend/internal/metrics"
	"github.com/trendscout/backend/internal/storage/models"
)

var (
	ErrQuotaExceeded     = errors.New("daily api quota exceeded")
	ErrLedgerUnavailable = errors.New("quota ledger unavailable")
)

// Unit costs of the YouTube Data API operations this service issues.
const (
	CostList   = 1
	CostSearch = 100
)

const dayLayout = "2006-01-02"

// Denied reports whether err means no further calls may be issued.
func Denied(err error) bool {
	return errors.Is(err, ErrQuotaExceeded) || errors.Is(err, ErrLedgerUnavailable)
}

// Store keeps the day's counters. ReserveQuota must check and hold units in
// one atomic step, so ledgers in different processes sharing a store can
// never approve more than maxUnits between them.
type Store interface {
	QuotaUsage(ctx context.Context, day string) (int, error)
	// ReserveQuota holds units when used+reserved+units <= maxUnits and
	// reports whether it did.
	ReserveQuota(ctx context.Context, day string, maxUnits, units int) (bool, error)
	// ReleaseQuota drops held units without charging them.
	ReleaseQuota(ctx context.Context, day string, units int) error
	// AppendQuotaOperation moves op.Units from held to used, logs op and
	// returns the new used total.
	AppendQuotaOperation(ctx context.Context, day string, maxUnits int, op models.QuotaOperation) (int, error)
}

type Ledger struct {
	store        Store
	maxUnits     int
	haltFraction float64
	logger       *zap.Logger
	now          func() time.Time
}

type Option func(*Ledger)

func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

func WithLogger(logger *zap.Logger) Option {
	return func(l *Ledger) { l.logger = logger }
}

func NewLedger(store Store, maxUnits int, haltFraction float64, opts ...Option) *Ledger {
	l := &Ledger{
		store:        store,
		maxUnits:     maxUnits,
		haltFraction: haltFraction,
		logger:       zap.NewNop(),
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *Ledger) MaxUnits() int {
	return l.maxUnits
}

// Day returns the UTC date key the ledger is currently charging.
func (l *Ledger) Day() string {
	return l.now().UTC().Format(dayLayout)
}

// Reserve holds units for operation until RecordUsage or Release settles them.
func (l *Ledger) Reserve(ctx context.Context, operation string, units int) error {
	return l.reserve(ctx, l.Day(), operation, units)
}

func (l *Ledger) reserve(ctx context.Context, day, operation string, units int) error {
	if units < 0 {
		return fmt.Errorf("negative units for %s: %d", operation, units)
	}

	ok, err := l.store.ReserveQuota(ctx, day, l.maxUnits, units)
	if err != nil {
		l.logger.Error("Quota ledger reservation failed", zap.String("operation", operation), zap.Error(err))
		metrics.QuotaDenials.WithLabelValues("ledger_unavailable").Inc()
		return fmt.Errorf("%w: %w", ErrLedgerUnavailable, err)
	}
	if !ok {
		l.logger.Warn("Quota reservation denied",
			zap.String("operation", operation),
			zap.Int("units", units),
			zap.Int("max", l.maxUnits),
		)
		metrics.QuotaDenials.WithLabelValues("exceeded").Inc()
		return fmt.Errorf("%w: %s needs %d units, daily limit %d", ErrQuotaExceeded, operation, units, l.maxUnits)
	}
	return nil
}

// RecordUsage charges a reservation after a successful call.
func (l *Ledger) RecordUsage(ctx context.Context, operation string, units int) error {
	return l.record(ctx, l.Day(), operation, units)
}

func (l *Ledger) record(ctx context.Context, day, operation string, units int) error {
	used, err := l.store.AppendQuotaOperation(context.WithoutCancel(ctx), day, l.maxUnits, models.QuotaOperation{
		Operation: operation,
		Units:     units,
		Timestamp: l.now(),
	})
	if err != nil {
		return fmt.Errorf("%w: %w", ErrLedgerUnavailable, err)
	}

	metrics.QuotaUnitsUsed.WithLabelValues(operation).Add(float64(units))
	metrics.QuotaRemaining.Set(float64(l.maxUnits - used))
	l.logger.Debug("Quota usage recorded",
		zap.String("operation", operation),
		zap.Int("units", units),
		zap.Int("used", used),
	)
	return nil
}

// Release drops a reservation after a failed call; nothing is charged.
func (l *Ledger) Release(ctx context.Context, operation string, units int) {
	l.release(ctx, l.Day(), operation, units)
}

func (l *Ledger) release(ctx context.Context, day, operation string, units int) {
	// a cancelled call still has to hand its units back
	if err := l.store.ReleaseQuota(context.WithoutCancel(ctx), day, units); err != nil {
		l.logger.Warn("Quota release failed; units stay held until the day rolls over",
			zap.String("operation", operation),
			zap.Int("units", units),
			zap.Error(err),
		)
	}
}

// Guard reserves units, runs fn, then records or releases the reservation.
// All three steps charge the day the reservation was taken on.
func (l *Ledger) Guard(ctx context.Context, operation string, units int, fn func(ctx context.Context) error) error {
	day := l.Day()
	if err := l.reserve(ctx, day, operation, units); err != nil {
		return err
	}
	if err := fn(ctx); err != nil {
		l.release(ctx, day, operation, units)
		return err
	}
	return l.record(ctx, day, operation, units)
}

func (l *Ledger) Used(ctx context.Context) (int, error) {
	used, err := l.store.QuotaUsage(ctx, l.Day())
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrLedgerUnavailable, err)
	}
	return used, nil
}

func (l *Ledger) RemainingFraction(ctx context.Context) (float64, error) {
	used, err := l.Used(ctx)
	if err != nil {
		return 0, err
	}
	remaining := float64(l.maxUnits-used) / float64(l.maxUnits)
	if remaining < 0 {
		remaining = 0
	}
	return remaining, nil
}

// Exhausted is true once the halt fraction has been consumed, or when the
// ledger cannot be read.
func (l *Ledger) Exhausted(ctx context.Context) bool {
	used, err := l.Used(ctx)
	if err != nil {
		l.logger.Warn("Treating quota as exhausted", zap.Error(err))
		return true
	}
	return float64(used)/float64(l.maxUnits) >= l.haltFraction
}
