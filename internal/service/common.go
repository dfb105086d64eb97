package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/tradeops/ledger/internal/locker"
	"github.com/tradeops/ledger/internal/metrics"
	"github.com/tradeops/ledger/internal/repository"
	"github.com/tradeops/ledger/pkg/apperror"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

const dateLayout = "2006-01-02"

// guard takes locker keys and then opens a transaction, in that order.
// Taking the keys first keeps row locks from being held while queued on a key.
type guard struct {
	locker    locker.Locker
	txManager repository.TransactionManager
	metrics   *metrics.Metrics
}

func (g guard) run(ctx context.Context, scope string, keys []string, fn func(txCtx context.Context) error) error {
	start := time.Now()
	release, err := g.locker.Acquire(ctx, keys...)
	if err != nil {
		return fmt.Errorf("failed to acquire %s lock: %w", scope, err)
	}
	defer release()
	g.metrics.LockWaitSeconds.WithLabelValues(scope).Observe(time.Since(start).Seconds())

	return g.txManager.RunInTx(ctx, fn)
}

// monthRange returns [first day of month, first day of next month) in UTC
func monthRange(year, month int) (time.Time, time.Time) {
	from := time.Date(year, time.Month(month), 1, 0, 0, 0, 0, time.UTC)
	return from, from.AddDate(0, 1, 0)
}

func validatePeriod(year, month int) error {
	if year < 1900 || year > 9999 {
		return apperror.Validation("year is out of range")
	}
	if month < 1 || month > 12 {
		return apperror.Validation("month must be between 1 and 12")
	}
	return nil
}

func parseID(field, raw string) (uuid.UUID, error) {
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, apperror.Validation("invalid " + field)
	}
	return id, nil
}

func parseDate(field, raw string) (time.Time, error) {
	t, err := time.Parse(dateLayout, raw)
	if err != nil {
		return time.Time{}, apperror.Validation(field + " must be a YYYY-MM-DD date")
	}
	return t, nil
}

// notFound maps gorm's missing-row error to a NotFound AppError and wraps anything else
func notFound(err error, resource, id string) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return apperror.NotFound(resource, id)
	}
	return fmt.Errorf("failed to fetch %s: %w", resource, err)
}
