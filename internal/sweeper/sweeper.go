package sweeper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/transacta/paymentid/internal/metrics"
	"github.com/transacta/paymentid/internal/products"
)

// Namespace is the CloudWatch namespace of the sweep summary.
const Namespace = "PaymentID/Sweeper"

type ProductSource interface {
	List(ctx context.Context) ([]products.Product, error)
	ApplySweep(ctx context.Context, updates []products.SweepUpdate) (applied int, skipped []string, err error)
}

type Marker interface {
	Last(ctx context.Context) (string, error)
	Claim(ctx context.Context, today, prev string) error
	Release(ctx context.Context, today, prev string) error
}

type CountPublisher interface {
	PutCounts(ctx context.Context, counts map[string]float64, dimensions map[string]string) error
}

// Result summarises one run.
type Result struct {
	Day         string `json:"day"`
	Scanned     int    `json:"scanned"`
	Planned     int    `json:"planned"`
	Updated     int    `json:"updated"`
	Skipped     int    `json:"skipped"`
	Unpublished int    `json:"unpublished"`
}

// Sweeper ages out product listings once per calendar day.
type Sweeper struct {
	products ProductSource
	marker   Marker
	counts   CountPublisher
	logger   *slog.Logger
	location *time.Location
	nowFunc  func() time.Time
}

// New returns a Sweeper whose days roll over at midnight in loc.
// counts may be nil.
func New(source ProductSource, marker Marker, counts CountPublisher, loc *time.Location, logger *slog.Logger) *Sweeper {
	if loc == nil {
		loc = time.UTC
	}
	return &Sweeper{
		products: source,
		marker:   marker,
		counts:   counts,
		logger:   logger,
		location: loc,
		nowFunc:  time.Now,
	}
}

// Run performs today's sweep. It returns ErrAlreadySwept when the day is
// already claimed.
func (s *Sweeper) Run(ctx context.Context) (Result, error) {
	now := s.nowFunc().In(s.location)
	today := now.Format(DayLayout)
	res := Result{Day: today}

	prev, err := s.marker.Last(ctx)
	if err != nil {
		return res, err
	}
	if prev == today {
		return res, ErrAlreadySwept
	}

	list, err := s.products.List(ctx)
	if err != nil {
		return res, fmt.Errorf("list products: %w", err)
	}
	res.Scanned = len(list)

	updates := Plan(list, now, prev, s.location)
	res.Planned = len(updates)

	if err := s.marker.Claim(ctx, today, prev); err != nil {
		return res, err
	}

	applied, skipped, err := s.products.ApplySweep(ctx, updates)
	res.Updated = applied
	res.Skipped = len(skipped)
	for _, u := range updates {
		if u.Unpublish {
			res.Unpublished++
		}
	}
	if len(skipped) > 0 {
		// edited since planning; the edit stands and is counted down from tomorrow
		s.logger.InfoContext(ctx, "Sweep skipped edited listings", "day", today, "ids", skipped)
	}
	if err != nil && applied == 0 && len(updates) > 0 {
		if rerr := s.marker.Release(ctx, today, prev); rerr != nil {
			s.logger.ErrorContext(ctx, "Failed to release sweep marker", "day", today, "error", rerr)
		}
		return res, fmt.Errorf("apply sweep: %w", err)
	}
	if err != nil {
		// the day stays claimed, so listings whose write failed miss today's decrement
		s.logger.ErrorContext(ctx, "Sweep partially applied", "day", today, "applied", applied, "planned", len(updates), "error", err)
	}

	s.record(ctx, res)
	s.logger.InfoContext(ctx, "Expiry sweep completed",
		"day", today,
		"scanned", res.Scanned,
		"updated", res.Updated,
		"skipped", res.Skipped,
		"unpublished", res.Unpublished,
	)
	return res, nil
}

func (s *Sweeper) record(ctx context.Context, res Result) {
	metrics.SweepCompleted(res.Scanned, res.Updated, res.Unpublished)
	if s.counts == nil {
		return
	}
	err := s.counts.PutCounts(ctx, map[string]float64{
		"ProductsScanned":     float64(res.Scanned),
		"ProductsUpdated":     float64(res.Updated),
		"ProductsSkipped":     float64(res.Skipped),
		"ProductsUnpublished": float64(res.Unpublished),
	}, map[string]string{"Job": "ExpirySweep"})
	if err != nil {
		s.logger.WarnContext(ctx, "Failed to publish sweep metrics", "error", err)
	}
}

// IsAlreadySwept reports whether err only means there was nothing to do.
func IsAlreadySwept(err error) bool { return errors.Is(err, ErrAlreadySwept) }
