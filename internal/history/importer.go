// Package history imports trade history one time window at a time, moving a
// cursor forward from start to end. One import run keeps a single page in
// flight, which preserves the forward-cursor invariant; separate pairs may be
// imported concurrently through separate runs.
package history

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jpillora/backoff"
	"golang.org/x/time/rate"

	"tradeflow/internal/ratelimit"
	"tradeflow/internal/store"
	"tradeflow/logger"
	"tradeflow/models"
)

const (
	// DefaultStep is the fetch window; exchanges with a smaller maximum
	// query range override it in config.
	DefaultStep = time.Hour

	DefaultRequestDelay   = 250 * time.Millisecond
	DefaultRateLimitDelay = 30 * time.Second
)

// FetchFunc retrieves all trades of one pair within [startMs, endMs], in
// ascending time order.
type FetchFunc func(ctx context.Context, pairArg models.CurrencyPair, startMs, endMs int64) ([]models.Trade, error)

type Options struct {
	Step           time.Duration // fetch window size
	RequestDelay   time.Duration // pause between successful pages
	RateLimitDelay time.Duration // pause after a throttled page
	RetryDelay     *backoff.Backoff
}

type Importer struct {
	exchange string
	fetch    FetchFunc
	store    store.TradeStore
	opts     Options
	limiter  *rate.Limiter
	log      *logger.Log
}

func NewImporter(exchange string, fetch FetchFunc, st store.TradeStore, opts Options) *Importer {
	if opts.Step <= 0 {
		opts.Step = DefaultStep
	}
	if opts.RequestDelay <= 0 {
		opts.RequestDelay = DefaultRequestDelay
	}
	if opts.RateLimitDelay <= 0 {
		opts.RateLimitDelay = DefaultRateLimitDelay
	}
	if opts.RetryDelay == nil {
		opts.RetryDelay = &backoff.Backoff{
			Min:    2 * time.Second,
			Max:    time.Minute,
			Factor: 2,
		}
	}
	return &Importer{
		exchange: exchange,
		fetch:    fetch,
		store:    st,
		opts:     opts,
		limiter:  rate.NewLimiter(rate.Every(opts.RequestDelay), 1),
		log:      logger.GetLogger(),
	}
}

// Import walks the range [start, end] forward and persists every fetched
// batch. Transient fetch errors are retried in place after a delay (longer
// when rate-limited); storage failures are logged and not rolled back. The
// run completes only once the cursor has moved past end plus one step.
func (im *Importer) Import(ctx context.Context, pairArg models.CurrencyPair, start, end time.Time) error {
	log := im.log.WithComponent("history_importer").WithFields(logger.Fields{
		"exchange": im.exchange,
		"pair":     pairArg.String(),
		"start":    start.UTC().Format(time.RFC3339),
		"end":      end.UTC().Format(time.RFC3339),
	})

	stepMs := im.opts.Step.Milliseconds()
	currentMs := start.UnixMilli()
	endMs := end.UnixMilli()
	imported := 0
	im.opts.RetryDelay.Reset()

	log.Info("starting history import")

	for currentMs < endMs+stepMs {
		if err := im.limiter.Wait(ctx); err != nil {
			return err
		}

		trades, err := im.fetch(ctx, pairArg, currentMs, currentMs+stepMs)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			delay := im.opts.RetryDelay.Duration()
			if ratelimit.IsRateLimited(im.exchange, err) {
				delay = im.opts.RateLimitDelay
				ratelimit.Report(im.log, im.exchange, pairArg.Key(), "import_history", err.Error())
			}
			log.WithError(err).WithFields(logger.Fields{"retry_in": delay.String()}).Warn("history page fetch failed")
			if !sleep(ctx, delay) {
				return ctx.Err()
			}
			continue
		}
		im.opts.RetryDelay.Reset()

		if len(trades) > 0 {
			if err := im.store.StoreTrades(ctx, trades); err != nil {
				// At-most-once persistence: log and move on.
				log.WithError(err).Error("failed to store trade batch")
			}
			imported += len(trades)
			// Advance to just past the newest trade so the next window never
			// refetches it.
			currentMs = trades[len(trades)-1].Date.UnixMilli() + 1
		} else {
			currentMs += stepMs
		}
	}

	log.WithFields(logger.Fields{"trades": imported}).Info("history import finished")

	if imported == 0 {
		return nil
	}
	record := store.HistoryRecord{
		Exchange:   im.exchange,
		Pair:       pairArg,
		Start:      start,
		End:        end,
		TradeCount: imported,
		BatchID:    uuid.New().String(),
		ImportedAt: time.Now().UTC(),
	}
	if err := im.store.AddToHistory(ctx, record); err != nil {
		log.WithError(err).Error("failed to persist history record")
		return fmt.Errorf("history record: %w", err)
	}
	return nil
}

func sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
