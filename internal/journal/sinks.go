package journal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/alanyoungcy/predictex/internal/domain"
	"github.com/alanyoungcy/predictex/internal/lmsr"
)

// CacheSink refreshes the Redis read caches from each batch.
type CacheSink struct {
	markets domain.MarketCache
	prices  domain.PriceCache
	books   domain.OrderbookCache
}

// NewCacheSink creates a CacheSink. Any cache may be nil.
func NewCacheSink(markets domain.MarketCache, prices domain.PriceCache, books domain.OrderbookCache) *CacheSink {
	return &CacheSink{markets: markets, prices: prices, books: books}
}

// Name implements Sink.
func (s *CacheSink) Name() string { return "cache" }

// Handle implements Sink.
func (s *CacheSink) Handle(ctx context.Context, b domain.Batch) error {
	var errs []error
	for _, m := range b.Markets {
		if s.markets != nil {
			errs = append(errs, s.markets.Set(ctx, m))
		}
		if s.prices != nil {
			if yes, no, ok := MarketPrices(m); ok {
				errs = append(errs, s.prices.SetPrices(ctx, m.ID, yes, no, m.UpdatedAt))
			}
		}
	}
	if s.books != nil {
		for _, e := range b.Events {
			if snap, ok := e.Payload.(domain.OrderbookSnapshot); ok && e.Type == domain.EventBookUpdated {
				errs = append(errs, s.books.SetSnapshot(ctx, snap))
			}
		}
	}
	return errors.Join(errs...)
}

// MarketPrices returns the current YES and NO prices of a market: the LMSR
// prices for AMM markets, the last trade for CLOB markets.
func MarketPrices(m domain.Market) (yes, no float64, ok bool) {
	switch m.Mode {
	case domain.MarketModeAMM:
		s := lmsr.FromMarket(m)
		if s.Validate() != nil {
			return 0, 0, false
		}
		yes, no = s.Prices()
		return yes, no, true
	case domain.MarketModeCLOB:
		if m.LastTradePrice == 0 {
			return 0, 0, false
		}
		yes = float64(m.LastTradePrice) / float64(domain.TicksPerUnit)
		return yes, 1 - yes, true
	}
	return 0, 0, false
}

// EventPublisher fans events out to subscribers.
type EventPublisher interface {
	PublishEvent(ctx context.Context, e domain.Event) error
}

// EventSink publishes the batch's events, in order.
type EventSink struct {
	name string
	pub  EventPublisher
}

// NewEventSink creates an EventSink.
func NewEventSink(name string, pub EventPublisher) *EventSink {
	return &EventSink{name: name, pub: pub}
}

// Name implements Sink.
func (s *EventSink) Name() string { return s.name }

// Handle implements Sink.
func (s *EventSink) Handle(ctx context.Context, b domain.Batch) error {
	var errs []error
	for _, e := range b.Events {
		if err := s.pub.PublishEvent(ctx, e); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", e.Type, err))
		}
	}
	return errors.Join(errs...)
}

// ArchiveSink exports a market's settlement record once the batch that
// settled it is stored.
type ArchiveSink struct {
	archiver domain.Archiver
	logger   *slog.Logger
}

// NewArchiveSink creates an ArchiveSink.
func NewArchiveSink(a domain.Archiver, logger *slog.Logger) *ArchiveSink {
	return &ArchiveSink{archiver: a, logger: logger}
}

// Name implements Sink.
func (s *ArchiveSink) Name() string { return "archive" }

// Handle implements Sink.
func (s *ArchiveSink) Handle(ctx context.Context, b domain.Batch) error {
	var errs []error
	for _, m := range b.Markets {
		if !m.IsSettled() {
			continue
		}
		path, err := s.archiver.ArchiveSettlement(ctx, m)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		s.logger.InfoContext(ctx, "journal: settlement archived",
			slog.String("market_id", m.ID),
			slog.String("path", path),
		)
	}
	return errors.Join(errs...)
}
