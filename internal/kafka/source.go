package kafka

import (
	"context"
	"log/slog"

	"github.com/ariefcatur/rockband-pos/internal/logging"
	"github.com/ariefcatur/rockband-pos/internal/orders"
	"github.com/segmentio/kafka-go"
)

// Deduper reports whether an event id is seen for the first time.
type Deduper interface {
	FirstSeen(ctx context.Context, eventID string) (bool, error)
}

// EnvelopeHandler feeds records of the kitchen topic into h, the same
// handler the push channel would call. Malformed records and duplicates
// are committed and skipped. dedup may be nil.
func EnvelopeHandler(h func(ctx context.Context, env orders.Envelope), dedup Deduper, log *slog.Logger) Handler {
	if log == nil {
		log = logging.Discard()
	}
	return func(ctx context.Context, m kafka.Message) error {
		env, err := DecodeMessage(m)
		if err != nil {
			log.Warn("skipping malformed kitchen event", "err", err)
			return nil
		}
		if !orders.KnownEvent(env.Type) {
			log.Info("skipping unknown kitchen event", "type", env.Type)
			return nil
		}
		if dedup != nil && env.EventID != "" {
			first, err := dedup.FirstSeen(ctx, env.EventID)
			if err != nil {
				// not committed, the record is read again
				return err
			}
			if !first {
				log.Debug("duplicate kitchen event", "event_id", env.EventID, "type", env.Type)
				return nil
			}
		}
		h(ctx, env)
		return nil
	}
}
