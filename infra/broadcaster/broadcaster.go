// Package broadcaster is the reliable at-least-once fan-out for
// user-scoped events (OrderUpdate, BalanceUpdate): every event is
// durably queued in the exit WAL before this process acknowledges the
// matching step, then drained to Kafka via Sarama by a background
// loop so a slow or down broker never blocks the matching goroutine
// (spec §5 "no operation blocks on I/O while holding book state").
package broadcaster

import (
	"context"
	"encoding/json"
	"time"

	"github.com/IBM/sarama"
	"go.uber.org/zap"

	exitwal "clobcore/infra/wal/exit"
	"clobcore/infra/sequence"
	"clobcore/publisher"
)

// outboxEvent is the wire shape persisted to the exit WAL and sent to
// Kafka — a flattened, user-addressed view of publisher.Event.
type outboxEvent struct {
	Symbol        string                         `json:"symbol"`
	Seq           uint64                         `json:"seq"`
	Type          string                         `json:"type"`
	UserID        uint64                         `json:"user_id"`
	OrderUpdate   *publisher.OrderUpdateEvent    `json:"order_update,omitempty"`
	BalanceUpdate *publisher.BalanceUpdateEvent  `json:"balance_update,omitempty"`
}

type Broadcaster struct {
	exitWAL   *exitwal.ExitWAL
	producer  sarama.SyncProducer
	topic     string
	outboxSeq *sequence.Sequencer
	log       *zap.Logger
}

func New(exitWAL *exitwal.ExitWAL, brokers []string, topic string, log *zap.Logger) (*Broadcaster, error) {
	cfg := sarama.NewConfig()
	cfg.Producer.Return.Successes = true
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Producer.Retry.Max = 5

	producer, err := sarama.NewSyncProducer(brokers, cfg)
	if err != nil {
		return nil, err
	}

	return &Broadcaster{
		exitWAL:   exitWAL,
		producer:  producer,
		topic:     topic,
		outboxSeq: sequence.New(0),
		log:       log,
	}, nil
}

// Publish implements publisher.Sink. It only ever touches the local
// Pebble-backed WAL — a fast, synchronous disk write — never the
// network; delivery to Kafka happens on the Start loop's own
// schedule, off the matching goroutine.
func (b *Broadcaster) Publish(step publisher.Step) {
	for _, ev := range step.Events {
		out, ok := toOutboxEvent(step.Symbol, ev)
		if !ok {
			continue
		}
		payload, err := json.Marshal(out)
		if err != nil {
			b.log.Error("broadcaster: marshal outbox event failed", zap.Error(err))
			continue
		}
		seq := b.outboxSeq.Next()
		if err := b.exitWAL.Append(seq, payload); err != nil {
			b.log.Error("broadcaster: append to exit WAL failed", zap.Error(err), zap.Uint64("seq", seq))
		}
	}
}

func toOutboxEvent(symbol string, ev publisher.Event) (outboxEvent, bool) {
	switch ev.Type {
	case publisher.EventOrderUpdate:
		return outboxEvent{Symbol: symbol, Seq: ev.Seq, Type: ev.Type.String(), UserID: ev.OrderUpdate.UserID, OrderUpdate: ev.OrderUpdate}, true
	case publisher.EventBalanceUpdate:
		return outboxEvent{Symbol: symbol, Seq: ev.Seq, Type: ev.Type.String(), UserID: ev.BalanceUpdate.UserID, BalanceUpdate: ev.BalanceUpdate}, true
	default:
		return outboxEvent{}, false
	}
}

// Start runs the retry loop until ctx is cancelled: every tick it
// scans NEW/FAILED outbox records in seq order and attempts delivery.
func (b *Broadcaster) Start(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(250 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				b.replayOnce()
			}
		}
	}()
}

func (b *Broadcaster) replayOnce() {
	_ = b.exitWAL.ScanPending(func(rec exitwal.ExitRecord) error {
		if err := b.exitWAL.MarkSent(rec.Seq); err != nil {
			return nil
		}
		msg := &sarama.ProducerMessage{Topic: b.topic, Value: sarama.ByteEncoder(rec.Payload)}
		if _, _, err := b.producer.SendMessage(msg); err != nil {
			_ = b.exitWAL.MarkFailed(rec.Seq)
			return nil // retry on the next tick
		}
		if err := b.exitWAL.MarkAcked(rec.Seq); err != nil {
			b.log.Error("broadcaster: mark acked failed", zap.Error(err), zap.Uint64("seq", rec.Seq))
		}
		return nil
	})
}

func (b *Broadcaster) Close() error {
	return b.producer.Close()
}
