package kafka

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"clobcore/publisher"
)

// marketDataFrame mirrors spec §6's egress frame shape:
// {channel, seq, ts_ns, payload}.
type marketDataFrame struct {
	Channel string `json:"channel"`
	Seq     uint64 `json:"seq"`
	TsNano  int64  `json:"ts_ns"`
	Payload any    `json:"payload"`
}

// Sink publishes the public market-data feed (book deltas and trades,
// never user-scoped events) to Kafka via Producer. Like Broadcaster,
// it must never block the matching goroutine: Publish only enqueues
// onto a bounded channel a background goroutine drains, dropping the
// incoming frame rather than backing up when the queue is full — the
// public feed tolerates loss (subscribers resync from a bus snapshot)
// in a way the per-user outbox cannot.
type Sink struct {
	producer *Producer
	queue    chan marketDataFrame
	log      *zap.Logger
}

func NewSink(producer *Producer, queueDepth int, log *zap.Logger) *Sink {
	s := &Sink{producer: producer, queue: make(chan marketDataFrame, queueDepth), log: log}
	return s
}

func (s *Sink) Publish(step publisher.Step) {
	for _, ev := range step.Events {
		frame, ok := toFrame(step.Symbol, ev)
		if !ok {
			continue
		}
		select {
		case s.queue <- frame:
		default:
			s.log.Warn("kafka sink queue full, dropping market-data frame", zap.String("channel", frame.Channel))
		}
	}
}

func toFrame(symbol string, ev publisher.Event) (marketDataFrame, bool) {
	now := time.Now().UnixNano()
	switch ev.Type {
	case publisher.EventBookDelta:
		return marketDataFrame{Channel: "book:" + symbol, Seq: ev.Seq, TsNano: now, Payload: ev.BookDelta}, true
	case publisher.EventTrade:
		return marketDataFrame{Channel: "trades:" + symbol, Seq: ev.Seq, TsNano: now, Payload: ev.Trade}, true
	default:
		return marketDataFrame{}, false
	}
}

// Run drains the queue until ctx is cancelled.
func (s *Sink) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case frame := <-s.queue:
			payload, err := json.Marshal(frame)
			if err != nil {
				s.log.Error("kafka sink: marshal frame failed", zap.Error(err))
				continue
			}
			if err := s.producer.Send(ctx, []byte(frame.Channel), payload); err != nil {
				s.log.Error("kafka sink: send failed", zap.Error(err), zap.String("channel", frame.Channel))
			}
		}
	}
}
