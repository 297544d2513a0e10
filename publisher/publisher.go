package publisher

import "sync/atomic"

// Step is the atomic unit subscribers observe: every event in it was
// produced by the same matching step and shares its seq range.
type Step struct {
	Symbol   string
	SeqStart uint64
	SeqEnd   uint64
	Events   []Event
}

// Sink receives committed steps. The bus is the primary sink; the exit
// WAL outbox and the Kafka/Sarama egress producers are others — all
// registered once at startup, all called from the symbol's single
// matching goroutine.
type Sink interface {
	Publish(Step)
}

// Publisher assigns per-symbol monotonic sequence numbers and commits
// one matching step at a time. It has no lock: like the OrderBook it
// fronts, it is only ever driven by its symbol's single matching
// goroutine.
type Publisher struct {
	symbol string
	seq    atomic.Uint64
	sinks  []Sink
}

func New(symbol string, startSeq uint64, sinks ...Sink) *Publisher {
	p := &Publisher{symbol: symbol, sinks: sinks}
	p.seq.Store(startSeq)
	return p
}

func (p *Publisher) AddSink(s Sink) { p.sinks = append(p.sinks, s) }

// Commit assigns sequence numbers to events in order and publishes the
// resulting Step to every sink before returning, so the caller's next
// Place/Cancel call never overlaps this step's delivery.
func (p *Publisher) Commit(events []Event) Step {
	if len(events) == 0 {
		return Step{Symbol: p.symbol, SeqStart: p.seq.Load(), SeqEnd: p.seq.Load()}
	}
	start := p.seq.Load() + 1
	for i := range events {
		events[i].Seq = p.seq.Add(1)
		events[i].Symbol = p.symbol
	}
	step := Step{Symbol: p.symbol, SeqStart: start, SeqEnd: p.seq.Load(), Events: events}
	for _, s := range p.sinks {
		s.Publish(step)
	}
	return step
}

func (p *Publisher) LastSeq() uint64 { return p.seq.Load() }
