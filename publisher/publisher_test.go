package publisher

import "testing"

type captureSink struct {
	steps []Step
}

func (c *captureSink) Publish(s Step) { c.steps = append(c.steps, s) }

func TestCommitAssignsContiguousSeq(t *testing.T) {
	sink := &captureSink{}
	p := New("BTC/USD", 0, sink)

	p.Commit([]Event{{Type: EventTrade}, {Type: EventBookDelta}})
	p.Commit([]Event{{Type: EventOrderUpdate}})

	if len(sink.steps) != 2 {
		t.Fatalf("expected 2 committed steps, got %d", len(sink.steps))
	}
	if sink.steps[0].SeqStart != 1 || sink.steps[0].SeqEnd != 2 {
		t.Errorf("unexpected first step range: %+v", sink.steps[0])
	}
	if sink.steps[1].SeqStart != 3 || sink.steps[1].SeqEnd != 3 {
		t.Errorf("unexpected second step range: %+v", sink.steps[1])
	}
	if p.LastSeq() != 3 {
		t.Errorf("expected LastSeq 3, got %d", p.LastSeq())
	}
}

func TestCommitEmptyEventsIsNoop(t *testing.T) {
	sink := &captureSink{}
	p := New("BTC/USD", 5, sink)
	p.Commit(nil)
	if len(sink.steps) != 0 {
		t.Errorf("expected no sink call for an empty step, got %d", len(sink.steps))
	}
	if p.LastSeq() != 5 {
		t.Errorf("expected seq unchanged at 5, got %d", p.LastSeq())
	}
}
