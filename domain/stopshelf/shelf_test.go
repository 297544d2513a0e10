package stopshelf

import (
	"testing"

	"clobcore/domain/orderbook"
)

func TestEvaluateFiresInArrivalOrder(t *testing.T) {
	s := New()
	s.Add(&StopOrder{ArrivalSeq: 2, StopPrice: 90, Op: LTE, Side: orderbook.Sell, TriggerType: orderbook.Market})
	s.Add(&StopOrder{ArrivalSeq: 1, StopPrice: 90, Op: LTE, Side: orderbook.Sell, TriggerType: orderbook.Market})

	fired := s.Evaluate(89, LastPrice)
	if len(fired) != 2 {
		t.Fatalf("expected both stops to fire, got %d", len(fired))
	}
	if fired[0].ArrivalSeq != 1 || fired[1].ArrivalSeq != 2 {
		t.Errorf("expected shelf-arrival order, got seqs %d,%d", fired[0].ArrivalSeq, fired[1].ArrivalSeq)
	}
	if s.Len() != 0 {
		t.Errorf("expected fired stops removed from shelf, %d remain", s.Len())
	}
}

func TestEvaluateOnlyFiresStopsReferencedAgainstSource(t *testing.T) {
	s := New()
	s.Add(&StopOrder{ArrivalSeq: 1, StopPrice: 90, Op: LTE, Reference: LastPrice})
	s.Add(&StopOrder{ArrivalSeq: 2, StopPrice: 90, Op: LTE, Reference: MarkPrice})

	fired := s.Evaluate(80, LastPrice)
	if len(fired) != 1 || fired[0].ArrivalSeq != 1 {
		t.Fatalf("expected only the LastPrice-referenced stop to fire on a last price update, got %+v", fired)
	}
	if s.Len() != 1 {
		t.Fatalf("expected the MarkPrice-referenced stop to remain dormant, shelf has %d", s.Len())
	}

	fired = s.Evaluate(80, MarkPrice)
	if len(fired) != 1 || fired[0].ArrivalSeq != 2 {
		t.Fatalf("expected the MarkPrice-referenced stop to fire on a mark price update, got %+v", fired)
	}
	if s.Len() != 0 {
		t.Errorf("expected shelf empty after both stops fired, %d remain", s.Len())
	}
}

func TestEvaluateOnlyCrossedStops(t *testing.T) {
	s := New()
	s.Add(&StopOrder{ArrivalSeq: 1, StopPrice: 90, Op: LTE})
	s.Add(&StopOrder{ArrivalSeq: 2, StopPrice: 80, Op: LTE})

	fired := s.Evaluate(85, LastPrice)
	if len(fired) != 1 || fired[0].ArrivalSeq != 1 {
		t.Fatalf("expected only the 90 stop to fire at last price 85, got %+v", fired)
	}
	if s.Len() != 1 {
		t.Errorf("expected the 80 stop to remain dormant, shelf has %d", s.Len())
	}
}
