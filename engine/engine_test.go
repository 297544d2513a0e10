package engine

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"

	"clobcore/domain/ledger"
	"clobcore/domain/orderbook"
	"clobcore/infra/sequence"
	"clobcore/publisher"
)

type captureSink struct{ steps []publisher.Step }

func (c *captureSink) Publish(s publisher.Step) { c.steps = append(c.steps, s) }

func newTestEngine(t *testing.T) (*Engine, *ledger.Ledger, *captureSink) {
	t.Helper()
	led, err := ledger.New(nil)
	if err != nil {
		t.Fatalf("ledger.New: %v", err)
	}
	sink := &captureSink{}
	symbol := orderbook.Symbol{Base: "BTC", Quote: "USD", PriceTick: 1, QtyStep: 1, TakerFeeRateBps: 10, MakerFeeRateBps: 5}
	pub := publisher.New(symbol.String(), 0, sink)
	eng := New(symbol, led, pub, sequence.New(0), 16, zap.NewNop())

	go eng.Run(context.Background())
	return eng, led, sink
}

func place(t *testing.T, eng *Engine, o *orderbook.Order, reserveAsset string, reserveAmount int64) *orderbook.Order {
	t.Helper()
	reply := make(chan TaskResult, 1)
	eng.Inbound() <- Task{Kind: TaskPlace, Order: o, ReserveAsset: reserveAsset, ReserveAmount: reserveAmount, Reply: reply}
	select {
	case res := <-reply:
		if res.Err != nil {
			t.Fatalf("place failed: %v", res.Err)
		}
		return res.Order
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for engine reply")
		return nil
	}
}

func TestEngineMatchSettlesBalances(t *testing.T) {
	eng, led, sink := newTestEngine(t)

	led.Credit(1, "BTC", 10)
	led.Credit(2, "USD", 10_000)

	seller := &orderbook.Order{OrderID: 1, UserID: 1, Symbol: "BTC/USD", Side: orderbook.Sell, Type: orderbook.Limit, Price: 100, Qty: 5, Remaining: 5}
	led.Reserve(1, "BTC", 5)
	place(t, eng, seller, "BTC", 5)

	buyer := &orderbook.Order{OrderID: 2, UserID: 2, Symbol: "BTC/USD", Side: orderbook.Buy, Type: orderbook.Limit, Price: 100, Qty: 5, Remaining: 5}
	led.Reserve(2, "USD", 500+1) // notional + a little fee headroom
	result := place(t, eng, buyer, "USD", 501)

	if result.Status != orderbook.Filled {
		t.Fatalf("expected buyer filled, got %s", result.Status)
	}

	if led.Balance(2, "BTC").Available != 5 {
		t.Errorf("expected buyer credited 5 BTC, got %+v", led.Balance(2, "BTC"))
	}
	if led.Balance(1, "USD").Available == 0 {
		t.Errorf("expected seller credited USD, got %+v", led.Balance(1, "USD"))
	}
	if len(sink.steps) == 0 {
		t.Fatal("expected at least one committed step")
	}
}

func TestEngineCancelReleasesReservation(t *testing.T) {
	eng, led, _ := newTestEngine(t)
	led.Credit(1, "USD", 1000)
	led.Reserve(1, "USD", 500)

	o := &orderbook.Order{OrderID: 1, UserID: 1, Symbol: "BTC/USD", Side: orderbook.Buy, Type: orderbook.Limit, Price: 100, Qty: 5, Remaining: 5}
	place(t, eng, o, "USD", 500)

	reply := make(chan TaskResult, 1)
	eng.Inbound() <- Task{Kind: TaskCancel, CancelOrderID: 1, Reply: reply}
	res := <-reply
	if res.Err != nil {
		t.Fatalf("cancel failed: %v", res.Err)
	}

	b := led.Balance(1, "USD")
	if b.Available != 1000 || b.Reserved != 0 {
		t.Errorf("expected full reservation released, got %+v", b)
	}
}

// TestEngineHaltsOnReservedUnderflow exercises the Inconsistent error
// path: an order cancelled with a reservation bookkeeping entry that
// claims more than the ledger actually holds reserved must halt the
// symbol rather than silently clamp the release.
func TestEngineHaltsOnReservedUnderflow(t *testing.T) {
	eng, led, sink := newTestEngine(t)
	led.Credit(1, "USD", 1000)
	led.Reserve(1, "USD", 500)

	o := &orderbook.Order{OrderID: 1, UserID: 1, Symbol: "BTC/USD", Side: orderbook.Buy, Type: orderbook.Limit, Price: 100, Qty: 5, Remaining: 5}
	// Deliberately over-claim the reservation versus what was actually
	// reserved in the ledger, simulating the gateway/engine bookkeeping
	// having drifted apart.
	place(t, eng, o, "USD", 5000)

	reply := make(chan TaskResult, 1)
	eng.Inbound() <- Task{Kind: TaskCancel, CancelOrderID: 1, Reply: reply}
	<-reply

	time.Sleep(50 * time.Millisecond)

	var sawHalt bool
	for _, step := range sink.steps {
		for _, ev := range step.Events {
			if ev.Type == publisher.EventSymbolHalted {
				sawHalt = true
			}
		}
	}
	if !sawHalt {
		t.Fatal("expected a SymbolHalted event after reserved underflow")
	}

	reply2 := make(chan TaskResult, 1)
	eng.Inbound() <- Task{Kind: TaskPlace, Order: &orderbook.Order{OrderID: 2, UserID: 1, Symbol: "BTC/USD", Side: orderbook.Buy, Type: orderbook.Limit, Price: 100, Qty: 1, Remaining: 1}, Reply: reply2}
	res := <-reply2
	if res.Err != ErrEngineHalted {
		t.Fatalf("expected ErrEngineHalted for task submitted after halt, got %v", res.Err)
	}
}
