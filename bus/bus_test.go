package bus

import (
	"testing"

	"clobcore/publisher"
)

func TestPublishDeliversToSubscriber(t *testing.T) {
	b := New(4)
	sub := b.Subscribe(BookChannel("BTC/USD"))

	step := publisher.Step{Symbol: "BTC/USD", SeqStart: 1, SeqEnd: 1}
	b.Publish(BookChannel("BTC/USD"), step)

	select {
	case got := <-sub.Events():
		if got.SeqStart != 1 {
			t.Errorf("unexpected step: %+v", got)
		}
	default:
		t.Fatal("expected a delivered step")
	}
}

func TestLaggedSubscriberDisconnected(t *testing.T) {
	b := New(1)
	sub := b.Subscribe(TradesChannel("BTC/USD"))

	b.Publish(TradesChannel("BTC/USD"), publisher.Step{SeqStart: 1})
	b.Publish(TradesChannel("BTC/USD"), publisher.Step{SeqStart: 2}) // buffer full, drops sub

	reason, ok := <-sub.Done()
	if !ok || reason != Lagged {
		t.Fatalf("expected Lagged close reason, got %v ok=%v", reason, ok)
	}
	if b.SubscriberCount(TradesChannel("BTC/USD")) != 0 {
		t.Error("expected lagged subscriber removed from channel")
	}
}

func TestSymbolFromBookChannel(t *testing.T) {
	symbol, ok := SymbolFromBookChannel(BookChannel("BTC/USD"))
	if !ok || symbol != "BTC/USD" {
		t.Fatalf("expected BTC/USD, ok, got %q %v", symbol, ok)
	}
	if _, ok := SymbolFromBookChannel(TradesChannel("BTC/USD")); ok {
		t.Error("expected a trades: channel to not parse as a book channel")
	}
}

func TestSinkRoutesToUserChannels(t *testing.T) {
	b := New(4)
	orderSub := b.Subscribe(OrdersChannel(7))
	balSub := b.Subscribe(BalancesChannel(7))

	sink := NewSink(b, "BTC/USD")
	sink.Publish(publisher.Step{
		Events: []publisher.Event{
			{Type: publisher.EventOrderUpdate, OrderUpdate: &publisher.OrderUpdateEvent{UserID: 7}},
			{Type: publisher.EventBalanceUpdate, BalanceUpdate: &publisher.BalanceUpdateEvent{UserID: 7}},
		},
	})

	select {
	case <-orderSub.Events():
	default:
		t.Error("expected a step on orders:7")
	}
	select {
	case <-balSub.Events():
	default:
		t.Error("expected a step on balances:7")
	}
}
