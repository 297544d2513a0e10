package bus

import "clobcore/publisher"

// Sink adapts a Bus into a publisher.Sink for one symbol: every
// committed step is routed, whole, to that symbol's book and trades
// channels plus every user channel the step actually touches. Routing
// the entire step (not per-event) is what keeps the ordering contract:
// a subscriber on orders:{user} still sees the Trade and BookDelta that
// produced its OrderUpdate, not just the OrderUpdate in isolation.
type Sink struct {
	bus    *Bus
	symbol string
}

func NewSink(bus *Bus, symbol string) *Sink {
	return &Sink{bus: bus, symbol: symbol}
}

func (s *Sink) Publish(step publisher.Step) {
	s.bus.Publish(BookChannel(s.symbol), step)
	s.bus.Publish(TradesChannel(s.symbol), step)

	seenOrders := make(map[uint64]bool)
	seenBalances := make(map[uint64]bool)
	publishOrders := func(user uint64) {
		if !seenOrders[user] {
			seenOrders[user] = true
			s.bus.Publish(OrdersChannel(user), step)
		}
	}

	for _, ev := range step.Events {
		switch ev.Type {
		case publisher.EventOrderUpdate:
			publishOrders(ev.OrderUpdate.UserID)
		case publisher.EventTrade:
			publishOrders(ev.Trade.TakerUserID)
			publishOrders(ev.Trade.MakerUserID)
		case publisher.EventBalanceUpdate:
			user := ev.BalanceUpdate.UserID
			if !seenBalances[user] {
				seenBalances[user] = true
				s.bus.Publish(BalancesChannel(user), step)
			}
		}
	}
}

var _ publisher.Sink = (*Sink)(nil)
