// Package stopshelf holds conditional orders that are dormant until a
// trigger condition fires against the last traded price or the mark
// price (per StopOrder.Reference), at which point they are converted
// into ordinary Limit/Market intents and handed back to the caller;
// the engine matches them itself in the same step, without passing
// them back through the gateway.
package stopshelf

import (
	"sort"

	"clobcore/domain/orderbook"
)

type Reference int

const (
	LastPrice Reference = iota
	MarkPrice
)

type Op int

const (
	GTE Op = iota // >=
	LTE           // <=
)

// StopOrder is a dormant record; it becomes a normal intent once
// triggered. Reservations for a stop are held from submission (the
// gateway reserves funds before parking it here), not from trigger.
type StopOrder struct {
	OrderID       uint64
	ClientOrderID string
	UserID        uint64
	Symbol        string
	Side          orderbook.Side
	TriggerType   orderbook.OrderType // Limit or Market, the type once triggered
	Reference     Reference
	Op            Op
	StopPrice     int64
	Price         int64 // limit price, if TriggerType == Limit
	Qty           int64
	QuoteBudget   int64
	ArrivalSeq    uint64
}

// Shelf indexes a symbol's stop orders by arrival seq and by trigger
// price. Evaluate still checks every stop on the shelf on each update;
// buckets the price has not crossed are not skipped.
type Shelf struct {
	bySeq map[uint64]*StopOrder
	// byPrice groups stops at the same stop_price together.
	byPrice map[int64][]*StopOrder
}

func New() *Shelf {
	return &Shelf{
		bySeq:   make(map[uint64]*StopOrder),
		byPrice: make(map[int64][]*StopOrder),
	}
}

func (s *Shelf) Add(o *StopOrder) {
	s.bySeq[o.ArrivalSeq] = o
	s.byPrice[o.StopPrice] = append(s.byPrice[o.StopPrice], o)
}

func (s *Shelf) Remove(arrivalSeq uint64) (*StopOrder, bool) {
	o, ok := s.bySeq[arrivalSeq]
	if !ok {
		return nil, false
	}
	delete(s.bySeq, arrivalSeq)
	bucket := s.byPrice[o.StopPrice]
	for i, cand := range bucket {
		if cand.ArrivalSeq == arrivalSeq {
			bucket = append(bucket[:i], bucket[i+1:]...)
			break
		}
	}
	if len(bucket) == 0 {
		delete(s.byPrice, o.StopPrice)
	} else {
		s.byPrice[o.StopPrice] = bucket
	}
	return o, true
}

func (s *Shelf) Len() int { return len(s.bySeq) }

// Evaluate checks every stop referenced against src against the new
// price and returns the ones that triggered, in shelf-arrival order,
// removing them from the shelf as it goes. A stop referenced against
// MarkPrice never fires off a LastPrice update and vice versa — the
// caller passes whichever price moved.
func (s *Shelf) Evaluate(price int64, src Reference) []*StopOrder {
	var fired []*StopOrder
	for stopPrice, bucket := range s.byPrice {
		for _, o := range bucket {
			if triggered(o, stopPrice, price, src) {
				fired = append(fired, o)
			}
		}
	}
	sort.Slice(fired, func(i, j int) bool { return fired[i].ArrivalSeq < fired[j].ArrivalSeq })
	for _, o := range fired {
		s.Remove(o.ArrivalSeq)
	}
	return fired
}

func triggered(o *StopOrder, stopPrice, price int64, src Reference) bool {
	if o.Reference != src {
		return false
	}
	switch o.Op {
	case GTE:
		return price >= stopPrice
	case LTE:
		return price <= stopPrice
	default:
		return false
	}
}

// ToIntent converts a fired stop into the Order the book should
// receive. CreatedSeq/OrderID are left to the caller (the engine sets
// OrderID to the stop's own ID and assigns a fresh CreatedSeq when it
// matches the fired stop).
func (o *StopOrder) ToIntent() *orderbook.Order {
	return &orderbook.Order{
		ClientOrderID: o.ClientOrderID,
		UserID:        o.UserID,
		Symbol:        o.Symbol,
		Side:          o.Side,
		Type:          o.TriggerType,
		Price:         o.Price,
		Qty:           o.Qty,
		Remaining:     o.Qty,
		QuoteBudget:   o.QuoteBudget,
	}
}
