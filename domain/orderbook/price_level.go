package orderbook

// PriceLevel is a FIFO queue of resting orders at a single price. Queue
// order is arrival order; TotalQty always equals the sum of the
// remaining quantities of the orders currently linked here.
type PriceLevel struct {
	Price int64

	head *Order
	tail *Order

	TotalQty   int64
	OrderCount int
}

// Enqueue appends o to the tail of the level (latest arrival).
func (p *PriceLevel) Enqueue(o *Order) {
	if p.head == nil {
		p.head = o
		p.tail = o
	} else {
		p.tail.next = o
		o.prev = p.tail
		p.tail = o
	}
	p.TotalQty += o.Remaining
	p.OrderCount++
}

// Fill accounts for a match against the head order: the caller is
// responsible for having already applied the fill to the order itself
// (Order.RecordFill); Fill only keeps the level's advertised depth in
// sync with it.
func (p *PriceLevel) Fill(qty int64) {
	p.TotalQty -= qty
	if p.TotalQty < 0 {
		p.TotalQty = 0
	}
}

// DetachFilled unlinks the head order once Order.Remaining has reached
// zero. TotalQty is not touched here — Fill already accounted for the
// quantity that emptied it.
func (p *PriceLevel) DetachFilled() *Order {
	o := p.head
	if o == nil {
		return nil
	}
	p.unlinkStructural(o)
	p.OrderCount--
	return o
}

// Unlink removes an arbitrary, not-yet-filled order from the level
// (explicit cancel, or self-trade prevention cancelling a maker before
// it trades). It subtracts the order's full remaining quantity from
// TotalQty.
func (p *PriceLevel) Unlink(o *Order) {
	p.unlinkStructural(o)
	p.OrderCount--
	p.TotalQty -= o.Remaining
	if p.TotalQty < 0 {
		p.TotalQty = 0
	}
}

func (p *PriceLevel) unlinkStructural(o *Order) {
	if o.prev != nil {
		o.prev.next = o.next
	} else {
		p.head = o.next
	}
	if o.next != nil {
		o.next.prev = o.prev
	} else {
		p.tail = o.prev
	}
	o.next = nil
	o.prev = nil
}

func (p *PriceLevel) Empty() bool {
	return p.head == nil
}

// Head exposes the earliest-arrived resting order for read-only
// traversal (snapshotting, depth calculation) and as the next match
// candidate.
func (p *PriceLevel) Head() *Order {
	return p.head
}
