package orderbook

import "lukechampine.com/uint128"

type levelNode struct {
	order *Order
	next  *levelNode
	prev  *levelNode
}

// PriceLevel is a FIFO queue of resting orders at a single price. TotalQty
// tracks the sum of the queued orders' remaining quantities; a level whose
// queue empties is removed from its side.
type PriceLevel struct {
	Price uint128.Uint128

	head *levelNode
	tail *levelNode

	TotalQty   uint128.Uint128
	OrderCount int
}

// Enqueue appends an order at the tail of the queue.
func (p *PriceLevel) Enqueue(o *Order) {
	n := &levelNode{order: o}
	if p.head == nil {
		p.head = n
		p.tail = n
	} else {
		p.tail.next = n
		n.prev = p.tail
		p.tail = n
	}
	p.TotalQty = p.TotalQty.Add(o.Remaining)
	p.OrderCount++
}

// PopHead removes and returns the oldest order.
func (p *PriceLevel) PopHead() *Order {
	n := p.head
	if n == nil {
		return nil
	}
	p.head = n.next
	if p.head != nil {
		p.head.prev = nil
	} else {
		p.tail = nil
	}
	n.next = nil
	n.prev = nil

	p.TotalQty = p.TotalQty.Sub(n.order.Remaining)
	p.OrderCount--
	return n.order
}

// ReduceHead subtracts qty from both the head order's remaining quantity and
// the level aggregate, after a partial fill.
func (p *PriceLevel) ReduceHead(qty uint128.Uint128) {
	if p.head == nil {
		return
	}
	p.head.order.Remaining = p.head.order.Remaining.Sub(qty)
	p.TotalQty = p.TotalQty.Sub(qty)
}

// Head returns the oldest order without removing it.
func (p *PriceLevel) Head() *Order {
	if p.head == nil {
		return nil
	}
	return p.head.order
}

func (p *PriceLevel) Empty() bool {
	return p.head == nil
}

// Orders returns the queued orders in FIFO order.
func (p *PriceLevel) Orders() []*Order {
	out := make([]*Order, 0, p.OrderCount)
	for n := p.head; n != nil; n = n.next {
		out = append(out, n.order)
	}
	return out
}
