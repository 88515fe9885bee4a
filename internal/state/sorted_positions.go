package state

import (
	"errors"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

var (
	ErrListFull      = errors.New("sorted positions: list is full")
	ErrAlreadyInList = errors.New("sorted positions: list already contains the node")
	ErrNotInList     = errors.New("sorted positions: list does not contain the node")
	ErrZeroID        = errors.New("sorted positions: id cannot be zero")
	ErrZeroNICR      = errors.New("sorted positions: NICR must be positive")
)

// DefaultMaxProbe bounds the walk from a stale hint before falling back to
// a scan from the head.
const DefaultMaxProbe = 64

// NICRSource supplies the current nominal ICR of a listed position,
// pending rewards included.
type NICRSource interface {
	GetNominalICR(owner common.Address) *uint256.Int
}

type node struct {
	next common.Address
	prev common.Address
}

// SortedPositions is a doubly linked list of owners in descending NICR
// order. Keys are not stored: they are read from the source on demand, so
// the list is only re-ordered when a position is touched.
type SortedPositions struct {
	source   NICRSource
	nodes    map[common.Address]*node
	head     common.Address
	tail     common.Address
	size     uint64
	maxSize  uint64
	maxProbe int
}

func NewSortedPositions(source NICRSource, maxSize uint64) *SortedPositions {
	return &SortedPositions{
		source:   source,
		nodes:    make(map[common.Address]*node),
		maxSize:  maxSize,
		maxProbe: DefaultMaxProbe,
	}
}

func (s *SortedPositions) nicr(id common.Address) *uint256.Int {
	return s.source.GetNominalICR(id)
}

// Insert adds id at the slot for key nicr. prevHint and nextHint are the
// caller's guess of its neighbours; a wrong guess costs time, never
// correctness.
func (s *SortedPositions) Insert(id common.Address, nicr *uint256.Int, prevHint, nextHint common.Address) error {
	if s.IsFull() {
		return ErrListFull
	}
	if s.Contains(id) {
		return ErrAlreadyInList
	}
	if id == (common.Address{}) {
		return ErrZeroID
	}
	if nicr.IsZero() {
		return ErrZeroNICR
	}

	prev, next := prevHint, nextHint
	if !s.ValidInsertPosition(nicr, prev, next) {
		prev, next = s.FindInsertPosition(nicr, prev, next)
	}

	n := &node{}
	switch {
	case prev == (common.Address{}) && next == (common.Address{}):
		s.head = id
		s.tail = id
	case prev == (common.Address{}):
		n.next = s.head
		s.nodes[s.head].prev = id
		s.head = id
	case next == (common.Address{}):
		n.prev = s.tail
		s.nodes[s.tail].next = id
		s.tail = id
	default:
		n.next = next
		n.prev = prev
		s.nodes[prev].next = id
		s.nodes[next].prev = id
	}

	s.nodes[id] = n
	s.size++
	return nil
}

// Remove unlinks id in O(1).
func (s *SortedPositions) Remove(id common.Address) error {
	n, ok := s.nodes[id]
	if !ok {
		return ErrNotInList
	}

	if s.size > 1 {
		switch id {
		case s.head:
			s.head = n.next
			s.nodes[s.head].prev = common.Address{}
		case s.tail:
			s.tail = n.prev
			s.nodes[s.tail].next = common.Address{}
		default:
			s.nodes[n.prev].next = n.next
			s.nodes[n.next].prev = n.prev
		}
	} else {
		s.head = common.Address{}
		s.tail = common.Address{}
	}

	delete(s.nodes, id)
	s.size--
	return nil
}

// ReInsert moves id to the slot for its new key.
func (s *SortedPositions) ReInsert(id common.Address, newNICR *uint256.Int, prevHint, nextHint common.Address) error {
	if !s.Contains(id) {
		return ErrNotInList
	}
	if newNICR.IsZero() {
		return ErrZeroNICR
	}
	if err := s.Remove(id); err != nil {
		return err
	}
	return s.Insert(id, newNICR, prevHint, nextHint)
}

func (s *SortedPositions) Contains(id common.Address) bool {
	_, ok := s.nodes[id]
	return ok
}

func (s *SortedPositions) IsFull() bool {
	return s.maxSize > 0 && s.size == s.maxSize
}

func (s *SortedPositions) IsEmpty() bool {
	return s.size == 0
}

func (s *SortedPositions) Size() uint64 {
	return s.size
}

func (s *SortedPositions) MaxSize() uint64 {
	return s.maxSize
}

// First returns the highest-NICR owner, or the zero address.
func (s *SortedPositions) First() common.Address {
	return s.head
}

// Last returns the lowest-NICR owner, or the zero address.
func (s *SortedPositions) Last() common.Address {
	return s.tail
}

// Next returns the neighbour with the next lower NICR.
func (s *SortedPositions) Next(id common.Address) common.Address {
	if n, ok := s.nodes[id]; ok {
		return n.next
	}
	return common.Address{}
}

// Prev returns the neighbour with the next higher NICR.
func (s *SortedPositions) Prev(id common.Address) common.Address {
	if n, ok := s.nodes[id]; ok {
		return n.prev
	}
	return common.Address{}
}

// ValidInsertPosition reports whether (prev, next) is a slot that keeps the
// list ordered for key nicr.
func (s *SortedPositions) ValidInsertPosition(nicr *uint256.Int, prev, next common.Address) bool {
	zero := common.Address{}
	switch {
	case prev == zero && next == zero:
		return s.size == 0
	case prev == zero:
		return s.head == next && !nicr.Lt(s.nicr(next))
	case next == zero:
		return s.tail == prev && !nicr.Gt(s.nicr(prev))
	default:
		pn, ok := s.nodes[prev]
		if !ok || pn.next != next {
			return false
		}
		return !s.nicr(prev).Lt(nicr) && !nicr.Lt(s.nicr(next))
	}
}

// FindInsertPosition locates a slot starting from the hints. Hints that are
// absent from the list or on the wrong side of nicr are dropped. The search
// places a key after every existing equal key. The walk from a hint is
// bounded; past the bound the list is scanned from the head.
func (s *SortedPositions) FindInsertPosition(nicr *uint256.Int, prevHint, nextHint common.Address) (common.Address, common.Address) {
	zero := common.Address{}
	prev, next := prevHint, nextHint

	if prev != zero {
		if !s.Contains(prev) || s.nicr(prev).Lt(nicr) {
			prev = zero
		}
	}
	if next != zero {
		if !s.Contains(next) || !s.nicr(next).Lt(nicr) {
			next = zero
		}
	}

	switch {
	case prev != zero:
		if p, n, ok := s.descend(nicr, prev, s.maxProbe); ok {
			return p, n
		}
	case next != zero:
		if p, n, ok := s.ascend(nicr, next, s.maxProbe); ok {
			return p, n
		}
	}
	return s.scan(nicr)
}

// scan walks the whole list from the head.
func (s *SortedPositions) scan(nicr *uint256.Int) (common.Address, common.Address) {
	zero := common.Address{}
	if s.head == zero {
		return zero, zero
	}
	if s.nicr(s.head).Lt(nicr) {
		return zero, s.head
	}
	p, n, _ := s.descend(nicr, s.head, -1)
	return p, n
}

// descend walks towards the tail from a node whose key is >= nicr.
func (s *SortedPositions) descend(nicr *uint256.Int, start common.Address, limit int) (common.Address, common.Address, bool) {
	zero := common.Address{}
	prev := start
	next := s.nodes[prev].next
	for steps := 0; next != zero && !s.nicr(next).Lt(nicr); steps++ {
		if limit >= 0 && steps >= limit {
			return zero, zero, false
		}
		prev = next
		next = s.nodes[prev].next
	}
	return prev, next, true
}

// ascend walks towards the head from a node whose key is < nicr.
func (s *SortedPositions) ascend(nicr *uint256.Int, start common.Address, limit int) (common.Address, common.Address, bool) {
	zero := common.Address{}
	next := start
	prev := s.nodes[next].prev
	for steps := 0; prev != zero && s.nicr(prev).Lt(nicr); steps++ {
		if limit >= 0 && steps >= limit {
			return zero, zero, false
		}
		next = prev
		prev = s.nodes[next].prev
	}
	return prev, next, true
}

// Owners returns the owners from highest to lowest NICR.
func (s *SortedPositions) Owners() []common.Address {
	out := make([]common.Address, 0, s.size)
	for id := s.head; id != (common.Address{}); id = s.nodes[id].next {
		out = append(out, id)
	}
	return out
}

// Restore rebuilds the list from an ordered owner slice, trusting the order.
func (s *SortedPositions) Restore(owners []common.Address) {
	s.nodes = make(map[common.Address]*node, len(owners))
	s.head, s.tail = common.Address{}, common.Address{}
	s.size = 0
	for _, id := range owners {
		n := &node{prev: s.tail}
		if s.tail != (common.Address{}) {
			s.nodes[s.tail].next = id
		} else {
			s.head = id
		}
		s.tail = id
		s.nodes[id] = n
		s.size++
	}
}
