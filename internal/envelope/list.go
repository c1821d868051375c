package envelope

// List is an intrusive doubly-linked list of *Envelope, threaded through
// the next/prev fields Envelope already carries so that queueing an
// envelope never allocates. It backs the context's completion queue and
// the local batch RunOnce drains from it; the scheduler's per-fd table is
// a sorted slice instead. An envelope is always a member of at most one
// List.
//
// List is not safe for concurrent use; callers serialise access with their
// own mutex, the same way the source guards completion_queue_ with
// data_mutex_.
type List struct {
	head, tail *Envelope
	length     int
}

// Len returns the number of envelopes currently in the list.
func (l *List) Len() int { return l.length }

// Empty reports whether the list has no envelopes.
func (l *List) Empty() bool { return l.length == 0 }

// PushBack appends e to the end of the list.
func (l *List) PushBack(e *Envelope) {
	e.next, e.prev = nil, l.tail
	if l.tail != nil {
		l.tail.next = e
	} else {
		l.head = e
	}
	l.tail = e
	l.length++
}

// PushFront prepends e to the start of the list.
func (l *List) PushFront(e *Envelope) {
	e.prev, e.next = nil, l.head
	if l.head != nil {
		l.head.prev = e
	} else {
		l.tail = e
	}
	l.head = e
	l.length++
}

// Remove splices e out of the list. e must currently be a member of l;
// behaviour is undefined otherwise.
func (l *List) Remove(e *Envelope) {
	if e.prev != nil {
		e.prev.next = e.next
	} else {
		l.head = e.next
	}
	if e.next != nil {
		e.next.prev = e.prev
	} else {
		l.tail = e.prev
	}
	e.next, e.prev = nil, nil
	l.length--
}

// PopFront removes and returns the first envelope, or nil if the list is
// empty.
func (l *List) PopFront() *Envelope {
	e := l.head
	if e == nil {
		return nil
	}
	l.Remove(e)
	return e
}

// PushBackAll appends every envelope in other to the end of l, leaving
// other empty. It is the Go shape of the source's splice-the-whole-list
// pattern used to move a batch of completions between the scheduler and
// the completion queue without per-item overhead.
func (l *List) PushBackAll(other *List) {
	if other.Empty() {
		return
	}
	if l.tail != nil {
		l.tail.next = other.head
		other.head.prev = l.tail
	} else {
		l.head = other.head
	}
	l.tail = other.tail
	l.length += other.length
	other.head, other.tail, other.length = nil, nil, 0
}

// PushFrontAll prepends every envelope in other to the start of l, leaving
// other empty. Context.RunOnce uses this to put envelopes that could not
// be dispatched because of a panicking continuation back at the head of
// the completion queue, preserving their relative order for the next
// drain.
func (l *List) PushFrontAll(other *List) {
	if other.Empty() {
		return
	}
	if l.head != nil {
		l.head.prev = other.tail
		other.tail.next = l.head
	} else {
		l.tail = other.tail
	}
	l.head = other.head
	l.length += other.length
	other.head, other.tail, other.length = nil, nil, 0
}

// Each calls fn for every envelope in the list, in order, without removing
// them. fn must not mutate the list.
func (l *List) Each(fn func(*Envelope)) {
	for e := l.head; e != nil; e = e.next {
		fn(e)
	}
}
