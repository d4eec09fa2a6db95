package queue

import "sync"

// Ring keeps the last N pushed values, overwriting the oldest one when full.
type Ring[T any] struct {
	mu         sync.Mutex
	buf        []T
	head, size int
}

func (q *Ring[T]) Init(size int) {
	if size < 1 {
		size = 1
	}
	q.mu.Lock()
	q.buf = make([]T, size)
	q.head, q.size = 0, 0
	q.mu.Unlock()
}

// Push appends v and reports whether an older value was overwritten.
func (q *Ring[T]) Push(v T) (overwritten bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.buf[q.head] = v
	q.head = (q.head + 1) % len(q.buf)
	if q.size == len(q.buf) {
		return true
	}
	q.size++
	return false
}

// Items returns the retained values from oldest to newest.
func (q *Ring[T]) Items() []T {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]T, 0, q.size)
	start := (q.head - q.size + len(q.buf)) % len(q.buf)
	for i := 0; i < q.size; i++ {
		out = append(out, q.buf[(start+i)%len(q.buf)])
	}
	return out
}

// Last returns the newest value.
func (q *Ring[T]) Last() (v T, ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.size == 0 {
		return v, false
	}
	return q.buf[(q.head-1+len(q.buf))%len(q.buf)], true
}

func (q *Ring[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.size
}

func (q *Ring[T]) Reset() {
	q.mu.Lock()
	clear(q.buf)
	q.head, q.size = 0, 0
	q.mu.Unlock()
}
