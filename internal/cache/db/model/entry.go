package model

import "github.com/Borislavv/go-ash-speculate/internal/shared/bytes"

// Entry is the KV state of one (layer, position) slot.
// Score and LastRef travel with the entry so that eviction and accounting
// mutate together; a retained entry keeps its history across eviction cycles.
type Entry struct {
	pos     int32     // absolute sequence position
	key     []float64 // attention key vector
	value   []float64 // attention value vector
	score   float64   // cumulative (or decayed) attention received
	lastRef uint64    // last step at which the entry received attention
}

func NewEntry(pos int32, key, value []float64) *Entry {
	return &Entry{pos: pos, key: key, value: value}
}

func (e *Entry) Pos() int32       { return e.pos }
func (e *Entry) Key() []float64   { return e.key }
func (e *Entry) Value() []float64 { return e.value }
func (e *Entry) Score() float64   { return e.score }
func (e *Entry) LastRef() uint64  { return e.lastRef }
func (e *Entry) Weight() int64    { return bytes.VectorsWeight(1, len(e.key)) + bytes.VectorsWeight(1, len(e.value)) }

// Observe accumulates attention weight received at step. With decay in (0,1)
// the score is an exponential moving sum, otherwise a running sum.
// The last-referenced counter only moves forward.
func (e *Entry) Observe(weight float64, step uint64, decay float64) {
	if decay > 0 && decay < 1 {
		e.score = decay*e.score + weight
	} else {
		e.score += weight
	}
	if weight > 0 && step > e.lastRef {
		e.lastRef = step
	}
}

// Restore sets accounting fields when an entry is rebuilt from a snapshot.
func (e *Entry) Restore(score float64, lastRef uint64) {
	e.score, e.lastRef = score, lastRef
}
