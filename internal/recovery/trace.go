package recovery

import "github.com/Borislavv/go-ash-speculate/internal/shared/queue"

// Row is one attention distribution over absolute positions.
type Row struct {
	Positions []int32
	Weights   []float64
}

// Step is the attention of one committed token, one row per layer.
type Step []Row

// Window keeps the attention of the last N committed steps.
type Window struct {
	ring queue.Ring[Step]
}

func NewWindow(size int) *Window {
	w := &Window{}
	w.ring.Init(size)
	return w
}

// Push records steps in commit order, dropping the oldest beyond the window size.
func (w *Window) Push(steps ...Step) {
	for _, s := range steps {
		w.ring.Push(s)
	}
}

// Steps returns the retained steps from oldest to newest.
func (w *Window) Steps() []Step { return w.ring.Items() }
func (w *Window) Len() int      { return w.ring.Len() }
