package db

// Retain evicts every live position that is not in keep.
func (l *Layer) Retain(keep []int32) (freedBytes, evicted int64) {
	keepSet := make(map[int32]struct{}, len(keep))
	for _, p := range keep {
		keepSet[p] = struct{}{}
	}

	l.Lock()
	defer l.Unlock()
	for i := 0; i < l.tail; i++ {
		e := l.slots[i]
		if e == nil {
			continue
		}
		if _, ok := keepSet[e.Pos()]; !ok {
			freedBytes, evicted = l.removeUnlocked(e.Pos(), freedBytes, evicted)
		}
	}
	return
}

// EvictUntilWithinBudget is the hard limit: it drops the oldest positions that are
// not anchors (pos < anchors) until the layer holds at most its budget.
// Policies are expected to keep layers within budget; this only catches the rest.
func (l *Layer) EvictUntilWithinBudget(anchors int32) (freedBytes, evicted int64) {
	l.Lock()
	defer l.Unlock()
	for i := 0; i < l.tail && l.Len() > int64(l.budget); i++ {
		e := l.slots[i]
		if e == nil || e.Pos() < anchors {
			continue
		}
		freedBytes, evicted = l.removeUnlocked(e.Pos(), freedBytes, evicted)
	}
	return
}

// EvictUntilWithinBudget applies the hard limit to every layer.
func (s *Store) EvictUntilWithinBudget(anchors int32) (freedBytes, evicted int64) {
	for _, l := range s.layers {
		f, n := l.EvictUntilWithinBudget(anchors)
		freedBytes += f
		evicted += n
	}
	return
}
