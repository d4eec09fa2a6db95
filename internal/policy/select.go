package policy

import "github.com/Borislavv/go-ash-speculate/internal/recovery"

// Select resolves p against the live cache. layers holds the candidates of every
// layer and budgets their budgets.
//
// For Hybrid the candidates are scanned in order and the first one whose retained
// set fits every budget and recovers at least minRecovery of the traced attention
// wins. Otherwise the last candidate is used. Other kinds resolve to themselves.
// The returned fraction is the recovery of the chosen policy.
func Select(
	p Policy,
	layers [][]Candidate,
	budgets []int,
	anchors int32,
	steps []recovery.Step,
	minRecovery float64,
) (Policy, float64) {
	if p.Kind != Hybrid {
		_, rec := evaluate(p, layers, budgets, anchors, steps)
		return p, rec
	}

	var rec float64
	for _, c := range p.Candidates {
		var fits bool
		if fits, rec = evaluate(c, layers, budgets, anchors, steps); fits && rec >= minRecovery {
			return c, rec
		}
	}
	return p.Candidates[len(p.Candidates)-1], rec
}

func evaluate(p Policy, layers [][]Candidate, budgets []int, anchors int32, steps []recovery.Step) (fits bool, rec float64) {
	fits = true
	kept := make([][]int32, len(layers))
	for l, cands := range layers {
		kept[l] = Retain(p, cands, budgets[l], anchors)
		if len(kept[l]) > budgets[l] {
			fits = false
		}
	}
	return fits, recovery.Recovered(kept, steps)
}
