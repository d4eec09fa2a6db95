// Package recovery estimates how much attention mass a retained set of cache
// positions preserves compared to the uncompressed cache.
package recovery

import "gonum.org/v1/gonum/floats"

// Recovered returns sum(w(retained)) / sum(w(all)) per (step, layer) row, averaged
// over every row that carries mass. retained holds the kept positions per layer.
// An empty trace or a trace without mass recovers everything.
func Recovered(retained [][]int32, steps []Step) float64 {
	sets := make([]map[int32]struct{}, len(retained))
	for l, keep := range retained {
		sets[l] = make(map[int32]struct{}, len(keep))
		for _, p := range keep {
			sets[l][p] = struct{}{}
		}
	}

	var sum float64
	var rows int
	for _, s := range steps {
		for l, row := range s {
			if l >= len(sets) {
				break
			}
			total := floats.Sum(row.Weights)
			if total <= 0 {
				continue
			}
			var kept float64
			for i, p := range row.Positions {
				if _, ok := sets[l][p]; ok {
					kept += row.Weights[i]
				}
			}
			sum += kept / total
			rows++
		}
	}
	if rows == 0 {
		return 1
	}
	return sum / float64(rows)
}
