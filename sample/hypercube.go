package sample

import (
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/floats"

	"github.com/signalsfoundry/resilience-designer/model"
)

// design places n points in the d-dimensional unit hypercube. Row i is
// point i.
type design func(rng *rand.Rand, n, d int) [][]float64

// hypercube draws one scenario per point of a stratified design, so a batch
// of nbDemand*nbDisruption scenarios covers every stripe of every marginal
// exactly once.
type hypercube struct {
	m      marginals
	rng    *rand.Rand
	design design
}

// NewLatinHypercube returns a sampler using plain Latin hypercube designs.
func NewLatinHypercube(params model.Params, seed uint64) Sampler {
	return &hypercube{m: newMarginals(params), rng: newRand(seed), design: latinHypercube}
}

// NewImprovedHypercube returns a sampler using improved distributed
// hypercube designs, which spread points more evenly than plain LHS.
func NewImprovedHypercube(params model.Params, seed uint64) Sampler {
	return &hypercube{m: newMarginals(params), rng: newRand(seed), design: improvedHypercube}
}

func (s *hypercube) Generate(nbDemand, nbDisruption int) ([]model.Scenario, error) {
	if err := checkCounts(nbDemand, nbDisruption); err != nil {
		return nil, err
	}
	points := s.design(s.rng, nbDemand*nbDisruption, s.m.dims())
	out := make([]model.Scenario, len(points))
	for i, pt := range points {
		sc, err := s.m.scenario(pt)
		if err != nil {
			return nil, err
		}
		out[i] = sc
	}
	return out, nil
}

// latinHypercube jitters one point inside each of n stripes per axis and
// shuffles the stripes independently per axis.
func latinHypercube(rng *rand.Rand, n, d int) [][]float64 {
	out := newPoints(n, d)
	col := make([]float64, n)
	width := 1 / float64(n)
	for axis := 0; axis < d; axis++ {
		for j := range col {
			col[j] = (float64(j) + rng.Float64()) * width
		}
		rng.Shuffle(n, func(a, b int) { col[a], col[b] = col[b], col[a] })
		for j := range col {
			out[j][axis] = col[j]
		}
	}
	return out
}

// ihsDuplication is how many candidates per remaining slot the improved
// design scores before keeping one.
const ihsDuplication = 5

// improvedHypercube builds an integer Latin hypercube point by point (after
// Beachkofski and Grandhi), each time keeping the candidate whose distance
// to the points already placed is closest to the ideal spacing
// n / n^(1/d). The integer grid is then jittered into the unit cube.
func improvedHypercube(rng *rand.Rand, n, d int) [][]float64 {
	opt := float64(n) / math.Pow(float64(n), 1/float64(d))

	// grid[j] is point j; avail[a][0:count] are the values still unused on
	// axis a.
	grid := newPoints(n, d)
	avail := make([][]int, d)
	for a := range avail {
		avail[a] = make([]int, n)
		for j := range avail[a] {
			avail[a][j] = j
		}
		first := rng.IntN(n)
		grid[n-1][a] = float64(first)
		avail[a][first] = n - 1
	}

	list := make([]int, ihsDuplication*n)
	candidates := newPoints(ihsDuplication*n, d)
	for count := n - 1; count >= 2; count-- {
		size := ihsDuplication * count
		for a := 0; a < d; a++ {
			for k := 0; k < ihsDuplication; k++ {
				copy(list[k*count:(k+1)*count], avail[a][:count])
			}
			for k := size - 1; k >= 0; k-- {
				ptr := rng.IntN(k + 1)
				candidates[k][a] = float64(list[ptr])
				list[ptr] = list[k]
			}
		}

		best, bestGap := 0, math.Inf(1)
		for k := 0; k < size; k++ {
			nearest := math.Inf(1)
			for j := count; j < n; j++ {
				nearest = math.Min(nearest, floats.Distance(candidates[k], grid[j], 2))
			}
			if gap := math.Abs(nearest - opt); gap < bestGap {
				best, bestGap = k, gap
			}
		}
		copy(grid[count-1], candidates[best])

		for a := 0; a < d; a++ {
			chosen := int(grid[count-1][a])
			for j := 0; j < count; j++ {
				if avail[a][j] == chosen {
					avail[a][j] = avail[a][count-1]
					break
				}
			}
		}
	}
	if n > 1 {
		for a := 0; a < d; a++ {
			grid[0][a] = float64(avail[a][0])
		}
	}

	width := 1 / float64(n)
	for _, pt := range grid {
		for a := range pt {
			pt[a] = (pt[a] + rng.Float64()) * width
		}
	}
	return grid
}

func newPoints(n, d int) [][]float64 {
	out := make([][]float64, n)
	for i := range out {
		out[i] = make([]float64, d)
	}
	return out
}
