package lmm

import (
	"fmt"
	"log/slog"
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/GoSim-25-26J-441/simkernel/pkg/utils"
)

// noResource marks a player limited by its own bound rather than by a resource.
const noResource = -1

// solveBMF computes a bounded multi-resource fair allocation: every variable
// (player) gets its bound or the largest share on at least one saturated
// constraint.
func (s *System) solveBMF() {
	var cnsts []*Constraint
	index := make(map[*Constraint]int)
	for _, c := range s.constraints {
		if len(c.elements) == 0 {
			continue
		}
		index[c] = len(cnsts)
		cnsts = append(cnsts, c)
	}

	var players []*Variable
	for _, v := range s.variables {
		v.value = 0
		if v.penalty <= 0 {
			continue
		}
		linked, active := false, false
		for _, e := range v.elements {
			if _, ok := index[e.constraint]; !ok {
				continue
			}
			linked = true
			if e.consumption > 0 {
				active = true
			}
		}
		if !linked {
			continue
		}
		if active {
			players = append(players, v)
		} else {
			// Zero consumption: any positive rate will do.
			v.value = 1
		}
	}
	if len(players) == 0 {
		return
	}

	nR, nP := len(cnsts), len(players)
	b := &bmfSolver{
		a:             mat.NewDense(nR, nP, nil),
		maxA:          mat.NewDense(nR, nP, nil),
		weighted:      mat.NewDense(nR, nP, nil),
		c:             make([]float64, nR),
		shared:        make([]bool, nR),
		phi:           make([]float64, nP),
		prec:          s.precision,
		maxIterations: s.maxIterations,
		tried:         make(map[string]struct{}),
		logger:        s.logger,
	}
	for i, c := range cnsts {
		b.c[i] = c.bound
		if c.policy == NonLinear && c.dynBound != nil {
			b.c[i] = c.DynamicBound()
			if !s.warnedNonLinear {
				s.logger.Warn("dynamic constraint bounds with BMF assume every flow is always active; analyze results with caution")
				s.warnedNonLinear = true
			}
		}
		b.shared[i] = c.policy != Fatpipe
	}
	for j, v := range players {
		for _, e := range v.elements {
			i, ok := index[e.constraint]
			if !ok || e.consumption <= 0 {
				continue
			}
			b.a.Set(i, j, b.a.At(i, j)+e.consumption)
			b.weighted.Set(i, j, b.weighted.At(i, j)+e.consumption*v.penalty)
			b.maxA.Set(i, j, math.Max(b.maxA.At(i, j), e.maxConsumption*v.penalty))
		}
		b.phi[j] = v.bound
	}
	b.gen = newAllocationGenerator(b.a)

	rho := b.solve()
	for j, v := range players {
		v.value = rho[j]
	}
}

type bmfSolver struct {
	a        *mat.Dense // consumption of player j on resource i
	maxA     *mat.Dense // largest sub-flow consumption, weighted by penalty
	weighted *mat.Dense // consumption weighted by penalty
	c        []float64
	shared   []bool
	phi      []float64

	prec          float64
	maxIterations int
	gen           *allocationGenerator
	tried         map[string]struct{}
	logger        *slog.Logger
}

func (b *bmfSolver) solve() []float64 {
	fair := append([]float64(nil), b.c...)
	var last []int
	var rho []float64

	it := 0
	for it < b.maxIterations {
		cur, stable := b.getAlloc(fair, last, it == 0)
		if stable {
			break
		}
		last = cur
		rho = b.equilibrium(cur)
		b.setFairSharing(cur, rho, fair)
		it++
	}

	if !b.isBMF(rho) {
		b.logger.Warn("unable to find a BMF allocation, consider raising bmf_max_iterations or lowering precision",
			"iterations", it,
			"players", len(b.phi),
			"resources", len(b.c))
	}
	return rho
}

// getAlloc lets each player pick the resource with the smallest fair share,
// or no resource when its own bound is smaller. It reports stability when the
// allocation repeats the previous one or when every alternative was tried.
func (b *bmfSolver) getAlloc(fair []float64, last []int, initial bool) ([]int, bool) {
	nR, nP := b.a.Dims()
	alloc := make([]int, nP)
	for p := 0; p < nP; p++ {
		selected := noResource
		minShare := b.phi[p]
		if minShare <= 0 || initial {
			minShare = -1
		}
		for r := 0; r < nR; r++ {
			w := b.weighted.At(r, p)
			if b.a.At(r, p) <= 0 || w <= 0 {
				continue
			}
			share := fair[r] / w
			if minShare == -1 || utils.DoublePositive(minShare-share, b.prec) {
				selected = r
				minShare = share
			}
		}
		alloc[p] = selected
	}
	if equalAlloc(alloc, last) {
		return alloc, true
	}

	key := allocKey(alloc)
	if _, seen := b.tried[key]; seen {
		return b.disturb()
	}
	b.tried[key] = struct{}{}
	return alloc, false
}

func (b *bmfSolver) disturb() ([]int, bool) {
	for {
		next, ok := b.gen.next()
		if !ok {
			return nil, true
		}
		key := allocKey(next)
		if _, seen := b.tried[key]; !seen {
			b.tried = map[string]struct{}{key: {}}
			return next, false
		}
	}
}

func (b *bmfSolver) capacity(r int, bounded []int) float64 {
	c := b.c[r]
	if !b.shared[r] {
		return c
	}
	for _, p := range bounded {
		c -= b.a.At(r, p) * b.phi[p]
	}
	return c
}

// equilibrium builds and solves the square system where players sharing a
// resource get equal weighted shares and bounded players get their bound.
func (b *bmfSolver) equilibrium(alloc []int) []float64 {
	nR, nP := b.a.Dims()

	var bounded, unbounded []int
	for p, r := range alloc {
		if r == noResource {
			bounded = append(bounded, p)
		} else {
			unbounded = append(unbounded, p)
		}
	}

	rho := make([]float64, nP)
	for _, p := range bounded {
		rho[p] = b.phi[p]
	}
	if len(unbounded) == 0 {
		return rho
	}

	ap := mat.NewDense(nP, nP, nil)
	cp := make([]float64, nP)
	row := 0
	for r := 0; r < nR; r++ {
		var group []int
		for _, p := range unbounded {
			if alloc[p] == r {
				group = append(group, p)
			}
		}
		if len(group) == 0 {
			continue
		}
		if b.shared[r] {
			for p := 0; p < nP; p++ {
				ap.Set(row, p, b.a.At(r, p))
			}
			cp[row] = b.capacity(r, bounded)
			row++
			first := group[0]
			for _, k := range group[1:] {
				ap.Set(row, first, b.maxA.At(r, first))
				ap.Set(row, k, -b.maxA.At(r, k))
				cp[row] = 0
				row++
			}
		} else {
			for _, p := range group {
				ap.Set(row, p, b.a.At(r, p))
				cp[row] = b.capacity(r, bounded)
				row++
			}
		}
	}

	n := len(unbounded)
	m := mat.NewDense(n, n, nil)
	for i := 0; i < n; i++ {
		for k, p := range unbounded {
			m.Set(i, k, ap.At(i, p))
		}
	}
	x := solveLinear(m, cp[:n])
	for k, p := range unbounded {
		rho[p] = x[k]
	}
	return rho
}

// solveLinear solves m*x = rhs with LU and falls back to an SVD least-squares
// solution when m is singular or ill-conditioned.
func solveLinear(m *mat.Dense, rhs []float64) []float64 {
	n, _ := m.Dims()
	bv := mat.NewVecDense(n, append([]float64(nil), rhs...))
	out := make([]float64, n)

	var lu mat.LU
	lu.Factorize(m)
	var x mat.VecDense
	if err := lu.SolveVecTo(&x, false, bv); err == nil {
		for i := range out {
			out[i] = x.AtVec(i)
		}
		return out
	}

	var svd mat.SVD
	if !svd.Factorize(m, mat.SVDFull) {
		return out
	}
	rank := svd.Rank(1e-12)
	if rank == 0 {
		return out
	}
	var y mat.VecDense
	svd.SolveVecTo(&y, bv, rank)
	for i := range out {
		out[i] = y.AtVec(i)
	}
	return out
}

func (b *bmfSolver) setFairSharing(alloc []int, rho, fair []float64) {
	nR, nP := b.a.Dims()
	first := make([]int, nR)
	for r := range first {
		first[r] = noResource
	}
	for p, r := range alloc {
		if r != noResource && first[r] == noResource {
			first[r] = p
		}
	}

	for r := 0; r < nR; r++ {
		if p := first[r]; p != noResource {
			fair[r] = b.weighted.At(r, p) * rho[p]
			continue
		}
		// Nobody picked r: split it only if the current rates saturate it.
		consumption := 0.0
		users := 0
		for p := 0; p < nP; p++ {
			consumption += b.a.At(r, p) * rho[p]
			if utils.DoublePositive(b.a.At(r, p), b.prec) {
				users++
			}
		}
		utils.DoubleUpdate(&consumption, b.c[r], b.prec)
		if consumption > 0 && users > 0 {
			fair[r] = b.c[r] / float64(users)
		} else {
			fair[r] = b.c[r]
		}
	}
}

// isBMF checks that capacities hold, that some resource is saturated and that
// every player gets its bound or the largest share of a saturated resource.
func (b *bmfSolver) isBMF(rho []float64) bool {
	nR, nP := b.a.Dims()
	if len(rho) != nP {
		return false
	}

	remaining := make([]float64, nR)
	saturated := make([]bool, nR)
	ok := true
	for r := 0; r < nR; r++ {
		if b.shared[r] {
			used := 0.0
			for p := 0; p < nP; p++ {
				used += b.a.At(r, p) * rho[p]
			}
			remaining[r] = used - b.c[r]
		}
		if utils.DoublePositive(remaining[r], b.prec) {
			ok = false
		}
		saturated[r] = math.Abs(remaining[r]) <= b.prec
	}

	maxShare := make([]bool, nP)
	for r := 0; r < nR; r++ {
		if !saturated[r] {
			continue
		}
		top := 0.0
		for p := 0; p < nP; p++ {
			top = math.Max(top, b.maxA.At(r, p)*rho[p])
		}
		for p := 0; p < nP; p++ {
			if math.Abs(b.maxA.At(r, p)*rho[p]-top) <= b.prec {
				maxShare[p] = true
			}
		}
	}

	anySaturated := false
	for _, s := range saturated {
		anySaturated = anySaturated || s
	}
	for p := 0; p < nP; p++ {
		if utils.DoubleEquals(rho[p], b.phi[p], b.prec) {
			maxShare[p] = true
			anySaturated = true
		}
	}
	if !ok || !anySaturated {
		return false
	}
	for _, m := range maxShare {
		if !m {
			return false
		}
	}
	return true
}

// allocationGenerator enumerates player-to-resource assignments, used to
// escape cycles in the allocation search.
type allocationGenerator struct {
	a     *mat.Dense
	alloc []int
	first bool
}

func newAllocationGenerator(a *mat.Dense) *allocationGenerator {
	nR, nP := a.Dims()
	g := &allocationGenerator{a: a, alloc: make([]int, nP), first: true}
	for p := 0; p < nP; p++ {
		for r := 0; r < nR; r++ {
			if a.At(r, p) > 0 {
				g.alloc[p] = r
				break
			}
		}
	}
	return g
}

func (g *allocationGenerator) next() ([]int, bool) {
	if g.first {
		g.first = false
		return append([]int(nil), g.alloc...), true
	}
	nR, _ := g.a.Dims()
	idx := 0
	for idx < len(g.alloc) {
		g.alloc[idx] = (g.alloc[idx] + 1) % nR
		if g.alloc[idx] == 0 {
			idx++
			continue
		}
		idx = 0
		if g.a.At(g.alloc[idx], idx) > 0 {
			return append([]int(nil), g.alloc...), true
		}
	}
	return nil, false
}

func equalAlloc(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func allocKey(alloc []int) string {
	return fmt.Sprint(alloc)
}
