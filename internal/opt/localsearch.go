package opt

import (
	"context"
	"math"
)

// Local search operators edit a solution in place and report whether anything improved.
// A move is kept only when it strictly lowers the solution cost.

// maxThreeOptStops bounds the O(n^3) segment enumeration per route.
const maxThreeOptStops = 80

// TwoOpt reverses sub-sequences within each route.
func TwoOpt(ctx context.Context, p *Problem, sol *Solution) bool {
	improved := false
	for vi := range sol.Plans {
		order := sol.Plans[vi].Order
		if len(order) < 2 {
			continue
		}
		cur := p.RouteCost(vi, order)
		buf := make([]int, len(order))
		for again := true; again; {
			again = false
			for i := 0; i < len(order)-1; i++ {
				if ctx.Err() != nil {
					break
				}
				for k := i + 1; k < len(order); k++ {
					copy(buf, order)
					reverse(buf[i : k+1])
					if c := p.RouteCost(vi, buf); c < cur-eps {
						order, buf = buf, order
						cur = c
						again, improved = true, true
					}
				}
			}
		}
		sol.Plans[vi].Order = order
	}
	if improved {
		p.Evaluate(sol)
	}
	return improved
}

// ThreeOpt cuts each route into a head, two inner segments and a tail, and tries the seven
// non-identity reconnections of the inner segments.
func ThreeOpt(ctx context.Context, p *Problem, sol *Solution) bool {
	improved := false
	for vi := range sol.Plans {
		order := sol.Plans[vi].Order
		n := len(order)
		if n < 3 || n > maxThreeOptStops {
			continue
		}
		cur := p.RouteCost(vi, order)
		buf := make([]int, 0, n)
	scan:
		for i := 0; i < n-1; i++ {
			for j := i + 1; j < n; j++ {
				if ctx.Err() != nil {
					break scan
				}
				for k := j + 1; k <= n; k++ {
					s1, s2 := order[i:j], order[j:k]
					bestCost, bestVariant := cur, -1
					for variant := 0; variant < 7; variant++ {
						buf = reconnect(buf[:0], order, i, k, s1, s2, variant)
						if c := p.RouteCost(vi, buf); c < bestCost-eps {
							bestCost, bestVariant = c, variant
						}
					}
					if bestVariant >= 0 {
						order = reconnect(make([]int, 0, n), order, i, k, s1, s2, bestVariant)
						cur = bestCost
						improved = true
						// segment views are stale after the rewrite
						continue scan
					}
				}
			}
		}
		sol.Plans[vi].Order = order
	}
	if improved {
		p.Evaluate(sol)
	}
	return improved
}

// reconnect writes order[:i] + X + Y + order[k:] into dst, with (X, Y) drawn from the
// seven ways to reorient and reorder s1 and s2 other than (s1, s2) itself.
func reconnect(dst, order []int, i, k int, s1, s2 []int, variant int) []int {
	dst = append(dst, order[:i]...)
	switch variant {
	case 0:
		dst = appendReversed(dst, s1)
		dst = append(dst, s2...)
	case 1:
		dst = append(dst, s1...)
		dst = appendReversed(dst, s2)
	case 2:
		dst = appendReversed(dst, s1)
		dst = appendReversed(dst, s2)
	case 3:
		dst = append(dst, s2...)
		dst = append(dst, s1...)
	case 4:
		dst = appendReversed(dst, s2)
		dst = append(dst, s1...)
	case 5:
		dst = append(dst, s2...)
		dst = appendReversed(dst, s1)
	case 6:
		dst = appendReversed(dst, s2)
		dst = appendReversed(dst, s1)
	}
	return append(dst, order[k:]...)
}

// OrOpt relocates chains of one to three consecutive stops to the best position in the
// same or another route. Moves into another route must keep it admissible.
func OrOpt(ctx context.Context, p *Problem, sol *Solution) bool {
	improved := false
	for ctx.Err() == nil && orOptMove(ctx, p, sol) {
		improved = true
	}
	if improved {
		p.Evaluate(sol)
	}
	return improved
}

// orOptMove applies the best relocation of the first chain that has an improving one.
func orOptMove(ctx context.Context, p *Problem, sol *Solution) bool {
	var rest, cand []int
	for a := range sol.Plans {
		src := sol.Plans[a].Order
		costA := p.RouteCost(a, src)
		for length := 1; length <= 3; length++ {
			for i := 0; i+length <= len(src); i++ {
				if ctx.Err() != nil {
					return false
				}
				chain := src[i : i+length]
				rest = append(append(rest[:0], src[:i]...), src[i+length:]...)
				costRest := p.RouteCost(a, rest)
				chainLoad := p.load(chain)

				bestDelta, bestB, bestPos := -eps, -1, -1
				for b := range sol.Plans {
					target := sol.Plans[b].Order
					if b == a {
						target = rest
					}
					before := p.EvalRoute(b, target)
					if b != a && p.Request.Constraints.Capacity &&
						before.Load+chainLoad > p.Request.Vehicles[b].Capacity+eps {
						continue
					}
					baseB := p.objective(b, before)
					for pos := 0; pos <= len(target); pos++ {
						if b == a && pos == i {
							continue
						}
						cand = append(append(append(cand[:0], target[:pos]...), chain...), target[pos:]...)
						after := p.EvalRoute(b, cand)
						if b != a && !p.admissible(before, after) {
							continue
						}
						var delta float64
						if b == a {
							delta = p.objective(b, after) - costA
						} else {
							delta = (costRest - costA) + (p.objective(b, after) - baseB)
						}
						if delta < bestDelta {
							bestDelta, bestB, bestPos = delta, b, pos
						}
					}
				}
				if bestB < 0 {
					continue
				}
				moved := append([]int(nil), chain...)
				newA := append([]int(nil), rest...)
				if bestB == a {
					sol.Plans[a].Order = append(append(append([]int(nil), newA[:bestPos]...), moved...), newA[bestPos:]...)
				} else {
					dst := sol.Plans[bestB].Order
					sol.Plans[bestB].Order = append(append(append([]int(nil), dst[:bestPos]...), moved...), dst[bestPos:]...)
					sol.Plans[a].Order = newA
				}
				return true
			}
		}
	}
	return false
}

// LocalSearch runs the operators in variable-neighborhood order (2-opt, Or-opt, 3-opt),
// restarting from 2-opt after every improvement, until a local optimum or maxIters passes.
func LocalSearch(ctx context.Context, p *Problem, sol *Solution, maxIters int) int {
	if maxIters <= 0 {
		maxIters = math.MaxInt32
	}
	passes := 0
	for passes < maxIters && ctx.Err() == nil {
		passes++
		if TwoOpt(ctx, p, sol) || OrOpt(ctx, p, sol) || ThreeOpt(ctx, p, sol) {
			continue
		}
		break
	}
	p.Evaluate(sol)
	return passes
}

func reverse(s []int) {
	for a, b := 0, len(s)-1; a < b; a, b = a+1, b-1 {
		s[a], s[b] = s[b], s[a]
	}
}

func appendReversed(dst, s []int) []int {
	for i := len(s) - 1; i >= 0; i-- {
		dst = append(dst, s[i])
	}
	return dst
}
