package lottery

import "sort"

// MatchResult is derived per (selection, draw) pair and never persisted.
type MatchResult struct {
	Mains []int
	Stars []int
}

func (m MatchResult) Count() int  { return len(m.Mains) + len(m.Stars) }
func (m MatchResult) Empty() bool { return m.Count() == 0 }

// Match intersects the selection with the draw. Mains only match draw mains and
// stars only match draw stars. Output is sorted, so input order never matters.
func Match(sel Selection, draw DrawResult) MatchResult {
	return MatchResult{
		Mains: intersect(sel.Mains(), draw.Numbers),
		Stars: intersect(sel.Stars(), draw.Stars),
	}
}

func intersect(a, b []int) []int {
	in := make(map[int]struct{}, len(b))
	for _, n := range b {
		in[n] = struct{}{}
	}
	out := []int{}
	for _, n := range a {
		if _, ok := in[n]; ok {
			out = append(out, n)
			delete(in, n)
		}
	}
	sort.Ints(out)
	return out
}
