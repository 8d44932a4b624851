package plan

import (
	"container/heap"
	"fmt"
	"math"

	"github.com/re-cinq/mend/internal/config"
	"github.com/re-cinq/mend/internal/observe"
)

// NoPlan reasons.
const (
	ReasonUnreachable         = "unreachable"
	ReasonExhaustedExpansions = "exhausted_expansions"
	ReasonExhaustedLength     = "exhausted_length"
)

// NoPlan reports that the planner could not produce a plan reaching the goal.
type NoPlan struct {
	Reason string
}

func (e *NoPlan) Error() string {
	return "no plan: " + e.Reason
}

// Step is one planned action application.
type Step struct {
	Name      string
	Params    map[string]string
	Cost      float64
	Rationale string
}

// Plan is the ordered action sequence the search produced. It is never
// mutated after return.
type Plan struct {
	Steps         []Step
	EstimatedCost float64
	Notes         []string
}

// Empty reports whether the plan contains no steps.
func (p Plan) Empty() bool {
	return len(p.Steps) == 0
}

// Heuristic term caps: each per-dimension term is bounded by the cheapest
// single action that reduces that dimension, which keeps h admissible no
// matter what coefficients the config carries.
const (
	capConflicts = costTrivialResolve
	capDiverged  = costRebaseContinue
	capInFlight  = costRebaseContinue
	capStaleness = costFetchAll
	capTests     = costRunTests
	capPush      = costPushWithLease
)

func clampCoeff(v, limit float64) float64 {
	if v < 0 {
		return 0
	}
	if v > limit {
		return limit
	}
	return v
}

func cappedTerm(coeff, magnitude, limit float64) float64 {
	return math.Min(coeff*magnitude, limit)
}

// heuristic estimates remaining cost toward the goal. Coefficients are
// clamped and every term is capped at the cheapest single step reducing
// its dimension; terms are only summed when their dimensions demand
// distinct actions. Finishing an in-flight rebase clears the diverged and
// staleness dimensions for free, so those terms are suppressed while a
// rebase or merge is in flight. The result never overestimates, which A*
// optimality depends on.
func heuristic(s observe.RepoState, g Goal, cfg *config.Config) float64 {
	p := cfg.Planner
	h := cappedTerm(clampCoeff(p.Alpha, capConflicts), float64(len(s.Conflicts)), capConflicts)

	if s.OngoingRebase || s.OngoingMerge {
		h += cappedTerm(clampCoeff(p.Gamma, capInFlight), 1, capInFlight)
	} else if g.requiresRebase() && s.DivergedRemote > 0 {
		h += cappedTerm(clampCoeff(p.Beta, capDiverged), float64(s.DivergedRemote), capDiverged)
		if !s.FreshlyFetched() {
			h += cappedTerm(clampCoeff(p.Delta, capStaleness), s.StalenessScore, capStaleness)
		}
	}
	if g.TestsMustPass && s.TestsLastResult != observe.TestsPassed {
		h += cappedTerm(clampCoeff(p.Epsilon, capTests), 1, capTests)
	}
	if g.requiresPush() && s.HasUnpushedCommits {
		h += cappedTerm(clampCoeff(p.Zeta, capPush), 1, capPush)
	}
	return h
}

// node is one A* search node. States are value types, so nodes hold the
// snapshot itself; identity is the canonical state digest.
type node struct {
	state  observe.RepoState
	digest string
	g, h   float64
	depth  int
	seq    int
	parent *node
	via    string
	cost   float64
}

func (n *node) f() float64 { return n.g + n.h }

// openHeap orders by f, ties broken by smaller h (closer to goal), then by
// insertion order so identical runs pop identically.
type openHeap []*node

func (h openHeap) Len() int { return len(h) }
func (h openHeap) Less(i, j int) bool {
	if h[i].f() != h[j].f() {
		return h[i].f() < h[j].f()
	}
	if h[i].h != h[j].h {
		return h[i].h < h[j].h
	}
	return h[i].seq < h[j].seq
}
func (h openHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *openHeap) Push(x any)   { *h = append(*h, x.(*node)) }
func (h *openHeap) Pop() any {
	old := *h
	n := old[len(old)-1]
	*h = old[:len(old)-1]
	return n
}

// Search runs A* from start toward the goal over the registry's actions.
// Identical inputs produce byte-identical plans, notes included.
func Search(start observe.RepoState, goal Goal, cfg *config.Config, reg *Registry) (Plan, error) {
	if goal.Satisfied(start) {
		return Plan{Notes: []string{"goal already satisfied; nothing to do"}}, nil
	}

	seq := 0
	root := &node{
		state:  start,
		digest: start.Digest(),
		h:      heuristic(start, goal, cfg),
	}
	open := &openHeap{root}
	heap.Init(open)
	bestG := map[string]float64{root.digest: 0}

	expansions := 0
	lengthClipped := false

	for open.Len() > 0 {
		cur := heap.Pop(open).(*node)
		if g, ok := bestG[cur.digest]; ok && cur.g > g {
			continue // stale entry superseded by a cheaper path
		}
		if goal.Satisfied(cur.state) {
			return buildPlan(cur, goal, cfg, reg), nil
		}
		if expansions >= cfg.Planner.MaxExpansions {
			return Plan{}, &NoPlan{Reason: ReasonExhaustedExpansions}
		}
		expansions++

		if cur.depth >= cfg.Planner.MaxPlanLength {
			lengthClipped = true
			continue
		}

		for _, a := range reg.Actions() {
			if !a.Applicable(cur.state, cfg) {
				continue
			}
			next := a.Predict(cur.state, cfg)
			cost := a.Cost(cur.state, cfg)
			digest := next.Digest()
			g := cur.g + cost
			if prev, seen := bestG[digest]; seen && g >= prev {
				continue
			}
			bestG[digest] = g
			seq++
			heap.Push(open, &node{
				state:  next,
				digest: digest,
				g:      g,
				h:      heuristic(next, goal, cfg),
				depth:  cur.depth + 1,
				seq:    seq,
				parent: cur,
				via:    a.Name,
				cost:   cost,
			})
		}
	}

	if lengthClipped {
		return Plan{}, &NoPlan{Reason: ReasonExhaustedLength}
	}
	return Plan{}, &NoPlan{Reason: ReasonUnreachable}
}

// buildPlan reconstructs the path into a Plan and attaches the explainer's
// notes: why each action was chosen, the best alternative rejected at that
// step, and the cumulative cost so far.
func buildPlan(goalNode *node, goal Goal, cfg *config.Config, reg *Registry) Plan {
	var chain []*node
	for n := goalNode; n.parent != nil; n = n.parent {
		chain = append(chain, n)
	}
	for i, j := 0, len(chain)-1; i < j; i, j = i+1, j-1 {
		chain[i], chain[j] = chain[j], chain[i]
	}

	plan := Plan{}
	cumulative := 0.0
	for i, n := range chain {
		cumulative += n.cost
		pre := n.parent.state
		alt := bestAlternative(pre, n.via, goal, cfg, reg)
		rationale := fmt.Sprintf("reduces goal distance %.2f -> %.2f", n.parent.h, n.h)
		plan.Steps = append(plan.Steps, Step{
			Name:      n.via,
			Cost:      n.cost,
			Rationale: rationale,
		})
		note := fmt.Sprintf("step %d: %s (cost %.2f, cumulative %.2f): %s", i+1, n.via, n.cost, cumulative, rationale)
		if alt != "" {
			note += "; rejected alternative: " + alt
		}
		plan.Notes = append(plan.Notes, note)
	}
	plan.EstimatedCost = cumulative
	plan.Notes = append(plan.Notes, fmt.Sprintf("total estimated cost %.2f over %d steps", cumulative, len(chain)))
	return plan
}

// bestAlternative names the cheapest applicable action other than chosen at
// the given pre-state, by the same cost-plus-heuristic ordering the search
// uses. Empty when the chosen action was the only applicable one.
func bestAlternative(pre observe.RepoState, chosen string, goal Goal, cfg *config.Config, reg *Registry) string {
	best := ""
	bestScore := math.Inf(1)
	for _, a := range reg.Actions() {
		if a.Name == chosen || !a.Applicable(pre, cfg) {
			continue
		}
		score := a.Cost(pre, cfg) + heuristic(a.Predict(pre, cfg), goal, cfg)
		if score < bestScore {
			best = a.Name
			bestScore = score
		}
	}
	if best == "" {
		return ""
	}
	return fmt.Sprintf("%s (f %.2f)", best, bestScore)
}
