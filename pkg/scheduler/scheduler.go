package scheduler

import (
	"encoding/json"
	"math"
	"sort"
	"time"

	"github.com/edgemesh/edgemesh/pkg/types"
)

// Ineligibility reasons, stable strings surfaced by the simulator
const (
	ReasonPolicyDisabled  = "policy_disabled"
	ReasonNodeNotOnline   = "node_not_online"
	ReasonNodeStale       = "node_stale"
	ReasonTaskNotAllowed  = "task_not_allowed"
	ReasonAtMaxConcurrent = "at_max_concurrent"
	ReasonCPUOverCap      = "cpu_over_cap"
	ReasonRAMOverCap      = "ram_over_cap"
	ReasonGPUOverCap      = "gpu_over_cap"
	ReasonMissingGPU      = "missing_gpu"
)

// Request carries everything one placement decision needs. Now and
// StaleAfter come from the caller so the policy itself stays clock-free.
type Request struct {
	TaskType    types.TaskType
	RequiresGPU bool
	Now         time.Time
	StaleAfter  time.Duration
}

// Candidate is one node's standing for a request, eligible or not
type Candidate struct {
	Node     *types.Node
	Eligible bool
	Score    float64
	Reasons  []string
}

// Eligible evaluates one node against a request and returns every reason it
// fails, not just the first. Inflight load is the node's self-reported
// running_jobs figure.
func Eligible(n *types.Node, req Request) (bool, []string) {
	var reasons []string

	if !n.Policy.Enabled {
		reasons = append(reasons, ReasonPolicyDisabled)
	}
	if n.Status != types.NodeStatusOnline {
		reasons = append(reasons, ReasonNodeNotOnline)
	} else if req.StaleAfter > 0 && req.Now.Sub(n.LastSeen) >= req.StaleAfter {
		// Marked ONLINE but the sweep has not caught up yet.
		reasons = append(reasons, ReasonNodeStale)
	}
	if !n.Policy.Allows(req.TaskType) || !n.Capabilities.Supports(req.TaskType) {
		reasons = append(reasons, ReasonTaskNotAllowed)
	}
	if n.Metrics.RunningJobs >= n.Policy.MaxConcurrent {
		reasons = append(reasons, ReasonAtMaxConcurrent)
	}
	if n.Metrics.CPUPercent > float64(n.Policy.CPUCapPercent) {
		reasons = append(reasons, ReasonCPUOverCap)
	}
	if n.Metrics.RAMPercent > float64(n.Policy.RAMCapPercent) {
		reasons = append(reasons, ReasonRAMOverCap)
	}
	if req.RequiresGPU {
		if !n.Capabilities.HasGPU {
			reasons = append(reasons, ReasonMissingGPU)
		} else if n.Policy.GPUCapPercent != nil && n.Metrics.GPUPercent != nil &&
			*n.Metrics.GPUPercent > float64(*n.Policy.GPUCapPercent) {
			reasons = append(reasons, ReasonGPUOverCap)
		}
	}

	return len(reasons) == 0, reasons
}

// EligibleNodes filters and orders the snapshot least-loaded-first. The key
// is ascending (running_jobs, cpu_percent, ram_percent, node_id); the node
// id tail makes the order total, so dispatcher and simulator always agree.
func EligibleNodes(nodes []*types.Node, req Request) []*types.Node {
	var eligible []*types.Node
	for _, n := range nodes {
		if ok, _ := Eligible(n, req); ok {
			eligible = append(eligible, n)
		}
	}
	sortByLoad(eligible)
	return eligible
}

// First returns the node the dispatcher would choose, or nil
func First(nodes []*types.Node, req Request) *types.Node {
	eligible := EligibleNodes(nodes, req)
	if len(eligible) == 0 {
		return nil
	}
	return eligible[0]
}

// Rank evaluates every node for the simulator: eligible nodes first in
// dispatch order, then ineligible nodes by id with their reasons.
func Rank(nodes []*types.Node, req Request) []Candidate {
	var eligible, ineligible []*types.Node
	reasonsByID := make(map[string][]string, len(nodes))

	for _, n := range nodes {
		ok, reasons := Eligible(n, req)
		if ok {
			eligible = append(eligible, n)
		} else {
			ineligible = append(ineligible, n)
			reasonsByID[n.Identity.NodeID] = reasons
		}
	}
	sortByLoad(eligible)
	sort.Slice(ineligible, func(i, j int) bool {
		return ineligible[i].Identity.NodeID < ineligible[j].Identity.NodeID
	})

	ranked := make([]Candidate, 0, len(nodes))
	for _, n := range eligible {
		ranked = append(ranked, Candidate{Node: n, Eligible: true, Score: Score(n), Reasons: []string{}})
	}
	for _, n := range ineligible {
		ranked = append(ranked, Candidate{Node: n, Score: Score(n), Reasons: reasonsByID[n.Identity.NodeID]})
	}
	return ranked
}

// Score is a display-only load figure for dashboards. Placement order comes
// from the lexicographic key, never from this number.
func Score(n *types.Node) float64 {
	return 100.0 -
		n.Metrics.CPUPercent/100.0*50.0 -
		n.Metrics.RAMPercent/100.0*40.0 -
		float64(n.Metrics.RunningJobs)*5.0
}

// EffectiveCapacity is the share of a node's hardware its policy caps admit
type EffectiveCapacity struct {
	CPUThreads float64 `json:"cpu_threads"`
	RAMGB      float64 `json:"ram_gb"`
	VRAMGB     float64 `json:"vram_gb"`
}

// Capacity applies the policy ceilings to the declared hardware
func Capacity(n *types.Node) EffectiveCapacity {
	gpuCap := 100.0
	if n.Policy.GPUCapPercent != nil {
		gpuCap = float64(*n.Policy.GPUCapPercent)
	}
	var vram float64
	if n.Capabilities.VRAMTotalGB != nil {
		vram = *n.Capabilities.VRAMTotalGB
	}
	return EffectiveCapacity{
		CPUThreads: round3(float64(n.Capabilities.CPUThreads) * float64(n.Policy.CPUCapPercent) / 100.0),
		RAMGB:      round3(n.Capabilities.RAMTotalGB * float64(n.Policy.RAMCapPercent) / 100.0),
		VRAMGB:     round3(vram * gpuCap / 100.0),
	}
}

// RequiresGPU reports whether a task payload declares requires_gpu
func RequiresGPU(payload json.RawMessage) bool {
	if len(payload) == 0 {
		return false
	}
	var probe struct {
		RequiresGPU bool `json:"requires_gpu"`
	}
	if err := json.Unmarshal(payload, &probe); err != nil {
		return false
	}
	return probe.RequiresGPU
}

func sortByLoad(nodes []*types.Node) {
	sort.Slice(nodes, func(i, j int) bool {
		a, b := nodes[i], nodes[j]
		if a.Metrics.RunningJobs != b.Metrics.RunningJobs {
			return a.Metrics.RunningJobs < b.Metrics.RunningJobs
		}
		if a.Metrics.CPUPercent != b.Metrics.CPUPercent {
			return a.Metrics.CPUPercent < b.Metrics.CPUPercent
		}
		if a.Metrics.RAMPercent != b.Metrics.RAMPercent {
			return a.Metrics.RAMPercent < b.Metrics.RAMPercent
		}
		return a.Identity.NodeID < b.Identity.NodeID
	})
}

func round3(v float64) float64 {
	return math.Round(v*1000) / 1000
}
