package survey

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog"
)

// ---------------------------------------------------------------------------
// Flow navigation engine
//
// The engine is a state machine over node ids: the current state is the id
// of the node being answered, transitions come from the node's logic rules,
// and the terminal state is the absence of a next id. The engine holds no
// per-session state; callers keep a FlowState and feed answers in.
// ---------------------------------------------------------------------------

// StepKind classifies the outcome of one traversal step.
type StepKind int

const (
	// StepNext means traversal continues at Step.NodeID.
	StepNext StepKind = iota
	// StepEnd means the survey completed normally: no rule matched and no
	// node follows.
	StepEnd
	// StepBroken means the configuration references a node that does not
	// exist. The survey cannot continue; callers decide how to surface it.
	StepBroken
)

func (k StepKind) String() string {
	switch k {
	case StepNext:
		return "next"
	case StepEnd:
		return "end"
	case StepBroken:
		return "broken"
	default:
		return fmt.Sprintf("StepKind(%d)", int(k))
	}
}

// Step is the result of advancing the flow past one answered node.
// NodeID is set only for StepNext; Reason only for StepBroken.
type Step struct {
	Kind   StepKind
	NodeID string
	Reason string
}

// ProgressPolicy controls the completion estimate for branching surveys,
// where the real path length is unknown until the end. The estimated path
// is PathFraction of the countable (non informational) nodes, floored at
// MinimumPath; the reported percentage never exceeds Cap until a terminal
// step has been taken.
type ProgressPolicy struct {
	PathFraction float64
	MinimumPath  int
	Cap          float64
}

// DefaultProgressPolicy estimates the typical path at 60% of countable
// nodes, at least 5, capped at 95%.
func DefaultProgressPolicy() ProgressPolicy {
	return ProgressPolicy{PathFraction: 0.6, MinimumPath: 5, Cap: 95}
}

func (p ProgressPolicy) normalized() ProgressPolicy {
	d := DefaultProgressPolicy()
	if p.PathFraction <= 0 {
		p.PathFraction = d.PathFraction
	}
	if p.MinimumPath <= 0 {
		p.MinimumPath = d.MinimumPath
	}
	if p.Cap <= 0 || p.Cap > 100 {
		p.Cap = d.Cap
	}
	return p
}

// Engine navigates one parsed survey graph. Engines are stateless between
// calls and safe for concurrent use; the graph must not be mutated while
// an engine holds it.
type Engine struct {
	graph    *Graph
	progress ProgressPolicy
	log      zerolog.Logger
}

// NewEngine wraps a graph for traversal. A zero policy falls back to
// DefaultProgressPolicy. Conditions that failed to parse are logged here
// once; they never match during traversal.
func NewEngine(g *Graph, policy ProgressPolicy, log zerolog.Logger) *Engine {
	if !g.prepared() {
		g.Prepare()
	}
	for i := range g.Nodes {
		n := &g.Nodes[i]
		for j := range n.Logic {
			if err := n.Logic[j].condErr; err != nil {
				log.Warn().
					Str("node_id", n.ID).
					Str("condition", n.Logic[j].Condition).
					Err(err).
					Msg("logic condition does not parse and will never match")
			}
		}
	}
	return &Engine{graph: g, progress: policy.normalized(), log: log}
}

// Graph returns the graph the engine traverses.
func (e *Engine) Graph() *Graph { return e.graph }

// Node returns a node by id, or nil.
func (e *Engine) Node(id string) *Node { return e.graph.NodeByID(id) }

// Next resolves the node that follows current, given its answer and the
// answers recorded for earlier nodes. prior must not already contain the
// answer being submitted; conditions read it through bare field names.
//
// Resolution order: first non-default rule whose condition holds, then the
// first rule flagged default, then the node declared immediately after the
// current one. A node with no rules goes straight to its declaration-order
// successor.
func (e *Engine) Next(currentID string, answer Answer, prior AnswerContext) Step {
	node := e.graph.NodeByID(currentID)
	if node == nil {
		e.log.Warn().Str("node_id", currentID).Msg("traversal reached a node missing from the graph")
		return Step{Kind: StepBroken, Reason: fmt.Sprintf("node %q not in graph", currentID)}
	}

	if len(node.Logic) == 0 {
		return e.sequential(currentID)
	}

	for i := range node.Logic {
		r := &node.Logic[i]
		if r.Default || r.cond == nil {
			continue
		}
		if r.cond.Eval(answer, prior) {
			e.log.Debug().
				Str("node_id", currentID).
				Str("condition", r.Condition).
				Str("next_node", r.NextNode).
				Msg("logic condition matched")
			return e.step(currentID, r.NextNode)
		}
	}

	for i := range node.Logic {
		if node.Logic[i].Default {
			return e.step(currentID, node.Logic[i].NextNode)
		}
	}

	return e.sequential(currentID)
}

// step resolves a rule's target id. An empty target ends the survey; a
// target absent from the graph is a configuration fault.
func (e *Engine) step(fromID, nextID string) Step {
	if nextID == "" {
		return Step{Kind: StepEnd}
	}
	if e.graph.NodeByID(nextID) == nil {
		e.log.Warn().
			Str("node_id", fromID).
			Str("next_node", nextID).
			Msg("logic rule points at a node missing from the graph")
		return Step{Kind: StepBroken, Reason: fmt.Sprintf("node %q references missing node %q", fromID, nextID)}
	}
	return Step{Kind: StepNext, NodeID: nextID}
}

func (e *Engine) sequential(currentID string) Step {
	next := e.graph.NodeAfter(currentID)
	if next == "" {
		return Step{Kind: StepEnd}
	}
	return Step{Kind: StepNext, NodeID: next}
}

// TerminalStep reports whether a step ends the survey for the client:
// either traversal stopped, or the next node is marked final.
func (e *Engine) TerminalStep(s Step) bool {
	if s.Kind != StepNext {
		return true
	}
	n := e.graph.NodeByID(s.NodeID)
	return n != nil && n.IsFinal
}

// Progress estimates completion as a percentage with one decimal place.
// Answered ids that do not exist in the graph are ignored. finished forces
// 100; otherwise the policy cap bounds the result so the bar never shows
// false completion.
func (e *Engine) Progress(answeredIDs []string, finished bool) float64 {
	if finished {
		return 100
	}
	estimated := int(float64(e.graph.CountableNodes()) * e.progress.PathFraction)
	if estimated < e.progress.MinimumPath {
		estimated = e.progress.MinimumPath
	}
	answered := 0
	for _, id := range answeredIDs {
		if e.graph.NodeByID(id) != nil {
			answered++
		}
	}
	pct := float64(answered) / float64(estimated) * 100
	if pct > e.progress.Cap {
		pct = e.progress.Cap
	}
	return math.Round(pct*10) / 10
}

// BranchStack maps a multi-choice answer through the graph's branch
// mapping to the ordered list of branch entry nodes. The answer's selected
// entry must be a list; selected values without a mapping are skipped.
func (e *Engine) BranchStack(answer Answer) []string {
	selected, ok := answer.Selected().([]any)
	if !ok || len(e.graph.BranchMapping) == 0 {
		return nil
	}
	var branches []string
	for _, v := range selected {
		if target, mapped := e.graph.BranchMapping[stringForm(v)]; mapped {
			branches = append(branches, target)
		}
	}
	return branches
}

// ---------------------------------------------------------------------------
// Per-session flow state
// ---------------------------------------------------------------------------

// ErrNoHistory is returned by Back when there is no earlier node to
// return to.
var ErrNoHistory = errors.New("no previous node in history")

// FlowState is the mutable traversal record of one session: the node being
// shown, the answers accepted so far, and the visit history that powers
// back-navigation. It is owned by exactly one session; the caller must
// serialize writers. The engine neither loads nor saves it.
type FlowState struct {
	CurrentNode string        `json:"current_node"`
	Answers     AnswerContext `json:"answers"`
	History     []string      `json:"history"`
	StartedAt   time.Time     `json:"started_at"`
}

// NewFlowState seeds a state at the survey's start node.
func NewFlowState(startNode string, now time.Time) *FlowState {
	return &FlowState{
		CurrentNode: startNode,
		Answers:     AnswerContext{},
		History:     []string{startNode},
		StartedAt:   now.UTC(),
	}
}

// Advance records an accepted answer for nodeID and moves to next. The
// next node joins the history unless it was already visited, so revisiting
// a branch entry does not grow the back stack.
func (s *FlowState) Advance(nodeID string, answer Answer, next string) {
	if s.Answers == nil {
		s.Answers = AnswerContext{}
	}
	s.Answers[nodeID] = answer
	s.CurrentNode = next
	if next != "" && !s.Visited(next) {
		s.History = append(s.History, next)
	}
}

// Back rewinds one step: the newest history entry and its answer are
// dropped and the previous entry becomes current. Going back past the
// first node is rejected with ErrNoHistory.
func (s *FlowState) Back() error {
	if len(s.History) <= 1 {
		return ErrNoHistory
	}
	popped := s.History[len(s.History)-1]
	s.History = s.History[:len(s.History)-1]
	delete(s.Answers, popped)
	s.CurrentNode = s.History[len(s.History)-1]
	return nil
}

// Visited reports whether nodeID appears in the history.
func (s *FlowState) Visited(nodeID string) bool {
	for _, id := range s.History {
		if id == nodeID {
			return true
		}
	}
	return false
}

// AnsweredNodes returns the ids of nodes with recorded answers, for
// progress estimation. Order is unspecified.
func (s *FlowState) AnsweredNodes() []string {
	ids := make([]string, 0, len(s.Answers))
	for id := range s.Answers {
		ids = append(ids, id)
	}
	return ids
}
