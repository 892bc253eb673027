package survey

import "fmt"

// ---------------------------------------------------------------------------
// Structural graph validation
//
// The validator gates publishing from the editor. It runs over the whole
// graph regardless of what any real traversal could reach, mutates
// nothing, and is idempotent: the same graph always yields the same
// result. Errors block publication; warnings are advisory.
//
// Reachability is structural on purpose: every logic next_node edge is
// treated as traversable no matter what its condition says. The check
// exists to catch configuration that is dead under ALL inputs, not to
// prove conditions satisfiable.
// ---------------------------------------------------------------------------

// Issue severities.
const (
	IssueError   = "error"
	IssueWarning = "warning"
)

// Issue is one validation finding. NodeID is empty for graph-level
// findings.
type Issue struct {
	Type    string `json:"type"`
	NodeID  string `json:"node_id,omitempty"`
	Message string `json:"message"`
}

// ValidationResult partitions findings into blocking errors and advisory
// warnings. Valid is true exactly when there are no errors.
type ValidationResult struct {
	Valid    bool    `json:"valid"`
	Errors   []Issue `json:"errors"`
	Warnings []Issue `json:"warnings"`
}

// Validate checks a graph's structure: resolvable start node, per-node
// shape requirements, dangling rule targets, and reachability from the
// start node over all configured edges.
func Validate(g *Graph) ValidationResult {
	var errs, warns []Issue

	ids := make(map[string]bool, len(g.Nodes))
	for i := range g.Nodes {
		ids[g.Nodes[i].ID] = true
	}

	switch {
	case g.StartNode == "":
		errs = append(errs, Issue{Type: IssueError, Message: "start node is not set"})
	case !ids[g.StartNode]:
		errs = append(errs, Issue{
			Type:    IssueError,
			NodeID:  g.StartNode,
			Message: fmt.Sprintf("start node %q does not exist in the graph", g.StartNode),
		})
	}

	hasFinal := false
	for i := range g.Nodes {
		if g.Nodes[i].IsFinal || g.Nodes[i].Type == NodeInfoScreen {
			hasFinal = true
			break
		}
	}
	if !hasFinal {
		warns = append(warns, Issue{
			Type:    IssueWarning,
			Message: "graph has no final node (is_final or info_screen)",
		})
	}

	reachable := reachableFrom(g, ids)

	seen := make(map[string]bool, len(g.Nodes))
	for i := range g.Nodes {
		n := &g.Nodes[i]

		if seen[n.ID] {
			warns = append(warns, Issue{
				Type:    IssueWarning,
				NodeID:  n.ID,
				Message: fmt.Sprintf("duplicate node id %q; only the first declaration is used", n.ID),
			})
		}
		seen[n.ID] = true

		if n.QuestionText == "" {
			errs = append(errs, Issue{
				Type:    IssueError,
				NodeID:  n.ID,
				Message: fmt.Sprintf("node %q has no question text", n.ID),
			})
		}

		if choiceNodeTypes[n.Type] && len(n.Options) == 0 {
			errs = append(errs, Issue{
				Type:    IssueError,
				NodeID:  n.ID,
				Message: fmt.Sprintf("node %q of type %q has no answer options", n.ID, n.Type),
			})
		}

		if len(n.Logic) == 0 && !n.IsFinal && n.Type != NodeInfoScreen {
			warns = append(warns, Issue{
				Type:    IssueWarning,
				NodeID:  n.ID,
				Message: fmt.Sprintf("node %q has no outgoing logic rules", n.ID),
			})
		}

		for j := range n.Logic {
			r := &n.Logic[j]
			if r.NextNode != "" && !ids[r.NextNode] {
				errs = append(errs, Issue{
					Type:    IssueError,
					NodeID:  n.ID,
					Message: fmt.Sprintf("node %q references missing node %q", n.ID, r.NextNode),
				})
			}
			if r.Condition != "" {
				if _, err := ParseCondition(r.Condition); err != nil {
					warns = append(warns, Issue{
						Type:    IssueWarning,
						NodeID:  n.ID,
						Message: fmt.Sprintf("node %q has condition %q that does not parse and will never match", n.ID, r.Condition),
					})
				}
			}
		}

		if !reachable[n.ID] && n.ID != g.StartNode {
			warns = append(warns, Issue{
				Type:    IssueWarning,
				NodeID:  n.ID,
				Message: fmt.Sprintf("node %q is unreachable from the start node", n.ID),
			})
		}

		if n.Type == NodeSlider && (n.MinValue == nil || n.MaxValue == nil) {
			errs = append(errs, Issue{
				Type:    IssueError,
				NodeID:  n.ID,
				Message: fmt.Sprintf("node %q of type slider must set min_value and max_value", n.ID),
			})
		}
	}

	return ValidationResult{Valid: len(errs) == 0, Errors: errs, Warnings: warns}
}

// reachableFrom walks every logic next_node edge from the start node,
// ignoring conditions and sequential fallbacks. The validator does not
// rely on the graph's prepared index so it can check raw, never-prepared
// structures; duplicate ids resolve to the first declaration, matching
// traversal.
func reachableFrom(g *Graph, ids map[string]bool) map[string]bool {
	reachable := make(map[string]bool, len(g.Nodes))
	if g.StartNode == "" || !ids[g.StartNode] {
		return reachable
	}

	byID := make(map[string]*Node, len(g.Nodes))
	for i := range g.Nodes {
		if _, ok := byID[g.Nodes[i].ID]; !ok {
			byID[g.Nodes[i].ID] = &g.Nodes[i]
		}
	}

	stack := []string{g.StartNode}
	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if reachable[id] {
			continue
		}
		node, ok := byID[id]
		if !ok {
			continue
		}
		reachable[id] = true
		for j := range node.Logic {
			if next := node.Logic[j].NextNode; next != "" && !reachable[next] {
				stack = append(stack, next)
			}
		}
	}
	return reachable
}
