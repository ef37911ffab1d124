package mission

import "github.com/amr-saas/missiondispatch/internal/store"

// Interpreter drives a pre-order traversal of a validated Tree (spec.md
// §6): sequence/selector advance through IDLE children in declared order,
// propagating a child's terminal SUCCESS/FAILURE per the composite's rule,
// until the root itself resolves. Traversal state is the small
// name->execution-state map plus a per-composite cursor the design notes
// call for, not a library behavior-tree object — there is no dynamic
// dispatch, just a tagged switch over the four node kinds.
type Interpreter struct {
	tree    *Tree
	state   map[string]store.NodeExecState
	cursor  map[string]int
	errs    map[string]string
	current string
}

// NewInterpreter returns an Interpreter positioned at the start of tree.
func NewInterpreter(tree *Tree) *Interpreter {
	return &Interpreter{
		tree:   tree,
		state:  make(map[string]store.NodeExecState),
		cursor: make(map[string]int),
		errs:   make(map[string]string),
	}
}

type stepResult struct {
	leaf     string
	dispatch bool
	terminal bool
	state    store.NodeExecState
}

// NextLeaf advances the traversal as far as it can without new
// information and returns the next leaf that needs dispatching to C6. ok
// is false when no new leaf is ready — either the root has resolved
// (check RootState) or a previously dispatched leaf is still RUNNING,
// awaiting Propagate.
func (in *Interpreter) NextLeaf() (leaf string, ok bool) {
	res := in.resolve(rootName)
	if res.dispatch {
		in.current = res.leaf
		return res.leaf, true
	}
	return "", false
}

// RootState reports the mission's overall execution state, first folding
// any outcomes recorded by Propagate into the leaves' ancestors. A leaf the
// fold reaches that is not yet dispatched stays IDLE for the next NextLeaf.
func (in *Interpreter) RootState() store.NodeExecState {
	if res := in.resolve(rootName); res.dispatch {
		delete(in.state, res.leaf)
	}
	return in.stateOf(rootName)
}

// CurrentNode is the name of the leaf most recently returned by NextLeaf,
// for mission.status.current_node.
func (in *Interpreter) CurrentNode() string {
	return in.current
}

// Propagate records a leaf's terminal outcome (SUCCESS or FAILURE, plus an
// optional error code such as "action_failed" or "node_failed") so the
// next NextLeaf/RootState call can fold it into its ancestors.
func (in *Interpreter) Propagate(leaf string, outcome store.NodeExecState, errCode string) {
	in.state[leaf] = outcome
	if errCode != "" {
		in.errs[leaf] = errCode
	}
}

// NodeStatuses returns a snapshot of mission.status.node_status for every
// node that has entered IDLE->RUNNING or beyond.
func (in *Interpreter) NodeStatuses() map[string]store.NodeStatus {
	out := make(map[string]store.NodeStatus, len(in.state))
	for name, st := range in.state {
		if name == rootName {
			continue
		}
		out[name] = store.NodeStatus{State: st, Error: in.errs[name]}
	}
	return out
}

// RestoreState seeds already-terminal leaf outcomes from a previously
// persisted mission.status.node_status map, so a mission resumed after a
// controller restart does not redo leaves that already finished. Entries
// still RUNNING are left untouched (IDLE) so resolve will redispatch them.
func (in *Interpreter) RestoreState(statuses map[string]store.NodeStatus) {
	for name, ns := range statuses {
		if ns.State == store.NodeSuccess || ns.State == store.NodeFailure {
			in.state[name] = ns.State
			if ns.Error != "" {
				in.errs[name] = ns.Error
			}
		}
	}
}

// resolve evaluates name (and, recursively, its unresolved descendants),
// returning either a leaf ready to dispatch, the node's own terminal
// result, or a zero stepResult meaning "nothing new, still waiting".
func (in *Interpreter) resolve(name string) stepResult {
	n := in.tree.Nodes[name]

	if in.tree.IsLeaf(name) {
		switch in.stateOf(name) {
		case store.NodeIdle:
			in.state[name] = store.NodeRunning
			return stepResult{leaf: name, dispatch: true}
		case store.NodeRunning:
			return stepResult{}
		default:
			return stepResult{terminal: true, state: in.state[name]}
		}
	}

	if st := in.stateOf(name); st == store.NodeSuccess || st == store.NodeFailure {
		return stepResult{terminal: true, state: st}
	}
	in.state[name] = store.NodeRunning

	cursor := in.cursor[name]
	for cursor < len(n.Children) {
		child := n.Children[cursor]
		res := in.resolve(child)

		if res.dispatch {
			in.cursor[name] = cursor
			return res
		}
		if !res.terminal {
			in.cursor[name] = cursor
			return stepResult{}
		}

		success := res.state == store.NodeSuccess
		if n.Kind == store.NodeSequence {
			if success {
				cursor++
				continue
			}
			in.state[name] = store.NodeFailure
			in.cursor[name] = cursor
			return stepResult{terminal: true, state: store.NodeFailure}
		}
		// selector
		if success {
			in.state[name] = store.NodeSuccess
			in.cursor[name] = cursor
			return stepResult{terminal: true, state: store.NodeSuccess}
		}
		cursor++
	}

	in.cursor[name] = cursor
	var final store.NodeExecState
	if n.Kind == store.NodeSequence {
		final = store.NodeSuccess
	} else {
		final = store.NodeFailure
	}
	in.state[name] = final
	return stepResult{terminal: true, state: final}
}

func (in *Interpreter) stateOf(name string) store.NodeExecState {
	if st, ok := in.state[name]; ok {
		return st
	}
	return store.NodeIdle
}
