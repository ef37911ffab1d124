// Package mission validates declarative mission trees and interprets them
// as behavior trees (spec.md §3, §6): sequence/selector control nodes over
// route/action leaves, propagating SUCCESS/FAILURE up to the root.
package mission

import (
	"fmt"
	"strconv"

	"github.com/go-playground/validator/v10"

	"github.com/amr-saas/missiondispatch/internal/store"
)

const rootName = "root"

// treeValidator is the struct-tag validator used for the scalar fields of
// each MissionSpec (robot/timeout/tree non-empty), grounded on the pack's
// go-playground/validator usage (kubernaut); the graph-shape invariants
// below it (uniqueness, cycles, parent resolution) have no struct-tag
// equivalent and are hand-written, per spec.md §6's node-table rebuild.
var treeValidator = validator.New()

// Node is one validated entry in the immutable node table: a MissionNode
// plus its resolved child order (declaration order, spec.md §6).
type Node struct {
	store.MissionNode
	Children []string
}

// Tree is the validated, indexed form of a mission_tree ready for
// interpretation: a node table keyed by name plus an implicit "root"
// sequence whose children are every node whose declared parent is "root".
type Tree struct {
	Nodes map[string]*Node
	Order []string // every non-root name, in declared order
}

// Validate checks spec.MissionTree against spec.md §6's invariants and
// returns the indexed Tree, or the first validation error encountered.
// A node whose name is omitted is named by its index as a string in the
// returned Tree; spec itself is not modified.
func Validate(spec *store.MissionSpec) (*Tree, error) {
	if err := treeValidator.Struct(spec); err != nil {
		return nil, fmt.Errorf("validation_error: %w", err)
	}

	t := &Tree{Nodes: make(map[string]*Node)}
	seen := make(map[string]bool)

	for i := range spec.MissionTree {
		n := spec.MissionTree[i]
		if n.Name == rootName {
			return nil, fmt.Errorf("validation_error: node %q redeclares the implicit root", rootName)
		}
		if n.Name == "" {
			n.Name = strconv.Itoa(i)
		}
		if seen[n.Name] {
			return nil, fmt.Errorf("validation_error: duplicate node name %q", n.Name)
		}
		seen[n.Name] = true

		if err := validateKind(n); err != nil {
			return nil, err
		}

		t.Nodes[n.Name] = &Node{MissionNode: n}
		t.Order = append(t.Order, n.Name)
	}

	for _, name := range t.Order {
		n := t.Nodes[name]
		parent := n.Parent
		if parent == "" {
			parent = rootName
		}
		n.Parent = parent
		if parent != rootName {
			if _, ok := t.Nodes[parent]; !ok {
				return nil, fmt.Errorf("validation_error: node %q has unresolved parent %q", name, parent)
			}
		}
	}

	root := &Node{MissionNode: store.MissionNode{Name: rootName, Kind: store.NodeSequence}}
	t.Nodes[rootName] = root
	for _, name := range t.Order {
		n := t.Nodes[name]
		t.Nodes[n.Parent].Children = append(t.Nodes[n.Parent].Children, name)
	}

	if err := checkAcyclic(t); err != nil {
		return nil, err
	}

	return t, nil
}

func validateKind(n store.MissionNode) error {
	switch n.Kind {
	case store.NodeSequence, store.NodeSelector:
		return nil
	case store.NodeRoute:
		if len(n.Route.Waypoints) == 0 {
			return fmt.Errorf("validation_error: route node %q has no waypoints", n.Name)
		}
		return nil
	case store.NodeAction:
		if n.Action.ActionType == "" {
			return fmt.Errorf("validation_error: action node %q has no action_type", n.Name)
		}
		return nil
	default:
		return fmt.Errorf("validation_error: node %q has unknown kind %q", n.Name, n.Kind)
	}
}

// checkAcyclic walks from root confirming every node is reachable exactly
// once, which simultaneously proves connectivity and absence of cycles
// given each non-root node declares exactly one parent.
func checkAcyclic(t *Tree) error {
	visited := make(map[string]bool)
	var walk func(name string, path map[string]bool) error
	walk = func(name string, path map[string]bool) error {
		if path[name] {
			return fmt.Errorf("validation_error: cycle detected at node %q", name)
		}
		if visited[name] {
			return nil
		}
		visited[name] = true
		path[name] = true
		for _, child := range t.Nodes[name].Children {
			if err := walk(child, path); err != nil {
				return err
			}
		}
		delete(path, name)
		return nil
	}
	if err := walk(rootName, map[string]bool{}); err != nil {
		return err
	}
	if len(visited) != len(t.Nodes) {
		return fmt.Errorf("validation_error: tree is not fully connected to root")
	}
	return nil
}

// IsLeaf reports whether name is a route or action node.
func (t *Tree) IsLeaf(name string) bool {
	n := t.Nodes[name]
	return n.Kind == store.NodeRoute || n.Kind == store.NodeAction
}
