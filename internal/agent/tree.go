package agent

import (
	"fmt"
	"strings"
)

// Node is one agent's entry in a tree snapshot.
type Node struct {
	ID       string  `json:"id"`
	Purpose  string  `json:"purpose,omitempty"`
	Status   State   `json:"status"`
	Children []*Node `json:"children,omitempty"`
}

// Snapshot is a point-in-time view of the subtree rooted at one agent.
type Snapshot struct {
	TotalAgents int   `json:"total_agents"`
	MaxDepth    int   `json:"max_depth"`
	Root        *Node `json:"root"`
}

// Tree snapshots the subtree rooted at this agent.
func (a *Agent) Tree() Snapshot {
	snap := Snapshot{}
	snap.Root = a.buildNode(&snap, a.depth)
	return snap
}

func (a *Agent) buildNode(snap *Snapshot, depth int) *Node {
	snap.TotalAgents++
	if depth > snap.MaxDepth {
		snap.MaxDepth = depth
	}
	node := &Node{ID: a.id, Purpose: a.purpose, Status: a.State()}
	for _, child := range a.Children() {
		node.Children = append(node.Children, child.buildNode(snap, depth+1))
	}
	return node
}

// RenderTree produces a deterministic ASCII rendering of the subtree.
func (a *Agent) RenderTree() string {
	var b strings.Builder
	node := a.Tree().Root
	b.WriteString(renderLabel(node))
	b.WriteByte('\n')
	renderChildren(&b, node, "")
	return b.String()
}

func renderLabel(node *Node) string {
	if node.Purpose == "" {
		return fmt.Sprintf("%s [%s]", node.ID, node.Status)
	}
	return fmt.Sprintf("%s (%s) [%s]", node.ID, node.Purpose, node.Status)
}

func renderChildren(b *strings.Builder, node *Node, prefix string) {
	for i, child := range node.Children {
		last := i == len(node.Children)-1
		connector := "├── "
		childPrefix := prefix + "│   "
		if last {
			connector = "└── "
			childPrefix = prefix + "    "
		}
		b.WriteString(prefix + connector + renderLabel(child) + "\n")
		renderChildren(b, child, childPrefix)
	}
}
