package modulemanager

import (
	"fmt"
	"sort"
)

// DependencyProvider is an optional interface for modules that declare dependencies
type DependencyProvider interface {
	// Dependencies returns the list of module IDs this module depends on
	Dependencies() []string
}

// ModuleDependencyGraph represents the dependency relationships between modules
type ModuleDependencyGraph struct {
	nodes map[string]*DependencyNode
}

// DependencyNode represents a module in the dependency graph
type DependencyNode struct {
	ModuleID     string
	Module       Module
	Dependencies []string
	visited      bool
	inStack      bool
}

// BuildDependencyGraph creates a dependency graph from registered modules
func BuildDependencyGraph(modules map[string]Module) (*ModuleDependencyGraph, error) {
	graph := &ModuleDependencyGraph{nodes: make(map[string]*DependencyNode)}

	for id, module := range modules {
		node := &DependencyNode{ModuleID: id, Module: module}
		if depProvider, ok := module.(DependencyProvider); ok {
			node.Dependencies = depProvider.Dependencies()
		}
		graph.nodes[id] = node
	}

	for id, node := range graph.nodes {
		for _, depID := range node.Dependencies {
			if _, exists := graph.nodes[depID]; !exists {
				return nil, fmt.Errorf("module %s depends on non-existent module %s", id, depID)
			}
		}
	}

	if err := graph.detectCycles(); err != nil {
		return nil, err
	}

	return graph, nil
}

func (g *ModuleDependencyGraph) sortedIDs() []string {
	ids := make([]string, 0, len(g.nodes))
	for id := range g.nodes {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// detectCycles uses DFS to detect dependency cycles
func (g *ModuleDependencyGraph) detectCycles() error {
	for _, id := range g.sortedIDs() {
		if !g.nodes[id].visited {
			if err := g.detectCyclesDFS(id, nil); err != nil {
				return err
			}
		}
	}
	return nil
}

func (g *ModuleDependencyGraph) detectCyclesDFS(nodeID string, path []string) error {
	node := g.nodes[nodeID]
	node.visited = true
	node.inStack = true
	path = append(path, nodeID)

	for _, depID := range node.Dependencies {
		depNode := g.nodes[depID]
		if !depNode.visited {
			if err := g.detectCyclesDFS(depID, path); err != nil {
				return err
			}
		} else if depNode.inStack {
			for i, id := range path {
				if id == depID {
					return fmt.Errorf("circular dependency detected: %v", append(path[i:], depID))
				}
			}
		}
	}

	node.inStack = false
	return nil
}

// GetInitializationOrder returns modules with dependencies before dependents.
// Independent modules are ordered by ID.
func (g *ModuleDependencyGraph) GetInitializationOrder() ([]Module, error) {
	order := make([]Module, 0, len(g.nodes))
	visited := make(map[string]bool)

	var visit func(string)
	visit = func(nodeID string) {
		if visited[nodeID] {
			return
		}
		visited[nodeID] = true
		node := g.nodes[nodeID]
		for _, depID := range node.Dependencies {
			visit(depID)
		}
		order = append(order, node.Module)
	}

	for _, id := range g.sortedIDs() {
		visit(id)
	}

	return order, nil
}
