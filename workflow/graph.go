package workflow

import "fmt"

// DependencyGraph orders a session's tasks by their declared dependencies
// and tracks which are ready to dispatch. A cycle or a reference to a
// missing task is a planning-time error, detected at construction.
type DependencyGraph struct {
	tasks      map[string]*Task
	order      []string            // task ids in planner order, for stable dispatch
	inDegree   map[string]int      // unmet dependencies per task
	dependents map[string][]string // tasks that depend on a given task
}

// NewDependencyGraph builds a graph from a task list, rejecting unknown
// dependency references and cycles.
func NewDependencyGraph(tasks []Task) (*DependencyGraph, error) {
	g := &DependencyGraph{
		tasks:      make(map[string]*Task),
		inDegree:   make(map[string]int),
		dependents: make(map[string][]string),
	}

	for i := range tasks {
		t := &tasks[i]
		if _, dup := g.tasks[t.ID]; dup {
			return nil, fmt.Errorf("duplicate task id %s", t.ID)
		}
		g.tasks[t.ID] = t
		g.order = append(g.order, t.ID)
		g.inDegree[t.ID] = 0
	}

	for _, t := range tasks {
		for _, depID := range t.DependsOn {
			if _, exists := g.tasks[depID]; !exists {
				return nil, fmt.Errorf("task %s depends on non-existent task %s", t.ID, depID)
			}
			g.inDegree[t.ID]++
			g.dependents[depID] = append(g.dependents[depID], t.ID)
		}
	}

	if err := g.detectCycles(); err != nil {
		return nil, err
	}

	return g, nil
}

// detectCycles runs Kahn's algorithm; leftover tasks mean a cycle.
func (g *DependencyGraph) detectCycles() error {
	tempDegree := make(map[string]int, len(g.inDegree))
	for id, deg := range g.inDegree {
		tempDegree[id] = deg
	}

	var queue []string
	for id, deg := range tempDegree {
		if deg == 0 {
			queue = append(queue, id)
		}
	}

	processed := 0
	for len(queue) > 0 {
		taskID := queue[0]
		queue = queue[1:]
		processed++

		for _, depID := range g.dependents[taskID] {
			tempDegree[depID]--
			if tempDegree[depID] == 0 {
				queue = append(queue, depID)
			}
		}
	}

	if processed != len(g.tasks) {
		return fmt.Errorf("circular dependency detected: %d tasks could not be ordered", len(g.tasks)-processed)
	}

	return nil
}

// Ready returns tasks with no unmet dependencies, in planner order.
func (g *DependencyGraph) Ready() []*Task {
	var ready []*Task
	for _, id := range g.order {
		if deg, pending := g.inDegree[id]; pending && deg == 0 {
			ready = append(ready, g.tasks[id])
		}
	}
	return ready
}

// MarkDone removes a dispositioned task from the graph and returns the
// tasks it unblocks. Used for both success and failed-but-continuable
// dispositions, since either satisfies the ordering guarantee.
func (g *DependencyGraph) MarkDone(taskID string) []*Task {
	var unblocked []*Task
	for _, depID := range g.dependents[taskID] {
		if _, present := g.inDegree[depID]; !present {
			continue
		}
		g.inDegree[depID]--
		if g.inDegree[depID] == 0 {
			unblocked = append(unblocked, g.tasks[depID])
		}
	}
	delete(g.inDegree, taskID)
	return unblocked
}

// Descendants returns every task reachable through the dependents relation,
// used to skip the subtree under a failed task.
func (g *DependencyGraph) Descendants(taskID string) []string {
	seen := make(map[string]bool)
	var out []string
	var walk func(id string)
	walk = func(id string) {
		for _, dep := range g.dependents[id] {
			if !seen[dep] {
				seen[dep] = true
				out = append(out, dep)
				walk(dep)
			}
		}
	}
	walk(taskID)
	return out
}

// Remove drops a task from the pending set without unblocking dependents.
func (g *DependencyGraph) Remove(taskID string) {
	delete(g.inDegree, taskID)
}

// Remaining reports how many tasks are still pending.
func (g *DependencyGraph) Remaining() int {
	return len(g.inDegree)
}

// TopologicalOrder returns all tasks in dependency order. The graph state
// is snapshotted, so this is safe to call during dispatch for reporting.
func (g *DependencyGraph) TopologicalOrder() []*Task {
	tempDegree := make(map[string]int, len(g.tasks))
	for id := range g.tasks {
		tempDegree[id] = 0
	}
	for _, t := range g.tasks {
		for range t.DependsOn {
			tempDegree[t.ID]++
		}
	}

	var queue []string
	for _, id := range g.order {
		if tempDegree[id] == 0 {
			queue = append(queue, id)
		}
	}

	var order []*Task
	for len(queue) > 0 {
		taskID := queue[0]
		queue = queue[1:]
		order = append(order, g.tasks[taskID])

		for _, depID := range g.dependents[taskID] {
			tempDegree[depID]--
			if tempDegree[depID] == 0 {
				queue = append(queue, depID)
			}
		}
	}

	return order
}
