package workflow

import "testing"

func computeTask(id string, deps ...string) Task {
	return Task{ID: id, Kind: TaskKindComputation, Description: id, TimeoutSeconds: 30, DependsOn: deps}
}

func TestDependencyGraphCycleDetection(t *testing.T) {
	_, err := NewDependencyGraph([]Task{
		computeTask("task-1", "task-3"),
		computeTask("task-2", "task-1"),
		computeTask("task-3", "task-2"),
	})
	if err == nil {
		t.Fatal("cycle not detected")
	}
}

func TestDependencyGraphMissingDependency(t *testing.T) {
	_, err := NewDependencyGraph([]Task{computeTask("task-1", "task-99")})
	if err == nil {
		t.Fatal("missing dependency not detected")
	}
}

func TestDependencyGraphDuplicateID(t *testing.T) {
	_, err := NewDependencyGraph([]Task{computeTask("task-1"), computeTask("task-1")})
	if err == nil {
		t.Fatal("duplicate id not detected")
	}
}

func TestDependencyGraphDispatchOrder(t *testing.T) {
	g, err := NewDependencyGraph([]Task{
		computeTask("fetch"),
		computeTask("analyze", "fetch"),
		computeTask("report", "analyze"),
	})
	if err != nil {
		t.Fatalf("NewDependencyGraph: %v", err)
	}

	ready := g.Ready()
	if len(ready) != 1 || ready[0].ID != "fetch" {
		t.Fatalf("initial ready = %v", taskIDs(ready))
	}

	unblocked := g.MarkDone("fetch")
	if len(unblocked) != 1 || unblocked[0].ID != "analyze" {
		t.Fatalf("after fetch, unblocked = %v", taskIDs(unblocked))
	}

	g.MarkDone("analyze")
	ready = g.Ready()
	if len(ready) != 1 || ready[0].ID != "report" {
		t.Fatalf("final ready = %v", taskIDs(ready))
	}

	g.MarkDone("report")
	if g.Remaining() != 0 {
		t.Fatalf("remaining = %d, want 0", g.Remaining())
	}
}

func TestDependencyGraphReadyIsStable(t *testing.T) {
	g, err := NewDependencyGraph([]Task{
		computeTask("task-1"),
		computeTask("task-2"),
		computeTask("task-3"),
	})
	if err != nil {
		t.Fatalf("NewDependencyGraph: %v", err)
	}

	for i := 0; i < 10; i++ {
		ids := taskIDs(g.Ready())
		if len(ids) != 3 || ids[0] != "task-1" || ids[1] != "task-2" || ids[2] != "task-3" {
			t.Fatalf("ready order not stable: %v", ids)
		}
	}
}

func TestDependencyGraphDescendants(t *testing.T) {
	g, err := NewDependencyGraph([]Task{
		computeTask("root"),
		computeTask("mid", "root"),
		computeTask("leaf", "mid"),
		computeTask("independent"),
	})
	if err != nil {
		t.Fatalf("NewDependencyGraph: %v", err)
	}

	desc := g.Descendants("root")
	if len(desc) != 2 {
		t.Fatalf("descendants of root = %v, want [mid leaf]", desc)
	}
	seen := map[string]bool{}
	for _, id := range desc {
		seen[id] = true
	}
	if !seen["mid"] || !seen["leaf"] || seen["independent"] {
		t.Fatalf("unexpected descendants: %v", desc)
	}
}

func TestDependencyGraphTopologicalOrder(t *testing.T) {
	g, err := NewDependencyGraph([]Task{
		computeTask("c", "b"),
		computeTask("b", "a"),
		computeTask("a"),
	})
	if err != nil {
		t.Fatalf("NewDependencyGraph: %v", err)
	}

	order := g.TopologicalOrder()
	pos := map[string]int{}
	for i, task := range order {
		pos[task.ID] = i
	}
	if pos["a"] > pos["b"] || pos["b"] > pos["c"] {
		t.Fatalf("bad topological order: %v", taskIDs(order))
	}
}

func taskIDs(tasks []*Task) []string {
	ids := make([]string, len(tasks))
	for i, t := range tasks {
		ids[i] = t.ID
	}
	return ids
}
