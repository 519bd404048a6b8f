package scanner

import (
	"errors"
	"sort"
	"strings"

	"go.trai.ch/zerr"

	"github.com/blackwell-systems/conda-self/internal/conda"
)

// ErrCycleDetected is returned when installed packages depend on each other
// in a loop. A valid environment never contains one.
var ErrCycleDetected = zerr.New("dependency cycle detected")

// Graph is the dependency graph of an environment's installed packages.
// An edge A -> B means A depends on B and B is installed; dependencies on
// packages that are not installed are ignored.
type Graph struct {
	records    map[string]*conda.PackageRecord
	deps       map[string][]string
	dependents map[string][]string
	names      []string
}

// NewGraph builds the graph over records. Record names must be unique.
func NewGraph(records []*conda.PackageRecord) *Graph {
	g := &Graph{
		records:    make(map[string]*conda.PackageRecord, len(records)),
		deps:       make(map[string][]string, len(records)),
		dependents: make(map[string][]string, len(records)),
	}
	for _, rec := range records {
		g.records[rec.Name] = rec
		g.names = append(g.names, rec.Name)
	}
	sort.Strings(g.names)

	for _, name := range g.names {
		for _, dep := range g.records[name].DependencyNames() {
			if _, installed := g.records[dep]; !installed || dep == name {
				continue
			}
			g.deps[name] = append(g.deps[name], dep)
			g.dependents[dep] = append(g.dependents[dep], name)
		}
		sort.Strings(g.deps[name])
	}
	return g
}

// Names returns all package names in the graph, sorted.
func (g *Graph) Names() []string {
	return append([]string(nil), g.names...)
}

// Has reports whether name is installed.
func (g *Graph) Has(name string) bool {
	_, ok := g.records[name]
	return ok
}

// Record returns the installed record called name, or nil.
func (g *Graph) Record(name string) *conda.PackageRecord {
	return g.records[name]
}

// Dependencies returns the installed direct dependencies of name.
func (g *Graph) Dependencies(name string) []string {
	return append([]string(nil), g.deps[name]...)
}

// Dependents returns the installed packages that directly depend on name.
func (g *Graph) Dependents(name string) []string {
	return append([]string(nil), g.dependents[name]...)
}

// Validate checks the graph for cycles. The returned error carries the
// offending path in its "cycle" metadata.
func (g *Graph) Validate() error {
	_, err := g.walk(g.names)
	return err
}

// Ancestors returns every package name transitively required by name,
// excluding name itself, sorted.
func (g *Graph) Ancestors(name string) []string {
	seen := map[string]bool{name: true}
	stack := append([]string(nil), g.deps[name]...)
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if seen[n] {
			continue
		}
		seen[n] = true
		stack = append(stack, g.deps[n]...)
	}
	delete(seen, name)

	out := make([]string, 0, len(seen))
	for n := range seen {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// TopoOrder returns names ordered so that every package comes after the
// packages it depends on, directly or through packages outside names.
// Unrelated packages keep alphabetical order. Names not in the graph are
// placed last, alphabetically.
func (g *Graph) TopoOrder(names []string) ([]string, error) {
	want := make(map[string]bool, len(names))
	var roots, unknown []string
	for _, n := range names {
		if want[n] {
			continue
		}
		want[n] = true
		if g.Has(n) {
			roots = append(roots, n)
		} else {
			unknown = append(unknown, n)
		}
	}
	sort.Strings(roots)
	sort.Strings(unknown)

	order, err := g.walk(roots)
	if err != nil {
		return nil, err
	}

	out := make([]string, 0, len(want))
	for _, n := range order {
		if want[n] {
			out = append(out, n)
		}
	}
	return append(out, unknown...), nil
}

// walk runs a depth-first post-order traversal from roots and returns the
// visited nodes, dependencies first.
func (g *Graph) walk(roots []string) ([]string, error) {
	visited := make(map[string]int) // 0: unvisited, 1: visiting, 2: visited
	var path, order []string

	var visit func(u string) error
	visit = func(u string) error {
		visited[u] = 1
		path = append(path, u)

		for _, dep := range g.deps[u] {
			if visited[dep] == 1 {
				return buildCycleError(path, dep)
			}
			if visited[dep] == 0 {
				if err := visit(dep); err != nil {
					return err
				}
			}
		}

		visited[u] = 2
		path = path[:len(path)-1]
		order = append(order, u)
		return nil
	}

	for _, name := range roots {
		if visited[name] == 0 {
			if err := visit(name); err != nil {
				return nil, err
			}
		}
	}
	return order, nil
}

func buildCycleError(path []string, dep string) error {
	start := 0
	for i, node := range path {
		if node == dep {
			start = i
			break
		}
	}
	cycle := append(append([]string(nil), path[start:]...), dep)
	return errors.Join(ErrCycleDetected, zerr.With(zerr.New("invalid environment"), "cycle", strings.Join(cycle, " -> ")))
}
