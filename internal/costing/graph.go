package costing

import (
	"sort"

	"github.com/sells-group/kitchen-cli/internal/model"
)

// Graph maps a normalized recipe name to the normalized names of the
// sub-recipes it references.
type Graph struct {
	edges map[string][]string
	names map[string]string
}

// NewGraph builds the sub-recipe graph of recipes.
func NewGraph(recipes []model.Recipe) *Graph {
	g := &Graph{edges: make(map[string][]string), names: make(map[string]string)}
	for i := range recipes {
		g.Put(&recipes[i])
	}
	return g
}

// Put adds or replaces a recipe's outgoing edges.
func (g *Graph) Put(r *model.Recipe) {
	key := recipeKey(r.Name)
	g.names[key] = r.Name
	var subs []string
	for _, ref := range r.SubRecipes() {
		k := recipeKey(ref)
		subs = append(subs, k)
		if _, ok := g.names[k]; !ok {
			g.names[k] = ref
		}
	}
	g.edges[key] = subs
}

// Remove drops a recipe's outgoing edges.
func (g *Graph) Remove(name string) {
	delete(g.edges, recipeKey(name))
}

// Parents returns the recipes that reference name as a sub-recipe.
func (g *Graph) Parents(name string) []string {
	key := recipeKey(name)
	var out []string
	for from, subs := range g.edges {
		for _, s := range subs {
			if s == key {
				out = append(out, g.names[from])
				break
			}
		}
	}
	sort.Strings(out)
	return out
}

const (
	unvisited = iota
	onStack
	done
)

type frame struct {
	node string
	next int
}

// Validate walks the graph depth first and returns *CyclicRecipeError for the
// first cycle found. Recursion is replaced by an explicit stack so deep
// graphs cannot exhaust the goroutine stack.
func (g *Graph) Validate() error {
	roots := make([]string, 0, len(g.edges))
	for k := range g.edges {
		roots = append(roots, k)
	}
	sort.Strings(roots)

	state := make(map[string]int, len(g.edges))
	for _, root := range roots {
		if state[root] != unvisited {
			continue
		}
		stack := []frame{{node: root}}
		state[root] = onStack
		for len(stack) > 0 {
			top := &stack[len(stack)-1]
			subs := g.edges[top.node]
			if top.next >= len(subs) {
				state[top.node] = done
				stack = stack[:len(stack)-1]
				continue
			}
			child := subs[top.next]
			top.next++
			switch state[child] {
			case onStack:
				return g.cycleError(stack, child)
			case unvisited:
				state[child] = onStack
				stack = append(stack, frame{node: child})
			}
		}
	}
	return nil
}

func (g *Graph) cycleError(stack []frame, repeated string) *CyclicRecipeError {
	start := 0
	for i, f := range stack {
		if f.node == repeated {
			start = i
			break
		}
	}
	path := make([]string, 0, len(stack)-start+1)
	for _, f := range stack[start:] {
		path = append(path, g.names[f.node])
	}
	return &CyclicRecipeError{Path: append(path, g.names[repeated])}
}

// ValidateGraph reports whether recipes form an acyclic sub-recipe graph.
func ValidateGraph(recipes []model.Recipe) error {
	return NewGraph(recipes).Validate()
}
