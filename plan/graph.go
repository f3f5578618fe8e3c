package plan

import (
	"fmt"
	"regexp"
	"sort"

	"github.com/goplan/orchestrator/orcherr"
)

var stepRefPattern = regexp.MustCompile(`^step:([a-zA-Z0-9_-]+)(?:\.(.+))?$`)

// inferredDependencies walks a step's input tree and collects every step id
// referenced via a step:<id>[.path] string, used when DependsOn is absent.
func inferredDependencies(input map[string]any) []string {
	seen := make(map[string]struct{})
	var walk func(v any)
	walk = func(v any) {
		switch val := v.(type) {
		case string:
			if m := stepRefPattern.FindStringSubmatch(val); m != nil {
				seen[m[1]] = struct{}{}
			}
		case map[string]any:
			for _, child := range val {
				walk(child)
			}
		case []any:
			for _, child := range val {
				walk(child)
			}
		}
	}
	for _, v := range input {
		walk(v)
	}
	deps := make([]string, 0, len(seen))
	for id := range seen {
		deps = append(deps, id)
	}
	sort.Strings(deps)
	return deps
}

// level assigns each step an execution level by longest-path-from-root: a
// step with no dependencies is level 0; a step depends on the maximum level
// of its dependencies plus one. Steps at the same level may dispatch
// concurrently.
type level struct {
	steps map[string]int // step id -> level
	order []string       // step ids grouped by level, level-major
}

// buildGraph validates step id uniqueness and dependency references, detects
// cycles, and computes levels. It returns the step-id-to-resolved-deps map
// (DependsOn filled in via inference where absent) alongside the leveling.
func buildGraph(steps []Step) (map[string][]string, *level, error) {
	byID := make(map[string]*Step, len(steps))
	for i := range steps {
		s := &steps[i]
		if _, dup := byID[s.ID]; dup {
			return nil, nil, orcherr.Newf(orcherr.ValidationError, "duplicate step id %q", s.ID)
		}
		byID[s.ID] = s
	}

	deps := make(map[string][]string, len(steps))
	for _, s := range steps {
		d := s.DependsOn
		if len(d) == 0 {
			d = inferredDependencies(s.Input)
		}
		for _, dep := range d {
			if _, ok := byID[dep]; !ok {
				return nil, nil, orcherr.Newf(orcherr.ValidationError, "step %q depends on unknown step %q", s.ID, dep)
			}
		}
		deps[s.ID] = d
	}

	if cyc := findCycle(deps); cyc != nil {
		return nil, nil, orcherr.Newf(orcherr.ValidationError, "cyclic dependency among steps: %v", cyc)
	}

	levels := make(map[string]int, len(steps))
	var assign func(id string, visiting map[string]bool) int
	assign = func(id string, visiting map[string]bool) int {
		if lv, ok := levels[id]; ok {
			return lv
		}
		visiting[id] = true
		max := -1
		for _, dep := range deps[id] {
			lv := assign(dep, visiting)
			if lv > max {
				max = lv
			}
		}
		delete(visiting, id)
		levels[id] = max + 1
		return levels[id]
	}
	for id := range byID {
		assign(id, map[string]bool{})
	}

	order := make([]string, 0, len(steps))
	for _, s := range steps {
		order = append(order, s.ID)
	}
	sort.SliceStable(order, func(i, j int) bool { return levels[order[i]] < levels[order[j]] })

	return deps, &level{steps: levels, order: order}, nil
}

// findCycle reports the first cycle found in deps (a map of step id to the
// ids it depends on), or nil if the graph is acyclic.
func findCycle(deps map[string][]string) []string {
	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[string]int, len(deps))
	var path []string
	var cycle []string

	var visit func(id string) bool
	visit = func(id string) bool {
		color[id] = gray
		path = append(path, id)
		for _, dep := range deps[id] {
			switch color[dep] {
			case gray:
				// found the back edge; extract the cycle from path.
				for i, p := range path {
					if p == dep {
						cycle = append([]string{}, path[i:]...)
						cycle = append(cycle, dep)
						return true
					}
				}
			case white:
				if visit(dep) {
					return true
				}
			}
		}
		path = path[:len(path)-1]
		color[id] = black
		return false
	}

	ids := make([]string, 0, len(deps))
	for id := range deps {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		if color[id] == white {
			if visit(id) {
				return cycle
			}
		}
	}
	return nil
}

// levelsOf groups step ids into ordered levels (level 0 first).
func (l *level) levelsOf(steps []Step) [][]string {
	maxLevel := -1
	for _, lv := range l.steps {
		if lv > maxLevel {
			maxLevel = lv
		}
	}
	groups := make([][]string, maxLevel+1)
	for _, s := range steps {
		lv := l.steps[s.ID]
		groups[lv] = append(groups[lv], s.ID)
	}
	return groups
}

func (l *level) String() string {
	n := 0
	for _, lv := range l.steps {
		if lv+1 > n {
			n = lv + 1
		}
	}
	return fmt.Sprintf("%d levels", n)
}
