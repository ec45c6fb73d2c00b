package guard

import "fmt"

// Result is the outcome of resolving a requested set of guard names for a
// requesting plugin.
type Result struct {
	Resolved []Entry    // the transitive closure of guards needed, in discovery order
	Missing  []string   // "owner.name" guard references that could not be resolved
	Circular [][]string // each element is one detected cycle, as an ordered "owner.name" chain
}

func dispName(owner, name string) string { return fmt.Sprintf("%s.%s", owner, name) }

// Resolve computes the transitive closure of guards reachable from names,
// as declared by requester. Local guards pull in their own Dependencies
// (within the same owner); external guards resolve against the target
// plugin's exported local guard of the same name, and traversal continues
// from there using the target as the new owner context -- re-exporting is
// never transitive, so a further external hop from the target must itself
// be explicitly exported.
//
// Resolution operates on a frozen snapshot of the registry taken at call
// entry, and visits dependencies in declaration order, making the result
// deterministic for a fixed registry state.
func (r *Registry) Resolve(requester string, names []string) Result {
	snap := r.snapshot()

	var res Result
	visited := make(map[string]bool)
	resolvedOK := make(map[string]bool)
	visiting := make(map[string]bool)
	var stack []string

	var visit func(owner, name string) bool
	visit = func(owner, name string) bool {
		k := key(owner, name)
		if visited[k] {
			return resolvedOK[k]
		}
		if visiting[k] {
			idx := 0
			for i, s := range stack {
				if s == k {
					idx = i
					break
				}
			}
			cycle := append([]string{}, stack[idx:]...)
			named := make([]string, len(cycle))
			for i, c := range cycle {
				named[i] = unkey(c)
			}
			res.Circular = append(res.Circular, named)
			return false
		}

		entry, ok := snap[k]
		if !ok {
			res.Missing = append(res.Missing, dispName(owner, name))
			visited[k] = true
			resolvedOK[k] = false
			return false
		}

		visiting[k] = true
		stack = append(stack, k)

		success := true
		switch entry.Scope {
		case ScopeLocal:
			for _, dep := range entry.Dependencies {
				if !visit(owner, dep) {
					success = false
				}
			}
		case ScopeExternal:
			target, texists := snap[key(entry.Source, entry.Name)]
			if !texists || target.Scope != ScopeLocal || !target.Exported {
				res.Missing = append(res.Missing, dispName(owner, name))
				success = false
			} else if !visit(entry.Source, entry.Name) {
				success = false
			}
		default:
			res.Missing = append(res.Missing, dispName(owner, name))
			success = false
		}

		stack = stack[:len(stack)-1]
		visiting[k] = false
		visited[k] = true
		resolvedOK[k] = success
		if success {
			res.Resolved = append(res.Resolved, entry)
		}
		return success
	}

	for _, n := range names {
		visit(requester, n)
	}
	return res
}

func unkey(k string) string {
	for i := 0; i < len(k); i++ {
		if k[i] == 0 {
			return k[:i] + "." + k[i+1:]
		}
	}
	return k
}
