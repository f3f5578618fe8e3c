package registry

// Policy narrows catalog discovery to an allow/block list over tags and
// tool names. An empty Policy allows everything. Block lists take
// precedence over allow lists; an explicit AllowTools bypasses AllowTags
// entirely once any allow list is non-empty.
type Policy struct {
	AllowTags  []string
	BlockTags  []string
	AllowTools []string
	BlockTools []string
}

// Filtered returns the subset of List() that Policy permits, in the same
// name-sorted order.
func (r *Registry) Filtered(policy Policy) []*ToolDefinition {
	allowTags := toSet(policy.AllowTags)
	blockTags := toSet(policy.BlockTags)
	allowTools := toSet(policy.AllowTools)
	blockTools := toSet(policy.BlockTools)

	all := r.List(ListFilter{})
	out := make([]*ToolDefinition, 0, len(all))
	for _, def := range all {
		if isAllowed(def, allowTags, blockTags, allowTools, blockTools) {
			out = append(out, def)
		}
	}
	return out
}

func isAllowed(def *ToolDefinition, allowTags, blockTags, allowTools, blockTools map[string]struct{}) bool {
	if len(blockTools) > 0 {
		if _, blocked := blockTools[def.Name]; blocked {
			return false
		}
	}
	if len(blockTags) > 0 {
		for _, tag := range def.Tags {
			if _, blocked := blockTags[tag]; blocked {
				return false
			}
		}
	}
	if len(allowTools) > 0 {
		_, ok := allowTools[def.Name]
		return ok
	}
	if len(allowTags) > 0 {
		for _, tag := range def.Tags {
			if _, ok := allowTags[tag]; ok {
				return true
			}
		}
		return false
	}
	return true
}

func toSet(values []string) map[string]struct{} {
	if len(values) == 0 {
		return nil
	}
	set := make(map[string]struct{}, len(values))
	for _, v := range values {
		if v != "" {
			set[v] = struct{}{}
		}
	}
	if len(set) == 0 {
		return nil
	}
	return set
}
