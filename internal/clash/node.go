package clash

import (
	"strconv"

	"gopkg.in/yaml.v3"
)

const mergeKey = "<<"

func resolve(n *yaml.Node) *yaml.Node {
	for n != nil && n.Kind == yaml.AliasNode {
		n = n.Alias
	}
	return n
}

func kindName(k yaml.Kind) string {
	switch k {
	case yaml.DocumentNode:
		return "document"
	case yaml.SequenceNode:
		return "sequence"
	case yaml.MappingNode:
		return "mapping"
	case yaml.ScalarNode:
		return "scalar"
	case yaml.AliasNode:
		return "alias"
	default:
		return "empty node"
	}
}

// rawMappingValue looks a key up in m itself, without following aliases or
// merge keys.
func rawMappingValue(m *yaml.Node, key string) *yaml.Node {
	if m == nil || m.Kind != yaml.MappingNode {
		return nil
	}
	for i := 0; i+1 < len(m.Content); i += 2 {
		if m.Content[i].Value == key {
			return m.Content[i+1]
		}
	}
	return nil
}

// mappingValue looks a key up in m, falling back to "<<" merge sources the way
// YAML 1.1 merge keys resolve. The returned node has aliases resolved.
func mappingValue(m *yaml.Node, key string) *yaml.Node {
	m = resolve(m)
	if v := rawMappingValue(m, key); v != nil {
		return resolve(v)
	}
	merge := resolve(rawMappingValue(m, mergeKey))
	if merge == nil {
		return nil
	}
	switch merge.Kind {
	case yaml.MappingNode:
		return mappingValue(merge, key)
	case yaml.SequenceNode:
		for _, src := range merge.Content {
			if v := mappingValue(src, key); v != nil {
				return v
			}
		}
	}
	return nil
}

func setMappingValue(m *yaml.Node, key string, value *yaml.Node) {
	for i := 0; i+1 < len(m.Content); i += 2 {
		if m.Content[i].Value == key {
			m.Content[i+1] = value
			return
		}
	}
	m.Content = append(m.Content, stringNode(key), value)
}

func sequenceItems(n *yaml.Node) []*yaml.Node {
	n = resolve(n)
	if n == nil || n.Kind != yaml.SequenceNode {
		return nil
	}
	out := make([]*yaml.Node, 0, len(n.Content))
	for _, item := range n.Content {
		out = append(out, resolve(item))
	}
	return out
}

func scalarValue(n *yaml.Node) (string, bool) {
	n = resolve(n)
	if n == nil || n.Kind != yaml.ScalarNode {
		return "", false
	}
	return n.Value, true
}

func stringNode(s string) *yaml.Node {
	return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: s}
}

func intNode(v int) *yaml.Node {
	return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!int", Value: strconv.Itoa(v)}
}

func boolNode(v bool) *yaml.Node {
	return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!bool", Value: strconv.FormatBool(v)}
}

func stringSeqNode(items []string) *yaml.Node {
	seq := &yaml.Node{Kind: yaml.SequenceNode, Tag: "!!seq"}
	for _, s := range items {
		seq.Content = append(seq.Content, stringNode(s))
	}
	return seq
}

// inlineDetachedAliases replaces every alias whose anchor is no longer emitted
// ahead of it with a copy of the anchored node. Edits that swap out an
// anchored node would otherwise leave "*name" pointing at nothing.
func inlineDetachedAliases(n *yaml.Node, seen map[*yaml.Node]bool) {
	if n.Anchor != "" {
		seen[n] = true
	}
	for i, c := range n.Content {
		if c.Kind == yaml.AliasNode && c.Alias != nil && !seen[c.Alias] {
			cp := copyNode(c.Alias)
			cp.Anchor = ""
			n.Content[i] = cp
			c = cp
		}
		inlineDetachedAliases(c, seen)
	}
}

func copyNode(n *yaml.Node) *yaml.Node {
	cp := *n
	if n.Content != nil {
		cp.Content = make([]*yaml.Node, len(n.Content))
		for i, c := range n.Content {
			cp.Content[i] = copyNode(c)
		}
	}
	return &cp
}
