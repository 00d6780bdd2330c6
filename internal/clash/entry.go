package clash

import (
	"errors"
	"fmt"

	"gopkg.in/yaml.v3"
)

var errNotMapping = errors.New("entry is not a mapping")

// Field is one key/value pair of an entry built by NewProxy or NewGroup.
// Value may be a string, int, bool or []string.
type Field struct {
	Key   string
	Value any
}

// Proxy is one entry of the "proxies" sequence. Only name and type are
// interpreted; the remaining fields are opaque.
type Proxy struct {
	node *yaml.Node
}

func NewProxy(fields ...Field) Proxy {
	return Proxy{node: newMapping(fields)}
}

func (p Proxy) IsMapping() bool {
	n := resolve(p.node)
	return n != nil && n.Kind == yaml.MappingNode
}

func (p Proxy) Name() string {
	v, _ := scalarValue(mappingValue(p.node, "name"))
	return v
}

func (p Proxy) Type() string {
	v, _ := scalarValue(mappingValue(p.node, "type"))
	return v
}

// Field returns a scalar field of the entry.
func (p Proxy) Field(key string) (string, bool) {
	return scalarValue(mappingValue(p.node, key))
}

func (p Proxy) SetName(name string) error {
	return setScalar(p.node, "name", name)
}

// Group is one entry of the "proxy-groups" sequence.
type Group struct {
	node *yaml.Node
}

func NewGroup(fields ...Field) Group {
	return Group{node: newMapping(fields)}
}

func (g Group) IsMapping() bool {
	n := resolve(g.node)
	return n != nil && n.Kind == yaml.MappingNode
}

func (g Group) Name() string {
	v, _ := scalarValue(mappingValue(g.node, "name"))
	return v
}

func (g Group) Type() string {
	v, _ := scalarValue(mappingValue(g.node, "type"))
	return v
}

func (g Group) Field(key string) (string, bool) {
	return scalarValue(mappingValue(g.node, key))
}

func (g Group) SetName(name string) error {
	return setScalar(g.node, "name", name)
}

// Members returns the group's member references. ok is false when the group
// has no "proxies" sequence (for example a provider-only group).
func (g Group) Members() (members []string, ok bool, err error) {
	seq := mappingValue(g.node, "proxies")
	if seq == nil || seq.Kind != yaml.SequenceNode {
		return nil, false, nil
	}
	items := sequenceItems(seq)
	members = make([]string, 0, len(items))
	for i, n := range items {
		if n.Kind != yaml.ScalarNode {
			return nil, true, fmt.Errorf("group %q: proxies[%d] is a %s, want string", g.Name(), i, kindName(n.Kind))
		}
		members = append(members, n.Value)
	}
	return members, true, nil
}

// SetMembers replaces the member list. A plain sequence keeps its style; a
// merged, aliased, anchored or missing one is replaced by a fresh sequence on
// the group itself, so other groups sharing the node keep their members.
func (g Group) SetMembers(members []string) error {
	m := resolve(g.node)
	if m == nil || m.Kind != yaml.MappingNode {
		return errNotMapping
	}
	seq := rawMappingValue(m, "proxies")
	if seq == nil || seq.Kind != yaml.SequenceNode || seq.Anchor != "" {
		fresh := stringSeqNode(members)
		if seq != nil && seq.Kind == yaml.SequenceNode {
			fresh.Style = seq.Style
		}
		setMappingValue(m, "proxies", fresh)
		return nil
	}
	seq.Content = stringSeqNode(members).Content
	return nil
}

func setScalar(node *yaml.Node, key, value string) error {
	m := resolve(node)
	if m == nil || m.Kind != yaml.MappingNode {
		return errNotMapping
	}
	cur := rawMappingValue(m, key)
	if cur != nil && cur.Kind == yaml.ScalarNode {
		cur.Value = value
		cur.Tag = "!!str"
		return nil
	}
	setMappingValue(m, key, stringNode(value))
	return nil
}

func newMapping(fields []Field) *yaml.Node {
	m := &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
	for _, f := range fields {
		var v *yaml.Node
		switch x := f.Value.(type) {
		case string:
			v = stringNode(x)
		case int:
			v = intNode(x)
		case bool:
			v = boolNode(x)
		case []string:
			v = stringSeqNode(x)
		default:
			v = stringNode(fmt.Sprint(x))
		}
		m.Content = append(m.Content, stringNode(f.Key), v)
	}
	return m
}
