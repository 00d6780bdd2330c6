package clash

import (
	"bytes"
	"fmt"

	"github.com/pectics/clash-relay/internal/model"
	"gopkg.in/yaml.v3"
)

// Top-level keys the rewrite pipeline understands. Everything else in the
// document is carried through untouched.
const (
	KeyProxies     = "proxies"
	KeyProxyGroups = "proxy-groups"
	KeyRules       = "rules"
)

// CodecError reports a document that could not be decoded or encoded.
type CodecError struct {
	AppError model.AppError
	Cause    error
}

func (e *CodecError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Cause == nil {
		return fmt.Sprintf("%s: %s", e.AppError.Code, e.AppError.Message)
	}
	return fmt.Sprintf("%s: %s: %v", e.AppError.Code, e.AppError.Message, e.Cause)
}

func (e *CodecError) Unwrap() error { return e.Cause }

// Document is a Clash configuration held as a yaml.v3 node tree.
//
// Working on nodes instead of structs keeps key order, comments and every
// field the pipeline does not know about. The root is always a mapping.
type Document struct {
	doc  *yaml.Node
	root *yaml.Node
}

// Decode parses YAML text. An empty document decodes to an empty mapping;
// any other non-mapping root is rejected.
func Decode(data []byte) (*Document, error) {
	var n yaml.Node
	if err := yaml.Unmarshal(data, &n); err != nil {
		return nil, &CodecError{
			AppError: model.AppError{
				Code:    "DOCUMENT_PARSE_ERROR",
				Message: "Clash 配置 YAML 解析失败",
				Stage:   "decode",
			},
			Cause: err,
		}
	}

	if n.Kind == 0 || len(n.Content) == 0 {
		root := &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
		return &Document{
			doc:  &yaml.Node{Kind: yaml.DocumentNode, Content: []*yaml.Node{root}},
			root: root,
		}, nil
	}

	root := resolve(n.Content[0])
	if root.Kind != yaml.MappingNode {
		return nil, &CodecError{
			AppError: model.AppError{
				Code:    "DOCUMENT_SHAPE_ERROR",
				Message: "Clash 配置顶层必须是映射",
				Stage:   "decode",
				Hint:    fmt.Sprintf("got %s", kindName(root.Kind)),
			},
		}
	}
	return &Document{doc: &n, root: root}, nil
}

// Encode serializes the document with two-space indentation.
func (d *Document) Encode() ([]byte, error) {
	inlineDetachedAliases(d.doc, map[*yaml.Node]bool{})

	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(d.doc); err != nil {
		return nil, &CodecError{
			AppError: model.AppError{
				Code:    "DOCUMENT_ENCODE_ERROR",
				Message: "Clash 配置序列化失败",
				Stage:   "encode",
			},
			Cause: err,
		}
	}
	if err := enc.Close(); err != nil {
		return nil, &CodecError{
			AppError: model.AppError{
				Code:    "DOCUMENT_ENCODE_ERROR",
				Message: "Clash 配置序列化失败",
				Stage:   "encode",
			},
			Cause: err,
		}
	}
	return buf.Bytes(), nil
}

// Keys returns the top-level keys in document order.
func (d *Document) Keys() []string {
	keys := make([]string, 0, len(d.root.Content)/2)
	for i := 0; i+1 < len(d.root.Content); i += 2 {
		keys = append(keys, d.root.Content[i].Value)
	}
	return keys
}

// Lookup returns the value node stored under a top-level key.
func (d *Document) Lookup(key string) *yaml.Node {
	return mappingValue(d.root, key)
}

// Proxies returns the proxy entries. A missing or non-sequence "proxies"
// value yields an empty slice.
func (d *Document) Proxies() []Proxy {
	items := sequenceItems(d.Lookup(KeyProxies))
	out := make([]Proxy, 0, len(items))
	for _, n := range items {
		out = append(out, Proxy{node: n})
	}
	return out
}

func (d *Document) SetProxies(proxies []Proxy) {
	nodes := make([]*yaml.Node, 0, len(proxies))
	for _, p := range proxies {
		nodes = append(nodes, p.node)
	}
	d.setSequence(KeyProxies, nodes)
}

// Groups returns the proxy-group entries, empty when absent or malformed.
func (d *Document) Groups() []Group {
	items := sequenceItems(d.Lookup(KeyProxyGroups))
	out := make([]Group, 0, len(items))
	for _, n := range items {
		out = append(out, Group{node: n})
	}
	return out
}

func (d *Document) SetGroups(groups []Group) {
	nodes := make([]*yaml.Node, 0, len(groups))
	for _, g := range groups {
		nodes = append(nodes, g.node)
	}
	d.setSequence(KeyProxyGroups, nodes)
}

// Rules returns the rule strings. A missing or non-sequence "rules" value
// yields an empty slice; a non-scalar entry is an error.
func (d *Document) Rules() ([]string, error) {
	items := sequenceItems(d.Lookup(KeyRules))
	out := make([]string, 0, len(items))
	for i, n := range items {
		if n.Kind != yaml.ScalarNode {
			return nil, fmt.Errorf("rules[%d] is a %s, want string", i, kindName(n.Kind))
		}
		out = append(out, n.Value)
	}
	return out, nil
}

func (d *Document) SetRules(rules []string) {
	nodes := make([]*yaml.Node, 0, len(rules))
	for _, r := range rules {
		nodes = append(nodes, stringNode(r))
	}
	d.setSequence(KeyRules, nodes)
}

// setSequence replaces the value under key, keeping the key's position. A
// missing key is appended at the end of the root mapping.
func (d *Document) setSequence(key string, items []*yaml.Node) {
	seq := rawMappingValue(d.root, key)
	if seq == nil || seq.Kind != yaml.SequenceNode {
		seq = &yaml.Node{Kind: yaml.SequenceNode, Tag: "!!seq"}
		setMappingValue(d.root, key, seq)
	}
	seq.Content = items
}
