// Package memhost is an in-memory implementation of the loom host
// contract. It maintains a real instance tree, records every mutation in
// an op log, and audits instance attachment, which is what the engine
// tests assert placement ordering and leak-freedom against. The demo and
// benchmark binaries use it as their output surface.
package memhost

import (
	"fmt"
	"reflect"
	"sort"
	"strings"

	mapset "github.com/deckarep/golang-set/v2"

	"github.com/weftlabs/weft/loom"
)

// Node is one instance in the tree. Hosts have a tag; text leaves have
// an empty tag and carry Text.
type Node struct {
	ID    int
	Tag   string
	Props map[string]any
	Text  string

	children []*Node
	parent   *Node
	// inContainer marks top-level nodes, which have no parent.
	inContainer bool
}

// Children returns the node's children in order.
func (n *Node) Children() []*Node { return n.children }

// IsText reports whether the node is a text leaf.
func (n *Node) IsText() bool { return n.Tag == "" }

func (n *Node) String() string {
	if n == nil {
		return "<nil>"
	}
	if n.IsText() {
		return fmt.Sprintf("#%d %q", n.ID, n.Text)
	}
	return fmt.Sprintf("<%s#%d>", n.Tag, n.ID)
}

// Host implements loom.HostAdapter over an in-memory tree.
type Host struct {
	seq       int
	container []*Node
	ops       []string
	attached  mapset.Set[*Node]
}

// New returns an empty host.
func New() *Host {
	return &Host{attached: mapset.NewThreadUnsafeSet[*Node]()}
}

// Container returns the top-level nodes in order.
func (h *Host) Container() []*Node { return h.container }

// Ops returns the mutation log since the last ResetOps.
func (h *Host) Ops() []string { return h.ops }

// ResetOps clears the mutation log.
func (h *Host) ResetOps() { h.ops = nil }

// Attached returns how many instances are currently linked into a tree,
// top-level or below one. After a full unmount it must be zero.
func (h *Host) Attached() int { return h.attached.Cardinality() }

// IsAttached reports whether the instance is linked into a tree.
func (h *Host) IsAttached(instance any) bool {
	n, ok := instance.(*Node)
	return ok && h.attached.Contains(n)
}

func (h *Host) logf(format string, args ...any) {
	h.ops = append(h.ops, fmt.Sprintf(format, args...))
}

func asNode(instance any) (*Node, error) {
	n, ok := instance.(*Node)
	if !ok || n == nil {
		return nil, fmt.Errorf("memhost: not a node: %v", instance)
	}
	return n, nil
}

func asProps(props any) map[string]any {
	m, _ := props.(map[string]any)
	return m
}

// CreateInstance makes a detached host node. Props of type
// map[string]any are copied; a "text" key makes the node render its own
// text content (see ShouldSetTextContent).
func (h *Host) CreateInstance(tag string, props any) (loom.Instance, error) {
	if tag == "" {
		return nil, fmt.Errorf("memhost: empty tag")
	}
	h.seq++
	n := &Node{ID: h.seq, Tag: tag}
	n.applyProps(props)
	h.logf("create(%s)", n)
	return n, nil
}

// CreateTextInstance makes a detached text leaf.
func (h *Host) CreateTextInstance(text string) (loom.Instance, error) {
	h.seq++
	n := &Node{ID: h.seq, Text: text}
	h.logf("create(%s)", n)
	return n, nil
}

func (n *Node) applyProps(props any) {
	m := asProps(props)
	if m == nil {
		n.Props = nil
		if props != nil {
			// Uncommon, but keep something inspectable.
			n.Props = map[string]any{"value": props}
		}
	} else {
		cp := make(map[string]any, len(m))
		for k, v := range m {
			cp[k] = v
		}
		n.Props = cp
	}
	if t, ok := n.Props["text"].(string); ok {
		n.Text = t
	}
}

// ShouldSetTextContent reports whether the host renders the node's text
// itself, which is signalled by a "text" prop.
func (h *Host) ShouldSetTextContent(tag string, props any) bool {
	_, ok := asProps(props)["text"]
	return ok
}

// PrepareUpdate diffs two props payloads. For map props the payload is
// the minimal changed-key map, with removed keys present as nil; equal
// props produce a nil payload. Non-map props replace wholesale.
func (h *Host) PrepareUpdate(instance any, tag string, oldProps, newProps any) (any, error) {
	if _, err := asNode(instance); err != nil {
		return nil, err
	}
	oldMap, newMap := asProps(oldProps), asProps(newProps)
	if oldMap == nil && newMap == nil {
		if reflect.DeepEqual(oldProps, newProps) {
			return nil, nil
		}
		return newProps, nil
	}
	diff := make(map[string]any)
	for k, ov := range oldMap {
		nv, ok := newMap[k]
		if !ok {
			diff[k] = nil
		} else if !reflect.DeepEqual(ov, nv) {
			diff[k] = nv
		}
	}
	for k, nv := range newMap {
		if _, ok := oldMap[k]; !ok {
			diff[k] = nv
		}
	}
	if len(diff) == 0 {
		return nil, nil
	}
	return diff, nil
}

// CommitUpdate applies a payload from PrepareUpdate.
func (h *Host) CommitUpdate(instance any, tag string, payload any) error {
	n, err := asNode(instance)
	if err != nil {
		return err
	}
	switch p := payload.(type) {
	case nil:
	case map[string]any:
		if n.Props == nil {
			n.Props = make(map[string]any, len(p))
		}
		for k, v := range p {
			if v == nil {
				delete(n.Props, k)
			} else {
				n.Props[k] = v
			}
		}
		if t, ok := n.Props["text"].(string); ok {
			n.Text = t
		} else {
			n.Text = ""
		}
	default:
		n.applyProps(payload)
	}
	h.logf("update(%s)", n)
	return nil
}

// CommitTextUpdate rewrites a text leaf.
func (h *Host) CommitTextUpdate(instance any, oldText, newText string) error {
	n, err := asNode(instance)
	if err != nil {
		return err
	}
	h.logf("retext(#%d %q -> %q)", n.ID, oldText, newText)
	n.Text = newText
	return nil
}

// ResetTextContent clears host-managed text before real children attach.
func (h *Host) ResetTextContent(instance any, tag string) error {
	n, err := asNode(instance)
	if err != nil {
		return err
	}
	n.Text = ""
	h.logf("reset(%s)", n)
	return nil
}

// detachLocked unlinks n from whatever holds it, without touching the
// attachment audit. Attaching an already-attached node moves it.
func (h *Host) detachLocked(n *Node) {
	if n.parent != nil {
		n.parent.children = removeNode(n.parent.children, n)
		n.parent = nil
	}
	if n.inContainer {
		h.container = removeNode(h.container, n)
		n.inContainer = false
	}
}

func removeNode(list []*Node, n *Node) []*Node {
	for i, c := range list {
		if c == n {
			return append(list[:i], list[i+1:]...)
		}
	}
	return list
}

func indexOf(list []*Node, n *Node) int {
	for i, c := range list {
		if c == n {
			return i
		}
	}
	return -1
}

// isLive reports whether n is reachable from the container. Children
// appended under a still-detached instance are not live until that
// instance is placed.
func (h *Host) isLive(n *Node) bool {
	for p := n; p != nil; p = p.parent {
		if p.inContainer {
			return true
		}
	}
	return false
}

// markAttached records n and its whole subtree as live.
func (h *Host) markAttached(n *Node) {
	h.attached.Add(n)
	for _, c := range n.children {
		h.markAttached(c)
	}
}

// markDetached removes n and its whole subtree from the audit.
func (h *Host) markDetached(n *Node) {
	h.attached.Remove(n)
	for _, c := range n.children {
		h.markDetached(c)
	}
}

// AppendChild attaches child as parent's last child, moving it if it is
// attached elsewhere.
func (h *Host) AppendChild(parent, child any) error {
	p, err := asNode(parent)
	if err != nil {
		return err
	}
	c, err := asNode(child)
	if err != nil {
		return err
	}
	h.detachLocked(c)
	p.children = append(p.children, c)
	c.parent = p
	if h.isLive(p) {
		h.markAttached(c)
	} else {
		h.markDetached(c)
	}
	h.logf("append(%s -> %s)", c, p)
	return nil
}

// InsertBefore attaches child immediately before ref among parent's
// children.
func (h *Host) InsertBefore(parent, child, before any) error {
	p, err := asNode(parent)
	if err != nil {
		return err
	}
	c, err := asNode(child)
	if err != nil {
		return err
	}
	ref, err := asNode(before)
	if err != nil {
		return err
	}
	h.detachLocked(c)
	i := indexOf(p.children, ref)
	if i < 0 {
		return fmt.Errorf("memhost: insert before %s: not a child of %s", ref, p)
	}
	p.children = append(p.children, nil)
	copy(p.children[i+1:], p.children[i:])
	p.children[i] = c
	c.parent = p
	if h.isLive(p) {
		h.markAttached(c)
	} else {
		h.markDetached(c)
	}
	h.logf("insert(%s before %s -> %s)", c, ref, p)
	return nil
}

// RemoveChild detaches child from parent and retires its subtree.
func (h *Host) RemoveChild(parent, child any) error {
	p, err := asNode(parent)
	if err != nil {
		return err
	}
	c, err := asNode(child)
	if err != nil {
		return err
	}
	if c.parent != p {
		return fmt.Errorf("memhost: remove %s: not a child of %s", c, p)
	}
	h.detachLocked(c)
	h.markDetached(c)
	h.logf("remove(%s <- %s)", c, p)
	return nil
}

// AppendToContainer attaches child at the end of the top level.
func (h *Host) AppendToContainer(child any) error {
	c, err := asNode(child)
	if err != nil {
		return err
	}
	h.detachLocked(c)
	h.container = append(h.container, c)
	c.inContainer = true
	h.markAttached(c)
	h.logf("append(%s -> container)", c)
	return nil
}

// InsertInContainerBefore attaches child immediately before ref at the
// top level.
func (h *Host) InsertInContainerBefore(child, before any) error {
	c, err := asNode(child)
	if err != nil {
		return err
	}
	ref, err := asNode(before)
	if err != nil {
		return err
	}
	h.detachLocked(c)
	i := indexOf(h.container, ref)
	if i < 0 {
		return fmt.Errorf("memhost: insert before %s: not in container", ref)
	}
	h.container = append(h.container, nil)
	copy(h.container[i+1:], h.container[i:])
	h.container[i] = c
	c.inContainer = true
	h.markAttached(c)
	h.logf("insert(%s before %s -> container)", c, ref)
	return nil
}

// RemoveFromContainer detaches a top-level child and retires its
// subtree.
func (h *Host) RemoveFromContainer(child any) error {
	c, err := asNode(child)
	if err != nil {
		return err
	}
	if !c.inContainer {
		return fmt.Errorf("memhost: remove %s: not in container", c)
	}
	h.detachLocked(c)
	h.markDetached(c)
	h.logf("remove(%s <- container)", c)
	return nil
}

// RenderString serializes the container as an indented outline, props
// sorted by key. Text leaves render quoted; host-managed text renders
// inline on the tag line.
func (h *Host) RenderString() string {
	var b strings.Builder
	for _, n := range h.container {
		renderNode(&b, n, 0)
	}
	return b.String()
}

func renderNode(b *strings.Builder, n *Node, depth int) {
	indent := strings.Repeat("  ", depth)
	if n.IsText() {
		fmt.Fprintf(b, "%s%q\n", indent, n.Text)
		return
	}
	b.WriteString(indent)
	b.WriteString("<")
	b.WriteString(n.Tag)
	for _, k := range sortedKeys(n.Props) {
		if k == "text" {
			continue
		}
		fmt.Fprintf(b, " %s=%v", k, n.Props[k])
	}
	b.WriteString(">")
	if n.Text != "" {
		fmt.Fprintf(b, " %q", n.Text)
	}
	b.WriteString("\n")
	for _, c := range n.children {
		renderNode(b, c, depth+1)
	}
}

func sortedKeys(m map[string]any) []string {
	if len(m) == 0 {
		return nil
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
