package memhost_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weftlabs/weft/memhost"
)

// should create, attach and audit instances through the adapter surface
func TestContainerAttachmentAudit(t *testing.T) {
	h := memhost.New()

	div, err := h.CreateInstance("div", map[string]any{"id": "x"})
	require.NoError(t, err)
	txt, err := h.CreateTextInstance("hi")
	require.NoError(t, err)
	assert.Equal(t, 0, h.Attached())

	require.NoError(t, h.AppendChild(div, txt))
	require.NoError(t, h.AppendToContainer(div))
	assert.Equal(t, 2, h.Attached())
	assert.True(t, h.IsAttached(txt))

	require.NoError(t, h.RemoveFromContainer(div))
	assert.Equal(t, 0, h.Attached())
	assert.False(t, h.IsAttached(txt))
}

// should treat appending an attached node as a move
func TestAppendOfAttachedNodeMoves(t *testing.T) {
	h := memhost.New()

	a, _ := h.CreateInstance("a", nil)
	b, _ := h.CreateInstance("b", nil)
	require.NoError(t, h.AppendToContainer(a))
	require.NoError(t, h.AppendToContainer(b))
	require.Len(t, h.Container(), 2)

	// Re-appending a relocates it to the end without duplication.
	require.NoError(t, h.AppendToContainer(a))
	require.Len(t, h.Container(), 2)
	assert.Same(t, b, h.Container()[0])
	assert.Same(t, a, h.Container()[1])

	require.NoError(t, h.InsertInContainerBefore(a, b))
	assert.Same(t, a, h.Container()[0])
	assert.Equal(t, 2, h.Attached())
}

// should diff props into a minimal payload with nil tombstones
func TestPrepareUpdateDiffs(t *testing.T) {
	h := memhost.New()
	n, _ := h.CreateInstance("div", map[string]any{"a": 1, "b": "x"})

	payload, err := h.PrepareUpdate(n, "div", map[string]any{"a": 1, "b": "x"}, map[string]any{"a": 1, "b": "x"})
	require.NoError(t, err)
	assert.Nil(t, payload)

	payload, err = h.PrepareUpdate(n, "div", map[string]any{"a": 1, "b": "x"}, map[string]any{"a": 2, "c": true})
	require.NoError(t, err)
	diff := payload.(map[string]any)
	assert.Equal(t, 2, diff["a"])
	assert.Equal(t, true, diff["c"])
	val, present := diff["b"]
	assert.True(t, present)
	assert.Nil(t, val)

	require.NoError(t, h.CommitUpdate(n, "div", diff))
	node := n.(*memhost.Node)
	assert.Equal(t, 2, node.Props["a"])
	assert.Equal(t, true, node.Props["c"])
	_, kept := node.Props["b"]
	assert.False(t, kept)
}

// should manage text through the text prop and report it for hosts
func TestAdapterTextHandling(t *testing.T) {
	h := memhost.New()

	assert.True(t, h.ShouldSetTextContent("label", map[string]any{"text": "inline"}))
	assert.False(t, h.ShouldSetTextContent("label", map[string]any{"id": "x"}))
	assert.False(t, h.ShouldSetTextContent("label", nil))

	n, _ := h.CreateInstance("label", map[string]any{"text": "inline"})
	node := n.(*memhost.Node)
	assert.Equal(t, "inline", node.Text)

	require.NoError(t, h.ResetTextContent(n, "label"))
	assert.Equal(t, "", node.Text)
}

// should record an op per mutation in call order
func TestOpsLog(t *testing.T) {
	h := memhost.New()

	div, _ := h.CreateInstance("div", nil)
	txt, _ := h.CreateTextInstance("hi")
	_ = h.AppendChild(div, txt)
	_ = h.AppendToContainer(div)
	_ = h.CommitTextUpdate(txt, "hi", "bye")

	require.Len(t, h.Ops(), 5)
	assert.Equal(t, "create(<div#1>)", h.Ops()[0])
	assert.Equal(t, `create(#2 "hi")`, h.Ops()[1])
	assert.Equal(t, "append(#2 \"hi\" -> <div#1>)", h.Ops()[2])
	assert.Equal(t, "append(<div#1> -> container)", h.Ops()[3])
	assert.Equal(t, `retext(#2 "hi" -> "bye")`, h.Ops()[4])

	h.ResetOps()
	assert.Empty(t, h.Ops())
}

// should reject foreign instances and impossible removals
func TestAdapterErrors(t *testing.T) {
	h := memhost.New()

	_, err := h.CreateInstance("", nil)
	require.Error(t, err)

	err = h.AppendChild("not a node", "neither")
	require.Error(t, err)

	a, _ := h.CreateInstance("a", nil)
	b, _ := h.CreateInstance("b", nil)
	err = h.RemoveChild(a, b)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not a child")
}

// should render an indented outline of the attached tree
func TestRenderString(t *testing.T) {
	h := memhost.New()

	ul, _ := h.CreateInstance("ul", nil)
	li, _ := h.CreateInstance("li", map[string]any{"id": "first"})
	txt, _ := h.CreateTextInstance("alpha")
	_ = h.AppendChild(li, txt)
	_ = h.AppendChild(ul, li)
	_ = h.AppendToContainer(ul)

	out := h.RenderString()
	assert.Equal(t, "<ul>\n  <li id=first>\n    \"alpha\"\n", out)
}
