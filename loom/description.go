// Package loom is a cooperatively scheduled tree reconciler. Callers
// describe the desired output as a tree of immutable Descriptions; the
// engine diffs each description against the previously committed tree,
// computes a minimal set of host mutations, and applies them atomically.
//
// Work is prioritised through lanes (package lane) and driven by a
// scheduler (package sched). Rendering is interruptible: a low-priority
// pass yields the goroutine between units and is discarded wholesale when
// more urgent work arrives. Committing is not: once mutations start they
// run to completion, so the externally visible tree never shows a half
// applied update.
package loom

// Kind discriminates the node types a Description (and its work unit) can
// take.
type Kind uint8

const (
	// KindHost is an externally visible instance managed through a
	// HostAdapter, identified by a tag string.
	KindHost Kind = iota
	// KindText is an externally visible text leaf.
	KindText
	// KindComposite is a user Component invocation.
	KindComposite
	// KindFragment groups children without an instance of its own.
	KindFragment
	// KindProvider supplies a Slot value to its subtree.
	KindProvider
	// KindSuspense is a boundary that shows fallback content while a
	// descendant reports a Pending dependency.
	KindSuspense
	// KindRoot is the internal anchor unit of a Root. Never appears in
	// a Description.
	KindRoot
)

func (k Kind) String() string {
	switch k {
	case KindHost:
		return "host"
	case KindText:
		return "text"
	case KindComposite:
		return "composite"
	case KindFragment:
		return "fragment"
	case KindProvider:
		return "provider"
	case KindSuspense:
		return "suspense"
	case KindRoot:
		return "root"
	default:
		return "unknown"
	}
}

// Ref receives the host instance of the unit it is attached to. Current is
// set during the layout stage of the commit that mounts the instance and
// cleared when the unit is removed or the ref replaced.
type Ref struct {
	Current any
}

// Description is one node of desired output. Descriptions are plain values
// built fresh on every render; the engine never mutates or retains them
// beyond the pass that consumed them.
type Description struct {
	// Kind selects the node type; the zero value is KindHost.
	Kind Kind
	// Type identifies the node within its kind: the tag string for
	// hosts, the *Component for composites, the *Slot for providers.
	Type any
	// Key pairs this description with its previous instance across
	// reorders. Optional; position is used when empty.
	Key string
	// Props is the kind-specific payload: host attributes, component
	// props, or the provided slot value.
	Props any
	// Text is the payload of a KindText node.
	Text string
	// Children are the nested descriptions, in output order.
	Children []Description
	// Fallback is what a KindSuspense boundary shows while suspended.
	Fallback []Description
	// Ref optionally receives the host instance.
	Ref *Ref
}

// Host describes an externally visible instance with the given tag and
// attributes.
func Host(tag string, props any, children ...Description) Description {
	return Description{Kind: KindHost, Type: tag, Props: props, Children: children}
}

// Text describes a text leaf.
func Text(s string) Description {
	return Description{Kind: KindText, Text: s}
}

// Render describes an invocation of c with the given props.
func Render(c *Component, props any) Description {
	if c == nil {
		panic("loom: Render of nil Component")
	}
	return Description{Kind: KindComposite, Type: c, Props: props}
}

// Frag groups children without introducing a host instance.
func Frag(children ...Description) Description {
	return Description{Kind: KindFragment, Children: children}
}

// Provide makes value readable through slot anywhere in the subtree,
// shadowing any outer provider of the same slot.
func Provide(slot *Slot, value any, children ...Description) Description {
	if slot == nil {
		panic("loom: Provide on nil Slot")
	}
	return Description{Kind: KindProvider, Type: slot, Props: value, Children: children}
}

// Suspense wraps children in a boundary that shows fallback while any
// descendant reports a Pending dependency.
func Suspense(fallback []Description, children ...Description) Description {
	return Description{Kind: KindSuspense, Children: children, Fallback: fallback}
}

// WithKey returns a copy of d carrying the given reconciliation key.
func (d Description) WithKey(key string) Description {
	d.Key = key
	return d
}

// WithRef returns a copy of d that reports its host instance through r.
func (d Description) WithRef(r *Ref) Description {
	d.Ref = r
	return d
}
