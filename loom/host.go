package loom

// Instance is an opaque handle to an externally visible node. The engine
// never inspects one; it only threads them back into the adapter that
// created them. An alias so adapters may declare their methods on plain
// any.
type Instance = any

// HostAdapter connects a Root to the system that owns the visible output.
// One adapter instance backs one root and doubles as its container: the
// *Container methods place children at the top level.
//
// Every method runs on the engine goroutine, inside the mutation or
// layout stage of a commit, except CreateInstance, CreateTextInstance and
// PrepareUpdate, which run during the completion phase of a render pass.
// Created instances must stay invisible until attached by a mutation
// call. A returned error aborts the commit and is routed to the root's
// uncaught-error callback.
type HostAdapter interface {
	// CreateInstance makes a detached instance for a host unit.
	CreateInstance(tag string, props any) (Instance, error)

	// CreateTextInstance makes a detached text leaf.
	CreateTextInstance(text string) (Instance, error)

	// PrepareUpdate diffs two prop sets for an existing instance and
	// returns an opaque payload describing the change, or nil when the
	// instance needs no work. Runs during render completion; it must
	// not touch the instance.
	PrepareUpdate(instance Instance, tag string, oldProps, newProps any) (any, error)

	// CommitUpdate applies a payload produced by PrepareUpdate.
	CommitUpdate(instance Instance, tag string, payload any) error

	// CommitTextUpdate swaps the text of a text leaf.
	CommitTextUpdate(instance Instance, oldText, newText string) error

	// ResetTextContent clears direct text of an instance that switches
	// from adapter-managed text back to child instances.
	ResetTextContent(instance Instance, tag string) error

	// ShouldSetTextContent reports whether the adapter renders the
	// given host's text itself, in which case the engine creates no
	// text children for it.
	ShouldSetTextContent(tag string, props any) bool

	AppendChild(parent, child Instance) error
	InsertBefore(parent, child, before Instance) error
	RemoveChild(parent, child Instance) error

	AppendToContainer(child Instance) error
	InsertInContainerBefore(child, before Instance) error
	RemoveFromContainer(child Instance) error
}
