package store

import "github.com/rcowham/gorevlog/errs"

// Event names one of the fixed points the core fires hooks at.
type Event string

const (
	EventPreTxnChangegroup Event = "pretxnchangegroup"
	EventPreTxnCommit Event = "pretxncommit"
	EventChangegroup Event = "changegroup"
	EventCommit Event = "commit"
	EventUpdate Event = "update"
)

// HookArgs carries the minimal context a hook needs: which event fired
// and the node(s) involved, as hex strings (hooks are an external,
// language-agnostic surface, so they see the stable wire representation
// rather than internal types).
type HookArgs struct {
	Event Event
	Nodes []string
}

// Hook is the narrow capability every extension implements to intercept
// a core operation. Returning a non-nil error before the transaction
// commits aborts it.
type Hook interface {
	Run(HookArgs) error
}

// HookFunc adapts a plain function to the Hook interface.
type HookFunc func(HookArgs) error

func (f HookFunc) Run(a HookArgs) error { return f(a) }

// HookChain is the core's side of the interceptor chain: a declared,
// ordered list of hooks per event, invoked head-first. The core itself
// never knows what a hook does (ACL policy, notification, CI triggers);
// it only knows whether the chain returned an error. It does not impose
// an access-control policy of its own; that is left to the hooks.
type HookChain struct {
	byEvent map[Event][]Hook
}

// NewHookChain returns an empty chain.
func NewHookChain() *HookChain {
	return &HookChain{byEvent: make(map[Event][]Hook)}
}

// Register appends hook to the end of event's chain.
func (c *HookChain) Register(event Event, hook Hook) {
	c.byEvent[event] = append(c.byEvent[event], hook)
}

// Fire runs every hook registered for args.Event in registration order,
// stopping at (and returning) the first error: a hook that fails aborts
// the transaction.
func (c *HookChain) Fire(args HookArgs) error {
	for _, h := range c.byEvent[args.Event] {
		if err := h.Run(args); err != nil {
			return errs.Wrap(errs.Semantic, "store.HookChain.Fire", "hook rejected "+string(args.Event), err)
		}
	}
	return nil
}
