package workflow

import "encoding/json"

// Body is the business process a workflow instance runs. A Body is free to
// hold arbitrary local state across suspensions within a single call to Run,
// but that state is never preserved across process restarts: only the
// sequence of values resumed through Context is, via history replay. Run
// must therefore be a deterministic function of the arguments it was built
// with and the values it is resumed with.
type Body interface {
	Run(ctx Context) (any, error)
}

// Factory builds a Body from its JSON-encoded constructor arguments. Classes
// are registered against a Factory in a registry.Registry; see that package.
type Factory func(args json.RawMessage) (Body, error)
