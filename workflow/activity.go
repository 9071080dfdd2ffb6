package workflow

// Activity is a side-effecting operation the orchestrator invokes on behalf
// of a workflow body. Its result is checkpointed in history the first time it
// runs; every later replay of the same workflow returns that checkpointed
// result without invoking Handle again.
//
// Activities are black boxes to the engine: whatever they actually do (call
// an API, write a row, send an email) is opaque. The only requirements are
// that Handle returns a JSON-serializable value and that Handle is safe to
// call exactly once per successful completion.
type Activity interface {
	Handle() (any, error)
}

// ActivityFunc adapts a plain function to the Activity interface.
type ActivityFunc func() (any, error)

func (f ActivityFunc) Handle() (any, error) { return f() }
