package registry

import "fmt"

type ErrInvalidWorkflow struct {
	msg string
}

func (e *ErrInvalidWorkflow) Error() string {
	return e.msg
}

type ErrWorkflowAlreadyRegistered struct {
	msg string
}

func (e *ErrWorkflowAlreadyRegistered) Error() string {
	return e.msg
}

// ErrClassNotFound is returned by Build when no factory was registered under
// the requested class name. The orchestrator treats this as an unknown
// workflow class and marks the workflow failed.
type ErrClassNotFound struct {
	Class string
}

func (e *ErrClassNotFound) Error() string {
	return fmt.Sprintf("registry: unknown workflow class %q", e.Class)
}
