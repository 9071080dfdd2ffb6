package a

// Work around the cross-module import: the analyzer only checks the
// textual package.Type name "workflow.Context", so aliasing a stdlib
// package as "workflow" is enough to exercise it without a real dependency
// on this repository's workflow package.
import (
	workflow "context"
	"fmt"
	"math/rand"
	"time"
)

type okBody struct{}

func (okBody) Run(ctx workflow.Context) (any, error) {
	return nil, nil
}

type mapRangeBody struct{}

func (mapRangeBody) Run(ctx workflow.Context) (any, error) {
	x := make(map[string]string)

	fmt.Println("log")

	for _, v := range x { // want "iterating over a map is not deterministic; route the result through ctx.SideEffect instead"
		if v == "a" {
			return nil, nil
		}
	}

	return nil, nil
}

type goroutineBody struct{}

func (goroutineBody) Run(ctx workflow.Context) (any, error) {
	go func() { // want "spawning a goroutine inside a workflow body escapes replay; use ctx.SideEffect for concurrent or non-deterministic work"
		fmt.Println("hello")
	}()

	return nil, nil
}

type wallClockBody struct{}

func (wallClockBody) Run(ctx workflow.Context) (any, error) {
	now := time.Now() // want "time.Now is not deterministic across replay; route it through ctx.SideEffect"
	return now, nil
}

type randomBody struct{}

func (randomBody) Run(ctx workflow.Context) (any, error) {
	n := rand.Intn(10) // want "math/rand's package-level Intn is not deterministic across replay; route it through ctx.SideEffect"
	return n, nil
}

// notAWorkflow.Run has the right name but the wrong first parameter type, and
// must not be flagged.
type notAWorkflow struct{}

func (notAWorkflow) Run(x int) (any, error) {
	for k := range map[string]string{} {
		_ = k
	}
	return nil, nil
}
