package execution

import (
	"context"
	"fmt"

	"github.com/avolkov/gqlscope/internal/graphql/fieldtrace"
)

// OperationHooks is the plugin-object hook shape: the host engine asks for
// one hooks object per operation and invokes its callbacks over that
// operation's lifetime. Callbacks the engine does not support may stay nil;
// the corresponding measurements are simply absent.
type OperationHooks struct {
	ParseStart    func()
	ParseEnd      func()
	ValidateStart func()
	ValidateEnd   func()
	ExecuteStart  func()

	// ResolveBegin returns an opaque token handed back to ResolveEnd.
	ResolveBegin func(path, parentType, fieldName, returnType string) any
	ResolveEnd   func(token any)

	// ResponseSend finalizes the operation with its response body.
	ResponseSend func(response any)

	// Error finalizes the operation with a terminal error.
	Error func(err error)
}

// HookSet is the flat hook shape: named functions registered once with the
// engine, each invoked with the explicit per-operation context.
type HookSet struct {
	OperationStart func(ctx context.Context, query string) *OperationContext
	ParseStart     func(oc *OperationContext)
	ParseEnd       func(oc *OperationContext)
	ValidateStart  func(oc *OperationContext)
	ValidateEnd    func(oc *OperationContext)
	ExecuteStart   func(oc *OperationContext)
	ResolveBegin   func(oc *OperationContext, path, parentType, fieldName, returnType, parentID string) any
	ResolveEnd     func(oc *OperationContext, token any)
	ResponseSend   func(oc *OperationContext, response any)
	OperationError func(oc *OperationContext, err error)
}

// PluginHost is an engine that consumes the plugin-object hook shape.
type PluginHost interface {
	UseOperationPlugin(factory func(ctx context.Context, query string) *OperationHooks)
}

// FlatHookHost is an engine that consumes the flat hook shape.
type FlatHookHost interface {
	RegisterHooks(hooks HookSet)
}

// Attach wires the coordinator to a host engine, detecting which hook shape
// the engine supports. The instrumentation logic is identical under both
// shapes; only the adapter differs.
func (c *Coordinator) Attach(engine any) error {
	switch host := engine.(type) {
	case PluginHost:
		host.UseOperationPlugin(c.operationPlugin)
		return nil
	case FlatHookHost:
		host.RegisterHooks(c.Hooks())
		return nil
	default:
		return fmt.Errorf("engine %T exposes neither hook shape", engine)
	}
}

// operationPlugin builds one plugin-object hook set whose closures capture
// the operation's context.
func (c *Coordinator) operationPlugin(ctx context.Context, query string) *OperationHooks {
	oc := c.BeginOperation(ctx, query)
	return &OperationHooks{
		ParseStart:    func() { oc.PhaseStart(PhaseParse) },
		ParseEnd:      func() { oc.PhaseEnd(PhaseParse) },
		ValidateStart: func() { oc.PhaseStart(PhaseValidate) },
		ValidateEnd:   func() { oc.PhaseEnd(PhaseValidate) },
		ExecuteStart:  func() { oc.PhaseStart(PhaseExecute) },
		ResolveBegin: func(path, parentType, fieldName, returnType string) any {
			return c.ResolveBegin(oc, path, parentType, fieldName, returnType, "")
		},
		ResolveEnd: func(token any) {
			c.ResolveEnd(oc, spanToken(token))
		},
		ResponseSend: func(response any) {
			oc.PhaseEnd(PhaseExecute)
			c.FinishOperation(oc, response, nil)
		},
		Error: func(err error) {
			c.FinishOperation(oc, nil, err)
		},
	}
}

// Hooks returns the flat hook set backed by this coordinator.
func (c *Coordinator) Hooks() HookSet {
	return HookSet{
		OperationStart: c.BeginOperation,
		ParseStart:     func(oc *OperationContext) { oc.PhaseStart(PhaseParse) },
		ParseEnd:       func(oc *OperationContext) { oc.PhaseEnd(PhaseParse) },
		ValidateStart:  func(oc *OperationContext) { oc.PhaseStart(PhaseValidate) },
		ValidateEnd:    func(oc *OperationContext) { oc.PhaseEnd(PhaseValidate) },
		ExecuteStart:   func(oc *OperationContext) { oc.PhaseStart(PhaseExecute) },
		ResolveBegin: func(oc *OperationContext, path, parentType, fieldName, returnType, parentID string) any {
			return c.ResolveBegin(oc, path, parentType, fieldName, returnType, parentID)
		},
		ResolveEnd: func(oc *OperationContext, token any) {
			c.ResolveEnd(oc, spanToken(token))
		},
		ResponseSend: func(oc *OperationContext, response any) {
			oc.PhaseEnd(PhaseExecute)
			c.FinishOperation(oc, response, nil)
		},
		OperationError: func(oc *OperationContext, err error) {
			c.FinishOperation(oc, nil, err)
		},
	}
}

// spanToken unwraps the opaque resolve token. A nil or foreign token maps
// to nil, which EndField treats as a no-op.
func spanToken(token any) *fieldtrace.Span {
	span, _ := token.(*fieldtrace.Span)
	return span
}
