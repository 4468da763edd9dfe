package unit

import (
	"context"
	"fmt"
	"sync"

	"github.com/hupe1980/prismmesh/pulse"
)

// CallbackType defines the lifecycle points of a unit instance where
// callbacks can be executed.
//
// Available callback types:
//   - BeforePulse/AfterPulse: around the dispatch of one pulse
//   - OnTrap: when the Core itself terminates a request with an error
//   - OnRefract: after a refraction connects (or fails to)
//   - OnExtinguish: when the instance starts shutting down
//
// Callbacks are executed synchronously on the dispatch goroutine.
type CallbackType string

const (
	// CallbackBeforePulse is triggered before a pulse reaches the handler.
	// An error rejects a wavefront with a trap carrying that error.
	CallbackBeforePulse CallbackType = "before_pulse"

	// CallbackAfterPulse is triggered after the handler returned.
	CallbackAfterPulse CallbackType = "after_pulse"

	// CallbackOnTrap is triggered when the Core sends a failure trap on behalf
	// of the handler (unknown frequency, validation, handler error or panic).
	CallbackOnTrap CallbackType = "on_trap"

	// CallbackOnRefract is triggered after a refraction call was started.
	CallbackOnRefract CallbackType = "on_refract"

	// CallbackOnExtinguish is triggered when the instance begins shutdown.
	CallbackOnExtinguish CallbackType = "on_extinguish"
)

// CallbackContext describes the event a callback is run for.
type CallbackContext struct {
	// UnitID identifies the unit instance's unit.
	UnitID string
	// RequestID is the id of the pulse or refraction call, when there is one.
	RequestID string
	// Pulse is the dispatched pulse. Nil for refraction and shutdown callbacks.
	Pulse pulse.Pulse
	// Refraction names the refraction for CallbackOnRefract.
	Refraction string
	// Err is the error being reported, if any.
	Err error
	// CallbackType indicates which callback type triggered this execution.
	CallbackType CallbackType
}

// Callback defines the interface for dispatch lifecycle hooks.
//
// Implementations should be fast, since they block the dispatch loop, and
// safe: a panicking callback takes the instance down with it.
type Callback interface {
	// Type returns the callback type this implementation handles.
	Type() CallbackType
	// Execute performs the callback logic.
	Execute(ctx context.Context, callbackCtx *CallbackContext) error
}

// FunctionCallback wraps a function as a callback implementation.
//
// Example:
//
//	cb := unit.NewFunctionCallback(unit.CallbackOnTrap,
//	    func(ctx context.Context, c *unit.CallbackContext) error {
//	        metrics.Failures.Inc()
//	        return nil
//	    })
type FunctionCallback struct {
	callbackType CallbackType
	fn           func(ctx context.Context, callbackCtx *CallbackContext) error
}

// NewFunctionCallback creates a new function-based callback.
func NewFunctionCallback(
	callbackType CallbackType,
	fn func(ctx context.Context, callbackCtx *CallbackContext) error,
) *FunctionCallback {
	return &FunctionCallback{callbackType: callbackType, fn: fn}
}

// Type returns the callback type this function handles.
func (c *FunctionCallback) Type() CallbackType { return c.callbackType }

// Execute calls the wrapped function.
func (c *FunctionCallback) Execute(ctx context.Context, callbackCtx *CallbackContext) error {
	return c.fn(ctx, callbackCtx)
}

// CallbackManager holds callbacks by type and runs them in registration
// order. It is safe for concurrent use; one manager is usually shared by
// every instance spawned by a multiplexer.
type CallbackManager struct {
	mu        sync.RWMutex
	callbacks map[CallbackType][]Callback
}

// NewCallbackManager creates an empty callback manager.
func NewCallbackManager() *CallbackManager {
	return &CallbackManager{callbacks: make(map[CallbackType][]Callback)}
}

// RegisterCallback adds a callback for its type.
func (cm *CallbackManager) RegisterCallback(callback Callback) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	t := callback.Type()
	cm.callbacks[t] = append(cm.callbacks[t], callback)
}

// ExecuteCallbacks runs the callbacks registered for callbackType. The first
// error stops execution and is returned. A nil manager runs nothing.
func (cm *CallbackManager) ExecuteCallbacks(
	ctx context.Context,
	callbackType CallbackType,
	callbackCtx *CallbackContext,
) error {
	if cm == nil {
		return nil
	}
	cm.mu.RLock()
	callbacks := append([]Callback(nil), cm.callbacks[callbackType]...)
	cm.mu.RUnlock()

	callbackCtx.CallbackType = callbackType
	for _, callback := range callbacks {
		if err := callback.Execute(ctx, callbackCtx); err != nil {
			return err
		}
	}
	return nil
}

// LoggingCallback forwards lifecycle events to a logging function.
type LoggingCallback struct {
	callbackType CallbackType
	logger       func(message string)
}

// NewLoggingCallback creates a new logging callback.
func NewLoggingCallback(callbackType CallbackType, logger func(message string)) *LoggingCallback {
	return &LoggingCallback{callbackType: callbackType, logger: logger}
}

// Type returns the callback type this logger handles.
func (c *LoggingCallback) Type() CallbackType { return c.callbackType }

// Execute logs the event. A nil logger function makes it a no-op.
func (c *LoggingCallback) Execute(_ context.Context, callbackCtx *CallbackContext) error {
	if c.logger == nil {
		return nil
	}
	kind := "-"
	if callbackCtx.Pulse != nil {
		kind = callbackCtx.Pulse.Kind().String()
	}
	msg := fmt.Sprintf("[%s] unit=%s request=%s pulse=%s", c.callbackType, callbackCtx.UnitID, callbackCtx.RequestID, kind)
	if callbackCtx.Refraction != "" {
		msg += " refraction=" + callbackCtx.Refraction
	}
	if callbackCtx.Err != nil {
		msg += " error=" + callbackCtx.Err.Error()
	}
	c.logger(msg)
	return nil
}
