package dwc

import (
	"context"
	"errors"
	"fmt"
	"math"
	"reflect"
)

// Gateway outcomes recorded in dwc_gateway_calls_total.
const (
	outcomeOK            = "ok"
	outcomeUnauthorized  = "unauthorized"
	outcomeMissingTarget = "missing_target"
	outcomeMissingMember = "missing_member"
	outcomeFailed        = "failed"
)

// SetProperty sets an exposed property of the component registered as id on
// behalf of source.
//
// source must be a mounted, registered component or DevTools; anything else
// returns ErrUnauthorizedAccess and leaves the target untouched. A target
// that is not registered, or does not expose key, is logged at debug level
// and ignored: components come and go independently, so a missing target is
// expected rather than a bug.
func (r *Registry) SetProperty(ctx context.Context, source Caller, id, key string, value any) error {
	const op = "set_property"

	sourceID, err := r.authorize(source)
	if err != nil {
		r.metrics.gatewayCalls.WithLabelValues(op, outcomeUnauthorized).Inc()
		return fmt.Errorf("set %s on %s: %w", key, id, err)
	}

	target, ok := r.Lookup(id)
	if !ok {
		r.metrics.gatewayCalls.WithLabelValues(op, outcomeMissingTarget).Inc()
		r.logger.DebugContext(ctx, "set property: target not registered", "target", id, "property", key)
		return nil
	}
	if !target.exposesProperty(key) {
		r.metrics.gatewayCalls.WithLabelValues(op, outcomeMissingMember).Inc()
		r.logger.DebugContext(ctx, "set property: property not exposed", "target", id, "component", target.Name(), "property", key)
		return nil
	}

	target.Component().Set(key, value)
	r.metrics.gatewayCalls.WithLabelValues(op, outcomeOK).Inc()

	if r.tracing() {
		r.emitTrace(newPropertyTrace(sourceID, id, key, value))
	}
	return nil
}

// SetPropertyByComponentName is SetProperty on the earliest registered
// component whose class is named name.
func (r *Registry) SetPropertyByComponentName(ctx context.Context, source Caller, name, key string, value any) error {
	target, ok := r.FindByName(name)
	if !ok {
		if _, err := r.authorize(source); err != nil {
			r.metrics.gatewayCalls.WithLabelValues("set_property", outcomeUnauthorized).Inc()
			return fmt.Errorf("set %s on %s: %w", key, name, err)
		}
		r.metrics.gatewayCalls.WithLabelValues("set_property", outcomeMissingTarget).Inc()
		r.logger.DebugContext(ctx, "set property: no component with name", "name", name, "property", key)
		return nil
	}
	return r.SetProperty(ctx, source, target.Identifier, key, value)
}

// InvokeMethod calls an exposed method of the component registered as id on
// behalf of source and returns its result.
//
// Authorization and missing targets behave as in SetProperty. Arguments are
// converted to the method's parameter types; nil becomes the zero value. A
// method whose first parameter is a context.Context receives ctx there. The
// method may return nothing, a value, an error, or a value and an error; an
// error it returns is returned as is.
//
//	n, err := reg.InvokeMethod(ctx, caller, brokerID, "AddItem", "milk")
func (r *Registry) InvokeMethod(ctx context.Context, source Caller, id, method string, args ...any) (any, error) {
	const op = "invoke_method"

	sourceID, err := r.authorize(source)
	if err != nil {
		r.metrics.gatewayCalls.WithLabelValues(op, outcomeUnauthorized).Inc()
		return nil, fmt.Errorf("invoke %s on %s: %w", method, id, err)
	}

	target, ok := r.Lookup(id)
	if !ok {
		r.metrics.gatewayCalls.WithLabelValues(op, outcomeMissingTarget).Inc()
		r.logger.DebugContext(ctx, "invoke method: target not registered", "target", id, "method", method)
		return nil, nil
	}
	if !target.exposesMethod(method) {
		r.metrics.gatewayCalls.WithLabelValues(op, outcomeMissingMember).Inc()
		r.logger.DebugContext(ctx, "invoke method: method not exposed", "target", id, "component", target.Name(), "method", method)
		return nil, nil
	}

	fn := reflect.ValueOf(target.Instance).MethodByName(method)
	if !fn.IsValid() {
		r.metrics.gatewayCalls.WithLabelValues(op, outcomeMissingMember).Inc()
		r.logger.DebugContext(ctx, "invoke method: method not found", "target", id, "method", method)
		return nil, nil
	}

	result, err := call(ctx, fn, args)
	if err != nil {
		r.metrics.gatewayCalls.WithLabelValues(op, outcomeFailed).Inc()
		if errors.Is(err, ErrInvalidArguments) {
			return nil, fmt.Errorf("invoke %s on %s: %w", method, id, err)
		}
		return nil, err
	}
	r.metrics.gatewayCalls.WithLabelValues(op, outcomeOK).Inc()

	if r.tracing() {
		r.emitTrace(newMethodTrace(sourceID, id, method, args, result))
	}
	return result, nil
}

// InvokeMethodByComponentName is InvokeMethod on the earliest registered
// component whose class is named name.
func (r *Registry) InvokeMethodByComponentName(ctx context.Context, source Caller, name, method string, args ...any) (any, error) {
	target, ok := r.FindByName(name)
	if !ok {
		if _, err := r.authorize(source); err != nil {
			r.metrics.gatewayCalls.WithLabelValues("invoke_method", outcomeUnauthorized).Inc()
			return nil, fmt.Errorf("invoke %s on %s: %w", method, name, err)
		}
		r.metrics.gatewayCalls.WithLabelValues("invoke_method", outcomeMissingTarget).Inc()
		r.logger.DebugContext(ctx, "invoke method: no component with name", "name", name, "method", method)
		return nil, nil
	}
	return r.InvokeMethod(ctx, source, target.Identifier, method, args...)
}

// authorize returns the trace source ID of a caller allowed through the
// gateway.
func (r *Registry) authorize(source Caller) (string, error) {
	if source == nil {
		return "", ErrUnauthorizedAccess
	}
	if source == DevTools {
		return DevToolsSourceID, nil
	}

	c := baseOf(source)
	if c == nil {
		return "", ErrUnauthorizedAccess
	}
	id := c.ID()
	if id == "" {
		return "", ErrUnauthorizedAccess
	}
	d, ok := r.Lookup(id)
	if !ok || d.Component() != c {
		return "", ErrUnauthorizedAccess
	}
	return id, nil
}

// tracing reports whether anyone listens to the trace log. Entries are not
// built otherwise.
func (r *Registry) tracing() bool {
	return r.bus.SubscriberCount(TopicTraceLog) > 0
}

func (r *Registry) emitTrace(entry TraceLogEntry) {
	r.metrics.traceEntries.Inc()
	r.bus.Emit(TopicTraceLog, entry)
}

// call invokes fn with args converted to its parameter types.
func call(ctx context.Context, fn reflect.Value, args []any) (any, error) {
	ft := fn.Type()

	var in []reflect.Value
	first := 0
	if ft.NumIn() > 0 && ft.In(0) == contextType {
		in = append(in, reflect.ValueOf(&ctx).Elem())
		first = 1
	}

	fixed := ft.NumIn() - first
	if ft.IsVariadic() {
		fixed--
		if len(args) < fixed {
			return nil, fmt.Errorf("%w: want at least %d, got %d", ErrInvalidArguments, fixed, len(args))
		}
	} else if len(args) != fixed {
		return nil, fmt.Errorf("%w: want %d, got %d", ErrInvalidArguments, fixed, len(args))
	}

	for i, arg := range args {
		var pt reflect.Type
		if i < fixed {
			pt = ft.In(first + i)
		} else {
			pt = ft.In(ft.NumIn() - 1).Elem()
		}
		v, err := convertArg(arg, pt)
		if err != nil {
			return nil, fmt.Errorf("argument %d: %w", i, err)
		}
		in = append(in, v)
	}

	out := fn.Call(in)
	switch len(out) {
	case 0:
		return nil, nil
	case 1:
		if ft.Out(0) == errorType {
			return nil, asError(out[0])
		}
		return out[0].Interface(), nil
	default:
		return out[0].Interface(), asError(out[len(out)-1])
	}
}

func convertArg(arg any, t reflect.Type) (reflect.Value, error) {
	if arg == nil {
		return reflect.Zero(t), nil
	}
	v := reflect.ValueOf(arg)
	if v.Type().AssignableTo(t) {
		return v, nil
	}
	// Integer to string conversion yields a rune, never what a caller meant.
	if t.Kind() == reflect.String && v.Kind() != reflect.String {
		return reflect.Value{}, fmt.Errorf("%w: cannot use %T as %s", ErrInvalidArguments, arg, t)
	}
	// Slice to array conversion panics on short slices.
	if v.Kind() == reflect.Slice && t.Kind() == reflect.Array {
		return reflect.Value{}, fmt.Errorf("%w: cannot use %T as %s", ErrInvalidArguments, arg, t)
	}
	if !v.Type().ConvertibleTo(t) {
		return reflect.Value{}, fmt.Errorf("%w: cannot use %T as %s", ErrInvalidArguments, arg, t)
	}
	if !fitsNumber(v, t) {
		return reflect.Value{}, fmt.Errorf("%w: %v does not fit %s", ErrInvalidArguments, arg, t)
	}
	return v.Convert(t), nil
}

// fitsNumber reports whether the numeric value v converts to t without
// truncation or overflow. Non-numeric conversions always fit. JSON decoded
// arguments arrive as float64, so whole floats are accepted for integers.
func fitsNumber(v reflect.Value, t reflect.Type) bool {
	zero := reflect.Zero(t)
	switch {
	case isFloat(v.Kind()):
		f := v.Float()
		switch {
		case isInt(t.Kind()):
			return f == math.Trunc(f) && f >= math.MinInt64 && f < math.MaxInt64 && !zero.OverflowInt(int64(f))
		case isUint(t.Kind()):
			return f == math.Trunc(f) && f >= 0 && f < math.MaxUint64 && !zero.OverflowUint(uint64(f))
		case isFloat(t.Kind()):
			return math.IsInf(f, 0) || math.IsNaN(f) || !zero.OverflowFloat(f)
		}
	case isInt(v.Kind()):
		n := v.Int()
		switch {
		case isInt(t.Kind()):
			return !zero.OverflowInt(n)
		case isUint(t.Kind()):
			return n >= 0 && !zero.OverflowUint(uint64(n))
		}
	case isUint(v.Kind()):
		n := v.Uint()
		switch {
		case isInt(t.Kind()):
			return n <= math.MaxInt64 && !zero.OverflowInt(int64(n))
		case isUint(t.Kind()):
			return !zero.OverflowUint(n)
		}
	}
	return true
}

func isInt(k reflect.Kind) bool {
	return k >= reflect.Int && k <= reflect.Int64
}

func isUint(k reflect.Kind) bool {
	return k >= reflect.Uint && k <= reflect.Uintptr
}

func isFloat(k reflect.Kind) bool {
	return k == reflect.Float32 || k == reflect.Float64
}

func asError(v reflect.Value) error {
	if !v.IsValid() || v.Type() != errorType && !v.Type().Implements(errorType) {
		return nil
	}
	if v.Kind() == reflect.Interface && v.IsNil() {
		return nil
	}
	err, _ := v.Interface().(error)
	return err
}
