package component

import (
	"fmt"
	"reflect"

	"github.com/c360/semwire/errors"
	"github.com/c360/semwire/metric"
	"github.com/c360/semwire/pkg/cache"
	"github.com/c360/semwire/registry"
)

// BindingInvoker calls a named bind or unbind method on a component
// instance. Failures are returned as errors wrapping ErrBindInvocation or
// ErrMissingBindingMethod; user panics never escape.
type BindingInvoker interface {
	Invoke(instance any, method string, h registry.Handle, service any) error
}

// BindFunc is an explicit bind or unbind callback.
type BindFunc func(instance any, h registry.Handle, service any) error

// FuncInvoker resolves methods from a table of explicit callbacks.
type FuncInvoker map[string]BindFunc

// Invoke calls the callback registered under method.
func (f FuncInvoker) Invoke(instance any, method string, h registry.Handle, service any) (err error) {
	fn, ok := f[method]
	if !ok || fn == nil {
		return errors.WrapInvalid(fmt.Errorf("%w: %s", errors.ErrMissingBindingMethod, method),
			"FuncInvoker", "Invoke", "lookup callback")
	}
	defer recoverInvocation(method, &err)
	if err := fn(instance, h, service); err != nil {
		return fmt.Errorf("%w: %s: %v", errors.ErrBindInvocation, method, err)
	}
	return nil
}

func recoverInvocation(method string, err *error) {
	if r := recover(); r != nil {
		*err = fmt.Errorf("%w: %s panicked: %v", errors.ErrBindInvocation, method, r)
	}
}

type paramShape int

const (
	shapeHandle paramShape = iota + 1
	shapeExact
	shapeAssignable
	shapeWithProperties
)

// methodPlan is the cached resolution for one (type, method, service type).
type methodPlan struct {
	index int
	shape paramShape
}

var (
	handleType     = reflect.TypeOf(registry.Handle{})
	propertiesType = reflect.TypeOf(registry.Properties{})
	errorType      = reflect.TypeOf((*error)(nil)).Elem()
)

// MethodInvoker resolves bind methods by name through reflection. Accepted
// parameter shapes, in priority order:
//
//	func(registry.Handle)
//	func(T)                       T is the service's dynamic type
//	func(I)                       the service is assignable to I
//	func(I, registry.Properties)
//
// A method may return nothing or an error. Resolutions are cached.
type MethodInvoker struct {
	plans cache.Cache[methodPlan]
}

// NewMethodInvoker creates an invoker whose resolution cache is exported to
// metrics when a registry is given.
func NewMethodInvoker(metrics *metric.MetricsRegistry) (*MethodInvoker, error) {
	plans, err := cache.NewLRU[methodPlan](512, cache.WithMetrics[methodPlan](metrics, "bind_methods"))
	if err != nil {
		return nil, errors.Wrap(err, "MethodInvoker", "NewMethodInvoker", "create plan cache")
	}
	return &MethodInvoker{plans: plans}, nil
}

// Invoke resolves and calls method on instance.
func (m *MethodInvoker) Invoke(instance any, method string, h registry.Handle, service any) (err error) {
	if instance == nil {
		return errors.WrapInvalid(fmt.Errorf("%w: %s on nil instance", errors.ErrMissingBindingMethod, method),
			"MethodInvoker", "Invoke", "check instance")
	}
	recv := reflect.ValueOf(instance)
	svcType := reflect.TypeOf(service)

	plan, err := m.resolve(recv.Type(), method, svcType)
	if err != nil {
		return err
	}

	var args []reflect.Value
	switch plan.shape {
	case shapeHandle:
		args = []reflect.Value{reflect.ValueOf(h)}
	case shapeExact, shapeAssignable:
		args = []reflect.Value{reflect.ValueOf(service)}
	case shapeWithProperties:
		args = []reflect.Value{reflect.ValueOf(service), reflect.ValueOf(h.Properties)}
	}

	defer recoverInvocation(method, &err)
	out := recv.Method(plan.index).Call(args)
	if len(out) == 1 && !out[0].IsNil() {
		return fmt.Errorf("%w: %s: %v", errors.ErrBindInvocation, method, out[0].Interface())
	}
	return nil
}

func (m *MethodInvoker) resolve(recvType reflect.Type, method string, svcType reflect.Type) (methodPlan, error) {
	key := fmt.Sprintf("%s|%s|%s", recvType, method, svcType)
	if plan, ok := m.plans.Get(key); ok {
		if plan.shape == 0 {
			return plan, missingMethod(recvType, method, svcType)
		}
		return plan, nil
	}

	plan := methodPlan{index: -1}
	if mm, ok := recvType.MethodByName(method); ok && returnsNothingOrError(mm.Type) {
		// mm.Type includes the receiver as its first input
		if shape := matchShape(mm.Type, svcType); shape != 0 {
			plan = methodPlan{index: mm.Index, shape: shape}
		}
	}
	_, _ = m.plans.Set(key, plan)

	if plan.shape == 0 {
		return plan, missingMethod(recvType, method, svcType)
	}
	return plan, nil
}

func missingMethod(recvType reflect.Type, method string, svcType reflect.Type) error {
	return errors.WrapInvalid(
		fmt.Errorf("%w: %s.%s accepting %v", errors.ErrMissingBindingMethod, recvType, method, svcType),
		"MethodInvoker", "Invoke", "resolve method")
}

func returnsNothingOrError(t reflect.Type) bool {
	switch t.NumOut() {
	case 0:
		return true
	case 1:
		return t.Out(0) == errorType
	default:
		return false
	}
}

func matchShape(t reflect.Type, svcType reflect.Type) paramShape {
	switch t.NumIn() {
	case 2:
		p := t.In(1)
		switch {
		case p == handleType:
			return shapeHandle
		case svcType != nil && p == svcType:
			return shapeExact
		case svcType != nil && svcType.AssignableTo(p):
			return shapeAssignable
		}
	case 3:
		if svcType != nil && svcType.AssignableTo(t.In(1)) && t.In(2) == propertiesType {
			return shapeWithProperties
		}
	}
	return 0
}
