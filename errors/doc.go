// Package errors classifies and wraps errors for the semwire runtime.
//
// Errors fall into three classes: Transient (retry may succeed), Invalid
// (bad input such as a malformed target filter) and Fatal (configuration
// or lifecycle errors that cannot recover). Classification understands
// ClassifiedError values produced by the Wrap helpers as well as the
// sentinel errors declared here.
//
// All wrapping follows one format:
//
//	component.method: action failed: cause
//
// For example:
//
//	if err != nil {
//	    return errors.WrapInvalid(err, "Local", "Subscribe", "compile target filter")
//	}
//
// Inside the component core most errors never cross the activation
// boundary. The dependency manager and controller log them and convert
// them into a boolean or a component state; errors.Is against the
// sentinels (ErrBindInvocation, ErrInstantiation, ErrFilterSyntax, ...)
// is how tests and callers recognise them in logs and return values.
//
// Is, As and New forward to the standard library so callers importing
// this package under its own name need no second import.
package errors
