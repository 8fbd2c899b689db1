// Package errors provides error wrapping and classification shared by all
// gateway components.
//
// Errors fall into three classes. Transient failures are worth retrying, for
// example a lost broker connection. Invalid failures come from bad input or a
// bad call and no retry can fix them. Fatal failures mean the component cannot
// continue. The class is assigned where the error is produced:
//
//	if err := codec.Decode(data); err != nil {
//	    return errors.WrapInvalid(err, "Publisher", "Decode", "payload decode")
//	}
//
// and read back where the error is handled, without string matching:
//
//	if errors.IsTransient(err) {
//	    // retry, or answer 503
//	}
//
// All wrapping follows the "component.method: action failed: %w" format, so
// log lines and HTTP error bodies name the failing component the same way.
// The plain Wrap adds the same context without assigning a class, which keeps
// an inner classification visible through the wrap.
//
// Sentinel values such as ErrNotStarted or ErrBrokerUnavailable identify a
// condition, not a class. The returning site wraps them with the class that
// fits the call, so the same sentinel can be invalid in one place and
// transient in another.
package errors
