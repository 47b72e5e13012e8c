// Package errors provides structured error types for the rootstack module.
//
// Errors are categorized by Phase (where the error occurred) and Kind (error category).
// The Error type carries a location path, a detail message, the offending value and
// a cause chain.
//
// Use the Builder for structured error construction:
//
//	err := errors.New(errors.PhaseCall, errors.KindException).
//		Path("Main", "divide").
//		Value(exc).
//		Detail("DivideError").
//		Build()
//
// Or use convenience constructors for common patterns:
//
//	err := errors.FrameOverflow(n, capacity)
//	err := errors.ChannelClosed(errors.PhaseDispatch, "task queue")
//
// Kind sentinels such as ErrFrameOverflow match errors of that kind in any phase:
//
//	if errors.Is(err, rserrors.ErrFrameOverflow) { ... }
package errors
