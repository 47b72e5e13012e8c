package errors

import (
	"fmt"
	"strings"
)

// Phase indicates where in processing the error occurred
type Phase string

const (
	PhaseStack    Phase = "stack"    // shadow stack pages
	PhaseFrame    Phase = "frame"    // rooting in a frame
	PhaseScope    Phase = "scope"    // nested scopes and outputs
	PhaseDispatch Phase = "dispatch" // task submission and delivery
	PhaseRuntime  Phase = "runtime"  // runtime loop operations
	PhaseCall     Phase = "call"     // calls into the managed runtime
	PhaseLoad     Phase = "load"     // included files and modules
	PhaseLedger   Phase = "ledger"   // tracked data borrows
	PhaseConfig   Phase = "config"   // configuration loading
)

// Kind categorizes the error
type Kind string

const (
	KindFrameOverflow      Kind = "frame_overflow"
	KindAllocation         Kind = "allocation"
	KindOutputConsumed     Kind = "output_consumed"
	KindException          Kind = "exception"
	KindChannelClosed      Kind = "channel_closed"
	KindChannelFull        Kind = "channel_full"
	KindCancelled          Kind = "cancelled"
	KindBorrow             Kind = "borrow"
	KindNotFound           Kind = "not_found"
	KindInvalidInput       Kind = "invalid_input"
	KindInvalidRef         Kind = "invalid_ref"
	KindTypeMismatch       Kind = "type_mismatch"
	KindAlreadyInitialized Kind = "already_initialized"
	KindNotInitialized     Kind = "not_initialized"
	KindUnsupported        Kind = "unsupported"
	KindPanic              Kind = "panic"
)

// Sentinels for errors.Is. They match any phase.
var (
	ErrFrameOverflow  = &Error{Kind: KindFrameOverflow}
	ErrAllocation     = &Error{Kind: KindAllocation}
	ErrOutputConsumed = &Error{Kind: KindOutputConsumed}
	ErrException      = &Error{Kind: KindException}
	ErrChannelClosed  = &Error{Kind: KindChannelClosed}
	ErrChannelFull    = &Error{Kind: KindChannelFull}
	ErrCancelled      = &Error{Kind: KindCancelled}
	ErrBorrow         = &Error{Kind: KindBorrow}
	ErrNotFound       = &Error{Kind: KindNotFound}
	ErrInvalidRef     = &Error{Kind: KindInvalidRef}
	ErrPanic          = &Error{Kind: KindPanic}
)

// Error is the structured error type used throughout the module
type Error struct {
	Value  any
	Cause  error
	Phase  Phase
	Kind   Kind
	Detail string
	Path   []string
}

// Error implements the error interface
func (e *Error) Error() string {
	var b strings.Builder

	b.WriteByte('[')
	b.WriteString(string(e.Phase))
	b.WriteString("] ")
	b.WriteString(string(e.Kind))

	if len(e.Path) > 0 {
		b.WriteString(" at ")
		b.WriteString(strings.Join(e.Path, "."))
	}

	if e.Detail != "" {
		b.WriteString(": ")
		b.WriteString(e.Detail)
	}

	if e.Cause != nil {
		b.WriteString(" (caused by: ")
		b.WriteString(e.Cause.Error())
		b.WriteByte(')')
	}

	return b.String()
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target matches this error. An empty Phase on the
// target matches any phase.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Phase != "" && e.Phase != t.Phase {
		return false
	}
	return e.Kind == t.Kind
}

// Builder provides structured error construction
type Builder struct {
	err Error
}

// New creates a new error builder
func New(phase Phase, kind Kind) *Builder {
	return &Builder{
		err: Error{
			Phase: phase,
			Kind:  kind,
		},
	}
}

// Path sets the location path
func (b *Builder) Path(path ...string) *Builder {
	b.err.Path = path
	return b
}

// Value sets the offending value
func (b *Builder) Value(v any) *Builder {
	b.err.Value = v
	return b
}

// Cause sets the underlying error
func (b *Builder) Cause(err error) *Builder {
	b.err.Cause = err
	return b
}

// Detail sets the human-readable detail message
func (b *Builder) Detail(msg string, args ...any) *Builder {
	if len(args) > 0 {
		b.err.Detail = fmt.Sprintf(msg, args...)
	} else {
		b.err.Detail = msg
	}
	return b
}

// Build returns the constructed error
func (b *Builder) Build() *Error {
	return &b.err
}

// Convenience constructors for common error patterns

// FrameOverflow reports that a frame holding n roots cannot take another.
func FrameOverflow(n, capacity int) *Error {
	return &Error{
		Phase:  PhaseFrame,
		Kind:   KindFrameOverflow,
		Detail: fmt.Sprintf("frame holds %d of %d roots", n, capacity),
		Value:  capacity,
	}
}

// AllocationFailed creates an allocation failure error
func AllocationFailed(phase Phase, requested, limit int) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindAllocation,
		Detail: fmt.Sprintf("cannot allocate %d slots (limit %d)", requested, limit),
		Value:  requested,
	}
}

// OutputConsumed reports a second redemption of an output token.
func OutputConsumed() *Error {
	return &Error{
		Phase:  PhaseScope,
		Kind:   KindOutputConsumed,
		Detail: "output already used",
	}
}

// Exception wraps an exception raised by the managed runtime. The exception
// object is stored in Value.
func Exception(phase Phase, msg string, exc any) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindException,
		Detail: msg,
		Value:  exc,
	}
}

// ChannelClosed reports a send or receive on a closed channel.
func ChannelClosed(phase Phase, what string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindChannelClosed,
		Detail: fmt.Sprintf("%s closed", what),
	}
}

// ChannelFull reports a non-blocking send on a full channel.
func ChannelFull(phase Phase, what string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindChannelFull,
		Detail: fmt.Sprintf("%s full", what),
	}
}

// Cancelled reports work dropped by a cancel request.
func Cancelled(phase Phase, what string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindCancelled,
		Detail: fmt.Sprintf("%s cancelled", what),
	}
}

// Borrowed reports a conflicting borrow of tracked data.
func Borrowed(detail string, args ...any) *Error {
	return &Error{
		Phase:  PhaseLedger,
		Kind:   KindBorrow,
		Detail: fmt.Sprintf(detail, args...),
	}
}

// InvalidRef reports a reference to an object that does not exist or was
// collected.
func InvalidRef(phase Phase, ref any) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindInvalidRef,
		Detail: fmt.Sprintf("invalid reference %v", ref),
		Value:  ref,
	}
}

// TypeMismatch creates a type mismatch error
func TypeMismatch(phase Phase, path []string, want, got string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindTypeMismatch,
		Path:   path,
		Detail: fmt.Sprintf("expected %s, got %s", want, got),
	}
}

// Unsupported creates an unsupported operation error
func Unsupported(phase Phase, what string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindUnsupported,
		Detail: what,
	}
}

// Panicked converts a recovered panic value into an error.
func Panicked(phase Phase, recovered any) *Error {
	e := &Error{
		Phase:  phase,
		Kind:   KindPanic,
		Detail: fmt.Sprintf("panic: %v", recovered),
		Value:  recovered,
	}
	if err, ok := recovered.(error); ok {
		e.Cause = err
	}
	return e
}

// Wrap wraps an existing error with additional context
func Wrap(phase Phase, kind Kind, cause error, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   kind,
		Detail: detail,
		Cause:  cause,
	}
}

// AlreadyInitialized creates an error for a second initialization
func AlreadyInitialized(phase Phase, component string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindAlreadyInitialized,
		Detail: fmt.Sprintf("%s already initialized", component),
	}
}

// NotInitialized creates a not-initialized error
func NotInitialized(phase Phase, component string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindNotInitialized,
		Detail: fmt.Sprintf("%s not initialized", component),
	}
}

// NotFound creates a not-found error
func NotFound(phase Phase, what, name string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindNotFound,
		Detail: fmt.Sprintf("%s %q not found", what, name),
	}
}

// InvalidInput creates an invalid input error
func InvalidInput(phase Phase, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindInvalidInput,
		Detail: detail,
	}
}

// Load creates a file loading error
func Load(detail string, cause error) *Error {
	return &Error{
		Phase:  PhaseLoad,
		Kind:   KindInvalidInput,
		Detail: detail,
		Cause:  cause,
	}
}
