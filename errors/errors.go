package errors

import (
	"fmt"
	"sort"
	"strings"
)

// Phase indicates where in processing the error occurred
type Phase string

const (
	PhaseDecode   Phase = "decode"   // wire bytes to Go
	PhaseEncode   Phase = "encode"   // Go to wire bytes
	PhaseManifest Phase = "manifest" // manifest parsing and validation
	PhaseMarshal  Phase = "marshal"  // argument/result translation
	PhaseCall     Phase = "call"     // foreign call
	PhaseArray    Phase = "array"    // array handle operations
	PhaseContext  Phase = "context"  // foreign context lifecycle
	PhaseLoad     Phase = "load"     // module loading
	PhaseConfig   Phase = "config"   // configuration
)

// Kind categorizes the error
type Kind string

const (
	KindFormat        Kind = "format"
	KindVersion       Kind = "version"
	KindUnknownType   Kind = "unknown_type"
	KindTypeMismatch  Kind = "type_mismatch"
	KindOutOfData     Kind = "out_of_data"
	KindArity         Kind = "arity"
	KindArgumentType  Kind = "argument_type"
	KindUseAfterFree  Kind = "use_after_free"
	KindForeignCall   Kind = "foreign_call"
	KindSchema        Kind = "schema"
	KindInvalidData   Kind = "invalid_data"
	KindInvalidInput  Kind = "invalid_input"
	KindOutOfBounds   Kind = "out_of_bounds"
	KindAllocation    Kind = "allocation"
	KindUnsupported   Kind = "unsupported"
	KindNotFound      Kind = "not_found"
	KindMissingExport Kind = "missing_export"
	KindClosed        Kind = "closed"
	KindInstantiation Kind = "instantiation"
	KindCanceled      Kind = "canceled"
)

// Kind sentinels match any *Error of the same Kind regardless of Phase.
var (
	ErrFormat       = &Error{Kind: KindFormat}
	ErrVersion      = &Error{Kind: KindVersion}
	ErrUnknownType  = &Error{Kind: KindUnknownType}
	ErrTypeMismatch = &Error{Kind: KindTypeMismatch}
	ErrOutOfData    = &Error{Kind: KindOutOfData}
	ErrArity        = &Error{Kind: KindArity}
	ErrArgumentType = &Error{Kind: KindArgumentType}
	ErrUseAfterFree = &Error{Kind: KindUseAfterFree}
	ErrForeignCall  = &Error{Kind: KindForeignCall}
	ErrSchema       = &Error{Kind: KindSchema}
)

// Error is the structured error type used throughout the module
type Error struct {
	Value   any
	Cause   error
	Phase   Phase
	Kind    Kind
	GoType  string
	FutType string
	Detail  string
	Path    []string
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

	if e.GoType != "" || e.FutType != "" {
		b.WriteString(": ")
		if e.GoType != "" && e.FutType != "" {
			b.WriteString("Go type ")
			b.WriteString(e.GoType)
			b.WriteString(", Futhark type ")
			b.WriteString(e.FutType)
		} else if e.GoType != "" {
			b.WriteString("Go type ")
			b.WriteString(e.GoType)
		} else {
			b.WriteString("Futhark type ")
			b.WriteString(e.FutType)
		}
	}

	if e.Detail != "" {
		if e.GoType != "" || e.FutType != "" {
			b.WriteString(" - ")
		} else {
			b.WriteString(": ")
		}
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

// Is reports whether target matches this error.
// A target without a Phase matches on Kind alone.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Phase == "" {
		return e.Kind == t.Kind
	}
	return e.Phase == t.Phase && e.Kind == t.Kind
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

// Path sets the field path
func (b *Builder) Path(path ...string) *Builder {
	b.err.Path = path
	return b
}

// GoType sets the Go type name
func (b *Builder) GoType(t string) *Builder {
	b.err.GoType = t
	return b
}

// FutType sets the Futhark type name
func (b *Builder) FutType(t string) *Builder {
	b.err.FutType = t
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

// Codec constructors

// BadMarker creates a format error for a missing binary marker byte
func BadMarker(got byte) *Error {
	return &Error{
		Phase:  PhaseDecode,
		Kind:   KindFormat,
		Detail: fmt.Sprintf("expected binary input marker 'b', got 0x%02x", got),
		Value:  got,
	}
}

// UnsupportedVersion creates a version error
func UnsupportedVersion(got, want byte) *Error {
	return &Error{
		Phase:  PhaseDecode,
		Kind:   KindVersion,
		Detail: fmt.Sprintf("can only read binary format version %d, got %d", want, got),
		Value:  got,
	}
}

// UnknownType creates an unknown element type error
func UnknownType(phase Phase, name string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindUnknownType,
		Detail: fmt.Sprintf("unknown type %q", name),
		Value:  name,
	}
}

// TypeMismatch creates a type mismatch error naming both sides
func TypeMismatch(phase Phase, path []string, goType, futType string) *Error {
	return &Error{
		Phase:   phase,
		Kind:    KindTypeMismatch,
		Path:    path,
		GoType:  goType,
		FutType: futType,
	}
}

// UnexpectedType creates a type mismatch error for a decoded value
func UnexpectedType(rank int, got, expected string) *Error {
	return &Error{
		Phase:   PhaseDecode,
		Kind:    KindTypeMismatch,
		FutType: expected,
		Detail:  fmt.Sprintf("read unexpected type '%dd %s', expected %s", rank, got, expected),
	}
}

// OutOfData creates an out-of-data error
func OutOfData(phase Phase, what string, need, have int) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindOutOfData,
		Detail: fmt.Sprintf("%s: need %d bytes, have %d", what, need, have),
	}
}

// Marshaling constructors

// Arity creates an argument count error
func Arity(entry string, want, got int) *Error {
	return &Error{
		Phase:  PhaseMarshal,
		Kind:   KindArity,
		Path:   []string{entry},
		Detail: fmt.Sprintf("unexpected number of input arguments: want %d, got %d", want, got),
	}
}

// ArgumentType creates an argument type error
func ArgumentType(path []string, goType, futType string) *Error {
	return &Error{
		Phase:   PhaseMarshal,
		Kind:    KindArgumentType,
		Path:    path,
		GoType:  goType,
		FutType: futType,
	}
}

// UseAfterFree creates an error for an operation on a released handle
func UseAfterFree(phase Phase, futType, op string) *Error {
	return &Error{
		Phase:   phase,
		Kind:    KindUseAfterFree,
		FutType: futType,
		Detail:  fmt.Sprintf("%s on released handle", op),
	}
}

// ForeignCall creates an error for a failure reported by the foreign side
func ForeignCall(fn string, status int32, message string, cause error) *Error {
	detail := fmt.Sprintf("%s returned %d", fn, status)
	if message != "" {
		detail += ": " + strings.TrimSpace(message)
	}
	return &Error{
		Phase:  PhaseCall,
		Kind:   KindForeignCall,
		Detail: detail,
		Value:  status,
		Cause:  cause,
	}
}

// Trap wraps an engine-level failure (trap, missing memory) during a foreign call
func Trap(fn string, cause error) *Error {
	return &Error{
		Phase:  PhaseCall,
		Kind:   KindForeignCall,
		Detail: fmt.Sprintf("call %s", fn),
		Cause:  cause,
	}
}

// Schema creates a manifest schema error
func Schema(path []string, detail string, args ...any) *Error {
	if len(args) > 0 {
		detail = fmt.Sprintf(detail, args...)
	}
	return &Error{
		Phase:  PhaseManifest,
		Kind:   KindSchema,
		Path:   path,
		Detail: detail,
	}
}

// AllocationFailed creates an allocation failure error
func AllocationFailed(phase Phase, size uint32, cause error) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindAllocation,
		Detail: fmt.Sprintf("failed to allocate %d bytes", size),
		Cause:  cause,
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

// OutOfBounds creates an out of bounds error
func OutOfBounds(phase Phase, path []string, index, length int) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindOutOfBounds,
		Path:   path,
		Detail: fmt.Sprintf("index %d out of bounds (length %d)", index, length),
		Value:  index,
	}
}

// InvalidData creates an invalid data error
func InvalidData(phase Phase, path []string, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindInvalidData,
		Path:   path,
		Detail: detail,
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

// NotFound creates a not-found error
func NotFound(phase Phase, what, name string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindNotFound,
		Detail: fmt.Sprintf("%s %q not found", what, name),
	}
}

// Closed creates an error for use of a closed context or instance
func Closed(phase Phase, what string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindClosed,
		Detail: fmt.Sprintf("%s is closed", what),
	}
}

// Instantiation creates an instantiation error
func Instantiation(cause error) *Error {
	return &Error{
		Phase:  PhaseLoad,
		Kind:   KindInstantiation,
		Detail: "instantiate module",
		Cause:  cause,
	}
}

// Load creates a module loading error
func Load(detail string, cause error) *Error {
	return &Error{
		Phase:  PhaseLoad,
		Kind:   KindInvalidData,
		Detail: detail,
		Cause:  cause,
	}
}

// Canceled wraps a context error returned while waiting for a foreign context
func Canceled(phase Phase, cause error) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindCanceled,
		Detail: "wait for context",
		Cause:  cause,
	}
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

// MissingExport is a foreign symbol the manifest requires but the module lacks
type MissingExport struct {
	Owner  string // type or entry point name, e.g. "[]u32"
	Symbol string // e.g. "futhark_new_u32_1d"
}

// MissingExportsError is returned when the module does not export the symbols
// its manifest names
type MissingExportsError struct {
	Exports []MissingExport
}

// NewMissingExportsError creates an error from a map of owner to symbols
func NewMissingExportsError(missing map[string][]string) *MissingExportsError {
	owners := make([]string, 0, len(missing))
	for owner := range missing {
		owners = append(owners, owner)
	}
	sort.Strings(owners)

	result := &MissingExportsError{}
	for _, owner := range owners {
		for _, sym := range missing[owner] {
			result.Exports = append(result.Exports, MissingExport{Owner: owner, Symbol: sym})
		}
	}
	return result
}

func (e *MissingExportsError) Error() string {
	if len(e.Exports) == 0 {
		return "[load] missing_export: no exports specified"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "module is missing %d export(s) named by the manifest:\n", len(e.Exports))

	byOwner := make(map[string][]string)
	var order []string
	for _, exp := range e.Exports {
		if _, exists := byOwner[exp.Owner]; !exists {
			order = append(order, exp.Owner)
		}
		byOwner[exp.Owner] = append(byOwner[exp.Owner], exp.Symbol)
	}

	for _, owner := range order {
		b.WriteString("\n  ")
		b.WriteString(owner)
		b.WriteString(":\n")
		for _, sym := range byOwner[owner] {
			b.WriteString("    - ")
			b.WriteString(sym)
			b.WriteByte('\n')
		}
	}

	return strings.TrimSuffix(b.String(), "\n")
}

// Is reports whether target matches this error type
func (e *MissingExportsError) Is(target error) bool {
	if _, ok := target.(*MissingExportsError); ok {
		return true
	}
	t, ok := target.(*Error)
	return ok && t.Kind == KindMissingExport
}
