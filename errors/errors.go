package errors

import (
	stderrors "errors"
	"fmt"
	"strings"
)

// Phase indicates where in processing the error occurred
type Phase string

const (
	PhaseDecode      Phase = "decode"      // binary to Module
	PhaseInstantiate Phase = "instantiate" // import resolution and allocation
	PhaseRuntime     Phase = "runtime"     // execution, traps
	PhaseLoad        Phase = "load"        // file and reader access
	PhaseConfig      Phase = "config"      // runtime configuration
	PhaseHost        Phase = "host"        // importer implementations
)

// Kind categorizes the error
type Kind string

const (
	KindInvalidMagic       Kind = "invalid_magic"
	KindInvalidVersion     Kind = "invalid_version"
	KindUnknownSection     Kind = "unknown_section"
	KindTruncated          Kind = "truncated"
	KindOverflow           Kind = "overflow"
	KindInvalidData        Kind = "invalid_data"
	KindUnsupported        Kind = "unsupported"
	KindNoImports          Kind = "no_imports"
	KindMissingImport      Kind = "missing_import"
	KindNotFound           Kind = "not_found"
	KindImportTypeMismatch Kind = "import_type_mismatch"
	KindInvalidExport      Kind = "invalid_export"
	KindStackUnderflow     Kind = "stack_underflow"
	KindTypeMismatch       Kind = "type_mismatch"
	KindTrap               Kind = "trap"
	KindInstantiation      Kind = "instantiation"
	KindInvalidInput       Kind = "invalid_input"
)

// Error is the structured error type used throughout the interpreter
type Error struct {
	Value    any
	Cause    error
	Phase    Phase
	Kind     Kind
	Expected string
	Actual   string
	Detail   string
	Path     []string
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

	hasTypes := e.Expected != "" || e.Actual != ""
	if hasTypes {
		b.WriteString(": ")
		switch {
		case e.Expected != "" && e.Actual != "":
			b.WriteString("expected ")
			b.WriteString(e.Expected)
			b.WriteString(", got ")
			b.WriteString(e.Actual)
		case e.Expected != "":
			b.WriteString("expected ")
			b.WriteString(e.Expected)
		default:
			b.WriteString("got ")
			b.WriteString(e.Actual)
		}
	}

	if e.Detail != "" {
		if hasTypes {
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
// Two errors match when they share Phase and Kind, and the target's Detail
// when it has one.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if e.Phase != t.Phase || e.Kind != t.Kind {
		return false
	}
	return t.Detail == "" || t.Detail == e.Detail
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

// Path sets the location path (section, index, field)
func (b *Builder) Path(path ...string) *Builder {
	b.err.Path = path
	return b
}

// Expected sets the expected type or value description
func (b *Builder) Expected(t string) *Builder {
	b.err.Expected = t
	return b
}

// Actual sets the observed type or value description
func (b *Builder) Actual(t string) *Builder {
	b.err.Actual = t
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

// Trap codes carried in the Detail of a KindTrap error.
const (
	TrapUnreachable          = "unreachable"
	TrapIntegerDivideByZero  = "integer divide by zero"
	TrapIntegerOverflow      = "integer overflow"
	TrapInvalidConversion    = "invalid conversion to integer"
	TrapMemoryOutOfBounds    = "out of bounds memory access"
	TrapTableOutOfBounds     = "out of bounds table access"
	TrapUndefinedElement     = "undefined element"
	TrapUninitializedElement = "uninitialized element"
	TrapIndirectCallType     = "indirect call type mismatch"
	TrapCallStackExhausted   = "call stack exhausted"
	TrapImmutableGlobal      = "global is immutable"
	TrapExternalCallArity    = "external call left unexpected stack height"
)

// Sentinels for errors.Is. Phase, Kind and a non-empty Detail take part in matching.
var (
	ErrStackPop                 = &Error{Phase: PhaseRuntime, Kind: KindStackUnderflow}
	ErrUnexpectedStackValueType = &Error{Phase: PhaseRuntime, Kind: KindTypeMismatch}
	ErrNotFoundLocalVariable    = &Error{Phase: PhaseRuntime, Kind: KindNotFound, Detail: "local"}
	ErrNotFoundGlobalVariable   = &Error{Phase: PhaseRuntime, Kind: KindNotFound, Detail: "global"}
	ErrNotFoundExport           = &Error{Phase: PhaseRuntime, Kind: KindNotFound, Detail: "export"}
	ErrInvalidExport            = &Error{Phase: PhaseRuntime, Kind: KindInvalidExport}
	ErrTrap                     = &Error{Phase: PhaseRuntime, Kind: KindTrap}
	ErrUnreachable              = &Error{Phase: PhaseRuntime, Kind: KindTrap, Detail: TrapUnreachable}
	ErrIntegerDivideByZero      = &Error{Phase: PhaseRuntime, Kind: KindTrap, Detail: TrapIntegerDivideByZero}
	ErrIntegerOverflow          = &Error{Phase: PhaseRuntime, Kind: KindTrap, Detail: TrapIntegerOverflow}
	ErrInvalidConversion        = &Error{Phase: PhaseRuntime, Kind: KindTrap, Detail: TrapInvalidConversion}
	ErrMemoryOutOfBounds        = &Error{Phase: PhaseRuntime, Kind: KindTrap, Detail: TrapMemoryOutOfBounds}
	ErrTableOutOfBounds         = &Error{Phase: PhaseRuntime, Kind: KindTrap, Detail: TrapTableOutOfBounds}
	ErrCallStackExhausted       = &Error{Phase: PhaseRuntime, Kind: KindTrap, Detail: TrapCallStackExhausted}
	ErrIndirectCallType         = &Error{Phase: PhaseRuntime, Kind: KindTrap, Detail: TrapIndirectCallType}
	ErrNoImports                = &Error{Phase: PhaseInstantiate, Kind: KindNoImports}
	ErrNotFoundImportModule     = &Error{Phase: PhaseInstantiate, Kind: KindMissingImport}
	ErrNotFoundTypeSection      = &Error{Phase: PhaseInstantiate, Kind: KindNotFound, Detail: "type section"}
	ErrNotFoundFuncType         = &Error{Phase: PhaseInstantiate, Kind: KindNotFound, Detail: "func type"}
	ErrImportTypeMismatch       = &Error{Phase: PhaseInstantiate, Kind: KindImportTypeMismatch}
	ErrInstantiation            = &Error{Phase: PhaseInstantiate, Kind: KindInstantiation}
)

// Decode constructors

// InvalidData creates an invalid data error
func InvalidData(phase Phase, path []string, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindInvalidData,
		Path:   path,
		Detail: detail,
	}
}

// Truncated creates an error for input that ended before a declared length
func Truncated(path []string, cause error) *Error {
	return &Error{
		Phase:  PhaseDecode,
		Kind:   KindTruncated,
		Path:   path,
		Detail: "unexpected end of input",
		Cause:  cause,
	}
}

// Overflow creates an overflow error
func Overflow(phase Phase, path []string, value any, targetType string) *Error {
	return &Error{
		Phase:    phase,
		Kind:     KindOverflow,
		Path:     path,
		Expected: targetType,
		Detail:   fmt.Sprintf("value %v overflows %s", value, targetType),
		Value:    value,
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

// UnknownSection creates an error for a section id outside the known set
func UnknownSection(id byte) *Error {
	return &Error{
		Phase:  PhaseDecode,
		Kind:   KindUnknownSection,
		Detail: fmt.Sprintf("unknown section id 0x%02x", id),
		Value:  id,
	}
}

// Instantiation constructors

// NoImports is returned when a module declares imports but no importer set was supplied
func NoImports() *Error {
	return &Error{
		Phase:  PhaseInstantiate,
		Kind:   KindNoImports,
		Detail: "module has import section, but no imported module",
	}
}

// NotFoundImportModule is returned when no importer serves the given module name
func NotFoundImportModule(module string) *Error {
	return &Error{
		Phase:  PhaseInstantiate,
		Kind:   KindMissingImport,
		Path:   []string{module},
		Detail: fmt.Sprintf("not found import module %q", module),
	}
}

// UnresolvedImport is returned when an importer does not know a table, memory or global
func UnresolvedImport(module, field, kind string) *Error {
	return &Error{
		Phase:  PhaseInstantiate,
		Kind:   KindMissingImport,
		Path:   []string{module, field},
		Detail: fmt.Sprintf("importer cannot resolve %s", kind),
	}
}

// NotFoundTypeSection is returned when a function import or definition needs a missing type section
func NotFoundTypeSection() *Error {
	return &Error{
		Phase:  PhaseInstantiate,
		Kind:   KindNotFound,
		Detail: "type section",
	}
}

// NotFoundFuncType is returned when a type index is out of range
func NotFoundFuncType(idx uint32) *Error {
	return &Error{
		Phase:  PhaseInstantiate,
		Kind:   KindNotFound,
		Detail: "func type",
		Value:  idx,
		Path:   []string{fmt.Sprintf("type[%d]", idx)},
	}
}

// ImportTypeMismatch creates an error for an import whose resolved instance does not fit the declaration
func ImportTypeMismatch(module, field, expected, actual string) *Error {
	return &Error{
		Phase:    PhaseInstantiate,
		Kind:     KindImportTypeMismatch,
		Path:     []string{module, field},
		Expected: expected,
		Actual:   actual,
	}
}

// Instantiation wraps a failure raised while running instantiation steps
func Instantiation(cause error) *Error {
	return &Error{
		Phase:  PhaseInstantiate,
		Kind:   KindInstantiation,
		Detail: "instantiate module",
		Cause:  cause,
	}
}

// Runtime constructors

// StackPop is returned when an operand is popped from an empty stack
func StackPop() *Error {
	return &Error{
		Phase:  PhaseRuntime,
		Kind:   KindStackUnderflow,
		Detail: "pop from empty stack",
	}
}

// UnexpectedStackValueType is returned when an operand has the wrong tag
func UnexpectedStackValueType(expected, actual string) *Error {
	return &Error{
		Phase:    PhaseRuntime,
		Kind:     KindTypeMismatch,
		Expected: expected,
		Actual:   actual,
	}
}

// NotFoundLocalVariable is returned for an out of range local index
func NotFoundLocalVariable(idx uint32) *Error {
	return &Error{
		Phase:  PhaseRuntime,
		Kind:   KindNotFound,
		Detail: "local",
		Value:  idx,
		Path:   []string{fmt.Sprintf("local[%d]", idx)},
	}
}

// NotFoundGlobalVariable is returned for an out of range global index
func NotFoundGlobalVariable(idx uint32) *Error {
	return &Error{
		Phase:  PhaseRuntime,
		Kind:   KindNotFound,
		Detail: "global",
		Value:  idx,
		Path:   []string{fmt.Sprintf("global[%d]", idx)},
	}
}

// NotFoundExport is returned when an export name is absent
func NotFoundExport(name string) *Error {
	return &Error{
		Phase:  PhaseRuntime,
		Kind:   KindNotFound,
		Detail: "export",
		Value:  name,
		Path:   []string{name},
	}
}

// InvalidExport is returned when an export exists but is not of the requested kind
func InvalidExport(name, expected, actual string) *Error {
	return &Error{
		Phase:    PhaseRuntime,
		Kind:     KindInvalidExport,
		Path:     []string{name},
		Expected: expected,
		Actual:   actual,
	}
}

// NotFound creates a not-found error
func NotFound(phase Phase, what string, idx any) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindNotFound,
		Detail: fmt.Sprintf("%s %v not found", what, idx),
		Value:  idx,
	}
}

// Trap creates an execution trap. code is the trap message, e.g. "integer divide by zero".
func Trap(code string) *Error {
	return &Error{
		Phase:  PhaseRuntime,
		Kind:   KindTrap,
		Detail: code,
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

// Load creates a module loading error
func Load(detail string, cause error) *Error {
	return &Error{
		Phase:  PhaseLoad,
		Kind:   KindInvalidData,
		Detail: detail,
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

// Is reports whether any error in err's chain matches target.
func Is(err, target error) bool {
	return stderrors.Is(err, target)
}

// As finds the first error in err's chain that matches target.
func As(err error, target any) bool {
	return stderrors.As(err, target)
}
