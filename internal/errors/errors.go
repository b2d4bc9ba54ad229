package errors

import "fmt"

// ErrorCode classifies pipeline failures by scope and retry behavior.
type ErrorCode string

const (
	ErrIOTransient        ErrorCode = "IO_TRANSIENT"              // file temporarily unreadable, retried next cycle
	ErrUnrecognizedFormat ErrorCode = "PARSE_UNRECOGNIZED_FORMAT" // no export section markers found
	ErrMissingField       ErrorCode = "PARSE_MISSING_FIELD"       // required section key absent or unusable
	ErrRowInconsistent    ErrorCode = "PARSE_ROW_INCONSISTENT"    // telemetry table unusable as a whole
	ErrTruncated          ErrorCode = "DECODE_TRUNCATED"          // datagram shorter than its layout requires
	ErrUnsupportedVersion ErrorCode = "DECODE_UNSUPPORTED_VERSION"
	ErrUnknownType        ErrorCode = "DECODE_UNKNOWN_TYPE"
	ErrPersistence        ErrorCode = "PERSISTENCE" // store unavailable, batch retried when it recovers
	ErrNotFound           ErrorCode = "NOT_FOUND"
	ErrInvalidRequest     ErrorCode = "INVALID_REQUEST"
	ErrInternal           ErrorCode = "INTERNAL"
)

// PitwallError is a structured error with a code and optional details.
type PitwallError struct {
	Code      ErrorCode
	Message   string
	Details   map[string]any
	Transient bool // true when a later retry may succeed with the same input
}

// Error implements the error interface.
func (e *PitwallError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// NewIOTransient wraps a transient filesystem failure for a source path.
func NewIOTransient(path string, err error) *PitwallError {
	return &PitwallError{
		Code:      ErrIOTransient,
		Message:   fmt.Sprintf("source file temporarily unreadable: %s: %v", path, err),
		Details:   map[string]any{"path": path},
		Transient: true,
	}
}

// NewUnrecognizedFormat rejects a file that carries no export section markers.
func NewUnrecognizedFormat(path string) *PitwallError {
	return &PitwallError{
		Code:    ErrUnrecognizedFormat,
		Message: fmt.Sprintf("not an export file (no section markers): %s", path),
		Details: map[string]any{"path": path},
	}
}

// NewMissingField names the section and key that failed validation.
func NewMissingField(section, key string) *PitwallError {
	return &PitwallError{
		Code:    ErrMissingField,
		Message: fmt.Sprintf("section [%s] missing required key %q", section, key),
		Details: map[string]any{"section": section, "key": key},
	}
}

// NewRowInconsistent fails a file whose telemetry table yielded no usable rows.
func NewRowInconsistent(rows, skipped int) *PitwallError {
	return &PitwallError{
		Code:    ErrRowInconsistent,
		Message: fmt.Sprintf("telemetry table unusable: %d of %d rows malformed", skipped, rows),
		Details: map[string]any{"rows": rows, "skipped": skipped},
	}
}

// NewTruncated drops a datagram shorter than its layout requires.
func NewTruncated(got, need int) *PitwallError {
	return &PitwallError{
		Code:    ErrTruncated,
		Message: fmt.Sprintf("datagram truncated: %d bytes, need %d", got, need),
		Details: map[string]any{"got": got, "need": need},
	}
}

// NewUnsupportedVersion drops a datagram from an unknown protocol version.
func NewUnsupportedVersion(format uint16) *PitwallError {
	return &PitwallError{
		Code:    ErrUnsupportedVersion,
		Message: fmt.Sprintf("unsupported packet format %d", format),
		Details: map[string]any{"packet_format": format},
	}
}

// NewLayoutMismatch drops a datagram whose payload contradicts the field
// layout its declared version promises. Same code as an unsupported
// version: either way the offsets cannot be trusted.
func NewLayoutMismatch(field string, value uint8) *PitwallError {
	return &PitwallError{
		Code:    ErrUnsupportedVersion,
		Message: fmt.Sprintf("payload layout mismatch: %s value %d out of range", field, value),
		Details: map[string]any{"field": field, "value": value},
	}
}

// NewUnknownType drops a datagram whose packet ID is outside the protocol range.
func NewUnknownType(packetID uint8) *PitwallError {
	return &PitwallError{
		Code:    ErrUnknownType,
		Message: fmt.Sprintf("unknown packet type %d", packetID),
		Details: map[string]any{"packet_id": packetID},
	}
}

// NewPersistence wraps a store failure. The cached copy survives, so the
// batch is retried on a later cycle.
func NewPersistence(err error) *PitwallError {
	return &PitwallError{
		Code:      ErrPersistence,
		Message:   fmt.Sprintf("lap store unavailable: %v", err),
		Transient: true,
	}
}

// NewNotFound creates an error for a missing record.
func NewNotFound(identifier string) *PitwallError {
	return &PitwallError{
		Code:    ErrNotFound,
		Message: fmt.Sprintf("record not found: %s", identifier),
		Details: map[string]any{"identifier": identifier},
	}
}

// NewInvalidRequest creates an error for invalid parameters.
func NewInvalidRequest(msg string) *PitwallError {
	return &PitwallError{
		Code:    ErrInvalidRequest,
		Message: msg,
	}
}

// NewInternal creates an error for unexpected internal failures.
func NewInternal(err error) *PitwallError {
	msg := "internal error"
	if err != nil {
		msg = err.Error()
	}
	return &PitwallError{
		Code:    ErrInternal,
		Message: msg,
	}
}

// Is checks if an error is a PitwallError with the given code.
func Is(err error, code ErrorCode) bool {
	if pErr, ok := err.(*PitwallError); ok {
		return pErr.Code == code
	}
	return false
}

// IsTransient reports whether a retry with the same input may succeed.
func IsTransient(err error) bool {
	if pErr, ok := err.(*PitwallError); ok {
		return pErr.Transient
	}
	return false
}
