package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// Provider error codes (EIP-1193 and JSON-RPC).
const (
	CodeUserRejected      = 4001
	CodeUnauthorized      = 4100
	CodeUnsupportedMethod = 4200
	CodeDisconnected      = 4900
	CodeChainDisconnected = 4901
	CodeTimeout           = 4902

	CodeLimitExceeded = -32005
	CodeInvalidParams = -32602
	CodeInternal      = -32603
)

// ReasonExpired is the data.reason of an approval that aged out.
const ReasonExpired = "expired"

// RPCError is the error object carried by a failed Response.
type RPCError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("%s (code %d)", e.Message, e.Code)
}

// Is matches any RPCError with the same code, so sentinels such as
// ErrDisconnected work with errors.Is.
func (e *RPCError) Is(target error) bool {
	t, ok := target.(*RPCError)
	if !ok {
		return false
	}
	if e.Code != t.Code {
		return false
	}
	// Expired is a refinement of user rejection.
	if t.Reason() != "" {
		return e.Reason() == t.Reason()
	}
	return true
}

// Reason returns data.reason when present.
func (e *RPCError) Reason() string {
	if len(e.Data) == 0 {
		return ""
	}
	var d struct {
		Reason string `json:"reason"`
	}
	if err := json.Unmarshal(e.Data, &d); err != nil {
		return ""
	}
	return d.Reason
}

// Clone returns a deep copy.
func (e *RPCError) Clone() *RPCError {
	if e == nil {
		return nil
	}
	c := *e
	c.Data = bytes.Clone(e.Data)
	return &c
}

// NewError builds an RPCError with optional data.
func NewError(code int, message string, data any) *RPCError {
	e := &RPCError{Code: code, Message: message}
	if data != nil {
		if raw, err := json.Marshal(data); err == nil {
			e.Data = raw
		}
	}
	return e
}

// Sentinels for errors.Is checks.
var (
	ErrUserRejected      = &RPCError{Code: CodeUserRejected, Message: "The user rejected the request."}
	ErrUnauthorized      = &RPCError{Code: CodeUnauthorized, Message: "The requested method and/or account has not been authorized by the user."}
	ErrUnsupportedMethod = &RPCError{Code: CodeUnsupportedMethod, Message: "The Provider does not support the requested method."}
	ErrDisconnected      = &RPCError{Code: CodeDisconnected, Message: "The Provider is disconnected from all chains."}
	ErrChainDisconnected = &RPCError{Code: CodeChainDisconnected, Message: "The Provider is not connected to the requested chain."}
	ErrTimeout           = &RPCError{Code: CodeTimeout, Message: "Request timeout"}
	ErrExpired           = &RPCError{Code: CodeUserRejected, Message: "The request expired before the user responded.", Data: json.RawMessage(`{"reason":"expired"}`)}
	ErrLimitExceeded     = &RPCError{Code: CodeLimitExceeded, Message: "Request limit exceeded."}
	ErrInvalidParamsRPC  = &RPCError{Code: CodeInvalidParams, Message: "Invalid method parameter(s)."}
	ErrInternal          = &RPCError{Code: CodeInternal, Message: "Internal JSON-RPC error."}
)

// UserRejected builds the rejection returned when the user declines a prompt.
func UserRejected() *RPCError { return ErrUserRejected.Clone() }

// Unauthorized builds an authorization failure with an optional detail.
func Unauthorized(detail string) *RPCError {
	e := ErrUnauthorized.Clone()
	if detail != "" {
		e.Message = detail
	}
	return e
}

// UnsupportedMethod builds the error for a method outside both classification tables.
func UnsupportedMethod(method string) *RPCError {
	return NewError(CodeUnsupportedMethod, fmt.Sprintf("The method %q is not supported.", method), map[string]string{"method": method})
}

// Disconnected builds the error used when the channel is gone.
func Disconnected(reason string) *RPCError {
	e := ErrDisconnected.Clone()
	if reason != "" {
		e.Message = reason
	}
	return e
}

// ChainDisconnected builds the error used when the chain data provider is unreachable.
func ChainDisconnected(detail string) *RPCError {
	e := ErrChainDisconnected.Clone()
	if detail != "" {
		e.Data = MustMarshal(map[string]string{"detail": detail})
	}
	return e
}

// Timeout builds the error for a request whose timer expired.
func Timeout(method, id string) *RPCError {
	return NewError(CodeTimeout, ErrTimeout.Message, map[string]string{"method": method, "id": id})
}

// Expired builds the error for an approval evicted by the staleness sweep.
func Expired() *RPCError { return ErrExpired.Clone() }

// LimitExceeded builds the rate-limit error.
func LimitExceeded() *RPCError { return ErrLimitExceeded.Clone() }

// InvalidParams builds an invalid-params error with a detail message.
func InvalidParams(detail string) *RPCError {
	e := ErrInvalidParamsRPC.Clone()
	if detail != "" {
		e.Message = detail
	}
	return e
}

// Internal builds an internal error with a detail message.
func Internal(detail string) *RPCError {
	e := ErrInternal.Clone()
	if detail != "" {
		e.Message = detail
	}
	return e
}

// AsRPCError converts err for the wire: RPCErrors pass through, anything
// else becomes an internal error.
func AsRPCError(err error) *RPCError {
	if err == nil {
		return nil
	}
	var rpcErr *RPCError
	if errors.As(err, &rpcErr) {
		return rpcErr
	}
	return Internal(err.Error())
}
