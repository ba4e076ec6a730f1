// Package failure classifies errors raised during a poll cycle into
// transient, decode and fatal kinds.
package failure

import (
	"context"
	"errors"
	"net"
	"strings"

	"github.com/ethereum/go-ethereum/rpc"
)

type Kind string

const (
	// KindTransient covers network, timeout and rate-limit failures. The
	// unit of work is skipped and a later cycle may succeed.
	KindTransient Kind = "transient"
	// KindDecode covers malformed logs, unexpected ABI output and bad
	// metadata. Only the offending item is skipped.
	KindDecode Kind = "decode"
	// KindFatal errors stop the process (startup only).
	KindFatal Kind = "fatal"
)

type Decision struct {
	Kind   Kind
	Reason string
}

func (d Decision) IsTransient() bool {
	return d.Kind == KindTransient
}

type classifiedError struct {
	err    error
	kind   Kind
	reason string
}

func (e *classifiedError) Error() string {
	return e.err.Error()
}

func (e *classifiedError) Unwrap() error {
	return e.err
}

func mark(err error, kind Kind, reason string) error {
	if err == nil {
		return nil
	}
	return &classifiedError{err: err, kind: kind, reason: reason}
}

func Transient(err error) error { return mark(err, KindTransient, "explicit_transient") }

func Decode(err error) error { return mark(err, KindDecode, "explicit_decode") }

func Fatal(err error) error { return mark(err, KindFatal, "explicit_fatal") }

// IsDecode reports whether err was marked with Decode.
func IsDecode(err error) bool {
	var marked *classifiedError
	return errors.As(err, &marked) && marked.kind == KindDecode
}

func Classify(err error) Decision {
	if err == nil {
		return Decision{Kind: KindTransient, Reason: "nil_error"}
	}

	var marked *classifiedError
	if errors.As(err, &marked) {
		return Decision{Kind: marked.kind, Reason: marked.reason}
	}

	if errors.Is(err, context.Canceled) {
		return Decision{Kind: KindTransient, Reason: "context_canceled"}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return Decision{Kind: KindTransient, Reason: "context_deadline_exceeded"}
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return Decision{Kind: KindTransient, Reason: "net_timeout"}
	}

	var httpErr rpc.HTTPError
	if errors.As(err, &httpErr) {
		if httpErr.StatusCode == 429 || httpErr.StatusCode >= 500 {
			return Decision{Kind: KindTransient, Reason: "http_status"}
		}
	}

	var rpcErr rpc.Error
	if errors.As(err, &rpcErr) {
		return classifyJSONRPCCode(rpcErr.ErrorCode())
	}

	lower := strings.ToLower(err.Error())
	if containsAny(lower, decodeMessageTokens) {
		return Decision{Kind: KindDecode, Reason: "message_decode"}
	}
	if containsAny(lower, transientMessageTokens) {
		return Decision{Kind: KindTransient, Reason: "message_transient"}
	}

	// Inside a poll cycle nothing is fatal unless explicitly marked; the
	// cycle is skipped and the next block retries.
	return Decision{Kind: KindTransient, Reason: "unknown_default"}
}

func classifyJSONRPCCode(code int) Decision {
	switch {
	case code == 3:
		return Decision{Kind: KindDecode, Reason: "jsonrpc_execution_reverted"}
	case code == -32603 || code == -32005:
		return Decision{Kind: KindTransient, Reason: "jsonrpc_server_transient"}
	case code <= -32000 && code >= -32099:
		return Decision{Kind: KindTransient, Reason: "jsonrpc_server_range"}
	case code == -32601:
		return Decision{Kind: KindFatal, Reason: "jsonrpc_method_not_found"}
	default:
		return Decision{Kind: KindDecode, Reason: "jsonrpc_request_rejected"}
	}
}

func containsAny(msg string, tokens []string) bool {
	for _, token := range tokens {
		if strings.Contains(msg, token) {
			return true
		}
	}
	return false
}

var transientMessageTokens = []string{
	"timeout",
	"timed out",
	"temporar",
	"unavailable",
	"connection reset",
	"connection refused",
	"broken pipe",
	"econnreset",
	"econnrefused",
	"too many requests",
	"rate limit",
	"429",
	"502",
	"503",
	"504",
	"server closed idle connection",
	"eof",
}

var decodeMessageTokens = []string{
	"abi:",
	"unpack",
	"execution reverted",
	"invalid character",
	"cannot unmarshal",
	"unexpected end of json",
	"malformed",
}
