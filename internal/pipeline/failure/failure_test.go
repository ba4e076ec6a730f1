package failure

import (
	"context"
	"errors"
	"fmt"
	"net"
	"testing"

	"github.com/ethereum/go-ethereum/rpc"
	"github.com/stretchr/testify/assert"
)

type timeoutNetError struct{}

func (timeoutNetError) Error() string   { return "i/o timeout" }
func (timeoutNetError) Timeout() bool   { return true }
func (timeoutNetError) Temporary() bool { return true }

var _ net.Error = timeoutNetError{}

type codedError struct {
	code int
	msg  string
}

func (e codedError) Error() string  { return e.msg }
func (e codedError) ErrorCode() int { return e.code }

var _ rpc.Error = codedError{}

func TestClassify(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantKind   Kind
		wantReason string
	}{
		{"explicit transient", Transient(errors.New("boom")), KindTransient, "explicit_transient"},
		{"explicit decode", Decode(errors.New("boom")), KindDecode, "explicit_decode"},
		{"explicit fatal", Fatal(errors.New("boom")), KindFatal, "explicit_fatal"},
		{"wrapped marker", fmt.Errorf("outer: %w", Decode(errors.New("bad log"))), KindDecode, "explicit_decode"},
		{"deadline", fmt.Errorf("eth_getLogs: %w", context.DeadlineExceeded), KindTransient, "context_deadline_exceeded"},
		{"canceled", context.Canceled, KindTransient, "context_canceled"},
		{"net timeout", fmt.Errorf("dial: %w", timeoutNetError{}), KindTransient, "net_timeout"},
		{"http 429", rpc.HTTPError{StatusCode: 429, Status: "429 Too Many Requests"}, KindTransient, "http_status"},
		{"jsonrpc limit exceeded", codedError{code: -32005, msg: "limit exceeded"}, KindTransient, "jsonrpc_server_transient"},
		{"jsonrpc server range", codedError{code: -32010, msg: "header not found"}, KindTransient, "jsonrpc_server_range"},
		{"jsonrpc reverted", codedError{code: 3, msg: "execution reverted"}, KindDecode, "jsonrpc_execution_reverted"},
		{"jsonrpc method missing", codedError{code: -32601, msg: "the method does not exist"}, KindFatal, "jsonrpc_method_not_found"},
		{"jsonrpc invalid params", codedError{code: -32602, msg: "invalid params"}, KindDecode, "jsonrpc_request_rejected"},
		{"abi message", errors.New("abi: cannot marshal in to go type"), KindDecode, "message_decode"},
		{"rate limit message", errors.New("rate limit reached"), KindTransient, "message_transient"},
		{"unknown", errors.New("something odd"), KindTransient, "unknown_default"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := Classify(tt.err)
			assert.Equal(t, tt.wantKind, d.Kind)
			assert.Equal(t, tt.wantReason, d.Reason)
		})
	}
}

func TestMarkersPreserveChain(t *testing.T) {
	base := errors.New("root cause")
	err := Transient(base)

	assert.ErrorIs(t, err, base)
	assert.Equal(t, "root cause", err.Error())
	assert.True(t, Classify(err).IsTransient())
}

func TestMarkersNil(t *testing.T) {
	assert.NoError(t, Transient(nil))
	assert.NoError(t, Decode(nil))
	assert.NoError(t, Fatal(nil))
}

func TestIsDecode(t *testing.T) {
	assert.True(t, IsDecode(fmt.Errorf("log 3: %w", Decode(errors.New("short topics")))))
	assert.False(t, IsDecode(Transient(errors.New("timeout"))))
	assert.False(t, IsDecode(errors.New("plain")))
}
