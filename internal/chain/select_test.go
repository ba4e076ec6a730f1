package chain

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubClient struct {
	head    uint64
	err     error
	delay   time.Duration
	closed  bool
	callOut []byte
	callIn  []byte
}

func (s *stubClient) CurrentBlock(ctx context.Context) (uint64, error) {
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return 0, ctx.Err()
		}
	}
	return s.head, s.err
}

func (s *stubClient) GetLogs(context.Context, uint64, uint64, common.Address, [][]common.Hash) ([]types.Log, error) {
	return nil, nil
}

func (s *stubClient) Call(_ context.Context, _ common.Address, data []byte) ([]byte, error) {
	s.callIn = data
	return s.callOut, s.err
}

func (s *stubClient) GetTransaction(context.Context, common.Hash) (*types.Transaction, error) {
	return nil, nil
}

func (s *stubClient) GetTransactionReceipt(context.Context, common.Hash) (*types.Receipt, error) {
	return nil, nil
}

func (s *stubClient) SubscribeNewBlocks(context.Context) (<-chan uint64, error) {
	return nil, nil
}

func (s *stubClient) Close() { s.closed = true }

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestSelect_FirstHealthyWins(t *testing.T) {
	clients := map[string]*stubClient{
		"a": {err: errors.New("connection refused")},
		"b": {head: 100},
		"c": {head: 200},
	}
	var dialed []string
	dial := func(_ context.Context, endpoint string) (Client, error) {
		dialed = append(dialed, endpoint)
		return clients[endpoint], nil
	}

	c, endpoint, err := Select(context.Background(), []string{"a", "b", "c"}, time.Second, dial, testLogger())
	require.NoError(t, err)
	assert.Equal(t, "b", endpoint)
	assert.Same(t, clients["b"], c)
	assert.Equal(t, []string{"a", "b"}, dialed, "later endpoints are never contacted")
	assert.True(t, clients["a"].closed)
	assert.False(t, clients["b"].closed)
}

func TestSelect_ProbeTimeout(t *testing.T) {
	slow := &stubClient{head: 1, delay: time.Second}
	fast := &stubClient{head: 2}
	dial := func(_ context.Context, endpoint string) (Client, error) {
		if endpoint == "slow" {
			return slow, nil
		}
		return fast, nil
	}

	start := time.Now()
	_, endpoint, err := Select(context.Background(), []string{"slow", "fast"}, 20*time.Millisecond, dial, testLogger())
	require.NoError(t, err)
	assert.Equal(t, "fast", endpoint)
	assert.Less(t, time.Since(start), 500*time.Millisecond)
	assert.True(t, slow.closed)
}

func TestSelect_NoHealthyEndpoint(t *testing.T) {
	dial := func(_ context.Context, endpoint string) (Client, error) {
		if endpoint == "x" {
			return nil, errors.New("bad url")
		}
		return &stubClient{err: errors.New("503")}, nil
	}

	_, _, err := Select(context.Background(), []string{"x", "y"}, time.Second, dial, testLogger())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNoHealthyEndpoint)
	assert.Contains(t, err.Error(), "bad url")
	assert.Contains(t, err.Error(), "503")
}

func TestSelect_EmptyList(t *testing.T) {
	dial := func(context.Context, string) (Client, error) {
		t.Fatal("dial must not be called")
		return nil, nil
	}
	_, _, err := Select(context.Background(), []string{" ", ""}, time.Second, dial, testLogger())
	assert.ErrorIs(t, err, ErrNoHealthyEndpoint)
}

func TestTransferTopic(t *testing.T) {
	assert.Equal(t,
		"0xddf252ad1be2c89b69c2b068fc378daa952ba7f163c4a11628f55a4df523b3ef",
		TransferTopic.Hex())
}

func TestDecimals_PackAndUnpack(t *testing.T) {
	out, err := ERC20ABI.Methods["decimals"].Outputs.Pack(uint8(6))
	require.NoError(t, err)
	stub := &stubClient{callOut: out}

	d, err := Decimals(context.Background(), stub, common.HexToAddress("0x01"))
	require.NoError(t, err)
	assert.Equal(t, uint8(6), d)
	assert.Equal(t, ERC20ABI.Methods["decimals"].ID, stub.callIn[:4])
}

func TestTokenURI(t *testing.T) {
	out, err := ERC721ABI.Methods["tokenURI"].Outputs.Pack("ipfs://Qm/1.json")
	require.NoError(t, err)
	stub := &stubClient{callOut: out}

	uri, err := TokenURI(context.Background(), stub, common.HexToAddress("0x02"), big.NewInt(1))
	require.NoError(t, err)
	assert.Equal(t, "ipfs://Qm/1.json", uri)
}

func TestAmountsIn(t *testing.T) {
	out, err := RouterABI.Methods["getAmountsIn"].Outputs.Pack([]*big.Int{big.NewInt(5), big.NewInt(10)})
	require.NoError(t, err)
	stub := &stubClient{callOut: out}

	amounts, err := AmountsIn(context.Background(), stub, common.HexToAddress("0x03"), big.NewInt(10),
		[]common.Address{common.HexToAddress("0x04"), common.HexToAddress("0x05")})
	require.NoError(t, err)
	require.Len(t, amounts, 2)
	assert.Equal(t, int64(5), amounts[0].Int64())
}

func TestCallMethod_EmptyResult(t *testing.T) {
	stub := &stubClient{callOut: nil}
	_, err := Symbol(context.Background(), stub, common.HexToAddress("0x01"))
	require.Error(t, err)
}
