package chain

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// TransferTopic is keccak256("Transfer(address,address,uint256)"), shared by
// ERC-20 and ERC-721. ERC-721 indexes the token ID, ERC-20 does not.
var TransferTopic = crypto.Keccak256Hash([]byte("Transfer(address,address,uint256)"))

const erc721JSON = `[
	{"type":"function","name":"tokenURI","stateMutability":"view",
	 "inputs":[{"name":"tokenId","type":"uint256"}],
	 "outputs":[{"name":"","type":"string"}]}
]`

const erc20JSON = `[
	{"type":"function","name":"decimals","stateMutability":"view","inputs":[],
	 "outputs":[{"name":"","type":"uint8"}]},
	{"type":"function","name":"symbol","stateMutability":"view","inputs":[],
	 "outputs":[{"name":"","type":"string"}]}
]`

const routerJSON = `[
	{"type":"function","name":"getAmountsIn","stateMutability":"view",
	 "inputs":[{"name":"amountOut","type":"uint256"},{"name":"path","type":"address[]"}],
	 "outputs":[{"name":"amounts","type":"uint256[]"}]}
]`

var (
	ERC721ABI = mustParseABI(erc721JSON)
	ERC20ABI  = mustParseABI(erc20JSON)
	RouterABI = mustParseABI(routerJSON)
)

func mustParseABI(raw string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		panic(fmt.Sprintf("parse abi: %v", err))
	}
	return parsed
}

// CallMethod packs method(args...) for contract, executes it through c and
// unpacks the outputs.
func CallMethod(ctx context.Context, c Client, contract abi.ABI, to common.Address, method string, args ...interface{}) ([]interface{}, error) {
	data, err := contract.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", method, err)
	}
	out, err := c.Call(ctx, to, data)
	if err != nil {
		return nil, fmt.Errorf("call %s on %s: %w", method, to.Hex(), err)
	}
	values, err := contract.Unpack(method, out)
	if err != nil {
		return nil, fmt.Errorf("unpack %s: %w", method, err)
	}
	if len(values) == 0 {
		return nil, fmt.Errorf("unpack %s: empty result", method)
	}
	return values, nil
}

// TokenURI calls ERC-721 tokenURI(tokenID).
func TokenURI(ctx context.Context, c Client, contract common.Address, tokenID *big.Int) (string, error) {
	values, err := CallMethod(ctx, c, ERC721ABI, contract, "tokenURI", tokenID)
	if err != nil {
		return "", err
	}
	uri, ok := values[0].(string)
	if !ok {
		return "", fmt.Errorf("tokenURI: unexpected type %T", values[0])
	}
	return uri, nil
}

// Decimals calls ERC-20 decimals().
func Decimals(ctx context.Context, c Client, token common.Address) (uint8, error) {
	values, err := CallMethod(ctx, c, ERC20ABI, token, "decimals")
	if err != nil {
		return 0, err
	}
	d, ok := values[0].(uint8)
	if !ok {
		return 0, fmt.Errorf("decimals: unexpected type %T", values[0])
	}
	return d, nil
}

// Symbol calls ERC-20 symbol().
func Symbol(ctx context.Context, c Client, token common.Address) (string, error) {
	values, err := CallMethod(ctx, c, ERC20ABI, token, "symbol")
	if err != nil {
		return "", err
	}
	s, ok := values[0].(string)
	if !ok {
		return "", fmt.Errorf("symbol: unexpected type %T", values[0])
	}
	return s, nil
}

// AmountsIn calls a Uniswap-V2 style router's getAmountsIn(amountOut, path).
func AmountsIn(ctx context.Context, c Client, router common.Address, amountOut *big.Int, path []common.Address) ([]*big.Int, error) {
	values, err := CallMethod(ctx, c, RouterABI, router, "getAmountsIn", amountOut, path)
	if err != nil {
		return nil, err
	}
	amounts, ok := values[0].([]*big.Int)
	if !ok {
		return nil, fmt.Errorf("getAmountsIn: unexpected type %T", values[0])
	}
	return amounts, nil
}
