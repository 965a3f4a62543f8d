// Package chain reads market resolution state from the Conditional Token
// Framework contract on Polygon.
//
// A condition is resolved once reportPayouts has been called: the payout
// denominator turns non-zero and payoutNumerators holds the per-outcome
// payout vector (for a binary market, [1,0] or [0,1]).
package chain

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"go.uber.org/zap"
)

// ErrUnresolved is returned while the condition has no reported payouts.
var ErrUnresolved = errors.New("condition not resolved on-chain")

var ctfABI abi.ABI

func init() {
	var err error
	ctfABI, err = abi.JSON(strings.NewReader(`[
		{
			"name": "payoutDenominator",
			"type": "function",
			"stateMutability": "view",
			"inputs": [{"name": "", "type": "bytes32"}],
			"outputs": [{"name": "", "type": "uint256"}]
		},
		{
			"name": "payoutNumerators",
			"type": "function",
			"stateMutability": "view",
			"inputs": [
				{"name": "", "type": "bytes32"},
				{"name": "", "type": "uint256"}
			],
			"outputs": [{"name": "", "type": "uint256"}]
		},
		{
			"name": "getOutcomeSlotCount",
			"type": "function",
			"stateMutability": "view",
			"inputs": [{"name": "conditionId", "type": "bytes32"}],
			"outputs": [{"name": "", "type": "uint256"}]
		}
	]`))
	if err != nil {
		panic("ctf abi parse: " + err.Error())
	}
}

// caller abstracts the eth_call surface used, so tests can fake the node.
type caller interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

// Client reads CTF condition state.
type Client struct {
	logger *zap.Logger
	eth    caller
	ctf    common.Address
}

// NewClient dials the RPC endpoint.
func NewClient(rpcURL, ctfAddress string, logger *zap.Logger) (*Client, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	eth, err := ethclient.Dial(rpcURL)
	if err != nil {
		return nil, fmt.Errorf("chain: dial rpc: %w", err)
	}
	if !common.IsHexAddress(ctfAddress) {
		return nil, fmt.Errorf("chain: invalid ctf address %q", ctfAddress)
	}
	return &Client{
		logger: logger,
		eth:    eth,
		ctf:    common.HexToAddress(ctfAddress),
	}, nil
}

func (c *Client) call(ctx context.Context, method string, args ...any) ([]any, error) {
	data, err := ctfABI.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("chain: pack %s: %w", method, err)
	}
	result, err := c.eth.CallContract(ctx, ethereum.CallMsg{
		To:   &c.ctf,
		Data: data,
	}, nil)
	if err != nil {
		return nil, fmt.Errorf("chain: call %s: %w", method, err)
	}
	vals, err := ctfABI.Unpack(method, result)
	if err != nil {
		return nil, fmt.Errorf("chain: unpack %s: %w", method, err)
	}
	return vals, nil
}

// PayoutVector returns the reported payout numerators for conditionID.
// Returns ErrUnresolved while the oracle has not reported.
func (c *Client) PayoutVector(ctx context.Context, conditionID string) ([]uint64, error) {
	cond := common.HexToHash(conditionID)

	vals, err := c.call(ctx, "payoutDenominator", cond)
	if err != nil {
		return nil, err
	}
	denom, ok := vals[0].(*big.Int)
	if !ok || denom.Sign() == 0 {
		return nil, ErrUnresolved
	}

	vals, err = c.call(ctx, "getOutcomeSlotCount", cond)
	if err != nil {
		return nil, err
	}
	slots, ok := vals[0].(*big.Int)
	if !ok || slots.Sign() == 0 {
		return nil, fmt.Errorf("chain: condition %s has no outcome slots", conditionID)
	}

	n := int(slots.Int64())
	payouts := make([]uint64, n)
	for i := 0; i < n; i++ {
		vals, err = c.call(ctx, "payoutNumerators", cond, big.NewInt(int64(i)))
		if err != nil {
			return nil, err
		}
		num, ok := vals[0].(*big.Int)
		if !ok {
			return nil, fmt.Errorf("chain: bad payout numerator for slot %d", i)
		}
		payouts[i] = num.Uint64()
	}

	c.logger.Debug("payout vector read",
		zap.String("conditionId", conditionID),
		zap.Uint64s("payouts", payouts),
	)

	return payouts, nil
}

// WinnerIndex returns the single outcome index paying out 1, or an error
// when the vector is not a clean binary resolution.
func WinnerIndex(payouts []uint64) (int, error) {
	winner := -1
	for i, p := range payouts {
		if p == 0 {
			continue
		}
		if p != 1 || winner >= 0 {
			return 0, fmt.Errorf("chain: payout vector %v is not a single-winner resolution", payouts)
		}
		winner = i
	}
	if winner < 0 {
		return 0, fmt.Errorf("chain: payout vector %v has no winner", payouts)
	}
	return winner, nil
}
