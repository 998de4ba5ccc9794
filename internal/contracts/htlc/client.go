// Package htlc provides a read-only Go client for the hashlock HTLC contract.
// The daemon never creates or claims swaps on-chain; it only verifies swap
// parameters that counterparties report.
package htlc

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
)

// contractABI covers the read methods the verifier needs.
const contractABI = `[
	{
		"name": "getSwapByHash",
		"type": "function",
		"stateMutability": "view",
		"inputs": [{"name": "hashLock", "type": "bytes32"}],
		"outputs": [
			{"name": "amount", "type": "uint256"},
			{"name": "hashLock", "type": "bytes32"},
			{"name": "timeLock", "type": "uint256"},
			{"name": "completed", "type": "bool"}
		]
	}
]`

// Errors returned by the client.
var (
	ErrTxNotFound   = errors.New("transaction not found")
	ErrSwapNotFound = errors.New("no swap with that hashlock on chain")
)

// Swap holds the on-chain swap parameters committed by the contract,
// keyed by the payment hash (hashlock).
type Swap struct {
	Amount    *big.Int
	HashLock  [32]byte
	TimeLock  *big.Int
	Completed bool
}

// HashLockHex returns the hashlock as a 0x-prefixed hex string.
func (s *Swap) HashLockHex() string {
	return "0x" + common.Bytes2Hex(s.HashLock[:])
}

// Client wraps the HTLC contract's read interface.
type Client struct {
	client          *ethclient.Client
	contract        *bind.BoundContract
	contractAddress common.Address
}

// NewClient connects to an EVM RPC endpoint and binds the contract.
func NewClient(rpcURL string, contractAddress common.Address) (*Client, error) {
	client, err := ethclient.Dial(rpcURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RPC: %w", err)
	}

	parsed, err := abi.JSON(strings.NewReader(contractABI))
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to parse contract ABI: %w", err)
	}

	return &Client{
		client:          client,
		contract:        bind.NewBoundContract(contractAddress, parsed, client, client, client),
		contractAddress: contractAddress,
	}, nil
}

// Close closes the underlying RPC connection.
func (c *Client) Close() {
	c.client.Close()
}

// ContractAddress returns the contract address.
func (c *Client) ContractAddress() common.Address {
	return c.contractAddress
}

// TransactionReceipt looks up the receipt for a transaction hash.
// Returns ErrTxNotFound when the transaction is not yet mined.
func (c *Client) TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	receipt, err := c.client.TransactionReceipt(ctx, txHash)
	if err != nil {
		if errors.Is(err, ethereum.NotFound) {
			return nil, ErrTxNotFound
		}
		return nil, err
	}
	return receipt, nil
}

// GetSwapByHash reads the on-chain swap record for a payment hash.
// Returns ErrSwapNotFound when the contract holds no swap for the hash
// (an all-zero record).
func (c *Client) GetSwapByHash(ctx context.Context, hashLock [32]byte) (*Swap, error) {
	var out []interface{}
	opts := &bind.CallOpts{Context: ctx}

	if err := c.contract.Call(opts, &out, "getSwapByHash", hashLock); err != nil {
		return nil, fmt.Errorf("failed to read swap: %w", err)
	}
	if len(out) != 4 {
		return nil, fmt.Errorf("unexpected result shape: %d values", len(out))
	}

	amount, ok := out[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("unexpected amount type %T", out[0])
	}
	storedHash, ok := out[1].([32]byte)
	if !ok {
		return nil, fmt.Errorf("unexpected hashlock type %T", out[1])
	}
	timeLock, ok := out[2].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("unexpected timelock type %T", out[2])
	}
	completed, ok := out[3].(bool)
	if !ok {
		return nil, fmt.Errorf("unexpected completed type %T", out[3])
	}

	if amount.Sign() == 0 && storedHash == [32]byte{} {
		return nil, ErrSwapNotFound
	}

	return &Swap{
		Amount:    amount,
		HashLock:  storedHash,
		TimeLock:  timeLock,
		Completed: completed,
	}, nil
}
