package evm

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/chainwire/migrator/chain"
	"github.com/chainwire/migrator/pkg/logger"
)

// DefaultFallbackGasLimit is used when gas estimation fails, so that a reverting transaction is
// still included and reported through its receipt.
const DefaultFallbackGasLimit uint64 = 8_000_000

// Backend is the go-ethereum client surface the Client needs. It is satisfied by
// *ethclient.Client and simulated.Client.
type Backend interface {
	bind.ContractBackend

	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	ChainID(ctx context.Context) (*big.Int, error)
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithLogger sets the logger of the client.
func WithLogger(lggr logger.Logger) ClientOption {
	return func(c *Client) {
		c.lggr = lggr
	}
}

// WithGasBuffer adds pct percent on top of estimated gas limits.
func WithGasBuffer(pct uint64) ClientOption {
	return func(c *Client) {
		c.gasBufferPct = pct
	}
}

// WithFallbackGasLimit overrides DefaultFallbackGasLimit.
func WithFallbackGasLimit(limit uint64) ClientOption {
	return func(c *Client) {
		c.fallbackGasLimit = limit
	}
}

// WithAfterSend registers a hook invoked after every broadcast transaction. The simulated
// provider uses it to commit a block.
func WithAfterSend(fn func()) ClientOption {
	return func(c *Client) {
		c.afterSend = fn
	}
}

var (
	_ chain.Client     = (*Client)(nil)
	_ chain.CodeReader = (*Client)(nil)
)

// Client implements chain.Client on top of a go-ethereum backend, signing with a
// *bind.TransactOpts. Nonces are assigned under a mutex so concurrent submissions from the same
// account never collide.
type Client struct {
	backend Backend
	opts    *bind.TransactOpts
	chainID *big.Int
	lggr    logger.Logger

	gasBufferPct     uint64
	fallbackGasLimit uint64
	afterSend        func()

	mu        sync.Mutex
	nextNonce *uint64
}

// NewClient returns a Client bound to the account of opts. The chain ID is read from the backend.
func NewClient(ctx context.Context, backend Backend, opts *bind.TransactOpts, options ...ClientOption) (*Client, error) {
	if opts == nil || opts.Signer == nil {
		return nil, errors.New("transactor with a signer is required")
	}

	chainID, err := backend.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get chain ID: %w", err)
	}

	c := &Client{
		backend:          backend,
		opts:             opts,
		chainID:          chainID,
		lggr:             logger.Nop(),
		gasBufferPct:     20,
		fallbackGasLimit: DefaultFallbackGasLimit,
	}
	for _, o := range options {
		o(c)
	}

	return c, nil
}

// From returns the transacting account.
func (c *Client) From() common.Address { return c.opts.From }

// ChainID returns the chain ID read at construction.
func (c *Client) ChainID() *big.Int { return new(big.Int).Set(c.chainID) }

// SubmitTransaction signs tx with the configured transactor and broadcasts it.
func (c *Client) SubmitTransaction(ctx context.Context, tx chain.Transaction) (common.Hash, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	nonce, err := c.nonce(ctx)
	if err != nil {
		return common.Hash{}, err
	}

	value := tx.Value
	if value == nil {
		value = new(big.Int)
	}

	gasLimit, err := c.backend.EstimateGas(ctx, ethereum.CallMsg{
		From:  c.opts.From,
		To:    tx.To,
		Value: value,
		Data:  tx.Data,
	})
	if err != nil {
		c.lggr.Warnw("Gas estimation failed, using fallback gas limit",
			"gasLimit", c.fallbackGasLimit, "err", err,
		)
		gasLimit = c.fallbackGasLimit
	} else {
		gasLimit += gasLimit * c.gasBufferPct / 100
	}

	unsigned, err := c.buildTx(ctx, nonce, gasLimit, value, tx)
	if err != nil {
		return common.Hash{}, err
	}

	signed, err := c.opts.Signer(c.opts.From, unsigned)
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to sign transaction: %w", err)
	}

	if err = c.backend.SendTransaction(ctx, signed); err != nil {
		// The pending nonce may have moved, e.g. a transaction was replaced. Re-read it next time.
		c.nextNonce = nil

		return common.Hash{}, fmt.Errorf("failed to send transaction: %w", err)
	}

	next := nonce + 1
	c.nextNonce = &next

	c.lggr.Debugw("Sent transaction",
		"hash", signed.Hash().Hex(), "nonce", nonce, "gasLimit", gasLimit, "creation", tx.IsCreation(),
	)

	if c.afterSend != nil {
		c.afterSend()
	}

	return signed.Hash(), nil
}

func (c *Client) nonce(ctx context.Context) (uint64, error) {
	if c.nextNonce != nil {
		return *c.nextNonce, nil
	}

	nonce, err := c.backend.PendingNonceAt(ctx, c.opts.From)
	if err != nil {
		return 0, fmt.Errorf("failed to get pending nonce for %s: %w", c.opts.From.Hex(), err)
	}

	return nonce, nil
}

// buildTx returns a dynamic fee transaction on London enabled chains and a legacy one otherwise.
func (c *Client) buildTx(
	ctx context.Context, nonce, gasLimit uint64, value *big.Int, tx chain.Transaction,
) (*types.Transaction, error) {
	head, err := c.backend.HeaderByNumber(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to get latest header: %w", err)
	}

	if head.BaseFee == nil {
		gasPrice, err := c.backend.SuggestGasPrice(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to suggest gas price: %w", err)
		}

		return types.NewTx(&types.LegacyTx{
			Nonce:    nonce,
			GasPrice: gasPrice,
			Gas:      gasLimit,
			To:       tx.To,
			Value:    value,
			Data:     tx.Data,
		}), nil
	}

	tip, err := c.backend.SuggestGasTipCap(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to suggest gas tip cap: %w", err)
	}
	feeCap := new(big.Int).Add(tip, new(big.Int).Mul(head.BaseFee, big.NewInt(2)))

	return types.NewTx(&types.DynamicFeeTx{
		ChainID:   c.chainID,
		Nonce:     nonce,
		GasTipCap: tip,
		GasFeeCap: feeCap,
		Gas:       gasLimit,
		To:        tx.To,
		Value:     value,
		Data:      tx.Data,
	}), nil
}

// Call executes a read-only call from the transacting account against the latest block.
func (c *Client) Call(ctx context.Context, to common.Address, data []byte) ([]byte, error) {
	out, err := c.backend.CallContract(ctx, ethereum.CallMsg{
		From: c.opts.From,
		To:   &to,
		Data: data,
	}, nil)
	if err != nil {
		return nil, fmt.Errorf("call to %s failed: %w", to.Hex(), err)
	}

	return out, nil
}

// TransactionReceipt returns chain.ErrReceiptPending until the transaction is mined.
func (c *Client) TransactionReceipt(ctx context.Context, hash common.Hash) (*chain.Receipt, error) {
	r, err := c.backend.TransactionReceipt(ctx, hash)
	if err != nil {
		if errors.Is(err, ethereum.NotFound) {
			return nil, chain.ErrReceiptPending
		}

		return nil, err
	}

	receipt := &chain.Receipt{
		TxHash:          r.TxHash,
		ContractAddress: r.ContractAddress,
		GasUsed:         r.GasUsed,
		Status:          r.Status,
	}
	if r.BlockNumber != nil {
		receipt.BlockNumber = r.BlockNumber.Uint64()
	}

	return receipt, nil
}

// CodeAt returns the code deployed at address in the latest block.
func (c *Client) CodeAt(ctx context.Context, address common.Address) ([]byte, error) {
	return c.backend.CodeAt(ctx, address, nil)
}
