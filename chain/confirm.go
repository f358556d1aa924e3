package chain

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/chainwire/migrator/deployment"
)

const (
	// DefaultConfirmTimeout bounds the wait for a receipt.
	DefaultConfirmTimeout = 2 * time.Minute
	// DefaultConfirmTick is the receipt polling interval, the same value bind.WaitMined uses.
	DefaultConfirmTick = 1 * time.Second
)

// Confirmer waits for transactions submitted through a Client to be included.
type Confirmer struct {
	client  Client
	tick    time.Duration
	timeout time.Duration
}

// ConfirmerOption configures a Confirmer.
type ConfirmerOption func(*Confirmer)

// WithTickInterval sets the polling interval. Useful for networks with instant blocks.
func WithTickInterval(interval time.Duration) ConfirmerOption {
	return func(c *Confirmer) {
		c.tick = interval
	}
}

// WithTimeout sets the bounded wait for a receipt.
func WithTimeout(timeout time.Duration) ConfirmerOption {
	return func(c *Confirmer) {
		c.timeout = timeout
	}
}

// NewConfirmer returns a Confirmer polling client for receipts.
func NewConfirmer(client Client, opts ...ConfirmerOption) *Confirmer {
	c := &Confirmer{
		client:  client,
		tick:    DefaultConfirmTick,
		timeout: DefaultConfirmTimeout,
	}
	for _, o := range opts {
		o(c)
	}

	return c
}

// Confirm blocks until the transaction is included or the bounded wait elapses.
//
// A receipt with a failed status returns the receipt together with an error wrapping
// deployment.ErrTransactionReverted. Elapsing the wait returns an error wrapping
// deployment.ErrConfirmationTimeout. Receipt lookup errors other than ErrReceiptPending are
// treated as transient and polling continues until the wait elapses.
func (c *Confirmer) Confirm(ctx context.Context, hash common.Hash) (*Receipt, error) {
	ctxTimeout, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	ticker := time.NewTicker(c.tick)
	defer ticker.Stop()

	var lastErr error
	for {
		receipt, err := c.client.TransactionReceipt(ctxTimeout, hash)
		switch {
		case err == nil && receipt != nil:
			if !receipt.Succeeded() {
				return receipt, fmt.Errorf("tx %s in block %d: %w",
					hash.Hex(), receipt.BlockNumber, deployment.ErrTransactionReverted,
				)
			}

			return receipt, nil
		case err != nil && !errors.Is(err, ErrReceiptPending):
			lastErr = err
		}

		select {
		case <-ctxTimeout.Done():
			// The run itself was aborted, do not report this as a retryable timeout.
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			if lastErr != nil {
				return nil, fmt.Errorf("tx %s not confirmed within %s (last error: %v): %w",
					hash.Hex(), c.timeout, lastErr, deployment.ErrConfirmationTimeout,
				)
			}

			return nil, fmt.Errorf("tx %s not confirmed within %s: %w",
				hash.Hex(), c.timeout, deployment.ErrConfirmationTimeout,
			)
		case <-ticker.C:
		}
	}
}

// SubmitAndConfirm submits tx and waits for its receipt. Submission failures are wrapped as
// transient errors.
func SubmitAndConfirm(ctx context.Context, c Chain, tx Transaction) (*Receipt, error) {
	hash, err := c.Client.SubmitTransaction(ctx, tx)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		return nil, deployment.NewTransientError(fmt.Errorf("failed to submit transaction: %w", err))
	}

	return c.Confirmer.Confirm(ctx, hash)
}
