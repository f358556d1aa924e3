package chain

import (
	"context"
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// ErrReceiptPending is returned by Client.TransactionReceipt when the transaction is known but
// not yet included in a block, or not yet known at all.
var ErrReceiptPending = errors.New("receipt pending")

// Transaction is a transaction payload to be signed and broadcast by the Client. A nil To
// denotes a contract creation.
type Transaction struct {
	To    *common.Address
	Data  []byte
	Value *big.Int
}

// IsCreation reports whether the transaction deploys a contract.
func (t Transaction) IsCreation() bool { return t.To == nil }

// Receipt is the outcome of an included transaction.
type Receipt struct {
	TxHash          common.Hash
	ContractAddress common.Address
	BlockNumber     uint64
	GasUsed         uint64
	Status          uint64
}

// Succeeded reports whether the transaction executed without reverting.
func (r Receipt) Succeeded() bool { return r.Status == types.ReceiptStatusSuccessful }

// Client is the chain client capability: submit a transaction, call a contract read-only and
// fetch a receipt. Nonce management, signing and gas estimation are the implementation's concern.
type Client interface {
	// SubmitTransaction signs and broadcasts tx from the default account and returns its hash
	// without waiting for inclusion.
	SubmitTransaction(ctx context.Context, tx Transaction) (common.Hash, error)
	// Call executes a read-only call against the latest state.
	Call(ctx context.Context, to common.Address, data []byte) ([]byte, error)
	// TransactionReceipt returns the receipt of an included transaction or ErrReceiptPending.
	TransactionReceipt(ctx context.Context, hash common.Hash) (*Receipt, error)
}

// CodeReader is optionally implemented by clients that can read deployed code. The deployer uses
// it to notice registry records that point at addresses without code, e.g. after a local network
// was reset.
type CodeReader interface {
	CodeAt(ctx context.Context, address common.Address) ([]byte, error)
}

// Chain is an initialized chain: a client bound to a default transacting account.
type Chain struct {
	// Selector is the chain-selectors selector of the network.
	Selector uint64
	// From is the default transacting account.
	From common.Address
	// Client submits and reads.
	Client Client
	// Confirmer waits for receipts.
	Confirmer *Confirmer
	// Close releases resources held by the provider, e.g. a launched container. May be nil.
	Close func() error
}
