package testutils

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/chainwire/migrator/chain"
	"github.com/chainwire/migrator/deployment"
)

// DefaultSelector is the chain selector used by fake chains (geth testnet, chain id 1337).
const DefaultSelector uint64 = 3379446385462418246

// Model describes how the fake chain executes calls against contracts deployed from a unit.
type Model struct {
	// Setters maps a state-mutating method to the field it writes with its first argument.
	Setters map[string]string
	// Initializers maps a one-time method to the fields its arguments are written to, by
	// position. A second call reverts.
	Initializers map[string][]string
}

// SubmittedTx is a transaction observed by the fake chain.
type SubmittedTx struct {
	Hash   common.Hash
	To     *common.Address
	Method string
	Unit   string
	Args   []any
}

type fakeContract struct {
	unit        string
	code        []byte
	abi         abi.ABI
	model       Model
	fields      map[string]any
	initialized map[string]bool
}

type registeredUnit struct {
	unit  deployment.Unit
	code  string
	model Model
}

func (u registeredUnit) codeLen() int { return len(u.code) / 2 }

// matches reports whether creation data starts with the unit's code. Library placeholders match
// any address.
func (u registeredUnit) matches(data []byte) bool {
	if len(data) < u.codeLen() {
		return false
	}
	for i := range u.codeLen() {
		pair := u.code[2*i : 2*i+2]
		if strings.Contains(pair, "_") {
			continue
		}
		b, err := hex.DecodeString(pair)
		if err != nil || b[0] != data[i] {
			return false
		}
	}

	return true
}

// FakeChain is an in-memory chain.Client. It executes contract creations and calls according to
// registered unit models and records every submitted transaction.
type FakeChain struct {
	mu sync.Mutex

	from      common.Address
	nonce     uint64
	block     uint64
	units     []registeredUnit
	contracts map[common.Address]*fakeContract
	receipts  map[common.Hash]*chain.Receipt
	txs       []SubmittedTx
	calls     int

	failSubmits   int
	revertNext    int
	holdReceipts  bool
	failCallsWith error
}

var (
	_ chain.Client     = (*FakeChain)(nil)
	_ chain.CodeReader = (*FakeChain)(nil)
)

// NewFakeChain returns an empty fake chain transacting from a fixed account.
func NewFakeChain() *FakeChain {
	return &FakeChain{
		from:      common.HexToAddress("0x00000000000000000000000000000000000d3b10"),
		contracts: make(map[common.Address]*fakeContract),
		receipts:  make(map[common.Hash]*chain.Receipt),
	}
}

// Chain returns a chain.Chain wrapping the fake with an instant confirmer.
func (f *FakeChain) Chain() chain.Chain {
	return chain.Chain{
		Selector: DefaultSelector,
		From:     f.from,
		Client:   f,
		Confirmer: chain.NewConfirmer(f,
			chain.WithTickInterval(time.Millisecond),
			chain.WithTimeout(50*time.Millisecond),
		),
	}
}

// From returns the transacting account.
func (f *FakeChain) From() common.Address { return f.from }

// Register teaches the fake chain how to execute contracts created from unit's bytecode.
func (f *FakeChain) Register(unit deployment.Unit, model Model) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.units = append(f.units, registeredUnit{
		unit:  unit,
		code:  deployment.NormalizeBytecode(unit.Bytecode),
		model: model,
	})
}

// FailSubmits makes the next n submissions fail with a connection error.
func (f *FakeChain) FailSubmits(n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failSubmits = n
}

// RevertNext makes the next n included transactions revert.
func (f *FakeChain) RevertNext(n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.revertNext = n
}

// HoldReceipts makes receipts pending until released.
func (f *FakeChain) HoldReceipts(hold bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.holdReceipts = hold
}

// FailCalls makes read-only calls fail with err until called again with nil.
func (f *FakeChain) FailCalls(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failCallsWith = err
}

// Reset discards all chain state, as an ephemeral network restart does.
func (f *FakeChain) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nonce = 0
	f.block = 0
	f.contracts = make(map[common.Address]*fakeContract)
	f.receipts = make(map[common.Hash]*chain.Receipt)
}

// Transactions returns the submitted transactions in order.
func (f *FakeChain) Transactions() []SubmittedTx {
	f.mu.Lock()
	defer f.mu.Unlock()

	return append([]SubmittedTx(nil), f.txs...)
}

// TxCount returns the number of submitted transactions.
func (f *FakeChain) TxCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return len(f.txs)
}

// CreationCount returns the number of submitted contract creations.
func (f *FakeChain) CreationCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	n := 0
	for _, tx := range f.txs {
		if tx.To == nil {
			n++
		}
	}

	return n
}

// CallCount returns the number of read-only calls served.
func (f *FakeChain) CallCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.calls
}

// Field returns the value of a contract field, or nil.
func (f *FakeChain) Field(address common.Address, field string) any {
	f.mu.Lock()
	defer f.mu.Unlock()

	c, ok := f.contracts[address]
	if !ok {
		return nil
	}

	return c.fields[field]
}

// SetField overwrites a contract field, simulating an external actor.
func (f *FakeChain) SetField(address common.Address, field string, value any) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if c, ok := f.contracts[address]; ok {
		c.fields[field] = value
	}
}

// SubmitTransaction implements chain.Client.
func (f *FakeChain) SubmitTransaction(ctx context.Context, tx chain.Transaction) (common.Hash, error) {
	if err := ctx.Err(); err != nil {
		return common.Hash{}, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if f.failSubmits > 0 {
		f.failSubmits--
		return common.Hash{}, errors.New("dial tcp 127.0.0.1:8545: connection refused")
	}

	nonce := f.nonce
	f.nonce++
	f.block++
	hash := crypto.Keccak256Hash(f.from.Bytes(), new(big.Int).SetUint64(nonce).Bytes(), tx.Data)

	receipt := &chain.Receipt{
		TxHash:      hash,
		BlockNumber: f.block,
		GasUsed:     21000,
		Status:      types.ReceiptStatusSuccessful,
	}
	submitted := SubmittedTx{Hash: hash, To: tx.To}

	revert := f.revertNext > 0
	if revert {
		f.revertNext--
	}

	var execErr error
	if tx.IsCreation() {
		execErr = f.create(&submitted, receipt, nonce, tx.Data, revert)
	} else {
		execErr = f.transact(&submitted, *tx.To, tx.Data, revert)
	}
	if execErr != nil {
		receipt.Status = types.ReceiptStatusFailed
	}

	f.txs = append(f.txs, submitted)
	f.receipts[hash] = receipt

	return hash, nil
}

func (f *FakeChain) create(submitted *SubmittedTx, receipt *chain.Receipt, nonce uint64, data []byte, revert bool) error {
	// the longest matching code wins, so a recompiled unit is told apart from its predecessor
	var ru *registeredUnit
	for i := range f.units {
		u := &f.units[i]
		if u.matches(data) && (ru == nil || u.codeLen() > ru.codeLen()) {
			ru = u
		}
	}
	if ru == nil {
		return errors.New("unknown creation code")
	}
	submitted.Unit = ru.unit.Name
	if revert {
		return errors.New("reverted")
	}

	c := &fakeContract{
		unit:        ru.unit.Name,
		code:        append([]byte(nil), data[:ru.codeLen()]...),
		abi:         ru.unit.ABI,
		model:       ru.model,
		fields:      make(map[string]any),
		initialized: make(map[string]bool),
	}

	if ctor := ru.unit.ABI.Constructor; len(ctor.Inputs) > 0 {
		args, err := ctor.Inputs.Unpack(data[ru.codeLen():])
		if err != nil {
			return fmt.Errorf("unpack constructor args: %w", err)
		}
		submitted.Args = args
		for i, in := range ctor.Inputs {
			c.fields[fieldName(in.Name)] = args[i]
		}
	}

	address := crypto.CreateAddress(f.from, nonce)
	f.contracts[address] = c
	receipt.ContractAddress = address

	return nil
}

func (f *FakeChain) transact(submitted *SubmittedTx, to common.Address, data []byte, revert bool) error {
	c, ok := f.contracts[to]
	if !ok {
		return errors.New("no contract at address")
	}
	submitted.Unit = c.unit

	method, args, err := decodeCall(c.abi, data)
	if err != nil {
		return err
	}
	submitted.Method = method.Name
	submitted.Args = args
	if revert {
		return errors.New("reverted")
	}

	if field, ok := c.model.Setters[method.Name]; ok {
		if len(args) == 0 {
			return fmt.Errorf("setter %s has no arguments", method.Name)
		}
		c.fields[field] = args[0]

		return nil
	}

	if fields, ok := c.model.Initializers[method.Name]; ok {
		if c.initialized[method.Name] {
			return errors.New("Initializable: contract is already initialized")
		}
		for i, field := range fields {
			if i < len(args) {
				c.fields[field] = args[i]
			}
		}
		c.initialized[method.Name] = true

		return nil
	}

	return fmt.Errorf("method %s is not state-mutating in model", method.Name)
}

// Call implements chain.Client. Methods without inputs return the field of the same name.
func (f *FakeChain) Call(ctx context.Context, to common.Address, data []byte) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls++
	if f.failCallsWith != nil {
		return nil, f.failCallsWith
	}

	c, ok := f.contracts[to]
	if !ok {
		return []byte{}, nil
	}

	method, _, err := decodeCall(c.abi, data)
	if err != nil {
		return nil, err
	}
	if len(method.Outputs) != 1 {
		return nil, fmt.Errorf("method %s: fake only serves single-output getters", method.Name)
	}

	value, ok := c.fields[method.Name]
	if !ok {
		value = zeroValue(method.Outputs[0].Type)
	}

	return method.Outputs.Pack(value)
}

// TransactionReceipt implements chain.Client.
func (f *FakeChain) TransactionReceipt(_ context.Context, hash common.Hash) (*chain.Receipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.holdReceipts {
		return nil, chain.ErrReceiptPending
	}

	r, ok := f.receipts[hash]
	if !ok {
		return nil, chain.ErrReceiptPending
	}
	cp := *r

	return &cp, nil
}

// CodeAt implements chain.CodeReader.
func (f *FakeChain) CodeAt(_ context.Context, address common.Address) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if c, ok := f.contracts[address]; ok {
		return c.code, nil
	}

	return nil, nil
}

func decodeCall(contractABI abi.ABI, data []byte) (*abi.Method, []any, error) {
	if len(data) < 4 {
		return nil, nil, errors.New("calldata too short")
	}
	method, err := contractABI.MethodById(data[:4])
	if err != nil {
		return nil, nil, err
	}
	args, err := method.Inputs.Unpack(data[4:])
	if err != nil {
		return nil, nil, err
	}

	return method, args, nil
}

func fieldName(input string) string {
	return strings.TrimLeft(input, "_")
}

func zeroValue(t abi.Type) any {
	goType := t.GetType()
	if goType == reflect.TypeOf(&big.Int{}) {
		return new(big.Int)
	}

	return reflect.New(goType).Elem().Interface()
}
