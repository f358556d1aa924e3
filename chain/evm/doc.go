// Package evm binds the chain.Client capability to go-ethereum. It provides the Client, which
// signs with a *bind.TransactOpts and serialises nonces, the RPCProvider for remote networks and
// transactor generators for raw and AWS KMS keys.
package evm
