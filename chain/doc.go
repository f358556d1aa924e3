/*
Package chain defines the chain client capability consumed by the migrator.

The core never signs, broadcasts or estimates gas itself. It consumes a [Client] which can submit a
transaction, perform a read-only call and report a transaction receipt. Bounded waiting for
confirmation is provided by [Confirmer], which turns a missing receipt into
[deployment.ErrConfirmationTimeout] and a failed receipt into a revert error.

Concrete clients live in sub packages:

  - chain/evm: go-ethereum backed client for JSON-RPC endpoints and simulated backends.
  - chain/simulated: in-process simulated network for local runs.
  - chain/anvil: anvil node launched in a container for local runs.

A [Provider] turns environment configuration into an initialized [Chain].
*/
package chain
