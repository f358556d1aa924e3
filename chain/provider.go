package chain

import "context"

// Provider initializes the chain a run transacts against.
type Provider interface {
	// Initialize connects to (or starts) the network and returns the chain. Calling it again
	// returns the already initialized chain.
	Initialize(ctx context.Context) (Chain, error)
	// Name returns a human readable provider name.
	Name() string
}
