package evm

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/crypto"
)

// TransactorGenerator produces the signing options of the deployer account of a client. It is
// called once, when the client is created.
type TransactorGenerator interface {
	Generate(ctx context.Context, chainID *big.Int) (*bind.TransactOpts, error)
}

// TransactorFunc adapts a function to a TransactorGenerator.
type TransactorFunc func(ctx context.Context, chainID *big.Int) (*bind.TransactOpts, error)

// Generate calls f.
func (f TransactorFunc) Generate(ctx context.Context, chainID *big.Int) (*bind.TransactOpts, error) {
	return f(ctx, chainID)
}

// TransactorFromRaw signs with a hex encoded private key, with or without a 0x prefix. An
// invalid key fails on Generate.
func TransactorFromRaw(privKey string) TransactorGenerator {
	hexKey := strings.TrimPrefix(strings.TrimSpace(privKey), "0x")

	return TransactorFunc(func(_ context.Context, chainID *big.Int) (*bind.TransactOpts, error) {
		key, err := crypto.HexToECDSA(hexKey)
		if err != nil {
			return nil, fmt.Errorf("failed to convert private key to ECDSA: %w", err)
		}

		return keyedTransactor(key, chainID)
	})
}

// TransactorRandom signs with a fresh key on every Generate. The account holds no funds unless
// the network prefunds it, so it only suits simulated networks.
func TransactorRandom() TransactorGenerator {
	return TransactorFunc(func(_ context.Context, chainID *big.Int) (*bind.TransactOpts, error) {
		key, err := crypto.GenerateKey()
		if err != nil {
			return nil, fmt.Errorf("failed to generate random private key: %w", err)
		}

		return keyedTransactor(key, chainID)
	})
}

// TransactorFromKMS signs with an AWS KMS key. Without awsProfileName the credentials come from
// the AWS environment variables.
func TransactorFromKMS(keyID, keyRegion, awsProfileName string) (TransactorGenerator, error) {
	signer, err := NewKMSSigner(keyID, keyRegion, awsProfileName)
	if err != nil {
		return nil, fmt.Errorf("failed to create KMS signer: %w", err)
	}

	return TransactorFromKMSSigner(signer), nil
}

// TransactorFromKMSSigner signs through signer. The public key is fetched from KMS on Generate.
func TransactorFromKMSSigner(signer *KMSSigner) TransactorGenerator {
	return TransactorFunc(func(ctx context.Context, chainID *big.Int) (*bind.TransactOpts, error) {
		opts, err := signer.GetTransactOpts(ctx, chainID)
		if err != nil {
			return nil, fmt.Errorf("failed to get transact opts from KMS signer: %w", err)
		}

		return opts, nil
	})
}

func keyedTransactor(key *ecdsa.PrivateKey, chainID *big.Int) (*bind.TransactOpts, error) {
	if chainID == nil || chainID.Sign() <= 0 {
		return nil, fmt.Errorf("invalid chain id %v", chainID)
	}

	return bind.NewKeyedTransactorWithChainID(key, chainID)
}
