package evm

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"crypto/x509/pkix"
	"encoding/asn1"
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	kmslib "github.com/aws/aws-sdk-go/service/kms"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
)

// KMSClient is the subset of the AWS KMS API used for signing.
type KMSClient interface {
	GetPublicKey(input *kmslib.GetPublicKeyInput) (*kmslib.GetPublicKeyOutput, error)
	Sign(input *kmslib.SignInput) (*kmslib.SignOutput, error)
}

// spki is the ASN.1 SubjectPublicKeyInfo structure returned by KMS GetPublicKey.
type spki struct {
	AlgorithmIdentifier pkix.AlgorithmIdentifier
	SubjectPublicKey    asn1.BitString
}

// ecdsaSig is the ASN.1 signature structure returned by KMS Sign.
type ecdsaSig struct {
	R asn1.RawValue
	S asn1.RawValue
}

// NewKMSClient returns an AWS KMS client for the region. An empty awsProfile falls back to the
// environment credentials chain.
func NewKMSClient(keyRegion, awsProfile string) (KMSClient, error) {
	if keyRegion == "" {
		return nil, errors.New("KMS key region is required")
	}

	sess, err := session.NewSessionWithOptions(session.Options{
		Config:            aws.Config{Region: aws.String(keyRegion)},
		Profile:           awsProfile,
		SharedConfigState: session.SharedConfigEnable,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create AWS session: %w", err)
	}

	return kmslib.New(sess), nil
}

// KMSSigner signs EVM transactions with an AWS KMS secp256k1 key.
type KMSSigner struct {
	client   KMSClient
	kmsKeyID string

	mu             sync.Mutex
	ecdsaPublicKey *ecdsa.PublicKey
}

// NewKMSSigner returns a KMSSigner for the key.
func NewKMSSigner(keyID, keyRegion, awsProfile string) (*KMSSigner, error) {
	if keyID == "" {
		return nil, errors.New("KMS key ID is required")
	}

	client, err := NewKMSClient(keyRegion, awsProfile)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize KMS client: %w", err)
	}

	return NewKMSSignerWithClient(client, keyID), nil
}

// NewKMSSignerWithClient returns a KMSSigner using an existing client.
func NewKMSSignerWithClient(client KMSClient, keyID string) *KMSSigner {
	return &KMSSigner{
		client:   client,
		kmsKeyID: keyID,
	}
}

// GetECDSAPublicKey retrieves the public key from KMS. The key is cached after the first call.
func (s *KMSSigner) GetECDSAPublicKey() (*ecdsa.PublicKey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ecdsaPublicKey != nil {
		return s.ecdsaPublicKey, nil
	}

	out, err := s.client.GetPublicKey(&kmslib.GetPublicKeyInput{
		KeyId: aws.String(s.kmsKeyID),
	})
	if err != nil {
		return nil, fmt.Errorf("cannot get public key from KMS for KeyId=%s: %w", s.kmsKeyID, err)
	}

	var info spki
	if _, err = asn1.Unmarshal(out.PublicKey, &info); err != nil {
		return nil, fmt.Errorf("cannot parse asn1 public key for KeyId=%s: %w", s.kmsKeyID, err)
	}

	pubKey, err := crypto.UnmarshalPubkey(info.SubjectPublicKey.Bytes)
	if err != nil {
		return nil, fmt.Errorf("cannot unmarshal public key bytes: %w", err)
	}
	s.ecdsaPublicKey = pubKey

	return pubKey, nil
}

// GetAddress returns the address of the KMS key.
func (s *KMSSigner) GetAddress() (common.Address, error) {
	pubKey, err := s.GetECDSAPublicKey()
	if err != nil {
		return common.Address{}, fmt.Errorf("failed to get public key: %w", err)
	}

	return crypto.PubkeyToAddress(*pubKey), nil
}

// GetTransactOpts returns transact options whose Signer calls KMS.
func (s *KMSSigner) GetTransactOpts(ctx context.Context, chainID *big.Int) (*bind.TransactOpts, error) {
	if chainID == nil {
		return nil, errors.New("chainID is required")
	}

	pubKey, err := s.GetECDSAPublicKey()
	if err != nil {
		return nil, err
	}

	return &bind.TransactOpts{
		From:    crypto.PubkeyToAddress(*pubKey),
		Signer:  s.signerFunc(pubKey, chainID),
		Context: ctx,
	}, nil
}

func (s *KMSSigner) signerFunc(
	pubKey *ecdsa.PublicKey, chainID *big.Int,
) bind.SignerFn {
	pubKeyBytes := crypto.FromECDSAPub(pubKey)
	keyAddr := crypto.PubkeyToAddress(*pubKey)
	signer := types.LatestSignerForChainID(chainID)

	return func(address common.Address, tx *types.Transaction) (*types.Transaction, error) {
		if address != keyAddr {
			return nil, bind.ErrNotAuthorized
		}

		var (
			txHash = signer.Hash(tx).Bytes()
			mType  = kmslib.MessageTypeDigest
			algo   = kmslib.SigningAlgorithmSpecEcdsaSha256
		)

		out, err := s.client.Sign(&kmslib.SignInput{
			KeyId:            aws.String(s.kmsKeyID),
			SigningAlgorithm: &algo,
			MessageType:      &mType,
			Message:          txHash,
		})
		if err != nil {
			return nil, fmt.Errorf("call to kms.Sign() failed on transaction: %w", err)
		}

		evmSig, err := kmsToEVMSig(out.Signature, pubKeyBytes, txHash)
		if err != nil {
			return nil, fmt.Errorf("failed to convert KMS signature to Ethereum signature: %w", err)
		}

		return tx.WithSignature(signer, evmSig)
	}
}

var (
	secp256k1N     = crypto.S256().Params().N
	secp256k1HalfN = new(big.Int).Div(secp256k1N, big.NewInt(2))
)

// kmsToEVMSig converts a DER encoded KMS signature into a 65 byte [R || S || V] signature.
// S is normalised to the lower half of the curve order as EIP-2 requires.
func kmsToEVMSig(kmsSig, pubKeyBytes, hash []byte) ([]byte, error) {
	var sig ecdsaSig
	if _, err := asn1.Unmarshal(kmsSig, &sig); err != nil {
		return nil, fmt.Errorf("failed to unmarshal KMS signature: %w", err)
	}

	rBytes := sig.R.Bytes
	sBytes := sig.S.Bytes

	sBigInt := new(big.Int).SetBytes(sBytes)
	if sBigInt.Cmp(secp256k1HalfN) > 0 {
		sBytes = new(big.Int).Sub(secp256k1N, sBigInt).Bytes()
	}

	return recoverEVMSignature(pubKeyBytes, hash, rBytes, sBytes)
}

// recoverEVMSignature picks the recovery id (0 or 1) that recovers the expected public key.
func recoverEVMSignature(expectedPublicKey, hash, r, s []byte) ([]byte, error) {
	rs := append(padTo32Bytes(r), padTo32Bytes(s)...)

	for _, v := range []byte{0, 1} {
		evmSig := append(append([]byte{}, rs...), v)

		recovered, err := crypto.Ecrecover(hash, evmSig)
		if err != nil {
			return nil, fmt.Errorf("failed to recover signature with v=%d: %w", v, err)
		}
		if bytes.Equal(recovered, expectedPublicKey) {
			return evmSig, nil
		}
	}

	return nil, errors.New("cannot reconstruct public key from sig")
}

// padTo32Bytes left pads buffer with zeros to 32 bytes.
func padTo32Bytes(buffer []byte) []byte {
	buffer = bytes.TrimLeft(buffer, "\x00")
	if len(buffer) >= 32 {
		return buffer
	}

	return append(make([]byte, 32-len(buffer)), buffer...)
}
