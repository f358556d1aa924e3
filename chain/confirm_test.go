package chain

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chainwire/migrator/deployment"
)

type stubClient struct {
	mu        sync.Mutex
	pending   int
	receipt   *Receipt
	lookupErr error
	submitErr error
	lookups   int
}

func (s *stubClient) SubmitTransaction(context.Context, Transaction) (common.Hash, error) {
	if s.submitErr != nil {
		return common.Hash{}, s.submitErr
	}

	return common.HexToHash("0x01"), nil
}

func (s *stubClient) Call(context.Context, common.Address, []byte) ([]byte, error) {
	return nil, nil
}

func (s *stubClient) TransactionReceipt(context.Context, common.Hash) (*Receipt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.lookups++
	if s.lookupErr != nil {
		return nil, s.lookupErr
	}
	if s.pending > 0 || s.receipt == nil {
		s.pending--
		return nil, ErrReceiptPending
	}

	return s.receipt, nil
}

func Test_Confirmer_Confirm(t *testing.T) {
	t.Parallel()

	hash := common.HexToHash("0x01")

	tests := []struct {
		name        string
		client      *stubClient
		wantErr     error
		wantReceipt bool
		wantLookups int
	}{
		{
			name:        "included after pending polls",
			client:      &stubClient{pending: 2, receipt: &Receipt{TxHash: hash, Status: 1, BlockNumber: 7}},
			wantReceipt: true,
			wantLookups: 3,
		},
		{
			name:        "reverted",
			client:      &stubClient{receipt: &Receipt{TxHash: hash, Status: 0, BlockNumber: 7}},
			wantErr:     deployment.ErrTransactionReverted,
			wantReceipt: true,
		},
		{
			name:    "never included",
			client:  &stubClient{},
			wantErr: deployment.ErrConfirmationTimeout,
		},
		{
			name:    "lookup keeps failing",
			client:  &stubClient{lookupErr: errors.New("503 service unavailable")},
			wantErr: deployment.ErrConfirmationTimeout,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			c := NewConfirmer(tt.client,
				WithTickInterval(time.Millisecond),
				WithTimeout(30*time.Millisecond),
			)

			receipt, err := c.Confirm(t.Context(), hash)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
			} else {
				require.NoError(t, err)
			}
			assert.Equal(t, tt.wantReceipt, receipt != nil)
			if tt.wantLookups > 0 {
				assert.Equal(t, tt.wantLookups, tt.client.lookups)
			}
		})
	}
}

func Test_Confirmer_Confirm_TimeoutIsTransient(t *testing.T) {
	t.Parallel()

	c := NewConfirmer(&stubClient{}, WithTickInterval(time.Millisecond), WithTimeout(10*time.Millisecond))

	_, err := c.Confirm(t.Context(), common.HexToHash("0x01"))
	require.Error(t, err)
	assert.True(t, deployment.IsTransient(err))
	assert.False(t, deployment.IsFatal(err))
}

func Test_Confirmer_Confirm_ParentCanceled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(t.Context())
	cancel()

	c := NewConfirmer(&stubClient{}, WithTickInterval(time.Millisecond), WithTimeout(time.Minute))

	_, err := c.Confirm(ctx, common.HexToHash("0x01"))
	require.ErrorIs(t, err, context.Canceled)
	assert.NotErrorIs(t, err, deployment.ErrConfirmationTimeout)
}

func Test_SubmitAndConfirm(t *testing.T) {
	t.Parallel()

	t.Run("submit failure is transient", func(t *testing.T) {
		t.Parallel()

		client := &stubClient{submitErr: errors.New("connection refused")}
		c := Chain{Client: client, Confirmer: NewConfirmer(client)}

		_, err := SubmitAndConfirm(t.Context(), c, Transaction{Data: []byte{0x60}})
		require.ErrorContains(t, err, "connection refused")
		assert.True(t, deployment.IsTransient(err))
	})

	t.Run("confirmed", func(t *testing.T) {
		t.Parallel()

		client := &stubClient{receipt: &Receipt{Status: 1, ContractAddress: common.HexToAddress("0xabc")}}
		c := Chain{Client: client, Confirmer: NewConfirmer(client, WithTickInterval(time.Millisecond))}

		receipt, err := SubmitAndConfirm(t.Context(), c, Transaction{Data: []byte{0x60}})
		require.NoError(t, err)
		assert.Equal(t, common.HexToAddress("0xabc"), receipt.ContractAddress)
	})
}
