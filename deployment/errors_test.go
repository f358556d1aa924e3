package deployment

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func Test_IsTransient(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		give error
		want bool
	}{
		{name: "nil", give: nil, want: false},
		{name: "confirmation timeout", give: fmt.Errorf("tx 0x1: %w", ErrConfirmationTimeout), want: true},
		{name: "transient wrapper", give: NewTransientError(errors.New("connection refused")), want: true},
		{name: "wrapped transient", give: fmt.Errorf("step 1: %w", NewTransientError(errors.New("eof"))), want: true},
		{name: "deployment failed", give: fmt.Errorf("unit Vault: %w", ErrDeploymentFailed), want: false},
		{name: "canceled", give: NewTransientError(context.Canceled), want: false},
		{
			name: "retries exhausted",
			give: fmt.Errorf("%w: %w", ErrRetriesExhausted, NewTransientError(errors.New("eof"))),
			want: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			assert.Equal(t, tt.want, IsTransient(tt.give))
			if tt.give != nil {
				assert.Equal(t, !tt.want, IsFatal(tt.give))
			}
		})
	}

	assert.NoError(t, NewTransientError(nil))
}
