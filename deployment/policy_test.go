package deployment

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func Test_DefaultOverwritePolicy(t *testing.T) {
	t.Parallel()

	assert.Equal(t, OverwriteAlways, DefaultOverwritePolicy(NetworkTypeEphemeral))
	assert.Equal(t, OverwriteIfChanged, DefaultOverwritePolicy(NetworkTypePersistent))
}

func Test_ResolveOverwrite(t *testing.T) {
	t.Parallel()

	yes, no := true, false

	tests := []struct {
		name     string
		explicit *bool
		policy   OverwritePolicy
		want     bool
	}{
		{name: "policy always", policy: OverwriteAlways, want: true},
		{name: "policy if changed", policy: OverwriteIfChanged, want: false},
		{name: "explicit false wins", explicit: &no, policy: OverwriteAlways, want: false},
		{name: "explicit true wins", explicit: &yes, policy: OverwriteIfChanged, want: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			assert.Equal(t, tt.want, ResolveOverwrite(tt.explicit, tt.policy))
		})
	}
}

func Test_Validate_Enums(t *testing.T) {
	t.Parallel()

	assert.NoError(t, NetworkTypeEphemeral.Validate())
	assert.EqualError(t, NetworkType("mainnet").Validate(), `unknown network type "mainnet"`)
	assert.NoError(t, OverwriteIfChanged.Validate())
	assert.EqualError(t, OverwritePolicy("never").Validate(), `unknown overwrite policy "never"`)
}
