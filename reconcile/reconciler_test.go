package reconcile

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"github.com/chainwire/migrator/artifact"
	"github.com/chainwire/migrator/deployer"
	"github.com/chainwire/migrator/deployment"
	"github.com/chainwire/migrator/internal/testutils"
	"github.com/chainwire/migrator/pkg/logger"
	"github.com/chainwire/migrator/registry"
)

var outsider = common.HexToAddress("0x00000000000000000000000000000000000000ee")

type fixture struct {
	fake      *testutils.FakeChain
	reg       *registry.MemoryRegistry
	deployer  *deployer.Deployer
	r         *Reconciler
	addresses map[string]common.Address
}

func newFixture(t *testing.T, lggr logger.Logger) *fixture {
	t.Helper()

	fake := testutils.NewFakeChain()
	fake.RegisterFixtures()
	reg := registry.NewMemoryRegistry()
	catalog, err := artifact.NewCatalog(testutils.Fixtures()...)
	require.NoError(t, err)

	return &fixture{
		fake:      fake,
		reg:       reg,
		deployer:  deployer.New(fake.Chain(), reg, "local", deployment.OverwriteIfChanged, lggr),
		r:         New(fake.Chain(), reg, catalog, "local", lggr),
		addresses: map[string]common.Address{},
	}
}

func (f *fixture) deploy(t *testing.T, units ...deployment.Unit) {
	t.Helper()

	for _, u := range units {
		var args []any
		if len(u.ABI.Constructor.Inputs) > 0 {
			args = []any{outsider}
		}
		res, err := f.deployer.Deploy(t.Context(), u, args)
		require.NoError(t, err)
		f.addresses[u.Name] = res.Record.Address
	}
}

func Test_Reconcile_SetterIsIdempotent(t *testing.T) {
	t.Parallel()

	f := newFixture(t, logger.Test(t))
	f.deploy(t, testutils.MathLib(), testutils.Vault(), testutils.Registry())
	deployTxs := f.fake.TxCount()

	rel := Relationship{Source: "Registry", Field: "vault", Setter: "setVault", Target: "Vault"}

	res, err := f.r.Reconcile(t.Context(), rel)
	require.NoError(t, err)
	assert.True(t, res.Changed)
	assert.NotEqual(t, common.Hash{}, res.TxHash)
	assert.Equal(t, common.Address{}, res.Current)
	assert.Equal(t, f.addresses["Vault"], res.Desired)
	assert.Equal(t, f.addresses["Vault"], f.fake.Field(f.addresses["Registry"], "vault"))
	assert.Equal(t, deployTxs+1, f.fake.TxCount())

	res, err = f.r.Reconcile(t.Context(), rel)
	require.NoError(t, err)
	assert.False(t, res.Changed)
	assert.Equal(t, common.Hash{}, res.TxHash)
	assert.Equal(t, deployTxs+1, f.fake.TxCount())
}

func Test_Reconcile_CorrectsDrift(t *testing.T) {
	t.Parallel()

	f := newFixture(t, logger.Test(t))
	f.deploy(t, testutils.Token(), testutils.Registry())
	rel := Relationship{Source: "Registry", Field: "token", Setter: "setToken", Target: "Token"}

	_, err := f.r.Reconcile(t.Context(), rel)
	require.NoError(t, err)

	f.fake.SetField(f.addresses["Registry"], "token", outsider)

	res, err := f.r.Reconcile(t.Context(), rel)
	require.NoError(t, err)
	assert.True(t, res.Changed)
	assert.Equal(t, outsider, res.Current)
	assert.Equal(t, f.addresses["Token"], f.fake.Field(f.addresses["Registry"], "token"))
}

func Test_Reconcile_DesiredValues(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		rel   Relationship
		field string
		want  func(f *fixture) any
	}{
		{
			name:  "literal integer",
			rel:   Relationship{Source: "Registry", Field: "fee", Setter: "setFee", Value: 25},
			field: "fee",
			want:  func(*fixture) any { return big.NewInt(25) },
		},
		{
			name:  "literal string",
			rel:   Relationship{Source: "Registry", Field: "fee", Setter: "setFee", Value: "0x19"},
			field: "fee",
			want:  func(*fixture) any { return big.NewInt(25) },
		},
		{
			name:  "unit reference",
			rel:   Relationship{Source: "Registry", Field: "token", Setter: "setToken", Value: UnitAddress("Token")},
			field: "token",
			want:  func(f *fixture) any { return f.addresses["Token"] },
		},
		{
			name: "desired function",
			rel: Relationship{
				Source: "Registry", Field: "token", Setter: "setToken",
				Desired: func(ctx context.Context, lookup AddressLookup) (any, error) {
					return lookup.Address(ctx, "Token")
				},
			},
			field: "token",
			want:  func(f *fixture) any { return f.addresses["Token"] },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			f := newFixture(t, logger.Test(t))
			f.deploy(t, testutils.Token(), testutils.Registry())

			res, err := f.r.Reconcile(t.Context(), tt.rel)
			require.NoError(t, err)
			assert.True(t, res.Changed)
			assert.True(t, Equal(tt.want(f), f.fake.Field(f.addresses["Registry"], tt.field)))

			res, err = f.r.Reconcile(t.Context(), tt.rel)
			require.NoError(t, err)
			assert.False(t, res.Changed)
		})
	}
}

func Test_Reconcile_NeverWiresZeroAddress(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		rel  Relationship
	}{
		{
			name: "target not deployed",
			rel:  Relationship{Source: "Registry", Field: "token", Setter: "setToken", Target: "Token"},
		},
		{
			name: "zero address literal",
			rel:  Relationship{Source: "Registry", Field: "token", Setter: "setToken", Value: common.Address{}},
		},
		{
			name: "reference to an undeployed unit",
			rel:  Relationship{Source: "Registry", Field: "token", Setter: "setToken", Value: UnitAddress("Token")},
		},
		{
			name: "source not deployed",
			rel:  Relationship{Source: "Vault", Field: "registry", Setter: "setRegistry", Target: "Registry"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			f := newFixture(t, logger.Test(t))
			f.deploy(t, testutils.Registry())
			txs := f.fake.TxCount()

			_, err := f.r.Reconcile(t.Context(), tt.rel)
			require.ErrorIs(t, err, deployment.ErrMissingDependency)
			assert.True(t, deployment.IsFatal(err))
			assert.Equal(t, txs, f.fake.TxCount())
		})
	}
}

func Test_Reconcile_Initializer(t *testing.T) {
	t.Parallel()

	lggr, logs := logger.TestObserved(t, zapcore.WarnLevel)
	f := newFixture(t, lggr)
	f.deploy(t, testutils.Token(), testutils.Proxy())

	rel := Relationship{
		Source: "Proxy", Field: "admin", Setter: "initialize", Target: "Token", Kind: KindInitializer,
	}

	res, err := f.r.Reconcile(t.Context(), rel)
	require.NoError(t, err)
	assert.True(t, res.Changed)
	assert.False(t, res.AlreadyInitialized)
	txs := f.fake.TxCount()

	res, err = f.r.Reconcile(t.Context(), rel)
	require.NoError(t, err)
	assert.False(t, res.Changed)
	assert.True(t, res.AlreadyInitialized)
	assert.Equal(t, txs, f.fake.TxCount())
	assert.Equal(t, 0, logs.Len())
}

func Test_Reconcile_InitializerWithDifferentOwner(t *testing.T) {
	t.Parallel()

	lggr, logs := logger.TestObserved(t, zapcore.WarnLevel)
	f := newFixture(t, lggr)
	f.deploy(t, testutils.Token(), testutils.Proxy())
	f.fake.SetField(f.addresses["Proxy"], "admin", outsider)
	txs := f.fake.TxCount()

	res, err := f.r.Reconcile(t.Context(), Relationship{
		Source: "Proxy", Field: "admin", Setter: "initialize", Target: "Token", Kind: KindInitializer,
	})
	require.NoError(t, err)
	assert.True(t, res.AlreadyInitialized)
	assert.False(t, res.Changed)
	assert.Equal(t, outsider, res.Current)
	assert.Equal(t, txs, f.fake.TxCount())
	assert.Equal(t, 1, logs.FilterMessage("Already initialized with a different value, leaving it").Len())
}

func Test_Reconcile_Failures(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name          string
		setup         func(*testutils.FakeChain)
		wantErrIs     error
		wantTransient bool
	}{
		{
			name:      "setter reverts",
			setup:     func(f *testutils.FakeChain) { f.RevertNext(1) },
			wantErrIs: deployment.ErrTransactionReverted,
		},
		{
			name:          "read fails",
			setup:         func(f *testutils.FakeChain) { f.FailCalls(errors.New("connection reset by peer")) },
			wantTransient: true,
		},
		{
			name:          "setter never confirmed",
			setup:         func(f *testutils.FakeChain) { f.HoldReceipts(true) },
			wantErrIs:     deployment.ErrConfirmationTimeout,
			wantTransient: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			f := newFixture(t, logger.Test(t))
			f.deploy(t, testutils.Token(), testutils.Registry())
			tt.setup(f.fake)

			_, err := f.r.Reconcile(t.Context(), Relationship{
				Source: "Registry", Field: "token", Setter: "setToken", Target: "Token",
			})
			require.Error(t, err)
			if tt.wantErrIs != nil {
				require.ErrorIs(t, err, tt.wantErrIs)
			}
			assert.Equal(t, tt.wantTransient, deployment.IsTransient(err))
			assert.Contains(t, err.Error(), "relationship Registry.token")
		})
	}
}

func Test_Reconcile_Invalid(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		rel     Relationship
		wantErr string
	}{
		{
			name:    "no source",
			rel:     Relationship{Field: "token", Setter: "setToken", Target: "Token"},
			wantErr: "source is required",
		},
		{
			name:    "no setter",
			rel:     Relationship{Source: "Registry", Field: "token", Target: "Token"},
			wantErr: "setter is required",
		},
		{
			name:    "target and value",
			rel:     Relationship{Source: "Registry", Field: "token", Setter: "setToken", Target: "Token", Value: 1},
			wantErr: "exactly one of target, value or desired is required",
		},
		{
			name:    "unknown kind",
			rel:     Relationship{Source: "Registry", Field: "token", Setter: "setToken", Target: "Token", Kind: "sometimes"},
			wantErr: `unknown relationship kind "sometimes"`,
		},
		{
			name:    "unknown unit",
			rel:     Relationship{Source: "Oracle", Field: "token", Setter: "setToken", Target: "Token"},
			wantErr: "unit Oracle is not defined",
		},
		{
			name:    "unknown setter",
			rel:     Relationship{Source: "Registry", Field: "token", Setter: "setOwner", Target: "Token"},
			wantErr: "unit Registry has no method setOwner",
		},
		{
			name:    "unknown getter",
			rel:     Relationship{Name: "wiring", Source: "Registry", Field: "owner", Setter: "setToken", Target: "Token"},
			wantErr: "relationship wiring: unit Registry has no method owner",
		},
		{
			name:    "value of the wrong type",
			rel:     Relationship{Source: "Registry", Field: "fee", Setter: "setFee", Value: "lots"},
			wantErr: `desired value: invalid uint256 "lots"`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			f := newFixture(t, logger.Test(t))
			f.deploy(t, testutils.Token(), testutils.Registry())

			_, err := f.r.Reconcile(t.Context(), tt.rel)
			require.ErrorContains(t, err, tt.wantErr)
		})
	}
}

func Test_ResolveArgs(t *testing.T) {
	t.Parallel()

	f := newFixture(t, logger.Test(t))
	f.deploy(t, testutils.Token())

	args, err := ResolveArgs(t.Context(), f.r, []any{UnitAddress("Token"), big.NewInt(1)})
	require.NoError(t, err)
	assert.Equal(t, []any{f.addresses["Token"], big.NewInt(1)}, args)

	_, err = ResolveArgs(t.Context(), f.r, []any{UnitAddress("Vault")})
	require.ErrorIs(t, err, deployment.ErrMissingDependency)
}
