package reconcile

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustType(t *testing.T, s string) abi.Type {
	t.Helper()

	typ, err := abi.NewType(s, "", nil)
	require.NoError(t, err)

	return typ
}

func Test_Equal(t *testing.T) {
	t.Parallel()

	addr := common.HexToAddress("0x01")

	tests := []struct {
		name string
		a, b any
		want bool
	}{
		{name: "big and int", a: big.NewInt(7), b: 7, want: true},
		{name: "uint8 and big", a: uint8(7), b: big.NewInt(7), want: true},
		{name: "different numbers", a: big.NewInt(7), b: big.NewInt(8)},
		{name: "number and address", a: 1, b: addr},
		{name: "address and pointer", a: addr, b: &addr, want: true},
		{name: "different addresses", a: addr, b: common.Address{}},
		{name: "bytes", a: []byte{1, 2}, b: []byte{1, 2}, want: true},
		{name: "strings", a: "a", b: "a", want: true},
		{name: "bools", a: true, b: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			assert.Equal(t, tt.want, Equal(tt.a, tt.b))
		})
	}
}

func Test_IsZero(t *testing.T) {
	t.Parallel()

	assert.True(t, IsZero(nil))
	assert.True(t, IsZero(common.Address{}))
	assert.True(t, IsZero(new(big.Int)))
	assert.True(t, IsZero(uint64(0)))
	assert.True(t, IsZero(false))
	assert.True(t, IsZero([32]byte{}))
	assert.True(t, IsZero([]byte{}))

	assert.False(t, IsZero(common.HexToAddress("0x01")))
	assert.False(t, IsZero(big.NewInt(1)))
	assert.False(t, IsZero(true))
	assert.False(t, IsZero("x"))
}

func Test_Convert(t *testing.T) {
	t.Parallel()

	addr := common.HexToAddress("0x00000000000000000000000000000000000000aa")

	tests := []struct {
		name    string
		value   any
		typ     string
		want    any
		wantErr string
	}{
		{name: "address string", value: addr.Hex(), typ: "address", want: addr},
		{name: "address", value: addr, typ: "address", want: addr},
		{name: "invalid address", value: "0x12", typ: "address", wantErr: `invalid address "0x12"`},
		{name: "unit reference", value: UnitAddress("Token"), typ: "address", want: UnitAddress("Token")},
		{name: "unit reference as number", value: UnitAddress("Token"), typ: "uint256", wantErr: "unit reference Token used for uint256"},
		{name: "int to uint256", value: 5, typ: "uint256", want: big.NewInt(5)},
		{name: "decimal string to uint256", value: "1000000000000000000000", typ: "uint256", want: mustBig("1000000000000000000000")},
		{name: "hex string to uint64", value: "0xff", typ: "uint64", want: uint64(255)},
		{name: "int to uint8", value: 200, typ: "uint8", want: uint8(200)},
		{name: "negative int32", value: -3, typ: "int32", want: int32(-3)},
		{name: "uint24 fee", value: 3000, typ: "uint24", want: big.NewInt(3000)},
		{name: "uint24 decimal string", value: "16777215", typ: "uint24", want: big.NewInt(16777215)},
		{name: "uint24 overflow", value: 16777216, typ: "uint24", wantErr: "16777216 overflows uint24"},
		{name: "negative int24 tick", value: -887272, typ: "int24", want: big.NewInt(-887272)},
		{name: "int24 minimum", value: -8388608, typ: "int24", want: big.NewInt(-8388608)},
		{name: "int24 overflow", value: 8388608, typ: "int24", wantErr: "8388608 overflows int24"},
		{name: "uint48 timestamp", value: "0x6553f100", typ: "uint48", want: big.NewInt(0x6553f100)},
		{name: "int56 from big", value: big.NewInt(-5), typ: "int56", want: big.NewInt(-5)},
		{name: "uint8 overflow", value: 256, typ: "uint8", wantErr: "256 overflows uint8"},
		{name: "int8 overflow", value: 128, typ: "int8", wantErr: "128 overflows int8"},
		{name: "negative uint", value: -1, typ: "uint256", wantErr: "uint256 cannot be negative"},
		{name: "bool string", value: "true", typ: "bool", want: true},
		{name: "bad bool", value: "yes please", typ: "bool", wantErr: `invalid bool "yes please"`},
		{name: "string", value: "hello", typ: "string", want: "hello"},
		{name: "bytes", value: "0x0102", typ: "bytes", want: []byte{1, 2}},
		{name: "bytes4", value: "0x01020304", typ: "bytes4", want: [4]byte{1, 2, 3, 4}},
		{name: "bytes4 wrong size", value: "0x0102", typ: "bytes4", wantErr: "bytes4 needs 4 bytes, got 2"},
		{name: "wrong go type", value: 1.5, typ: "address", wantErr: "cannot convert float64 to address"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got, err := Convert(tt.value, mustType(t, tt.typ))
			if tt.wantErr != "" {
				require.ErrorContains(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func Test_FormatValue(t *testing.T) {
	t.Parallel()

	addr := common.HexToAddress("0x00000000000000000000000000000000000000aa")

	assert.Equal(t, addr.Hex(), FormatValue(addr))
	assert.Equal(t, "", FormatValue((*common.Address)(nil)))
	assert.Equal(t, "42", FormatValue(big.NewInt(42)))
	assert.Equal(t, "0x0102", FormatValue([]byte{1, 2}))
	assert.Equal(t, "true", FormatValue(true))
	assert.Equal(t, "", FormatValue(nil))
}

func mustBig(s string) *big.Int {
	n, ok := new(big.Int).SetString(s, 10)
	if !ok {
		panic(s)
	}

	return n
}
