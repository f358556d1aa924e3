package reconcile

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"math/big"
	"reflect"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

// Equal compares two field values. Addresses compare by value, integers by numeric value
// regardless of their Go type, byte slices by content.
func Equal(a, b any) bool {
	if ab, ok := toBig(a); ok {
		bb, ok := toBig(b)
		return ok && ab.Cmp(bb) == 0
	}

	if aa, ok := toAddress(a); ok {
		ba, ok := toAddress(b)
		return ok && aa == ba
	}

	if as, ok := a.([]byte); ok {
		bs, ok := b.([]byte)
		return ok && bytes.Equal(as, bs)
	}

	return reflect.DeepEqual(a, b)
}

// IsZero reports whether v is the zero value of its type: the zero address, 0, false, "" or an
// all-zero fixed byte array.
func IsZero(v any) bool {
	if v == nil {
		return true
	}
	if b, ok := toBig(v); ok {
		return b.Sign() == 0
	}
	if a, ok := toAddress(v); ok {
		return a == (common.Address{})
	}

	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Slice {
		return rv.Len() == 0
	}

	return rv.IsZero()
}

// FormatValue renders a field value for logs and reports.
func FormatValue(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case common.Address:
		return t.Hex()
	case *common.Address:
		if t == nil {
			return ""
		}

		return t.Hex()
	case *big.Int:
		return t.String()
	case []byte:
		return "0x" + hex.EncodeToString(t)
	case [32]byte:
		return common.Hash(t).Hex()
	default:
		return fmt.Sprint(v)
	}
}

// Convert converts v to the Go type the ABI encoder expects for t. Strings are parsed according
// to t, integers of any Go type are range checked. UnitAddress references are returned as is.
func Convert(v any, t abi.Type) (any, error) {
	if _, ok := v.(UnitAddress); ok {
		if t.T != abi.AddressTy {
			return nil, fmt.Errorf("unit reference %v used for %s", v, t.String())
		}

		return v, nil
	}

	switch t.T {
	case abi.AddressTy:
		switch a := v.(type) {
		case common.Address:
			return a, nil
		case string:
			if !common.IsHexAddress(a) {
				return nil, fmt.Errorf("invalid address %q", a)
			}

			return common.HexToAddress(a), nil
		}

	case abi.UintTy, abi.IntTy:
		n, ok := toBig(v)
		if !ok {
			s, isString := v.(string)
			if !isString {
				break
			}
			n, ok = new(big.Int).SetString(strings.TrimSpace(s), 0)
			if !ok {
				return nil, fmt.Errorf("invalid %s %q", t.String(), s)
			}
		}

		return convertInt(n, t)

	case abi.BoolTy:
		switch b := v.(type) {
		case bool:
			return b, nil
		case string:
			parsed, err := strconv.ParseBool(b)
			if err != nil {
				return nil, fmt.Errorf("invalid bool %q", b)
			}

			return parsed, nil
		}

	case abi.StringTy:
		if s, ok := v.(string); ok {
			return s, nil
		}

	case abi.BytesTy:
		switch b := v.(type) {
		case []byte:
			return b, nil
		case string:
			return decodeHex(b)
		}

	case abi.FixedBytesTy:
		var raw []byte
		switch b := v.(type) {
		case []byte:
			raw = b
		case string:
			decoded, err := decodeHex(b)
			if err != nil {
				return nil, err
			}
			raw = decoded
		default:
			if reflect.TypeOf(v) == t.GetType() {
				return v, nil
			}
		}
		if raw != nil {
			if len(raw) != t.Size {
				return nil, fmt.Errorf("%s needs %d bytes, got %d", t.String(), t.Size, len(raw))
			}
			arr := reflect.New(t.GetType()).Elem()
			reflect.Copy(arr, reflect.ValueOf(raw))

			return arr.Interface(), nil
		}

	default:
		return v, nil
	}

	return nil, fmt.Errorf("cannot convert %T to %s", v, t.String())
}

var bigIntType = reflect.TypeOf(&big.Int{})

func convertInt(n *big.Int, t abi.Type) (any, error) {
	if t.T == abi.UintTy && n.Sign() < 0 {
		return nil, fmt.Errorf("%s cannot be negative", t.String())
	}
	bits := n.BitLen()
	if t.T == abi.IntTy {
		if n.Sign() < 0 {
			// -2^(k-1) still fits in k bits
			bits = new(big.Int).Sub(new(big.Int).Neg(n), big.NewInt(1)).BitLen()
		}
		bits++
	}
	if bits > t.Size {
		return nil, fmt.Errorf("%s overflows %s", n.String(), t.String())
	}

	// only 8, 16, 32 and 64 bits map to native integers, every other width packs from *big.Int
	goType := t.GetType()
	if goType == bigIntType {
		return new(big.Int).Set(n), nil
	}
	if t.T == abi.UintTy {
		return reflect.ValueOf(n.Uint64()).Convert(goType).Interface(), nil
	}

	return reflect.ValueOf(n.Int64()).Convert(goType).Interface(), nil
}

func decodeHex(s string) ([]byte, error) {
	s = strings.TrimPrefix(strings.TrimSpace(s), "0x")
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("invalid hex %q: %w", s, err)
	}

	return b, nil
}

func toBig(v any) (*big.Int, bool) {
	switch n := v.(type) {
	case *big.Int:
		if n == nil {
			return nil, false
		}

		return n, true
	case int:
		return big.NewInt(int64(n)), true
	case int8:
		return big.NewInt(int64(n)), true
	case int16:
		return big.NewInt(int64(n)), true
	case int32:
		return big.NewInt(int64(n)), true
	case int64:
		return big.NewInt(n), true
	case uint:
		return new(big.Int).SetUint64(uint64(n)), true
	case uint8:
		return new(big.Int).SetUint64(uint64(n)), true
	case uint16:
		return new(big.Int).SetUint64(uint64(n)), true
	case uint32:
		return new(big.Int).SetUint64(uint64(n)), true
	case uint64:
		return new(big.Int).SetUint64(n), true
	default:
		return nil, false
	}
}

func toAddress(v any) (common.Address, bool) {
	switch a := v.(type) {
	case common.Address:
		return a, true
	case *common.Address:
		if a == nil {
			return common.Address{}, false
		}

		return *a, true
	default:
		return common.Address{}, false
	}
}
