package deployer

import (
	"fmt"
	"math/big"
	"reflect"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/Bidon15/nitro-migrate/internal/plan"
)

// PackConstructor converts plan literals into the Go values the constructor
// inputs expect and ABI-encodes them.
func PackConstructor(contract abi.ABI, args []plan.Literal) ([]byte, error) {
	inputs := contract.Constructor.Inputs
	if len(inputs) != len(args) {
		return nil, fmt.Errorf("%w: constructor takes %d, got %d", ErrArgCount, len(inputs), len(args))
	}

	values := make([]interface{}, len(args))
	for i, input := range inputs {
		v, err := Coerce(input.Type, args[i])
		if err != nil {
			name := input.Name
			if name == "" {
				name = fmt.Sprintf("#%d", i+1)
			}
			return nil, fmt.Errorf("argument %s (%s): %w", name, input.Type.String(), err)
		}
		values[i] = v
	}

	return contract.Pack("", values...)
}

// Coerce converts a literal into the Go representation of typ.
func Coerce(typ abi.Type, lit plan.Literal) (interface{}, error) {
	switch typ.T {
	case abi.AddressTy:
		s, ok := lit.Value().(string)
		if !ok || !common.IsHexAddress(s) || !strings.HasPrefix(strings.ToLower(s), "0x") {
			return nil, fmt.Errorf("%w: %q is not an address", ErrBadArgument, lit.String())
		}
		return common.HexToAddress(s), nil

	case abi.UintTy, abi.IntTy:
		n, err := toBigInt(lit)
		if err != nil {
			return nil, err
		}
		return sizedInt(typ, n)

	case abi.StringTy:
		return lit.String(), nil

	case abi.BoolTy:
		switch v := lit.Value().(type) {
		case bool:
			return v, nil
		case string:
			switch strings.ToLower(v) {
			case "true":
				return true, nil
			case "false":
				return false, nil
			}
		}
		return nil, fmt.Errorf("%w: %q is not a bool", ErrBadArgument, lit.String())

	case abi.BytesTy:
		b, err := decodeHex(lit)
		if err != nil {
			return nil, err
		}
		return b, nil

	case abi.FixedBytesTy:
		b, err := decodeHex(lit)
		if err != nil {
			return nil, err
		}
		if len(b) > typ.Size {
			return nil, fmt.Errorf("%w: %d bytes do not fit bytes%d", ErrBadArgument, len(b), typ.Size)
		}
		arr := reflect.New(typ.GetType()).Elem()
		reflect.Copy(arr, reflect.ValueOf(b))
		return arr.Interface(), nil

	default:
		return nil, fmt.Errorf("%w: unsupported constructor type %s", ErrBadArgument, typ.String())
	}
}

func toBigInt(lit plan.Literal) (*big.Int, error) {
	switch v := lit.Value().(type) {
	case *big.Int:
		return new(big.Int).Set(v), nil
	case string:
		v = strings.TrimSpace(v)
		base := 10
		if strings.HasPrefix(v, "0x") || strings.HasPrefix(v, "0X") {
			base = 0
		}
		n, ok := new(big.Int).SetString(v, base)
		if !ok {
			return nil, fmt.Errorf("%w: %q is not an integer", ErrBadArgument, v)
		}
		return n, nil
	default:
		return nil, fmt.Errorf("%w: %q is not an integer", ErrBadArgument, lit.String())
	}
}

// sizedInt returns the concrete Go type go-ethereum expects for typ: a sized
// integer for widths up to 64 bits and *big.Int above that.
func sizedInt(typ abi.Type, n *big.Int) (interface{}, error) {
	if typ.T == abi.UintTy && n.Sign() < 0 {
		return nil, fmt.Errorf("%w: %s is negative for %s", ErrBadArgument, n, typ.String())
	}

	limit := new(big.Int).Lsh(big.NewInt(1), uint(typ.Size))
	if typ.T == abi.IntTy {
		limit.Rsh(limit, 1)
		if n.Cmp(limit) >= 0 || n.Cmp(new(big.Int).Neg(limit)) < 0 {
			return nil, fmt.Errorf("%w: %s overflows %s", ErrBadArgument, n, typ.String())
		}
	} else if n.Cmp(limit) >= 0 {
		return nil, fmt.Errorf("%w: %s overflows %s", ErrBadArgument, n, typ.String())
	}

	switch typ.GetType().Kind() {
	case reflect.Uint8:
		return uint8(n.Uint64()), nil
	case reflect.Uint16:
		return uint16(n.Uint64()), nil
	case reflect.Uint32:
		return uint32(n.Uint64()), nil
	case reflect.Uint64:
		return n.Uint64(), nil
	case reflect.Int8:
		return int8(n.Int64()), nil
	case reflect.Int16:
		return int16(n.Int64()), nil
	case reflect.Int32:
		return int32(n.Int64()), nil
	case reflect.Int64:
		return n.Int64(), nil
	default:
		return n, nil
	}
}

func decodeHex(lit plan.Literal) ([]byte, error) {
	s, ok := lit.Value().(string)
	if !ok {
		return nil, fmt.Errorf("%w: %q is not hex", ErrBadArgument, lit.String())
	}
	b, err := hexutil.Decode(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %v", ErrBadArgument, s, err)
	}
	return b, nil
}
