package plan

import (
	"encoding/json"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"gopkg.in/yaml.v3"
)

// PlaceholderURI stands in for a metadata base URI that must be replaced
// before a production deployment.
const PlaceholderURI = "#"

// Kind classifies a literal constructor argument.
type Kind string

const (
	KindAddress        Kind = "address"
	KindNumeric        Kind = "numeric_string"
	KindPlaceholderURI Kind = "placeholder_uri"
	KindHex            Kind = "hex"
	KindString         Kind = "string"
	KindInteger        Kind = "integer"
	KindBool           Kind = "bool"
)

// Literal is a single constructor argument exactly as written in a plan file.
// The underlying value is a string, a *big.Int or a bool.
type Literal struct {
	raw any
}

// String returns a string literal.
func String(s string) Literal { return Literal{raw: s} }

// Int returns an integer literal.
func Int(n int64) Literal { return Literal{raw: big.NewInt(n)} }

// Bool returns a boolean literal.
func Bool(b bool) Literal { return Literal{raw: b} }

// Value returns the underlying value.
func (l Literal) Value() any { return l.raw }

// String renders the literal the way it appears in a plan file.
func (l Literal) String() string {
	switch v := l.raw.(type) {
	case string:
		return v
	case *big.Int:
		return v.String()
	case bool:
		if v {
			return "true"
		}
		return "false"
	default:
		return ""
	}
}

// Kind classifies the literal.
func (l Literal) Kind() Kind {
	switch v := l.raw.(type) {
	case *big.Int:
		return KindInteger
	case bool:
		return KindBool
	case string:
		switch {
		case v == PlaceholderURI:
			return KindPlaceholderURI
		case has0xPrefix(v) && len(v) == 2+2*common.HashLength:
			return KindHex
		case has0xPrefix(v):
			return KindAddress
		case isDigits(v):
			return KindNumeric
		default:
			return KindString
		}
	default:
		return KindString
	}
}

// Check verifies the literal is well formed for its kind. Any 0x string other
// than a 32-byte word must be a 20-byte hex address, and numeric values must
// be non-negative integers.
func (l Literal) Check() error {
	if l.raw == nil {
		return fmt.Errorf("%w: empty value", ErrInvalidLiteral)
	}

	switch l.Kind() {
	case KindAddress:
		s := l.raw.(string)
		if !common.IsHexAddress(s) {
			return fmt.Errorf("%w: %q is not a 20-byte hex address", ErrInvalidLiteral, s)
		}
	case KindHex:
		s := l.raw.(string)
		if !isHex(s[2:]) {
			return fmt.Errorf("%w: %q is not a valid 32-byte word", ErrInvalidLiteral, s)
		}
	case KindNumeric:
		s := l.raw.(string)
		if _, ok := new(big.Int).SetString(s, 10); !ok {
			return fmt.Errorf("%w: %q is not an integer", ErrInvalidLiteral, s)
		}
	case KindInteger:
		if l.raw.(*big.Int).Sign() < 0 {
			return fmt.Errorf("%w: %s is negative", ErrInvalidLiteral, l.raw.(*big.Int))
		}
	}
	return nil
}

// UnmarshalYAML keeps the scalar's YAML tag so "450" stays a string and 1
// stays an integer.
func (l *Literal) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.ScalarNode {
		return fmt.Errorf("%w: line %d: expected a scalar", ErrInvalidLiteral, node.Line)
	}

	switch node.ShortTag() {
	case "!!str":
		l.raw = node.Value
	case "!!int":
		// An unquoted 0x value is far more likely an address than a hex integer.
		if has0xPrefix(node.Value) {
			l.raw = node.Value
			return nil
		}
		n, ok := new(big.Int).SetString(strings.ReplaceAll(node.Value, "_", ""), 0)
		if !ok {
			return fmt.Errorf("%w: line %d: bad integer %q", ErrInvalidLiteral, node.Line, node.Value)
		}
		l.raw = n
	case "!!bool":
		var b bool
		if err := node.Decode(&b); err != nil {
			return fmt.Errorf("%w: line %d: %v", ErrInvalidLiteral, node.Line, err)
		}
		l.raw = b
	default:
		return fmt.Errorf("%w: line %d: unsupported value %q (%s)", ErrInvalidLiteral, node.Line, node.Value, node.ShortTag())
	}
	return nil
}

// MarshalJSON emits strings as strings, integers as numbers and bools as bools.
func (l Literal) MarshalJSON() ([]byte, error) {
	switch v := l.raw.(type) {
	case *big.Int:
		return []byte(v.String()), nil
	case nil:
		return []byte("null"), nil
	default:
		return json.Marshal(v)
	}
}

func has0xPrefix(s string) bool {
	return len(s) >= 2 && s[0] == '0' && (s[1] == 'x' || s[1] == 'X')
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}

func isHex(s string) bool {
	for _, c := range s {
		if !('0' <= c && c <= '9' || 'a' <= c && c <= 'f' || 'A' <= c && c <= 'F') {
			return false
		}
	}
	return true
}
