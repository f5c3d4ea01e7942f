package models

import (
	"fmt"
	"math/big"
)

// BigInt wraps big.Int so that amounts, reserves and gas fields travel over
// the bus as base-10 strings and never lose precision in JSON.
type BigInt struct {
	value *big.Int
}

// NewBigInt wraps an existing big.Int. A nil input is treated as zero.
func NewBigInt(v *big.Int) BigInt {
	if v == nil {
		return BigInt{value: new(big.Int)}
	}
	return BigInt{value: new(big.Int).Set(v)}
}

// NewBigIntFromInt64 builds a BigInt from an int64.
func NewBigIntFromInt64(v int64) BigInt {
	return BigInt{value: big.NewInt(v)}
}

// ParseBigInt parses a base-10 string.
func ParseBigInt(s string) (BigInt, error) {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return BigInt{}, fmt.Errorf("invalid integer string %q", s)
	}
	return BigInt{value: v}, nil
}

// Int returns the underlying big.Int, never nil.
func (b BigInt) Int() *big.Int {
	if b.value == nil {
		return new(big.Int)
	}
	return b.value
}

// IsZero reports whether the value is unset or zero.
func (b BigInt) IsZero() bool {
	return b.value == nil || b.value.Sign() == 0
}

// Sign returns -1, 0, or +1.
func (b BigInt) Sign() int {
	if b.value == nil {
		return 0
	}
	return b.value.Sign()
}

// Cmp compares against another BigInt.
func (b BigInt) Cmp(other BigInt) int {
	return b.Int().Cmp(other.Int())
}

// String renders the value in base 10.
func (b BigInt) String() string {
	return b.Int().String()
}

// MarshalJSON encodes the value as a quoted base-10 string.
func (b BigInt) MarshalJSON() ([]byte, error) {
	return []byte(`"` + b.Int().String() + `"`), nil
}

// UnmarshalJSON accepts both quoted decimal strings and bare JSON numbers;
// upstream producers are not consistent about quoting.
func (b *BigInt) UnmarshalJSON(data []byte) error {
	s := string(data)
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		s = s[1 : len(s)-1]
	}
	if s == "" || s == "null" {
		b.value = new(big.Int)
		return nil
	}
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return fmt.Errorf("invalid integer value %q", s)
	}
	b.value = v
	return nil
}
