package types

import (
	"encoding/json"
	"fmt"
	"math/big"
)

// Amount is a non-negative U256 quantity carried on the wire as a decimal
// string. The facilitator never performs float arithmetic on value: every
// comparison and transfer amount flows through this type.
type Amount struct {
	v *big.Int
}

// ErrNegativeAmount is returned when a decimal string encodes a negative value.
var ErrNegativeAmount = fmt.Errorf("amount: negative values are not valid U256 quantities")

// ZeroAmount is the additive identity.
func ZeroAmount() Amount { return Amount{v: big.NewInt(0)} }

// AmountFromUint64 builds an Amount from a small non-negative integer, mainly for tests.
func AmountFromUint64(v uint64) Amount {
	return Amount{v: new(big.Int).SetUint64(v)}
}

// ParseAmount parses a base-10, non-scientific-notation decimal string into an Amount.
func ParseAmount(s string) (Amount, error) {
	if s == "" {
		return Amount{}, fmt.Errorf("amount: empty string")
	}
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return Amount{}, fmt.Errorf("amount: %q is not a base-10 integer", s)
	}
	if v.Sign() < 0 {
		return Amount{}, ErrNegativeAmount
	}
	return Amount{v: v}, nil
}

// String renders the amount as a decimal string.
func (a Amount) String() string {
	if a.v == nil {
		return "0"
	}
	return a.v.String()
}

// Cmp compares two amounts the way big.Int.Cmp does: -1, 0, or 1.
func (a Amount) Cmp(other Amount) int {
	av, ov := a.bigOrZero(), other.bigOrZero()
	return av.Cmp(ov)
}

// GTE reports whether a >= other — the exact comparison the minimum-payment rule needs.
func (a Amount) GTE(other Amount) bool { return a.Cmp(other) >= 0 }

func (a Amount) bigOrZero() *big.Int {
	if a.v == nil {
		return big.NewInt(0)
	}
	return a.v
}

func (a Amount) MarshalJSON() ([]byte, error) {
	return json.Marshal(a.String())
}

func (a *Amount) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("amount: %w", err)
	}
	parsed, err := ParseAmount(s)
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}
