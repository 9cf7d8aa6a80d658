// Package logoot implements Logoot position identifiers.
//
// A position identifier (Pos) is a variable-length sequence of digits. Trailing
// zero digits carry no weight, so [5 0 0] and [5] denote the same position.
// Positions form a dense total order bounded by Min and Max: between any two
// distinct positions another one can always be allocated (see Between).
package logoot

import (
	"encoding/json"
	"sort"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// MaxDigit is the largest digit value, 2^53-1. Digits above it cannot travel
// through JSON number encodings without losing precision.
const MaxDigit uint64 = 1<<53 - 1

var (
	// ErrDigitRange is returned for a position holding a digit above MaxDigit.
	ErrDigitRange = errors.New("logoot: digit out of range")
	// ErrEqual is returned when allocating between two equal positions.
	ErrEqual = errors.New("logoot: no position between equal positions")
	// ErrReversed is returned when allocating between a > b.
	ErrReversed = errors.New("logoot: lower bound greater than upper bound")
	// ErrBias is returned for a non-positive bias.
	ErrBias = errors.New("logoot: bias must be positive")
	// ErrAboveMax is returned for a position that sorts after Max.
	ErrAboveMax = errors.New("logoot: position above Max")
)

// Pos is a Logoot position identifier. Values are immutable once created;
// functions in this package never modify their arguments.
type Pos []uint64

// Min returns the least position. It is never assigned to an atom.
func Min() Pos {
	return Pos{}
}

// Max returns the greatest position.
func Max() Pos {
	return Pos{MaxDigit}
}

// Len returns the canonical length of p, i.e. its length with trailing zeros
// stripped. This is the depth of the position.
func (p Pos) Len() int {
	n := len(p)
	for n > 0 && p[n-1] == 0 {
		n--
	}
	return n
}

// Canonical returns p with trailing zeros stripped. The result shares storage
// with p.
func (p Pos) Canonical() Pos {
	return p[:p.Len()]
}

// Compare returns 1 if a > b, -1 if a < b, and 0 if a == b.
func Compare(a, b Pos) int {
	la, lb := a.Len(), b.Len()
	m := minInt(la, lb)
	for i := 0; i < m; i++ {
		if a[i] > b[i] {
			return 1
		} else if a[i] < b[i] {
			return -1
		}
	}
	// Equal up to the shared length; the longer one is bigger.
	if la > lb {
		return 1
	} else if la < lb {
		return -1
	}
	return 0
}

// Less reports whether p sorts before q.
func (p Pos) Less(q Pos) bool {
	return Compare(p, q) < 0
}

// Equal reports whether p and q denote the same position.
func (p Pos) Equal(q Pos) bool {
	return Compare(p, q) == 0
}

// Validate checks that every digit of p is at most MaxDigit and that p does
// not sort after Max.
func (p Pos) Validate() error {
	for i, d := range p {
		if d > MaxDigit {
			return errors.Wrapf(ErrDigitRange, "digit %d is %d", i, d)
		}
	}
	if Compare(p, Max()) > 0 {
		return errors.Wrapf(ErrAboveMax, "%v", p)
	}
	return nil
}

// String returns the dotted encoding of p's canonical form, e.g. "3.0.17".
// Min encodes as the empty string.
func (p Pos) String() string {
	c := p.Canonical()
	strs := make([]string, len(c))
	for i, d := range c {
		strs[i] = strconv.FormatUint(d, 10)
	}
	return strings.Join(strs, ".")
}

// ParsePos parses the encoding produced by Pos.String.
func ParsePos(s string) (Pos, error) {
	if s == "" {
		return Min(), nil
	}
	parts := strings.Split(s, ".")
	p := make(Pos, len(parts))
	for i, v := range parts {
		d, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to parse position %q", s)
		}
		p[i] = d
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}

// MarshalJSON encodes p as an array of numbers. Min encodes as [].
func (p Pos) MarshalJSON() ([]byte, error) {
	if p == nil {
		return []byte("[]"), nil
	}
	return json.Marshal([]uint64(p))
}

// UnmarshalJSON decodes an array of numbers and validates the digits.
func (p *Pos) UnmarshalJSON(b []byte) error {
	var digits []uint64
	if err := json.Unmarshal(b, &digits); err != nil {
		return err
	}
	q := Pos(digits)
	if err := q.Validate(); err != nil {
		return err
	}
	*p = q
	return nil
}

// SortPositions sorts ps in ascending order.
func SortPositions(ps []Pos) {
	sort.Slice(ps, func(i, j int) bool { return Compare(ps[i], ps[j]) < 0 })
}

////////////////////////////////////////
// Internal helpers

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
