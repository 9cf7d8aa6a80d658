package logoot

import (
	"math"
	"math/rand/v2"
	"sync"

	"github.com/pkg/errors"
)

// DefaultBias is the bias used by allocators created without one. Larger
// values keep allocated digits closer to the lower bound, which keeps depth
// low when text is typed sequentially.
const DefaultBias = 100.0

// ErrCount is returned by Range for a negative count.
var ErrCount = errors.New("logoot: negative position count")

// Between returns a new position p with a < p < b, drawing randomness from r.
//
// The result extends the common prefix of a and b and is only made deeper
// than its operands when no digit fits between them at the current depth.
// Replicas calling Between concurrently with the same bounds get distinct
// positions with overwhelming probability.
//
// Between returns ErrReversed if a > b, ErrEqual if a == b, ErrBias if bias
// is not positive, and ErrDigitRange or ErrAboveMax if either operand is
// malformed.
func Between(r *rand.Rand, a, b Pos, bias float64) (Pos, error) {
	if !(bias > 0) {
		return nil, ErrBias
	}
	if err := a.Validate(); err != nil {
		return nil, err
	}
	if err := b.Validate(); err != nil {
		return nil, err
	}
	switch Compare(a, b) {
	case 0:
		return nil, ErrEqual
	case 1:
		return nil, ErrReversed
	}

	la, lb := a.Len(), b.Len()
	m := minInt(la, lb)
	out := make(Pos, 0, maxInt(la, lb)+2)

	i := 0
	for i < m && a[i] == b[i] {
		out = append(out, a[i])
		i++
	}

	// Bounds (inclusive) for the final digit.
	lo, hi := uint64(1), MaxDigit-1

	if i < m {
		// Since a < b, a[i] < b[i].
		if b[i]-a[i] > 1 {
			lo, hi = a[i]+1, b[i]-1
		} else {
			// No digit fits between a[i] and b[i]. Keep a[i] and go one level
			// deeper, past any digits of a that leave no room above them.
			out = append(out, a[i])
			i++
			for i < la && a[i] >= MaxDigit-1 {
				out = append(out, a[i])
				i++
			}
			if i < la {
				lo = a[i] + 1
			}
		}
	} else {
		// a is a prefix of b. Digits cannot go below zero, so copy b's zeros.
		// b[lb-1] is non-zero, so this stops before the end of b.
		for b[i] == 0 {
			out = append(out, 0)
			i++
		}
		if b[i] == 1 {
			// Only 0 fits below 1; add a layer.
			out = append(out, 0)
		} else {
			hi = b[i] - 1
		}
	}

	return append(out, sample(r, lo, hi, bias)), nil
}

// sample draws a digit in [lo, hi], skewed towards lo.
func sample(r *rand.Rand, lo, hi uint64, bias float64) uint64 {
	x := -math.Log(1-r.Float64()) / bias
	x = math.Min(x, 1)
	d := lo + uint64(x*float64(hi-lo+1))
	if d > hi {
		d = hi
	}
	return d
}

// Allocator allocates positions using its own random source. It is safe for
// concurrent use.
type Allocator struct {
	mu   sync.Mutex // protects r
	r    *rand.Rand
	bias float64
}

// NewAllocator returns an Allocator reading from src. A nil src is replaced
// by a randomly seeded PCG source, and a non-positive bias by DefaultBias.
func NewAllocator(src rand.Source, bias float64) *Allocator {
	if src == nil {
		src = rand.NewPCG(rand.Uint64(), rand.Uint64())
	}
	if !(bias > 0) {
		bias = DefaultBias
	}
	return &Allocator{r: rand.New(src), bias: bias}
}

// Bias returns the allocator's bias.
func (al *Allocator) Bias() float64 {
	return al.bias
}

// Between is like the package-level Between, using the allocator's source
// and bias.
func (al *Allocator) Between(a, b Pos) (Pos, error) {
	al.mu.Lock()
	defer al.mu.Unlock()
	return Between(al.r, a, b, al.bias)
}

// Range allocates n ascending positions, all strictly between a and b. Each
// position is allocated between the previous one and b, the way a run of
// typed characters is.
func (al *Allocator) Range(a, b Pos, n int) ([]Pos, error) {
	if n < 0 {
		return nil, errors.Wrapf(ErrCount, "%d", n)
	}
	al.mu.Lock()
	defer al.mu.Unlock()
	res := make([]Pos, 0, n)
	prev := a
	for i := 0; i < n; i++ {
		p, err := Between(al.r, prev, b, al.bias)
		if err != nil {
			return nil, err
		}
		res = append(res, p)
		prev = p
	}
	return res, nil
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
