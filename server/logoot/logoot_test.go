package logoot_test

import (
	"encoding/json"
	"math/rand/v2"
	"reflect"
	"runtime/debug"
	"testing"

	"github.com/pkg/errors"

	"github.com/asadovsky/wikiffiti/server/logoot"
)

func fatal(t *testing.T, v ...interface{}) {
	debug.PrintStack()
	t.Fatal(v...)
}

func fatalf(t *testing.T, format string, v ...interface{}) {
	debug.PrintStack()
	t.Fatalf(format, v...)
}

func ok(t *testing.T, err error) {
	if err != nil {
		fatal(t, err)
	}
}

func eq(t *testing.T, got, want interface{}) {
	if !reflect.DeepEqual(got, want) {
		fatalf(t, "got %v, want %v", got, want)
	}
}

func neq(t *testing.T, got, notWant interface{}) {
	if reflect.DeepEqual(got, notWant) {
		fatalf(t, "got %v", got)
	}
}

func isErr(t *testing.T, err, want error) {
	if !errors.Is(err, want) {
		fatalf(t, "got error %v, want %v", err, want)
	}
}

func pos(digits ...uint64) logoot.Pos {
	return logoot.Pos(digits)
}

const maxd = logoot.MaxDigit

// rawPos returns a short digit sequence built mostly from digits that sit
// next to each other or next to the limits, which is where allocation gets
// hard. It may sort after Max.
func rawPos(r *rand.Rand) logoot.Pos {
	digits := []uint64{0, 0, 1, 2, 3, 5, 6, maxd - 2, maxd - 1, maxd}
	n := r.IntN(5)
	p := make(logoot.Pos, n)
	for i := range p {
		if r.IntN(4) == 0 {
			p[i] = r.Uint64N(maxd + 1)
		} else {
			p[i] = digits[r.IntN(len(digits))]
		}
	}
	return p
}

// randPos is like rawPos, cut back to Max when it would sort after it.
func randPos(r *rand.Rand) logoot.Pos {
	p := rawPos(r)
	if p.Validate() != nil {
		return p[:1]
	}
	return p
}

func TestMinMax(t *testing.T) {
	eq(t, logoot.Min().Len(), 0)
	eq(t, logoot.Max(), pos(maxd))
	eq(t, logoot.Compare(logoot.Min(), logoot.Max()), -1)
	eq(t, logoot.Compare(logoot.Min(), pos(0, 0)), 0)
	eq(t, logoot.Compare(logoot.Max(), pos(maxd, 0)), 0)
	ok(t, pos(maxd, 0, 0).Validate())
	isErr(t, pos(maxd, 0, 1).Validate(), logoot.ErrAboveMax)
	isErr(t, pos(maxd, maxd).Validate(), logoot.ErrAboveMax)
}

func TestLen(t *testing.T) {
	eq(t, pos().Len(), 0)
	eq(t, pos(0, 0, 0).Len(), 0)
	eq(t, pos(5, 0, 0).Len(), 1)
	eq(t, pos(5, 0, 1).Len(), 3)
	eq(t, pos(5, 0, 1, 0).Canonical(), pos(5, 0, 1))
}

func TestCompare(t *testing.T) {
	eq(t, logoot.Compare(pos(5), pos(5, 0, 0)), 0)
	eq(t, logoot.Compare(pos(5, 1), pos(5, 0, 1)), 1)
	eq(t, logoot.Compare(pos(5, 0, 1), pos(5, 1)), -1)
	eq(t, logoot.Compare(pos(5), pos(5, 0, 1)), -1)
	eq(t, logoot.Compare(pos(6), pos(5, maxd)), 1)
	eq(t, logoot.Compare(pos(), pos(0, 0, 1)), -1)
	eq(t, logoot.Compare(pos(3, 1), pos(3, 1)), 0)
	eq(t, pos(1).Less(pos(2)), true)
	eq(t, pos(2).Less(pos(2, 0)), false)
	eq(t, pos(2).Equal(pos(2, 0)), true)
}

func TestBoundary(t *testing.T) {
	r := rand.New(rand.NewPCG(1, 2))
	rejected := 0
	for i := 0; i < 2000; i++ {
		p := rawPos(r)
		if err := p.Validate(); err != nil {
			// Only positions after Max are rejected.
			isErr(t, err, logoot.ErrAboveMax)
			eq(t, logoot.Compare(p, logoot.Max()), 1)
			rejected++
			continue
		}
		if logoot.Compare(logoot.Min(), p) > 0 {
			fatalf(t, "Min > %v", p)
		}
		if logoot.Compare(p, logoot.Max()) > 0 {
			fatalf(t, "%v > Max", p)
		}
	}
	neq(t, rejected, 0)
}

func TestTotalOrder(t *testing.T) {
	r := rand.New(rand.NewPCG(3, 4))
	for i := 0; i < 3000; i++ {
		a, b, c := randPos(r), randPos(r), randPos(r)
		ab, ba := logoot.Compare(a, b), logoot.Compare(b, a)
		if ab != -ba {
			fatalf(t, "compare(%v, %v) = %d, reverse = %d", a, b, ab, ba)
		}
		if ab < 0 && logoot.Compare(b, c) < 0 && logoot.Compare(a, c) >= 0 {
			fatalf(t, "%v < %v < %v but not %v < %v", a, b, c, a, c)
		}
		if ab == 0 && logoot.Compare(a, c) != logoot.Compare(b, c) {
			fatalf(t, "%v == %v but they order differently against %v", a, b, c)
		}
	}
}

func TestSortPositions(t *testing.T) {
	ps := []logoot.Pos{pos(5, 1), pos(2), pos(5, 0, 1), pos(), pos(5)}
	logoot.SortPositions(ps)
	eq(t, ps, []logoot.Pos{pos(), pos(2), pos(5), pos(5, 0, 1), pos(5, 1)})
}

func TestString(t *testing.T) {
	eq(t, pos().String(), "")
	eq(t, pos(0, 0).String(), "")
	eq(t, pos(3, 0, 17).String(), "3.0.17")
	eq(t, pos(3, 0, 17, 0).String(), "3.0.17")

	p, err := logoot.ParsePos("3.0.17")
	ok(t, err)
	eq(t, p, pos(3, 0, 17))
	p, err = logoot.ParsePos("")
	ok(t, err)
	eq(t, p.Len(), 0)

	_, err = logoot.ParsePos("3..1")
	neq(t, err, nil)
	_, err = logoot.ParsePos("9007199254740992")
	isErr(t, err, logoot.ErrDigitRange)
	_, err = logoot.ParsePos("9007199254740991.5")
	isErr(t, err, logoot.ErrAboveMax)
}

func TestJSON(t *testing.T) {
	b, err := json.Marshal(pos(3, 0, maxd))
	ok(t, err)
	eq(t, string(b), "[3,0,9007199254740991]")
	b, err = json.Marshal(logoot.Min())
	ok(t, err)
	eq(t, string(b), "[]")

	var p logoot.Pos
	ok(t, json.Unmarshal([]byte("[1,2,3]"), &p))
	eq(t, p, pos(1, 2, 3))
	isErr(t, json.Unmarshal([]byte("[9007199254740992]"), &p), logoot.ErrDigitRange)
	isErr(t, json.Unmarshal([]byte("[9007199254740991,0,1]"), &p), logoot.ErrAboveMax)
}
