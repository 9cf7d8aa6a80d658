package crdt

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"

	"github.com/asadovsky/wikiffiti/server/logoot"
)

// Op is an operation.
type Op interface {
	Encode() string
}

// Insert represents an atom insertion. For server insertions, Pid is the
// position identifier of the inserted atom, Value is a single rune, and
// NextPid is empty. For client insertion requests, Pid and NextPid are the
// position identifiers of the atoms to the left and right (respectively) of
// the insertion location, and Value may hold any number of runes; the server
// allocates their positions.
type Insert struct {
	Pid     logoot.Pos
	Value   string
	NextPid logoot.Pos
}

// IsRequest reports whether op is a client insertion request. Min is never
// the right neighbour of anything, so a non-empty NextPid marks a request.
func (op *Insert) IsRequest() bool {
	return op.NextPid.Len() > 0
}

func (op *Insert) Encode() string {
	return fmt.Sprintf("i,%s,%s,%s", op.Pid, op.NextPid, op.Value)
}

// Delete represents an atom deletion. Pid is the position identifier of the
// deleted atom.
type Delete struct {
	Pid logoot.Pos
}

func (op *Delete) Encode() string {
	return fmt.Sprintf("d,%s", op.Pid)
}

func newParseError(s string) error {
	return errors.Errorf("failed to parse op %q", s)
}

// DecodeOp returns an Op given an encoded op.
func DecodeOp(s string) (Op, error) {
	parts := strings.SplitN(s, ",", 2)
	t := parts[0]
	switch t {
	case "i":
		parts = strings.SplitN(s, ",", 4)
		if len(parts) < 4 {
			return nil, newParseError(s)
		}
		pid, err := logoot.ParsePos(parts[1])
		if err != nil {
			return nil, errors.Wrapf(err, "failed to parse op %q", s)
		}
		next, err := logoot.ParsePos(parts[2])
		if err != nil {
			return nil, errors.Wrapf(err, "failed to parse op %q", s)
		}
		return &Insert{Pid: pid, Value: parts[3], NextPid: next}, nil
	case "d":
		if len(parts) < 2 {
			return nil, newParseError(s)
		}
		pid, err := logoot.ParsePos(parts[1])
		if err != nil {
			return nil, errors.Wrapf(err, "failed to parse op %q", s)
		}
		return &Delete{Pid: pid}, nil
	default:
		return nil, errors.Errorf("unknown op type %q", t)
	}
}

func EncodeOps(ops []Op) []string {
	strs := make([]string, len(ops))
	for i, v := range ops {
		strs[i] = v.Encode()
	}
	return strs
}

func DecodeOps(strs []string) ([]Op, error) {
	ops := make([]Op, len(strs))
	for i, v := range strs {
		op, err := DecodeOp(v)
		if err != nil {
			return nil, err
		}
		ops[i] = op
	}
	return ops, nil
}
