// Package crdt implements a Logoot text document.
//
// Implementation notes:
// - An atom is a rune.
// - Atoms are kept sorted by position identifier; the text is their values in
//   that order.
// - Deleted position identifiers are remembered, so that an insert delivered
//   after (or again after) its delete stays deleted.
// - Clients may either allocate position identifiers themselves and send
//   server insertions, or send insertion requests naming the neighbouring
//   atoms and let the server allocate.
package crdt

import (
	"encoding/json"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/pkg/errors"

	"github.com/asadovsky/wikiffiti/server/common"
	"github.com/asadovsky/wikiffiti/server/logoot"
)

var (
	// ErrOutOfRange is returned for local edits outside the text.
	ErrOutOfRange = errors.New("crdt: position out of range")
	// ErrBadAtom is returned for server insertions that do not hold exactly
	// one rune, or that claim the Min position.
	ErrBadAtom = errors.New("crdt: invalid atom")
)

type atom struct {
	pid   logoot.Pos
	value string
}

// Logoot represents a string that supports Logoot operations.
type Logoot struct {
	atoms       []atom
	deleted     map[string]logoot.Pos // deleted pids, keyed by encoding
	alloc       *logoot.Allocator
	lastPatchId int
}

// NewLogoot returns an empty document. If alloc is nil, a randomly seeded
// allocator with the default bias is used.
func NewLogoot(alloc *logoot.Allocator) *Logoot {
	if alloc == nil {
		alloc = logoot.NewAllocator(nil, logoot.DefaultBias)
	}
	return &Logoot{deleted: make(map[string]logoot.Pos), alloc: alloc}
}

// Text returns the current text.
func (l *Logoot) Text() string {
	var b strings.Builder
	for _, a := range l.atoms {
		b.WriteString(a.value)
	}
	return b.String()
}

// Len returns the number of atoms (runes).
func (l *Logoot) Len() int {
	return len(l.atoms)
}

// Pids returns the position identifiers of all atoms, in order.
func (l *Logoot) Pids() []logoot.Pos {
	res := make([]logoot.Pos, len(l.atoms))
	for i, a := range l.atoms {
		res[i] = a.pid
	}
	return res
}

// PatchId returns the id of the last applied patch.
func (l *Logoot) PatchId() int {
	return l.lastPatchId
}

// search returns the index of the first atom whose pid is >= pid.
func (l *Logoot) search(pid logoot.Pos) int {
	return sort.Search(len(l.atoms), func(i int) bool {
		return logoot.Compare(l.atoms[i].pid, pid) >= 0
	})
}

// neighbours returns the pids around rune offset pos.
func (l *Logoot) neighbours(pos int) (prev, next logoot.Pos) {
	prev, next = logoot.Min(), logoot.Max()
	if pos > 0 {
		prev = l.atoms[pos-1].pid
	}
	if pos < len(l.atoms) {
		next = l.atoms[pos].pid
	}
	return prev, next
}

// Insert inserts value at rune offset pos, allocating position identifiers
// locally. It returns the server insertions that were applied.
func (l *Logoot) Insert(pos int, value string) ([]Op, error) {
	ops, err := l.InsertOps(pos, value)
	if err != nil {
		return nil, err
	}
	l.applyOps(ops)
	return ops, nil
}

// InsertOps is like Insert, but returns the server insertions without
// applying them.
func (l *Logoot) InsertOps(pos int, value string) ([]Op, error) {
	if pos < 0 || pos > len(l.atoms) {
		return nil, errors.Wrapf(ErrOutOfRange, "insert at %d, len %d", pos, len(l.atoms))
	}
	prev, next := l.neighbours(pos)
	return l.allocate(prev, next, value)
}

// Delete deletes n runes starting at rune offset pos. It returns the deletes
// that were applied.
func (l *Logoot) Delete(pos, n int) ([]Op, error) {
	ops, err := l.DeleteOps(pos, n)
	if err != nil {
		return nil, err
	}
	l.applyOps(ops)
	return ops, nil
}

// DeleteOps is like Delete, but returns the deletes without applying them.
func (l *Logoot) DeleteOps(pos, n int) ([]Op, error) {
	if pos < 0 || n < 0 || pos+n > len(l.atoms) {
		return nil, errors.Wrapf(ErrOutOfRange, "delete [%d, %d), len %d", pos, pos+n, len(l.atoms))
	}
	ops := make([]Op, n)
	for i := range ops {
		ops[i] = &Delete{Pid: l.atoms[pos+i].pid}
	}
	return ops, nil
}

// allocate returns server insertions for the runes of value, positioned
// between prev and next.
func (l *Logoot) allocate(prev, next logoot.Pos, value string) ([]Op, error) {
	pids, err := l.alloc.Range(prev, next, utf8.RuneCountInString(value))
	if err != nil {
		return nil, err
	}
	ops := make([]Op, 0, len(pids))
	i := 0
	for _, r := range value {
		ops = append(ops, &Insert{Pid: pids[i], Value: string(r)})
		i++
	}
	return ops, nil
}

// applyOps applies valid server insertions and deletes.
func (l *Logoot) applyOps(ops []Op) {
	for _, op := range ops {
		switch op := op.(type) {
		case *Insert:
			l.applyInsert(op)
		case *Delete:
			l.applyDelete(op)
		}
	}
}

func validate(op Op) error {
	switch op := op.(type) {
	case *Insert:
		if op.IsRequest() {
			if err := op.Pid.Validate(); err != nil {
				return errors.Wrapf(err, "insert request %q", op.Encode())
			}
			if err := op.NextPid.Validate(); err != nil {
				return errors.Wrapf(err, "insert request %q", op.Encode())
			}
			if logoot.Compare(op.Pid, op.NextPid) >= 0 {
				return errors.Wrapf(logoot.ErrReversed, "insert request %q", op.Encode())
			}
			return nil
		}
		// Atoms live strictly between Min and Max.
		if op.Pid.Len() == 0 || op.Pid.Validate() != nil || logoot.Compare(op.Pid, logoot.Max()) >= 0 {
			return errors.Wrapf(ErrBadAtom, "insert %q", op.Encode())
		}
		if utf8.RuneCountInString(op.Value) != 1 {
			return errors.Wrapf(ErrBadAtom, "insert %q", op.Encode())
		}
	case *Delete:
		if op.Pid.Len() == 0 || op.Pid.Validate() != nil {
			return errors.Wrapf(ErrBadAtom, "delete %q", op.Encode())
		}
	default:
		return errors.Errorf("unexpected op type %T", op)
	}
	return nil
}

func (l *Logoot) applyInsert(op *Insert) {
	if _, ok := l.deleted[op.Pid.String()]; ok {
		return
	}
	i := l.search(op.Pid)
	if i < len(l.atoms) && logoot.Compare(l.atoms[i].pid, op.Pid) == 0 {
		// Already present.
		return
	}
	l.atoms = append(l.atoms, atom{})
	copy(l.atoms[i+1:], l.atoms[i:])
	l.atoms[i] = atom{pid: op.Pid.Canonical(), value: op.Value}
}

func (l *Logoot) applyDelete(op *Delete) {
	l.deleted[op.Pid.String()] = op.Pid.Canonical()
	i := l.search(op.Pid)
	if i < len(l.atoms) && logoot.Compare(l.atoms[i].pid, op.Pid) == 0 {
		l.atoms = append(l.atoms[:i], l.atoms[i+1:]...)
	}
}

// ApplyAll applies ops in order and returns them with insertion requests
// replaced by the server insertions they resolved to. Ops are validated
// before any of them is applied.
func (l *Logoot) ApplyAll(ops []Op) ([]Op, error) {
	for _, op := range ops {
		if err := validate(op); err != nil {
			return nil, err
		}
	}
	res := make([]Op, 0, len(ops))
	for _, op := range ops {
		switch op := op.(type) {
		case *Insert:
			if op.IsRequest() {
				resolved, err := l.allocate(op.Pid, op.NextPid, op.Value)
				if err != nil {
					return nil, err
				}
				l.applyOps(resolved)
				res = append(res, resolved...)
				continue
			}
			l.applyInsert(op)
		case *Delete:
			l.applyDelete(op)
		}
		res = append(res, op)
	}
	return res, nil
}

// Apply applies a single op. See ApplyAll.
func (l *Logoot) Apply(op Op) ([]Op, error) {
	return l.ApplyAll([]Op{op})
}

// PopulateSnapshot populates s.
func (l *Logoot) PopulateSnapshot(s *common.Snapshot) error {
	str, err := l.Encode()
	if err != nil {
		return err
	}
	s.BasePatchId = l.lastPatchId
	s.Text = l.Text()
	s.LogootStr = str
	return nil
}

// ApplyUpdate applies u and populates c.
func (l *Logoot) ApplyUpdate(u *common.Update, c *common.Change) error {
	ops, err := DecodeOps(u.OpStrs)
	if err != nil {
		return err
	}
	ops, err = l.ApplyAll(ops)
	if err != nil {
		return err
	}
	l.lastPatchId++
	c.ClientId = u.ClientId
	c.PatchId = l.lastPatchId
	c.OpStrs = EncodeOps(ops)
	return nil
}

// ApplyChange applies a change produced by ApplyUpdate, e.g. on a replica or
// when replaying a stored log.
func (l *Logoot) ApplyChange(c *common.Change) error {
	ops, err := DecodeOps(c.OpStrs)
	if err != nil {
		return err
	}
	if _, err := l.ApplyAll(ops); err != nil {
		return err
	}
	if c.PatchId > l.lastPatchId {
		l.lastPatchId = c.PatchId
	}
	return nil
}

type encodedLogoot struct {
	PatchId int
	OpStrs  []string
}

// Encode returns an encoding of the document: its atoms as server insertions
// followed by deletes for every deleted position identifier.
func (l *Logoot) Encode() (string, error) {
	ops := make([]Op, 0, len(l.atoms)+len(l.deleted))
	for _, a := range l.atoms {
		ops = append(ops, &Insert{Pid: a.pid, Value: a.value})
	}
	keys := make([]string, 0, len(l.deleted))
	for k := range l.deleted {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		ops = append(ops, &Delete{Pid: l.deleted[k]})
	}
	buf, err := json.Marshal(encodedLogoot{PatchId: l.lastPatchId, OpStrs: EncodeOps(ops)})
	if err != nil {
		return "", errors.Wrap(err, "failed to encode logoot")
	}
	return string(buf), nil
}

// DecodeLogoot returns the document encoded by Logoot.Encode. New positions
// are allocated with alloc (see NewLogoot).
func DecodeLogoot(s string, alloc *logoot.Allocator) (*Logoot, error) {
	var enc encodedLogoot
	if err := json.Unmarshal([]byte(s), &enc); err != nil {
		return nil, errors.Wrap(err, "failed to decode logoot")
	}
	l := NewLogoot(alloc)
	ops, err := DecodeOps(enc.OpStrs)
	if err != nil {
		return nil, err
	}
	if _, err := l.ApplyAll(ops); err != nil {
		return nil, err
	}
	l.lastPatchId = enc.PatchId
	return l, nil
}
