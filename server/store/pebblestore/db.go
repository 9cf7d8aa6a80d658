// Package pebblestore implements store.Log on top of Pebble.
//
// Records of a document live under the key prefix "d/<doc>/", followed by the
// big-endian patch id, so iterating the prefix yields them in patch order.
package pebblestore

import (
	"context"
	"encoding/binary"
	"time"

	"github.com/cockroachdb/pebble"
	"github.com/pkg/errors"

	"github.com/asadovsky/wikiffiti/server/store"
)

// FsyncMode defines durability behavior for appends.
type FsyncMode int

const (
	// FsyncModeAlways syncs the WAL on every append.
	FsyncModeAlways FsyncMode = iota
	// FsyncModeInterval lets Pebble coalesce WAL syncs within FsyncInterval.
	FsyncModeInterval
	// FsyncModeNever leaves syncing to Pebble.
	FsyncModeNever
)

// Options configures the store.
type Options struct {
	// DataDir is the path to the Pebble database directory.
	DataDir string
	Fsync   FsyncMode
	// FsyncInterval controls group-commit when Fsync is FsyncModeInterval.
	FsyncInterval time.Duration
	// PebbleOptions allows advanced tuning of Pebble. If nil, defaults are used.
	PebbleOptions *pebble.Options
}

// DB is a store.Log backed by a Pebble database.
type DB struct {
	inner     *pebble.DB
	writeSync bool
}

var _ store.Log = (*DB)(nil)

// Open creates or opens a Pebble database with the provided options.
func Open(opts Options) (*DB, error) {
	if opts.DataDir == "" {
		return nil, errors.New("pebblestore: Options.DataDir is required")
	}
	po := opts.PebbleOptions
	if po == nil {
		po = &pebble.Options{}
	}
	if opts.Fsync == FsyncModeInterval {
		interval := opts.FsyncInterval
		if interval <= 0 {
			interval = 5 * time.Millisecond
		}
		po.WALMinSyncInterval = func() time.Duration { return interval }
	}
	inner, err := pebble.Open(opts.DataDir, po)
	if err != nil {
		return nil, errors.Wrapf(err, "pebblestore: failed to open %s", opts.DataDir)
	}
	return &DB{inner: inner, writeSync: opts.Fsync != FsyncModeNever}, nil
}

func docPrefix(doc string) []byte {
	return []byte("d/" + doc + "/")
}

func recordKey(doc string, patchId int) []byte {
	k := docPrefix(doc)
	return binary.BigEndian.AppendUint64(k, uint64(patchId))
}

// prefixEnd returns the smallest key greater than every key with prefix p.
func prefixEnd(p []byte) []byte {
	end := append([]byte(nil), p...)
	for i := len(end) - 1; i >= 0; i-- {
		end[i]++
		if end[i] != 0 {
			return end[:i+1]
		}
	}
	return nil
}

func (db *DB) Append(ctx context.Context, doc string, r store.Record) error {
	if db.inner == nil {
		return store.ErrClosed
	}
	buf, err := r.Marshal()
	if err != nil {
		return err
	}
	opts := pebble.NoSync
	if db.writeSync {
		opts = pebble.Sync
	}
	if err := db.inner.Set(recordKey(doc, r.PatchId), buf, opts); err != nil {
		return errors.Wrapf(err, "pebblestore: failed to append to %s", doc)
	}
	return nil
}

func (db *DB) Load(ctx context.Context, doc string) ([]store.Record, error) {
	if db.inner == nil {
		return nil, store.ErrClosed
	}
	prefix := docPrefix(doc)
	iter, err := db.inner.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: prefixEnd(prefix),
	})
	if err != nil {
		return nil, errors.Wrapf(err, "pebblestore: failed to load %s", doc)
	}
	defer iter.Close()
	var res []store.Record
	for iter.First(); iter.Valid(); iter.Next() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		r, err := store.UnmarshalRecord(iter.Value())
		if err != nil {
			return nil, err
		}
		res = append(res, r)
	}
	if err := iter.Error(); err != nil {
		return nil, errors.Wrapf(err, "pebblestore: failed to load %s", doc)
	}
	return res, nil
}

// Close closes the Pebble database.
func (db *DB) Close() error {
	if db == nil || db.inner == nil {
		return nil
	}
	err := db.inner.Close()
	db.inner = nil
	return err
}
