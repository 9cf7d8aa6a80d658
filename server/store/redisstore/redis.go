// Package redisstore implements store.Log on top of Redis lists.
package redisstore

import (
	"context"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/pkg/errors"

	"github.com/asadovsky/wikiffiti/server/store"
)

// Log is a store.Log keeping the records of each document in the Redis list
// "<prefix>:doc:<doc>".
type Log struct {
	client *redis.Client
	prefix string
}

var _ store.Log = (*Log)(nil)

// New returns a Log using client. It checks the connection before returning.
func New(client *redis.Client, prefix string) (*Log, error) {
	if client == nil {
		return nil, errors.New("redisstore: redis client cannot be nil")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, errors.Wrap(err, "redisstore: failed to connect to Redis")
	}
	return &Log{client: client, prefix: prefix}, nil
}

// Dial connects to the Redis server at addr and returns a Log using it.
func Dial(addr, password string, db int, prefix string) (*Log, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	l, err := New(client, prefix)
	if err != nil {
		client.Close()
		return nil, err
	}
	return l, nil
}

func (l *Log) key(doc string) string {
	return l.prefix + ":doc:" + doc
}

func (l *Log) Append(ctx context.Context, doc string, r store.Record) error {
	buf, err := r.Marshal()
	if err != nil {
		return err
	}
	if err := l.client.RPush(ctx, l.key(doc), buf).Err(); err != nil {
		if errors.Is(err, redis.ErrClosed) {
			return store.ErrClosed
		}
		return errors.Wrapf(err, "redisstore: failed to append to %s", doc)
	}
	return nil
}

func (l *Log) Load(ctx context.Context, doc string) ([]store.Record, error) {
	vals, err := l.client.LRange(ctx, l.key(doc), 0, -1).Result()
	if err != nil {
		if errors.Is(err, redis.ErrClosed) {
			return nil, store.ErrClosed
		}
		return nil, errors.Wrapf(err, "redisstore: failed to load %s", doc)
	}
	res := make([]store.Record, 0, len(vals))
	for _, v := range vals {
		r, err := store.UnmarshalRecord([]byte(v))
		if err != nil {
			return nil, err
		}
		res = append(res, r)
	}
	return res, nil
}

// Clear removes all records of doc.
func (l *Log) Clear(ctx context.Context, doc string) error {
	return l.client.Del(ctx, l.key(doc)).Err()
}

func (l *Log) Close() error {
	return l.client.Close()
}
