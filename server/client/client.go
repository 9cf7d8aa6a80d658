// Package client implements a Go replica of a hub document.
//
// A Client keeps a full Logoot copy of the document. Local edits allocate
// position identifiers on the replica, are sent to the hub as server
// insertions and deletes, and are applied once sent. Changes broadcast by the hub,
// including the echo of our own updates, are applied as they arrive; applying
// an op twice is a no-op.
package client

import (
	"context"
	"encoding/json"
	"math/rand/v2"
	"sync"

	logging "github.com/ipfs/go-log/v2"
	"github.com/pkg/errors"
	"golang.org/x/net/websocket"

	"github.com/asadovsky/wikiffiti/server/common"
	"github.com/asadovsky/wikiffiti/server/crdt"
	"github.com/asadovsky/wikiffiti/server/logoot"
)

var log = logging.Logger("client")

// ErrClosed is returned once the connection is gone.
var ErrClosed = errors.New("client: connection closed")

// Options configures a Client.
type Options struct {
	// Bias is the allocation bias for local inserts. Defaults to
	// logoot.DefaultBias.
	Bias float64
	// Source seeds the allocator. Defaults to a random seed.
	Source rand.Source
	// Origin is sent in the websocket handshake.
	Origin string
}

// Client is a connected replica of one document.
type Client struct {
	ws       *websocket.Conn
	doc      string
	clientId string
	sendMu   sync.Mutex // serializes local edits
	mu       sync.Mutex // protects the fields below
	logoot   *crdt.Logoot
	sent     int
	acked    int
	lastErr  error
	notify   chan struct{} // closed and replaced on every state change
	done     chan struct{}
}

// Dial connects to the hub websocket endpoint url (e.g.
// ws://localhost:4000/docs/home/ws) and initializes a replica of doc.
func Dial(url, doc string, opts Options) (*Client, error) {
	if opts.Origin == "" {
		opts.Origin = "http://localhost/"
	}
	ws, err := websocket.Dial(url, "", opts.Origin)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to dial %s", url)
	}
	if err := websocket.JSON.Send(ws, &common.Init{Type: "Init", DocId: doc}); err != nil {
		ws.Close()
		return nil, errors.Wrap(err, "failed to send init")
	}
	var sn common.Snapshot
	if err := receive(ws, "Snapshot", &sn); err != nil {
		ws.Close()
		return nil, err
	}
	l, err := crdt.DecodeLogoot(sn.LogootStr, logoot.NewAllocator(opts.Source, opts.Bias))
	if err != nil {
		ws.Close()
		return nil, err
	}
	c := &Client{
		ws:       ws,
		doc:      doc,
		clientId: sn.ClientId,
		logoot:   l,
		notify:   make(chan struct{}),
		done:     make(chan struct{}),
	}
	log.Debugf("%s: joined %s at patch %d", c.clientId, doc, sn.BasePatchId)
	go c.receiveLoop()
	return c, nil
}

// receive reads one message, which must be of type want.
func receive(ws *websocket.Conn, want string, v interface{}) error {
	var buf []byte
	if err := websocket.Message.Receive(ws, &buf); err != nil {
		return errors.Wrapf(err, "failed to receive %s", want)
	}
	var mt common.MsgType
	if err := json.Unmarshal(buf, &mt); err != nil {
		return errors.Wrap(err, "failed to decode message")
	}
	if mt.Type == "Error" {
		var e common.Error
		json.Unmarshal(buf, &e)
		return errors.Errorf("hub error: %s", e.Message)
	}
	if mt.Type != want {
		return errors.Errorf("got %s message, want %s", mt.Type, want)
	}
	return errors.Wrapf(json.Unmarshal(buf, v), "failed to decode %s", want)
}

// changed must be called with c.mu held.
func (c *Client) changed() {
	close(c.notify)
	c.notify = make(chan struct{})
}

func (c *Client) receiveLoop() {
	defer func() {
		c.mu.Lock()
		close(c.done)
		c.changed()
		c.mu.Unlock()
	}()
	for {
		var buf []byte
		if err := websocket.Message.Receive(c.ws, &buf); err != nil {
			log.Debugf("%s: receive: %v", c.clientId, err)
			return
		}
		var mt common.MsgType
		if err := json.Unmarshal(buf, &mt); err != nil {
			log.Warnf("%s: bad message: %v", c.clientId, err)
			continue
		}
		switch mt.Type {
		case "Change":
			var ch common.Change
			if err := json.Unmarshal(buf, &ch); err != nil {
				log.Warnf("%s: bad change: %v", c.clientId, err)
				continue
			}
			c.mu.Lock()
			if err := c.logoot.ApplyChange(&ch); err != nil {
				log.Errorf("%s: failed to apply patch %d: %v", c.clientId, ch.PatchId, err)
			}
			if ch.ClientId == c.clientId {
				c.acked++
			}
			c.changed()
			c.mu.Unlock()
		case "Error":
			var e common.Error
			json.Unmarshal(buf, &e)
			log.Warnf("%s: hub rejected update: %s", c.clientId, e.Message)
			c.mu.Lock()
			c.acked++
			c.lastErr = errors.Errorf("hub error: %s", e.Message)
			c.changed()
			c.mu.Unlock()
		default:
			log.Warnf("%s: unexpected %s message", c.clientId, mt.Type)
		}
	}
}

// edit computes the ops of a local edit, sends them, and applies them once
// sent. If the send fails the replica is left unchanged and the connection is
// closed, since the hub may have seen a partial message.
func (c *Client) edit(fn func(l *crdt.Logoot) ([]crdt.Op, error)) error {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	c.mu.Lock()
	select {
	case <-c.done:
		c.mu.Unlock()
		return ErrClosed
	default:
	}
	ops, err := fn(c.logoot)
	c.mu.Unlock()
	if err != nil {
		return err
	}
	u := &common.Update{Type: "Update", ClientId: c.clientId, OpStrs: crdt.EncodeOps(ops)}
	if err := websocket.JSON.Send(c.ws, u); err != nil {
		c.ws.Close()
		return errors.Wrap(err, "failed to send update")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	// Remote changes applied since fn ran do not invalidate ops.
	if _, err := c.logoot.ApplyAll(ops); err != nil {
		return err
	}
	c.sent++
	c.changed()
	return nil
}

// Insert inserts text at rune offset pos.
func (c *Client) Insert(pos int, text string) error {
	return c.edit(func(l *crdt.Logoot) ([]crdt.Op, error) {
		return l.InsertOps(pos, text)
	})
}

// Delete deletes n runes starting at rune offset pos.
func (c *Client) Delete(pos, n int) error {
	return c.edit(func(l *crdt.Logoot) ([]crdt.Op, error) {
		return l.DeleteOps(pos, n)
	})
}

// Text returns the replica's current text.
func (c *Client) Text() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.logoot.Text()
}

// PatchId returns the id of the last patch received from the hub.
func (c *Client) PatchId() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.logoot.PatchId()
}

// ClientId returns the id the hub assigned to this client.
func (c *Client) ClientId() string {
	return c.clientId
}

// waitFor blocks until cond holds (checked with c.mu held).
func (c *Client) waitFor(ctx context.Context, cond func() bool) error {
	for {
		c.mu.Lock()
		if cond() {
			c.mu.Unlock()
			return nil
		}
		notify := c.notify
		c.mu.Unlock()
		select {
		case <-notify:
		case <-c.done:
			c.mu.Lock()
			ok := cond()
			c.mu.Unlock()
			if ok {
				return nil
			}
			return ErrClosed
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Sync waits until the hub has acknowledged every edit sent so far. It
// returns the hub's error if any of them was rejected.
func (c *Client) Sync(ctx context.Context) error {
	err := c.waitFor(ctx, func() bool { return c.acked >= c.sent })
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	err, c.lastErr = c.lastErr, nil
	return err
}

// WaitPatch waits until the replica has applied patch id.
func (c *Client) WaitPatch(ctx context.Context, id int) error {
	return c.waitFor(ctx, func() bool { return c.logoot.PatchId() >= id })
}

// Close closes the connection and waits for the receive loop to exit.
func (c *Client) Close() error {
	err := c.ws.Close()
	<-c.done
	return err
}
