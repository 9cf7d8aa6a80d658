package hub

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"

	"github.com/asadovsky/wikiffiti/server/common"
)

// writeWait is how long a write to a client may block.
const writeWait = 10 * time.Second

// stream is one websocket client of a document. Writes to conn happen only
// in writeLoop: broadcasts arrive on send (closed by doc.run), and replies to
// this client on direct (closed by the read loop).
type stream struct {
	s           *Server
	d           *doc
	conn        *websocket.Conn
	send        chan []byte
	direct      chan []byte
	clientId    string
	initialized bool
}

func (st *stream) reply(v interface{}) error {
	buf, err := json.Marshal(v)
	if err != nil {
		return errors.Wrap(err, "failed to encode message")
	}
	st.direct <- buf
	return nil
}

func (st *stream) replyError(err error) error {
	return st.reply(&common.Error{Type: "Error", Message: err.Error()})
}

func (st *stream) processInitMsg(msg *common.Init) error {
	if st.initialized {
		return errors.New("already initialized")
	}
	if msg.DocId != "" && msg.DocId != st.d.name {
		return errors.Errorf("init for %q on connection for %q", msg.DocId, st.d.name)
	}
	d := st.d
	d.mu.Lock()
	defer d.mu.Unlock()
	st.clientId = uuid.NewString()
	sn := &common.Snapshot{Type: "Snapshot", ClientId: st.clientId}
	if err := d.logoot.PopulateSnapshot(sn); err != nil {
		return err
	}
	if err := st.reply(sn); err != nil {
		return err
	}
	// Subscribe before releasing the lock so that no change is missed.
	select {
	case d.subscribe <- st.send:
	case <-d.done:
		return ErrClosed
	}
	st.initialized = true
	log.Infof("client %s joined %s at patch %d", st.clientId, d.name, sn.BasePatchId)
	return nil
}

func (st *stream) processUpdateMsg(ctx context.Context, msg *common.Update) error {
	if !st.initialized {
		return errors.New("not initialized")
	}
	msg.ClientId = st.clientId
	ch, err := st.s.applyUpdate(ctx, st.d, msg)
	if err != nil {
		return err
	}
	log.Debugf("%s: patch %d from %s: %q", st.d.name, ch.PatchId, st.clientId, ch.OpStrs)
	return nil
}

// readLoop handles incoming messages until the connection fails or closes.
// Invalid messages are answered with an Error message.
func (st *stream) readLoop(ctx context.Context) {
	for {
		_, buf, err := st.conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Debugf("read from %s: %v", st.d.name, err)
			}
			return
		}
		var mt common.MsgType
		if err := json.Unmarshal(buf, &mt); err != nil {
			st.replyError(errors.Wrap(err, "failed to decode message"))
			continue
		}
		switch mt.Type {
		case "Init":
			var msg common.Init
			if err = json.Unmarshal(buf, &msg); err == nil {
				err = st.processInitMsg(&msg)
			}
		case "Update":
			var msg common.Update
			if err = json.Unmarshal(buf, &msg); err == nil {
				err = st.processUpdateMsg(ctx, &msg)
			}
		default:
			err = errors.Errorf("unknown message type: %s", mt.Type)
		}
		if errors.Is(err, ErrClosed) {
			return
		}
		if err != nil {
			log.Warnf("%s: rejected %s message: %v", st.d.name, mt.Type, err)
			st.replyError(err)
		}
	}
}

func (st *stream) writeLoop(done chan<- struct{}) {
	defer close(done)
	send, direct := st.send, st.direct
	failed := false
	write := func(msg []byte) {
		if failed {
			return
		}
		st.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := st.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			failed = true
			st.conn.Close()
		}
	}
	for send != nil || direct != nil {
		select {
		case msg, ok := <-send:
			if !ok {
				// Unsubscribed, dropped, or the document was closed.
				send = nil
				st.conn.Close()
				continue
			}
			write(msg)
		case msg, ok := <-direct:
			if !ok {
				direct = nil
				continue
			}
			write(msg)
		}
	}
}

func (s *Server) handleConn(w http.ResponseWriter, r *http.Request) {
	d, err := s.getDoc(r.Context(), mux.Vars(r)["doc"])
	if err != nil {
		httpError(w, err)
		return
	}
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warnf("upgrade failed: %v", err)
		return
	}
	st := &stream{
		s:      s,
		d:      d,
		conn:   conn,
		send:   make(chan []byte, sendBufSize),
		direct: make(chan []byte),
	}
	done := make(chan struct{})
	go st.writeLoop(done)

	st.readLoop(context.Background())

	if st.initialized {
		select {
		case d.unsubscribe <- st.send:
		case <-d.done:
		}
	} else {
		close(st.send)
	}
	close(st.direct)
	<-done
	conn.Close()
	if st.initialized {
		log.Infof("client %s left %s", st.clientId, d.name)
	}
}
