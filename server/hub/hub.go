// Package hub serves Logoot documents to websocket clients.
//
// Each document has a broadcast loop (doc.run) that owns its set of client
// send channels. Updates are applied to the document, appended to the store
// and handed to the loop while the document lock is held, so every client
// sees changes in patch order, starting right after its snapshot.
package hub

import (
	"context"
	"encoding/json"
	"net/http"
	"regexp"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	logging "github.com/ipfs/go-log/v2"
	"github.com/pkg/errors"

	"github.com/asadovsky/wikiffiti/server/common"
	"github.com/asadovsky/wikiffiti/server/crdt"
	"github.com/asadovsky/wikiffiti/server/logoot"
	"github.com/asadovsky/wikiffiti/server/store"
)

var log = logging.Logger("hub")

var (
	// ErrBadDoc is returned for document names that are not allowed.
	ErrBadDoc = errors.New("hub: invalid document name")
	// ErrClosed is returned once the server is closed.
	ErrClosed = errors.New("hub: server closed")
)

var docNameRe = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

// sendBufSize is the number of broadcasts a client may lag behind before it
// is disconnected.
const sendBufSize = 256

type doc struct {
	name        string
	clients     map[chan []byte]bool // set of active clients
	subscribe   chan chan []byte
	unsubscribe chan chan []byte
	broadcast   chan []byte
	done        chan struct{}
	mu          sync.Mutex // protects the fields below
	logoot      *crdt.Logoot
}

func newDoc(name string, alloc *logoot.Allocator) *doc {
	return &doc{
		name:        name,
		clients:     make(map[chan []byte]bool),
		subscribe:   make(chan chan []byte),
		unsubscribe: make(chan chan []byte),
		broadcast:   make(chan []byte),
		done:        make(chan struct{}),
		logoot:      crdt.NewLogoot(alloc),
	}
}

func (d *doc) run() {
	for {
		select {
		case c := <-d.subscribe:
			d.clients[c] = true
		case c := <-d.unsubscribe:
			if d.clients[c] {
				delete(d.clients, c)
				close(c)
			}
		case msg := <-d.broadcast:
			for send := range d.clients {
				select {
				case send <- msg:
				default:
					log.Warnf("dropping slow client of %s", d.name)
					delete(d.clients, send)
					close(send)
				}
			}
		case <-d.done:
			for send := range d.clients {
				close(send)
			}
			d.clients = nil
			return
		}
	}
}

// Options configures a Server.
type Options struct {
	// Bias is the allocation bias for insertion requests. Defaults to
	// logoot.DefaultBias.
	Bias float64
}

// Server serves documents backed by a store.Log.
type Server struct {
	store    store.Log
	bias     float64
	upgrader websocket.Upgrader
	router   *mux.Router
	mu       sync.Mutex // protects the fields below
	docs     map[string]*doc
	closed   bool
}

// New returns a Server persisting edits to st.
func New(st store.Log, opts Options) *Server {
	if !(opts.Bias > 0) {
		opts.Bias = logoot.DefaultBias
	}
	s := &Server{
		store: st,
		bias:  opts.Bias,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		docs: make(map[string]*doc),
	}
	r := mux.NewRouter()
	r.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/docs/{doc}", s.handleGetDoc).Methods(http.MethodGet)
	r.HandleFunc("/docs/{doc}/ws", s.handleConn)
	s.router = r
	return s
}

// Handler returns the server's HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// getDoc returns the named document, loading it from the store on first use.
func (s *Server) getDoc(ctx context.Context, name string) (*doc, error) {
	if !docNameRe.MatchString(name) {
		return nil, errors.Wrapf(ErrBadDoc, "%q", name)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	if d, ok := s.docs[name]; ok {
		return d, nil
	}
	recs, err := s.store.Load(ctx, name)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to load %s", name)
	}
	d := newDoc(name, logoot.NewAllocator(nil, s.bias))
	for _, r := range recs {
		c := &common.Change{ClientId: r.ClientId, PatchId: r.PatchId, OpStrs: r.OpStrs}
		if err := d.logoot.ApplyChange(c); err != nil {
			return nil, errors.Wrapf(err, "failed to replay %s patch %d", name, r.PatchId)
		}
	}
	log.Infof("loaded %s: %d patches, %d runes", name, len(recs), d.logoot.Len())
	s.docs[name] = d
	go d.run()
	return d, nil
}

// applyUpdate applies u to d, persists it, and broadcasts the change.
func (s *Server) applyUpdate(ctx context.Context, d *doc, u *common.Update) (*common.Change, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	ch := &common.Change{Type: "Change"}
	if err := d.logoot.ApplyUpdate(u, ch); err != nil {
		return nil, err
	}
	rec := store.Record{PatchId: ch.PatchId, ClientId: ch.ClientId, OpStrs: ch.OpStrs, Time: time.Now().UTC()}
	if err := s.store.Append(ctx, d.name, rec); err != nil {
		// The change is already part of the document; keep serving it.
		log.Errorf("failed to persist %s patch %d: %v", d.name, ch.PatchId, err)
	}
	buf, err := json.Marshal(ch)
	if err != nil {
		return nil, errors.Wrap(err, "failed to encode change")
	}
	select {
	case d.broadcast <- buf:
	case <-d.done:
	}
	return ch, nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if _, err := w.Write([]byte("ok\n")); err != nil {
		log.Debugf("failed to write health response: %v", err)
	}
}

// DocState is the response of GET /docs/{doc}.
type DocState struct {
	Doc     string `json:"doc"`
	Text    string `json:"text"`
	PatchId int    `json:"patchId"`
}

func (s *Server) handleGetDoc(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["doc"]
	d, err := s.getDoc(r.Context(), name)
	if err != nil {
		httpError(w, err)
		return
	}
	d.mu.Lock()
	st := DocState{Doc: name, Text: d.logoot.Text(), PatchId: d.logoot.PatchId()}
	d.mu.Unlock()
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(st); err != nil {
		log.Errorf("failed to write %s: %v", name, err)
	}
}

func httpError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrBadDoc):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, ErrClosed):
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
	default:
		log.Errorf("%v", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}

// Close stops all document loops, disconnecting their clients. It does not
// close the store.
func (s *Server) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	for _, d := range s.docs {
		close(d.done)
	}
	return nil
}

// Serve listens on addr until ctx is done, then shuts down.
func (s *Server) Serve(ctx context.Context, addr string) error {
	srv := &http.Server{Addr: addr, Handler: s.Handler()}
	errc := make(chan error, 1)
	go func() {
		errc <- srv.ListenAndServe()
	}()
	log.Infof("serving http://%s", addr)
	select {
	case err := <-errc:
		s.Close()
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	s.Close()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return nil
}
