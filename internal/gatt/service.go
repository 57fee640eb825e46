// Package gatt exposes the talking box's sync service: one service with
// a control characteristic, a data characteristic, and a status
// characteristic the device notifies on. Characteristic traffic rides a
// websocket link; each binary message starts with a characteristic tag
// byte and carries the raw frame after it.
package gatt

import (
	"context"
	"net/http"
	"sync"
	"time"

	cws "github.com/coder/websocket"

	"github.com/memobox/memobox/pkg/logger"
	"github.com/memobox/memobox/pkg/memolib"
)

// Characteristic tags. Writes from the central carry CharControl or
// CharData; the device pushes CharStatus frames.
const (
	CharControl = memolib.CharControl
	CharData    = memolib.CharData
	CharStatus  = memolib.CharStatus
)

// readLimit bounds one characteristic write: tag + data header + the
// largest chunk size a start frame can declare.
const readLimit = 1 + 4 + 65535

// notifyTimeout bounds a single status notification toward the central.
const notifyTimeout = 5 * time.Second

// Service is the device side of the sync link. It owns the transfer
// session and is its Notifier: status events reach the connected
// central, or are dropped when none is connected.
//
// At most one central is served. A new connection supersedes the
// current one, mirroring how the device re-advertises after a central
// drops mid-transfer.
type Service struct {
	session *memolib.Session
	log     logger.Logger

	mu      sync.Mutex
	central *cws.Conn
	ctx     context.Context
	server  *http.Server
}

// NewService creates the sync service terminating transfers into storage.
func NewService(storage *memolib.StorageRoot, log logger.Logger) *Service {
	if log == nil {
		log = logger.NewNopLogger()
	}
	s := &Service{log: log}
	s.session = memolib.NewSession(storage, s, log)
	return s
}

// Session returns the transfer session for the polling loop to drain
// and finalize.
func (s *Service) Session() *memolib.Session {
	return s.session
}

// Connected reports whether a central is currently attached.
func (s *Service) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.central != nil
}

// Notify pushes a status notification to the connected central. Without
// a central the event is dropped: status delivery is best effort and
// never queued across connections.
func (s *Service) Notify(e memolib.Event) {
	s.mu.Lock()
	conn := s.central
	connCtx := s.ctx
	s.mu.Unlock()
	if conn == nil {
		return
	}

	frame := append([]byte{CharStatus}, e.MarshalJSONBytes()...)
	ctx, cancel := context.WithTimeout(connCtx, notifyTimeout)
	defer cancel()
	if err := conn.Write(ctx, cws.MessageBinary, frame); err != nil {
		s.log.Warning("gatt: dropping %s notification: %v", e.Event, err)
	}
}

// handleConnection upgrades the request and serves characteristic
// writes until the central disconnects or is superseded.
func (s *Service) handleConnection(w http.ResponseWriter, r *http.Request) {
	conn, err := cws.Accept(w, r, &cws.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		s.log.Warning("gatt: accept failed: %v", err)
		return
	}
	conn.SetReadLimit(readLimit)
	ctx := r.Context()

	s.mu.Lock()
	if prev := s.central; prev != nil {
		s.log.Info("gatt: central superseded by new connection")
		prev.Close(cws.StatusPolicyViolation, "superseded")
	}
	s.central = conn
	s.ctx = ctx
	s.mu.Unlock()

	s.log.Info("gatt: central connected")
	defer func() {
		s.mu.Lock()
		// Only detach if we are still the live central; a superseding
		// connection may already have replaced us.
		if s.central == conn {
			s.central = nil
			s.ctx = nil
		}
		s.mu.Unlock()
		conn.Close(cws.StatusNormalClosure, "")
		s.log.Info("gatt: central disconnected")
	}()

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return
		}
		if len(data) == 0 {
			continue
		}
		switch data[0] {
		case CharControl:
			s.session.HandleControl(data[1:])
		case CharData:
			s.session.HandleData(data[1:])
		default:
			s.log.Warning("gatt: write to unknown characteristic 0x%02x", data[0])
		}
	}
}

// Handler returns the HTTP handler serving the sync endpoint.
func (s *Service) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/sync", s.handleConnection)
	return mux
}

// Start serves the sync link on addr until Shutdown.
func (s *Service) Start(addr string) error {
	s.mu.Lock()
	s.server = &http.Server{
		Addr:    addr,
		Handler: s.Handler(),
	}
	s.mu.Unlock()

	err := s.server.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil // Expected during shutdown
	}
	return err
}

// Shutdown gracefully stops the sync service.
func (s *Service) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	server := s.server
	central := s.central
	s.mu.Unlock()

	if central != nil {
		central.Close(cws.StatusGoingAway, "shutting down")
	}
	if server == nil {
		return nil
	}
	return server.Shutdown(ctx)
}
