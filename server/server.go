// Package server implements the binary protocol listener and the
// request dispatcher: one cooperative handler goroutine per accepted
// connection, responses framed under the channel write lock.
package server

import (
	"errors"
	"net"
	"sync"
	"time"

	"github.com/puzpuzpuz/xsync/v3"
	"github.com/sirupsen/logrus"
	"github.com/tevino/abool"

	"github.com/keeldb/keel/database"
	"github.com/keeldb/keel/wire"
)

// serverVersion is announced to clients on DB_OPEN.
const serverVersion = "keel 1.7.0"

// Config carries the server settings.
type Config struct {
	// Addr is the listen address, host:port.
	Addr string
	// DataRoot is the directory disk databases live under.
	DataRoot string
	// DefaultStorageType is used when a request names none.
	DefaultStorageType string
	// MaxCommandTimeout clamps client-supplied command timeouts; zero
	// means no clamp.
	MaxCommandTimeout time.Duration
	// ShutdownUser and ShutdownPassword authorize remote SHUTDOWN.
	ShutdownUser     string
	ShutdownPassword string
	// ServerUsers are the principals allowed to run server-level
	// operations (CONNECT, database create/drop, config access).
	ServerUsers map[string]string
}

// A Server accepts binary protocol connections and serves them.
type Server struct {
	cfg      Config
	registry *database.Registry
	sessions *ConnectionManager
	executor database.CommandExecutor

	configs *xsync.MapOf[string, string]

	listener     net.Listener
	shuttingDown *abool.AtomicBool
	nodeOnline   *abool.AtomicBool
	onlineCond   *sync.Cond

	handlers sync.WaitGroup
}

// New returns a server over a fresh database registry.
func New(cfg Config) *Server {
	if cfg.DefaultStorageType == "" {
		cfg.DefaultStorageType = "memory"
	}
	s := &Server{
		cfg:          cfg,
		registry:     database.NewRegistry(cfg.DataRoot),
		sessions:     NewConnectionManager(),
		configs:      xsync.NewMapOf[string, string](),
		shuttingDown: abool.New(),
		nodeOnline:   abool.NewBool(true),
	}
	s.onlineCond = sync.NewCond(&sync.Mutex{})

	s.configs.Store("db.mvcc", "true")
	s.configs.Store("storage.defaultType", cfg.DefaultStorageType)
	s.configs.Store("command.timeout", cfg.MaxCommandTimeout.String())
	return s
}

// serverLogin authenticates a server-level principal for the given
// resource.
func (s *Server) serverLogin(user, password, resource string) (*database.User, error) {
	expected, ok := s.cfg.ServerUsers[user]
	if !ok || expected != password {
		return nil, wire.NewClassedError(wire.ClassSecurityAccess,
			errors.New("server user not authenticated"))
	}
	logrus.Debugf("server: user %q authenticated for %q", user, resource)
	return &database.User{Name: user, Roles: []*database.Role{database.AdminRole()}}, nil
}

// authenticateServerUser re-checks an already authenticated server
// user against a resource. Server users hold every server resource.
func (s *Server) authenticateServerUser(user, password, resource string) bool {
	_, ok := s.cfg.ServerUsers[user]
	return ok
}

// Registry returns the server's database registry.
func (s *Server) Registry() *database.Registry { return s.registry }

// Sessions returns the live session registry.
func (s *Server) Sessions() *ConnectionManager { return s.sessions }

// SetCommandExecutor plugs in the command compiler for all sessions.
func (s *Server) SetCommandExecutor(ex database.CommandExecutor) { s.executor = ex }

// SetNodeOnline flips the node-ready gate; requests block while the
// node is offline.
func (s *Server) SetNodeOnline(online bool) {
	s.onlineCond.L.Lock()
	s.nodeOnline.SetTo(online)
	s.onlineCond.L.Unlock()
	if online {
		s.onlineCond.Broadcast()
	}
}

func (s *Server) waitNodeOnline() {
	s.onlineCond.L.Lock()
	for !s.nodeOnline.IsSet() && !s.shuttingDown.IsSet() {
		s.onlineCond.Wait()
	}
	s.onlineCond.L.Unlock()
}

// Listen binds the configured address.
func (s *Server) Listen() error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return err
	}
	s.listener = ln
	logrus.Infof("server: listening for binary connections on %s", ln.Addr())
	return nil
}

// Addr returns the bound address, nil before Listen.
func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Serve accepts connections until Shutdown. Each connection gets its
// own handler goroutine.
func (s *Server) Serve() error {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if s.shuttingDown.IsSet() {
				return nil
			}
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			logrus.Warnf("server: accept failed: %s", err)
			continue
		}
		connectionsAccepted.Inc()
		s.handlers.Add(1)
		go func() {
			defer s.handlers.Done()
			s.ServeConn(conn)
		}()
	}
}

// ListenAndServe binds and serves.
func (s *Server) ListenAndServe() error {
	if err := s.Listen(); err != nil {
		return err
	}
	return s.Serve()
}

// ServeConn runs the binary protocol over one accepted connection and
// returns when the peer goes away or the handler shuts it down.
func (s *Server) ServeConn(conn net.Conn) {
	h := newHandler(s, conn)
	h.run()
}

// Shutdown stops accepting, waits for handlers to drain and closes the
// registry.
func (s *Server) Shutdown() error {
	if !s.shuttingDown.SetToIf(false, true) {
		return nil
	}
	// wake request handlers parked on the node gate
	s.onlineCond.Broadcast()
	if s.listener != nil {
		_ = s.listener.Close()
	}
	s.handlers.Wait()
	return s.registry.Shutdown()
}
