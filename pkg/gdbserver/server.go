package gdbserver

import (
	"io"
	"net"

	"github.com/epiphany-tools/erspd/pkg/logflags"
	"github.com/epiphany-tools/erspd/pkg/rsp"
	"github.com/epiphany-tools/erspd/pkg/target"
)

// Server accepts RSP connections sequentially: one Session at a time,
// reset on every disconnect, matching the protocol's single-client
// model while still letting a fresh gdb invocation reattach.
type Server struct {
	listener     net.Listener
	ctl          target.Control
	ttyOut       io.Writer
	haltOnAttach bool
	aliases      map[string][]string
	log          logflags.Logger

	stopChan chan struct{}
}

// Config bundles the settings a Server needs beyond the listener and
// target, mirroring the shape of a service.Config in the ambient CLI
// layer.
type Config struct {
	Listener     net.Listener
	Target       target.Control
	TTYOut       io.Writer
	HaltOnAttach bool
	Aliases      map[string][]string
}

// NewServer constructs a Server ready to Run.
func NewServer(cfg *Config) *Server {
	return &Server{
		listener:     cfg.Listener,
		ctl:          cfg.Target,
		ttyOut:       cfg.TTYOut,
		haltOnAttach: cfg.HaltOnAttach,
		aliases:      cfg.Aliases,
		log:          logflags.TrapAndRspConLogger(),
		stopChan:     make(chan struct{}),
	}
}

// Run accepts connections until Stop is called or the listener errors.
func (srv *Server) Run() error {
	for {
		nc, err := srv.listener.Accept()
		if err != nil {
			select {
			case <-srv.stopChan:
				return nil
			default:
				return err
			}
		}
		srv.log.Debugf("accepted connection from %s", nc.RemoteAddr())
		sess := NewSession(rsp.NewConn(nc), srv.ctl, srv.ttyOut, srv.haltOnAttach, srv.aliases)
		sess.Run()
		srv.log.Debugf("session ended")
	}
}

// Stop closes the listener, unblocking Run.
func (srv *Server) Stop() error {
	close(srv.stopChan)
	return srv.listener.Close()
}
