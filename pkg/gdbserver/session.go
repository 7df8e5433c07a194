// Package gdbserver implements the RSP session loop: one handler per
// packet letter, the query/set subsystems, and the Ctrl-C-aware
// continue/step polling loop that sits between GDB and the halt/step
// engine.
package gdbserver

import (
	"fmt"
	"io"

	"github.com/epiphany-tools/erspd/pkg/breakpoints"
	"github.com/epiphany-tools/erspd/pkg/control"
	"github.com/epiphany-tools/erspd/pkg/logflags"
	"github.com/epiphany-tools/erspd/pkg/osdata"
	"github.com/epiphany-tools/erspd/pkg/regs"
	"github.com/epiphany-tools/erspd/pkg/rsp"
	"github.com/epiphany-tools/erspd/pkg/step"
	"github.com/epiphany-tools/erspd/pkg/target"
)

// packetCapacity is the packet buffer size advertised to GDB via
// qSupported's PacketSize; it must exceed the longest reply this server
// ever produces, the full register file rendered as hex.
const packetCapacity = regs.NumRegs*target.RegBytes*2 + 64

// Session holds all per-connection state for one attached GDB client.
// A new Session is created for each accepted connection; nothing
// persists across a detach/reconnect except the target itself.
type Session struct {
	conn *rsp.Conn
	ctl  target.Control

	genCore  target.CoreID // selected by 'Hg'
	execCore target.CoreID // selected by 'Hc'

	bpts     map[target.CoreID]*breakpoints.Table
	control  *control.Unit
	engines  map[target.CoreID]*step.Engine
	monitors *monitorTable
	osdata   *osdata.Renderer
	ttyOut   io.Writer

	haltOnAttach bool
	running      bool

	logStop logflags.Logger
	logCon  logflags.Logger
	logCtrl logflags.Logger
}

// NewSession wraps an accepted connection with a fresh dispatcher bound
// to a target. aliases seeds the monitor command table with any
// user-defined command aliases from the config file.
func NewSession(conn *rsp.Conn, ctl target.Control, ttyOut io.Writer, haltOnAttach bool, aliases map[string][]string) *Session {
	ids := ctl.ListCoreIDs()
	first := target.CoreID(0)
	if len(ids) > 0 {
		first = ids[0]
	}
	s := &Session{
		conn:         conn,
		ctl:          ctl,
		genCore:      first,
		execCore:     first,
		bpts:         make(map[target.CoreID]*breakpoints.Table),
		engines:      make(map[target.CoreID]*step.Engine),
		monitors:     newMonitorTable(aliases),
		osdata:       osdata.New(ctl, 1),
		ttyOut:       ttyOut,
		haltOnAttach: haltOnAttach,
		logStop:      logflags.StopResumeLogger(),
		logCon:       logflags.TrapAndRspConLogger(),
		logCtrl:      logflags.CtrlCWaitLogger(),
	}
	s.control = control.New(ctl, first)
	return s
}

func (s *Session) bptFor(core target.CoreID) *breakpoints.Table {
	t, ok := s.bpts[core]
	if !ok {
		t = breakpoints.New()
		s.bpts[core] = t
	}
	return t
}

func (s *Session) engineFor(core target.CoreID) *step.Engine {
	e, ok := s.engines[core]
	if !ok {
		e = step.New(s.ctl, core, s.bptFor(core))
		s.engines[core] = e
	}
	return e
}

func (s *Session) regsFor(core target.CoreID) *regs.Window {
	return regs.New(s.ctl, core)
}

// threadForCore/coreForThread implement the thread-ID = core-index+1
// convention shared by every thread-aware packet.
func (s *Session) coreForThread(tid int) (target.CoreID, bool) {
	ids := s.ctl.ListCoreIDs()
	if tid <= 0 {
		if len(ids) == 0 {
			return 0, false
		}
		return ids[0], true
	}
	if tid > len(ids) {
		return 0, false
	}
	return ids[tid-1], true
}

func (s *Session) threadForCore(core target.CoreID) int {
	for i, id := range s.ctl.ListCoreIDs() {
		if id == core {
			return i + 1
		}
	}
	return 1
}

// Run drives the session loop until the client detaches or disconnects.
func (s *Session) Run() {
	defer s.conn.Close()

	if s.haltOnAttach {
		s.control = control.New(s.ctl, s.execCore)
		s.control.Halt()
	}

	for {
		payload, err := s.conn.ReadPacket()
		if err != nil {
			if err == rsp.ErrBreak {
				continue // no continue in flight, nothing to interrupt
			}
			s.logCon.Debugf("session ending: %v", err)
			return
		}
		if len(payload) == 0 {
			continue
		}
		reply, closeAfter := s.dispatch(payload)
		if reply != nil {
			if err := s.conn.WritePacket(reply); err != nil {
				s.logCon.Debugf("write failed: %v", err)
				return
			}
		}
		if closeAfter {
			return
		}
	}
}

func errReply(code int) []byte { return []byte(fmt.Sprintf("E%02d", code)) }

const errBusFault = 1
