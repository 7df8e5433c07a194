package gdbserver

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/epiphany-tools/erspd/pkg/breakpoints"
	"github.com/epiphany-tools/erspd/pkg/control"
	"github.com/epiphany-tools/erspd/pkg/regs"
	"github.com/epiphany-tools/erspd/pkg/rsp"
	"github.com/epiphany-tools/erspd/pkg/semihost"
	"github.com/epiphany-tools/erspd/pkg/step"
)

// dispatch routes one decoded packet payload to its handler and returns
// the reply payload to frame (nil means send nothing; an empty non-nil
// reply is sent as the empty packet RSP uses for unsupported requests)
// plus whether the session should close after replying.
func (s *Session) dispatch(payload []byte) (reply []byte, closeAfter bool) {
	switch payload[0] {
	case '!':
		return []byte{}, false
	case '?':
		return s.reportCurrentStop(), false
	case 'c':
		return s.handleContinue(payload), false
	case 'C':
		return s.handleContinueSignal(payload), false
	case 'D':
		return []byte("OK"), true
	case 'F':
		return s.handleFileIOReply(payload), false
	case 'g':
		return s.handleReadAllRegs(), false
	case 'G':
		return s.handleWriteAllRegs(payload), false
	case 'H':
		return s.handleSetThread(payload), false
	case 'k':
		s.running = false
		return nil, true
	case 'm':
		return s.handleReadMem(payload), false
	case 'M':
		return s.handleWriteMem(payload), false
	case 'p':
		return s.handleReadReg(payload), false
	case 'P':
		return s.handleWriteReg(payload), false
	case 'q':
		return s.handleQuery(payload), false
	case 'Q':
		return s.handleSet(payload), false
	case 'R':
		return s.handleRestart(), false
	case 's':
		return s.handleStep(payload), false
	case 'S':
		return payload, false
	case 'T':
		return []byte("OK"), false
	case 'v':
		return s.handleV(payload), false
	case 'X':
		return s.handleWriteMemBin(payload), false
	case 'z':
		return s.handleRemoveBreakpoint(payload), false
	case 'Z':
		return s.handleInsertBreakpoint(payload), false
	default:
		return []byte{}, false
	}
}

func (s *Session) reportStop(pc uint32, sig control.Signal, tid int) []byte {
	if tid <= 0 {
		return []byte(fmt.Sprintf("S%02x", sig))
	}
	return []byte(fmt.Sprintf("T%02xthread:%x;", sig, tid))
}

func (s *Session) reportCurrentStop() []byte {
	w := s.regsFor(s.execCore)
	pc, _ := w.PC()
	return s.reportStop(pc, control.SigTrap, s.threadForCore(s.execCore))
}

// reportSuspendStop reports the stop caused by a Ctrl-C halt: it checks
// the core's exception state first, and if the halt landed anywhere
// other than an IDLE instruction backs the reported PC up one slot so a
// following continue re-executes it rather than skipping it.
func (s *Session) reportSuspendStop() []byte {
	w := s.regsFor(s.execCore)
	pc, _ := w.PC()
	if sig := s.control.ExceptionSignal(); sig != control.SigTrap {
		return s.reportStop(pc, sig, s.threadForCore(s.execCore))
	}
	if opcode, ok := s.ctl.ReadMem16(s.execCore, pc); ok && !step.IsIdle(opcode) {
		pc -= step.BkptInstrLen
		w.SetPC(pc)
	}
	return s.reportStop(pc, control.SigTrap, s.threadForCore(s.execCore))
}

// pollLoop sets the PC (if setPC is non-nil), resumes, and then alternates between
// checking the target for a halt and checking the client connection for
// an out-of-band break, exactly bounding each side's wait the way the
// step engine's own poll does, so Ctrl-C can interrupt a long-running
// continue.
func (s *Session) pollLoop(eng *step.Engine, setPC *uint32) []byte {
	s.running = true
	if setPC != nil {
		s.regsFor(s.execCore).SetPC(*setPC)
	}
	s.control = control.New(s.ctl, s.execCore)
	s.control.Resume()

	for {
		s.conn.SetReadDeadline(time.Now().Add(50 * time.Millisecond))
		_, err := s.conn.ReadPacket()
		s.conn.SetReadDeadline(time.Time{})
		if err == rsp.ErrBreak {
			s.logCtrl.Debugf("ctrl-c received, halting")
			s.running = false
			if !s.control.Halt() {
				return s.reportStop(0, control.SigHUP, s.threadForCore(s.execCore))
			}
			return s.reportSuspendStop()
		}
		if err == nil {
			// A genuine packet arrived instead of a break; extremely
			// unusual mid-continue. It is dropped and polling goes on.
			continue
		}
		if !rsp.IsTimeout(err) {
			s.running = false
			return nil
		}

		res := eng.PollOnce()
		if res.Reason == step.StopStillRunning {
			continue
		}
		s.running = false
		if res.Reason == step.StopSemihost {
			return s.emitSemihostRequest(res)
		}
		return s.reportStop(res.PC, control.SigTrap, s.threadForCore(s.execCore))
	}
}

func (s *Session) emitSemihostRequest(res step.Result) []byte {
	bridge := semihost.New(s.ctl, s.execCore, s.ttyOut)
	req, ok := bridge.Decode(res.TrapNum)
	if !ok {
		// tty-sink path already wrote the output; resume immediately.
		return s.pollLoop(s.engineFor(s.execCore), nil)
	}
	if req.IsSignal {
		return s.reportStop(res.PC, control.Signal(req.Signal), s.threadForCore(s.execCore))
	}
	return []byte(req.Packet)
}

func (s *Session) handleContinue(payload []byte) []byte {
	var setPC *uint32
	if len(payload) > 1 {
		if v, err := strconv.ParseUint(string(payload[1:]), 16, 32); err == nil {
			addr := uint32(v)
			setPC = &addr
		}
	}
	return s.pollLoop(s.engineFor(s.execCore), setPC)
}

func (s *Session) handleContinueSignal(payload []byte) []byte {
	if bytes.HasPrefix(payload, []byte("C03")) {
		return s.reportStop(0, control.SigQuit, s.threadForCore(s.execCore))
	}
	return s.reportCurrentStop()
}

func (s *Session) handleStep(payload []byte) []byte {
	if len(payload) > 1 {
		if v, err := strconv.ParseUint(string(payload[1:]), 16, 32); err == nil {
			s.regsFor(s.execCore).SetPC(uint32(v))
		}
	}
	eng := s.engineFor(s.execCore)
	res := eng.Step()
	if res.Reason == step.StopSemihost {
		return s.emitSemihostRequest(res)
	}
	return s.reportStop(res.PC, res.Signal, s.threadForCore(s.execCore))
}

func (s *Session) handleFileIOReply(payload []byte) []byte {
	body := string(payload[1:])
	fields := strings.Split(body, ",")
	ret, _ := strconv.ParseInt(fields[0], 16, 64)
	var errno int64
	if len(fields) > 1 {
		errno, _ = strconv.ParseInt(fields[1], 16, 64)
	}
	interrupted := len(fields) > 2 && strings.HasPrefix(fields[2], "C")
	bridge := semihost.New(s.ctl, s.execCore, s.ttyOut)
	bridge.ApplyReply(int32(ret), int32(errno))
	if interrupted {
		return s.reportCurrentStop()
	}
	return s.pollLoop(s.engineFor(s.execCore), nil)
}

func (s *Session) handleReadAllRegs() []byte {
	vals, ok := s.regsFor(s.genCore).ReadAll()
	if !ok {
		return errReply(errBusFault)
	}
	var out bytes.Buffer
	for _, v := range vals {
		out.Write(rsp.Reg32ToHex(v))
	}
	return out.Bytes()
}

func (s *Session) handleWriteAllRegs(payload []byte) []byte {
	hexBody := payload[1:]
	if len(hexBody) != regs.NumRegs*8 {
		return errReply(errBusFault)
	}
	vals := make([]uint32, regs.NumRegs)
	for i := range vals {
		v, err := rsp.HexToReg32(hexBody[i*8 : i*8+8])
		if err != nil {
			return errReply(errBusFault)
		}
		vals[i] = v
	}
	if !s.regsFor(s.genCore).WriteAll(vals) {
		return errReply(errBusFault)
	}
	return []byte("OK")
}

func (s *Session) handleSetThread(payload []byte) []byte {
	if len(payload) < 2 {
		return errReply(errBusFault)
	}
	op := payload[1]
	tidStr := string(payload[2:])
	tid, err := strconv.ParseInt(tidStr, 16, 32)
	if err != nil {
		return errReply(errBusFault)
	}
	core, ok := s.coreForThread(int(tid))
	if !ok {
		return errReply(errBusFault)
	}
	switch op {
	case 'g':
		s.genCore = core
		s.ctl.SetThreadGeneral(core)
	case 'c':
		s.execCore = core
		s.ctl.SetThreadExecute(core)
		s.control = control.New(s.ctl, core)
	default:
		return errReply(errBusFault)
	}
	return []byte("OK")
}

func (s *Session) handleReadMem(payload []byte) []byte {
	addr, length, ok := parseAddrLen(payload[1:])
	if !ok {
		return errReply(errBusFault)
	}
	if 2*length >= packetCapacity {
		return errReply(errBusFault)
	}
	buf := make([]byte, length)
	if !s.ctl.ReadBurst(s.genCore, addr, buf) {
		return errReply(errBusFault)
	}
	return rsp.EncodeHex(buf)
}

func (s *Session) handleWriteMem(payload []byte) []byte {
	rest := payload[1:]
	colon := bytes.IndexByte(rest, ':')
	if colon < 0 {
		return errReply(errBusFault)
	}
	addr, length, ok := parseAddrLen(rest[:colon])
	if !ok {
		return errReply(errBusFault)
	}
	data, err := rsp.DecodeHex(rest[colon+1:])
	if err != nil || uint32(len(data)) != length {
		return errReply(errBusFault)
	}
	if !s.ctl.WriteBurst(s.genCore, addr, data) {
		return errReply(errBusFault)
	}
	return []byte("OK")
}

func (s *Session) handleWriteMemBin(payload []byte) []byte {
	rest := payload[1:]
	colon := bytes.IndexByte(rest, ':')
	if colon < 0 {
		return errReply(errBusFault)
	}
	addr, length, ok := parseAddrLen(rest[:colon])
	if !ok {
		return errReply(errBusFault)
	}
	// rest is already de-escaped: Conn.ReadPacket unescapes the whole
	// packet before dispatch ever sees it.
	data := rest[colon+1:]
	if uint32(len(data)) != length {
		return errReply(errBusFault)
	}
	if !s.ctl.WriteBurst(s.genCore, addr, data) {
		return errReply(errBusFault)
	}
	return []byte("OK")
}

func parseAddrLen(s []byte) (addr, length uint32, ok bool) {
	comma := bytes.IndexByte(s, ',')
	if comma < 0 {
		return 0, 0, false
	}
	a, err1 := strconv.ParseUint(string(s[:comma]), 16, 32)
	l, err2 := strconv.ParseUint(string(s[comma+1:]), 16, 32)
	if err1 != nil || err2 != nil {
		return 0, 0, false
	}
	return uint32(a), uint32(l), true
}

func (s *Session) handleReadReg(payload []byte) []byte {
	n, err := strconv.ParseUint(string(payload[1:]), 16, 32)
	if err != nil {
		return errReply(errBusFault)
	}
	v, ok := s.regsFor(s.genCore).Read(int(n))
	if !ok {
		return errReply(errBusFault)
	}
	return rsp.Reg32ToHex(v)
}

func (s *Session) handleWriteReg(payload []byte) []byte {
	body := payload[1:]
	eq := bytes.IndexByte(body, '=')
	if eq < 0 {
		return errReply(errBusFault)
	}
	n, err := strconv.ParseUint(string(body[:eq]), 16, 32)
	if err != nil {
		return errReply(errBusFault)
	}
	v, err := rsp.HexToReg32(body[eq+1:])
	if err != nil {
		return errReply(errBusFault)
	}
	if !s.regsFor(s.genCore).Write(int(n), v) {
		return errReply(errBusFault)
	}
	return []byte("OK")
}

func (s *Session) handleRestart() []byte {
	s.regsFor(s.execCore).SetPC(0)
	return []byte{}
}

func (s *Session) handleV(payload []byte) []byte {
	switch {
	case bytes.HasPrefix(payload, []byte("vAttach;")):
		return s.reportStop(0, control.SigTrap, s.threadForCore(s.execCore))
	case bytes.Equal(payload, []byte("vCont?")):
		return []byte{}
	case bytes.HasPrefix(payload, []byte("vRun;")):
		s.regsFor(s.execCore).SetPC(0)
		return s.reportStop(0, control.SigTrap, s.threadForCore(s.execCore))
	default:
		return []byte{}
	}
}

func (s *Session) handleRemoveBreakpoint(payload []byte) []byte {
	kind, addr, _, ok := parseBreakpointPacket(payload)
	if !ok {
		return errReply(errBusFault)
	}
	if kind != breakpoints.Memory {
		return []byte{}
	}
	entry, ok := s.bptFor(s.execCore).Remove(kind, addr)
	if !ok {
		return errReply(errBusFault)
	}
	if !s.ctl.WriteMem16(s.execCore, addr, entry.Saved) {
		return errReply(errBusFault)
	}
	return []byte("OK")
}

func (s *Session) handleInsertBreakpoint(payload []byte) []byte {
	kind, addr, _, ok := parseBreakpointPacket(payload)
	if !ok {
		return errReply(errBusFault)
	}
	if kind != breakpoints.Memory {
		return []byte{}
	}
	bpt := s.bptFor(s.execCore)
	if _, exists := bpt.Lookup(kind, addr); !exists {
		saved, ok := s.ctl.ReadMem16(s.execCore, addr)
		if !ok {
			return errReply(errBusFault)
		}
		bpt.Add(kind, addr, saved)
	}
	if !s.ctl.WriteMem16(s.execCore, addr, step.BkptInstr) {
		return errReply(errBusFault)
	}
	return []byte("OK")
}

func parseBreakpointPacket(payload []byte) (kind breakpoints.Kind, addr uint32, length uint32, ok bool) {
	if len(payload) < 4 || payload[2] != ',' {
		return 0, 0, 0, false
	}
	fields := strings.SplitN(string(payload[3:]), ",", 2)
	if len(fields) != 2 {
		return 0, 0, 0, false
	}
	a, err1 := strconv.ParseUint(fields[0], 16, 32)
	l, err2 := strconv.ParseUint(fields[1], 16, 32)
	if err1 != nil || err2 != nil {
		return 0, 0, 0, false
	}
	switch payload[1] {
	case '0':
		kind = breakpoints.Memory
	case '1':
		kind = breakpoints.Hardware
	case '2':
		kind = breakpoints.WriteWatch
	case '3':
		kind = breakpoints.ReadWatch
	case '4':
		kind = breakpoints.AccessWatch
	default:
		return 0, 0, 0, false
	}
	return kind, uint32(a), uint32(l), true
}
