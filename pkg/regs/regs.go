// Package regs maps the GDB register numbering GDB expects for this
// target onto the mesh's memory-mapped register file, and performs the
// bulk read/write GDB's 'g'/'G' packets need.
package regs

import (
	"encoding/binary"

	"github.com/epiphany-tools/erspd/pkg/logflags"
	"github.com/epiphany-tools/erspd/pkg/target"
)

// GPR aliases used by GDB's generic register set.
const (
	R0 = 0
	SB = 9
	SL = 10
	FP = 11
	IP = 12
	SP = 13
	LR = 14
)

// SCR register numbers, offset from the end of the GPR block.
const (
	NumGPRs = 64
	NumSCRs = 42
	NumRegs = NumGPRs + NumSCRs

	Config      = NumGPRs + 0
	Status      = NumGPRs + 1
	PC          = NumGPRs + 2
	DebugStatus = NumGPRs + 3
	IRet        = NumGPRs + 7
	IMask       = NumGPRs + 8
	ILat        = NumGPRs + 9
	FStatus     = NumGPRs + 13
	DebugCmd    = NumGPRs + 14
	ResetCore   = NumGPRs + 15
	CoreIDReg   = NumGPRs + 37
)

// byte offsets of the SCR group from a core's CORE_CONFIG base, keyed by
// GDB register number. Registers not named here are still addressable
// (the block is dense) but have no convenience accessor.
var scrOffset = map[int]uint32{
	Config:      0x00,
	Status:      0x04,
	PC:          0x08,
	DebugStatus: 0x0c,
	IRet:        0x1c,
	IMask:       0x20,
	ILat:        0x24,
	FStatus:     0x34,
	DebugCmd:    0x38,
	ResetCore:   0x3c,
	CoreIDReg:   0x94,
}

// gprBase is LOC_BASE_REGS, the core-local address where the GPR file
// starts. scrBase is CORE_CONFIG, LOC_BASE_REGS + EPI_CONFIG(0x400),
// where the SCR block starts.
const (
	gprBase = 0xf0000
	scrBase = 0xf0400
)

// Window reads and writes the register file of one core through a
// target.Control.
type Window struct {
	ctl  target.Control
	core target.CoreID
	log  logflags.Logger
}

// New returns a register window bound to a core.
func New(ctl target.Control, core target.CoreID) *Window {
	return &Window{ctl: ctl, core: core, log: logflags.TranDetailLogger()}
}

// Addr computes the memory-mapped address of a GDB register number.
func Addr(regnum int) uint32 {
	if regnum < NumGPRs {
		return gprBase + uint32(regnum)*target.RegBytes
	}
	if off, ok := scrOffset[regnum]; ok {
		return scrBase + off
	}
	// Dense SCR block: registers without a named offset sit at a fixed
	// word stride from the start of the block.
	return scrBase + uint32(regnum-NumGPRs)*target.RegBytes
}

// Read reads one register by GDB register number.
func (w *Window) Read(regnum int) (uint32, bool) {
	v, ok := w.ctl.ReadMem32(w.core, Addr(regnum))
	w.log.Debugf("read reg %d -> %#x ok=%v", regnum, v, ok)
	return v, ok
}

// Write writes one register by GDB register number.
func (w *Window) Write(regnum int, val uint32) bool {
	ok := w.ctl.WriteMem32(w.core, Addr(regnum), val)
	w.log.Debugf("write reg %d <- %#x ok=%v", regnum, val, ok)
	return ok
}

// PC/SetPC/LR/SP/Status/Debug/IMaskVal/ILatVal/IRetVal are convenience
// wrappers over Read/Write for registers the step engine and dispatcher
// touch most often.
func (w *Window) PC() (uint32, bool)          { return w.Read(PC) }
func (w *Window) SetPC(v uint32) bool         { return w.Write(PC, v) }
func (w *Window) LR() (uint32, bool)          { return w.Read(LR) }
func (w *Window) SP() (uint32, bool)          { return w.Read(SP) }
func (w *Window) Status() (uint32, bool)      { return w.Read(Status) }
func (w *Window) Debug() (uint32, bool)       { return w.Read(DebugStatus) }
func (w *Window) IMaskVal() (uint32, bool)    { return w.Read(IMask) }
func (w *Window) ILatVal() (uint32, bool)     { return w.Read(ILat) }
func (w *Window) IRetVal() (uint32, bool)     { return w.Read(IRet) }

// ReadAll reads every register in GDB order (GPRs then SCRs) as two
// contiguous burst transfers, one over the GPR file and one over the SCR
// block, rather than 106 individual word reads; callers hex-encode the
// result for the 'g' reply.
func (w *Window) ReadAll() ([]uint32, bool) {
	out := make([]uint32, NumRegs)

	gprBuf := make([]byte, NumGPRs*target.RegBytes)
	if !w.ctl.ReadBurst(w.core, gprBase, gprBuf) {
		return nil, false
	}
	for i := 0; i < NumGPRs; i++ {
		out[i] = binary.LittleEndian.Uint32(gprBuf[i*target.RegBytes:])
	}

	scrBuf := make([]byte, NumSCRs*target.RegBytes)
	if !w.ctl.ReadBurst(w.core, scrBase, scrBuf) {
		return nil, false
	}
	for i := 0; i < NumSCRs; i++ {
		out[NumGPRs+i] = binary.LittleEndian.Uint32(scrBuf[i*target.RegBytes:])
	}

	w.log.Debugf("read all regs ok")
	return out, true
}

// WriteAll writes every register from a GDB-ordered slice of length
// NumRegs, as delivered by a 'G' packet, via the same two burst
// transfers ReadAll uses.
func (w *Window) WriteAll(vals []uint32) bool {
	if len(vals) != NumRegs {
		return false
	}

	gprBuf := make([]byte, NumGPRs*target.RegBytes)
	for i := 0; i < NumGPRs; i++ {
		binary.LittleEndian.PutUint32(gprBuf[i*target.RegBytes:], vals[i])
	}
	if !w.ctl.WriteBurst(w.core, gprBase, gprBuf) {
		return false
	}

	scrBuf := make([]byte, NumSCRs*target.RegBytes)
	for i := 0; i < NumSCRs; i++ {
		binary.LittleEndian.PutUint32(scrBuf[i*target.RegBytes:], vals[NumGPRs+i])
	}
	if !w.ctl.WriteBurst(w.core, scrBase, scrBuf) {
		return false
	}

	w.log.Debugf("write all regs ok")
	return true
}
