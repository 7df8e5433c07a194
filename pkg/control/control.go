// Package control implements the halt/run/reset state machine that sits
// directly on top of a target's debug unit: the HALT/RUN command
// register, the debug-status bits, and the exception-cause decode.
package control

import (
	"time"

	"github.com/epiphany-tools/erspd/pkg/logflags"
	"github.com/epiphany-tools/erspd/pkg/regs"
	"github.com/epiphany-tools/erspd/pkg/target"
)

// Debug-command register values.
const (
	cmdHalt = 1
	cmdRun  = 0
)

// Bits within the DEBUGSTATUS register.
const (
	debugHaltBit    = 1 << 0
	debugOutTranBit = 1 << 1
)

// Bits/fields within STATUS.
const (
	statusGlobalIntDisableBit = 1 << 1
	statusExceptionShift      = 16
	statusExceptionMask       = 0x7
)

// Exception cause codes reported in STATUS[18:16].
const (
	excUnalignedLS = 0x2
	excFPU         = 0x3
	excUnimpl      = 0x4
)

// Signal names GDB understands, matching the values GDB's own
// target-signal enumeration uses on the wire.
type Signal int

const (
	SigNone Signal = 0
	SigHUP  Signal = 1
	SigInt  Signal = 2
	SigQuit Signal = 3
	SigIll  Signal = 4
	SigTrap Signal = 5
	SigAbrt Signal = 6
	SigFPE  Signal = 8
	SigBus  Signal = 10
)

// MeshSoftResetPulses is the number of times the original firmware
// toggles MESH_SWRESET high before dropping it, per the reset sequence
// the debug unit expects.
const MeshSoftResetPulses = 12

// Unit drives the halt/run/reset state machine for one core.
type Unit struct {
	ctl  target.Control
	core target.CoreID
	regs *regs.Window
	log  logflags.Logger
}

// New returns a halt/run controller bound to a core.
func New(ctl target.Control, core target.CoreID) *Unit {
	return &Unit{ctl: ctl, core: core, regs: regs.New(ctl, core), log: logflags.StopResumeLogger()}
}

// Halt requests the core stop and blocks (bounded to one second) until
// the debug unit reports it has. It returns false if the core never
// reaches debug state, which the dispatcher reports to GDB as SIGHUP.
func (u *Unit) Halt() bool {
	if !u.regs.Write(regs.DebugCmd, cmdHalt) {
		return false
	}
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if u.IsInDebugState() {
			u.log.Debugf("core halted")
			return true
		}
		time.Sleep(10 * time.Millisecond)
	}
	u.log.Debugf("core failed to halt within deadline")
	return false
}

// Resume writes the RUN command; it does not wait for the core to
// actually leave debug state.
func (u *Unit) Resume() bool {
	u.log.Debugf("resume")
	return u.regs.Write(regs.DebugCmd, cmdRun)
}

// IsInDebugState reports whether the core is halted in debug state:
// DEBUGSTATUS bit0 (HALT) and bit1 (OUT_TRAN_FALSE) both set.
func (u *Unit) IsInDebugState() bool {
	v, ok := u.regs.Debug()
	if !ok {
		return false
	}
	return v&debugHaltBit != 0 && v&debugOutTranBit != 0
}

// GlobalInterruptsEnabled reports whether STATUS bit 1 (global interrupt
// disable) is clear.
func (u *Unit) GlobalInterruptsEnabled() bool {
	v, ok := u.regs.Status()
	if !ok {
		return false
	}
	return v&statusGlobalIntDisableBit == 0
}

// PendingInterrupt reports whether any unmasked interrupt is latched:
// (~IMASK) & ILAT != 0.
func (u *Unit) PendingInterrupt() bool {
	imask, ok1 := u.regs.IMaskVal()
	ilat, ok2 := u.regs.ILatVal()
	if !ok1 || !ok2 {
		return false
	}
	return (^imask)&ilat != 0
}

// ExceptionSignal decodes STATUS[18:16] into the GDB signal to report,
// mapping alignment/FPU/unimplemented causes and defaulting any other
// non-zero cause to SIGABRT.
func (u *Unit) ExceptionSignal() Signal {
	v, ok := u.regs.Status()
	if !ok {
		return SigTrap
	}
	cause := (v >> statusExceptionShift) & statusExceptionMask
	switch cause {
	case 0:
		return SigTrap
	case excUnalignedLS:
		return SigBus
	case excFPU:
		return SigFPE
	case excUnimpl:
		return SigIll
	default:
		return SigAbrt
	}
}

// SoftReset pulses MESH_SWRESET high MeshSoftResetPulses times then
// drops it, the sequence the mesh reset controller requires to
// distinguish a deliberate reset from line noise.
func (u *Unit) SoftReset() bool {
	for i := 0; i < MeshSoftResetPulses; i++ {
		if !u.regs.Write(regs.ResetCore, 1) {
			return false
		}
	}
	return u.regs.Write(regs.ResetCore, 0)
}

// HardReset delegates to the target's platform-level reset.
func (u *Unit) HardReset() {
	u.ctl.PlatformReset()
}
