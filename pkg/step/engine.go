package step

import (
	"time"

	"github.com/epiphany-tools/erspd/pkg/breakpoints"
	"github.com/epiphany-tools/erspd/pkg/control"
	"github.com/epiphany-tools/erspd/pkg/logflags"
	"github.com/epiphany-tools/erspd/pkg/regs"
	"github.com/epiphany-tools/erspd/pkg/target"
)

// IVTEntries is the number of vector slots shadowed during a step.
const IVTEntries = 10

// pollAttempts/pollInterval bound how long Step waits (in waitHalted)
// for the target to halt on its own after a resume.
const (
	pollAttempts = 3
	pollInterval = 300 * time.Millisecond
)

// StopReason describes why Step or Continue returned.
type StopReason int

const (
	StopTrap StopReason = iota
	StopSemihost
	StopStillRunning
)

// Result carries a stop back to the dispatcher.
type Result struct {
	Reason    StopReason
	PC        uint32
	Signal    control.Signal
	TrapNum   uint8 // valid when Reason == StopSemihost
}

// Engine synthesises single-step and drives continue for one core.
type Engine struct {
	ctl   target.Control
	core  target.CoreID
	regs  *regs.Window
	ctrl  *control.Unit
	bpt   *breakpoints.Table
	log   logflags.Logger

	ivtShadow [IVTEntries * target.InstrBytes]byte
}

// New returns a step engine bound to one core's register window,
// halt/run controller, and breakpoint table.
func New(ctl target.Control, core target.CoreID, bpt *breakpoints.Table) *Engine {
	return &Engine{
		ctl:  ctl,
		core: core,
		regs: regs.New(ctl, core),
		ctrl: control.New(ctl, core),
		bpt:  bpt,
		log:  logflags.StopResumeLogger(),
	}
}

func (e *Engine) fetch16(addr uint32) (uint16, bool) {
	return e.ctl.ReadMem16(e.core, addr)
}

// plantBkpt writes the breakpoint opcode at addr, saving the original
// word unless a user breakpoint already lives there. It reports whether
// this call is the one that must undo the plant.
func (e *Engine) plantBkpt(addr uint32) bool {
	if e.bpt != nil {
		if _, exists := e.bpt.Lookup(breakpoints.Memory, addr); exists {
			return false // user breakpoint already owns this slot
		}
	}
	saved, ok := e.fetch16(addr)
	if !ok {
		return false
	}
	if e.bpt != nil {
		e.bpt.PlantTemporary(addr, saved)
	}
	e.ctl.WriteMem16(e.core, addr, BkptInstr)
	return true
}

func (e *Engine) unplantBkpt(addr uint32) {
	if e.bpt == nil {
		return
	}
	if entry, ok := e.bpt.RemoveTemporary(addr); ok {
		e.ctl.WriteMem16(e.core, addr, entry.Saved)
	}
}

// shadowIVT copies the live IVT region into the engine's shadow buffer
// and plants breakpoints at every vector but the reset vector (entry 0)
// and any vector coinciding with the current PC.
func (e *Engine) shadowIVT(pc uint32) []uint32 {
	e.ctl.ReadBurst(e.core, 0, e.ivtShadow[:])
	var planted []uint32
	for i := 1; i < IVTEntries; i++ {
		addr := uint32(i * target.InstrBytes)
		if addr == pc {
			continue
		}
		if e.plantBkpt(addr) {
			planted = append(planted, addr)
		}
	}
	return planted
}

// restoreIVT writes the shadow buffer back verbatim, undoing whatever
// breakpoints shadowIVT planted (and any BKPT the step itself may have
// left mid-region, since the raw restore supersedes it).
func (e *Engine) restoreIVT(planted []uint32) {
	e.ctl.WriteBurst(e.core, 0, e.ivtShadow[:])
	for _, addr := range planted {
		e.bpt.RemoveTemporary(addr)
	}
}

// predictTargets returns the fall-through address and, if this
// instruction can transfer control, the predicted destination.
func (e *Engine) predictTargets(pc uint32, opcode uint16) (fallThrough uint32, branch uint32, hasBranch bool) {
	is32 := Is32Bit(opcode)
	if is32 {
		fallThrough = pc + 4
	} else {
		fallThrough = pc + 2
	}

	switch {
	case IsImmediateBranch(opcode):
		if is32 {
			ext, ok := e.fetch16(pc + 2)
			if !ok {
				return fallThrough, 0, false
			}
			return fallThrough, uint32(int64(pc) + int64(BranchOffset32(opcode, ext))), true
		}
		return fallThrough, uint32(int64(pc) + int64(BranchOffset16(opcode))), true

	case IsRTI(opcode):
		iret, ok := e.regs.IRetVal()
		if !ok {
			return fallThrough, 0, false
		}
		return fallThrough, iret, true

	default:
		if is32 {
			ext, ok := e.fetch16(pc + 2)
			if !ok {
				return fallThrough, 0, false
			}
			if reg, ok := IsRegisterJump32(opcode, ext); ok {
				v, ok := e.regs.Read(reg)
				if !ok {
					return fallThrough, 0, false
				}
				return fallThrough, v, true
			}
			return fallThrough, 0, false
		}
		if reg, ok := IsRegisterJump16(opcode); ok {
			v, ok := e.regs.Read(reg)
			if !ok {
				return fallThrough, 0, false
			}
			return fallThrough, v, true
		}
		return fallThrough, 0, false
	}
}

// Step advances the core by exactly one instruction from its current
// PC, using breakpoint-planting rather than a hardware step bit.
func (e *Engine) Step() Result {
	pc, ok := e.regs.PC()
	if !ok {
		return Result{Reason: StopTrap, Signal: control.SigAbrt}
	}

	if sig := e.ctrl.ExceptionSignal(); sig != control.SigTrap {
		return Result{Reason: StopTrap, PC: pc, Signal: sig}
	}

	opcode, ok := e.fetch16(pc)
	if !ok {
		return Result{Reason: StopTrap, Signal: control.SigAbrt}
	}

	if IsIdle(opcode) {
		return e.stepIdle(pc)
	}

	if trapNum, isTrap := IsTrap(opcode); isTrap {
		e.regs.SetPC(pc + TrapInstrLen)
		return Result{Reason: StopSemihost, PC: pc, TrapNum: trapNum}
	}

	fallThrough, branch, hasBranch := e.predictTargets(pc, opcode)

	fallPlanted := e.plantBkpt(fallThrough)
	branchPlanted := false
	if hasBranch && branch != fallThrough {
		branchPlanted = e.plantBkpt(branch)
	}

	ivtPlanted := e.shadowIVT(pc)

	e.ctrl.Resume()
	e.waitHalted()

	e.restoreIVT(ivtPlanted)

	stopPC, _ := e.regs.PC()
	correctedPC := e.unwindStop(stopPC, fallThrough, branch, hasBranch)
	if correctedPC != stopPC {
		e.regs.SetPC(correctedPC)
	}

	if fallPlanted {
		e.unplantBkpt(fallThrough)
	}
	if branchPlanted {
		e.unplantBkpt(branch)
	}

	return Result{Reason: StopTrap, PC: correctedPC, Signal: control.SigTrap}
}

// stepIdle handles the IDLE-instruction branch: if interrupts are live
// and pending, the next dispatched instruction is an ISR entry, so every
// non-reset IVT slot must be covered rather than just one fall-through
// address. Unless both conditions hold the core stays parked and nothing
// is planted or resumed. Either way the reported PC is backed up one
// slot from wherever the core ends up.
func (e *Engine) stepIdle(pc uint32) Result {
	if e.ctrl.GlobalInterruptsEnabled() && e.ctrl.PendingInterrupt() {
		planted := e.shadowIVT(pc)
		e.ctrl.Resume()
		e.waitHalted()
		e.restoreIVT(planted)
	}
	stopPC, _ := e.regs.PC()
	correctedPC := stopPC - BkptInstrLen
	e.regs.SetPC(correctedPC)
	return Result{Reason: StopTrap, PC: correctedPC, Signal: control.SigTrap}
}

// unwindStop backs the reported PC up by one BKPT instruction length if
// the core actually stopped on a planted breakpoint. It only computes the
// PC; Step restores the original words through unplantBkpt.
func (e *Engine) unwindStop(stopPC, fallThrough, branch uint32, hasBranch bool) uint32 {
	candidate := stopPC - BkptInstrLen
	if candidate == fallThrough || (hasBranch && candidate == branch) {
		return candidate
	}
	return stopPC
}

func (e *Engine) waitHalted() {
	for i := 0; i < pollAttempts; i++ {
		if e.ctrl.IsInDebugState() {
			return
		}
		time.Sleep(pollInterval)
	}
}

// Continue resumes execution, optionally first setting PC, and checks
// once (via PollOnce) whether the target has halted. It does not block:
// if the target is still running it returns StopStillRunning, and the
// dispatcher keeps calling PollOnce while watching for Ctrl-C.
func (e *Engine) Continue(setPC *uint32) Result {
	if setPC != nil {
		e.regs.SetPC(*setPC)
	}
	e.ctrl.Resume()
	return e.PollOnce()
}

// PollOnce checks once whether the target has halted and, if so,
// classifies the stop (breakpoint trap vs. semihosting trap found by
// scanning backward for a TRAP instruction). If the target is still
// running it returns StopStillRunning so the caller can poll again.
func (e *Engine) PollOnce() Result {
	if !e.ctrl.IsInDebugState() {
		return Result{Reason: StopStillRunning}
	}

	pc, _ := e.regs.PC()

	if sig := e.ctrl.ExceptionSignal(); sig != control.SigTrap {
		return Result{Reason: StopTrap, PC: pc, Signal: sig}
	}

	prevAddr := pc - BkptInstrLen
	if opcode, ok := e.fetch16(prevAddr); ok && opcode == BkptInstr {
		if _, known := e.bpt.Lookup(breakpoints.Memory, prevAddr); known {
			e.regs.SetPC(prevAddr)
			return Result{Reason: StopTrap, PC: prevAddr, Signal: control.SigTrap}
		}
	}

	// Trap instructions are NOP-padded by the compiler; scan back up to
	// nine halfwords looking for one before concluding this is a plain
	// breakpoint stop.
	for i := 1; i <= 9; i++ {
		addr := pc - uint32(i*TrapInstrLen)
		opcode, ok := e.fetch16(addr)
		if !ok {
			break
		}
		if trapNum, isTrap := IsTrap(opcode); isTrap {
			return Result{Reason: StopSemihost, PC: addr, TrapNum: trapNum}
		}
		if opcode != nopInstr {
			break
		}
	}

	return Result{Reason: StopTrap, PC: pc, Signal: control.SigTrap}
}

// Halt is used by the dispatcher's Ctrl-C handling to stop a running
// continue out of band.
func (e *Engine) Halt() bool {
	return e.ctrl.Halt()
}
