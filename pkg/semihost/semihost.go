// Package semihost bridges target TRAP instructions to GDB's File-I/O
// extension, and to a local tty sink for the printf-style trap used by
// on-target diagnostic output.
package semihost

import (
	"bytes"
	"fmt"
	"io"
	"math"

	"github.com/epiphany-tools/erspd/pkg/logflags"
	"github.com/epiphany-tools/erspd/pkg/regs"
	"github.com/epiphany-tools/erspd/pkg/target"
)

// Trap numbers, matching the fixed convention the target's runtime
// library encodes into its TRAP instructions.
const (
	TrapWrite = 0
	TrapRead  = 1
	TrapOpen  = 2
	TrapExit  = 3
	TrapPass  = 4
	TrapFail  = 5
	TrapClose = 6
	TrapOther = 7
)

const maxPathLen = 1024

// Request is an outgoing GDB File-I/O request the dispatcher must frame
// as an F-packet and send to the client.
type Request struct {
	Packet string // e.g. "Fwrite,1,8000,5"
	// Signal is set instead of Packet when the trap requires reporting a
	// stop signal rather than issuing a File-I/O call (exit/pass/fail).
	Signal   int
	IsSignal bool
}

// Bridge decodes traps for one core and, for TrapOther, can format and
// write directly to a configured tty sink instead of round-tripping
// through GDB.
type Bridge struct {
	ctl    target.Control
	core   target.CoreID
	regs   *regs.Window
	ttyOut io.Writer
	log    logflags.Logger
}

// New returns a semihosting bridge. ttyOut may be nil, in which case
// TrapOther is always routed through File-I/O like the other traps.
func New(ctl target.Control, core target.CoreID, ttyOut io.Writer) *Bridge {
	return &Bridge{ctl: ctl, core: core, regs: regs.New(ctl, core), ttyOut: ttyOut, log: logflags.TrapAndRspConLogger()}
}

// Decode turns a trap number into the action the dispatcher must take.
// For TrapOther with a tty sink configured, Decode performs the write
// itself and returns ok=false to tell the caller no File-I/O
// round-trip is needed; the target should simply be resumed.
func (b *Bridge) Decode(trapNum uint8) (req Request, ok bool) {
	r0, _ := b.regs.Read(regs.R0)
	r1, _ := b.regs.Read(1)
	r2, _ := b.regs.Read(2)
	r3, _ := b.regs.Read(3)

	switch trapNum {
	case TrapWrite:
		return Request{Packet: fmt.Sprintf("Fwrite,%x,%x,%x", r0, r1, r2)}, true
	case TrapRead:
		return Request{Packet: fmt.Sprintf("Fread,%x,%x,%x", r0, r1, r2)}, true
	case TrapOpen:
		path := b.readCString(r0, maxPathLen)
		return Request{Packet: fmt.Sprintf("Fopen,%x/%x,%x,180", r0, len(path), r1)}, true
	case TrapExit:
		return Request{Signal: 3, IsSignal: true}, true // SIGQUIT
	case TrapPass:
		return Request{Signal: 5, IsSignal: true}, true // SIGTRAP
	case TrapFail:
		return Request{Signal: 3, IsSignal: true}, true // SIGQUIT
	case TrapClose:
		return Request{Packet: fmt.Sprintf("Fclose,%x", r0)}, true
	case TrapOther:
		if b.ttyOut != nil {
			b.printfTrap(r0, r1, r2)
			return Request{}, false
		}
		return b.decodeOtherFileIO(r3, r0, r1, r2), true
	default:
		return Request{}, false
	}
}

func (b *Bridge) decodeOtherFileIO(subFn uint32, r0, r1, r2 uint32) Request {
	switch subFn {
	case 0:
		path := b.readCString(r0, maxPathLen)
		return Request{Packet: fmt.Sprintf("Fopen,%x/%x,%x,180", r0, len(path), r1)}
	case 1:
		return Request{Packet: fmt.Sprintf("Fclose,%x", r0)}
	case 2:
		return Request{Packet: fmt.Sprintf("Fread,%x,%x,%x", r0, r1, r2)}
	case 3:
		return Request{Packet: fmt.Sprintf("Fwrite,%x,%x,%x", r0, r1, r2)}
	case 4:
		return Request{Packet: fmt.Sprintf("Flseek,%x,%x,%x", r0, r1, r2)}
	case 5:
		path := b.readCString(r0, maxPathLen)
		return Request{Packet: fmt.Sprintf("Funlink,%x/%x", r0, len(path))}
	case 6:
		path := b.readCString(r0, maxPathLen)
		return Request{Packet: fmt.Sprintf("Fstat,%x/%x,%x", r0, len(path), r1)}
	case 7:
		return Request{Packet: fmt.Sprintf("Ffstat,%x,%x", r0, r1)}
	default:
		return Request{}
	}
}

func (b *Bridge) readCString(addr uint32, cap int) []byte {
	var buf []byte
	for i := 0; i < cap; i++ {
		c, ok := b.ctl.ReadMem8(b.core, addr+uint32(i))
		if !ok || c == 0 {
			break
		}
		buf = append(buf, c)
	}
	return buf
}

// printfTrap implements TRAP_OTHER's printf convention: R0 points to a
// buffer of R2 bytes, of which the first R1 are a NUL-terminated format
// string and the rest a packed argument blob. %s arguments are
// themselves NUL-terminated strings (read from the address the blob
// carries); every other supported verb consumes 4 big-endian bytes.
func (b *Bridge) printfTrap(addr, fmtLen, totalLen uint32) {
	if totalLen < fmtLen {
		return
	}
	raw := make([]byte, totalLen)
	if !b.ctl.ReadBurst(b.core, addr, raw) {
		return
	}
	format := raw[:fmtLen]
	args := raw[fmtLen:]

	var out bytes.Buffer
	ai := 0
	for i := 0; i < len(format); i++ {
		if format[i] != '%' || i+1 >= len(format) {
			out.WriteByte(format[i])
			continue
		}
		i++
		switch format[i] {
		case 's':
			strAddr := be32(args[ai:])
			ai += 4
			out.Write(b.readCString(strAddr, 4096))
		case 'd', 'i':
			fmt.Fprintf(&out, "%d", int32(be32(args[ai:])))
			ai += 4
		case 'u':
			fmt.Fprintf(&out, "%d", be32(args[ai:]))
			ai += 4
		case 'x':
			fmt.Fprintf(&out, "%x", be32(args[ai:]))
			ai += 4
		case 'X':
			fmt.Fprintf(&out, "%X", be32(args[ai:]))
			ai += 4
		case 'p':
			fmt.Fprintf(&out, "%#x", be32(args[ai:]))
			ai += 4
		case 'f':
			bits := be32(args[ai:])
			ai += 4
			fmt.Fprintf(&out, "%f", math.Float32frombits(bits))
		case '%':
			out.WriteByte('%')
		default:
			out.WriteByte('%')
			out.WriteByte(format[i])
		}
	}
	b.log.Debugf("semihosted output: %s", out.String())
	io.Copy(b.ttyOut, bytes.NewReader(out.Bytes()))
}

func be32(b []byte) uint32 {
	if len(b) < 4 {
		return 0
	}
	return uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
}

// ApplyReply writes an F-reply's return value and errno back into the
// core's registers before it is resumed.
func (b *Bridge) ApplyReply(ret int32, errno int32) {
	b.regs.Write(regs.R0, uint32(ret))
	b.regs.Write(3, uint32(errno))
}
