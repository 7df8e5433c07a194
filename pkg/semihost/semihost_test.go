package semihost

import (
	"bytes"
	"testing"

	"github.com/epiphany-tools/erspd/pkg/regs"
	"github.com/epiphany-tools/erspd/pkg/target/meshsim"
)

func TestDecodeWriteTrap(t *testing.T) {
	m := meshsim.New(1, 1)
	core := m.ListCoreIDs()[0]
	w := regs.New(m, core)
	w.Write(regs.R0, 1)
	w.Write(1, 0x8000)
	w.Write(2, 5)

	b := New(m, core, nil)
	req, ok := b.Decode(TrapWrite)
	if !ok {
		t.Fatal("Decode(TrapWrite) returned ok=false")
	}
	if req.Packet != "Fwrite,1,8000,5" {
		t.Fatalf("Packet = %q, want %q", req.Packet, "Fwrite,1,8000,5")
	}
}

func TestDecodeExitIsSignal(t *testing.T) {
	m := meshsim.New(1, 1)
	core := m.ListCoreIDs()[0]
	b := New(m, core, nil)

	req, ok := b.Decode(TrapExit)
	if !ok || !req.IsSignal || req.Signal != 3 {
		t.Fatalf("Decode(TrapExit) = %+v, ok=%v; want IsSignal SIGQUIT", req, ok)
	}
}

func TestDecodeOtherWithoutTTYRoutesToFileIO(t *testing.T) {
	m := meshsim.New(1, 1)
	core := m.ListCoreIDs()[0]
	w := regs.New(m, core)
	w.Write(regs.R0, 1)
	w.Write(1, 0x9000)
	w.Write(2, 10)
	w.Write(3, 3) // subfunction 3 = write

	b := New(m, core, nil)
	req, ok := b.Decode(TrapOther)
	if !ok {
		t.Fatal("Decode(TrapOther) without tty sink should still round-trip via File-I/O")
	}
	if req.Packet != "Fwrite,1,9000,a" {
		t.Fatalf("Packet = %q, want %q", req.Packet, "Fwrite,1,9000,a")
	}
}

func TestDecodeOtherWithTTYSinkWritesDirectly(t *testing.T) {
	m := meshsim.New(1, 1)
	core := m.ListCoreIDs()[0]
	w := regs.New(m, core)

	format := []byte("hi %d\x00")
	argBlob := []byte{0, 0, 0, 42}
	buf := append(append([]byte{}, format...), argBlob...)
	m.WriteBurst(core, 0x3000, buf)

	w.Write(regs.R0, 0x3000)
	w.Write(1, uint32(len(format)))
	w.Write(2, uint32(len(buf)))

	var sink bytes.Buffer
	b := New(m, core, &sink)
	req, ok := b.Decode(TrapOther)
	if ok {
		t.Fatalf("Decode(TrapOther) with tty sink should not need a File-I/O round trip, got %+v", req)
	}
	if got, want := sink.String(), "hi 42\x00"; got != want {
		t.Fatalf("sink = %q, want %q", got, want)
	}
}

func TestReadCStringStopsAtNUL(t *testing.T) {
	m := meshsim.New(1, 1)
	core := m.ListCoreIDs()[0]
	m.WriteBurst(core, 0x4000, []byte("hello\x00garbage"))

	b := New(m, core, nil)
	got := b.readCString(0x4000, 1024)
	if string(got) != "hello" {
		t.Fatalf("readCString = %q, want %q", got, "hello")
	}
}

func TestApplyReplyWritesR0AndR3(t *testing.T) {
	m := meshsim.New(1, 1)
	core := m.ListCoreIDs()[0]
	b := New(m, core, nil)
	b.ApplyReply(5, -1)

	w := regs.New(m, core)
	v0, _ := w.Read(regs.R0)
	v3, _ := w.Read(3)
	if int32(v0) != 5 {
		t.Fatalf("R0 = %d, want 5", int32(v0))
	}
	if int32(v3) != -1 {
		t.Fatalf("R3 = %d, want -1", int32(v3))
	}
}
