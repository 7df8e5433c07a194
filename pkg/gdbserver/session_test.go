package gdbserver

import (
	"net"
	"testing"

	"github.com/epiphany-tools/erspd/pkg/rsp"
	"github.com/epiphany-tools/erspd/pkg/target/meshsim"
)

func TestCoreForThreadAndBack(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()
	mesh := meshsim.New(2, 2)
	s := NewSession(rsp.NewConn(server), mesh, nil, false, nil)

	ids := mesh.ListCoreIDs()
	for i, id := range ids {
		got, ok := s.coreForThread(i + 1)
		if !ok || got != id {
			t.Fatalf("coreForThread(%d) = (%v, %v), want (%v, true)", i+1, got, ok, id)
		}
		if tid := s.threadForCore(id); tid != i+1 {
			t.Fatalf("threadForCore(%v) = %d, want %d", id, tid, i+1)
		}
	}
}

func TestCoreForThreadOutOfRange(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()
	mesh := meshsim.New(1, 1)
	s := NewSession(rsp.NewConn(server), mesh, nil, false, nil)

	if _, ok := s.coreForThread(99); ok {
		t.Fatal("expected coreForThread to reject an out-of-range thread id")
	}
}

func TestCoreForThreadZeroMeansFirstCore(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()
	mesh := meshsim.New(1, 1)
	s := NewSession(rsp.NewConn(server), mesh, nil, false, nil)

	got, ok := s.coreForThread(0)
	if !ok || got != mesh.ListCoreIDs()[0] {
		t.Fatalf("coreForThread(0) = (%v, %v), want the first core", got, ok)
	}
}

func TestErrReplyFormatsTwoDigitHex(t *testing.T) {
	if got, want := string(errReply(1)), "E01"; got != want {
		t.Fatalf("errReply(1) = %q, want %q", got, want)
	}
}
