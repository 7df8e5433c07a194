package osdata

import (
	"strconv"
	"strings"
	"testing"

	"github.com/epiphany-tools/erspd/pkg/target/meshsim"
)

func TestRenderProcessContainsAllCores(t *testing.T) {
	m := meshsim.New(2, 2)
	r := New(m, 1)

	doc, err := r.Render(AnnexProcess, 0)
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	for _, id := range m.ListCoreIDs() {
		if !strings.Contains(doc, strconv.Itoa(int(id))) {
			t.Fatalf("process doc missing core %d:\n%s", id, doc)
		}
	}
}

func TestRenderUnknownAnnexErrors(t *testing.T) {
	m := meshsim.New(1, 1)
	r := New(m, 1)
	if _, err := r.Render("bogus", 0); err == nil {
		t.Fatal("expected an error for an unknown annex")
	}
}

func TestRenderCachesAcrossNonzeroOffsetReads(t *testing.T) {
	m := meshsim.New(1, 1)
	r := New(m, 1)

	first, err := r.Render(AnnexLoad, 0)
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	second, err := r.Render(AnnexLoad, 10)
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if first != second {
		t.Fatal("expected a nonzero-offset read to return the cached document unchanged")
	}
}

func TestBuildTrafficMarksEdgeCoresWithDashes(t *testing.T) {
	m := meshsim.New(2, 2)
	r := New(m, 1)
	doc, err := r.Render(AnnexTraffic, 0)
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if !strings.Contains(doc, ">--<") {
		t.Fatalf("expected edge-core placeholder \"--\" in a 2x2 mesh:\n%s", doc)
	}
}

func TestWindowSlicesAndMarksLastChunk(t *testing.T) {
	doc := "0123456789"
	if got := Window(doc, 0, 4); got != "m0123" {
		t.Fatalf("Window(0,4) = %q, want %q", got, "m0123")
	}
	if got := Window(doc, 8, 4); got != "l89" {
		t.Fatalf("Window(8,4) = %q, want %q", got, "l89")
	}
	if got := Window(doc, 100, 4); got != "l" {
		t.Fatalf("Window(100,4) = %q, want %q", got, "l")
	}
}
