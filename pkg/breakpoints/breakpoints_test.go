package breakpoints

import "testing"

func TestAddLookupRemove(t *testing.T) {
	tbl := New()
	if _, existed := tbl.Add(Memory, 0x100, 0xbeef); existed {
		t.Fatal("unexpected previous entry on first Add")
	}
	e, ok := tbl.Lookup(Memory, 0x100)
	if !ok || e.Saved != 0xbeef {
		t.Fatalf("Lookup = %+v, ok=%v", e, ok)
	}
	if tbl.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", tbl.Len())
	}
	removed, ok := tbl.Remove(Memory, 0x100)
	if !ok || removed.Saved != 0xbeef {
		t.Fatalf("Remove = %+v, ok=%v", removed, ok)
	}
	if tbl.Len() != 0 {
		t.Fatalf("Len() = %d, want 0 after remove", tbl.Len())
	}
}

func TestPlantTemporaryDoesNotClobberUserBreakpoint(t *testing.T) {
	tbl := New()
	tbl.Add(Memory, 0x200, 0x1111)

	if planted := tbl.PlantTemporary(0x200, 0x2222); planted {
		t.Fatal("PlantTemporary should report false when a user breakpoint owns the address")
	}
	e, _ := tbl.Lookup(Memory, 0x200)
	if e.Saved != 0x1111 {
		t.Fatalf("user breakpoint's saved word was overwritten: got %#x", e.Saved)
	}

	if _, removed := tbl.RemoveTemporary(0x200); removed {
		t.Fatal("RemoveTemporary should not remove a user-owned breakpoint")
	}
	if tbl.Len() != 1 {
		t.Fatalf("Len() = %d, want 1 (user breakpoint still present)", tbl.Len())
	}
}

func TestPlantAndRemoveTemporary(t *testing.T) {
	tbl := New()
	if planted := tbl.PlantTemporary(0x300, 0x3333); !planted {
		t.Fatal("expected PlantTemporary to succeed on an empty address")
	}
	e, ok := tbl.RemoveTemporary(0x300)
	if !ok || e.Saved != 0x3333 {
		t.Fatalf("RemoveTemporary = %+v, ok=%v", e, ok)
	}
	if tbl.Len() != 0 {
		t.Fatalf("Len() = %d, want 0 after temporary removed", tbl.Len())
	}
}

func TestDistinctKindsDoNotCollide(t *testing.T) {
	tbl := New()
	tbl.Add(Memory, 0x400, 0xaaaa)
	tbl.Add(Hardware, 0x400, 0xbbbb)
	if tbl.Len() != 2 {
		t.Fatalf("Len() = %d, want 2 for distinct kinds at same address", tbl.Len())
	}
}
