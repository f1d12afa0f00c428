package ptm

import (
	"testing"
	"unsafe"

	"github.com/chungmcl/jerryOS/mm/ppm"
	"github.com/chungmcl/jerryOS/ttd"
)

// newFakeManager backs the page-table manager with a host []byte arena
// instead of real physical RAM, mirroring gopher-os's frameAllocator-over-
// a-byte-slice test style. Frame-relative "physical addresses" in
// [0, nFrames*PageLen) are translated into the arena through memAt.
func newFakeManager(t *testing.T, nFrames int) *Manager {
	t.Helper()

	arena := make([]byte, nFrames*ttd.PageLen)
	base := uintptr(unsafe.Pointer(&arena[0]))

	origMemAt := memAt
	memAt = func(addr uint64) unsafe.Pointer {
		// A high-half address (every TTBR1Mask bit set) stands for a PA
		// reached through the linear map rather than directly; translate
		// it back down the same way RAMVAToPA does (ramBase is 0 in this
		// fixture) before indexing into the arena, so descend's post-MMU
		// zeroing and walk re-projection land on the same bytes a direct
		// PA access would.
		pa := addr
		if addr&TTBR1Mask == TTBR1Mask {
			pa = addr &^ TTBR1Mask
		}
		return unsafe.Pointer(base + uintptr(pa))
	}
	t.Cleanup(func() { memAt = origMemAt })

	p, _ := ppm.Init(0, 0, uint64(nFrames)*ttd.PageLen)

	rootTTBR0 = Root{}
	rootTTBR1 = Root{}
	t.Cleanup(func() {
		rootTTBR0 = Root{}
		rootTTBR1 = Root{}
	})

	return Init(p, 0, uint64(nFrames)*ttd.PageLen)
}

func TestMapPageToVAIdempotence(t *testing.T) {
	m := newFakeManager(t, 64)

	pa, err := m.ppm.GetFreePage(false)
	if err != nil {
		t.Fatalf("GetFreePage: %v", err)
	}

	va := uint64(0x1234000) // arbitrary VA within the 39-bit range

	r1, err := m.MapPageToVA(&rootTTBR0, pa, va, false)
	if err != nil {
		t.Fatalf("first MapPageToVA: %v", err)
	}

	before := rootTTBR0

	r2, err := m.MapPageToVA(&rootTTBR0, pa, va, false)
	if err != nil {
		t.Fatalf("second MapPageToVA: %v", err)
	}

	if r1 != pa || r2 != pa {
		t.Fatalf("got (%#x, %#x), want both == %#x", r1, r2, pa)
	}

	if rootTTBR0 != before {
		t.Fatalf("tree mutated by a repeat overwrite=false mapping")
	}
}

func TestMapPageToVAConflictDetection(t *testing.T) {
	m := newFakeManager(t, 64)

	pa1, _ := m.ppm.GetFreePage(false)
	pa2, _ := m.ppm.GetFreePage(false)

	va := uint64(0x2000000)

	if _, err := m.MapPageToVA(&rootTTBR0, pa1, va, false); err != nil {
		t.Fatalf("map pa1: %v", err)
	}

	resolved, err := m.MapPageToVA(&rootTTBR0, pa2, va, false)
	if err != nil {
		t.Fatalf("map pa2: %v", err)
	}

	if resolved != pa1 {
		t.Fatalf("resolved = %#x, want prior pa1 %#x", resolved, pa1)
	}
}

func TestMapPageToVAWalkCorrectness(t *testing.T) {
	m := newFakeManager(t, 64)

	pa, _ := m.ppm.GetFreePage(false)
	va := uint64(0x3048000)

	if _, err := m.MapPageToVA(&rootTTBR0, pa, va, false); err != nil {
		t.Fatalf("MapPageToVA: %v", err)
	}

	l1 := rootTTBR0[l1Index(va)]
	if !l1.Valid() || !l1.IsTable() {
		t.Fatalf("L1 entry not installed as a valid table")
	}

	l2Table := tableAt(m.resolveTablePtr(ttd.NLTAToPA(l1.NLTA())))
	l2 := l2Table[l2Index(va)]
	if !l2.Valid() || !l2.IsTable() {
		t.Fatalf("L2 entry not installed as a valid table")
	}

	l3Table := pagesAt(m.resolveTablePtr(ttd.NLTAToPA(l2.NLTA())))
	leaf := l3Table[l3Index(va)]

	if !leaf.Valid() {
		t.Fatalf("L3 leaf not valid")
	}
	if got := ttd.OABToPA(leaf.OAB()); got != pa&^(ttd.PageLen-1) {
		t.Fatalf("leaf resolves to %#x, want %#x", got, pa&^(ttd.PageLen-1))
	}
}

func TestRepeatMapDoesNotChangeRefcounts(t *testing.T) {
	m := newFakeManager(t, 64)

	pa, _ := m.ppm.GetFreePage(false)
	va := uint64(0x1008000)

	for i := 0; i < 10; i++ {
		if _, err := m.MapPageToVA(&rootTTBR0, pa, va, false); err != nil {
			t.Fatalf("map #%d: %v", i, err)
		}
	}

	rc, err := m.ppm.RefCount(m.ppm.PAToFrame(pa))
	if err != nil {
		t.Fatalf("RefCount: %v", err)
	}
	if rc != 1 {
		t.Fatalf("refcount after 10 repeat maps = %d, want 1", rc)
	}
}

func TestAddressMathRoundTrip(t *testing.T) {
	m := newFakeManager(t, 64)

	pa := m.ramBase + 5*ttd.PageLen

	va := m.PAToRAMVA(pa)
	if va&^TTBR1Mask != pa-m.ramBase {
		t.Fatalf("PAToRAMVA did not preserve low bits")
	}
	if va&TTBR1Mask != TTBR1Mask {
		t.Fatalf("PAToRAMVA top bits = %#x, want %#x", va&TTBR1Mask, TTBR1Mask)
	}

	if got := m.RAMVAToPA(va); got != pa {
		t.Fatalf("RAMVAToPA(PAToRAMVA(pa)) = %#x, want %#x", got, pa)
	}
}

func TestMapMMIORangeAllocatesExactlyNewTables(t *testing.T) {
	m := newFakeManager(t, 64)

	usedFrames := func() int {
		n := 0
		for i := ppm.Frame(0); i < m.ppm.NFrames(); i++ {
			if rc, _ := m.ppm.RefCount(i); rc != 0 {
				n++
			}
		}
		return n
	}
	before := usedFrames()

	if err := m.MapMMIORange(0x9000000, 0x1000); err != nil {
		t.Fatalf("MapMMIORange: %v", err)
	}

	if got := usedFrames() - before; got != 2 {
		t.Fatalf("MapMMIORange allocated %d table pages, want 2 (one L2, one L3)", got)
	}

	resolved, err := m.MapPageToVA(&rootTTBR0, 0x9000000, 0x9000000, false)
	if err != nil {
		t.Fatalf("verify MapPageToVA: %v", err)
	}
	if resolved != 0x9000000 {
		t.Fatalf("MMIO range not identity-mapped: resolved %#x", resolved)
	}
}

// TestMapMMIORangePostMMUZeroesThroughLinearMap exercises the path boot's
// second FDT pass actually takes: MapMMIORange called after the MMU is on,
// for an MMIO base with no existing L2/L3 tables, forcing descend to
// allocate and zero a fresh table page while mmuEnabled is true. Before the
// fix this zeroed the page through its raw PA, which is not a valid load
// address once translation is active.
func TestMapMMIORangePostMMUZeroesThroughLinearMap(t *testing.T) {
	m := newFakeManager(t, 64)
	m.SetMMUEnabled(true)

	if err := m.MapMMIORange(0xa000000, 0x1000); err != nil {
		t.Fatalf("MapMMIORange: %v", err)
	}

	resolved, err := m.MapPageToVA(&rootTTBR0, 0xa000000, 0xa000000, false)
	if err != nil {
		t.Fatalf("verify MapPageToVA: %v", err)
	}
	if resolved != 0xa000000 {
		t.Fatalf("MMIO range not identity-mapped: resolved %#x", resolved)
	}

	l1 := rootTTBR0[l1Index(0xa000000)]
	l2Table := tableAt(m.resolveTablePtr(ttd.NLTAToPA(l1.NLTA())))
	l2 := l2Table[l2Index(0xa000000)]
	l3Table := pagesAt(m.resolveTablePtr(ttd.NLTAToPA(l2.NLTA())))

	for i, pd := range l3Table {
		if i == l3Index(0xa000000) {
			continue
		}
		if pd != 0 {
			t.Fatalf("L3 slot %d not zeroed: %#x", i, uint64(pd))
		}
	}
}
