package boot

import (
	"encoding/binary"
	"testing"
	"unsafe"

	"github.com/chungmcl/jerryOS/fdt"
)

func TestKernelStaticEndTakesMax(t *testing.T) {
	p := &Params{
		KernelRodataEnd: 0x1000,
		KernelTextEnd:   0x3000,
		KernelBSSEnd:    0x2000,
	}
	if got := p.KernelStaticEnd(); got != 0x3000 {
		t.Fatalf("KernelStaticEnd() = %#x, want 0x3000", got)
	}
}

func TestFindMemoryNodeMatchesPrefix(t *testing.T) {
	blob := buildTestBlob([]testNode{
		{name: "pl011@9000000"},
		{name: "memory@40000000"},
		{name: "virtio_mmio@a000000"},
	})

	f, err := newFDT(blob)
	if err != nil {
		t.Fatalf("newFDT: %v", err)
	}

	n, err := findMemoryNode(f)
	if err != nil {
		t.Fatalf("findMemoryNode: %v", err)
	}
	if n == nil {
		t.Fatalf("expected a memory node, got none")
	}
	name, _ := n.Name()
	if name != "memory@40000000" {
		t.Fatalf("found node %q, want memory@40000000", name)
	}
}

func TestFindMemoryNodeNotFound(t *testing.T) {
	blob := buildTestBlob([]testNode{
		{name: "pl011@9000000"},
	})

	f, err := newFDT(blob)
	if err != nil {
		t.Fatalf("newFDT: %v", err)
	}

	n, err := findMemoryNode(f)
	if err != nil {
		t.Fatalf("findMemoryNode: %v", err)
	}
	if n != nil {
		t.Fatalf("expected no memory node, found one")
	}
}

// --- minimal local DTB builder, mirroring fdt's own test helper ---
// Kept deliberately tiny: this package only needs enough of a blob to
// exercise findMemoryNode's name-prefix matching, not full FDT coverage
// (that lives in fdt's own test suite).

type testNode struct {
	name string
}

const (
	fdtMagic       = 0xd00dfeed
	fdtHeaderSize  = 0x28
	tokenBeginNode = 0x1
	tokenEndNode   = 0x2
	tokenEnd       = 0x9
)

func buildTestBlob(children []testNode) []byte {
	var structBuf []byte

	writeToken := func(tok uint32) {
		var tmp [4]byte
		binary.BigEndian.PutUint32(tmp[:], tok)
		structBuf = append(structBuf, tmp[:]...)
	}
	pad := func() {
		for len(structBuf)%4 != 0 {
			structBuf = append(structBuf, 0)
		}
	}
	beginNode := func(name string) {
		writeToken(tokenBeginNode)
		structBuf = append(structBuf, []byte(name)...)
		structBuf = append(structBuf, 0)
		pad()
	}
	endNode := func() { writeToken(tokenEndNode) }

	beginNode("")
	for _, c := range children {
		beginNode(c.name)
		endNode()
	}
	endNode()
	writeToken(tokenEnd)
	pad()

	offStruct := uint32(fdtHeaderSize)
	offStrings := offStruct + uint32(len(structBuf))
	total := offStrings

	blob := make([]byte, total)
	binary.BigEndian.PutUint32(blob[0:4], fdtMagic)
	binary.BigEndian.PutUint32(blob[4:8], total)
	binary.BigEndian.PutUint32(blob[8:12], offStruct)
	binary.BigEndian.PutUint32(blob[12:16], offStrings)
	copy(blob[offStruct:], structBuf)

	return blob
}

func newFDT(blob []byte) (*fdt.FDT, error) {
	return fdt.New(uintptr(unsafe.Pointer(&blob[0])), uintptr(len(blob)))
}
