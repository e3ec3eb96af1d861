package vm

import "github.com/clockwork-mesh/clockwork/pkg/bytecode"

// heap is the VM's linked block store. Handles are opaque uint32s with
// bytecode.HeapBit set; the low bits index into blocks, which never
// shrinks or reuses an id within one VM lifetime — compaction is not
// part of the contract.
type heap struct {
	blocks []string
}

func newHeap() *heap {
	// index 0 is never issued so a zeroed register can never alias a
	// live handle.
	return &heap{blocks: []string{""}}
}

func (h *heap) alloc(s string) uint32 {
	id := uint32(len(h.blocks))
	h.blocks = append(h.blocks, s)
	return bytecode.HeapBit | id
}

func (h *heap) get(handle uint32) (string, bool) {
	if !bytecode.IsHeapHandle(handle) {
		return "", false
	}
	id := handle &^ bytecode.HeapBit
	if id == 0 || int(id) >= len(h.blocks) {
		return "", false
	}
	return h.blocks[id], true
}
