package hwio

import (
	"sync"

	"github.com/hpcgov/rtd/internal/rterrors"
	"github.com/hpcgov/rtd/internal/rtlog"
)

// HardwareIO is the batching register-access facade agents use (spec
// §4.1). It owns zero masking/I/O logic of its own backend's device
// handles — that is delegated to a Backend — but owns all slot
// bookkeeping, write-mask caching, and read-modify-write composition.
type HardwareIO struct {
	mu      sync.Mutex
	backend Backend
	log     *rtlog.Logger

	opened bool
	cpus   []int

	wmaskCache map[uint32]uint64

	reads  []readOp
	writes []writeOp
	writeIndex map[batchKey]int
}

// New constructs a HardwareIO bound to the given backend and CPU list.
// The backend is not opened until Open is called.
func New(backend Backend, cpus []int, log *rtlog.Logger) *HardwareIO {
	if log == nil {
		log = rtlog.Default("hwio")
	}
	return &HardwareIO{
		backend:    backend,
		log:        log,
		cpus:       append([]int(nil), cpus...),
		wmaskCache: make(map[uint32]uint64),
		writeIndex: make(map[batchKey]int),
	}
}

// Open acquires the backend's per-CPU (and optional batch) handles.
func (h *HardwareIO) Open() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.opened {
		return nil
	}
	if err := h.backend.Open(h.cpus); err != nil {
		return rterrors.Wrap(rterrors.MsrOpen, "failed to open hardware I/O backend", err)
	}
	h.opened = true
	return nil
}

// Close releases the backend's handles.
func (h *HardwareIO) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.opened {
		return nil
	}
	h.opened = false
	if err := h.backend.Close(); err != nil {
		return rterrors.Wrap(rterrors.MsrOpen, "failed to close hardware I/O backend", err)
	}
	return nil
}

// Read performs a direct, non-batched MSR read.
func (h *HardwareIO) Read(cpu int, offset uint32) (uint64, error) {
	v, err := h.backend.ReadDirect(cpu, offset)
	if err != nil {
		return 0, rterrors.Wrap(rterrors.MsrRead, "direct MSR read failed", err)
	}
	return v, nil
}

// Write performs a direct, non-batched read-modify-write using mask.
func (h *HardwareIO) Write(cpu int, offset uint32, value, mask uint64) error {
	if value&^mask != 0 {
		return invalidErr("write value sets bits outside mask")
	}
	current, err := h.backend.ReadDirect(cpu, offset)
	if err != nil {
		return rterrors.Wrap(rterrors.MsrRead, "direct MSR read (for write) failed", err)
	}
	newValue := (current &^ mask) | value
	if err := h.backend.WriteDirect(cpu, offset, newValue); err != nil {
		return rterrors.Wrap(rterrors.MsrWrite, "direct MSR write failed", err)
	}
	return nil
}

// SystemWriteMask returns the kernel-allowed write mask for offset,
// caching per offset (spec §4.1).
func (h *HardwareIO) SystemWriteMask(offset uint32) (uint64, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if m, ok := h.wmaskCache[offset]; ok {
		return m, nil
	}
	m, err := h.backend.SystemWriteMask(offset)
	if err != nil {
		return 0, rterrors.Wrap(rterrors.MsrRead, "system_write_mask query failed", err)
	}
	h.wmaskCache[offset] = m
	return m, nil
}

// AddRead registers a batch read target, returning a stable slot index.
// No dedup is performed (matches MSRIO.cpp's add_read, which notes reads
// are not deduplicated).
func (h *HardwareIO) AddRead(cpu int, offset uint32) (int, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.reads = append(h.reads, readOp{cpu: cpu, offset: offset})
	return len(h.reads) - 1, nil
}

// AddWrite registers a batch write target, returning a stable slot index.
// Repeated calls for the same (cpu, offset) return the same slot
// (MSRIO.cpp's add_write dedup via m_write_batch_idx_map). The system
// write mask is recorded at add time.
func (h *HardwareIO) AddWrite(cpu int, offset uint32) (int, error) {
	h.mu.Lock()
	key := batchKey{cpu: cpu, offset: offset}
	if idx, ok := h.writeIndex[key]; ok {
		h.mu.Unlock()
		return idx, nil
	}
	h.mu.Unlock()

	wmask, err := h.SystemWriteMask(offset)
	if err != nil {
		return 0, err
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if idx, ok := h.writeIndex[key]; ok {
		return idx, nil
	}
	h.writes = append(h.writes, writeOp{cpu: cpu, offset: offset, wmaskSys: wmask})
	idx := len(h.writes) - 1
	h.writeIndex[key] = idx
	return idx, nil
}

// Adjust merges a masked value into a registered write slot's pending
// value/mask. Fails Invalid if mask exceeds the slot's system write mask
// or if value sets bits outside mask (spec §4.1). Overlapping bits across
// multiple Adjust calls use last-writer-wins semantics per bit position.
func (h *HardwareIO) Adjust(slot int, value, mask uint64) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if slot < 0 || slot >= len(h.writes) {
		return invalidErr("adjust: slot out of range")
	}
	op := &h.writes[slot]
	if mask&^op.wmaskSys != 0 {
		return invalidErr("adjust: mask exceeds system write mask")
	}
	if value&^mask != 0 {
		return invalidErr("adjust: value sets bits outside mask")
	}
	op.pendingValue = (op.pendingValue &^ mask) | value
	op.pendingMask |= mask
	return nil
}

// ReadBatch executes every registered read op and populates per-slot results.
func (h *HardwareIO) ReadBatch() error {
	h.mu.Lock()
	ops := make([]BatchReadOp, len(h.reads))
	for i, r := range h.reads {
		ops[i] = BatchReadOp{CPU: r.cpu, Offset: r.offset}
	}
	h.mu.Unlock()

	if len(ops) == 0 {
		return nil
	}
	if err := h.backend.ExecuteReads(ops); err != nil {
		return rterrors.Wrap(rterrors.MsrRead, "read_batch failed", err)
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for i, op := range ops {
		h.reads[i].result = op.Value
		h.reads[i].hasResult = true
	}
	return nil
}

// WriteBatch performs an atomic read-modify-write for every registered
// write op: read current value, compute new = (current &^ mask) | value,
// write back. A batched read is issued for all targets, then a batched
// write with the composed values (MSRIO.cpp write_batch). Pending
// value/mask are cleared after success.
func (h *HardwareIO) WriteBatch() error {
	h.mu.Lock()
	if len(h.writes) == 0 {
		h.mu.Unlock()
		return nil
	}
	readOps := make([]BatchReadOp, len(h.writes))
	for i, w := range h.writes {
		readOps[i] = BatchReadOp{CPU: w.cpu, Offset: w.offset}
	}
	h.mu.Unlock()

	if err := h.backend.ExecuteReads(readOps); err != nil {
		return rterrors.Wrap(rterrors.MsrRead, "write_batch read-modify-write read phase failed", err)
	}

	h.mu.Lock()
	writeOps := make([]BatchWriteOp, len(h.writes))
	for i, w := range h.writes {
		current := readOps[i].Value
		newValue := (current &^ w.pendingMask) | w.pendingValue
		writeOps[i] = BatchWriteOp{CPU: w.cpu, Offset: w.offset, Value: newValue}
	}
	h.mu.Unlock()

	if err := h.backend.ExecuteWrites(writeOps); err != nil {
		return rterrors.Wrap(rterrors.MsrWrite, "write_batch write phase failed", err)
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for i := range h.writes {
		h.writes[i].pendingValue = 0
		h.writes[i].pendingMask = 0
	}
	return nil
}

// Sample returns the value read by the most recent ReadBatch for slot.
func (h *HardwareIO) Sample(slot int) (uint64, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if slot < 0 || slot >= len(h.reads) {
		return 0, invalidErr("sample: slot out of range")
	}
	if !h.reads[slot].hasResult {
		return 0, invalidErr("sample: read_batch has not yet run for this slot")
	}
	return h.reads[slot].result, nil
}
