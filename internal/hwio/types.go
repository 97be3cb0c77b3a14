// Package hwio implements the batching hardware-I/O layer (spec §4.1):
// per-CPU MSR register access, either through one ioctl batch system call
// or, when that is unavailable, a submitted-I/O backend with a sequential
// positional-read/write fallback. Grounded on original_source/service/src/
// MSRIO.cpp (open/close ordering, read-modify-write semantics, write-mask
// caching) and BatchIO.{hpp,cpp} (the push_pread/push_pwrite/read_batch/
// write_batch/reset shape), with the wire structs from spec §6 reproduced
// verbatim for the ioctl backend.
package hwio

import "github.com/hpcgov/rtd/internal/rterrors"

// MSRBatchOp mirrors the kernel's msr_batch_op_s exactly (spec §6):
// `{ cpu: u16, isrdmsr: u16, err: i32, msr: u32, msrdata: u64, wmask: u64 }`.
type MSRBatchOp struct {
	CPU      uint16
	IsRDMSR  uint16
	Err      int32
	MSR      uint32
	MSRData  uint64
	WMask    uint64
}

// MSRBatchArray mirrors msr_batch_array_s: `{ numops: u32, ops: *msr_batch_op_s }`.
type MSRBatchArray struct {
	NumOps uint32
	Ops    []MSRBatchOp
}

// batchKey dedups write ops by (cpu, offset) per MSRIO.cpp's add_write.
type batchKey struct {
	cpu    int
	offset uint32
}

// readOp is one registered AddRead target.
type readOp struct {
	cpu    int
	offset uint32
	result uint64
	hasResult bool
}

// writeOp is one registered AddWrite target, with the accumulated pending
// masked value awaiting the next WriteBatch (spec §3 BatchOp-write row).
type writeOp struct {
	cpu          int
	offset       uint32
	wmaskSys     uint64
	pendingValue uint64
	pendingMask  uint64
}

// Backend performs the raw, non-masking I/O a HardwareIO delegates to:
// batched positional reads/writes and a system-write-mask query. Masking,
// read-modify-write composition, and slot bookkeeping all live in
// HardwareIO; a Backend never sees pending-value/pending-mask semantics.
type Backend interface {
	// Open acquires per-CPU (and optional batch) file handles for the
	// given CPU indices, in order; failure on any per-CPU handle is
	// fatal (spec §4.1).
	Open(cpus []int) error
	// Close releases all handles in reverse order of Open.
	Close() error
	// ReadDirect performs one non-batched positional read.
	ReadDirect(cpu int, offset uint32) (uint64, error)
	// WriteDirect performs one non-batched positional write of a raw value.
	WriteDirect(cpu int, offset uint32, value uint64) error
	// SystemWriteMask queries the kernel-allowed write mask for offset,
	// defaulting to all-ones when the backend has no such notion (spec §4.1).
	SystemWriteMask(offset uint32) (uint64, error)
	// ExecuteReads performs one batched positional read per op, in any
	// order, populating op.Value for each. A short transfer on any op
	// fails the whole call with MsrRead.
	ExecuteReads(ops []BatchReadOp) error
	// ExecuteWrites performs one batched positional write per op. A short
	// transfer on any op fails the whole call with MsrWrite.
	ExecuteWrites(ops []BatchWriteOp) error
}

// BatchReadOp is one op handed to Backend.ExecuteReads.
type BatchReadOp struct {
	CPU    int
	Offset uint32
	Value  uint64
}

// BatchWriteOp is one op handed to Backend.ExecuteWrites: the final raw
// value to write, already composed by HardwareIO's read-modify-write step.
type BatchWriteOp struct {
	CPU    int
	Offset uint32
	Value  uint64
}

func invalidErr(msg string) error { return rterrors.New(rterrors.Invalid, msg) }
