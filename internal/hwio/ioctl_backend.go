package hwio

import (
	"fmt"
	"os"
	"unsafe"

	"golang.org/x/sys/unix"
)

// msrBatchIoctl is GEOPM_IOC_MSR_BATCH: _IOWR('c', 0xA2, msr_batch_array_s).
const msrBatchIoctl = (3 << 30) | ('c' << 8) | 0xA2 | (16 << 16)

// IoctlBackend packs every op in a batch into one msr_batch_array_s and
// issues a single ioctl system call, grounded on MSRIO.cpp's msr_ioctl:
// "a single ioctl(msr_batch_desc(), GEOPM_IOC_MSR_BATCH, &batch) call,
// per-op err field checked after."
type IoctlBackend struct {
	msrPathFmt  string // e.g. "/dev/cpu/%d/msr"
	batchPath   string // e.g. "/dev/cpu/msr_batch"
	cpuFiles    map[int]*os.File
	batchFile   *os.File
	cpuOrder    []int
}

// NewIoctlBackend constructs a backend targeting the standard Linux MSR
// device paths, overridable for tests.
func NewIoctlBackend(msrPathFmt, batchPath string) *IoctlBackend {
	if msrPathFmt == "" {
		msrPathFmt = "/dev/cpu/%d/msr"
	}
	if batchPath == "" {
		batchPath = "/dev/cpu/msr_batch"
	}
	return &IoctlBackend{msrPathFmt: msrPathFmt, batchPath: batchPath, cpuFiles: make(map[int]*os.File)}
}

func (b *IoctlBackend) Open(cpus []int) error {
	for _, cpu := range cpus {
		f, err := os.OpenFile(fmt.Sprintf(b.msrPathFmt, cpu), os.O_RDWR, 0)
		if err != nil {
			b.closeOpened()
			return fmt.Errorf("open msr handle for cpu %d: %w", cpu, err)
		}
		b.cpuFiles[cpu] = f
		b.cpuOrder = append(b.cpuOrder, cpu)
	}
	// Failure to open the batch handle demotes to per-op syscalls; it is
	// not fatal (spec §4.1).
	if f, err := os.OpenFile(b.batchPath, os.O_RDWR, 0); err == nil {
		b.batchFile = f
	}
	return nil
}

func (b *IoctlBackend) closeOpened() {
	for i := len(b.cpuOrder) - 1; i >= 0; i-- {
		b.cpuFiles[b.cpuOrder[i]].Close()
	}
	b.cpuFiles = make(map[int]*os.File)
	b.cpuOrder = nil
}

// BatchAvailable reports whether the batch ioctl device was opened
// successfully, for diagnostic logging at startup (spec §4.1: the
// backend itself already degrades transparently, so this is informational,
// not a fallback switch).
func (b *IoctlBackend) BatchAvailable() bool {
	return b.batchFile != nil
}

func (b *IoctlBackend) Close() error {
	if b.batchFile != nil {
		b.batchFile.Close()
		b.batchFile = nil
	}
	b.closeOpened()
	return nil
}

func (b *IoctlBackend) ReadDirect(cpu int, offset uint32) (uint64, error) {
	f, ok := b.cpuFiles[cpu]
	if !ok {
		return 0, fmt.Errorf("cpu %d not opened", cpu)
	}
	var buf [8]byte
	n, err := f.ReadAt(buf[:], int64(offset))
	if err != nil {
		return 0, err
	}
	if n != 8 {
		return 0, fmt.Errorf("short read: %d of 8 bytes", n)
	}
	return leUint64(buf[:]), nil
}

func (b *IoctlBackend) WriteDirect(cpu int, offset uint32, value uint64) error {
	f, ok := b.cpuFiles[cpu]
	if !ok {
		return fmt.Errorf("cpu %d not opened", cpu)
	}
	var buf [8]byte
	putLeUint64(buf[:], value)
	n, err := f.WriteAt(buf[:], int64(offset))
	if err != nil {
		return err
	}
	if n != 8 {
		return fmt.Errorf("short write: %d of 8 bytes", n)
	}
	return nil
}

// SystemWriteMask issues a one-element batch ioctl query, defaulting to
// all-ones when the batch device is unavailable (spec §4.1, MSRIO.cpp's
// system_write_mask).
func (b *IoctlBackend) SystemWriteMask(offset uint32) (uint64, error) {
	if b.batchFile == nil {
		return ^uint64(0), nil
	}
	ops := []MSRBatchOp{{CPU: 0, IsRDMSR: 1, MSR: offset}}
	if err := b.runBatch(ops); err != nil {
		return 0, err
	}
	return ops[0].WMask, nil
}

func (b *IoctlBackend) ExecuteReads(ops []BatchReadOp) error {
	if b.batchFile == nil {
		for i := range ops {
			v, err := b.ReadDirect(ops[i].CPU, ops[i].Offset)
			if err != nil {
				return err
			}
			ops[i].Value = v
		}
		return nil
	}
	batch := make([]MSRBatchOp, len(ops))
	for i, op := range ops {
		batch[i] = MSRBatchOp{CPU: uint16(op.CPU), IsRDMSR: 1, MSR: op.Offset}
	}
	if err := b.runBatch(batch); err != nil {
		return err
	}
	for i := range ops {
		ops[i].Value = batch[i].MSRData
	}
	return nil
}

func (b *IoctlBackend) ExecuteWrites(ops []BatchWriteOp) error {
	if b.batchFile == nil {
		for _, op := range ops {
			if err := b.WriteDirect(op.CPU, op.Offset, op.Value); err != nil {
				return err
			}
		}
		return nil
	}
	batch := make([]MSRBatchOp, len(ops))
	for i, op := range ops {
		batch[i] = MSRBatchOp{CPU: uint16(op.CPU), IsRDMSR: 0, MSR: op.Offset, MSRData: op.Value}
	}
	return b.runBatch(batch)
}

// wireBatchArray is the exact on-the-wire layout of msr_batch_array_s: a
// u32 op count followed by a pointer to the op array (padded to the
// platform pointer alignment), not Go's slice header.
type wireBatchArray struct {
	NumOps uint32
	_      uint32
	Ops    uintptr
}

// runBatch issues exactly one ioctl system call for the whole op list
// (MSRIO.cpp's msr_ioctl). The first op reporting a non-zero Err fails
// the entire batch.
func (b *IoctlBackend) runBatch(ops []MSRBatchOp) error {
	arr := wireBatchArray{NumOps: uint32(len(ops)), Ops: uintptr(unsafe.Pointer(&ops[0]))}
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, b.batchFile.Fd(), uintptr(msrBatchIoctl), uintptr(unsafe.Pointer(&arr)))
	if errno != 0 {
		return errno
	}
	for _, op := range ops {
		if op.Err != 0 {
			return fmt.Errorf("msr batch op failed for msr 0x%x on cpu %d: errno %d", op.MSR, op.CPU, op.Err)
		}
	}
	return nil
}

func leUint64(b []byte) uint64 {
	var v uint64
	for i := 7; i >= 0; i-- {
		v = v<<8 | uint64(b[i])
	}
	return v
}

func putLeUint64(b []byte, v uint64) {
	for i := 0; i < 8; i++ {
		b[i] = byte(v)
		v >>= 8
	}
}
