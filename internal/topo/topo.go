// Package topo discovers node package/core layout and CPU feature bits
// (SPEC_FULL.md §2.1's domain-stack entry for github.com/klauspost/cpuid/v2).
// Grounded on the teacher's pkg/common/procfs/cpu.go (plain-file
// read-split-parse, no external procfs library) for the /proc/cpuinfo
// walk, generalized from a single aggregate counter to a per-processor
// physical-id/core grouping. The result feeds internal/freqlimit.Topology
// so agents default to the node's real layout instead of a single-core
// stand-in.
package topo

import (
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/klauspost/cpuid/v2"

	"github.com/hpcgov/rtd/internal/freqlimit"
	"github.com/hpcgov/rtd/internal/rterrors"
)

const cpuinfoPath = "/proc/cpuinfo"

// Discover reads /proc/cpuinfo and groups logical processor indices by
// physical package id, in ascending processor order within each package.
// A cpuinfo layout lacking "physical id" lines (single-package hosts,
// containers with a cut-down cpuinfo) is treated as one package holding
// every processor found.
func Discover() (freqlimit.Topology, error) {
	data, err := os.ReadFile(cpuinfoPath)
	if err != nil {
		return freqlimit.Topology{}, rterrors.Wrap(rterrors.MsrOpen, "topo: failed to read "+cpuinfoPath, err)
	}
	return Parse(string(data))
}

// Parse decodes cpuinfo's "processor" / "physical id" field pairs into a
// Topology. Exported separately from Discover so tests can exercise the
// parser without depending on the host's real /proc/cpuinfo.
func Parse(cpuinfo string) (freqlimit.Topology, error) {
	packages := make(map[int][]int)

	processor := -1
	havePending := false
	pendingPkg := -1 // -1 means "no physical id line seen yet for this processor"

	flush := func() {
		if !havePending {
			return
		}
		pkg := pendingPkg
		if pkg < 0 {
			pkg = 0
		}
		packages[pkg] = append(packages[pkg], processor)
		havePending = false
		pendingPkg = -1
	}

	for _, line := range strings.Split(cpuinfo, "\n") {
		key, value, ok := splitCPUInfoLine(line)
		if !ok {
			continue
		}
		switch key {
		case "processor":
			flush()
			v, err := strconv.Atoi(value)
			if err != nil {
				return freqlimit.Topology{}, rterrors.Wrap(rterrors.Invalid, "topo: malformed processor field "+value, err)
			}
			processor = v
			havePending = true
		case "physical id":
			if !havePending {
				continue
			}
			pkg, err := strconv.Atoi(value)
			if err != nil {
				return freqlimit.Topology{}, rterrors.Wrap(rterrors.Invalid, "topo: malformed physical id field "+value, err)
			}
			pendingPkg = pkg
		}
	}
	flush()

	if len(packages) == 0 {
		return freqlimit.Topology{}, rterrors.New(rterrors.Invalid, "topo: no processor entries found in cpuinfo")
	}

	pkgIDs := make([]int, 0, len(packages))
	for id := range packages {
		pkgIDs = append(pkgIDs, id)
	}
	sort.Ints(pkgIDs)

	out := freqlimit.Topology{CoresInPackage: make([][]int, len(pkgIDs))}
	for i, id := range pkgIDs {
		cores := append([]int(nil), packages[id]...)
		sort.Ints(cores)
		out.CoresInPackage[i] = cores
	}
	return out, nil
}

func splitCPUInfoLine(line string) (key, value string, ok bool) {
	parts := strings.SplitN(line, ":", 2)
	if len(parts) != 2 {
		return "", "", false
	}
	return strings.TrimSpace(parts[0]), strings.TrimSpace(parts[1]), true
}

// Features is the subset of the host's detected CPU capabilities the
// frequency-limit models care about: whether the platform can even
// reach the AVX2/AVX512 license levels spec §4.2's SST-TF variant
// distinguishes between.
type Features struct {
	VendorID       string
	BrandName      string
	PhysicalCores  int
	LogicalCores   int
	ThreadsPerCore int
	HasAVX2        bool
	HasAVX512      bool
}

// DetectFeatures reads the host's CPU feature bits via klauspost/cpuid/v2,
// the same detection library SPEC_FULL.md's domain-stack table assigns
// to this package.
func DetectFeatures() Features {
	c := cpuid.CPU
	return Features{
		VendorID:       c.VendorString,
		BrandName:      c.BrandName,
		PhysicalCores:  c.PhysicalCores,
		LogicalCores:   c.LogicalCores,
		ThreadsPerCore: c.ThreadsPerCore,
		HasAVX2:        c.Supports(cpuid.AVX2),
		HasAVX512:      c.Supports(cpuid.AVX512F),
	}
}

// MaxLicenseLevel reports the highest SST-TF license level the platform
// can plausibly reach, per spec §4.2's SSE/AVX2/AVX512 ordering. A host
// missing AVX2 entirely can never exercise the AVX2 or AVX512 buckets;
// missing AVX512F caps it at AVX2.
func (f Features) MaxLicenseLevel() string {
	switch {
	case f.HasAVX512:
		return "AVX512"
	case f.HasAVX2:
		return "AVX2"
	default:
		return "SSE"
	}
}
