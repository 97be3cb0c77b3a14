// Package msrtable loads the JSON MSR description table (spec §6): a
// symbolic-name-to-register map the core treats as an opaque input
// loaded once at startup and held in memory (spec's non-goal "no
// persistence beyond in-memory state"). Grounded on
// libgeopmd/src/msr_data_arch.cpp's generated `arch_msr_json` table
// shape, decoded here with github.com/bytedance/sonic for the fast-path
// JSON decode the teacher's pkg/jsonutil package reaches for under its
// `CONFIG_USE_SONIC` build tag.
package msrtable

import (
	"os"
	"strconv"
	"strings"

	"github.com/bytedance/sonic"

	"github.com/hpcgov/rtd/internal/rterrors"
)

// Field is one named bitfield of an MSR (spec §6's nested
// `fields:{name:{begin_bit, end_bit, function, units, scalar,
// behavior, writeable, aggregation, description}}`).
type Field struct {
	BeginBit    int     `json:"begin_bit"`
	EndBit      int     `json:"end_bit"`
	Function    string  `json:"function"`
	Units       string  `json:"units"`
	Scalar      float64 `json:"scalar"`
	Behavior    string  `json:"behavior"`
	Writeable   bool    `json:"writeable"`
	Aggregation string  `json:"aggregation"`
	Description string  `json:"description"`
}

// Register is one named MSR: its offset (hex string in the source
// table, e.g. "0x610") and domain, plus its named fields.
type Register struct {
	OffsetHex string           `json:"offset"`
	Domain    string           `json:"domain"`
	Fields    map[string]Field `json:"fields"`
}

// Offset parses the register's hex offset string into a numeric value.
func (r Register) Offset() (uint32, error) {
	s := strings.TrimPrefix(strings.TrimPrefix(r.OffsetHex, "0x"), "0X")
	v, err := strconv.ParseUint(s, 16, 32)
	if err != nil {
		return 0, rterrors.Wrap(rterrors.Invalid, "msrtable: malformed offset "+r.OffsetHex, err)
	}
	return uint32(v), nil
}

// document is the root shape of the JSON table: `{"msrs": {name: Register}}`.
type document struct {
	MSRs map[string]Register `json:"msrs"`
}

// Table is the loaded, read-only MSR description table.
type Table struct {
	registers map[string]Register
}

// Load reads and decodes a JSON MSR description document from path.
func Load(path string) (*Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, rterrors.Wrap(rterrors.MsrOpen, "msrtable: failed to read "+path, err)
	}
	return Decode(data)
}

// Decode parses a JSON MSR description document already in memory.
func Decode(data []byte) (*Table, error) {
	var doc document
	if err := sonic.ConfigFastest.Unmarshal(data, &doc); err != nil {
		return nil, rterrors.Wrap(rterrors.Invalid, "msrtable: malformed MSR description document", err)
	}
	return &Table{registers: doc.MSRs}, nil
}

// Lookup returns the named register and whether it was found. Access
// is purely by symbolic name, per spec §6 ("field access is by
// symbolic name at a platform domain").
func (t *Table) Lookup(name string) (Register, bool) {
	r, ok := t.registers[name]
	return r, ok
}

// Names returns every symbolic register name the table holds, in no
// particular order.
func (t *Table) Names() []string {
	out := make([]string, 0, len(t.registers))
	for name := range t.registers {
		out = append(out, name)
	}
	return out
}

// FieldValue extracts and scales field's raw bits out of raw, applying
// its scalar (spec §6's `scalar` multiplier on the masked/shifted bits).
func FieldValue(f Field, raw uint64) float64 {
	width := f.EndBit - f.BeginBit + 1
	if width <= 0 || width > 64 {
		return 0
	}
	mask := uint64(1)<<uint(width) - 1
	bits := (raw >> uint(f.BeginBit)) & mask
	return float64(bits) * f.Scalar
}
