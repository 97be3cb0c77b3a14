package msrtable

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleDoc = `{
  "msrs": {
    "MPERF": {
      "offset": "0xE7",
      "domain": "cpu",
      "fields": {
        "MCNT": {
          "begin_bit": 0,
          "end_bit": 47,
          "function": "overflow",
          "units": "none",
          "scalar": 1.0,
          "behavior": "monotone",
          "writeable": false,
          "aggregation": "sum",
          "description": "base-clock counter"
        }
      }
    },
    "RAPL_POWER_UNIT": {
      "offset": "0x606",
      "domain": "package",
      "fields": {
        "POWER_UNITS": {
          "begin_bit": 0,
          "end_bit": 3,
          "function": "scale",
          "units": "watts",
          "scalar": 1.0,
          "behavior": "constant",
          "writeable": false,
          "aggregation": "expect_same",
          "description": "power unit exponent"
        }
      }
    }
  }
}`

func TestDecodeAndLookup(t *testing.T) {
	tbl, err := Decode([]byte(sampleDoc))
	require.NoError(t, err)

	reg, ok := tbl.Lookup("MPERF")
	require.True(t, ok)
	offset, err := reg.Offset()
	require.NoError(t, err)
	assert.Equal(t, uint32(0xE7), offset)
	assert.Equal(t, "cpu", reg.Domain)
	assert.Contains(t, reg.Fields, "MCNT")
}

func TestLookupMissingNameFails(t *testing.T) {
	tbl, err := Decode([]byte(sampleDoc))
	require.NoError(t, err)
	_, ok := tbl.Lookup("DOES_NOT_EXIST")
	assert.False(t, ok)
}

func TestFieldValueExtractsAndScalesBits(t *testing.T) {
	tbl, err := Decode([]byte(sampleDoc))
	require.NoError(t, err)
	reg, _ := tbl.Lookup("RAPL_POWER_UNIT")
	field := reg.Fields["POWER_UNITS"]

	// raw register value 0b10110101, POWER_UNITS occupies bits 3:0 -> 0b0101 = 5
	got := FieldValue(field, 0b10110101)
	assert.Equal(t, 5.0, got)
}

func TestDecodeRejectsMalformedJSON(t *testing.T) {
	_, err := Decode([]byte("{not json"))
	require.Error(t, err)
}
