package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

// TestParseSourceMapEmpty ensures parsing an empty source map string yields no elements.
func TestParseSourceMapEmpty(t *testing.T) {
	sourceMap, err := ParseSourceMap("")
	assert.NoError(t, err)
	assert.Empty(t, sourceMap)
}

// TestParseSourceMapInheritance ensures empty elements and empty fields inherit their values from the previous
// element.
func TestParseSourceMapInheritance(t *testing.T) {
	sourceMap, err := ParseSourceMap("10:20:0;;5::")
	assert.NoError(t, err)
	assert.Equal(t, 3, len(sourceMap))

	// The first element sets all fields.
	assert.Equal(t, 10, sourceMap[0].Offset)
	assert.Equal(t, 20, sourceMap[0].Length)
	assert.Equal(t, 0, sourceMap[0].FileID)

	// The second element is fully empty and inherits everything.
	assert.Equal(t, 10, sourceMap[1].Offset)
	assert.Equal(t, 20, sourceMap[1].Length)
	assert.Equal(t, 0, sourceMap[1].FileID)

	// The third element overrides only the offset.
	assert.Equal(t, 5, sourceMap[2].Offset)
	assert.Equal(t, 20, sourceMap[2].Length)
	assert.Equal(t, 0, sourceMap[2].FileID)

	// Indexes follow element order.
	for i, element := range sourceMap {
		assert.Equal(t, i, element.Index)
	}
}

// TestParseSourceMapAllFields ensures jump type and modifier depth fields are parsed and inherited.
func TestParseSourceMapAllFields(t *testing.T) {
	sourceMap, err := ParseSourceMap("155:997:1:-:0;;:::i;")
	assert.NoError(t, err)
	assert.Equal(t, 4, len(sourceMap))

	assert.Equal(t, 155, sourceMap[0].Offset)
	assert.Equal(t, 997, sourceMap[0].Length)
	assert.Equal(t, 1, sourceMap[0].FileID)
	assert.Equal(t, SourceMapJumpTypeJumpWithin, sourceMap[0].JumpType)
	assert.Equal(t, 0, sourceMap[0].ModifierDepth)

	// The third element overrides only the jump type; the fourth inherits it.
	assert.Equal(t, SourceMapJumpTypeJumpIn, sourceMap[2].JumpType)
	assert.Equal(t, SourceMapJumpTypeJumpIn, sourceMap[3].JumpType)
	assert.Equal(t, 155, sourceMap[3].Offset)
}

// TestParseSourceMapMalformed ensures a non-numeric field produces an error.
func TestParseSourceMapMalformed(t *testing.T) {
	_, err := ParseSourceMap("10:x:0")
	assert.Error(t, err)
}
