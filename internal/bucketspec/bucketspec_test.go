package bucketspec

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRange(t *testing.T) {
	ids, err := Parse("[102,105]")
	require.NoError(t, err)
	assert.Equal(t, []uint16{102, 103, 104, 105}, ids)
}

func TestParseRangeSingleton(t *testing.T) {
	ids, err := Parse("[9,9]")
	require.NoError(t, err)
	assert.Equal(t, []uint16{9}, ids)
}

func TestParseRangeBadOrder(t *testing.T) {
	_, err := Parse("[9,3]")
	assert.Error(t, err)
}

func TestParseList(t *testing.T) {
	ids, err := Parse("3,7;12")
	require.NoError(t, err)
	assert.Equal(t, []uint16{3, 7, 12}, ids)
}

func TestParseListInvalidID(t *testing.T) {
	_, err := Parse("3,foo")
	assert.Error(t, err)
}

func TestParseAllMerges(t *testing.T) {
	ids, err := ParseAll([]string{"[1,2]", "9"})
	require.NoError(t, err)
	assert.Equal(t, []uint16{1, 2, 9}, ids)
}

func TestParseEmpty(t *testing.T) {
	_, err := Parse("")
	assert.Error(t, err)
}
