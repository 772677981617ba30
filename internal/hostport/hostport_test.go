package hostport

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseWithPort(t *testing.T) {
	got, err := Parse("db.example.com:12345")
	require.NoError(t, err)
	assert.Equal(t, "db.example.com:12345", got)
}

func TestParseDefaultsPort(t *testing.T) {
	got, err := Parse("db.example.com")
	require.NoError(t, err)
	assert.Equal(t, "db.example.com:11211", got)
}

func TestParseEmpty(t *testing.T) {
	_, err := Parse("")
	assert.Error(t, err)
}
