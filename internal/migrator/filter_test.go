package migrator

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFilterContains(t *testing.T) {
	f := NewVbucketFilter([]uint16{7, 3, 9, 3})
	assert.Equal(t, []uint16{3, 7, 9}, f.Ids())
	assert.True(t, f.Contains(3))
	assert.True(t, f.Contains(9))
	assert.False(t, f.Contains(4))
}

func TestFilterIdempotent(t *testing.T) {
	once := NewVbucketFilter([]uint16{5, 1, 5, 2})
	twice := NewVbucketFilter(once.Ids())
	assert.Equal(t, once.Ids(), twice.Ids())
}

func TestFilterEmpty(t *testing.T) {
	f := NewVbucketFilter(nil)
	assert.False(t, f.Contains(0))
}
