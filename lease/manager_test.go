package lease

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPrefixedHolderID(t *testing.T) {
	a := PrefixedHolderID("node-a")
	b := PrefixedHolderID("node-a")
	assert.True(t, strings.HasPrefix(a, "node-a-"), a)
	assert.True(t, strings.HasPrefix(b, "node-a-"), b)
	assert.NotEqual(t, a, b, "processes sharing a prefix must not share a holder id")

	assert.NotEmpty(t, PrefixedHolderID(""))
	assert.False(t, strings.HasPrefix(PrefixedHolderID(""), "-"))
}
