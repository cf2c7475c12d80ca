package network

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSelfContainerIDRejectsNonContainerHostnames(t *testing.T) {
	assert.True(t, hostnamePattern.MatchString("abcdef012345"))
	assert.False(t, hostnamePattern.MatchString("my-laptop"))
	assert.False(t, hostnamePattern.MatchString("ABCDEF012345"))
}
