package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestUriToPath(t *testing.T) {
	assert.Equal(t, "/home/user/proof.v", UriToPath("file:///home/user/proof.v"))
	assert.Equal(t, "/a b/proof.v", UriToPath("file:///a%20b/proof.v"))
	assert.Equal(t, "untitled:scratch", UriToPath("untitled:scratch"))
	assert.Equal(t, "/plain/path.v", UriToPath("/plain/path.v"))
}

func TestPathToURI(t *testing.T) {
	assert.Equal(t, "file:///home/user/proof.v", PathToURI("/home/user/proof.v"))
}
