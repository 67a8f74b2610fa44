package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTokenPrefix(t *testing.T) {
	assert.Equal(t, "abcdef", tokenPrefix("abcdef0123456789"))
	assert.Equal(t, "abc", tokenPrefix("abc"))
	assert.Equal(t, "", tokenPrefix(""))
}
