package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRequireSelectFlags(t *testing.T) {
	assert.NoError(t, requireSelectFlags("s1", "/ws"))

	err := requireSelectFlags("", "/ws")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "--session")

	err = requireSelectFlags("s1", "")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "--workspace")
}
