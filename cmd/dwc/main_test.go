package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRunArgs(t *testing.T) {
	ra, err := parseRunArgs([]string{"--trace", "--serve", ":8080", "shop.hcl", "--verbose"})
	require.NoError(t, err)
	assert.Equal(t, runArgs{path: "shop.hcl", trace: true, serve: ":8080", verbose: true}, ra)

	_, err = parseRunArgs(nil)
	assert.Error(t, err)

	_, err = parseRunArgs([]string{"a.hcl", "b.hcl"})
	assert.Error(t, err)

	_, err = parseRunArgs([]string{"a.hcl", "--serve"})
	assert.Error(t, err)
}
