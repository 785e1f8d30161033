package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRootFlags(t *testing.T) {
	for _, name := range []string{"config", "addr", "verbose"} {
		assert.NotNil(t, rootCmd.Flags().Lookup(name), name)
	}
	assert.Error(t, rootCmd.Args(rootCmd, []string{"extra"}))
}
