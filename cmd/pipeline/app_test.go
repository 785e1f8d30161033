package main

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"insecurity-insight-pipeline/internal/config"
)

func TestRequireKey(t *testing.T) {
	a := &app{cfg: &config.Config{}}
	assert.ErrorContains(t, a.requireKey(false), "HDX_KEY")
	assert.NoError(t, a.requireKey(true), "dry runs do not publish")

	a.cfg.HDX.APIKey = "secret"
	assert.NoError(t, a.requireKey(false))
}

func TestCommandsShareRunFlags(t *testing.T) {
	for _, cmd := range []string{"run", "schedule"} {
		c, _, err := rootCmd.Find([]string{cmd})
		assert.NoError(t, err)
		for _, flag := range []string{"dry-run", "topics", "force", "use-saved"} {
			assert.NotNil(t, c.Flags().Lookup(flag), "%s --%s", cmd, flag)
		}
	}
}
