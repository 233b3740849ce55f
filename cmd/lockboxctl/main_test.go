package main

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLookup(t *testing.T) {
	for _, cmd := range commands {
		found, ok := lookup(cmd.name)
		require.True(t, ok, cmd.name)
		assert.Equal(t, cmd.name, found.name)
		assert.NotNil(t, found.run)
	}

	_, ok := lookup("drop-tables")
	assert.False(t, ok)
}

func TestRunRejectsUnknownCommand(t *testing.T) {
	var out bytes.Buffer
	err := run([]string{"drop-tables"}, &out)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "drop-tables")
	assert.Empty(t, out.String())
}

func TestRunHelp(t *testing.T) {
	var out bytes.Buffer
	assert.NoError(t, run(nil, &out))
	assert.NoError(t, run([]string{"--help"}, &out))
}
