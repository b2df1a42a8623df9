package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCommand_HasSubcommands(t *testing.T) {
	cmds := rootCmd.Commands()

	names := make(map[string]bool)
	for _, c := range cmds {
		names[c.Name()] = true
	}

	expected := []string{"serve", "upload", "process", "batches", "cleanup"}
	for _, name := range expected {
		assert.True(t, names[name], "expected subcommand %q not found", name)
	}
}

func TestRootCommand_Metadata(t *testing.T) {
	assert.Equal(t, "emlpipe", rootCmd.Use)
	assert.NotEmpty(t, rootCmd.Short)
	assert.NotEmpty(t, rootCmd.Long)
}

func TestServeCommand_Flags(t *testing.T) {
	flag := serveCmd.Flags().Lookup("port")
	require.NotNil(t, flag, "serve command should have --port flag")
	assert.Equal(t, "0", flag.DefValue)
}

func TestUploadCommand_Flags(t *testing.T) {
	require.NotNil(t, uploadCmd.Flags().Lookup("label"))
	require.NotNil(t, uploadCmd.Flags().Lookup("check-only"))
}

func TestProcessCommand_Flags(t *testing.T) {
	flag := processCmd.Flags().Lookup("stage")
	require.NotNil(t, flag, "process command should have --stage flag")
	assert.Equal(t, "", flag.DefValue)
}

func TestBatchesCommand_HasSubcommands(t *testing.T) {
	cmds := batchesCmd.Commands()
	names := make(map[string]bool)
	for _, c := range cmds {
		names[c.Name()] = true
	}

	expected := []string{"list", "show", "label", "reset", "delete"}
	for _, name := range expected {
		assert.True(t, names[name], "expected subcommand %q not found", name)
	}
}

func TestCleanupCommand_Flags(t *testing.T) {
	require.NotNil(t, cleanupCmd.Flags().Lookup("category"))
	require.NotNil(t, cleanupCmd.Flags().Lookup("min-files"))

	flag := cleanupCmd.Flags().Lookup("dry-run")
	require.NotNil(t, flag)
	assert.Equal(t, "false", flag.DefValue)
}
