package cmd

import (
	"bytes"
	"fmt"
	"io"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yegram/yegram/util"
)

func TestInitCommands(t *testing.T) {
	t.Cleanup(func() {
		resetHelpFlags(rootCmd)
	})

	helpFlag := "-h"
	commandArgs := [][]string{{"root", helpFlag}}
	for _, command := range rootCmd.Commands() {
		commandArgs = append(commandArgs, []string{command.Name(), command.Name(), helpFlag})
		for _, subcommand := range command.Commands() {
			commandArgs = append(commandArgs, []string{command.Name() + " " + subcommand.Name(), command.Name(), subcommand.Name(), helpFlag})
		}
	}

	for _, args := range commandArgs {
		t.Run(fmt.Sprintf("Testing Command %s", args[0]), func(t *testing.T) {
			defer func() {
				err := recover()
				if err != nil {
					t.Fatalf("got an panic error while running the command: %s -h. Error: %s", args[0], err)
				}
			}()

			rootCmd.SetArgs(args[1:])
			rootCmd.SetOut(io.Discard)
			if err := rootCmd.Execute(); err != nil {
				t.Errorf("expected no error while running %s command, got %v", args[0], err)
				return
			}
		})
	}
}

func TestSetFlagsFromEnvVars(t *testing.T) {
	var (
		relay    string
		ice      []string
		loopback bool
	)
	var cmd = &cobra.Command{
		Use:          "yegram",
		Long:         "test",
		SilenceUsage: true,
		Run: func(cmd *cobra.Command, args []string) {
			util.SetFlagsFromEnvVars(cmd)
		},
	}

	cmd.PersistentFlags().StringVar(&relay, relayURLFlag, "", "relay url")
	cmd.PersistentFlags().StringSliceVar(&ice, iceURLsFlag, nil, "ice urls")
	cmd.PersistentFlags().BoolVar(&loopback, includeLoopbackFlag, false, "loopback")

	t.Setenv("YG_RELAY_URL", "ws://relay.example.com/ws")
	t.Setenv("YG_ICE_URLS", "stun:a.example.com,stun:b.example.com")
	t.Setenv("YG_INCLUDE_LOOPBACK", "true")
	require.NoError(t, cmd.Execute())

	assert.Equal(t, "ws://relay.example.com/ws", relay)
	assert.Equal(t, []string{"stun:a.example.com", "stun:b.example.com"}, ice)
	assert.True(t, loopback)
}

// resetHelpFlags clears the help flags a previous -h left set on the shared command tree
func resetHelpFlags(cmd *cobra.Command) {
	if f := cmd.Flags().Lookup("help"); f != nil {
		_ = f.Value.Set("false")
		f.Changed = false
	}
	for _, sub := range cmd.Commands() {
		resetHelpFlags(sub)
	}
}

// execute runs the root command with a config in dir and returns its output
func execute(t *testing.T, dir string, args ...string) (string, error) {
	t.Helper()
	resetHelpFlags(rootCmd)
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(io.Discard)
	rootCmd.SetArgs(append([]string{"--config", filepath.Join(dir, "config.json")}, args...))
	err := rootCmd.Execute()
	return out.String(), err
}

func TestHelpDoesNotStickToCommands(t *testing.T) {
	dir := t.TempDir()

	out, err := execute(t, dir, "whoami", "-h")
	require.NoError(t, err)
	assert.Contains(t, out, "whoami")

	_, err = execute(t, dir, "whoami")
	assert.Error(t, err, "whoami without an identity runs the command instead of printing help")
}

func TestIdentityAndRosterCommands(t *testing.T) {
	dir := t.TempDir()

	_, err := execute(t, dir, "whoami")
	require.Error(t, err)

	out, err := execute(t, dir, "init", "--name", "Alice", "--username", "alice")
	require.NoError(t, err)
	assert.Contains(t, out, "Created identity user_")

	_, err = execute(t, dir, "init", "--name", "Alice again")
	assert.Error(t, err, "an existing identity is kept without --force")

	out, err = execute(t, dir, "whoami")
	require.NoError(t, err)
	assert.Contains(t, out, "Alice")
	assert.Contains(t, out, "@alice")

	out, err = execute(t, dir, "roster", "add", "user_2", "--username", "bob", "--name", "Bob")
	require.NoError(t, err)
	assert.Contains(t, out, "@bob")

	out, err = execute(t, dir, "roster", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "user_2 @bob (Bob)")

	_, err = execute(t, dir, "history", "@bob")
	require.NoError(t, err)

	out, err = execute(t, dir, "roster", "remove", "@BOB")
	require.NoError(t, err)
	assert.Contains(t, out, "Removed user_2")

	out, err = execute(t, dir, "roster", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "No peers")

	_, err = execute(t, dir, "logout")
	require.NoError(t, err)
	_, err = execute(t, dir, "whoami")
	assert.Error(t, err)
}
