package plugin

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryResolve(t *testing.T) {
	reg := NewRegistry()
	fwd := ArgsForwarding{Run: func(context.Context, []string) (int, error) { return 0, nil }}

	require.NoError(t, reg.Add(Entry{Name: "b", Invocation: fwd}))
	require.NoError(t, reg.Add(Entry{Name: "a", Invocation: Direct{Command: &cobra.Command{Use: "a"}}}))
	assert.Error(t, reg.Add(Entry{Name: "a", Invocation: fwd}))
	assert.Error(t, reg.Add(Entry{Name: "", Invocation: fwd}))
	assert.Error(t, reg.Add(Entry{Name: "c", Invocation: Direct{}}))
	assert.Error(t, reg.Add(Entry{Name: "d", Invocation: ArgsForwarding{}}))
	assert.Error(t, reg.Add(Entry{Name: "e"}))

	assert.Equal(t, []string{"a", "b"}, reg.Names())
	entries := reg.Entries()
	require.Len(t, entries, 2)
	assert.Equal(t, "a", entries[0].Name)

	_, err := reg.Resolve("missing")
	var nf *NotFoundError
	require.ErrorAs(t, err, &nf)
	assert.Equal(t, "missing", nf.Name)
	assert.Equal(t, "plugin missing does not exist", err.Error())
}

func TestInvokeDirect(t *testing.T) {
	var out bytes.Buffer
	var gotArgs []string
	cmd := &cobra.Command{
		Use:  "echo",
		Args: cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			gotArgs = args
			cmd.Print("done")
			return nil
		},
	}
	cmd.SetOut(&out)

	err := Invoke(context.Background(), Entry{Name: "echo", Invocation: Direct{Command: cmd}}, []string{"x", "y"})
	require.NoError(t, err)
	assert.Equal(t, []string{"x", "y"}, gotArgs)
	assert.Equal(t, "done", out.String())
}

func TestInvokeArgsForwarding(t *testing.T) {
	var gotArgs []string
	entry := Entry{Name: "fwd", Invocation: ArgsForwarding{Run: func(_ context.Context, args []string) (int, error) {
		gotArgs = args
		return 0, nil
	}}}
	require.NoError(t, Invoke(context.Background(), entry, []string{"--flag", "v"}))
	assert.Equal(t, []string{"--flag", "v"}, gotArgs)

	boom := errors.New("spawn failed")
	failing := Entry{Name: "fail", Invocation: ArgsForwarding{Run: func(context.Context, []string) (int, error) {
		return -1, boom
	}}}
	assert.ErrorIs(t, Invoke(context.Background(), failing, nil), boom)
}
