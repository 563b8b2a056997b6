package main

import (
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newPluginTestCommand(pf *pluginFlags) *cobra.Command {
	cmd := &cobra.Command{Use: "test", RunE: func(*cobra.Command, []string) error { return nil }}
	pf.register(cmd.Flags())
	return cmd
}

func TestParsePairs(t *testing.T) {
	assert.Nil(t, parsePairs(nil))
	assert.Equal(t, map[string]string{
		"A":     "1",
		"B":     "x=y",
		"EMPTY": "",
	}, parsePairs([]string{"A=1", "B=x=y", "EMPTY"}))
}

func TestExplicitBoolIsTriState(t *testing.T) {
	var pf pluginFlags
	cmd := newPluginTestCommand(&pf)
	require.NoError(t, cmd.Flags().Parse([]string{"--no-index=false", "--pre"}))

	opts := pf.options(cmd.Flags())
	require.NotNil(t, opts.NoIndex)
	assert.False(t, *opts.NoIndex)
	require.NotNil(t, opts.Pre)
	assert.True(t, *opts.Pre)
	assert.Nil(t, opts.NoSelf)
	assert.Nil(t, opts.ForceDownload)
}

func TestApplyEnvFillsUnsetFlags(t *testing.T) {
	t.Setenv("SPARKRUN_PLUGINS", "alpha beta[x,y]")
	t.Setenv("SPARKRUN_NO_SELF", "on")
	t.Setenv("SPARKRUN_PLUGIN_ENVVARS", "K=V")

	var pf pluginFlags
	cmd := newPluginTestCommand(&pf)
	require.NoError(t, cmd.Flags().Parse(nil))
	require.NoError(t, applyEnv(cmd))

	opts := pf.options(cmd.Flags())
	assert.Equal(t, []string{"alpha", "beta[x,y]"}, opts.Plugins)
	require.NotNil(t, opts.NoSelf)
	assert.True(t, *opts.NoSelf)
	assert.Equal(t, map[string]string{"K": "V"}, opts.Env)
}

func TestApplyEnvDoesNotOverrideFlags(t *testing.T) {
	t.Setenv("SPARKRUN_PLUGINS", "from-env")
	t.Setenv("SPARKRUN_NO_INDEX", "true")

	var pf pluginFlags
	cmd := newPluginTestCommand(&pf)
	require.NoError(t, cmd.Flags().Parse([]string{"--plugin", "from-flag", "--no-index=false"}))
	require.NoError(t, applyEnv(cmd))

	opts := pf.options(cmd.Flags())
	assert.Equal(t, []string{"from-flag"}, opts.Plugins)
	require.NotNil(t, opts.NoIndex)
	assert.False(t, *opts.NoIndex)
}

func TestApplyEnvRejectsBadBoolean(t *testing.T) {
	t.Setenv("SPARKRUN_FORCE_DOWNLOAD", "maybe")

	var pf pluginFlags
	cmd := newPluginTestCommand(&pf)
	require.NoError(t, cmd.Flags().Parse(nil))

	err := applyEnv(cmd)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "SPARKRUN_FORCE_DOWNLOAD")
}

func TestSparkFlagsOptions(t *testing.T) {
	var sf sparkFlags
	cmd := &cobra.Command{Use: "test"}
	sf.register(cmd.Flags())
	sf.registerSubmit(cmd.Flags())
	require.NoError(t, cmd.Flags().Parse([]string{
		"--master", "yarn",
		"--packages", "a:b:1", "--packages", "c:d:2",
		"--env", "X=1",
		"--spark-submit-executable", "/opt/spark/bin/spark-submit",
	}))

	opts := sf.options()
	assert.Equal(t, "yarn", opts.Master)
	assert.Equal(t, []string{"a:b:1", "c:d:2"}, opts.Packages)
	assert.Equal(t, map[string]string{"X": "1"}, opts.Env)
	assert.Equal(t, "/opt/spark/bin/spark-submit", opts.SubmitExecutable)
}

func TestForceDownloadHelpNamesCacheBypass(t *testing.T) {
	var pf pluginFlags
	cmd := newPluginTestCommand(&pf)
	f := cmd.Flags().Lookup("force-download")
	require.NotNil(t, f)
	assert.Contains(t, f.Usage, "--no-cache-dir")
}
