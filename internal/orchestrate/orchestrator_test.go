package orchestrate

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/golang/mock/gomock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/mattjoyce/sparkrun/internal/config"
	"github.com/mattjoyce/sparkrun/internal/download"
	"github.com/mattjoyce/sparkrun/internal/journal"
	"github.com/mattjoyce/sparkrun/internal/lock"
	"github.com/mattjoyce/sparkrun/internal/plugin"
	"github.com/mattjoyce/sparkrun/internal/process"
	"github.com/mattjoyce/sparkrun/internal/process/mocks"
	"github.com/mattjoyce/sparkrun/internal/spark"
	"github.com/mattjoyce/sparkrun/internal/workspace"
)

func boolPtr(b bool) *bool { return &b }

type fixture struct {
	ctrl     *gomock.Controller
	runner   *mocks.MockRunner
	tempRoot string
	orch     *Orchestrator
}

func newFixture(t *testing.T, store *config.Store, opts ...Option) *fixture {
	t.Helper()
	ctrl := gomock.NewController(t)
	t.Cleanup(ctrl.Finish)

	tempRoot := t.TempDir()
	mgr, err := workspace.NewFSManager(tempRoot, "sparkrun_")
	require.NoError(t, err)

	runner := mocks.NewMockRunner(ctrl)
	all := append([]Option{WithRunner(runner), WithWorkspace(mgr), WithSelfVersion("1.0.0")}, opts...)
	return &fixture{ctrl: ctrl, runner: runner, tempRoot: tempRoot, orch: New(store, all...)}
}

func baseRequest() Request {
	return Request{
		Download: download.Options{Python: "py", Plugins: []string{"etl-plugin"}},
		Spark:    spark.Options{Python: "py"},
	}
}

func isPip(spec process.Spec) bool {
	return len(spec.Args) > 3 && spec.Args[1] == "-m" && spec.Args[2] == "pip"
}

// pipWrites returns a pip stand-in that drops files into the -d directory.
func pipWrites(t *testing.T, dirOut *string, files ...string) func(context.Context, process.Spec) (int, error) {
	return func(_ context.Context, spec process.Spec) (int, error) {
		require.True(t, isPip(spec), "expected pip, got %v", spec.Args)
		dir := spec.Args[5]
		if dirOut != nil {
			*dirOut = dir
		}
		for _, f := range files {
			require.NoError(t, os.WriteFile(filepath.Join(dir, f), []byte("wheel"), 0o644))
		}
		return 0, nil
	}
}

func assertEmptyDir(t *testing.T, dir string) {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries, "artifact directories left behind in %s", dir)
}

func TestSubmitRunsSparkAndRemovesArtifacts(t *testing.T) {
	f := newFixture(t, nil)

	var dir string
	gomock.InOrder(
		f.runner.EXPECT().Run(gomock.Any(), gomock.Any()).DoAndReturn(pipWrites(t, &dir, "etl_plugin-1.0-py3-none-any.whl")),
		f.runner.EXPECT().Run(gomock.Any(), gomock.Any()).DoAndReturn(func(_ context.Context, spec process.Spec) (int, error) {
			assert.Equal(t, process.PassThrough, spec.Mode)
			assert.Equal(t, []string{
				"spark-submit",
				"--py-files", filepath.Join(dir, "etl_plugin-1.0-py3-none-any.zip"),
				"job.py", "--day", "1",
			}, spec.Args)
			assert.Equal(t, "py", spec.Env["PYSPARK_PYTHON"])
			assert.Equal(t, "py", spec.Env["PYSPARK_DRIVER_PYTHON"])
			_, err := os.Stat(filepath.Join(dir, "etl_plugin-1.0-py3-none-any.zip"))
			assert.NoError(t, err, "artifacts must exist while the job runs")
			return 0, nil
		}),
	)

	req := baseRequest()
	req.JobArgs = []string{"job.py", "--day", "1"}
	require.NoError(t, f.orch.Submit(context.Background(), req))

	_, err := os.Stat(dir)
	assert.True(t, os.IsNotExist(err))
	assertEmptyDir(t, f.tempRoot)
}

func TestSubmitPipArguments(t *testing.T) {
	f := newFixture(t, nil)

	f.runner.EXPECT().Run(gomock.Any(), gomock.Any()).DoAndReturn(func(_ context.Context, spec process.Spec) (int, error) {
		assert.Equal(t, process.Buffered, spec.Mode)
		assert.Contains(t, spec.Args, "sparkrun==1.0.0")
		assert.Contains(t, spec.Args, "etl-plugin")
		return 0, nil
	})
	f.runner.EXPECT().Run(gomock.Any(), gomock.Any()).Return(0, nil)

	require.NoError(t, f.orch.Submit(context.Background(), baseRequest()))
}

func TestSubmitDownloadFailure(t *testing.T) {
	f := newFixture(t, nil)
	f.runner.EXPECT().Run(gomock.Any(), gomock.Any()).Return(1, nil)

	err := f.orch.Submit(context.Background(), baseRequest())
	var dlErr *download.Error
	require.ErrorAs(t, err, &dlErr)
	assert.Equal(t, 1, ExitCode(err))
	assertEmptyDir(t, f.tempRoot)
}

func TestSubmitJobFailurePropagatesExitCode(t *testing.T) {
	f := newFixture(t, nil)
	gomock.InOrder(
		f.runner.EXPECT().Run(gomock.Any(), gomock.Any()).DoAndReturn(pipWrites(t, nil, "a-1.0-py3-none-any.whl")),
		f.runner.EXPECT().Run(gomock.Any(), gomock.Any()).Return(42, nil),
	)

	err := f.orch.Submit(context.Background(), baseRequest())
	var jobErr *spark.JobError
	require.ErrorAs(t, err, &jobErr)
	assert.Equal(t, 42, ExitCode(err))
	assertEmptyDir(t, f.tempRoot)
}

func TestSubmitSkippedDownload(t *testing.T) {
	f := newFixture(t, nil)
	f.runner.EXPECT().Run(gomock.Any(), gomock.Any()).DoAndReturn(func(_ context.Context, spec process.Spec) (int, error) {
		assert.Equal(t, []string{"spark-submit", "job.py"}, spec.Args)
		return 0, nil
	})

	req := Request{
		Download: download.Options{Python: "py", NoSelf: boolPtr(true)},
		Spark:    spark.Options{Python: "py"},
		JobArgs:  []string{"job.py"},
	}
	require.NoError(t, f.orch.Submit(context.Background(), req))
	assertEmptyDir(t, f.tempRoot)
}

func TestSubmitCanceledAfterDownloadReleasesArtifacts(t *testing.T) {
	f := newFixture(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	f.runner.EXPECT().Run(gomock.Any(), gomock.Any()).DoAndReturn(func(c context.Context, spec process.Spec) (int, error) {
		code, err := pipWrites(t, nil, "a-1.0-py3-none-any.whl")(c, spec)
		cancel()
		return code, err
	})

	err := f.orch.Submit(ctx, baseRequest())
	require.ErrorIs(t, err, context.Canceled)
	assertEmptyDir(t, f.tempRoot)
}

func TestSubmitPeelsSparkrunConf(t *testing.T) {
	store, err := config.Parse("test", []byte("[spark]\nconf = spark.from.config=1\n"))
	require.NoError(t, err)
	f := newFixture(t, store)

	gomock.InOrder(
		f.runner.EXPECT().Run(gomock.Any(), gomock.Any()).DoAndReturn(func(_ context.Context, spec process.Spec) (int, error) {
			args := strings.Join(spec.Args, " ")
			assert.NotContains(t, args, "sparkrun==")
			assert.Contains(t, args, " a b==2.0 ")
			assert.Contains(t, args, "--extra-index-url https://idx.example.com/simple --trusted-host idx.example.com")
			assert.Contains(t, args, "--pre")
			assert.Equal(t, "V=1", spec.Env["K"])
			return 0, nil
		}),
		f.runner.EXPECT().Run(gomock.Any(), gomock.Any()).DoAndReturn(func(_ context.Context, spec process.Spec) (int, error) {
			assert.Equal(t, []string{"spark-submit", "--conf", "spark.from.config=1", "--conf", "spark.x=1"}, spec.Args)
			return 0, nil
		}),
	)

	req := Request{
		Download: download.Options{Python: "py"},
		Spark: spark.Options{Python: "py", Conf: []string{
			"sparkrun.plugins=a,b==2.0",
			"spark.x=1",
			"sparkrun.no-self=true",
			"sparkrun.pre-releases=yes",
			"sparkrun.extra-index-url=https://idx.example.com/simple",
			"sparkrun.plugin-env=K=V=1",
		}},
	}
	require.NoError(t, f.orch.Submit(context.Background(), req))
}

func TestSubmitPersistentDirectoryKept(t *testing.T) {
	f := newFixture(t, nil)
	out := filepath.Join(t.TempDir(), "artifacts")

	gomock.InOrder(
		f.runner.EXPECT().Run(gomock.Any(), gomock.Any()).DoAndReturn(pipWrites(t, nil, "a-1.0-py3-none-any.whl")),
		f.runner.EXPECT().Run(gomock.Any(), gomock.Any()).Return(3, nil),
	)

	req := baseRequest()
	req.OutputDir = out
	require.Error(t, f.orch.Submit(context.Background(), req))

	_, err := os.Stat(filepath.Join(out, "a-1.0-py3-none-any.zip"))
	assert.NoError(t, err)
	l, err := lock.AcquireDir(out)
	require.NoError(t, err, "lock released")
	_ = l.Release()
}

func TestInteractive(t *testing.T) {
	store, err := config.Parse("test", []byte("[spark]\npython-interactive-driver = ipython\nmaster = local[*]\n"))
	require.NoError(t, err)
	f := newFixture(t, store)

	var dir string
	gomock.InOrder(
		f.runner.EXPECT().Run(gomock.Any(), gomock.Any()).DoAndReturn(pipWrites(t, &dir, "a-1.0-py3-none-any.whl")),
		f.runner.EXPECT().Run(gomock.Any(), gomock.Any()).DoAndReturn(func(_ context.Context, spec process.Spec) (int, error) {
			assert.Equal(t, []string{"pyspark", "--master", "local[*]", "--py-files", filepath.Join(dir, "a-1.0-py3-none-any.zip")}, spec.Args)
			assert.Equal(t, "ipython", spec.Env["PYSPARK_DRIVER_PYTHON"])
			assert.Equal(t, process.PassThrough, spec.Mode)
			return 0, nil
		}),
	)

	req := baseRequest()
	req.JobArgs = []string{"ignored"}
	require.NoError(t, f.orch.Interactive(context.Background(), req))
	assertEmptyDir(t, f.tempRoot)
}

func TestRunUsesLauncherScript(t *testing.T) {
	store, err := config.Parse("test", []byte("[spark]\nrunner-module = acme.runner\n"))
	require.NoError(t, err)
	f := newFixture(t, store)

	var launcher string
	gomock.InOrder(
		f.runner.EXPECT().Run(gomock.Any(), gomock.Any()).DoAndReturn(pipWrites(t, nil)),
		f.runner.EXPECT().Run(gomock.Any(), gomock.Any()).DoAndReturn(func(_ context.Context, spec process.Spec) (int, error) {
			require.Len(t, spec.Args, 4)
			launcher = spec.Args[1]
			assert.Equal(t, []string{"etl", "--full"}, spec.Args[2:])
			body, err := os.ReadFile(launcher)
			require.NoError(t, err)
			assert.Contains(t, string(body), `runpy.run_module("acme.runner", run_name="__main__", alter_sys=True)`)
			return 0, nil
		}),
	)

	req := baseRequest()
	req.JobArgs = []string{"etl", "--full"}
	require.NoError(t, f.orch.Run(context.Background(), req))

	assert.True(t, strings.HasSuffix(launcher, ".py"))
	_, err = os.Stat(launcher)
	assert.True(t, os.IsNotExist(err), "launcher removed")
}

func TestDownloadKeepsTemporaryDirectoryOnSuccess(t *testing.T) {
	f := newFixture(t, nil)
	f.runner.EXPECT().Run(gomock.Any(), gomock.Any()).DoAndReturn(pipWrites(t, nil, "a-1.0-py3-none-any.whl"))

	req := baseRequest()
	req.Download.ConvertToZip = true
	res, err := f.orch.Download(context.Background(), req)
	require.NoError(t, err)
	require.Len(t, res.Artifacts, 1)
	assert.Equal(t, "a-1.0-py3-none-any.zip", res.Artifacts[0].Name)

	_, err = os.Stat(res.Dir)
	assert.NoError(t, err)
	assert.Equal(t, f.tempRoot, filepath.Dir(res.Dir))

	l, err := lock.AcquireDir(res.Dir)
	require.NoError(t, err, "kept directory left locked")
	_ = l.Release()
}

func TestDownloadFailureRemovesTemporaryDirectory(t *testing.T) {
	f := newFixture(t, nil)
	f.runner.EXPECT().Run(gomock.Any(), gomock.Any()).Return(-1, errors.New("exec: python: not found"))

	_, err := f.orch.Download(context.Background(), baseRequest())
	require.Error(t, err)
	assertEmptyDir(t, f.tempRoot)
}

func TestDownloadSkippedTouchesNothing(t *testing.T) {
	f := newFixture(t, nil)
	req := Request{Download: download.Options{Python: "py", NoSelf: boolPtr(true)}}

	res, err := f.orch.Download(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, res.Skipped)
	assertEmptyDir(t, f.tempRoot)
}

func TestArtifactDirectoryAlwaysRemoved(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		ctrl := gomock.NewController(rt)
		defer ctrl.Finish()

		tempRoot, err := os.MkdirTemp("", "sparkrun-prop-")
		if err != nil {
			rt.Fatalf("MkdirTemp: %v", err)
		}
		defer os.RemoveAll(tempRoot)

		mgr, err := workspace.NewFSManager(tempRoot, "sparkrun_")
		if err != nil {
			rt.Fatalf("NewFSManager: %v", err)
		}
		runner := mocks.NewMockRunner(ctrl)
		orch := New(nil, WithRunner(runner), WithWorkspace(mgr))

		pipCode := rapid.SampledFrom([]int{0, 0, 1}).Draw(rt, "pipCode")
		pipErr := rapid.Bool().Draw(rt, "pipErr")
		jobCode := rapid.SampledFrom([]int{0, 1, 137, -15}).Draw(rt, "jobCode")
		command := rapid.SampledFrom([]string{"submit", "run", "shell"}).Draw(rt, "command")

		pip := runner.EXPECT().Run(gomock.Any(), gomock.Any()).DoAndReturn(func(_ context.Context, spec process.Spec) (int, error) {
			_ = os.WriteFile(filepath.Join(spec.Args[5], "a-1.0-py3-none-any.whl"), []byte("x"), 0o644)
			if pipErr {
				return -1, errors.New("spawn failed")
			}
			return pipCode, nil
		})
		if !pipErr && pipCode == 0 {
			runner.EXPECT().Run(gomock.Any(), gomock.Any()).Return(jobCode, nil).After(pip)
		}

		req := baseRequest()
		switch command {
		case "submit":
			_ = orch.Submit(context.Background(), req)
		case "run":
			_ = orch.Run(context.Background(), req)
		case "shell":
			_ = orch.Interactive(context.Background(), req)
		}

		entries, err := os.ReadDir(tempRoot)
		if err != nil {
			rt.Fatalf("ReadDir: %v", err)
		}
		if len(entries) != 0 {
			rt.Fatalf("%s left %d entries in %s", command, len(entries), tempRoot)
		}
	})
}

func TestJournalRecordsOutcome(t *testing.T) {
	j, err := journal.Open(context.Background(), filepath.Join(t.TempDir(), "journal.db"))
	require.NoError(t, err)
	defer j.Close()

	f := newFixture(t, nil, WithJournal(j))
	gomock.InOrder(
		f.runner.EXPECT().Run(gomock.Any(), gomock.Any()).DoAndReturn(pipWrites(t, nil, "a-1.0-py3-none-any.whl", "b-1.0-py3-none-any.whl")),
		f.runner.EXPECT().Run(gomock.Any(), gomock.Any()).Return(7, nil),
	)

	req := baseRequest()
	req.Argv = []string{"submit", "job.py"}
	require.Error(t, f.orch.Submit(context.Background(), req))

	runs, err := j.Recent(context.Background(), 5)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, "submit", runs[0].Command)
	assert.Equal(t, []string{"submit", "job.py"}, runs[0].Argv)
	require.NotNil(t, runs[0].ExitCode)
	assert.Equal(t, 7, *runs[0].ExitCode)
	assert.Equal(t, 2, runs[0].Artifacts)
	assert.Contains(t, runs[0].Error, "exit code 7")
}

func TestRunPlugin(t *testing.T) {
	f := newFixture(t, nil)
	reg := plugin.NewRegistry()
	var got []string
	require.NoError(t, reg.Add(plugin.Entry{Name: "etl", Invocation: plugin.ArgsForwarding{
		Run: func(_ context.Context, args []string) (int, error) {
			got = args
			return 5, nil
		},
	}}))

	err := f.orch.RunPlugin(context.Background(), reg, "etl", []string{"--x"}, nil)
	assert.Equal(t, []string{"--x"}, got)
	assert.Equal(t, 5, ExitCode(err))

	err = f.orch.RunPlugin(context.Background(), reg, "missing", nil, nil)
	var nf *plugin.NotFoundError
	require.ErrorAs(t, err, &nf)
	assert.Equal(t, 1, ExitCode(err))
}

func TestExitCode(t *testing.T) {
	assert.Equal(t, 0, ExitCode(nil))
	assert.Equal(t, 1, ExitCode(errors.New("boom")))
	assert.Equal(t, 9, ExitCode(&spark.JobError{ExitCode: 9}))
	assert.Equal(t, 4, ExitCode(&plugin.ExitError{Name: "x", Code: 4}))
	assert.Equal(t, 1, ExitCode(&download.Error{ExitCode: 2}))
	assert.Equal(t, 1, ExitCode(&config.LoadError{Path: "x", Err: errors.New("bad")}))
}
