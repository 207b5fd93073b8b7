package main

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cwbudde/clblur/internal/device"
	"github.com/cwbudde/clblur/internal/fault"
	"github.com/cwbudde/clblur/internal/imageio"
	"github.com/cwbudde/clblur/internal/store"
)

// resetFlags restores every flag in the command tree to its default so
// tests can execute rootCmd repeatedly.
func resetFlags(cmd *cobra.Command) {
	reset := func(f *pflag.Flag) {
		_ = f.Value.Set(f.DefValue)
		f.Changed = false
	}
	cmd.Flags().VisitAll(reset)
	cmd.PersistentFlags().VisitAll(reset)
	for _, c := range cmd.Commands() {
		resetFlags(c)
	}
}

// executeCLI runs the CLI with args inside a fresh working directory.
func executeCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	resetFlags(rootCmd)
	t.Cleanup(func() { resetFlags(rootCmd) })

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetIn(strings.NewReader(""))
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

// workspace switches into an empty directory with an isolated HOME.
func workspace(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("HOME", dir)
	prev, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(prev) })
	return dir
}

func kernelPath(t *testing.T, name string) string {
	t.Helper()
	path, err := filepath.Abs(filepath.Join("..", "..", "kernels", name+".cl"))
	require.NoError(t, err)
	return path
}

func writeInput(t *testing.T, dir string, index int, img *imageio.Gray) {
	t.Helper()
	path := filepath.Join(dir, "images", fmt.Sprintf("image%d.pgm", index))
	require.NoError(t, imageio.Save(path, img))
}

func gradient(w, h int) *imageio.Gray {
	img := imageio.NewGray(w, h)
	for i := range img.Pix {
		img.Pix[i] = byte(i * 16)
	}
	return img
}

// countDriverOpens wraps openDriver for the duration of the test.
func countDriverOpens(t *testing.T) *int {
	t.Helper()
	calls := 0
	prev := openDriver
	openDriver = func(name string, opts device.Options) (device.Driver, error) {
		calls++
		return prev(name, opts)
	}
	t.Cleanup(func() { openDriver = prev })
	return &calls
}

func TestRunRequiresFilter(t *testing.T) {
	workspace(t)
	calls := countDriverOpens(t)

	out, err := executeCLI(t, "run", "-i", "1", "-o", "1", "--log-level", "error")
	require.ErrorIs(t, err, fault.ErrConfigInvalid)
	assert.Contains(t, err.Error(), "--filter")
	assert.Equal(t, 2, fault.ExitCode(err))
	assert.Contains(t, out, "Usage:")
	assert.Zero(t, *calls, "driver must not be opened for an invalid request")
}

func TestRunUsageFailureIsLogged(t *testing.T) {
	workspace(t)
	runCmd.SetUsageFunc(func(*cobra.Command) error { return errors.New("stdout closed") })
	t.Cleanup(func() { runCmd.SetUsageFunc(nil) })

	out, err := executeCLI(t, "run", "-i", "1", "-o", "1", "--log-format", "text")
	require.ErrorIs(t, err, fault.ErrConfigInvalid)
	assert.Contains(t, out, "Failed to print usage")
	assert.Contains(t, out, "stdout closed")
}

func TestRunOversizedKernelSource(t *testing.T) {
	kernel := kernelPath(t, "identity")
	dir := workspace(t)
	writeInput(t, dir, 1, gradient(2, 2))
	t.Setenv("CLBLUR_KERNEL_MAX_SOURCE_BYTES", "16")
	calls := countDriverOpens(t)

	_, err := executeCLI(t, "run", "-i", "1", "-o", "1", "-f", "3",
		"--kernel", kernel, "--entry", "identity",
		"--driver", "host", "--data-dir", filepath.Join(dir, "data"),
		"--log-level", "error")
	require.ErrorIs(t, err, fault.ErrSourceTooLarge)
	assert.Equal(t, 4, fault.ExitCode(err))
	assert.Zero(t, *calls, "driver must not be opened for an oversized source")
	assert.NoFileExists(t, filepath.Join(dir, "images_output", "image1_blurred.pgm"))
}

func TestRunIdentityEndToEnd(t *testing.T) {
	kernel := kernelPath(t, "identity")
	dir := workspace(t)
	in := gradient(4, 4)
	writeInput(t, dir, 1, in)

	out, err := executeCLI(t, "run", "-i", "1", "-o", "1", "-f", "3",
		"--kernel", kernel, "--entry", "identity",
		"--driver", "host", "--data-dir", filepath.Join(dir, "data"),
		"--log-level", "error")
	require.NoError(t, err)
	assert.Contains(t, out, filepath.Join("images_output", "image1_blurred.pgm"))

	got, err := imageio.Load(filepath.Join(dir, "images_output", "image1_blurred.pgm"))
	require.NoError(t, err)
	assert.Equal(t, in.Pix, got.Pix)

	st, err := store.NewFSStore(filepath.Join(dir, "data"))
	require.NoError(t, err)
	infos, err := st.ListRuns()
	require.NoError(t, err)
	require.Len(t, infos, 1)
	assert.Equal(t, store.StatusSucceeded, infos[0].Status)
	assert.Equal(t, 16, infos[0].Pixels)

	rec, err := st.LoadRun(infos[0].RunID)
	require.NoError(t, err)
	assert.Equal(t, in.Checksum(), rec.Output.Checksum)
	assert.Equal(t, "Go Host Platform", rec.Device.Platform)
	assert.Equal(t, "OutputDownloaded", rec.LastStage)

	entries, err := store.ReadTrace(st.BaseDir(), rec.RunID)
	require.NoError(t, err)
	require.Len(t, entries, 8)
	assert.Equal(t, "DeviceSelected", entries[0].Stage)
	assert.Equal(t, "TornDown", entries[7].Stage)
}

func TestRunCompileErrorIsRecorded(t *testing.T) {
	dir := workspace(t)
	writeInput(t, dir, 1, gradient(2, 2))
	bad := filepath.Join(dir, "bad.cl")
	require.NoError(t, os.WriteFile(bad, []byte("__kernel void identity(__global uchar *a) {"), 0o644))

	_, err := executeCLI(t, "run", "-i", "1", "-o", "1", "-f", "1",
		"--kernel", bad, "--entry", "identity",
		"--driver", "host", "--data-dir", filepath.Join(dir, "data"),
		"--log-level", "error")
	require.ErrorIs(t, err, fault.ErrCompile)
	assert.Equal(t, 14, fault.ExitCode(err))

	st, err := store.NewFSStore(filepath.Join(dir, "data"))
	require.NoError(t, err)
	infos, err := st.ListRuns()
	require.NoError(t, err)
	require.Len(t, infos, 1)
	assert.Equal(t, store.StatusFailed, infos[0].Status)
	assert.Equal(t, "CompileError", infos[0].ErrorKind)

	rec, err := st.LoadRun(infos[0].RunID)
	require.NoError(t, err)
	assert.Equal(t, 14, rec.ExitCode)
	assert.Equal(t, "ContextReady", rec.LastStage)
	assert.NoFileExists(t, filepath.Join(dir, "images_output", "image1_blurred.pgm"))
}

func TestRunMissingInputIsIOError(t *testing.T) {
	dir := workspace(t)

	_, err := executeCLI(t, "run", "-i", "7", "-o", "7", "-f", "3",
		"--driver", "host", "--data-dir", filepath.Join(dir, "data"),
		"--log-level", "error")
	require.ErrorIs(t, err, fault.ErrIO)
	assert.Equal(t, 3, fault.ExitCode(err))
}

func TestDevicesListsHostPlatform(t *testing.T) {
	workspace(t)

	out, err := executeCLI(t, "devices", "--driver", "host", "--log-level", "error")
	require.NoError(t, err)
	assert.Contains(t, out, "Go Host Platform")
	assert.Contains(t, out, "Driver: host")

	out, err = executeCLI(t, "devices", "--json", "--driver", "host", "--log-level", "error")
	require.NoError(t, err)
	assert.Contains(t, out, `"name": "Go Host Platform"`)
}

func TestConfigShow(t *testing.T) {
	workspace(t)

	out, err := executeCLI(t, "config", "show", "--device", "cpu", "--log-level", "error")
	require.NoError(t, err)
	assert.Contains(t, out, "kernel:")
	assert.Contains(t, out, "class: cpu")
}

func TestConfigFromEnvironment(t *testing.T) {
	workspace(t)
	t.Setenv("CLBLUR_DEVICE_CLASS", "gpu")

	out, err := executeCLI(t, "config", "show", "--log-level", "error")
	require.NoError(t, err)
	assert.Contains(t, out, "class: gpu")
}

func TestInvalidConfigFails(t *testing.T) {
	workspace(t)

	_, err := executeCLI(t, "config", "show", "--driver", "cuda")
	require.ErrorIs(t, err, fault.ErrConfigInvalid)
}

func TestRunsListAndShow(t *testing.T) {
	kernel := kernelPath(t, "negative")
	dir := workspace(t)
	writeInput(t, dir, 2, gradient(2, 2))
	data := filepath.Join(dir, "data")

	out, err := executeCLI(t, "runs", "list", "--data-dir", data, "--log-level", "error")
	require.NoError(t, err)
	assert.Contains(t, out, "No runs found.")

	_, err = executeCLI(t, "run", "-i", "2", "-o", "2", "-f", "1",
		"--kernel", kernel, "--entry", "negative",
		"--driver", "host", "--data-dir", data, "--log-level", "error")
	require.NoError(t, err)

	out, err = executeCLI(t, "runs", "list", "--data-dir", data, "--log-level", "error")
	require.NoError(t, err)
	assert.Contains(t, out, "succeeded")
	assert.Contains(t, out, "Total runs: 1")

	st, err := store.NewFSStore(data)
	require.NoError(t, err)
	infos, err := st.ListRuns()
	require.NoError(t, err)
	require.Len(t, infos, 1)

	out, err = executeCLI(t, "runs", "show", infos[0].RunID, "--data-dir", data, "--log-level", "error")
	require.NoError(t, err)
	assert.Contains(t, out, infos[0].RunID)
	assert.Contains(t, out, "Dispatched")

	_, err = executeCLI(t, "runs", "show", store.NewRunID(), "--data-dir", data, "--log-level", "error")
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestRunsCleanForce(t *testing.T) {
	dir := workspace(t)
	data := filepath.Join(dir, "data")
	st, err := store.NewFSStore(data)
	require.NoError(t, err)

	rec := store.NewRunRecord(store.NewRunID())
	rec.FinishedAt = rec.StartedAt
	rec.Status = store.StatusFailed
	rec.Error = "boom"
	require.NoError(t, st.SaveRun(rec))

	out, err := executeCLI(t, "runs", "clean", "--failed", "--force", "--data-dir", data, "--log-level", "error")
	require.NoError(t, err)
	assert.Contains(t, out, "Deleted 1 run(s), 0 failed.")

	infos, err := st.ListRuns()
	require.NoError(t, err)
	assert.Empty(t, infos)
}

func TestRunsCleanRequiresPolicy(t *testing.T) {
	workspace(t)
	_, err := executeCLI(t, "runs", "clean", "--log-level", "error")
	require.Error(t, err)
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	l := newLogger(&buf, "warn", "text")
	l.Info("hidden")
	l.Warn("shown", "k", "v")
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "msg=shown")

	buf.Reset()
	newLogger(&buf, "bogus", "json").Info("hello")
	assert.Contains(t, buf.String(), `"msg":"hello"`)
}
