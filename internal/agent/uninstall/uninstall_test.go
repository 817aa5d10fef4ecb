package uninstall

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wardenhq/warden/internal/agent/inventory"
	"github.com/wardenhq/warden/internal/models"
)

type recordedCall struct {
	command string
	args    []string
}

type scriptedRunner struct {
	calls   []recordedCall
	results []scriptedResult
}

type scriptedResult struct {
	exitCode int
	stdout   string
	stderr   string
	err      error
}

func (r *scriptedRunner) Run(_ context.Context, name string, args ...string) (int, string, string, error) {
	r.calls = append(r.calls, recordedCall{command: name, args: args})
	if len(r.results) == 0 {
		return 0, "", "", nil
	}
	res := r.results[0]
	r.results = r.results[1:]
	return res.exitCode, res.stdout, res.stderr, res.err
}

func fixedInventory(items ...inventory.Item) InstalledFunc {
	return func(context.Context) ([]inventory.Item, error) {
		return items, nil
	}
}

func newTestUninstaller(platform Platform, runner Runner, items ...inventory.Item) *Uninstaller {
	return New(platform, runner, fixedInventory(items...))
}

func TestValidateNameRejectsUnsafeInput(t *testing.T) {
	unsafe := []string{
		"",
		"   ",
		"app'; DROP TABLE--",
		`app"name`,
		"app`whoami`",
		"app$PATH",
		"app;rm",
		"app&bg",
		"app|pipe",
		"app<in",
		"app>out",
		"app\nname",
		"app\rname",
		"app\x00name",
		"../etc/passwd",
		"dir/app",
		`dir\app`,
		string(make([]byte, 201)),
	}
	for _, name := range unsafe {
		assert.Errorf(t, ValidateName(name), "name %q must be rejected", name)
	}
}

func TestValidateNameAcceptsOrdinaryNames(t *testing.T) {
	safe := []string{
		"TeamViewer",
		"TeamViewer 15",
		"Notepad++",
		"7-Zip",
		"Visual Studio Code",
		"libre_office.base",
	}
	for _, name := range safe {
		assert.NoErrorf(t, ValidateName(name), "name %q must be accepted", name)
	}
}

func TestUninstallRejectsUnsafeNameBeforeLookup(t *testing.T) {
	runner := &scriptedRunner{}
	u := newTestUninstaller(PlatformLinuxApt, runner)

	result := u.Uninstall(context.Background(), Request{Name: "app'; rm -rf /"})

	assert.Equal(t, models.CommandFailed, result.Status)
	assert.Contains(t, result.Error, "unsafe characters")
	assert.Empty(t, runner.calls, "nothing may execute for a rejected name")
}

func TestUninstallExactMatchOnly(t *testing.T) {
	runner := &scriptedRunner{}
	u := newTestUninstaller(PlatformLinuxApt, runner,
		inventory.Item{Name: "Chrome Remote Desktop"},
	)

	result := u.Uninstall(context.Background(), Request{Name: "Chrome"})

	// "Chrome" is not installed; the similarly named package must not match.
	assert.Equal(t, models.CommandCompleted, result.Status)
	assert.Contains(t, result.Stdout, "not installed")
	assert.Empty(t, runner.calls)
}

func TestUninstallAlreadyAbsentIsSuccess(t *testing.T) {
	runner := &scriptedRunner{}
	u := newTestUninstaller(PlatformLinuxApt, runner)

	result := u.Uninstall(context.Background(), Request{Name: "teamviewer"})

	assert.Equal(t, models.CommandCompleted, result.Status)
	assert.Empty(t, runner.calls)
}

func TestUninstallMatchesCaseInsensitively(t *testing.T) {
	runner := &scriptedRunner{}
	u := newTestUninstaller(PlatformLinuxApt, runner, inventory.Item{Name: "teamviewer"})

	result := u.Uninstall(context.Background(), Request{Name: "TeamViewer"})

	assert.Equal(t, models.CommandCompleted, result.Status)
	require.Len(t, runner.calls, 1)
	assert.Equal(t, "apt-get", runner.calls[0].command)
	assert.Equal(t, []string{"remove", "-y", "teamviewer"}, runner.calls[0].args)
}

func TestUninstallRefusesProtectedPackages(t *testing.T) {
	protected := []string{"bash", "systemd", "glibc", "sudo", "kernel-core", "linux-image-6.1.0", "linux-headers-6.1.0"}
	for _, name := range protected {
		runner := &scriptedRunner{}
		u := newTestUninstaller(PlatformLinuxApt, runner, inventory.Item{Name: name})

		result := u.Uninstall(context.Background(), Request{Name: name})

		assert.Equalf(t, models.CommandFailed, result.Status, "package %q", name)
		assert.Contains(t, result.Error, "protected")
		assert.Empty(t, runner.calls)
	}
}

func TestUninstallProtectionIsLinuxOnly(t *testing.T) {
	runner := &scriptedRunner{}
	u := newTestUninstaller(PlatformWindows, runner, inventory.Item{Name: "bash"})

	result := u.Uninstall(context.Background(), Request{Name: "bash"})

	assert.Equal(t, models.CommandCompleted, result.Status)
	assert.NotEmpty(t, runner.calls)
}

func TestUninstallWindowsTriesVersionSpecificFirst(t *testing.T) {
	runner := &scriptedRunner{
		results: []scriptedResult{
			{exitCode: 1, stderr: "version mismatch"},
			{exitCode: 0},
		},
	}
	u := newTestUninstaller(PlatformWindows, runner, inventory.Item{Name: "TeamViewer"})

	result := u.Uninstall(context.Background(), Request{Name: "TeamViewer", Version: "15.0.1"})

	assert.Equal(t, models.CommandCompleted, result.Status)
	require.Len(t, runner.calls, 2)
	assert.Equal(t, "winget", runner.calls[0].command)
	assert.Contains(t, runner.calls[0].args, "--version")
	assert.Contains(t, runner.calls[0].args, "15.0.1")
	assert.Equal(t, "winget", runner.calls[1].command)
	assert.NotContains(t, runner.calls[1].args, "--version")
}

func TestUninstallFallsThroughToWmic(t *testing.T) {
	runner := &scriptedRunner{
		results: []scriptedResult{
			{exitCode: 1, err: fmt.Errorf("winget missing")},
			{exitCode: 0},
		},
	}
	u := newTestUninstaller(PlatformWindows, runner, inventory.Item{Name: "TeamViewer"})

	result := u.Uninstall(context.Background(), Request{Name: "TeamViewer"})

	assert.Equal(t, models.CommandCompleted, result.Status)
	require.Len(t, runner.calls, 2)
	assert.Equal(t, "wmic", runner.calls[1].command)
}

func TestUninstallNotInstalledOutputCountsAsSuccess(t *testing.T) {
	runner := &scriptedRunner{
		results: []scriptedResult{
			{exitCode: 100, stderr: "Package 'teamviewer' is not installed, so not removed"},
		},
	}
	u := newTestUninstaller(PlatformLinuxApt, runner, inventory.Item{Name: "teamviewer"})

	result := u.Uninstall(context.Background(), Request{Name: "teamviewer"})

	assert.Equal(t, models.CommandCompleted, result.Status)
	assert.Zero(t, result.ExitCode)
}

func TestUninstallAllAttemptsFailing(t *testing.T) {
	runner := &scriptedRunner{
		results: []scriptedResult{
			{exitCode: 1, stderr: "permission denied"},
			{exitCode: 2, stderr: "access denied"},
		},
	}
	u := newTestUninstaller(PlatformWindows, runner, inventory.Item{Name: "TeamViewer"})

	result := u.Uninstall(context.Background(), Request{Name: "TeamViewer"})

	assert.Equal(t, models.CommandFailed, result.Status)
	assert.Equal(t, 2, result.ExitCode)
	assert.Contains(t, result.Error, "winget")
	assert.Contains(t, result.Error, "wmic")
	assert.GreaterOrEqual(t, result.DurationMs, int64(0))
}

type fakeFileInfo struct {
	mode fs.FileMode
}

func (f fakeFileInfo) Name() string       { return "Fake.app" }
func (f fakeFileInfo) Size() int64        { return 0 }
func (f fakeFileInfo) Mode() fs.FileMode  { return f.mode }
func (f fakeFileInfo) ModTime() time.Time { return time.Time{} }
func (f fakeFileInfo) IsDir() bool        { return f.mode.IsDir() }
func (f fakeFileInfo) Sys() interface{}   { return nil }

func TestUninstallDarwinRefusesSymlinkedBundle(t *testing.T) {
	runner := &scriptedRunner{}
	u := newTestUninstaller(PlatformDarwin, runner, inventory.Item{Name: "Evil"})

	removed := false
	u.lstat = func(path string) (os.FileInfo, error) {
		assert.Equal(t, "/Applications/Evil.app", path)
		return fakeFileInfo{mode: fs.ModeSymlink}, nil
	}
	u.removeAll = func(string) error {
		removed = true
		return nil
	}

	result := u.Uninstall(context.Background(), Request{Name: "Evil"})

	assert.Equal(t, models.CommandFailed, result.Status)
	assert.Contains(t, result.Error, "symlink")
	assert.False(t, removed, "a symlinked bundle must never be removed")
	assert.Empty(t, runner.calls)
}

func TestUninstallDarwinRemovesRealBundle(t *testing.T) {
	runner := &scriptedRunner{}
	u := newTestUninstaller(PlatformDarwin, runner, inventory.Item{Name: "TeamViewer"})

	var removedPath string
	u.lstat = func(string) (os.FileInfo, error) {
		return fakeFileInfo{mode: fs.ModeDir}, nil
	}
	u.removeAll = func(path string) error {
		removedPath = path
		return nil
	}

	result := u.Uninstall(context.Background(), Request{Name: "TeamViewer"})

	assert.Equal(t, models.CommandCompleted, result.Status)
	assert.Equal(t, "/Applications/TeamViewer.app", removedPath)
	assert.Empty(t, runner.calls)
}

func TestUninstallDarwinFallsBackToBrew(t *testing.T) {
	runner := &scriptedRunner{
		results: []scriptedResult{
			{exitCode: 0},
		},
	}
	u := newTestUninstaller(PlatformDarwin, runner, inventory.Item{Name: "teamviewer"})

	u.lstat = func(string) (os.FileInfo, error) {
		return nil, os.ErrNotExist
	}

	result := u.Uninstall(context.Background(), Request{Name: "teamviewer"})

	assert.Equal(t, models.CommandCompleted, result.Status)
	require.NotEmpty(t, runner.calls)
	assert.Equal(t, "brew", runner.calls[0].command)
}

func TestUninstallUnsupportedPlatform(t *testing.T) {
	runner := &scriptedRunner{}
	u := newTestUninstaller(PlatformUnsupported, runner, inventory.Item{Name: "thing"})

	result := u.Uninstall(context.Background(), Request{Name: "thing"})

	assert.Equal(t, models.CommandFailed, result.Status)
	assert.Contains(t, result.Error, "unsupported")
}
