package inventory

import (
	"context"
	"io/fs"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTabular(t *testing.T) {
	output := "teamviewer\t15.0.1\tTeamViewer GmbH\n" +
		"slack\t4.39\n" +
		"bare-name\n" +
		"\n" +
		"\tno-name-field\t\n" +
		"crlf-tool\t1.0\tVendor\r\n"

	items := ParseTabular(output)

	require.Len(t, items, 4)
	assert.Equal(t, Item{Name: "teamviewer", Version: "15.0.1", Vendor: "TeamViewer GmbH"}, items[0])
	assert.Equal(t, Item{Name: "slack", Version: "4.39"}, items[1])
	assert.Equal(t, Item{Name: "bare-name"}, items[2])
	assert.Equal(t, Item{Name: "crlf-tool", Version: "1.0", Vendor: "Vendor"}, items[3])
}

func TestParseTabularEmptyOutput(t *testing.T) {
	assert.Empty(t, ParseTabular(""))
	assert.Empty(t, ParseTabular("\n\n"))
}

type fakeRunner struct {
	stdout string
	called struct {
		name string
		args []string
	}
}

func (r *fakeRunner) Run(_ context.Context, name string, args ...string) (int, string, string, error) {
	r.called.name = name
	r.called.args = args
	return 0, r.stdout, "", nil
}

func lookPathOnly(available ...string) func(string) (string, error) {
	return func(tool string) (string, error) {
		for _, a := range available {
			if a == tool {
				return "/usr/bin/" + tool, nil
			}
		}
		return "", os.ErrNotExist
	}
}

func TestCollectLinuxPrefersDpkg(t *testing.T) {
	runner := &fakeRunner{stdout: "teamviewer\t15.0.1\tTeamViewer GmbH\n"}
	c := NewCollector(runner, lookPathOnly("dpkg-query", "rpm"))
	c.goos = "linux"

	items, err := c.Collect(context.Background())

	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "dpkg-query", runner.called.name)
	assert.Equal(t, "teamviewer", items[0].Name)
}

func TestCollectLinuxFallsBackToRpm(t *testing.T) {
	runner := &fakeRunner{stdout: "teamviewer\t15.0.1-2\tTeamViewer GmbH\n"}
	c := NewCollector(runner, lookPathOnly("rpm"))
	c.goos = "linux"

	items, err := c.Collect(context.Background())

	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "rpm", runner.called.name)
}

func TestCollectLinuxNoPackageManager(t *testing.T) {
	c := NewCollector(&fakeRunner{}, lookPathOnly())
	c.goos = "linux"

	_, err := c.Collect(context.Background())

	assert.Error(t, err)
}

type fakeDirEntry struct {
	name string
	dir  bool
}

func (e fakeDirEntry) Name() string               { return e.name }
func (e fakeDirEntry) IsDir() bool                { return e.dir }
func (e fakeDirEntry) Type() fs.FileMode          { return 0 }
func (e fakeDirEntry) Info() (fs.FileInfo, error) { return nil, nil }

func TestCollectDarwinListsAppBundles(t *testing.T) {
	c := NewCollector(&fakeRunner{}, lookPathOnly())
	c.goos = "darwin"
	c.readDir = func(path string) ([]os.DirEntry, error) {
		assert.Equal(t, "/Applications", path)
		return []os.DirEntry{
			fakeDirEntry{name: "TeamViewer.app", dir: true},
			fakeDirEntry{name: "Slack.app", dir: true},
			fakeDirEntry{name: ".hidden.app", dir: true},
			fakeDirEntry{name: "README.txt"},
		}, nil
	}

	items, err := c.Collect(context.Background())

	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "TeamViewer", items[0].Name)
	assert.Equal(t, "Slack", items[1].Name)
}

func TestCollectUnsupportedOS(t *testing.T) {
	c := NewCollector(&fakeRunner{}, lookPathOnly())
	c.goos = "plan9"

	_, err := c.Collect(context.Background())

	assert.Error(t, err)
}
