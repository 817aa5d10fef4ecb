package inventory

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"strings"
)

// Item is one installed application or package as seen on the endpoint.
type Item struct {
	Name      string `json:"name"`
	Version   string `json:"version,omitempty"`
	Vendor    string `json:"vendor,omitempty"`
	CatalogID string `json:"catalog_id,omitempty"`
}

// Runner executes one collection command.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) (exitCode int, stdout, stderr string, err error)
}

// Collector lists installed software using the host's native package tooling.
type Collector struct {
	goos     string
	runner   Runner
	lookPath func(string) (string, error)

	// readDir is injectable so the macOS bundle scan is testable.
	readDir func(string) ([]os.DirEntry, error)
}

func NewCollector(runner Runner, lookPath func(string) (string, error)) *Collector {
	return &Collector{
		goos:     runtime.GOOS,
		runner:   runner,
		lookPath: lookPath,
		readDir:  os.ReadDir,
	}
}

// Collect returns the installed software list for this host.
func (c *Collector) Collect(ctx context.Context) ([]Item, error) {
	switch c.goos {
	case "linux":
		return c.collectLinux(ctx)
	case "darwin":
		return c.collectDarwin(ctx)
	case "windows":
		return c.collectWindows(ctx)
	default:
		return nil, fmt.Errorf("inventory collection unsupported on %s", c.goos)
	}
}

func (c *Collector) collectLinux(ctx context.Context) ([]Item, error) {
	if _, err := c.lookPath("dpkg-query"); err == nil {
		_, stdout, stderr, err := c.runner.Run(ctx, "dpkg-query", "-W",
			"-f", "${Package}\t${Version}\t${Maintainer}\n")
		if err != nil {
			return nil, fmt.Errorf("dpkg-query: %w (%s)", err, strings.TrimSpace(stderr))
		}
		return ParseTabular(stdout), nil
	}
	if _, err := c.lookPath("rpm"); err == nil {
		_, stdout, stderr, err := c.runner.Run(ctx, "rpm", "-qa",
			"--qf", "%{NAME}\t%{VERSION}-%{RELEASE}\t%{VENDOR}\n")
		if err != nil {
			return nil, fmt.Errorf("rpm: %w (%s)", err, strings.TrimSpace(stderr))
		}
		return ParseTabular(stdout), nil
	}
	return nil, fmt.Errorf("no supported package manager found")
}

// collectDarwin lists application bundles under /Applications. Bundle names
// double as the uninstall key, so the ".app" suffix is stripped.
func (c *Collector) collectDarwin(_ context.Context) ([]Item, error) {
	entries, err := c.readDir("/Applications")
	if err != nil {
		return nil, fmt.Errorf("read /Applications: %w", err)
	}
	items := make([]Item, 0, len(entries))
	for _, entry := range entries {
		name := entry.Name()
		if !strings.HasSuffix(name, ".app") || strings.HasPrefix(name, ".") {
			continue
		}
		items = append(items, Item{Name: strings.TrimSuffix(name, ".app")})
	}
	return items, nil
}

func (c *Collector) collectWindows(ctx context.Context) ([]Item, error) {
	// Registry uninstall keys cover both MSI and non-MSI installs, unlike
	// "wmic product" which only sees MSI packages.
	script := `Get-ItemProperty ` +
		`HKLM:\Software\Microsoft\Windows\CurrentVersion\Uninstall\*, ` +
		`HKLM:\Software\Wow6432Node\Microsoft\Windows\CurrentVersion\Uninstall\* ` +
		`-ErrorAction SilentlyContinue | ` +
		`Where-Object { $_.DisplayName } | ` +
		`ForEach-Object { "$($_.DisplayName)` + "`t" + `$($_.DisplayVersion)` + "`t" + `$($_.Publisher)" }`
	_, stdout, stderr, err := c.runner.Run(ctx, "powershell", "-NoProfile", "-NonInteractive", "-Command", script)
	if err != nil {
		return nil, fmt.Errorf("powershell: %w (%s)", err, strings.TrimSpace(stderr))
	}
	return ParseTabular(stdout), nil
}

// ParseTabular parses "name<TAB>version<TAB>vendor" lines, tolerating missing
// trailing fields and skipping blank names.
func ParseTabular(output string) []Item {
	lines := strings.Split(output, "\n")
	items := make([]Item, 0, len(lines))
	for _, line := range lines {
		line = strings.TrimRight(line, "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}
		fields := strings.SplitN(line, "\t", 3)
		name := strings.TrimSpace(fields[0])
		if name == "" {
			continue
		}
		item := Item{Name: name}
		if len(fields) > 1 {
			item.Version = strings.TrimSpace(fields[1])
		}
		if len(fields) > 2 {
			item.Vendor = strings.TrimSpace(fields[2])
		}
		items = append(items, item)
	}
	return items
}
