package uninstall

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"strings"
	"time"

	"github.com/wardenhq/warden/internal/agent/inventory"
	"github.com/wardenhq/warden/internal/models"
)

// Platform is the removal backend, a closed set selected once at agent
// start-up rather than re-detected per command.
type Platform string

const (
	PlatformWindows     Platform = "windows"
	PlatformDarwin      Platform = "darwin"
	PlatformLinuxApt    Platform = "linux-apt"
	PlatformLinuxDnf    Platform = "linux-dnf"
	PlatformLinuxYum    Platform = "linux-yum"
	PlatformLinuxZypper Platform = "linux-zypper"
	PlatformLinuxPacman Platform = "linux-pacman"
	PlatformUnsupported Platform = "unsupported"
)

// Runner executes one uninstaller invocation. Injected so tests never shell out.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) (exitCode int, stdout, stderr string, err error)
}

// InstalledFunc returns the current software list for exact-match lookups.
type InstalledFunc func(ctx context.Context) ([]inventory.Item, error)

// Request identifies the software to remove.
type Request struct {
	Name    string `json:"name"`
	Version string `json:"version,omitempty"`
}

const maxNameLength = 200

var (
	// Path separators, traversal, null bytes and newlines are rejected because
	// the name can end up in a filesystem path; quotes, backticks and shell
	// metacharacters because the wmic backend builds a quoted query string and
	// an unescaped quote is an injection vector into that query language.
	unsafeNamePattern = regexp.MustCompile("[\\\\/\x00\r\n'\"`;&|<>$]")

	protectedLinuxPackages = map[string]struct{}{
		"kernel":    {},
		"linux":     {},
		"systemd":   {},
		"glibc":     {},
		"libc6":     {},
		"coreutils": {},
		"bash":      {},
		"sudo":      {},
		"init":      {},
	}
)

// ValidateName rejects software names that could escape the exact-match,
// argument-vector execution model.
func ValidateName(name string) error {
	trimmed := strings.TrimSpace(name)
	if trimmed == "" {
		return fmt.Errorf("software name is required")
	}
	if len(trimmed) > maxNameLength {
		return fmt.Errorf("software name exceeds %d characters", maxNameLength)
	}
	if strings.Contains(trimmed, "..") {
		return fmt.Errorf("software name contains traversal sequence")
	}
	if unsafeNamePattern.MatchString(trimmed) {
		return fmt.Errorf("software name contains unsafe characters")
	}
	return nil
}

// DetectPlatform picks the removal backend for this host.
func DetectPlatform(lookPath func(string) (string, error)) Platform {
	switch runtime.GOOS {
	case "windows":
		return PlatformWindows
	case "darwin":
		return PlatformDarwin
	case "linux":
		for _, candidate := range []struct {
			tool     string
			platform Platform
		}{
			{"apt-get", PlatformLinuxApt},
			{"dnf", PlatformLinuxDnf},
			{"yum", PlatformLinuxYum},
			{"zypper", PlatformLinuxZypper},
			{"pacman", PlatformLinuxPacman},
		} {
			if _, err := lookPath(candidate.tool); err == nil {
				return candidate.platform
			}
		}
	}
	return PlatformUnsupported
}

type attempt struct {
	command string
	args    []string
}

// Uninstaller removes software via the platform's native tooling.
type Uninstaller struct {
	platform  Platform
	runner    Runner
	installed InstalledFunc

	// Filesystem hooks, injectable for tests.
	lstat     func(string) (os.FileInfo, error)
	removeAll func(string) error
}

func New(platform Platform, runner Runner, installed InstalledFunc) *Uninstaller {
	return &Uninstaller{
		platform:  platform,
		runner:    runner,
		installed: installed,
		lstat:     os.Lstat,
		removeAll: os.RemoveAll,
	}
}

// Uninstall validates, looks up and removes the requested software, returning
// a structured result either way.
func (u *Uninstaller) Uninstall(ctx context.Context, req Request) models.CommandResult {
	start := time.Now()
	name := strings.TrimSpace(req.Name)
	version := strings.TrimSpace(req.Version)

	if err := ValidateName(name); err != nil {
		return failure(start, err)
	}

	// Exact-match lookup, never substring: "Chrome" must not resolve to
	// "Chrome Remote Desktop".
	item, found, err := u.findInstalled(ctx, name)
	if err != nil {
		return failure(start, fmt.Errorf("inventory lookup: %w", err))
	}
	if !found {
		// Already absent counts as remediated.
		return models.CommandResult{
			Status:     models.CommandCompleted,
			Stdout:     fmt.Sprintf("%s is not installed", name),
			DurationMs: time.Since(start).Milliseconds(),
		}
	}

	if isProtectedLinuxPackage(u.platform, item.Name) {
		return failure(start, fmt.Errorf("refusing to uninstall protected package %q", item.Name))
	}

	if u.platform == PlatformDarwin {
		return u.uninstallDarwin(ctx, start, item.Name)
	}

	attempts := u.attemptsFor(item.Name, version)
	if len(attempts) == 0 {
		return failure(start, fmt.Errorf("software uninstall unsupported on platform %s", u.platform))
	}
	return u.runAttempts(ctx, start, item.Name, attempts)
}

func (u *Uninstaller) findInstalled(ctx context.Context, name string) (inventory.Item, bool, error) {
	items, err := u.installed(ctx)
	if err != nil {
		return inventory.Item{}, false, err
	}
	for _, item := range items {
		if strings.EqualFold(strings.TrimSpace(item.Name), name) {
			return item, true, nil
		}
	}
	return inventory.Item{}, false, nil
}

func (u *Uninstaller) attemptsFor(name, version string) []attempt {
	switch u.platform {
	case PlatformWindows:
		attempts := []attempt{}
		if version != "" {
			attempts = append(attempts, attempt{"winget", []string{
				"uninstall", "--name", name, "--version", version,
				"--silent", "--accept-source-agreements", "--disable-interactivity",
			}})
		}
		attempts = append(attempts,
			attempt{"winget", []string{
				"uninstall", "--name", name,
				"--silent", "--accept-source-agreements", "--disable-interactivity",
			}},
			// wmic builds a quoted query string; ValidateName keeps quote
			// characters out of it.
			attempt{"wmic", []string{
				"product", "where", fmt.Sprintf("name='%s'", name),
				"call", "uninstall", "/nointeractive",
			}},
		)
		return attempts
	case PlatformLinuxApt:
		return []attempt{{"apt-get", []string{"remove", "-y", name}}}
	case PlatformLinuxDnf:
		return []attempt{{"dnf", []string{"remove", "-y", name}}}
	case PlatformLinuxYum:
		return []attempt{{"yum", []string{"remove", "-y", name}}}
	case PlatformLinuxZypper:
		return []attempt{{"zypper", []string{"remove", "-y", name}}}
	case PlatformLinuxPacman:
		return []attempt{{"pacman", []string{"-R", "--noconfirm", name}}}
	default:
		return nil
	}
}

// uninstallDarwin removes the application bundle directly, falling back to
// Homebrew. The bundle path is Lstat'ed first and a symlink is refused: a
// planted symlink at /Applications/<name>.app would otherwise redirect the
// recursive delete to an arbitrary directory.
func (u *Uninstaller) uninstallDarwin(ctx context.Context, start time.Time, name string) models.CommandResult {
	appPath, err := safeAppPath(name)
	if err != nil {
		return failure(start, err)
	}

	if info, statErr := u.lstat(appPath); statErr == nil {
		if info.Mode()&os.ModeSymlink != 0 {
			return failure(start, fmt.Errorf("refusing to remove %s: resolved entry is a symlink", appPath))
		}
		if removeErr := u.removeAll(appPath); removeErr == nil {
			return models.CommandResult{
				Status:     models.CommandCompleted,
				Stdout:     fmt.Sprintf("removed %s", appPath),
				DurationMs: time.Since(start).Milliseconds(),
			}
		} else {
			slog.Warn("Direct bundle removal failed, trying brew", "path", appPath, "error", removeErr)
		}
	}

	return u.runAttempts(ctx, start, name, []attempt{
		{"brew", []string{"uninstall", "--cask", name}},
		{"brew", []string{"uninstall", name}},
	})
}

// safeAppPath confines the bundle path to /Applications.
func safeAppPath(name string) (string, error) {
	base := strings.TrimSpace(strings.TrimSuffix(name, ".app"))
	if base == "" {
		return "", fmt.Errorf("software name is required")
	}
	if strings.Contains(base, "..") || strings.ContainsAny(base, `/\`) {
		return "", fmt.Errorf("invalid application name")
	}
	appPath := filepath.Clean(filepath.Join("/Applications", base+".app"))
	if !strings.HasPrefix(appPath, "/Applications/") || appPath == "/Applications" {
		return "", fmt.Errorf("resolved application path %q is unsafe", appPath)
	}
	return appPath, nil
}

func (u *Uninstaller) runAttempts(ctx context.Context, start time.Time, name string, attempts []attempt) models.CommandResult {
	var (
		lastExit   int
		lastStdout string
		lastStderr string
		failures   []string
	)

	for _, a := range attempts {
		exitCode, stdout, stderr, err := u.runner.Run(ctx, a.command, a.args...)
		lastExit, lastStdout, lastStderr = exitCode, stdout, stderr

		if err == nil && exitCode == 0 {
			return models.CommandResult{
				Status:     models.CommandCompleted,
				ExitCode:   exitCode,
				Stdout:     stdout,
				Stderr:     stderr,
				DurationMs: time.Since(start).Milliseconds(),
			}
		}

		if alreadyAbsent(stdout + "\n" + stderr) {
			return models.CommandResult{
				Status:     models.CommandCompleted,
				ExitCode:   0,
				Stdout:     stdout,
				DurationMs: time.Since(start).Milliseconds(),
			}
		}

		// Fallback errors are logged, never silently swallowed.
		slog.Warn("Uninstall attempt failed",
			"software", name,
			"command", a.command,
			"exit_code", exitCode,
			"error", err,
		)
		detail := fmt.Sprintf("%s: exit %d", a.command, exitCode)
		if err != nil {
			detail = fmt.Sprintf("%s (%v)", detail, err)
		}
		failures = append(failures, detail)
	}

	return models.CommandResult{
		Status:     models.CommandFailed,
		ExitCode:   lastExit,
		Stdout:     lastStdout,
		Stderr:     lastStderr,
		DurationMs: time.Since(start).Milliseconds(),
		Error:      fmt.Sprintf("failed to uninstall %q: %s", name, strings.Join(failures, "; ")),
	}
}

// alreadyAbsent treats "package is not installed" outcomes as success: the
// goal state is reached either way.
func alreadyAbsent(output string) bool {
	lower := strings.ToLower(output)
	for _, marker := range []string{
		"not installed",
		"no package",
		"no installed package",
		"unknown package",
		"not found",
	} {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

func isProtectedLinuxPackage(platform Platform, name string) bool {
	switch platform {
	case PlatformLinuxApt, PlatformLinuxDnf, PlatformLinuxYum, PlatformLinuxZypper, PlatformLinuxPacman:
	default:
		return false
	}

	normalized := strings.ToLower(strings.TrimSpace(name))
	if normalized == "" {
		return false
	}
	if strings.HasPrefix(normalized, "kernel") ||
		strings.HasPrefix(normalized, "systemd") ||
		strings.HasPrefix(normalized, "linux-image-") ||
		strings.HasPrefix(normalized, "linux-headers-") {
		return true
	}
	_, blocked := protectedLinuxPackages[normalized]
	return blocked
}

func failure(start time.Time, err error) models.CommandResult {
	return models.CommandResult{
		Status:     models.CommandFailed,
		ExitCode:   -1,
		DurationMs: time.Since(start).Milliseconds(),
		Error:      err.Error(),
	}
}
