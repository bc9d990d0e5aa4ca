package browser

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync/atomic"
	"time"

	"github.com/pagehaul/pagehaul/internal/domain"
)

// HeadlessConfig holds configuration for the headless-browser launcher.
type HeadlessConfig struct {
	// Binary is the headless browser executable.
	Binary string

	// UserAgent overrides the browser's default user agent when non-empty.
	UserAgent string

	// NavigateTimeout bounds a single page load.
	NavigateTimeout time.Duration
}

// DefaultHeadlessConfig returns a HeadlessConfig with reasonable defaults
func DefaultHeadlessConfig() HeadlessConfig {
	return HeadlessConfig{
		Binary:          "chromium",
		NavigateTimeout: 20 * time.Second,
	}
}

// HeadlessLauncher launches sessions backed by the system headless browser.
// Each session owns a dedicated profile directory, so session startup pays
// the profile-creation cost once and navigations reuse it.
type HeadlessLauncher struct {
	config HeadlessConfig
	logger *slog.Logger
}

// NewHeadlessLauncher creates a launcher for the configured browser binary.
// It fails if the binary is not on PATH, which is a startup-time problem
// rather than a per-task one.
func NewHeadlessLauncher(config HeadlessConfig, logger *slog.Logger) (*HeadlessLauncher, error) {
	if config.Binary == "" {
		config.Binary = DefaultHeadlessConfig().Binary
	}
	if config.NavigateTimeout <= 0 {
		config.NavigateTimeout = DefaultHeadlessConfig().NavigateTimeout
	}

	path, err := exec.LookPath(config.Binary)
	if err != nil {
		return nil, fmt.Errorf("%w: headless browser binary %q not found: %v",
			domain.ErrFatalStartup, config.Binary, err)
	}
	config.Binary = path

	return &HeadlessLauncher{
		config: config,
		logger: logger.With("component", "headless_launcher"),
	}, nil
}

// Launch creates a new headless session with its own profile directory.
func (l *HeadlessLauncher) Launch(ctx context.Context) (Driver, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	profileDir, err := os.MkdirTemp("", "pagehaul-session-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create session profile dir: %w", err)
	}

	return &headlessDriver{
		config:     l.config,
		profileDir: profileDir,
		logger:     l.logger,
	}, nil
}

// headlessDriver drives one browser profile. Each navigation runs the
// browser in dump-dom mode against the session's profile directory.
type headlessDriver struct {
	config     HeadlessConfig
	profileDir string
	logger     *slog.Logger
	closed     atomic.Bool
}

func (d *headlessDriver) Navigate(ctx context.Context, url string) (*Page, error) {
	if d.closed.Load() {
		return nil, fmt.Errorf("%w: session already closed", domain.ErrTransient)
	}

	navCtx, cancel := context.WithTimeout(ctx, d.config.NavigateTimeout)
	defer cancel()

	args := []string{
		"--headless=new",
		"--disable-gpu",
		"--no-sandbox",
		"--user-data-dir=" + d.profileDir,
		"--dump-dom",
	}
	if d.config.UserAgent != "" {
		args = append(args, "--user-agent="+d.config.UserAgent)
	}
	args = append(args, url)

	cmd := exec.CommandContext(navCtx, d.config.Binary, args...)
	out, err := cmd.Output()
	if err != nil {
		if errors.Is(navCtx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: navigation to %s timed out after %v",
				domain.ErrTransient, url, d.config.NavigateTimeout)
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: browser exited: %v", domain.ErrTransient, err)
	}

	html := string(out)
	return &Page{
		URL:   url,
		Title: extractTitle(html),
		HTML:  html,
	}, nil
}

func (d *headlessDriver) Close(ctx context.Context) error {
	if !d.closed.CompareAndSwap(false, true) {
		return nil
	}
	if err := os.RemoveAll(d.profileDir); err != nil {
		return fmt.Errorf("failed to remove session profile dir: %w", err)
	}
	return nil
}

func (d *headlessDriver) Alive() bool {
	return !d.closed.Load()
}

// extractTitle pulls the document title out of raw HTML. Good enough for
// logging and snapshots; feature extraction parses the DOM properly.
func extractTitle(html string) string {
	lower := strings.ToLower(html)
	start := strings.Index(lower, "<title")
	if start < 0 {
		return ""
	}
	open := strings.Index(lower[start:], ">")
	if open < 0 {
		return ""
	}
	start += open + 1
	end := strings.Index(lower[start:], "</title>")
	if end < 0 {
		return ""
	}
	return strings.TrimSpace(html[start : start+end])
}
