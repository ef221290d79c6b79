// Purpose: Owns browser session lifecycle — launch, persistence mode, and
// the page-level primitives the flow interpreter drives (spec.md §4.2, §4.5).
// Docs: docs/features/feature/flow-runtime/index.md

// driver.go — go-rod backed Session/Page, grounded on the teacher repo's
// browser session manager shape (launcher.New/.../browser.Connect) and
// adapted for single-run task-pack execution instead of a long-lived
// multi-session registry.
package driver

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"
)

// Engine selects the page-creation strategy.
type Engine string

const (
	EngineDefault Engine = "default"
	EngineStealth Engine = "stealth"
)

// Persistence selects how the browser's user-data-dir is managed across runs.
type Persistence string

const (
	PersistenceNone    Persistence = "none"
	PersistenceSession Persistence = "session"
	PersistenceProfile Persistence = "profile"
)

// sessionProfileTTL is how long an idle "session" persistence directory is
// kept before it is eligible for cleanup (spec.md §4.2).
const sessionProfileTTL = 30 * time.Minute

// Options configures a Session.
type Options struct {
	Engine      Engine
	Persistence Persistence
	PackDir     string // root for PersistenceProfile's user-data-dir
	Headless    bool
	Timeout     time.Duration // default navigation/wait timeout

	// ProfileID names one of possibly several PersistenceProfile directories
	// under the pack (spec.md §4.2's profileId option) — e.g. separate
	// logged-in-as-admin vs logged-in-as-viewer profiles for the same pack.
	// Empty keeps the single shared ".browser-profile" directory used
	// before this field existed.
	ProfileID string

	// SessionID names a PersistenceSession's reusable profile directory
	// (spec.md §4.2's sessionId option). Two runs with the same SessionID
	// share cookies/storage as long as the directory hasn't aged out past
	// sessionProfileTTL; an empty SessionID gets a fresh one-shot directory
	// that is removed on Close, as before.
	SessionID string

	// CDPURL attaches to a browser already listening at this DevTools
	// endpoint instead of launching a new one (spec.md §4.2's cdpUrl
	// option) — e.g. a browser started out-of-band for debugging, or one
	// shared across several pack runs. Persistence is meaningless for an
	// attached browser (its user-data-dir was chosen by whoever launched
	// it), so Persistence/PackDir/SessionID are ignored when set.
	CDPURL string
}

// Session owns one launched browser instance and its single active Page.
// ShowRun runs one task pack per Session; it does not multiplex unrelated
// sessions the way a long-lived dev-tools server would.
type Session struct {
	opts        Options
	browser     *rod.Browser
	page        *rod.Page
	userDataDir string
	ownsDir     bool
	attached    bool // true when CDPURL attached to a browser this Session didn't launch
}

// NewSession launches (or attaches to) a browser per opts and returns a
// Session ready for Open.
func NewSession(ctx context.Context, opts Options) (*Session, error) {
	if opts.Timeout == 0 {
		opts.Timeout = 30 * time.Second
	}

	if opts.CDPURL != "" {
		browser := rod.New().ControlURL(opts.CDPURL).Context(ctx)
		if err := browser.Connect(); err != nil {
			return nil, fmt.Errorf("driver: attach to %q: %w", opts.CDPURL, err)
		}
		return &Session{opts: opts, browser: browser, attached: true}, nil
	}

	l := launcher.New().Headless(opts.Headless)

	var userDataDir string
	var ownsDir bool
	switch opts.Persistence {
	case PersistenceProfile:
		if opts.PackDir == "" {
			return nil, fmt.Errorf("driver: persistence=profile requires a pack directory")
		}
		profileDirName := ".browser-profile"
		if opts.ProfileID != "" {
			profileDirName = ".browser-profile-" + opts.ProfileID
		}
		userDataDir = filepath.Join(opts.PackDir, profileDirName)
		if err := os.MkdirAll(userDataDir, 0o755); err != nil {
			return nil, fmt.Errorf("driver: create profile dir: %w", err)
		}
		l = l.UserDataDir(userDataDir)
	case PersistenceSession:
		dir, owns, err := sessionProfileDir(opts.SessionID)
		if err != nil {
			return nil, err
		}
		userDataDir = dir
		ownsDir = owns
		l = l.UserDataDir(userDataDir)
	case PersistenceNone, "":
		// rod picks an ephemeral profile and removes it on Close.
	default:
		return nil, fmt.Errorf("driver: unknown persistence mode %q", opts.Persistence)
	}

	controlURL, err := l.Launch()
	if err != nil {
		return nil, fmt.Errorf("driver: launch browser: %w", err)
	}

	browser := rod.New().ControlURL(controlURL).Context(ctx)
	if err := browser.Connect(); err != nil {
		return nil, fmt.Errorf("driver: connect to browser: %w", err)
	}

	return &Session{opts: opts, browser: browser, userDataDir: userDataDir, ownsDir: ownsDir}, nil
}

// sessionBaseDir holds every PersistenceSession profile directory, one
// subdirectory per SessionID, so a later run naming the same SessionID
// finds the same cookies/storage rather than starting fresh.
var sessionBaseDir = filepath.Join(os.TempDir(), "showrun-sessions")

// sessionProfileDir resolves id's profile directory, reclaiming it first
// if it's aged out past sessionProfileTTL (spec.md §4.2), and generating a
// fresh one-shot id when the caller didn't name one (owns=true: removed on
// Close, same as the old unconditional MkdirTemp behavior). A named id's
// directory is never removed by Session.Close — reclaim is time-based on
// the next call that names the same id, not reference-counted, so a
// concurrent second run of the same SessionID is the caller's problem to
// avoid.
func sessionProfileDir(id string) (string, bool, error) {
	if id == "" {
		dir, err := os.MkdirTemp("", "showrun-session-*")
		if err != nil {
			return "", false, fmt.Errorf("driver: create session dir: %w", err)
		}
		return dir, true, nil
	}

	dir := filepath.Join(sessionBaseDir, id)
	if info, statErr := os.Stat(dir); statErr == nil {
		if time.Since(info.ModTime()) > sessionProfileTTL {
			if rmErr := os.RemoveAll(dir); rmErr != nil {
				return "", false, fmt.Errorf("driver: reclaim stale session dir %q: %w", dir, rmErr)
			}
		}
	}
	if mkErr := os.MkdirAll(dir, 0o755); mkErr != nil {
		return "", false, fmt.Errorf("driver: create session dir: %w", mkErr)
	}
	return dir, false, nil
}

// Open creates the Session's one Page, applying the configured engine.
func (s *Session) Open(ctx context.Context) (*Page, error) {
	page, err := s.browser.Context(ctx).Page(proto.TargetCreateTarget{URL: "about:blank"})
	if err != nil {
		return nil, fmt.Errorf("driver: create page: %w", err)
	}
	if s.opts.Engine == EngineStealth {
		if err := stealth.Page(page); err != nil {
			return nil, fmt.Errorf("driver: apply stealth: %w", err)
		}
	}
	s.page = page
	return &Page{page: page, timeout: s.opts.Timeout}, nil
}

// Close shuts down the browser and, for a one-shot PersistenceSession
// directory, removes it — a named-SessionID or profile-mode directory is
// left intact so a later run reusing the same id/pack finds its cookies
// and storage. A CDPURL-attached Session never owned the browser, so Close
// disconnects without sending it a close command.
func (s *Session) Close() error {
	var err error
	if s.browser != nil && !s.attached {
		err = s.browser.Close()
	}
	if s.ownsDir && s.userDataDir != "" {
		_ = os.RemoveAll(s.userDataDir)
	}
	return err
}

// SessionTTL reports how long a PersistenceSession profile directory may sit
// idle before a caller is expected to clean it up. Exposed so cmd/showrun
// can run a simple periodic sweep of its session-profile scratch directory.
func SessionTTL() time.Duration {
	return sessionProfileTTL
}
