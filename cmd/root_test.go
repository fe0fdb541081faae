// File: cmd/root_test.go
package cmd

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xkilldash9x/courier-cli/internal/browser"
	"github.com/xkilldash9x/courier-cli/internal/config"
	"github.com/xkilldash9x/courier-cli/internal/failure"
	"github.com/xkilldash9x/courier-cli/internal/observability"
	"github.com/xkilldash9x/courier-cli/internal/sessionstore"
	"github.com/xkilldash9x/courier-cli/internal/workflow"
)

// testEnv is a scratch directory holding a config file that points every path
// into it and shrinks every wait.
type testEnv struct {
	dir        string
	configPath string
	sessionDir string
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	observability.ResetForTest()
	t.Cleanup(observability.ResetForTest)

	dir := t.TempDir()
	env := &testEnv{
		dir:        dir,
		configPath: filepath.Join(dir, "courier.yaml"),
		sessionDir: filepath.Join(dir, "sessions"),
	}
	yaml := fmt.Sprintf(`logger:
  level: error
session:
  dir: %s
artifacts:
  dir: %s
timeouts:
  element: 100ms
  delivery: 100ms
  attempt: 100ms
  steady_state: 100ms
  bootstrap: 200ms
  settle: 0s
  click_settle: 0s
  post_navigation_settle: 0s
  poll_interval: 10ms
retry:
  delay: 1ms
`, env.sessionDir, filepath.Join(dir, "artifacts"))
	require.NoError(t, os.WriteFile(env.configPath, []byte(yaml), 0o600))
	return env
}

func (e *testEnv) run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := NewRootCommand()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(append([]string{"--config", e.configPath, "--env-file", ""}, args...))
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func (e *testEnv) seedSession(t *testing.T, modTime time.Time) {
	t.Helper()
	store := sessionstore.New(config.SessionConfig{Dir: e.sessionDir, MaxAge: 24 * time.Hour}, nil, nil)
	path := store.Path("whatsapp")
	state := &browser.StorageState{Cookies: []browser.Cookie{{Name: "wa_ul", Value: "abc", Domain: ".whatsapp.com", Path: "/", Expires: -1}}}
	require.NoError(t, store.Save(path, &sessionstore.Record{Identity: "whatsapp", CreatedAt: modTime, State: state}))
	require.NoError(t, os.Chtimes(path, modTime, modTime))
}

// stubPage is a logged-in client that knows one conversation and renders every
// sent message.
type stubPage struct {
	mu       sync.Mutex
	visible  map[string]bool
	composed string
	// closed makes every check fail the way chromedp does once the tab is gone.
	closed bool
}

func newStubPage(conversation string, closed bool) *stubPage {
	p := &stubPage{visible: make(map[string]bool), closed: closed}
	for _, sel := range []string{
		`div[role="list"]`,
		`div[contenteditable="true"][data-tab="3"]`,
		`div[contenteditable="true"][data-tab="10"]`,
		browser.Attr("span", "title", conversation).String(),
	} {
		p.visible[sel] = true
	}
	return p
}

func (p *stubPage) Visible(ctx context.Context, sel browser.Selector) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if p.closed {
		return false, context.Canceled
	}
	return p.visible[sel.String()], nil
}

func (p *stubPage) Click(context.Context, browser.Selector) error { return nil }

func (p *stubPage) Fill(_ context.Context, _ browser.Selector, text string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.composed = text
	return nil
}

func (p *stubPage) PressEnter(context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.visible[browser.ContainsText("span", p.composed).String()] = true
	return nil
}

func (p *stubPage) Screenshot(context.Context) ([]byte, error) { return []byte("\x89PNG"), nil }

func (p *stubPage) Navigate(context.Context, string) error { return nil }

func (p *stubPage) CaptureStorage(context.Context) (*browser.StorageState, error) {
	return &browser.StorageState{}, nil
}

func (p *stubPage) Close() {}

type stubOpener struct {
	conversation string
	tabClosed    bool
}

func (o stubOpener) OpenPage(context.Context, *browser.StorageState) (workflow.PageSession, error) {
	return newStubPage(o.conversation, o.tabClosed), nil
}

// stubBrowser swaps launchBrowser for the duration of the test and records the
// configuration it was launched with.
type stubBrowser struct {
	cfg       config.Interface
	closed    bool
	closeErr  error
	tabClosed bool
}

func installStubBrowser(t *testing.T, conversation string) *stubBrowser {
	t.Helper()
	sb := &stubBrowser{}
	orig := launchBrowser
	launchBrowser = func(_ context.Context, cfg config.Interface, _ *zap.Logger) (workflow.PageOpener, func() error, error) {
		sb.cfg = cfg
		return stubOpener{conversation: conversation, tabClosed: sb.tabClosed}, func() error {
			sb.closed = true
			return sb.closeErr
		}, nil
	}
	t.Cleanup(func() { launchBrowser = orig })
	return sb
}

func TestRootCmd_VersionFlag(t *testing.T) {
	env := newTestEnv(t)
	out, err := env.run(t, "--version")
	require.NoError(t, err)
	assert.Contains(t, out, "courier version dev")
}

func TestVersionCmd(t *testing.T) {
	env := newTestEnv(t)
	out, err := env.run(t, "version")
	require.NoError(t, err)
	assert.Equal(t, "courier version dev\n", out)
}

func TestRootCmd_NoArgs(t *testing.T) {
	env := newTestEnv(t)
	out, err := env.run(t)
	require.NoError(t, err)
	assert.Contains(t, out, "Courier sends messages")
}

func TestConfigCmd(t *testing.T) {
	t.Run("PrintsEffectiveConfig", func(t *testing.T) {
		env := newTestEnv(t)
		out, err := env.run(t, "config")
		require.NoError(t, err)
		assert.Contains(t, out, "identity: whatsapp")
		assert.Contains(t, out, "max_age: 24h0m0s")
		assert.Contains(t, out, "element: 100ms")
	})

	t.Run("EnvironmentOverridesFile", func(t *testing.T) {
		env := newTestEnv(t)
		t.Setenv("COURIER_SESSION_IDENTITY", "work")
		out, err := env.run(t, "config")
		require.NoError(t, err)
		assert.Contains(t, out, "identity: work")
	})

	t.Run("FlagOverridesEnvironment", func(t *testing.T) {
		env := newTestEnv(t)
		t.Setenv("COURIER_SESSION_IDENTITY", "work")
		out, err := env.run(t, "--identity", "support", "config")
		require.NoError(t, err)
		assert.Contains(t, out, "identity: support")
	})

	t.Run("DotenvFileIsLoaded", func(t *testing.T) {
		env := newTestEnv(t)
		dotenv := filepath.Join(env.dir, "test.env")
		require.NoError(t, os.WriteFile(dotenv, []byte("COURIER_TARGET_URL=https://example.test/\n"), 0o600))
		t.Cleanup(func() { os.Unsetenv("COURIER_TARGET_URL") })

		root := NewRootCommand()
		var out bytes.Buffer
		root.SetOut(&out)
		root.SetArgs([]string{"--config", env.configPath, "--env-file", dotenv, "config"})
		require.NoError(t, root.ExecuteContext(context.Background()))
		assert.Contains(t, out.String(), "url: https://example.test/")
	})

	t.Run("InvalidConfigFails", func(t *testing.T) {
		env := newTestEnv(t)
		t.Setenv("COURIER_RETRY_MAX_ATTEMPTS", "0")
		_, err := env.run(t, "config")
		assert.ErrorContains(t, err, "max_attempts")
	})
}

func TestSendCmd(t *testing.T) {
	t.Run("SendsWithSavedSession", func(t *testing.T) {
		env := newTestEnv(t)
		env.seedSession(t, time.Now())
		sb := installStubBrowser(t, "Team Ops")

		out, err := env.run(t, "send", "--to", "Team Ops", "--message", "hello", "--headless", "--once")
		require.NoError(t, err)
		assert.Contains(t, out, `Sent to "Team Ops": message confirmed`)
		assert.True(t, sb.closed)
		assert.True(t, sb.cfg.Browser().Headless)
		assert.Equal(t, 1, sb.cfg.Retry().MaxAttempts)
		assert.True(t, sb.cfg.Delivery().ConfirmStrict)
	})

	t.Run("MaxAttemptsFlag", func(t *testing.T) {
		env := newTestEnv(t)
		env.seedSession(t, time.Now())
		sb := installStubBrowser(t, "Team Ops")

		_, err := env.run(t, "send", "--to", "Team Ops", "--max-attempts", "5", "--no-confirm")
		require.NoError(t, err)
		assert.Equal(t, 5, sb.cfg.Retry().MaxAttempts)
		assert.False(t, sb.cfg.Delivery().ConfirmStrict)
	})

	t.Run("UnknownConversation", func(t *testing.T) {
		env := newTestEnv(t)
		env.seedSession(t, time.Now())
		sb := installStubBrowser(t, "Team Ops")

		_, err := env.run(t, "send", "--to", "test69", "--message", "hi")
		require.Error(t, err)
		assert.Equal(t, ExitConversationNotFound, ExitCode(err))
		assert.True(t, sb.closed, "the browser is closed on failure too")

		shots, globErr := filepath.Glob(filepath.Join(env.dir, "artifacts", "*.png"))
		require.NoError(t, globErr)
		assert.Len(t, shots, 1)
	})

	t.Run("CloseErrorIsReported", func(t *testing.T) {
		env := newTestEnv(t)
		env.seedSession(t, time.Now())
		sb := installStubBrowser(t, "Team Ops")
		sb.closeErr = errors.New("browser already gone")

		_, err := env.run(t, "send", "--to", "Team Ops", "--message", "hi")
		assert.ErrorContains(t, err, "browser already gone")
	})

	t.Run("HeadlessSendShowsWindowForLogin", func(t *testing.T) {
		env := newTestEnv(t)
		sb := installStubBrowser(t, "Team Ops")

		out, err := env.run(t, "send", "--to", "Team Ops", "--message", "hi", "--headless")
		require.NoError(t, err)
		assert.Contains(t, out, `Sent to "Team Ops"`)
		assert.False(t, sb.cfg.Browser().Headless, "a QR login needs a visible window")
		_, statErr := os.Stat(filepath.Join(env.sessionDir, "whatsapp-state.json"))
		assert.NoError(t, statErr, "the new session is saved")
	})

	t.Run("HeadlessSendStaleSessionShowsWindow", func(t *testing.T) {
		env := newTestEnv(t)
		env.seedSession(t, time.Now().Add(-30*time.Hour))
		sb := installStubBrowser(t, "Team Ops")

		_, err := env.run(t, "send", "--to", "Team Ops", "--message", "hi", "--headless")
		require.NoError(t, err)
		assert.False(t, sb.cfg.Browser().Headless)
	})

	t.Run("ClosedTabIsInfrastructureNotInterrupt", func(t *testing.T) {
		env := newTestEnv(t)
		env.seedSession(t, time.Now())
		sb := installStubBrowser(t, "Team Ops")
		sb.tabClosed = true

		_, err := env.run(t, "send", "--to", "Team Ops", "--message", "hi", "--once")
		require.Error(t, err)
		assert.ErrorIs(t, err, failure.ErrInfrastructure)
		assert.ErrorIs(t, err, browser.ErrTargetClosed)
		assert.Equal(t, ExitError, ExitCode(err))
		assert.True(t, sb.closed)
	})

	t.Run("RequiresRecipient", func(t *testing.T) {
		env := newTestEnv(t)
		installStubBrowser(t, "Team Ops")
		_, err := env.run(t, "send", "--message", "hi")
		assert.ErrorContains(t, err, `required flag(s) "to" not set`)
	})
}

func TestLoginCmd(t *testing.T) {
	env := newTestEnv(t)
	env.seedSession(t, time.Now())
	sb := installStubBrowser(t, "Team Ops")

	out, err := env.run(t, "login", "--force")
	require.NoError(t, err)
	assert.Contains(t, out, "Session saved: "+filepath.Join(env.sessionDir, "whatsapp-state.json"))
	assert.False(t, sb.cfg.Browser().Headless, "login always shows the window")
}

func TestSessionCmds(t *testing.T) {
	t.Run("StatusMissing", func(t *testing.T) {
		env := newTestEnv(t)
		out, err := env.run(t, "session", "status")
		require.NoError(t, err)
		assert.Regexp(t, `state\s+missing`, out)
	})

	t.Run("StatusStale", func(t *testing.T) {
		env := newTestEnv(t)
		env.seedSession(t, time.Now().Add(-30*time.Hour))
		out, err := env.run(t, "session", "status")
		require.NoError(t, err)
		assert.Regexp(t, `state\s+stale`, out)
		assert.Regexp(t, `cookies\s+1`, out)
	})

	t.Run("PruneStale", func(t *testing.T) {
		env := newTestEnv(t)
		env.seedSession(t, time.Now().Add(-30*time.Hour))
		out, err := env.run(t, "session", "prune")
		require.NoError(t, err)
		assert.Contains(t, out, `Removed session for "whatsapp"`)
		_, statErr := os.Stat(filepath.Join(env.sessionDir, "whatsapp-state.json"))
		assert.True(t, errors.Is(statErr, os.ErrNotExist))
		_, statErr = os.Stat(filepath.Join(env.dir, "artifacts"))
		assert.NoError(t, statErr, "maintenance creates the artifact directory")
	})

	t.Run("PruneKeepsFresh", func(t *testing.T) {
		env := newTestEnv(t)
		env.seedSession(t, time.Now())
		out, err := env.run(t, "session", "prune")
		require.NoError(t, err)
		assert.Contains(t, out, "kept")
	})
}

func TestExitCode(t *testing.T) {
	assert.Equal(t, ExitOK, ExitCode(nil))
	assert.Equal(t, ExitInterrupted, ExitCode(fmt.Errorf("send: %w", context.Canceled)))
	assert.Equal(t, ExitNotReady, ExitCode(&failure.Error{Kind: failure.KindNotReady, Attempts: 3}))
	assert.Equal(t, ExitDeliveryFailed, ExitCode(failure.New(failure.KindDeliveryFailed, "confirm-delivery", nil)))
	assert.Equal(t, ExitSessionBootstrapFailed, ExitCode(failure.New(failure.KindSessionBootstrapFailed, "session-bootstrap", nil)))
	assert.Equal(t, ExitError, ExitCode(failure.Infrastructure("navigate", errors.New("net::ERR_FAILED"))))
	assert.Equal(t, ExitError, ExitCode(errors.New("plain")))
	assert.Equal(t, ExitError, ExitCode(failure.New(failure.KindInfrastructure, "probe chat-list", context.Canceled)),
		"a classified failure is never an interrupt")
	assert.Equal(t, ExitNotReady, ExitCode(fmt.Errorf("send: %w", failure.New(failure.KindNotReady, "login-check", context.Canceled))))
}
