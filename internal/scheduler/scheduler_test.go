package scheduler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"sendmail-oauth2/internal/common/errors"
	"sendmail-oauth2/internal/common/logging"
	"sendmail-oauth2/internal/graph"
	"sendmail-oauth2/internal/oauth2"
	"sendmail-oauth2/internal/testutil"
)

type fakeTokens struct {
	calls atomic.Int32
	token string
	err   error
}

func (f *fakeTokens) EnsureAccessToken(ctx context.Context) (string, error) {
	f.calls.Add(1)
	return f.token, f.err
}

type fakeMailer struct {
	mu     sync.Mutex
	tokens []string
	errs   []error
}

func (f *fakeMailer) SendMail(ctx context.Context, accessToken string, msg graph.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tokens = append(f.tokens, accessToken)
	if len(f.errs) == 0 {
		return nil
	}
	err := f.errs[0]
	if len(f.errs) > 1 {
		f.errs = f.errs[1:]
	}
	return err
}

func (f *fakeMailer) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.tokens)
}

func newTestScheduler(t *testing.T, tokens TokenSource, mailer Mailer, policy Policy) (*Scheduler, *testutil.RecordingLogger) {
	t.Helper()
	logger := testutil.NewRecordingLogger()
	s, err := New(tokens, mailer, Config{
		Recipient: "someone@example.com",
		Interval:  time.Minute,
		Policy:    policy,
	}, logger)
	require.NoError(t, err)
	return s, logger
}

func TestNew_Validation(t *testing.T) {
	tokens := &fakeTokens{}
	mailer := &fakeMailer{}

	_, err := New(nil, mailer, Config{Recipient: "a@example.com"}, nil)
	assert.True(t, errors.IsType(err, errors.ErrTypeValidation))

	_, err = New(tokens, mailer, Config{}, nil)
	assert.True(t, errors.IsType(err, errors.ErrTypeValidation))

	_, err = New(tokens, mailer, Config{Recipient: "a@example.com", Interval: 500 * time.Millisecond}, nil)
	assert.True(t, errors.IsType(err, errors.ErrTypeValidation))

	s, err := New(tokens, mailer, Config{Recipient: "a@example.com"}, testutil.NewRecordingLogger())
	require.NoError(t, err)
	assert.Equal(t, DefaultInterval, s.config.Interval)
	assert.Equal(t, 1, s.config.Policy.MaxAttempts)
	assert.Nil(t, s.breaker)
}

func TestSendOnce_Success(t *testing.T) {
	tokens := &fakeTokens{token: "AT1"}
	mailer := &fakeMailer{}
	s, logger := newTestScheduler(t, tokens, mailer, DefaultPolicy())

	s.SendOnce(context.Background())

	assert.Equal(t, 1, mailer.calls())
	sent := logger.Find("Email sent")
	require.Len(t, sent, 1)
	assert.Equal(t, logging.InfoLevel, sent[0].Level)
	assert.NotEmpty(t, sent[0].Fields["sent_at"])

	status := s.Status()
	assert.Equal(t, 1, status.SentCount)
	assert.NotNil(t, status.LastSuccess)
	assert.Empty(t, status.LastError)
}

func TestSendOnce_SkipsWhenNoToken(t *testing.T) {
	tokens := &fakeTokens{err: errors.AuthError("no refresh token", nil)}
	mailer := &fakeMailer{}
	s, logger := newTestScheduler(t, tokens, mailer, DefaultPolicy())

	assert.NotPanics(t, func() { s.SendOnce(context.Background()) })

	assert.Equal(t, 0, mailer.calls())
	assert.Len(t, logger.Find("Skipping scheduled send"), 1)
	assert.Equal(t, 1, s.Status().SkippedCount)
	assert.Contains(t, s.Status().LastError, "no refresh token")
}

func TestSendOnce_SwallowsSendFailure(t *testing.T) {
	tokens := &fakeTokens{token: "AT1"}
	mailer := &fakeMailer{errs: []error{errors.SendError("sendMail failed with status 500", nil)}}
	s, logger := newTestScheduler(t, tokens, mailer, DefaultPolicy())

	s.SendOnce(context.Background())
	s.SendOnce(context.Background())

	assert.Equal(t, 2, mailer.calls(), "one attempt per tick")
	failures := logger.Find("Scheduled send failed")
	require.Len(t, failures, 2)
	assert.Equal(t, logging.ErrorLevel, failures[0].Level)
	assert.Error(t, failures[0].Err)
	assert.Equal(t, "send", failures[0].Fields["error_type"])
	assert.Equal(t, 2, s.Status().FailedCount)
}

func TestSendOnce_RecoversFromPanic(t *testing.T) {
	s, logger := newTestScheduler(t, &fakeTokens{token: "AT1"}, panicMailer{}, DefaultPolicy())

	assert.NotPanics(t, func() { s.SendOnce(context.Background()) })
	assert.Len(t, logger.Find("Scheduled send panicked"), 1)
}

type panicMailer struct{}

func (panicMailer) SendMail(ctx context.Context, accessToken string, msg graph.Message) error {
	panic("boom")
}

func TestSend_ReturnsError(t *testing.T) {
	mailer := &fakeMailer{errs: []error{errors.SendError("rejected", nil)}}
	s, _ := newTestScheduler(t, &fakeTokens{token: "AT1"}, mailer, DefaultPolicy())

	err := s.Send(context.Background())
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrTypeSend))
}

func TestSend_RetriesPerPolicy(t *testing.T) {
	mailer := &fakeMailer{errs: []error{
		errors.SendError("first", nil),
		errors.SendError("second", nil),
		nil,
	}}
	policy := Policy{MaxAttempts: 3, InitialDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond, BackoffFactor: 2}
	tokens := &fakeTokens{token: "AT1"}
	s, _ := newTestScheduler(t, tokens, mailer, policy)

	require.NoError(t, s.Send(context.Background()))
	assert.Equal(t, 3, mailer.calls())
	assert.Equal(t, int32(1), tokens.calls.Load(), "token is fetched once per tick")
}

func TestSend_BreakerOpensAfterRepeatedFailures(t *testing.T) {
	mailer := &fakeMailer{errs: []error{errors.SendError("down", nil)}}
	policy := DefaultPolicy()
	policy.BreakerEnabled = true
	s, _ := newTestScheduler(t, &fakeTokens{token: "AT1"}, mailer, policy)

	for i := 0; i < 3; i++ {
		require.Error(t, s.Send(context.Background()))
	}
	assert.Equal(t, "open", s.Status().BreakerState)

	err := s.Send(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "circuit breaker is open")
	assert.Equal(t, 3, mailer.calls())
	assert.True(t, s.Status().BreakerOpen)
}

func TestSendOnce_BreakerOpenIsLoggedAsSkip(t *testing.T) {
	mailer := &fakeMailer{errs: []error{errors.SendError("down", nil)}}
	policy := DefaultPolicy()
	policy.BreakerEnabled = true
	s, logger := newTestScheduler(t, &fakeTokens{token: "AT1"}, mailer, policy)

	for i := 0; i < 4; i++ {
		s.SendOnce(context.Background())
	}

	assert.Len(t, logger.Find("Scheduled send failed"), 3)
	skipped := logger.Find("Skipping scheduled send, circuit breaker open")
	require.Len(t, skipped, 1)
	assert.Equal(t, "sendmail", skipped[0].Fields["breaker"])
	assert.Equal(t, 3, mailer.calls())
}

func TestStart_SendsImmediatelyAndGuardsSecondStart(t *testing.T) {
	tokens := &fakeTokens{token: "AT1"}
	mailer := &fakeMailer{}
	s, logger := newTestScheduler(t, tokens, mailer, DefaultPolicy())

	require.NoError(t, s.Start(context.Background()))
	defer s.Stop(context.Background())

	assert.Equal(t, 1, mailer.calls())
	assert.True(t, s.Running())
	assert.NotNil(t, s.Status().NextRun)

	require.NoError(t, s.Start(context.Background()))
	assert.Equal(t, 1, mailer.calls(), "second start does not send")
	assert.Len(t, logger.Find("Scheduler already running, ignoring start"), 1)
}

func TestStart_TicksOnInterval(t *testing.T) {
	tokens := &fakeTokens{token: "AT1"}
	mailer := &fakeMailer{}
	s, err := New(tokens, mailer, Config{Recipient: "someone@example.com", Interval: time.Second}, testutil.NewRecordingLogger())
	require.NoError(t, err)

	require.NoError(t, s.Start(context.Background()))
	require.Eventually(t, func() bool { return mailer.calls() >= 3 }, 5*time.Second, 50*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	s.Stop(ctx)

	assert.False(t, s.Running())
	stopped := mailer.calls()
	time.Sleep(1500 * time.Millisecond)
	assert.Equal(t, stopped, mailer.calls(), "no sends after stop")
}

func TestStart_KeepsTickingAfterFailures(t *testing.T) {
	tokens := &fakeTokens{token: "AT1"}
	mailer := &fakeMailer{errs: []error{errors.SendError("sendMail failed with status 503", nil)}}
	logger := testutil.NewRecordingLogger()
	s, err := New(tokens, mailer, Config{Recipient: "someone@example.com", Interval: time.Second}, logger)
	require.NoError(t, err)

	require.NoError(t, s.Start(context.Background()))
	defer s.Stop(context.Background())

	require.Eventually(t, func() bool { return mailer.calls() >= 3 }, 5*time.Second, 50*time.Millisecond)
	assert.GreaterOrEqual(t, len(logger.Find("Scheduled send failed")), 3)
	assert.True(t, s.Running())
	assert.GreaterOrEqual(t, s.Status().FailedCount, 3)
}

func TestStart_FirstSendMakesOneAttempt(t *testing.T) {
	mailer := &fakeMailer{errs: []error{errors.SendError("sendMail failed with status 500", nil)}}
	policy := Policy{MaxAttempts: 3, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond}
	s, _ := newTestScheduler(t, &fakeTokens{token: "AT1"}, mailer, policy)

	require.NoError(t, s.Start(context.Background()))
	defer s.Stop(context.Background())
	assert.Equal(t, 1, mailer.calls())

	s.SendOnce(context.Background())
	assert.Equal(t, 4, mailer.calls(), "scheduled ticks follow the policy")
}

// gatedMailer blocks its first call until release is closed
type gatedMailer struct {
	fakeMailer
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func (g *gatedMailer) SendMail(ctx context.Context, accessToken string, msg graph.Message) error {
	first := false
	g.once.Do(func() { first = true })
	if first {
		close(g.entered)
		<-g.release
	}
	return g.fakeMailer.SendMail(ctx, accessToken, msg)
}

func TestStop_DuringFirstSendPreventsTicks(t *testing.T) {
	mailer := &gatedMailer{entered: make(chan struct{}), release: make(chan struct{})}
	s, err := New(&fakeTokens{token: "AT1"}, mailer, Config{Recipient: "someone@example.com", Interval: time.Second}, testutil.NewRecordingLogger())
	require.NoError(t, err)

	started := make(chan error, 1)
	go func() { started <- s.Start(context.Background()) }()

	<-mailer.entered
	s.Stop(context.Background())
	close(mailer.release)
	require.NoError(t, <-started)

	assert.False(t, s.Running())
	time.Sleep(2500 * time.Millisecond)
	assert.Equal(t, 1, mailer.calls(), "no ticks after stop")

	require.NoError(t, s.Start(context.Background()))
	defer s.Stop(context.Background())
	assert.True(t, s.Running())
	assert.Equal(t, 2, mailer.calls())
}

func TestStop_NotStarted(t *testing.T) {
	s, _ := newTestScheduler(t, &fakeTokens{}, &fakeMailer{}, DefaultPolicy())
	assert.NotPanics(t, func() { s.Stop(context.Background()) })
}

// graphStub counts sendMail calls and answers with the queued statuses
type graphStub struct {
	server   *httptest.Server
	calls    atomic.Int32
	mu       sync.Mutex
	auth     []string
	statuses []int
}

func newGraphStub(t *testing.T, statuses ...int) *graphStub {
	t.Helper()
	g := &graphStub{statuses: statuses}
	g.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := int(g.calls.Add(1))
		g.mu.Lock()
		g.auth = append(g.auth, r.Header.Get("Authorization"))
		status := http.StatusAccepted
		if n <= len(g.statuses) {
			status = g.statuses[n-1]
		}
		g.mu.Unlock()

		if status == http.StatusUnauthorized {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(status)
			_, _ = w.Write([]byte(`{"error":{"code":"InvalidAuthenticationToken","message":"Access token has expired or is not yet valid."}}`))
			return
		}
		w.WriteHeader(status)
	}))
	t.Cleanup(g.server.Close)
	return g
}

func (g *graphStub) authHeaders() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string(nil), g.auth...)
}

func newTokenStub(t *testing.T, calls *atomic.Int32) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(oauth2.TokenResponse{AccessToken: "AT1", RefreshToken: "RT1", TokenType: "Bearer"})
	}))
	t.Cleanup(server.Close)
	return server
}

func newManager(t *testing.T, tokenURL string) *oauth2.Manager {
	t.Helper()
	m, err := oauth2.NewManager(oauth2.Config{
		ClientID:     "client",
		ClientSecret: "secret",
		TokenURL:     tokenURL,
		RedirectURL:  "http://localhost:3000/redirect",
		Scopes:       []string{"https://graph.microsoft.com/Mail.Send", "offline_access"},
	}, oauth2.WithLogger(testutil.NewRecordingLogger()))
	require.NoError(t, err)
	return m
}

func TestSendOnce_AfterExchangeUsesBearerToken(t *testing.T) {
	var tokenCalls atomic.Int32
	manager := newManager(t, newTokenStub(t, &tokenCalls).URL)
	g := newGraphStub(t)

	_, err := manager.ExchangeCode(context.Background(), "abc123")
	require.NoError(t, err)

	logger := testutil.NewRecordingLogger()
	s, err := New(manager, graph.NewClient(g.server.URL, graph.WithLogger(logger)), Config{Recipient: "someone@example.com"}, logger)
	require.NoError(t, err)

	s.SendOnce(context.Background())

	assert.Equal(t, int32(1), g.calls.Load())
	assert.Equal(t, []string{"Bearer AT1"}, g.authHeaders())
	assert.Equal(t, int32(1), tokenCalls.Load(), "held token is used without refresh")
}

func TestSendOnce_UnauthorizedLeavesTokensUnchanged(t *testing.T) {
	var tokenCalls atomic.Int32
	manager := newManager(t, newTokenStub(t, &tokenCalls).URL)
	g := newGraphStub(t, http.StatusUnauthorized)

	_, err := manager.ExchangeCode(context.Background(), "abc123")
	require.NoError(t, err)

	logger := testutil.NewRecordingLogger()
	s, err := New(manager, graph.NewClient(g.server.URL, graph.WithLogger(logger)), Config{Recipient: "someone@example.com"}, logger)
	require.NoError(t, err)

	s.SendOnce(context.Background())

	failures := logger.Find("Scheduled send failed")
	require.Len(t, failures, 1)
	assert.Contains(t, failures[0].Err.Error(), "InvalidAuthenticationToken")
	assert.Equal(t, oauth2.TokenState{AccessToken: "AT1", RefreshToken: "RT1"}, manager.Tokens())

	s.SendOnce(context.Background())

	assert.Equal(t, int32(2), g.calls.Load())
	assert.Equal(t, []string{"Bearer AT1", "Bearer AT1"}, g.authHeaders())
	assert.Equal(t, int32(1), tokenCalls.Load(), "no refresh on 401")
}

func TestSendOnce_NothingHeldMakesNoCalls(t *testing.T) {
	var tokenCalls atomic.Int32
	manager := newManager(t, newTokenStub(t, &tokenCalls).URL)
	g := newGraphStub(t)

	logger := testutil.NewRecordingLogger()
	s, err := New(manager, graph.NewClient(g.server.URL), Config{Recipient: "someone@example.com"}, logger)
	require.NoError(t, err)

	s.SendOnce(context.Background())

	assert.Equal(t, int32(0), tokenCalls.Load())
	assert.Equal(t, int32(0), g.calls.Load())
	assert.Len(t, logger.Find("Skipping scheduled send"), 1)
}

func TestPolicy_RetryConfig(t *testing.T) {
	assert.Equal(t, 1, DefaultPolicy().retryConfig().MaxAttempts)

	cfg := Policy{MaxAttempts: 3, InitialDelay: time.Second}.retryConfig()
	assert.Equal(t, 3, cfg.MaxAttempts)
	assert.Equal(t, time.Second, cfg.InitialDelay)
	assert.Equal(t, 30*time.Second, cfg.MaxDelay, "unset fields keep the default backoff")

	capped := Policy{MaxAttempts: 2, InitialDelay: time.Minute, MaxDelay: time.Second}.retryConfig()
	assert.Equal(t, time.Minute, capped.MaxDelay)
	assert.Equal(t, 2.0, cfg.BackoffFactor)
	require.NotNil(t, cfg.RetryableErrors)
	assert.False(t, cfg.RetryableErrors(errors.AuthError("expired", nil)))
	assert.True(t, cfg.RetryableErrors(errors.SendError("500", nil)))
}

func TestKVFields(t *testing.T) {
	fields := kvFields([]interface{}{"entry", 1, "next", "soon", "dangling"})
	assert.Equal(t, []logging.Field{{Key: "entry", Value: 1}, {Key: "next", Value: "soon"}}, fields)
}
