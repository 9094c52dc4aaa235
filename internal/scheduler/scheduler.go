// Package scheduler sends the fixed message on a repeating interval once the
// user has signed in.
//
// Every tick is independent: the token is fetched from the token manager, one
// message is sent, and the outcome is logged. Failures never stop the
// schedule.
package scheduler

import (
	"context"
	stderrors "errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"sendmail-oauth2/internal/circuitbreaker"
	"sendmail-oauth2/internal/common/errors"
	"sendmail-oauth2/internal/common/logging"
	"sendmail-oauth2/internal/common/utils"
	"sendmail-oauth2/internal/graph"
)

// DefaultInterval is the period between scheduled sends
const DefaultInterval = time.Minute

// TokenSource hands out a usable access token
type TokenSource interface {
	EnsureAccessToken(ctx context.Context) (string, error)
}

// Mailer delivers one message with a bearer token
type Mailer interface {
	SendMail(ctx context.Context, accessToken string, msg graph.Message) error
}

// Config holds the scheduler settings
type Config struct {
	Recipient string
	Interval  time.Duration
	Policy    Policy
}

// Status is a snapshot of the scheduler for the status endpoint
type Status struct {
	Running      bool       `json:"running"`
	Interval     string     `json:"interval"`
	Recipient    string     `json:"recipient"`
	NextRun      *time.Time `json:"next_run,omitempty"`
	LastAttempt  *time.Time `json:"last_attempt,omitempty"`
	LastSuccess  *time.Time `json:"last_success,omitempty"`
	LastError    string     `json:"last_error,omitempty"`
	SentCount    int        `json:"sent_count"`
	FailedCount  int        `json:"failed_count"`
	SkippedCount int        `json:"skipped_count"`
	BreakerState string     `json:"breaker_state,omitempty"`
	BreakerOpen  bool       `json:"breaker_open"`
}

// Scheduler runs the send loop on a cron runner
type Scheduler struct {
	tokens  TokenSource
	mailer  Mailer
	config  Config
	breaker *circuitbreaker.GoBreakerAdapter
	logger  logging.Logger

	mu      sync.Mutex
	cron    *cron.Cron
	entryID cron.EntryID
	running bool
	status  Status
}

// New creates a stopped Scheduler
func New(tokens TokenSource, mailer Mailer, config Config, logger logging.Logger) (*Scheduler, error) {
	if tokens == nil || mailer == nil {
		return nil, errors.ValidationError("token source and mailer are required")
	}
	if config.Recipient == "" {
		return nil, errors.ValidationError("recipient is required")
	}
	if config.Interval == 0 {
		config.Interval = DefaultInterval
	}
	if config.Interval < time.Second {
		return nil, errors.ValidationError(fmt.Sprintf("interval must be at least 1s, got %s", config.Interval))
	}
	if config.Policy.MaxAttempts < 1 {
		config.Policy.MaxAttempts = 1
	}
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}
	logger = logger.WithFields(logging.Field{Key: "component", Value: "scheduler"})

	s := &Scheduler{
		tokens: tokens,
		mailer: mailer,
		config: config,
		logger: logger,
	}
	if config.Policy.BreakerEnabled {
		s.breaker = circuitbreaker.NewGoBreaker("sendmail", circuitbreaker.SendConfig, logger)
	}
	return s, nil
}

// Start performs one send straight away and then schedules a send every
// interval. The first send makes a single attempt whatever the policy, so a
// caller waiting on Start is not held up by retries. Calling Start on a
// running scheduler logs a warning and does nothing else.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		s.logger.Warn("Scheduler already running, ignoring start")
		return nil
	}

	cl := cronLogger{logger: s.logger}
	c := cron.New(cron.WithLogger(cl), cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)))
	id, err := c.AddFunc(fmt.Sprintf("@every %s", s.config.Interval), func() {
		s.SendOnce(context.Background())
	})
	if err != nil {
		s.mu.Unlock()
		return errors.InternalError("failed to schedule send", err)
	}

	s.cron = c
	s.entryID = id
	s.running = true
	s.status.Running = true
	s.mu.Unlock()

	s.logger.Info("Scheduler started",
		logging.Field{Key: "interval", Value: s.config.Interval.String()},
		logging.Field{Key: "recipient", Value: s.config.Recipient},
	)

	s.tick(ctx, utils.SingleAttempt())

	// Stop may have run during the first send; the runner then stays idle
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cron != c {
		s.logger.Info("Scheduler stopped before the first tick")
		return nil
	}
	c.Start()
	return nil
}

// SendOnce runs one tick. It never returns an error; every outcome is logged
// and recorded in Status.
func (s *Scheduler) SendOnce(ctx context.Context) {
	s.tick(ctx, s.config.Policy.retryConfig())
}

func (s *Scheduler) tick(ctx context.Context, retry utils.RetryConfig) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("Scheduled send panicked", fmt.Errorf("%v", r))
		}
	}()

	skipped, err := s.send(ctx, retry)
	switch {
	case err == nil:
	case skipped:
		s.logger.Warn("Skipping scheduled send", logging.Field{Key: "error", Value: err.Error()})
	case stderrors.Is(err, circuitbreaker.ErrOpen):
		s.logger.Warn("Skipping scheduled send, circuit breaker open",
			logging.Field{Key: "breaker", Value: s.breaker.Name()},
		)
	default:
		s.logger.Error("Scheduled send failed", err,
			logging.Field{Key: "recipient", Value: s.config.Recipient},
			logging.Field{Key: "error_type", Value: string(errors.GetType(err))},
		)
	}
}

// Send fetches a token and sends the fixed message once, subject to the
// policy. The error is returned to the caller.
func (s *Scheduler) Send(ctx context.Context) error {
	_, err := s.send(ctx, s.config.Policy.retryConfig())
	return err
}

// send reports skipped when no token could be obtained and nothing was sent
func (s *Scheduler) send(ctx context.Context, retry utils.RetryConfig) (bool, error) {
	started := time.Now()
	s.recordAttempt(started)

	token, err := s.tokens.EnsureAccessToken(ctx)
	if err != nil {
		s.recordSkipped(err)
		return true, err
	}

	msg := graph.FixedMessage(s.config.Recipient)
	send := func() error {
		return s.mailer.SendMail(ctx, token, msg)
	}
	if s.breaker != nil {
		guarded := send
		send = func() error {
			return s.breaker.Execute(ctx, guarded)
		}
	}

	if err := utils.RetryWithBackoff(ctx, retry, send); err != nil {
		s.recordFailure(err)
		return false, err
	}

	sentAt := time.Now()
	s.recordSuccess(sentAt)
	s.logger.Info("Email sent",
		logging.Field{Key: "recipient", Value: s.config.Recipient},
		logging.Field{Key: "sent_at", Value: sentAt.Format(time.RFC3339)},
		logging.Field{Key: "duration", Value: sentAt.Sub(started).String()},
	)
	return false, nil
}

// Stop halts the cron runner and waits up to ctx for a running tick
func (s *Scheduler) Stop(ctx context.Context) {
	s.mu.Lock()
	c := s.cron
	s.cron = nil
	s.running = false
	s.status.Running = false
	s.mu.Unlock()

	if c == nil {
		return
	}

	select {
	case <-c.Stop().Done():
		s.logger.Info("Scheduler stopped")
	case <-ctx.Done():
		s.logger.Warn("Scheduler stop timed out waiting for a running send")
	}
}

// Running reports whether Start has been called and Stop has not
func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Status returns a snapshot of the scheduler state
func (s *Scheduler) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	status := s.status
	status.Interval = s.config.Interval.String()
	status.Recipient = s.config.Recipient
	if s.cron != nil {
		if next := s.cron.Entry(s.entryID).Next; !next.IsZero() {
			status.NextRun = &next
		}
	}
	if s.breaker != nil {
		status.BreakerState = s.breaker.State().String()
		status.BreakerOpen = s.breaker.IsOpen()
	}
	return status
}

func (s *Scheduler) recordAttempt(at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status.LastAttempt = &at
}

func (s *Scheduler) recordSuccess(at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status.LastSuccess = &at
	s.status.LastError = ""
	s.status.SentCount++
}

func (s *Scheduler) recordFailure(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status.LastError = err.Error()
	s.status.FailedCount++
}

func (s *Scheduler) recordSkipped(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status.LastError = err.Error()
	s.status.SkippedCount++
}

// cronLogger routes cron's own messages to our logger
type cronLogger struct {
	logger logging.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug("cron: "+msg, kvFields(keysAndValues)...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error("cron: "+msg, err, kvFields(keysAndValues)...)
}

func kvFields(keysAndValues []interface{}) []logging.Field {
	fields := make([]logging.Field, 0, len(keysAndValues)/2)
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		key, ok := keysAndValues[i].(string)
		if !ok {
			key = fmt.Sprint(keysAndValues[i])
		}
		fields = append(fields, logging.Field{Key: key, Value: keysAndValues[i+1]})
	}
	return fields
}
