package monitor

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	"github.com/cloudedugcp/journald-broker/internal/debounce"
	"github.com/cloudedugcp/journald-broker/internal/journal"
	"github.com/cloudedugcp/journald-broker/internal/logging"
	"github.com/cloudedugcp/journald-broker/internal/metrics"
	"github.com/cloudedugcp/journald-broker/internal/rules"
	"github.com/cloudedugcp/journald-broker/internal/script"
)

const readyStatus = "Start monitor journal message..."

// Launcher queues scripts for execution.
type Launcher interface {
	Add(s *script.Script) error
}

// Notifier sends a state line such as "READY=1" to the service manager.
// It reports whether the notification was delivered.
type Notifier interface {
	Notify(state string) (bool, error)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(state string) (bool, error)

func (f NotifierFunc) Notify(state string) (bool, error) { return f(state) }

// Systemd notifies through $NOTIFY_SOCKET.
var Systemd = NotifierFunc(func(state string) (bool, error) {
	return daemon.SdNotify(false, state)
})

// Config holds what the Monitor watches for.
type Config struct {
	// Filters are FIELD=value journal matches.
	Filters []string
	Rules   *rules.RuleSet
}

// Monitor reads new journal entries and queues the scripts of every event
// whose pattern matches.
type Monitor struct {
	config   Config
	launcher Launcher
	open     journal.Opener
	notifier Notifier
	logger   *slog.Logger
	now      func() time.Time
	ready    atomic.Bool
}

// Option configures a Monitor.
type Option func(*Monitor)

// WithOpener replaces journal.Open.
func WithOpener(open journal.Opener) Option {
	return func(m *Monitor) { m.open = open }
}

// WithNotifier replaces the systemd notifier.
func WithNotifier(n Notifier) Option {
	return func(m *Monitor) { m.notifier = n }
}

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(m *Monitor) { m.logger = logger }
}

// WithClock replaces time.Now for next watch delays.
func WithClock(now func() time.Time) Option {
	return func(m *Monitor) { m.now = now }
}

// New creates a Monitor.
func New(config Config, launcher Launcher, opts ...Option) *Monitor {
	m := &Monitor{
		config:   config,
		launcher: launcher,
		open:     journal.Open,
		notifier: Systemd,
		logger:   slog.Default(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Ready reports whether the monitor has reached the read loop.
func (m *Monitor) Ready() bool { return m.ready.Load() }

// Watch opens the journal and processes new entries until the journal
// fails or ctx is cancelled. It only returns with an error.
func (m *Monitor) Watch(ctx context.Context) error {
	// All kinds (system + user) of local journal.
	j, err := m.open(journal.Options{LocalOnly: true, RuntimeOnly: false, AllNamespaces: true})
	if err != nil {
		return err
	}
	defer j.Close()

	if err := m.addFilters(j); err != nil {
		return err
	}

	// Only entries appended from now on are of interest.
	if err := j.SeekTail(); err != nil {
		return err
	}
	if err := j.StepToMostRecent(); err != nil {
		return err
	}

	m.notifyReady()
	m.ready.Store(true)
	defer m.ready.Store(false)

	delays := make([]time.Duration, m.config.Rules.Len())
	for i, rule := range m.config.Rules.Rules() {
		delays[i] = rule.Delay
	}
	debouncer := debounce.New(delays, debounce.WithClock(m.now))

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		rec, err := j.Next()
		if err != nil {
			return err
		}
		for rec == nil {
			rec, err = j.Await(ctx, journal.NoTimeout)
			if err != nil {
				return err
			}
		}

		metrics.RecordsTotal.Inc()
		m.process(ctx, debouncer, rec)
	}
}

func (m *Monitor) addFilters(j journal.Journal) error {
	for _, filter := range m.config.Filters {
		field, value, ok := parseFilter(filter)
		if !ok {
			m.logger.Warn("Incorrect filter format", "filter", filter)
			continue
		}
		m.logger.Debug("Add filter", "filter", filter)
		if err := j.AddMatch(field, value); err != nil {
			return err
		}
	}
	return nil
}

// parseFilter splits FIELD=value. Anything but exactly one '=' is rejected.
func parseFilter(filter string) (field, value string, ok bool) {
	parts := strings.Split(filter, "=")
	if len(parts) != 2 {
		return "", "", false
	}
	return parts[0], parts[1], true
}

func (m *Monitor) notifyReady() {
	for _, state := range []string{"READY=1", "STATUS=" + readyStatus} {
		sent, err := m.notifier.Notify(state)
		switch {
		case err != nil:
			m.logger.Error("Cannot notify systemd", "state", state, "error", err)
		case !sent:
			m.logger.Warn("Cannot notify systemd", "state", state)
		}
	}
	m.logger.Info(readyStatus)
}

func (m *Monitor) process(ctx context.Context, debouncer *debounce.Debouncer, rec journal.Record) {
	msg, ok := rec.Message()
	if !ok {
		return
	}
	m.logger.Log(ctx, logging.LevelTrace, "Journal entry", "message", msg)

	for _, i := range m.config.Rules.Match(msg) {
		m.respond(debouncer, i, msg, rec)
	}
}

func (m *Monitor) respond(debouncer *debounce.Debouncer, i int, msg string, rec journal.Record) {
	rule := m.config.Rules.Rule(i)
	metrics.MatchesTotal.WithLabelValues(rule.Name).Inc()

	if !debouncer.Admit(i) {
		m.logger.Debug("Skip event, it is still in next watch delay", "event", rule.Name)
		metrics.SuppressedTotal.WithLabelValues(rule.Name).Inc()
		return
	}

	m.logger.Info("Found event, try to execute script", "event", rule.Name, "message", msg, "script", rule.Script)

	entry, err := json.Marshal(rec)
	if err != nil {
		m.logger.Warn("Failed to serialize journal entry", "event", rule.Name, "error", err)
		return
	}

	s := script.New(rule.Name, rule.Script, rule.Timeout, true)
	s.AddEnv(script.Message(msg))
	s.AddEnv(script.JSON(string(entry)))
	s.AddEnv(script.Custom("EVENT", rule.Name))
	s.AddEnv(script.Custom("ID", s.ID))

	if err := m.launcher.Add(s); err != nil {
		m.logger.Warn("Failed to queue script", "event", rule.Name, "script", rule.Script, "error", err)
		return
	}
	metrics.DispatchedTotal.WithLabelValues(rule.Name).Inc()
}
