package session

import (
	"sync"

	"github.com/jackc/pgx/v5/pgconn"

	"pgdial/internal/metrics"
	"pgdial/util"
)

// DefaultNotificationBuffer is the notification queue depth used when
// NewEvents is given zero.
const DefaultNotificationBuffer = 64

// Notification is one asynchronous NOTIFY delivered by the server.
type Notification struct {
	PID     uint32
	Channel string
	Payload string
}

// Events collects what the server sends outside of request replies.
// It must be installed on the pgconn.Config before connecting, since
// the server may send notices during startup.
type Events struct {
	mu            sync.Mutex
	logger        *util.Logger
	metrics       *metrics.Collector
	notifications chan Notification
	closed        bool
}

// NewEvents returns an Events with a notification queue of the given
// depth.
func NewEvents(buffer int, logger *util.Logger) *Events {
	if buffer <= 0 {
		buffer = DefaultNotificationBuffer
	}
	if logger == nil {
		logger = util.NewLogger(0)
	}
	return &Events{logger: logger, notifications: make(chan Notification, buffer)}
}

// Install hooks the events into cfg.
func (e *Events) Install(cfg *pgconn.Config) {
	cfg.OnNotice = func(_ *pgconn.PgConn, n *pgconn.Notice) {
		e.notice(n)
	}
	cfg.OnNotification = func(_ *pgconn.PgConn, n *pgconn.Notification) {
		e.notify(Notification{PID: n.PID, Channel: n.Channel, Payload: n.Payload})
	}
}

// bind attaches the connection's scoped logger and metrics.
func (e *Events) bind(l *util.Logger, m *metrics.Collector) {
	e.mu.Lock()
	e.logger = l
	e.metrics = m
	e.mu.Unlock()
}

func (e *Events) notice(n *pgconn.Notice) {
	e.mu.Lock()
	l := e.logger
	e.mu.Unlock()
	l.Info("%s: %s", n.Severity, n.Message)
}

func (e *Events) notify(n Notification) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}
	e.metrics.Notification()
	select {
	case e.notifications <- n:
	default:
		e.logger.Warn("notification queue full, dropping %q on channel %q", n.Payload, n.Channel)
	}
}

func (e *Events) close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.closed {
		e.closed = true
		close(e.notifications)
	}
}
