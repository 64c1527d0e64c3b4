// Package notify keeps the notification list and unread count, and decides
// when an inbound notification is surfaced to the user.
package notify

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"goflare.io/aegis/internal/clock"
	"goflare.io/aegis/internal/config"
	"goflare.io/aegis/internal/metrics"
	"goflare.io/aegis/internal/models"
)

// Notifier surfaces a notification outside the application, such as an OS
// notification. autoDismiss of zero means the user must dismiss it.
type Notifier interface {
	Show(n models.Notification, autoDismiss time.Duration) error
}

// PermissionSource reports whether the user allowed OS notifications.
type PermissionSource interface {
	Granted() bool
}

// PermissionFunc adapts a function to PermissionSource.
type PermissionFunc func() bool

// Granted calls f.
func (f PermissionFunc) Granted() bool { return f() }

const (
	outcomeReceived   = "received"
	outcomeShown      = "shown"
	outcomeSuppressed = "suppressed"
)

// Dispatcher owns the notification list. It is safe for concurrent use.
type Dispatcher struct {
	mu sync.Mutex
	// items is newest first.
	items  []models.Notification
	unread int
	prefs  models.Preferences

	notifier    Notifier
	permission  PermissionSource
	autoDismiss time.Duration
	location    *time.Location
	clock       clock.Clock
	collector   *metrics.Metrics
	logger      *zap.Logger
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithNotifier sets where surfaced notifications go.
func WithNotifier(n Notifier) Option {
	return func(d *Dispatcher) { d.notifier = n }
}

// WithPermission sets the permission source. Without one, permission is
// treated as denied.
func WithPermission(p PermissionSource) Option {
	return func(d *Dispatcher) { d.permission = p }
}

// WithLocation sets the time zone quiet hours are evaluated in.
func WithLocation(loc *time.Location) Option {
	return func(d *Dispatcher) {
		if loc != nil {
			d.location = loc
		}
	}
}

// WithClock replaces the wall clock.
func WithClock(c clock.Clock) Option {
	return func(d *Dispatcher) {
		if c != nil {
			d.clock = c
		}
	}
}

// WithMetrics reports dispatch outcomes to collector.
func WithMetrics(collector *metrics.Metrics) Option {
	return func(d *Dispatcher) { d.collector = collector }
}

// NewDispatcher creates a Dispatcher using cfg's notification settings.
func NewDispatcher(cfg *config.Config, opts ...Option) *Dispatcher {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	d := &Dispatcher{
		prefs:       cfg.Notifications.Preferences.Clone(),
		autoDismiss: cfg.Notifications.AutoDismiss,
		location:    time.Local,
		clock:       clock.New(),
		logger:      logger,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// OnNotification records an inbound notification and surfaces it when the
// user's preferences allow.
func (d *Dispatcher) OnNotification(n models.Notification) {
	now := d.clock.Now()
	d.mu.Lock()
	n = d.normalize(n, now)
	d.insertLocked(n)
	prefs := d.prefs
	d.mu.Unlock()

	d.collector.Notification(outcomeReceived)

	if reason := d.suppression(n, prefs, now); reason != "" {
		d.collector.Notification(outcomeSuppressed)
		d.logger.Debug("Notification suppressed", zap.String("id", n.ID), zap.String("reason", reason))
		return
	}

	dismiss := d.autoDismiss
	if n.Priority == models.PriorityHigh {
		dismiss = 0
	}
	if err := d.notifier.Show(n, dismiss); err != nil {
		d.logger.Warn("Failed to show notification", zap.Error(err), zap.String("id", n.ID))
		return
	}
	d.collector.Notification(outcomeShown)
}

// suppression returns why n must not be surfaced, or "" if it may be.
func (d *Dispatcher) suppression(n models.Notification, prefs models.Preferences, now time.Time) string {
	if !prefs.For(n.Type).Push {
		return "push disabled"
	}
	if d.notifier == nil {
		return "no notifier"
	}
	if d.permission == nil || !d.permission.Granted() {
		return "permission denied"
	}
	quiet, err := InQuietHours(prefs.QuietHours, now.In(d.location))
	if err != nil {
		d.logger.Warn("Ignoring invalid quiet hours", zap.Error(err))
		return ""
	}
	if quiet {
		return "quiet hours"
	}
	return ""
}

// Add records a locally created notification without surfacing it. A
// missing ID or timestamp is filled in. It returns the stored notification.
func (d *Dispatcher) Add(n models.Notification) models.Notification {
	now := d.clock.Now()
	d.mu.Lock()
	defer d.mu.Unlock()
	n = d.normalize(n, now)
	d.insertLocked(n)
	return n
}

func (d *Dispatcher) normalize(n models.Notification, now time.Time) models.Notification {
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	if n.Timestamp.IsZero() {
		n.Timestamp = now
	}
	if n.Priority == "" {
		n.Priority = models.PriorityNormal
	}
	return n
}

// insertLocked prepends n, replacing an existing notification with the same ID.
func (d *Dispatcher) insertLocked(n models.Notification) {
	d.removeLocked(n.ID)
	d.items = append([]models.Notification{n}, d.items...)
	if !n.Read {
		d.unread++
	}
}

func (d *Dispatcher) removeLocked(id string) bool {
	for i, item := range d.items {
		if item.ID != id {
			continue
		}
		if !item.Read {
			d.unread--
		}
		d.items = append(d.items[:i], d.items[i+1:]...)
		return true
	}
	return false
}

// MarkRead marks one notification read. It reports whether id was found.
func (d *Dispatcher) MarkRead(id string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	for i := range d.items {
		if d.items[i].ID != id {
			continue
		}
		if !d.items[i].Read {
			d.items[i].Read = true
			d.unread--
		}
		return true
	}
	return false
}

// MarkAllRead marks every notification read.
func (d *Dispatcher) MarkAllRead() {
	d.mu.Lock()
	defer d.mu.Unlock()
	for i := range d.items {
		d.items[i].Read = true
	}
	d.unread = 0
}

// Remove drops one notification. It reports whether id was found.
func (d *Dispatcher) Remove(id string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.removeLocked(id)
}

// ClearAll drops every notification.
func (d *Dispatcher) ClearAll() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.items = nil
	d.unread = 0
}

// OnRead applies a read receipt from the realtime channel.
func (d *Dispatcher) OnRead(id string) {
	if !d.MarkRead(id) {
		d.logger.Debug("Read receipt for unknown notification", zap.String("id", id))
	}
}

// OnBulkRead applies a mark-all-read event from the realtime channel.
func (d *Dispatcher) OnBulkRead() {
	d.MarkAllRead()
}

// List returns a copy of the notifications, newest first.
func (d *Dispatcher) List() []models.Notification {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]models.Notification, len(d.items))
	copy(out, d.items)
	return out
}

// UnreadCount returns the number of unread notifications.
func (d *Dispatcher) UnreadCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.unread
}

// SetPreferences replaces the user's preferences.
func (d *Dispatcher) SetPreferences(p models.Preferences) {
	p = p.Clone()
	d.mu.Lock()
	defer d.mu.Unlock()
	d.prefs = p
}

// Preferences returns a copy of the current preferences.
func (d *Dispatcher) Preferences() models.Preferences {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.prefs.Clone()
}
