package notify

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"goflare.io/aegis/internal/clock"
	"goflare.io/aegis/internal/config"
	"goflare.io/aegis/internal/metrics"
	"goflare.io/aegis/internal/models"
)

type shown struct {
	n           models.Notification
	autoDismiss time.Duration
}

type recordingNotifier struct {
	shown []shown
	err   error
}

func (r *recordingNotifier) Show(n models.Notification, autoDismiss time.Duration) error {
	if r.err != nil {
		return r.err
	}
	r.shown = append(r.shown, shown{n: n, autoDismiss: autoDismiss})
	return nil
}

func granted() PermissionSource { return PermissionFunc(func() bool { return true }) }

func newTestDispatcher(t *testing.T, now time.Time, opts ...Option) (*Dispatcher, *recordingNotifier) {
	t.Helper()
	cfg, err := config.NewConfig()
	require.NoError(t, err)
	notifier := &recordingNotifier{}
	base := []Option{
		WithNotifier(notifier),
		WithPermission(granted()),
		WithClock(clock.NewFake(now)),
		WithLocation(time.UTC),
	}
	return NewDispatcher(cfg, append(base, opts...)...), notifier
}

// assertUnreadInvariant checks UnreadCount against the list.
func assertUnreadInvariant(t *testing.T, d *Dispatcher) {
	t.Helper()
	unread := 0
	for _, n := range d.List() {
		if !n.Read {
			unread++
		}
	}
	assert.Equal(t, unread, d.UnreadCount())
}

func TestDispatcher_OnNotificationShows(t *testing.T) {
	d, notifier := newTestDispatcher(t, at(10, 0))

	d.OnNotification(models.Notification{ID: "n1", Type: "entity.created", Title: "Created"})
	d.OnNotification(models.Notification{ID: "n2", Type: "entity.deleted", Priority: models.PriorityHigh})

	list := d.List()
	require.Len(t, list, 2)
	assert.Equal(t, "n2", list[0].ID, "newest first")
	assert.Equal(t, 2, d.UnreadCount())
	assert.Equal(t, at(10, 0), list[1].Timestamp)
	assert.Equal(t, models.PriorityNormal, list[1].Priority)

	require.Len(t, notifier.shown, 2)
	assert.Equal(t, 5*time.Second, notifier.shown[0].autoDismiss)
	assert.Equal(t, time.Duration(0), notifier.shown[1].autoDismiss, "high priority needs explicit dismissal")
}

func TestDispatcher_QuietHours(t *testing.T) {
	prefs := models.DefaultPreferences()
	prefs.QuietHours = models.QuietHours{Enabled: true, Start: "22:00", End: "08:00"}

	tests := []struct {
		now   time.Time
		shown bool
	}{
		{at(23, 0), false},
		{at(7, 0), false},
		{at(10, 0), true},
	}
	for _, tt := range tests {
		t.Run(tt.now.Format("15:04"), func(t *testing.T) {
			d, notifier := newTestDispatcher(t, tt.now)
			d.SetPreferences(prefs)

			d.OnNotification(models.Notification{ID: "n", Type: "alert"})

			assert.Equal(t, tt.shown, len(notifier.shown) == 1)
			assert.Equal(t, 1, d.UnreadCount(), "suppressed notifications are still recorded")
		})
	}
}

func TestDispatcher_Suppression(t *testing.T) {
	t.Run("push disabled for type", func(t *testing.T) {
		d, notifier := newTestDispatcher(t, at(10, 0))
		prefs := models.DefaultPreferences()
		prefs.Types["digest"] = models.ChannelToggles{Email: true, InApp: true}
		d.SetPreferences(prefs)

		d.OnNotification(models.Notification{ID: "a", Type: "digest"})
		d.OnNotification(models.Notification{ID: "b", Type: "alert"})

		require.Len(t, notifier.shown, 1)
		assert.Equal(t, "b", notifier.shown[0].n.ID)
	})

	t.Run("permission denied", func(t *testing.T) {
		d, notifier := newTestDispatcher(t, at(10, 0),
			WithPermission(PermissionFunc(func() bool { return false })))

		d.OnNotification(models.Notification{ID: "a", Type: "alert"})

		assert.Empty(t, notifier.shown)
		assert.Len(t, d.List(), 1)
	})
}

func TestDispatcher_Metrics(t *testing.T) {
	collector := metrics.New(prometheus.NewRegistry())
	d, notifier := newTestDispatcher(t, at(10, 0), WithMetrics(collector))

	d.OnNotification(models.Notification{ID: "a", Type: "alert"})
	d.SetPreferences(models.Preferences{})
	d.OnNotification(models.Notification{ID: "b", Type: "alert"})
	notifier.err = errors.New("display unavailable")
	d.SetPreferences(models.DefaultPreferences())
	d.OnNotification(models.Notification{ID: "c", Type: "alert"})

	assert.Equal(t, 3.0, testutil.ToFloat64(collector.Notifications.WithLabelValues("received")))
	assert.Equal(t, 1.0, testutil.ToFloat64(collector.Notifications.WithLabelValues("shown")))
	assert.Equal(t, 1.0, testutil.ToFloat64(collector.Notifications.WithLabelValues("suppressed")))
}

func TestDispatcher_MarkRead(t *testing.T) {
	d, _ := newTestDispatcher(t, at(10, 0))
	d.OnNotification(models.Notification{ID: "a", Type: "alert"})
	d.OnNotification(models.Notification{ID: "b", Type: "alert"})

	assert.True(t, d.MarkRead("a"))
	assert.True(t, d.MarkRead("a"), "marking twice is harmless")
	assert.False(t, d.MarkRead("missing"))
	assert.Equal(t, 1, d.UnreadCount())
	assertUnreadInvariant(t, d)

	d.OnRead("b")
	assert.Equal(t, 0, d.UnreadCount())
	assertUnreadInvariant(t, d)
}

func TestDispatcher_MarkAllRead(t *testing.T) {
	d, _ := newTestDispatcher(t, at(10, 0))
	for _, id := range []string{"a", "b", "c"} {
		d.OnNotification(models.Notification{ID: id, Type: "alert"})
	}

	d.MarkAllRead()

	assert.Equal(t, 0, d.UnreadCount())
	for _, n := range d.List() {
		assert.True(t, n.Read, n.ID)
	}

	d.OnNotification(models.Notification{ID: "d", Type: "alert"})
	d.OnBulkRead()
	assert.Equal(t, 0, d.UnreadCount())
	assertUnreadInvariant(t, d)
}

func TestDispatcher_Remove(t *testing.T) {
	d, _ := newTestDispatcher(t, at(10, 0))
	d.OnNotification(models.Notification{ID: "read", Type: "alert"})
	d.OnNotification(models.Notification{ID: "unread", Type: "alert"})
	d.MarkRead("read")

	assert.True(t, d.Remove("read"))
	assert.Equal(t, 1, d.UnreadCount(), "removing a read notification keeps the count")
	assert.True(t, d.Remove("unread"))
	assert.Equal(t, 0, d.UnreadCount())
	assert.False(t, d.Remove("unread"))
	assert.Empty(t, d.List())
	assertUnreadInvariant(t, d)
}

func TestDispatcher_ClearAll(t *testing.T) {
	d, _ := newTestDispatcher(t, at(10, 0))
	d.OnNotification(models.Notification{ID: "a", Type: "alert"})
	d.OnNotification(models.Notification{ID: "b", Type: "alert", Read: true})

	d.ClearAll()

	assert.Empty(t, d.List())
	assert.Equal(t, 0, d.UnreadCount())
}

func TestDispatcher_DuplicateIDReplaces(t *testing.T) {
	d, _ := newTestDispatcher(t, at(10, 0))
	d.OnNotification(models.Notification{ID: "a", Type: "alert", Title: "first"})
	d.OnNotification(models.Notification{ID: "a", Type: "alert", Title: "second"})

	list := d.List()
	require.Len(t, list, 1)
	assert.Equal(t, "second", list[0].Title)
	assert.Equal(t, 1, d.UnreadCount())
}

func TestDispatcher_Add(t *testing.T) {
	d, notifier := newTestDispatcher(t, at(10, 0))

	n := d.Add(models.Notification{Type: "note", Message: "remember"})

	assert.NotEmpty(t, n.ID)
	assert.Equal(t, at(10, 0), n.Timestamp)
	assert.Empty(t, notifier.shown, "local notifications are not surfaced")
	assert.Equal(t, 1, d.UnreadCount())

	other := d.Add(models.Notification{Type: "note"})
	assert.NotEqual(t, n.ID, other.ID)
	assertUnreadInvariant(t, d)
}

func TestDispatcher_PreferencesAreCopied(t *testing.T) {
	d, notifier := newTestDispatcher(t, at(10, 0))

	prefs := models.DefaultPreferences()
	prefs.Types["digest"] = models.ChannelToggles{Push: true}
	d.SetPreferences(prefs)

	// Later changes to the caller's map do not reach the dispatcher.
	prefs.Types["digest"] = models.ChannelToggles{}
	got := d.Preferences()
	assert.True(t, got.Types["digest"].Push)

	// Nor do changes to a returned copy.
	got.Types["digest"] = models.ChannelToggles{}
	assert.True(t, d.Preferences().Types["digest"].Push)

	d.OnNotification(models.Notification{ID: "a", Type: "digest"})
	require.Len(t, notifier.shown, 1)
}

func TestDispatcher_ConcurrentPreferences(t *testing.T) {
	d, _ := newTestDispatcher(t, at(10, 0))

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 200; i++ {
			p := d.Preferences()
			p.Types["alert"] = models.ChannelToggles{Push: i%2 == 0}
			d.SetPreferences(p)
		}
	}()
	for i := 0; i < 200; i++ {
		d.OnNotification(models.Notification{Type: "alert"})
	}
	<-done

	assert.Len(t, d.List(), 200)
	assertUnreadInvariant(t, d)
}
