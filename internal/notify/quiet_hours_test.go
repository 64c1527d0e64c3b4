package notify

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"goflare.io/aegis/internal/models"
)

func at(hour, minute int) time.Time {
	return time.Date(2026, 3, 14, hour, minute, 0, 0, time.UTC)
}

func TestInQuietHours(t *testing.T) {
	overnight := models.QuietHours{Enabled: true, Start: "22:00", End: "08:00"}
	daytime := models.QuietHours{Enabled: true, Start: "12:00", End: "13:30"}

	tests := []struct {
		name  string
		q     models.QuietHours
		now   time.Time
		quiet bool
	}{
		{"overnight late evening", overnight, at(23, 0), true},
		{"overnight early morning", overnight, at(7, 0), true},
		{"overnight start inclusive", overnight, at(22, 0), true},
		{"overnight end inclusive", overnight, at(8, 0), true},
		{"overnight midmorning", overnight, at(10, 0), false},
		{"overnight just before start", overnight, at(21, 59), false},
		{"daytime inside", daytime, at(12, 45), true},
		{"daytime end inclusive", daytime, at(13, 30), true},
		{"daytime after", daytime, at(13, 31), false},
		{"disabled", models.QuietHours{Start: "00:00", End: "23:59"}, at(12, 0), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			quiet, err := InQuietHours(tt.q, tt.now)
			require.NoError(t, err)
			assert.Equal(t, tt.quiet, quiet)
		})
	}
}

func TestInQuietHours_InvalidBounds(t *testing.T) {
	for _, bad := range []string{"", "25:00", "10:7", "ten:00", "10-00"} {
		_, err := InQuietHours(models.QuietHours{Enabled: true, Start: bad, End: "08:00"}, at(1, 0))
		assert.ErrorIs(t, err, ErrInvalidClock, bad)
	}
}
