package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLastSlot(t *testing.T) {
	tests := []struct {
		name  string
		slots []string
		want  string
	}{
		{"default_five", []string{"07:00", "12:00", "14:00", "18:00", "22:00"}, "22:00"},
		{"unsorted", []string{"22:00", "07:00", "12:00"}, "22:00"},
		{"single", []string{"09:30"}, "09:30"},
		{"empty", nil, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, LastSlot(tt.slots))
		})
	}
}

func TestLastSlotDoesNotMutateInput(t *testing.T) {
	slots := []string{"22:00", "07:00"}
	_ = LastSlot(slots)
	assert.Equal(t, []string{"22:00", "07:00"}, slots)
}

func TestRunStatusTerminal(t *testing.T) {
	assert.False(t, RunStatusPending.Terminal())
	assert.False(t, RunStatusRunning.Terminal())
	assert.True(t, RunStatusSucceeded.Terminal())
	assert.True(t, RunStatusFailed.Terminal())
}

func TestDateOf(t *testing.T) {
	ts := time.Date(2026, 1, 10, 18, 4, 5, 0, time.UTC)
	assert.Equal(t, "2026-01-10", DateOf(ts))
}

func TestSettingsLastSlotOfDay(t *testing.T) {
	s := DefaultSettings()
	assert.True(t, s.LastSlotOfDay("22:00"))
	assert.False(t, s.LastSlotOfDay("12:00"))
}
