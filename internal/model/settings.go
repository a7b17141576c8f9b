package model

// Settings holds the runtime-tunable knobs stored in the key-value
// settings table. They are read once at the start of each run; edits
// take effect on the next run, never retroactively.
type Settings struct {
	ScoreThreshold int      `json:"push_score_threshold"`
	WindowDays     int      `json:"window_days"`
	Slots          []string `json:"schedule_slots"`
	DailyQuota     int      `json:"daily_push_quota"`
}

// DefaultSettings are used for any key missing from the store.
func DefaultSettings() Settings {
	return Settings{
		ScoreThreshold: 60,
		WindowDays:     3,
		Slots:          []string{"07:00", "12:00", "14:00", "18:00", "22:00"},
		DailyQuota:     4,
	}
}

// LastSlotOfDay reports whether slot is the final configured slot.
func (s Settings) LastSlotOfDay(slot string) bool {
	return slot == LastSlot(s.Slots)
}
