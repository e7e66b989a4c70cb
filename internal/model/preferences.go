package model

// Preferences controls which delivery channels fire for new notifications.
//
// The local copy (sqlite) is the immediate source of truth for side
// effects; the server copy is authoritative for cross-device sync. The two
// are not reconciled automatically.
type Preferences struct {
	Sound   bool `json:"sound" db:"sound"`
	Desktop bool `json:"desktop" db:"desktop"`
	Toast   bool `json:"toast" db:"toast"`
}

// DefaultPreferences enables every channel.
func DefaultPreferences() Preferences {
	return Preferences{Sound: true, Desktop: true, Toast: true}
}
