package service

import "github.com/punchamoorthee/commonledger/internal/config"

// Preferences are the community-wide settings the ledger consults. They are
// passed in explicitly; nothing in this package reads the environment.
type Preferences struct {
	// DefaultGroupID is the system currency group. Plan fees and recurring
	// fees are only charged there.
	DefaultGroupID     int64
	EmailNotifications bool
	// SystemPersonID signs fee notices.
	SystemPersonID int64
}

func PreferencesFromConfig(cfg *config.Config) Preferences {
	return Preferences{
		DefaultGroupID:     cfg.DefaultGroupID,
		EmailNotifications: cfg.EmailNotifications,
		SystemPersonID:     cfg.SystemPersonID,
	}
}
