package config

import (
	"errors"
	"io/fs"
	"os"
	"time"

	"github.com/fleetline/mdmclient/internal/agenterr"
	"github.com/fleetline/mdmclient/internal/plist"
)

// Preferences is the agent-owned mutable preferences document (§6), distinct
// from Config: the agent itself reads and rewrites this document across
// runs, whereas Config is operator-authored and read-only to the agent.
type Preferences struct {
	ClientIdentifier                          string     `plist:"ClientIdentifier"`
	InstallAppleSoftwareUpdates               bool       `plist:"InstallAppleSoftwareUpdates"`
	AppleSoftwareUpdatesOnly                  bool       `plist:"AppleSoftwareUpdatesOnly"`
	DaysBetweenNotifications                  int        `plist:"DaysBetweenNotifications"`
	LastCheckDate                             *time.Time `plist:"LastCheckDate"`
	LastCheckResult                           string     `plist:"LastCheckResult"`
	LastNotifiedDate                          *time.Time `plist:"LastNotifiedDate"`
	PendingUpdateCount                        int        `plist:"PendingUpdateCount"`
	OldestUpdateDays                          float64    `plist:"OldestUpdateDays"`
	ForcedUpdateDueDate                       *time.Time `plist:"ForcedUpdateDueDate"`
	UseClientCertificate                      bool       `plist:"UseClientCertificate"`
	UseClientCertificateCNAsClientIdentifier  bool       `plist:"UseClientCertificateCNAsClientIdentifier"`
}

// DefaultPreferences returns the preferences document's default values
// (§6: DaysBetweenNotifications defaults to 1).
func DefaultPreferences() Preferences {
	return Preferences{DaysBetweenNotifications: 1}
}

// LoadPreferences reads the preferences document at path. A missing document
// yields DefaultPreferences rather than an error, since a fresh install has
// no preferences document yet.
func LoadPreferences(path string) (Preferences, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return DefaultPreferences(), nil
		}
		return Preferences{}, agenterr.New(agenterr.IO, "config.LoadPreferences", path, err)
	}

	prefs := DefaultPreferences()
	if err := plist.Decode(data, &prefs); err != nil {
		return Preferences{}, err
	}
	return prefs, nil
}

// SavePreferences atomically persists prefs to path.
func SavePreferences(path string, prefs Preferences) error {
	return plist.WriteRaw(prefs, path, plist.BinaryFormat)
}
