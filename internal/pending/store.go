package pending

import (
	"time"

	"github.com/fleetline/mdmclient/internal/agenterr"
	"github.com/fleetline/mdmclient/internal/plist"
)

// notificationDocument is category -> name -> firstSeen.
type notificationDocument map[Category]map[string]time.Time

// loadNotificationDocument treats a missing or malformed document as empty
// (§7: Tracker read paths treat these as an empty document).
func loadNotificationDocument(path string) notificationDocument {
	doc, err := plist.Read(path)
	if err != nil {
		return notificationDocument{}
	}
	out := make(notificationDocument, len(doc.Dict))
	for category, catVal := range doc.Dict {
		catDict, err := catVal.Dict()
		if err != nil {
			continue
		}
		names := make(map[string]time.Time, len(catDict))
		for name, nameVal := range catDict {
			entryDict, err := nameVal.Dict()
			if err != nil {
				continue
			}
			t, err := entryDict.Get("firstSeen").Time()
			if err != nil {
				continue
			}
			names[name] = t
		}
		out[Category(category)] = names
	}
	return out
}

func saveNotificationDocument(path string, doc notificationDocument) error {
	raw := make(map[string]any, len(doc))
	for category, names := range doc {
		inner := make(map[string]any, len(names))
		for name, firstSeen := range names {
			inner[name] = map[string]any{"firstSeen": firstSeen}
		}
		raw[string(category)] = inner
	}
	if err := plist.WriteRaw(raw, path, plist.BinaryFormat); err != nil {
		return agenterr.New(agenterr.IO, "pending.saveNotificationDocument", path, err)
	}
	return nil
}

// appleHistoryDocument is productKey -> history entry.
type appleHistoryDocument map[string]appleHistoryEntry

func loadAppleHistoryDocument(path string) appleHistoryDocument {
	doc, err := plist.Read(path)
	if err != nil {
		return appleHistoryDocument{}
	}
	out := make(appleHistoryDocument, len(doc.Dict))
	for productKey, val := range doc.Dict {
		entryDict, err := val.Dict()
		if err != nil {
			continue
		}
		t, err := entryDict.Get("firstSeen").Time()
		if err != nil {
			continue
		}
		out[productKey] = appleHistoryEntry{
			FirstSeen:   t,
			DisplayName: entryDict.Get("displayName").StringOr(""),
			Version:     entryDict.Get("version").StringOr(""),
		}
	}
	return out
}

func saveAppleHistoryDocument(path string, doc appleHistoryDocument) error {
	raw := make(map[string]any, len(doc))
	for productKey, entry := range doc {
		raw[productKey] = map[string]any{
			"firstSeen":   entry.FirstSeen,
			"displayName": entry.DisplayName,
			"version":     entry.Version,
		}
	}
	if err := plist.WriteRaw(raw, path, plist.BinaryFormat); err != nil {
		return agenterr.New(agenterr.IO, "pending.saveAppleHistoryDocument", path, err)
	}
	return nil
}
