package drafts

import (
	"net/url"
	"strings"
)

// KeyPrefix marks every draft entry in the storage namespace.
const KeyPrefix = "dfs-draft:"

// Key derives the storage key for a (station, date) pair. Both components are
// query-escaped so the ':' separator cannot occur inside them.
func Key(station, date string) string {
	return KeyPrefix + url.QueryEscape(station) + ":" + url.QueryEscape(date)
}

// ParseKey is the inverse of Key. It reports false for keys outside the draft
// namespace or with malformed components.
func ParseKey(key string) (station, date string, ok bool) {
	rest, found := strings.CutPrefix(key, KeyPrefix)
	if !found {
		return "", "", false
	}
	escStation, escDate, found := strings.Cut(rest, ":")
	if !found || strings.Contains(escDate, ":") {
		return "", "", false
	}

	station, err := url.QueryUnescape(escStation)
	if err != nil || station == "" {
		return "", "", false
	}
	date, err = url.QueryUnescape(escDate)
	if err != nil || date == "" {
		return "", "", false
	}
	return station, date, true
}
