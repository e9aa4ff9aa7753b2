package will

import "time"

// Expired reports whether a character whose latest activity was lastSeen has
// been silent for strictly longer than timeoutHours at now.
// A zero lastSeen means "never reported" and is never expired.
func Expired(timeoutHours int, lastSeen, now time.Time) bool {
	if lastSeen.IsZero() {
		return false
	}
	return now.Sub(lastSeen) > time.Duration(timeoutHours)*time.Hour
}
