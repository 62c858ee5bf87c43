package usage

import "time"

// CleanupInterval is how often retention cleanup runs.
const CleanupInterval = time.Hour

// RetentionCutoff is the oldest OccurredAt kept when records live retentionDays.
func RetentionCutoff(now time.Time, retentionDays int) time.Time {
	u := now.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), u.Hour(), 0, 0, 0, time.UTC).AddDate(0, 0, -retentionDays)
}

// RunCleanupLoop calls purge with the current cutoff at start and then every interval
// until stop is closed.
func RunCleanupLoop(stop <-chan struct{}, interval time.Duration, retentionDays int, purge func(cutoff time.Time)) {
	if interval <= 0 {
		interval = CleanupInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		purge(RetentionCutoff(time.Now(), retentionDays))
		select {
		case <-ticker.C:
		case <-stop:
			return
		}
	}
}
