package tier

import (
	"fmt"
	"time"
)

// FormatInterval renders a bucket width: "30 seconds", "1 minute",
// "5 minutes", "2 hours".
func FormatInterval(d time.Duration) string {
	secs := int64(d / time.Second)
	switch {
	case secs < 60:
		return plural(secs, "second")
	case secs < 3600:
		return plural(secs/60, "minute")
	default:
		return plural(secs/3600, "hour")
	}
}

// FormatDuration renders a retention period in the largest whole unit that
// fits: "45 minutes", "6 hours", "14 days".
func FormatDuration(d time.Duration) string {
	secs := int64(d / time.Second)
	switch {
	case secs < 3600:
		return plural(secs/60, "minute")
	case secs < 86400:
		return plural(secs/3600, "hour")
	default:
		return plural(secs/86400, "day")
	}
}

func plural(n int64, unit string) string {
	if n == 1 {
		return fmt.Sprintf("1 %s", unit)
	}
	return fmt.Sprintf("%d %ss", n, unit)
}
