package clock

import (
	"fmt"
	"time"
)

const layout = "2006-01-02T15:04:05.000Z07:00"

func Now() string {
	return time.Now().Format(layout)
}

// Stamp formats t as unix seconds with microsecond precision, e.g. 1714567890.123456
func Stamp(t time.Time) string {
	us := t.UnixMicro()
	sec, frac := us/1_000_000, us%1_000_000
	if frac < 0 {
		sec, frac = sec-1, frac+1_000_000
	}
	return fmt.Sprintf("%d.%06d", sec, frac)
}
