package orchard_test

import "time"

func orchardNow() time.Time { return time.Date(2026, 10, 15, 9, 0, 0, 0, time.UTC) }
