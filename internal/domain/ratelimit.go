package domain

import "time"

// RateWindow counts admitted requests for one identifier since WindowStart.
type RateWindow struct {
	Identifier   string
	WindowStart  time.Time
	RequestCount int
}
