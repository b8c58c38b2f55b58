// Package timeutil converts between epoch milliseconds, elapsed durations,
// and hour-denominated thresholds used when judging job runs.
package timeutil

import "time"

const msPerHour = 3_600_000

// DatetimeLayout renders UTC timestamps with microsecond precision.
const DatetimeLayout = "2006-01-02 15:04:05.000000"

// HoursToMs converts hours to milliseconds, truncating toward zero.
func HoursToMs(hours float64) int64 {
	return int64(hours * msPerHour)
}

// MsToHours converts milliseconds to fractional hours.
func MsToHours(ms int64) float64 {
	return float64(ms) / msPerHour
}

// MsSince returns the milliseconds elapsed between epochMs and now.
func MsSince(epochMs int64) int64 {
	return MsSinceAt(epochMs, time.Now())
}

// MsSinceAt returns the milliseconds elapsed between epochMs and now.
// The result is negative when epochMs lies in the future.
func MsSinceAt(epochMs int64, now time.Time) int64 {
	return now.UnixMilli() - epochMs
}

// EpochMsToTime converts epoch milliseconds to a UTC time.
func EpochMsToTime(epochMs int64) time.Time {
	return time.UnixMilli(epochMs).UTC()
}

// EpochMsToDatetime renders epoch milliseconds as "YYYY-MM-DD HH:MM:SS.ffffff" in UTC.
func EpochMsToDatetime(epochMs int64) string {
	return EpochMsToTime(epochMs).Format(DatetimeLayout)
}
