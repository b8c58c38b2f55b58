package pipeline

import (
	"github.com/3leaps/runwatch/pkg/jobrun"
)

// ParseJobRunDurations maps run name to elapsed hours for every record
// carrying time_from_start_hours.
//
// Runs sharing a name are kept apart by appending "_" to the later name
// until it is unique, in encounter order.
func ParseJobRunDurations(records []jobrun.Record) map[string]float64 {
	durations := make(map[string]float64, len(records))
	for _, rec := range records {
		hours, ok := rec.Float(jobrun.FieldTimeFromStartHours)
		if !ok {
			continue
		}
		name := rec.String(jobrun.FieldRunName)
		for {
			if _, taken := durations[name]; !taken {
				break
			}
			name += "_"
		}
		durations[name] = hours
	}
	return durations
}

// Durations applies ParseJobRunDurations to every workspace in set.
func Durations(set EnrichedRunSet) map[string]map[string]float64 {
	out := make(map[string]map[string]float64, len(set))
	for ws, runs := range set {
		out[ws] = ParseJobRunDurations(runs)
	}
	return out
}

// Counts returns the number of runs per workspace.
func Counts(set EnrichedRunSet) map[string]int {
	out := make(map[string]int, len(set))
	for ws, runs := range set {
		out[ws] = len(runs)
	}
	return out
}
