package crosscheck

import (
	"sort"
	"time"
)

// Summary condenses the replies of one server
type Summary struct {
	Offset  time.Duration
	RTT     time.Duration
	Stratum uint8
	Samples int
}

// Summarize takes the median offset and the minimum RTT of the usable
// replies. ok is false when no reply is usable.
func Summarize(responses []*Response) (Summary, bool) {
	offsets := make([]time.Duration, 0, len(responses))
	var s Summary
	for _, r := range responses {
		if r == nil || r.IsSuspicious() {
			continue
		}
		offsets = append(offsets, r.Offset)
		if s.Samples == 0 || r.RTT < s.RTT {
			s.RTT = r.RTT
		}
		s.Stratum = r.Stratum
		s.Samples++
	}
	if s.Samples == 0 {
		return Summary{}, false
	}
	s.Offset = median(offsets)
	return s, true
}

func median(values []time.Duration) time.Duration {
	sort.Slice(values, func(i, j int) bool { return values[i] < values[j] })
	n := len(values)
	if n%2 == 0 {
		return (values[n/2-1] + values[n/2]) / 2
	}
	return values[n/2]
}
