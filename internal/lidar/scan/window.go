package scan

import "time"

// Window returns the interval [start, end] spanned by the rays of s.
// end is the timestamp of the last ray; an empty scan or a zero time
// increment collapses the window to StartTime.
func Window(s *RangeScan) (start, end time.Time) {
	start = s.StartTime
	n := s.Len()
	if n == 0 || s.TimeIncrement == 0 {
		return start, start
	}
	return start, s.RayTime(n - 1)
}

// WindowDuration returns end - start of the scan window.
func WindowDuration(s *RangeScan) time.Duration {
	start, end := Window(s)
	return end.Sub(start)
}
