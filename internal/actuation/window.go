package actuation

// Window is a time-of-day interval during which a rule may fire.
// Both ends are inclusive and the interval may wrap past midnight.
type Window struct {
	Start TimeOfDay
	End   TimeOfDay
}

// Contains reports whether now falls inside the window.
func (w Window) Contains(now TimeOfDay) bool {
	return InWindow(w.Start, w.End, now)
}

// String formats as "HH:MM-HH:MM".
func (w Window) String() string {
	return w.Start.String() + "-" + w.End.String()
}

// InWindow compares start, end and now as minutes since midnight.
// start > end wraps midnight; start == end matches that single minute only.
func InWindow(start, end, now TimeOfDay) bool {
	s, e, n := start.Minutes(), end.Minutes(), now.Minutes()

	switch {
	case s > e:
		return n >= s || n <= e
	case s < e:
		return n >= s && n <= e
	default:
		return n == s
	}
}
