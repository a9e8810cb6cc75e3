package sequence

// chunk is a reserved, in-process, half-open range of counter values
// pre-drawn from storage (spec §4.2), plus the delta used to draw it.
type chunk struct {
	next  int64
	end   int64 // exclusive
	delta int64
}

// empty reports whether c has never been reserved.
func (c chunk) empty() bool { return c.delta == 0 && c.next == 0 && c.end == 0 }

// available returns how many more values can be drawn from c at its delta.
func (c chunk) available() int64 {
	if c.delta <= 0 || c.end <= c.next {
		return 0
	}
	return (c.end - c.next) / c.delta
}

// take draws up to n values from c, advancing next, and returns how many
// were actually produced (capped by availability).
func (c *chunk) take(out []int64, n int64) int64 {
	var produced int64
	for produced < n && c.available() > 0 {
		out[produced] = c.next
		c.next += c.delta
		produced++
	}
	return produced
}
