package safety

const sampleSize = 6

// Sample keeps the most recent measurements of a signal together with their
// running min and max, used to widen torque limits by what the driver applies.
type Sample struct {
	values [sampleSize]int
	Min    int
	Max    int
}

// Update pushes v as the newest value and recomputes Min/Max over the window.
func (s *Sample) Update(v int) {
	copy(s.values[1:], s.values[:sampleSize-1])
	s.values[0] = v
	s.Min, s.Max = v, v
	for _, x := range s.values[1:] {
		if x < s.Min {
			s.Min = x
		}
		if x > s.Max {
			s.Max = x
		}
	}
}

// Reset zeroes the window.
func (s *Sample) Reset() { *s = Sample{} }
