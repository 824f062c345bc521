// Package indicator holds streaming per-bar indicators used by the backtest
// engine. Indicators consume one observation per bar in date order and never
// look ahead.
package indicator

// SMA is a trailing simple moving average over a fixed window. The value is
// unavailable until the window has filled. Updates are O(1): a running sum
// over a fixed-size ring replaces the oldest observation.
type SMA struct {
	window int
	ring   []float64
	head   int
	count  int
	sum    float64
}

// NewSMA creates an SMA over the given window. The caller validates that
// window is positive before the run starts.
func NewSMA(window int) *SMA {
	return &SMA{
		window: window,
		ring:   make([]float64, window),
	}
}

// Update consumes the next closing price and returns the current average.
// ok is false until window observations have been seen.
func (s *SMA) Update(price float64) (value float64, ok bool) {
	if s.count == s.window {
		s.sum -= s.ring[s.head]
	} else {
		s.count++
	}
	s.ring[s.head] = price
	s.sum += price
	s.head = (s.head + 1) % s.window

	if s.count < s.window {
		return 0, false
	}
	return s.sum / float64(s.window), true
}

// Window returns the configured window length.
func (s *SMA) Window() int {
	return s.window
}
