package tui

import "time"

// Spinner rotates frames while a process runs. Frames advance on wall time,
// not per drain tick, so a fast tick interval does not blur it.
type Spinner struct {
	frames []string
	every  time.Duration
}

func NewSpinner() Spinner {
	return Spinner{
		frames: []string{"⠋", "⠙", "⠹", "⠸", "⠼", "⠴", "⠦", "⠧", "⠇", "⠏"},
		every:  100 * time.Millisecond,
	}
}

// Frame returns the frame for elapsed time since start.
func (s Spinner) Frame(elapsed time.Duration) string {
	if elapsed < 0 {
		elapsed = 0
	}
	return s.frames[int(elapsed/s.every)%len(s.frames)]
}

func formatDuration(d time.Duration) string {
	switch {
	case d < time.Second:
		return d.Round(time.Millisecond).String()
	case d < time.Minute:
		return d.Round(100 * time.Millisecond).String()
	case d < time.Hour:
		return d.Round(time.Second).String()
	default:
		return d.Round(time.Minute).String()
	}
}
