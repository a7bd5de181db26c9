package task

import "fmt"

// minStepDownDPI is the floor the step-down chain reduces resolution to.
// Below roughly 150 DPI recognition quality collapses faster than memory
// use, so stepping further would trade a crash for garbage output.
const minStepDownDPI = 150

// Profile is the resource envelope one document attempt runs under.
type Profile struct {
	Workers int
	DPI     int
}

func (p Profile) String() string {
	return fmt.Sprintf("workers=%d dpi=%d", p.Workers, p.DPI)
}

// StepDown returns the next lighter profile for a retry: first drop to a
// single process, then reduce resolution. The second return is false when
// there is nothing lighter left to try.
func (p Profile) StepDown() (Profile, bool) {
	if p.Workers > 1 {
		return Profile{Workers: 1, DPI: p.DPI}, true
	}
	if p.DPI > minStepDownDPI {
		next := p.DPI / 2
		if next < minStepDownDPI {
			next = minStepDownDPI
		}
		return Profile{Workers: 1, DPI: next}, true
	}
	return p, false
}
