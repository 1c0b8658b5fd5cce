package schedule

import "fmt"

// WindowName identifies one of the four windows of a milestone.
type WindowName string

const (
	WindowEarliest WindowName = "earliest"
	WindowDue      WindowName = "due"
	WindowLate     WindowName = "late"
	WindowMax      WindowName = "max"
)

// Windows lists the window names in milestone order.
var Windows = [...]WindowName{WindowEarliest, WindowDue, WindowLate, WindowMax}

// Index returns the position of w in Windows, or -1.
func (w WindowName) Index() int {
	for i, n := range Windows {
		if n == w {
			return i
		}
	}
	return -1
}

func (w WindowName) Valid() bool { return w.Index() >= 0 }

func ParseWindowName(s string) (WindowName, error) {
	w := WindowName(s)
	if !w.Valid() {
		return "", fmt.Errorf("schedule: unknown window %q", s)
	}
	return w, nil
}
