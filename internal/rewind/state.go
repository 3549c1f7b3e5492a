package rewind

import "fmt"

// ControlState режим воспроизведения
type ControlState int

const (
	ControlPause ControlState = iota
	ControlPlay
	ControlPlayReverse
)

func (s ControlState) String() string {
	switch s {
	case ControlPause:
		return "pause"
	case ControlPlay:
		return "play"
	case ControlPlayReverse:
		return "play_reverse"
	default:
		return fmt.Sprintf("ControlState(%d)", int(s))
	}
}

// MarshalText кодирует состояние строкой в JSON
func (s ControlState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// TrackCursorListener вызывается при каждом изменении позиции воспроизведения.
// reverse == true, если позиция сдвинулась назад.
type TrackCursorListener func(reverse bool)

// ComponentListListener вызывается, когда дерево компонентов цели изменилось
type ComponentListListener func()

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
