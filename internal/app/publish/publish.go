// Package publish holds the per-record publish rules: the derived publish state,
// the manual transitions (auto-enable toggle, pin, content edit) and the sweep
// transitions applied by the scheduler. Functions here are pure: they mutate the
// record they are given and never touch storage or notifications.
package publish

import (
	"errors"
	"time"

	"github.com/sifan077/PowerCMS/internal/app/model"
)

var (
	// ErrInvalidWindow signals a publish window whose end is not after its start.
	ErrInvalidWindow = errors.New("timeOff must be after timeOn")
	// ErrExpired signals an operation that needs a window that has not ended yet.
	ErrExpired = errors.New("publish window has ended; edit the record to republish")
)

// State is derived from (enable, autoEnable, timeOn, timeOff, now); it is never stored.
type State int

const (
	PendingApproval State = iota
	Scheduled
	Live
	Expired
)

func (s State) String() string {
	switch s {
	case PendingApproval:
		return "pending"
	case Scheduled:
		return "scheduled"
	case Live:
		return "live"
	case Expired:
		return "expired"
	default:
		return "unknown"
	}
}

// StateOf derives the publish state of r at now.
func StateOf(r model.Record, now time.Time) State {
	if !r.TimeOff.After(now) {
		return Expired
	}
	if r.Enable {
		return Live
	}
	if r.AutoEnable {
		// Also covers a window that opened since the last sweep.
		return Scheduled
	}
	return PendingApproval
}

// ValidateWindow enforces timeOff > timeOn.
func ValidateWindow(timeOn, timeOff time.Time) error {
	if !timeOff.After(timeOn) {
		return ErrInvalidWindow
	}
	return nil
}

// SetAutoEnable applies the manual toggle. Turning consent on collapses straight to
// live when the window has already opened; turning it off unpublishes a live record
// and clears its pin. It reports whether anything changed.
func SetAutoEnable(r *model.Record, desired bool, now time.Time) (bool, error) {
	if desired {
		if StateOf(*r, now) == Expired {
			return false, ErrExpired
		}
		changed := !r.AutoEnable
		r.AutoEnable = true
		if !r.TimeOn.After(now) && !r.Enable {
			r.Enable = true
			changed = true
		}
		return changed, nil
	}

	changed := r.AutoEnable
	r.AutoEnable = false
	if unpublish(r) {
		changed = true
	}
	return changed, nil
}

// SetPinned pins or unpins r. Pinning is refused once the window has ended.
func SetPinned(r *model.Record, desired bool, now time.Time) (bool, error) {
	if desired && StateOf(*r, now) == Expired {
		return false, ErrExpired
	}
	if r.Pinned == desired {
		return false, nil
	}
	r.Pinned = desired
	return true, nil
}

// ApplyEdit resets the publish state after a content edit. An edit always
// unpublishes, unless reassert is set and the new window is still open, in which
// case the manual toggle rule is applied again.
func ApplyEdit(r *model.Record, reassert bool, now time.Time) error {
	if err := ValidateWindow(r.TimeOn, r.TimeOff); err != nil {
		return err
	}

	r.AutoEnable = false
	unpublish(r)

	if reassert && StateOf(*r, now) != Expired {
		if _, err := SetAutoEnable(r, true, now); err != nil {
			return err
		}
	}
	return nil
}

// Transition names reported by Sweep.
const (
	TransitionNone    = ""
	TransitionLive    = "live"
	TransitionExpired = "expired"
)

// Sweep evaluates the window boundaries of r at now. An ended window forces
// enable, autoEnable and pinned off; an opened window with consent turns enable on.
// A second call with the same now never reports a transition.
func Sweep(r *model.Record, now time.Time) string {
	if !r.TimeOff.After(now) {
		if !r.Enable && !r.AutoEnable && !r.Pinned {
			return TransitionNone
		}
		r.Enable = false
		r.AutoEnable = false
		r.Pinned = false
		return TransitionExpired
	}

	if r.AutoEnable && !r.Enable && !r.TimeOn.After(now) {
		r.Enable = true
		return TransitionLive
	}
	return TransitionNone
}

// unpublish turns enable off and drops the pin with it.
func unpublish(r *model.Record) bool {
	if !r.Enable {
		return false
	}
	r.Enable = false
	r.Pinned = false
	return true
}
