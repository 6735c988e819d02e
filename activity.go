package labwatch

import "context"

// ActivityFunc is the body of an activity. It receives the run context and
// the owning [Session], through which it appends readings and sleeps
// cooperatively.
type ActivityFunc func(ctx context.Context, s *Session) error

// activityKind selects how the scheduler drives an activity.
type activityKind int

const (
	kindRepeat activityKind = iota + 1
	kindSelfManaged
)

// Activity is one unit of concurrent work within a session, created with
// [Repeat] or [SelfManaged]. The zero value is invalid and is rejected by
// [Session.Run] with [ErrInvalidActivity].
type Activity struct {
	name string
	kind activityKind
	fn   ActivityFunc
}

// Name returns the activity's display name, used in logs.
func (a Activity) Name() string {
	return a.name
}

// Repeat creates an activity whose function is one iteration of a loop. The
// scheduler calls fn again and again while the session is running; fn should
// perform one measurement (or unit of work) and end with [Session.Sleep] to
// pace itself and yield to shutdown.
//
// Example:
//
//	labwatch.Repeat("measure", func(ctx context.Context, s *labwatch.Session) error {
//	    if err := s.Append(map[string]float64{"temperature": read()}); err != nil {
//	        return err
//	    }
//	    s.Sleep(5 * time.Second)
//	    return nil
//	})
func Repeat(name string, fn ActivityFunc) Activity {
	return Activity{name: name, kind: kindRepeat, fn: fn}
}

// SelfManaged creates an activity whose function owns its entire lifetime.
// The scheduler calls fn exactly once; fn must watch [Session.Running] (or
// the context) and return promptly once the session stops.
//
// Use this for work that keeps its own state across iterations or drives an
// external event loop.
func SelfManaged(name string, fn ActivityFunc) Activity {
	return Activity{name: name, kind: kindSelfManaged, fn: fn}
}

// validate reports whether the activity can be scheduled.
func (a Activity) validate() error {
	if a.kind == 0 || a.fn == nil {
		return ErrInvalidActivity
	}
	return nil
}
