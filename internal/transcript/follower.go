package transcript

import "sync"

// DefaultFollowThreshold is the distance from the tail, in pixel-equivalent
// units, within which a view keeps following new entries.
const DefaultFollowThreshold = 50.0

// Follower tracks whether a transcript view should auto-scroll. It starts in
// following mode. Safe for concurrent use.
type Follower struct {
	threshold float64

	mu        sync.Mutex
	following bool
}

// NewFollower returns a Follower. A non-positive threshold means
// DefaultFollowThreshold.
func NewFollower(threshold float64) *Follower {
	if threshold <= 0 {
		threshold = DefaultFollowThreshold
	}
	return &Follower{threshold: threshold, following: true}
}

// OnScroll records the view's distance from the tail after a user scroll.
func (f *Follower) OnScroll(distanceFromTail float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.following = distanceFromTail <= f.threshold
}

// ShouldFollow reports whether the view should jump to the tail when an
// entry is appended.
func (f *Follower) ShouldFollow() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.following
}

// Threshold returns the follow distance.
func (f *Follower) Threshold() float64 { return f.threshold }
