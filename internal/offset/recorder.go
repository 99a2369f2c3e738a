package offset

import (
	"sync"

	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/num/quat"

	"github.com/relabs-tech/space_calibrator/internal/tracking"
)

// Call is one recorded Applier invocation.
type Call struct {
	Kind        string
	ID          tracking.DeviceID
	Rotation    quat.Number
	Translation r3.Vector
	Enabled     bool
}

// Recorder is an Applier that remembers every call, optionally forwarding
// to another Applier. It backs dry runs and tests.
type Recorder struct {
	Next Applier

	mu    sync.Mutex
	calls []Call
}

// Calls returns a copy of the calls so far.
func (r *Recorder) Calls() []Call {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Call(nil), r.calls...)
}

// Reset forgets recorded calls.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = nil
}

func (r *Recorder) record(c Call) {
	r.mu.Lock()
	r.calls = append(r.calls, c)
	r.mu.Unlock()
}

// SetRotationOffset implements Applier.
func (r *Recorder) SetRotationOffset(id tracking.DeviceID, q quat.Number) error {
	r.record(Call{Kind: KindRotation, ID: id, Rotation: q})
	if r.Next != nil {
		return r.Next.SetRotationOffset(id, q)
	}
	return nil
}

// SetTranslationOffset implements Applier.
func (r *Recorder) SetTranslationOffset(id tracking.DeviceID, meters r3.Vector) error {
	r.record(Call{Kind: KindTranslation, ID: id, Translation: meters})
	if r.Next != nil {
		return r.Next.SetTranslationOffset(id, meters)
	}
	return nil
}

// EnableOffsets implements Applier.
func (r *Recorder) EnableOffsets(id tracking.DeviceID, enable bool) error {
	r.record(Call{Kind: KindEnabled, ID: id, Enabled: enable})
	if r.Next != nil {
		return r.Next.EnableOffsets(id, enable)
	}
	return nil
}
