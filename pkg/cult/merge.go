package cult

import "github.com/fako1024/btbodyscale/pkg/scale"

// reconciler merges the scale's two-phase transmission (an identified weight
// frame followed by an anonymous body composition frame) into single records.
// It holds at most one pending measurement; the pending slot is never
// overwritten without flushing its content first
type reconciler struct {
	pending *scale.Measurement
}

// submit feeds a decoded measurement in and returns zero, one or two
// finalized measurements
func (r *reconciler) submit(m scale.Measurement) (out []scale.Measurement) {

	if r.pending == nil {
		if m.Anonymous() {

			// No identity to wait for, finalize immediately
			return []scale.Measurement{m}
		}

		// Identified measurement, hold it for the anonymous composition
		// frame that usually follows
		r.pending = &m
		return nil
	}

	if m.Anonymous() && !r.pending.Anonymous() {

		// The expected pairing: attach the anonymous frame to the held
		// identified measurement without overwriting present fields
		r.pending.Merge(m)
		out = append(out, *r.pending)
		r.pending = nil
		return
	}

	// The expected pairing did not occur, flush the held measurement as its
	// own record before handling the new one
	out = append(out, *r.pending)
	r.pending = nil

	if m.Anonymous() {
		return append(out, m)
	}
	r.pending = &m

	return
}

// flush returns and clears the pending measurement, if any. Called on session
// teardown so that a partial measurement is finalized rather than lost
func (r *reconciler) flush() (out []scale.Measurement) {
	if r.pending != nil {
		out = append(out, *r.pending)
		r.pending = nil
	}

	return
}
