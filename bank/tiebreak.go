package bank

// TieBreak decides, during a NextSubmission scan, whether candidate should
// replace the current best. It is called only when both are valid
// improving submissions.
type TieBreak func(current, candidate Submission) bool

// LargestHashFirst prefers the candidate with the larger hash value. This is
// the conservative default spec.md recommends: submitting higher-valued
// improvements first avoids spending bandwidth on a register that may soon
// be beaten again locally anyway.
func LargestHashFirst(current, candidate Submission) bool {
	return candidate.Hash > current.Hash
}

// SmallestFirst prefers the candidate with the smaller hash value,
// prioritizing the strongest proof-of-work evidence over bandwidth economy.
func SmallestFirst(current, candidate Submission) bool {
	return candidate.Hash < current.Hash
}

// RoundRobin is a stateful tie-break that advances through registers in
// order, regardless of hash magnitude, spreading submissions evenly across
// a function's register space. Until Advance is called, both NewRoundRobin
// and the zero value prefer the lowest register index.
type RoundRobin struct {
	last int
}

// NewRoundRobin returns a RoundRobin tie-break starting from register -1.
func NewRoundRobin() *RoundRobin {
	return &RoundRobin{last: -1}
}

// TieBreak is a TieBreak-shaped method value: pass rr.TieBreak to New.
func (rr *RoundRobin) TieBreak(current, candidate Submission) bool {
	return wrapDistance(rr.last, current.Register, candidate.Register)
}

// Advance records that register was just submitted, so the next scan
// rotates emphasis forward from it. Callers should invoke this after a
// submission picked via rr.TieBreak is actually sent.
func (rr *RoundRobin) Advance(register int) {
	rr.last = register
}

// wrapDistance reports whether candidate's register is strictly closer
// (in forward wrap-around order from last) than current's register.
func wrapDistance(last, currentRegister, candidateRegister int) bool {
	// Distances are meaningless without knowing the register space size,
	// but within one scan we only ever compare registers belonging to the
	// same or different slots of potentially different sizes; fall back to
	// simple forward-from-last ordering using raw index comparison, which
	// is sufficient to rotate emphasis across repeated scans.
	cd := candidateRegister - last
	if cd < 0 {
		cd += 1 << 20
	}
	crd := currentRegister - last
	if crd < 0 {
		crd += 1 << 20
	}
	return cd < crd
}
