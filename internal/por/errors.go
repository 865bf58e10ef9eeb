package por

import "errors"

// Validation errors. A malformed input never produces a verdict.
var (
	ErrInvalidInput    = errors.New("por: invalid input")
	ErrEmptyChallenge  = errors.New("por: empty challenge")
	ErrSampleTooLarge  = errors.New("por: sample larger than population")
	ErrDuplicateIndex  = errors.New("por: duplicate challenge index")
	ErrIndexOutOfRange = errors.New("por: challenge index out of range")
	ErrCorruptRecord   = errors.New("por: corrupt record")
)

// Verdict is the outcome of a verification. Reject is a result, not an
// error: it means the proof is well formed but does not satisfy the check.
type Verdict uint8

const (
	Reject Verdict = iota
	Accept
)

func (v Verdict) String() string {
	if v == Accept {
		return "accept"
	}
	return "reject"
}

func (v Verdict) OK() bool { return v == Accept }
