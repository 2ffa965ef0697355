package validator

//go:generate go run github.com/dmarkham/enumer -type State -trimprefix State -transform snake -json -output state.gen.go

// State is the validator's position in a run.
type State int

const (
	StateIdle State = iota
	StateDiscoveringFiles
	StateValidatingReferences
	StateDoneValid
	StateDoneInvalid
)

// Done reports whether s is terminal.
func (s State) Done() bool {
	return s == StateDoneValid || s == StateDoneInvalid
}
