package pipeline

//go:generate go run github.com/dmarkham/enumer -type State -trimprefix State -transform snake -json -output state.gen.go

// State is the position of a storage run.
type State int

const (
	StateIdle State = iota
	StateScanning
	StateStoringSecrets
	StateRewritingFiles
	StateAborted
)
