package coalesce

// SaveState is the per-record persistence indicator shown next to an edited
// field. It never affects the data itself.
type SaveState string

const (
	StateIdle   SaveState = "idle"
	StateSaving SaveState = "saving"
	StateSaved  SaveState = "saved"
	StateError  SaveState = "error"
)

func (s SaveState) String() string { return string(s) }

// StateChange is published whenever a record's SaveState moves.
type StateChange struct {
	ID    string
	State SaveState
	Err   error // set when State is StateError
}
