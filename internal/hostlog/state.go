package hostlog

// State is the position of a host parser relative to the job it collects.
type State int

const (
	PendingFirstRecord State = iota
	Active
	ActiveIgnore
	LastRecord
	Done
)

var stateNames = [...]string{
	PendingFirstRecord: "PENDING_FIRST_RECORD",
	Active:             "ACTIVE",
	ActiveIgnore:       "ACTIVE_IGNORE",
	LastRecord:         "LAST_RECORD",
	Done:               "DONE",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "UNKNOWN"
	}
	return stateNames[s]
}

// Marker names recorded in Host.Marks.
const (
	MarkBegin    = "begin"
	MarkEnd      = "end"
	MarkRotate   = "rotate"
	MarkProcdump = "procdump"
)

// Leading characters of raw stats lines.
const (
	charSchema   = '!'
	charComment  = '#'
	charProperty = '$'
	charMark     = '%'
	charMarkAlt  = '^'
)

// foreignGrace is how long past the job end a host keeps collecting
// before it is considered done.
const foreignGrace = 600
