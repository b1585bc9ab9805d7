package attendance

// State is the lifecycle state of a reconciliation run.
type State int

const (
	NotStarted State = iota
	LoadingGallery
	MatchingPeople
	Summarizing
	Done
	Failed
	Cancelled
)

func (s State) String() string {
	switch s {
	case NotStarted:
		return "not_started"
	case LoadingGallery:
		return "loading_gallery"
	case MatchingPeople:
		return "matching_people"
	case Summarizing:
		return "summarizing"
	case Done:
		return "done"
	case Failed:
		return "failed"
	case Cancelled:
		return "cancelled"
	}
	return "unknown"
}

// MarshalText implements encoding.TextMarshaler.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *State) UnmarshalText(b []byte) error {
	for st := NotStarted; st <= Cancelled; st++ {
		if st.String() == string(b) {
			*s = st
			return nil
		}
	}
	*s = NotStarted
	return nil
}

// Terminal reports whether no further transitions are possible.
func (s State) Terminal() bool {
	return s == Done || s == Failed || s == Cancelled
}
