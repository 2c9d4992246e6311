package app

// Store is the persistence surface consumed by the browser UI and the event
// hooks. *HistoryStore is the file-backed implementation.
//
// Implementations must keep index entries consistent with records from the
// caller's point of view: no reader may observe a saved record without its
// index entry or vice versa. Not-found is reported via nil/false results,
// never as an error.
type Store interface {
	Save(sess *Session) error
	Load(id string) (*Session, error)
	Update(id string, mutate func(*Session)) (bool, error)
	Delete(id string) (bool, error)
	Rename(id, newTitle string) (bool, error)
	Duplicate(id, newTitle string) (string, error)
	List(filter func(ChatIndexEntry) bool) []ChatIndexEntry

	SaveSummary(sum *Summary) error
	LoadSummary(id string) (*Summary, error)
	DeleteSummary(id string) (bool, error)
	ListSummaries() []SummaryIndexEntry

	Expire(days int)
	SetLast(id string) error
	Last() string
	Location() string
}

var _ Store = (*HistoryStore)(nil)
