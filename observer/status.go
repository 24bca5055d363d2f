package observer

// Status is the observed lifecycle of one record within a ledger.
// Tracked statuses are delta based; untracked ones only reflect which
// notifications were received.
type Status struct {
	ID      any  `json:"id"`
	Tracked bool `json:"tracked"`
	Created bool `json:"created"`
	Updated bool `json:"updated"`
	Deleted bool `json:"deleted"`
}

func (s Status) Untouched() bool {
	return !s.Created && !s.Updated && !s.Deleted
}
