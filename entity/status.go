package entity

type Source string

const (
	SourceProm     Source = "prom"
	SourceHoroshop Source = "horoshop"
	SourceKeyCrm   Source = "keycrm"
)

func (s Source) Valid() bool {
	switch s {
	case SourceProm, SourceHoroshop, SourceKeyCrm:
		return true
	}
	return false
}

type Status string

const (
	StatusNew        Status = "New"
	StatusAccepted   Status = "Accepted"
	StatusProduction Status = "InProduction"
	StatusDispatched Status = "Dispatched"
	StatusPaid       Status = "Paid"
	StatusSuccess    Status = "Success"
	StatusCancelled  Status = "Cancelled"
	StatusDraft      Status = "Draft"
	StatusOther      Status = "Other"
)

// IsAccepted reports whether the status means a manager has taken the order.
// New, Paid and Draft are the only unaccepted statuses.
func (s Status) IsAccepted() bool {
	switch s {
	case StatusNew, StatusPaid, StatusDraft:
		return false
	}
	return true
}
