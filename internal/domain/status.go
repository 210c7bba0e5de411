package domain

type BatchStatus int

const (
	BatchPending BatchStatus = iota
	BatchSuccess
	BatchPartialSuccess
	BatchFail
)

func (s BatchStatus) String() string {
	switch s {
	case BatchPending:
		return "PENDING"
	case BatchSuccess:
		return "SUCCESS"
	case BatchPartialSuccess:
		return "PARTIAL_SUCCESS"
	case BatchFail:
		return "FAIL"
	default:
		return "UNKNOWN"
	}
}

func (s BatchStatus) Terminal() bool { return s != BatchPending }

type DetailStatus int

const (
	DetailSending DetailStatus = iota
	DetailSuccess
	DetailFail
)

func (s DetailStatus) String() string {
	switch s {
	case DetailSending:
		return "SENDING"
	case DetailSuccess:
		return "SUCCESS"
	case DetailFail:
		return "FAIL"
	default:
		return "UNKNOWN"
	}
}

// DeriveBatchStatus maps aggregate counts to the terminal batch status.
func DeriveBatchStatus(success, fail int) BatchStatus {
	switch {
	case success == 0 && fail > 0:
		return BatchFail
	case fail == 0:
		return BatchSuccess
	default:
		return BatchPartialSuccess
	}
}
