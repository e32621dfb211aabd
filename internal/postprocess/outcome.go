package postprocess

// Status summarises what happened to one completed download.
type Status string

const (
	// StatusProcessed means the payload was organized into the library.
	StatusProcessed Status = "processed"
	// StatusUnsupported means no file of the wanted kind was found.
	StatusUnsupported Status = "unsupported"
	// StatusRejected means a substantive file carried a banned extension or word.
	StatusRejected Status = "rejected"
	// StatusTypeMismatch means the payload held the other media kind.
	StatusTypeMismatch Status = "type_mismatch"
	// StatusUnmatched means the payload could not be tied to a catalog item
	// and was recorded for manual review.
	StatusUnmatched Status = "unmatched"
	// StatusPending means the download folder could not be located yet or
	// still holds in-progress files.
	StatusPending Status = "pending"
)

// Outcome is the result of ProcessDownload.
type Outcome struct {
	Status      Status
	Destination string
	Message     string
}
