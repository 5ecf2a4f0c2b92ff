package registry

// Status is the ingestion state of an uploaded file.
type Status string

const (
	StatusUploaded   Status = "Uploaded"
	StatusProcessing Status = "Processing"
	StatusCompleted  Status = "Completed"
	StatusFailed     Status = "Failed"
)

// FileRecord is the metadata row for one uploaded file.
// UID is assigned at creation and never reused; it doubles as the
// vector collection key, so the collection lifecycle is 1:1 with the record.
type FileRecord struct {
	ID     int64
	Name   string
	UID    string
	Status Status
}

// User is a registered user row, exposed by the users endpoint.
type User struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}
