package domain

// ProgressEventType tags the events emitted by a long-running generate job.
type ProgressEventType string

const (
	ProgressStatus    ProgressEventType = "status"
	ProgressProgress  ProgressEventType = "progress"
	ProgressCompleted ProgressEventType = "completed"
	ProgressDone      ProgressEventType = "done"
	ProgressError     ProgressEventType = "error"
)

// ProgressEvent is one event in a report-generation progress stream.
// Exactly one terminal event (done or error) ends every stream.
type ProgressEvent struct {
	Type         ProgressEventType `json:"-"`
	Stage        string            `json:"stage,omitempty"`
	Message      string            `json:"message,omitempty"`
	Filename     string            `json:"filename,omitempty"`
	ErrorType    string            `json:"error_type,omitempty"`
	ErrorMessage string            `json:"error_message,omitempty"`
	TraceID      string            `json:"trace_id,omitempty"`
	Hint         string            `json:"hint,omitempty"`
}

// Terminal reports whether this event ends the stream.
func (e ProgressEvent) Terminal() bool {
	return e.Type == ProgressDone || e.Type == ProgressError
}
