package api

// SubmitReq is the intake payload. Field names follow the storage API's
// submission rows so that the same JSON can be forwarded unchanged.
type SubmitReq struct {
	// ID is assigned by the storage API. A random uuid is used when empty.
	ID string `json:"id,omitempty"`

	Code     string `json:"code"`
	Language string `json:"language,omitempty"`

	Input string `json:"input"`
	// InputUrl points to an S3 object holding stdin, optionally zstd compressed.
	// Used instead of Input when set.
	InputUrl *string `json:"inputUrl,omitempty"`

	TimeLimitMs    int64   `json:"timeLimit"`
	MemoryLimitKiB int64   `json:"memoryLimit"`
	ExpectedOutput *string `json:"expectedOutput,omitempty"`
}

type SubmitResp struct {
	ID    string  `json:"id,omitempty"`
	Error *string `json:"error,omitempty"`
	// QueueFull is set when the submission was rejected for lack of capacity.
	QueueFull bool `json:"queue_full,omitempty"`
}

func NewSubmitErrResp(err error, queueFull bool) SubmitResp {
	msg := err.Error()
	return SubmitResp{Error: &msg, QueueFull: queueFull}
}
