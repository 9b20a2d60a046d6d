package store

import "time"

// Evaluation is one journaled request and its outcome. Bindings and Result
// hold the raw wire text; neither is guaranteed to be strict JSON.
type Evaluation struct {
	ID           string        `json:"id"`
	RequestID    string        `json:"request_id"`
	Command      string        `json:"command"`
	Transport    string        `json:"transport,omitempty"`
	Formula      string        `json:"formula"`
	Bindings     string        `json:"bindings,omitempty"`
	Result       string        `json:"result,omitempty"`
	ErrorCode    string        `json:"error_code,omitempty"`
	ErrorMessage string        `json:"error_message,omitempty"`
	Duration     time.Duration `json:"duration"`
	CreatedAt    time.Time     `json:"created_at"`
}

// Failed reports whether the request produced an error response.
func (e *Evaluation) Failed() bool { return e.ErrorCode != "" }

// EvaluationFilter specifies criteria for listing journal entries.
type EvaluationFilter struct {
	Command   string     `json:"command,omitempty"`
	ErrorCode string     `json:"error_code,omitempty"`
	Failed    *bool      `json:"failed,omitempty"`
	Since     *time.Time `json:"since,omitempty"`
	Limit     int        `json:"limit,omitempty"`
	Offset    int        `json:"offset,omitempty"`
}

// Stats summarizes the journal contents.
type Stats struct {
	Total  int64            `json:"total"`
	Failed int64            `json:"failed"`
	ByCode map[string]int64 `json:"by_code,omitempty"`
	Oldest *time.Time       `json:"oldest,omitempty"`
	Newest *time.Time       `json:"newest,omitempty"`
}

// payload is the compressed part of a journal row.
type payload struct {
	Bindings string `json:"bindings,omitempty"`
	Result   string `json:"result,omitempty"`
}
