package types

type APIResponse struct {
	Success bool      `json:"success"`
	Data    any       `json:"data"`
	Error   *APIError `json:"error,omitempty"`
	Meta    *Meta     `json:"meta,omitempty"`
}

type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

type Meta struct {
	RequestID string `json:"request_id,omitempty"`
	Total     int64  `json:"total,omitempty"`
}

// Message is the body of mutations that return no entity.
type Message struct {
	Message string `json:"message"`
}

// BatchResult reports how many requirements a batch update matched.
type BatchResult struct {
	Message string `json:"message"`
	Matched int64  `json:"matched"`
}
