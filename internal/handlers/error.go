package handlers

// ErrorResponse is the standard API error body (message only).
type ErrorResponse struct {
	Message string `json:"message"`
}

// RejectionResponse is the body for uploads rejected by content inspection.
// Errors block the upload; warnings are informational.
type RejectionResponse struct {
	Message  string   `json:"message"`
	Errors   []string `json:"errors"`
	Warnings []string `json:"warnings,omitempty"`
}
