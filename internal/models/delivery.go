package models

// DeliveryError describes one failed push attempt. Endpoint is truncated so
// summaries stay readable and never leak full capability URLs into logs.
type DeliveryError struct {
	Endpoint   string `json:"endpoint"`
	StatusCode int    `json:"status_code"`
	Body       string `json:"body,omitempty"`
}

// DeliverySummary aggregates the per-subscription outcomes of one push
// fan-out. Partial failure is the normal case; a summary never represents an
// error by itself.
type DeliverySummary struct {
	Sent    int             `json:"sent"`
	Failed  int             `json:"failed"`
	Removed int             `json:"removed"`
	Errors  []DeliveryError `json:"errors"`
}
