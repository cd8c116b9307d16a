package logging

// Standardized attribute keys shared across subsystems.
const (
	FieldComponent  = "component"
	FieldJobID      = "job_id"
	FieldExternalID = "external_id"
	FieldStatus     = "status"
	FieldAttempt    = "attempt"
	FieldDuration   = "duration"
	FieldURL        = "url"
)
