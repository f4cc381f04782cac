package logx

const (
	FieldAppName         = "app-name"
	FieldAppVersion      = "app-version"
	FieldAttemptID       = "attempt-id"
	FieldAttemptKind     = "attempt-kind"
	FieldConfigurationID = "configuration-id"
	FieldDurationMs      = "duration-ms"
	FieldError           = "error"
	FieldHTTPRequest     = "http-request"
	FieldHTTPResponse    = "http-response"
	FieldListingID       = "listing-id"
	FieldOwnerID         = "owner-id"
	FieldRaceID          = "race-id"
	FieldReason          = "reason"
	FieldRequestBody     = "request-body"
	FieldRequestID       = "request-id"
	FieldResponseBody    = "response-body"
	FieldSource          = "source"
	FieldStack           = "stack"
	FieldStrategy        = "strategy"
	FieldTraceID         = "trace-id"
	FieldTransactionID   = "transaction-id"
)
