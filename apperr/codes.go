package apperr

type Code string

const (
	CodeUnknown                Code = "UNKNOWN"
	CodeNotAuthorized          Code = "NOT_AUTHORIZED"
	CodeNotFound               Code = "NOT_FOUND"
	CodeNotAuthorizedForEntity Code = "NOT_AUTHORIZED_FOR_ENTITY"
	CodeConflict               Code = "CONFLICT"
	CodeInvalid                Code = "INVALID"
	CodeTransient              Code = "TRANSIENT_STORE_FAILURE"
	CodeInternal               Code = "INTERNAL"
)
