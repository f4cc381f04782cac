package errcodes

import "git.appkode.ru/pub/go/failure"

const (
	InternalServerError failure.ErrorCode = "InternalServerError"

	ConfigurationNotFound  failure.ErrorCode = "ConfigurationNotFound"
	InvalidConfiguration   failure.ErrorCode = "InvalidConfiguration"
	AttemptAlreadyTerminal failure.ErrorCode = "AttemptAlreadyTerminal"
	AttemptNotTerminal     failure.ErrorCode = "AttemptNotTerminal"
	UnknownSource          failure.ErrorCode = "UnknownSource"
	AdapterFailure         failure.ErrorCode = "AdapterFailure"
	PreloadFailed          failure.ErrorCode = "PreloadFailed"
	ScheduleFailed         failure.ErrorCode = "ScheduleFailed"
	InvalidReplayToken     failure.ErrorCode = "InvalidReplayToken"
)
