package cfdp

import "strconv"

// Status is the final (or current) status of a transaction. Values 0 through 15
// mirror [ConditionCode] while higher values are local statuses that have
// no direct wire representation. Use [Status.ConditionCode] to map a status to
// the condition code reported to the peer.
type Status int8

const (
	StatusUndefined Status = -1
	StatusNoError   Status = Status(ConditionNoError)

	StatusPosAckLimitReached      Status = Status(ConditionPosAckLimitReached)
	StatusKeepAliveLimitReached   Status = Status(ConditionKeepAliveLimitReached)
	StatusInvalidTransmissionMode Status = Status(ConditionInvalidTransmissionMode)
	StatusFilestoreRejection      Status = Status(ConditionFilestoreRejection)
	StatusFileChecksumFailure     Status = Status(ConditionFileChecksumFailure)
	StatusFileSizeError           Status = Status(ConditionFileSizeError)
	StatusNakLimitReached         Status = Status(ConditionNakLimitReached)
	StatusInactivityDetected      Status = Status(ConditionInactivityDetected)
	StatusInvalidFileStructure    Status = Status(ConditionInvalidFileStructure)
	StatusCheckLimitReached       Status = Status(ConditionCheckLimitReached)
	StatusUnsupportedChecksumType Status = Status(ConditionUnsupportedChecksumType)
	StatusSuspendRequestReceived  Status = Status(ConditionSuspendRequestReceived)
	StatusCancelRequestReceived   Status = Status(ConditionCancelRequestReceived)

	// StatusAckLimitNoFIN is set by a class 2 receiver whose FIN was never acknowledged.
	StatusAckLimitNoFIN Status = 16
	// StatusAckLimitNoEOF is set by a class 2 sender whose EOF was never acknowledged.
	StatusAckLimitNoEOF Status = 17
	// StatusNakResponseError is set by a sender that could not service a NAK.
	StatusNakResponseError Status = 18
	// StatusEarlyFIN is set by a sender that received FIN before finishing its EOF exchange.
	StatusEarlyFIN Status = 19
	// StatusNoResource is set when a transaction could not acquire a pool resource.
	StatusNoResource Status = 20
)

// StatusFromCondition returns the status corresponding to a received condition code.
func StatusFromCondition(cc ConditionCode) Status {
	return Status(cc & 0xf)
}

// IsError reports whether the status denotes a failed transaction.
// [StatusUndefined] is not an error; it is the status of a transaction in progress.
func (s Status) IsError() bool {
	return s != StatusNoError && s != StatusUndefined
}

// ConditionCode maps the status to the condition code reported to the peer in EOF or FIN PDUs.
func (s Status) ConditionCode() ConditionCode {
	switch {
	case s >= 0 && s <= 15:
		return ConditionCode(s)
	case s == StatusAckLimitNoFIN || s == StatusAckLimitNoEOF:
		return ConditionPosAckLimitReached
	case s == StatusNakResponseError || s == StatusNoResource:
		return ConditionFilestoreRejection
	}
	// StatusUndefined and StatusEarlyFIN carry no error to the peer.
	return ConditionNoError
}

func (s Status) String() string {
	switch s {
	case StatusUndefined:
		return "Undefined"
	case StatusAckLimitNoFIN:
		return "AckLimitNoFIN"
	case StatusAckLimitNoEOF:
		return "AckLimitNoEOF"
	case StatusNakResponseError:
		return "NakResponseError"
	case StatusEarlyFIN:
		return "EarlyFIN"
	case StatusNoResource:
		return "NoResource"
	}
	if s >= 0 && s <= 15 {
		return ConditionCode(s).String()
	}
	return "status(" + strconv.Itoa(int(s)) + ")"
}
