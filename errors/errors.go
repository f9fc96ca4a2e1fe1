// Package errors defines the wire-visible error taxonomy shared by the
// group and transaction coordinators, plus the translation from a log
// append status into the coordinator-facing error the client sees.
//
// https://kafka.apache.org/protocol#protocol_error_codes
package errors

// Error is a wire error code paired with its message and retriability.
type Error struct {
	Code        int16
	Message     string
	IsRetriable bool
}

func (e Error) Error() string {
	return e.Message
}

// Define each error as a variable of type Error. Only the subset the
// coordinator managers can themselves produce or must translate an
// append status into is enumerated here; the full protocol table lives
// with the wire-decoding layer, which is out of scope for this module.
var (
	ErrUnknownServerError           = Error{Code: -1, Message: "The server experienced an unexpected error when processing the request.", IsRetriable: false}
	ErrNone                         = Error{Code: 0, Message: "", IsRetriable: false}
	ErrUnknownTopicOrPartition      = Error{Code: 3, Message: "This server does not host this topic-partition.", IsRetriable: true}
	ErrRequestTimedOut              = Error{Code: 7, Message: "The request timed out.", IsRetriable: true}
	ErrMessageTooLarge              = Error{Code: 10, Message: "The request included a message larger than the max message size the server will accept.", IsRetriable: false}
	ErrCoordinatorLoadInProgress    = Error{Code: 14, Message: "The coordinator is loading and hence can't process requests.", IsRetriable: true}
	ErrCoordinatorNotAvailable      = Error{Code: 15, Message: "The coordinator is not available.", IsRetriable: true}
	ErrNotCoordinator               = Error{Code: 16, Message: "This is not the correct coordinator.", IsRetriable: true}
	ErrRecordListTooLarge           = Error{Code: 18, Message: "The request included message batch larger than the configured segment size on the server.", IsRetriable: false}
	ErrNotEnoughReplicas            = Error{Code: 19, Message: "Messages are rejected since there are fewer in-sync replicas than required.", IsRetriable: true}
	ErrNotEnoughReplicasAfterAppend = Error{Code: 20, Message: "Messages are written to the log, but to fewer in-sync replicas than required.", IsRetriable: true}
	ErrInvalidTxnTimeout            = Error{Code: 50, Message: "The transaction timeout is larger than the maximum value allowed by the broker.", IsRetriable: false}
	ErrConcurrentTransactions       = Error{Code: 51, Message: "A commit or abort for the transactional id is still in progress.", IsRetriable: true}
	ErrKafkaStorageError            = Error{Code: 56, Message: "Disk error when trying to access the log file on disk.", IsRetriable: true}
)

// ErrorMap associates error codes with corresponding Error structs
var ErrorMap = map[int16]Error{
	-1: ErrUnknownServerError,
	0:  ErrNone,
	3:  ErrUnknownTopicOrPartition,
	7:  ErrRequestTimedOut,
	10: ErrMessageTooLarge,
	14: ErrCoordinatorLoadInProgress,
	15: ErrCoordinatorNotAvailable,
	16: ErrNotCoordinator,
	18: ErrRecordListTooLarge,
	19: ErrNotEnoughReplicas,
	20: ErrNotEnoughReplicasAfterAppend,
	50: ErrInvalidTxnTimeout,
	51: ErrConcurrentTransactions,
	56: ErrKafkaStorageError,
}

// FromAppendStatus implements the Append Pipeline's status translation
// table: it maps the error a log append came back with to the
// coordinator error a client should see.
func FromAppendStatus(status Error) Error {
	switch status.Code {
	case ErrNone.Code:
		return ErrNone
	case ErrUnknownTopicOrPartition.Code, ErrNotEnoughReplicas.Code, ErrNotEnoughReplicasAfterAppend.Code, ErrRequestTimedOut.Code:
		return ErrCoordinatorNotAvailable
	case ErrKafkaStorageError.Code:
		return ErrNotCoordinator
	case ErrMessageTooLarge.Code, ErrRecordListTooLarge.Code:
		return ErrUnknownServerError
	default:
		return ErrUnknownServerError
	}
}
