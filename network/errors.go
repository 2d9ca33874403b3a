package network

import (
	"errors"
	"fmt"
)

var (
	// ErrConnectionFailed indicates the client could not reach the node.
	ErrConnectionFailed = errors.New("network: connection failed")

	// ErrAuthFailed indicates the node rejected the RPC credentials.
	ErrAuthFailed = errors.New("network: authentication failed")

	// ErrTxNotFound indicates the requested transaction does not exist.
	ErrTxNotFound = errors.New("network: transaction not found")

	// ErrBroadcastRejected indicates the node rejected the broadcast transaction.
	ErrBroadcastRejected = errors.New("network: broadcast rejected")

	// ErrInvalidResponse indicates the node returned a malformed or unexpected response.
	ErrInvalidResponse = errors.New("network: invalid response")
)

// Node RPC error codes.
const (
	RPCMiscError            = -1
	RPCWalletError          = -4
	RPCInvalidAddress       = -5 // also "No such mempool or blockchain transaction"
	RPCVerifyError          = -25
	RPCVerifyRejected       = -26
	RPCVerifyAlreadyInChain = -27
	RPCInWarmup             = -28
)

// RPCError is an error object returned by the node.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("network: rpc error %d: %s", e.Code, e.Message)
}

// Is maps node error codes onto the package sentinels.
func (e *RPCError) Is(target error) bool {
	switch target {
	case ErrTxNotFound:
		return e.Code == RPCInvalidAddress
	case ErrBroadcastRejected:
		return e.Code == RPCVerifyRejected || e.Code == RPCVerifyError
	}
	return false
}
