package protocol

import "fmt"

// ProtocolError marks a malformed or unsupported frame. The offending
// frame is logged and dropped; the connection stays open.
type ProtocolError struct {
	Reason string
}

func NewProtocolError(reason string) *ProtocolError {
	return &ProtocolError{Reason: reason}
}

func (e *ProtocolError) Error() string {
	return "protocol error: " + e.Reason
}

// ConnectionError marks a transport-level failure. It triggers the
// disconnect transition and conditional reconnection.
type ConnectionError struct {
	ServerID string
	Err      error
}

func NewConnectionError(serverID string, err error) *ConnectionError {
	return &ConnectionError{ServerID: serverID, Err: err}
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connection error (server %s): %v", e.ServerID, e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// AuthenticationError marks a rejected handshake credential. It is
// terminal: no automatic reconnection is scheduled.
type AuthenticationError struct {
	ServerID string
	Reason   string
}

func NewAuthenticationError(serverID, reason string) *AuthenticationError {
	return &AuthenticationError{ServerID: serverID, Reason: reason}
}

func (e *AuthenticationError) Error() string {
	return fmt.Sprintf("authentication rejected (server %s): %s", e.ServerID, e.Reason)
}

// ServerUnavailableError is returned synchronously when an operation is
// attempted against a connection that is not authenticated.
type ServerUnavailableError struct {
	ServerID string
	Status   string
}

func NewServerUnavailableError(serverID, status string) *ServerUnavailableError {
	return &ServerUnavailableError{ServerID: serverID, Status: status}
}

func (e *ServerUnavailableError) Error() string {
	return fmt.Sprintf("server %s unavailable (status %s)", e.ServerID, e.Status)
}

// MaintenanceError marks administrative suppression of an operation.
// It is surfaced to the caller and not retried.
type MaintenanceError struct {
	ServerID string
	Reason   string
}

func NewMaintenanceError(serverID, reason string) *MaintenanceError {
	return &MaintenanceError{ServerID: serverID, Reason: reason}
}

func (e *MaintenanceError) Error() string {
	return fmt.Sprintf("server %s under maintenance: %s", e.ServerID, e.Reason)
}

// RequestTimeoutError is delivered to a caller whose pending request
// was not answered within its timeout window.
type RequestTimeoutError struct {
	RequestID string
	Op        string
}

func (e *RequestTimeoutError) Error() string {
	return fmt.Sprintf("request %s (%s) timed out", e.RequestID, e.Op)
}
