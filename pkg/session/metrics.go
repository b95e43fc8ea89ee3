package session

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	metricOperations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "securesession",
			Subsystem: "client",
			Name:      "operations_total",
			Help:      "Session operations attempted by the client, by operation and result.",
		}, []string{"operation", "result"})
)

func init() {
	prometheus.MustRegister(metricOperations)
}

// resultLabel maps an operation error to a low cardinality label value.
func resultLabel(err error) string {
	var (
		transportErr   *TransportError
		applicationErr *ApplicationError
		integrityErr   *SessionIntegrityError
		decryptionErr  *DecryptionError
		encryptionErr  *EncryptionError
		stateErr       *ProtocolStateError
		concurrentErr  *ConcurrentOperationError
		malformedErr   *MalformedResponseError
	)

	switch {
	case err == nil:
		return "success"
	case errors.As(err, &transportErr):
		return "transport_error"
	case errors.As(err, &applicationErr):
		return "application_error"
	case errors.As(err, &integrityErr):
		return "session_integrity_error"
	case errors.As(err, &decryptionErr):
		return "decryption_error"
	case errors.As(err, &encryptionErr):
		return "encryption_error"
	case errors.As(err, &stateErr):
		return "protocol_state_error"
	case errors.As(err, &concurrentErr):
		return "concurrent_operation_error"
	case errors.As(err, &malformedErr):
		return "malformed_response"
	case errors.Is(err, ErrEmptyCredential):
		return "empty_credential"
	default:
		return "error"
	}
}
