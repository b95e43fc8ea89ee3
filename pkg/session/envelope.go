package session

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/jetstack/securesession/api"
)

// ValidateResponse classifies a raw response and returns its data on
// success. The checks run in a fixed order and the first failure wins:
//
//  1. a status other than 200 gives a *TransportError, without looking at
//     the body;
//  2. a body that is not a JSON envelope gives a *MalformedResponseError;
//  3. an errorDto with a non-null code gives an *ApplicationError;
//  4. when expectedSession is not empty, a data.sessionId that differs from
//     it, or is missing, gives a *SessionIntegrityError.
//
// A null errorDto is treated like an errorDto whose code is null.
func ValidateResponse(status int, reason string, body []byte, expectedSession string) (json.RawMessage, error) {
	return validateResponse("", status, reason, body, expectedSession)
}

func validateResponse(endpoint string, status int, reason string, body []byte, expectedSession string) (json.RawMessage, error) {
	if status != http.StatusOK {
		return nil, &TransportError{Status: status, Reason: reason}
	}

	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil, &MalformedResponseError{Endpoint: endpoint, Err: errors.New("body is not a JSON object")}
	}

	var envelope api.Envelope
	if err := json.Unmarshal(trimmed, &envelope); err != nil {
		return nil, &MalformedResponseError{Endpoint: endpoint, Err: fmt.Errorf("failed to parse response envelope: %w", err)}
	}

	if dto := envelope.ErrorDTO; dto != nil && dto.Code != nil {
		message := fmt.Sprintf("server reported error %s", *dto.Code)
		if dto.Message != nil && *dto.Message != "" {
			message = *dto.Message
		}
		return nil, &ApplicationError{Code: *dto.Code, Message: message}
	}

	if expectedSession != "" {
		actual := sessionIDOf(envelope.Data)
		if actual != expectedSession {
			return nil, &SessionIntegrityError{Expected: expectedSession, Actual: actual}
		}
	}

	return envelope.Data, nil
}

// sessionIDOf returns data.sessionId, or "" when data is not an object or
// carries no string sessionId.
func sessionIDOf(data json.RawMessage) string {
	var sd api.SessionData
	if err := json.Unmarshal(data, &sd); err != nil || sd.SessionID == nil {
		return ""
	}
	return *sd.SessionID
}
