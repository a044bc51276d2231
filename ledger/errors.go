package ledger

import (
	"encoding/json"
	"errors"
	"fmt"
)

// RejectedError is a permanent submission failure. Retrying the same
// registration will not succeed.
type RejectedError struct {
	Reason string
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("ledger rejected transaction: %s", e.Reason)
}

// UnavailableError is a transient failure talking to the ledger.
type UnavailableError struct {
	Reason string
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("ledger unavailable: %s", e.Reason)
}

// NotFoundError is returned by GetStatus for unknown transaction references.
type NotFoundError struct {
	Ref TxRef
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("transaction %s not found", e.Ref)
}

// The marshalers let the error types travel as jsonrpc error data.

func (e *RejectedError) MarshalJSON() ([]byte, error) {
	return json.Marshal(map[string]string{"reason": e.Reason})
}

func (e *RejectedError) UnmarshalJSON(b []byte) error {
	var m map[string]string
	if err := json.Unmarshal(b, &m); err != nil {
		return err
	}
	e.Reason = m["reason"]
	return nil
}

func (e *UnavailableError) MarshalJSON() ([]byte, error) {
	return json.Marshal(map[string]string{"reason": e.Reason})
}

func (e *UnavailableError) UnmarshalJSON(b []byte) error {
	var m map[string]string
	if err := json.Unmarshal(b, &m); err != nil {
		return err
	}
	e.Reason = m["reason"]
	return nil
}

func (e *NotFoundError) MarshalJSON() ([]byte, error) {
	return json.Marshal(map[string]string{"ref": string(e.Ref)})
}

func (e *NotFoundError) UnmarshalJSON(b []byte) error {
	var m map[string]string
	if err := json.Unmarshal(b, &m); err != nil {
		return err
	}
	e.Ref = TxRef(m["ref"])
	return nil
}

func IsRejected(err error) bool {
	var rej *RejectedError
	return errors.As(err, &rej)
}

// IsTransient reports whether a submission may be retried. Anything that is
// not an explicit rejection is assumed transient.
func IsTransient(err error) bool {
	return err != nil && !IsRejected(err)
}

func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}
