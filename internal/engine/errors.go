package engine

import "fmt"

// RecordError is a failure confined to a single input record.
type RecordError struct {
	Err error
	Ref string
}

func (e *RecordError) Error() string {
	return fmt.Sprintf("record %s: %v", e.Ref, e.Err)
}

func (e *RecordError) Unwrap() error {
	return e.Err
}

// BatchError is a terminal failure of a whole scan. Result holds whatever
// was classified before the failure.
type BatchError struct {
	Err    error
	Result *Result
}

func (e *BatchError) Error() string {
	return fmt.Sprintf("scan aborted: %v", e.Err)
}

func (e *BatchError) Unwrap() error {
	return e.Err
}
