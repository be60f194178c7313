package retrieval

import "fmt"

// Error reports an embedding or index failure during retrieval.
type Error struct {
	Op  string
	Err error
}

func (e *Error) Error() string {
	return fmt.Sprintf("retrieval %s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}
