package bench

import "fmt"

// IOError reports a manifest, query or schema file that could not be read.
// For a manifest entry it skips that entry only.
type IOError struct {
	File string
	Err  error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("bench: read %s: %v", e.File, e.Err)
}

func (e *IOError) Unwrap() error { return e.Err }
