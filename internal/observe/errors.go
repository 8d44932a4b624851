package observe

import "fmt"

// ParseError reports git output the observer could not decode.
type ParseError struct {
	Source string
	Detail string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parsing %s: %s", e.Source, e.Detail)
}
