package rule

import "errors"

// ErrInvalidJSON is returned by ParseJSON when the document is not valid
// JSON, or when a predicate field that must be an array is not one.
var ErrInvalidJSON = errors.New("invalid rule json")
