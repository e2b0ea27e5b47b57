package exterrors

import "errors"

// TemporaryErr is implemented by errors that know whether a retry of the
// same operation might succeed. Sign is deterministic and never returns a
// temporary error; an IOError wrapping a transient filesystem failure does.
type TemporaryErr interface {
	Temporary() bool
}

// IsTemporary reports whether err has a Temporary() method and it returns
// true. Errors without the method are treated as permanent.
func IsTemporary(err error) bool {
	var temp TemporaryErr
	if errors.As(err, &temp) {
		return temp.Temporary()
	}
	return false
}
