// Package exterrors carries structured fields and a Temporary() capability
// alongside plain errors, the way the teacher codebase's framework package
// of the same name does, so internal/log can render reason=/mailbox=/etc.
// without every call site hand-building a format string.
package exterrors

type fieldsErr interface {
	Fields() map[string]interface{}
}

type unwrapper interface {
	Unwrap() error
}

type fieldsWrap struct {
	err    error
	fields map[string]interface{}
}

func (fw fieldsWrap) Error() string { return fw.err.Error() }
func (fw fieldsWrap) Unwrap() error { return fw.err }
func (fw fieldsWrap) Fields() map[string]interface{} {
	return fw.fields
}

// Fields walks the Unwrap chain of err and merges every Fields() map it
// finds, outermost wins on key collision.
func Fields(err error) map[string]interface{} {
	fields := make(map[string]interface{}, 5)

	for err != nil {
		if errFields, ok := err.(fieldsErr); ok {
			for k, v := range errFields.Fields() {
				if fields[k] != nil {
					continue
				}
				fields[k] = v
			}
		}

		unwrap, ok := err.(unwrapper)
		if !ok {
			break
		}
		err = unwrap.Unwrap()
	}

	return fields
}

// WithFields attaches structured fields to err without changing its
// Error() text or Unwrap chain.
func WithFields(err error, fields map[string]interface{}) error {
	return fieldsWrap{err: err, fields: fields}
}
