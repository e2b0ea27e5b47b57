// Package log implements the minimalistic structured logger used across
// gosmime. It is intentionally small: the core is a library and must not
// force a particular logging destination on its caller, so Logger is a
// stateless value that defaults to discarding output.
package log

import (
	"fmt"
	"strings"
	"time"

	"github.com/foxcpp/gosmime/internal/exterrors"
	"go.uber.org/zap"
)

// Logger writes formatted messages to an underlying Output.
//
// Logger is stateless and can be copied freely; the Output it wraps is not
// copied and is responsible for its own goroutine-safety.
type Logger struct {
	Out   Output
	Name  string
	Debug bool

	Fields map[string]interface{}
}

// Zap returns a *zap.Logger that forwards entries to l, for code paths that
// want to use zap's structured field builders directly (digitorus/pkcs7 and
// go-ldap both log through the standard library logger interface; Zap lets
// callers bridge that into the same sink as the rest of gosmime).
func (l Logger) Zap() *zap.Logger {
	return zap.New(zapLogger{L: l})
}

func (l Logger) Debugf(format string, val ...interface{}) {
	if !l.Debug {
		return
	}
	l.log(true, l.formatMsg(fmt.Sprintf(format, val...), nil))
}

func (l Logger) Printf(format string, val ...interface{}) {
	l.log(false, l.formatMsg(fmt.Sprintf(format, val...), nil))
}

func (l Logger) Println(val ...interface{}) {
	l.log(false, l.formatMsg(strings.TrimRight(fmt.Sprintln(val...), "\n"), nil))
}

// Msg writes a structured event: "name: msg\t{json fields}".
func (l Logger) Msg(msg string, fields ...interface{}) {
	m := make(map[string]interface{}, len(fields)/2)
	fieldsToMap(fields, m)
	l.log(false, l.formatMsg(msg, m))
}

// Error writes an event describing a failed operation. Fields attached to
// err via exterrors.WithFields are merged in automatically.
func (l Logger) Error(msg string, err error, fields ...interface{}) {
	if err == nil {
		return
	}

	errFields := exterrors.Fields(err)
	allFields := make(map[string]interface{}, len(fields)+len(errFields)+2)
	for k, v := range errFields {
		allFields[k] = v
	}
	if allFields["reason"] == nil {
		allFields["reason"] = err.Error()
	}
	fieldsToMap(fields, allFields)

	l.log(false, l.formatMsg(msg, allFields))
}

func fieldsToMap(fields []interface{}, out map[string]interface{}) {
	var lastKey string
	for i, val := range fields {
		if i%2 == 0 {
			key, ok := val.(string)
			if !ok {
				out[fmt.Sprint("field", i)] = val
				continue
			}
			lastKey = key
		} else {
			out[lastKey] = val
		}
	}
}

func (l Logger) formatMsg(msg string, fields map[string]interface{}) string {
	formatted := strings.Builder{}
	formatted.WriteString(msg)
	formatted.WriteRune('\t')

	if len(l.Fields)+len(fields) != 0 {
		if fields == nil {
			fields = make(map[string]interface{})
		}
		for k, v := range l.Fields {
			fields[k] = v
		}
		if err := marshalOrderedJSON(&formatted, fields); err != nil {
			return fmt.Sprintf("[BROKEN FORMATTING: %v] %v %+v", err, msg, fields)
		}
	}

	return formatted.String()
}

type LogFormatter interface {
	FormatLog() string
}

func (l Logger) log(debug bool, s string) {
	if l.Name != "" {
		s = l.Name + ": " + s
	}

	if l.Out != nil {
		l.Out.Write(time.Now(), debug, s)
		return
	}
	// No output configured: this Logger value is a no-op, by design —
	// gosmime is a library and must not write to stderr unasked.
}

// Nop is the zero-value Logger: Name empty, Out nil, every call silent.
var Nop = Logger{}
