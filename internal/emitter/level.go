package emitter

import (
	"errors"
	"fmt"
	"net/http"

	"go.opentelemetry.io/otel/codes"
)

// Level is a requested severity.
type Level string

const (
	Debug Level = "debug"
	Info  Level = "info"
	Warn  Level = "warn"
	Error Level = "error"
)

// Levels lists every accepted severity.
var Levels = []Level{Debug, Info, Warn, Error}

var ErrUnknownLevel = errors.New("unknown level")

// Outcome is what a level does to a span and to the response.
type Outcome struct {
	Event      string     // span event name
	Status     codes.Code // span status code
	Failure    bool       // record an exception and set error=true
	HTTPStatus int
}

var outcomes = map[Level]Outcome{
	Debug: {Event: "debug", Status: codes.Ok, HTTPStatus: http.StatusNoContent},
	Info:  {Event: "info", Status: codes.Ok, HTTPStatus: http.StatusNoContent},
	Warn:  {Event: "warning", Status: codes.Ok, HTTPStatus: http.StatusNoContent},
	Error: {Event: "error", Status: codes.Error, Failure: true, HTTPStatus: http.StatusInternalServerError},
}

// ParseLevel accepts exactly the names in Levels.
func ParseLevel(s string) (Level, error) {
	l := Level(s)
	if _, ok := outcomes[l]; !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownLevel, s)
	}
	return l, nil
}

// Outcome returns the table entry for l. It panics for levels not returned
// by ParseLevel.
func (l Level) Outcome() Outcome {
	out, ok := outcomes[l]
	if !ok {
		panic(fmt.Sprintf("emitter: no outcome for level %q", string(l)))
	}
	return out
}

func (l Level) String() string {
	return string(l)
}
