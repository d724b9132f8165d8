// Package webkit bridges zerolog, this repo's logging library, into
// the go-kit/log.Logger interface exporter-toolkit/web requires for
// its listener setup, the way the teacher's newer
// cmd/pgpool2_exporter/main.go wires go-kit/log directly.
package webkit

import (
	"fmt"

	kitlog "github.com/go-kit/log"
	"github.com/rs/zerolog"
)

// zerologAdapter implements kitlog.Logger by forwarding keyvals to a
// zerolog.Logger event.
type zerologAdapter struct {
	log zerolog.Logger
}

// NewLogger adapts log to the go-kit/log.Logger interface.
func NewLogger(log zerolog.Logger) kitlog.Logger {
	return &zerologAdapter{log: log}
}

// Log implements kitlog.Logger. exporter-toolkit logs with alternating
// key/value pairs; level is inferred from a "level" keyval if present,
// defaulting to info, and a "msg" keyval becomes the event's message.
func (a *zerologAdapter) Log(keyvals ...interface{}) error {
	level := zerolog.InfoLevel
	msg := ""
	fields := make(map[string]interface{}, len(keyvals)/2)

	for i := 0; i+1 < len(keyvals); i += 2 {
		key, ok := keyvals[i].(string)
		if !ok {
			continue
		}
		if key == "level" {
			if lvl, ok := keyvals[i+1].(fmt.Stringer); ok {
				if parsed, err := zerolog.ParseLevel(lvl.String()); err == nil {
					level = parsed
				}
			}
			continue
		}
		if key == "msg" {
			msg = fmt.Sprint(keyvals[i+1])
			continue
		}
		fields[key] = keyvals[i+1]
	}

	var evt *zerolog.Event
	switch level {
	case zerolog.DebugLevel:
		evt = a.log.Debug()
	case zerolog.WarnLevel:
		evt = a.log.Warn()
	case zerolog.ErrorLevel:
		evt = a.log.Error()
	default:
		evt = a.log.Info()
	}

	for k, v := range fields {
		evt = evt.Interface(k, v)
	}
	evt.Msg(msg)
	return nil
}
