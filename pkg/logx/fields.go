package logx

import (
	"time"

	"github.com/rs/zerolog"

	"amd/internal/errors"
)

// Field mutates a zerolog event. Fields apply in order; a repeated key is
// written twice and the later value wins in most readers.
type Field func(e *zerolog.Event)

func String(k, v string) Field           { return func(e *zerolog.Event) { e.Str(k, v) } }
func Strings(k string, v []string) Field { return func(e *zerolog.Event) { e.Strs(k, v) } }
func Int(k string, v int) Field          { return func(e *zerolog.Event) { e.Int(k, v) } }
func Int64(k string, v int64) Field      { return func(e *zerolog.Event) { e.Int64(k, v) } }
func Uint64(k string, v uint64) Field    { return func(e *zerolog.Event) { e.Uint64(k, v) } }
func Bool(k string, v bool) Field        { return func(e *zerolog.Event) { e.Bool(k, v) } }
func Time(k string, v time.Time) Field   { return func(e *zerolog.Event) { e.Time(k, v) } }
func Any(k string, v any) Field          { return func(e *zerolog.Event) { e.Interface(k, v) } }

func Duration(k string, v time.Duration) Field {
	return func(e *zerolog.Event) { e.Dur(k, v) }
}

// Err records err under "err" and, when err carries an outcome kind, the
// kind under "kind". A nil err writes nothing.
func Err(err error) Field {
	return func(e *zerolog.Event) {
		if err == nil {
			return
		}
		e.AnErr(errFieldName, err)
		if k := errors.KindOf(err); k != errors.KindUnknown {
			e.Str("kind", k.String())
		}
	}
}

// Comp tags a logger with the component name.
func Comp(name string) Field { return String("comp", name) }
