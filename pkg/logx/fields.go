package logx

import (
	"time"

	"github.com/rs/zerolog"
)

// Field adds one key to a log event. Later fields overwrite earlier ones with
// the same key.
type Field func(e *zerolog.Event)

func String(k, v string) Field        { return func(e *zerolog.Event) { e.Str(k, v) } }
func Int(k string, v int) Field       { return func(e *zerolog.Event) { e.Int(k, v) } }
func Uint64(k string, v uint64) Field { return func(e *zerolog.Event) { e.Uint64(k, v) } }
func Bool(k string, v bool) Field     { return func(e *zerolog.Event) { e.Bool(k, v) } }
func Duration(k string, v time.Duration) Field {
	return func(e *zerolog.Event) { e.Dur(k, v) }
}
func Time(k string, v time.Time) Field { return func(e *zerolog.Event) { e.Time(k, v) } }
func Any(k string, v any) Field        { return func(e *zerolog.Event) { e.Interface(k, v) } }

// Err sets the "err" key. A nil error adds nothing.
func Err(err error) Field {
	return func(e *zerolog.Event) {
		if err != nil {
			e.Err(err)
		}
	}
}

// Keys shared by every component so log queries can join sweep, relay and
// dispatch lines for one will.
const (
	KeyComponent = "comp"
	KeyWill      = "will_id"
	KeyCharacter = "character_id"
	KeyOutbox    = "outbox_id"
)

func Component(name string) Field { return String(KeyComponent, name) }
func WillID(id string) Field      { return String(KeyWill, id) }
func CharacterID(id string) Field { return String(KeyCharacter, id) }
func OutboxID(id string) Field    { return String(KeyOutbox, id) }
