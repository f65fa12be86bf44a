// Package logging provides the shared root logger for every component
// of the overlay core (chord, pastry, network, localindex, driver).
package logging

import (
	"os"

	"github.com/rs/zerolog"
)

// Root is the base logger every package derives its component logger
// from via Root.With().Str("component", name).Logger(). Root's own level
// is Info, so Debug messages are never emitted; zerolog.SetGlobalLevel
// from a collaborator (e.g. a CLI) can only raise the threshold above
// Info.
var Root zerolog.Logger = zerolog.New(
	zerolog.NewConsoleWriter(
		func(w *zerolog.ConsoleWriter) { w.Out = os.Stderr },
		func(w *zerolog.ConsoleWriter) { w.TimeFormat = "15:04:05.000" })).
	Level(zerolog.InfoLevel).
	With().Timestamp().Logger()

// Component returns a child logger tagged with the given component name.
func Component(name string) zerolog.Logger {
	return Root.With().Str("component", name).Logger()
}
