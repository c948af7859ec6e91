package utils

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// SetupZerolog installs the console logger on stdout, see SetupZerologWithWriter.
func SetupZerolog(level string) {
	SetupZerologWithWriter(os.Stdout, level)
}

// SetupZerologWithWriter sets up zerolog with custom output to include milliseconds in the timestamp.
// Unknown levels fall back to debug, as that's what you want while poking at audio devices.
func SetupZerologWithWriter(out io.Writer, level string) {
	log.Logger = zerolog.New(zerolog.ConsoleWriter{
		Out:        out,
		TimeFormat: "2006-01-02T15:04:05.000-07:00", // Fake news, BUT we need milliseconds to debug stuff.
	}).With().Timestamp().Logger()
	// https://github.com/rs/zerolog/issues/114
	zerolog.TimeFieldFormat = time.RFC3339Nano

	parsed, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		parsed = zerolog.DebugLevel
	}
	zerolog.SetGlobalLevel(parsed)
}

// Dbg logs errors which we can live with.
func Dbg(err error) {
	if err != nil {
		log.Debug().Err(err).Msg("sth non-essential failed")
	}
}
