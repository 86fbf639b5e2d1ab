package gwlog

import (
	"os"

	izerolog "github.com/joeycumines/izerolog"
	"github.com/joeycumines/logiface"
	"github.com/rs/zerolog"
)

func newZerolog(level logiface.Level) (Logger, error) {
	z := zerolog.New(os.Stderr).With().Timestamp().Logger()
	lg := logiface.New[*izerolog.Event](
		izerolog.WithZerolog(z),
		logiface.WithLevel[*izerolog.Event](level),
	)
	return wrap(lg), nil
}
