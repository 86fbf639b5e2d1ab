package gwlog

import (
	"os"

	"github.com/joeycumines/logiface"
	"github.com/joeycumines/stumpy"
)

func newStumpy(level logiface.Level) (Logger, error) {
	lg := logiface.New[*stumpy.Event](
		stumpy.WithStumpy(stumpy.WithWriter(os.Stderr)),
		logiface.WithLevel[*stumpy.Event](level),
	)
	return wrap(lg), nil
}
