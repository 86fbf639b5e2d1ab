package gwlog

import (
	"log/slog"
	"os"

	ilogslog "github.com/joeycumines/logiface-slog"
	"github.com/joeycumines/logiface"
)

func newSlog(level logiface.Level) (Logger, error) {
	handler := slog.NewJSONHandler(os.Stderr, nil)
	lg := logiface.New[*ilogslog.Event](
		ilogslog.WithSlogHandler(handler),
		logiface.WithLevel[*ilogslog.Event](level),
	)
	return wrap(lg), nil
}
