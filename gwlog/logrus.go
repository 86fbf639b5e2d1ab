package gwlog

import (
	ilogrus "github.com/joeycumines/ilogrus"
	"github.com/joeycumines/logiface"
	"github.com/sirupsen/logrus"
)

func newLogrus(level logiface.Level) (Logger, error) {
	base := logrus.New()
	lg := logiface.New[*ilogrus.Event](
		ilogrus.WithLogrus(base),
		logiface.WithLevel[*ilogrus.Event](level),
	)
	return wrap(lg), nil
}
