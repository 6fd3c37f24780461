package gateway

import (
	"time"

	"github.com/adhocore/gronx"
	"github.com/pkg/errors"
)

// nextTick returns the first time after t that matches expr.
func nextTick(expr string, t time.Time) (time.Time, error) {
	if !gronx.New().IsValid(expr) {
		return time.Time{}, errors.Errorf("invalid cron expression %q", expr)
	}
	next, err := gronx.NextTickAfter(expr, t, false)
	if err != nil {
		return time.Time{}, errors.Wrapf(err, "next tick of %q", expr)
	}
	return next, nil
}
