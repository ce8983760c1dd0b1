//go:build !linux || nogpio

package relay

import (
	"context"
	"errors"
	"time"
)

var errNoGPIO = errors.New("gpio is not available in this build")

func newGPIO(string, bool) (Actuator, error) {
	return nil, errNoGPIO
}

func watchGPIOButton(context.Context, string, time.Duration, func()) error {
	return errNoGPIO
}
