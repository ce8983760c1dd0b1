//go:build linux && !nogpio

package relay

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/host/v3"

	"github.com/dokzlo13/relayd/internal/actuation"
)

// edgePoll bounds each WaitForEdge call so cancellation is noticed.
const edgePoll = 500 * time.Millisecond

type gpioActuator struct {
	pin        gpio.PinIO
	activeHigh bool
}

func newGPIO(name string, activeHigh bool) (Actuator, error) {
	pin, err := openPin(name)
	if err != nil {
		return nil, err
	}

	a := &gpioActuator{pin: pin, activeHigh: activeHigh}
	// Relay starts released.
	if err := a.Write(actuation.Off); err != nil {
		return nil, err
	}
	log.Info().Str("pin", pin.Name()).Bool("active_high", activeHigh).Msg("GPIO relay ready")
	return a, nil
}

func (a *gpioActuator) Write(s actuation.State) error {
	level := gpio.Level((s == actuation.On) == a.activeHigh)
	if err := a.pin.Out(level); err != nil {
		return fmt.Errorf("failed to drive %s: %w", a.pin.Name(), err)
	}
	return nil
}

func (a *gpioActuator) Close() error {
	if err := a.Write(actuation.Off); err != nil {
		return err
	}
	return a.pin.Halt()
}

func watchGPIOButton(ctx context.Context, name string, debounce time.Duration, onPress func()) error {
	pin, err := openPin(name)
	if err != nil {
		return err
	}
	if err := pin.In(gpio.PullUp, gpio.FallingEdge); err != nil {
		return fmt.Errorf("failed to configure button %s: %w", name, err)
	}
	defer pin.Halt()

	log.Info().Str("pin", pin.Name()).Dur("debounce", debounce).Msg("Watching reset button")

	filter := pressFilter{debounce: debounce}
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		if !pin.WaitForEdge(edgePoll) {
			continue
		}
		if pin.Read() != gpio.Low {
			continue
		}
		if filter.accept(time.Now()) {
			log.Info().Str("pin", pin.Name()).Msg("Reset button pressed")
			onPress()
		}
	}
}

func openPin(name string) (gpio.PinIO, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("failed to initialize gpio host: %w", err)
	}
	pin := gpioreg.ByName(name)
	if pin == nil {
		return nil, fmt.Errorf("unknown gpio pin: %q", name)
	}
	return pin, nil
}
