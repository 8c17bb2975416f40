package driver

import (
	"context"

	"github.com/artie-robot/artie/submodule"
)

// Names of the peripheral commands.
const (
	CmdLedOn        = "led_on"
	CmdLedOff       = "led_off"
	CmdLedHeartbeat = "led_heartbeat"
	CmdLedGet       = "led_get"
	CmdLcdTest      = "lcd_test"
	CmdLcdOff       = "lcd_off"
	CmdLcdDraw      = "lcd_draw"
	CmdLcdTalk      = "lcd_talk"
	CmdLcdGet       = "lcd_get"
	CmdFirmwareLoad = "firmware_load"
)

// LEDPicker returns the LED a command's arguments address.
type LEDPicker func(args map[string]interface{}) (*submodule.LED, error)

// LCDPicker returns the LCD a command's arguments address.
type LCDPicker func(args map[string]interface{}) (*submodule.LCD, error)

// LEDCommands returns led_on, led_off, led_heartbeat and led_get.
func LEDCommands(pick LEDPicker) []Command {
	set := func(state submodule.LedState) Handler {
		return func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
			led, err := pick(args)
			if err != nil {
				return nil, err
			}
			return nil, led.Set(ctx, state)
		}
	}
	return []Command{
		{Name: CmdLedOn, Queued: true, Handler: set(submodule.LedOn)},
		{Name: CmdLedOff, Queued: true, Handler: set(submodule.LedOff)},
		{Name: CmdLedHeartbeat, Queued: true, Handler: set(submodule.LedHeartbeat)},
		{Name: CmdLedGet, Handler: func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
			led, err := pick(args)
			if err != nil {
				return nil, err
			}
			return led.Get().String(), nil
		}},
	}
}

// LCDCommands returns lcd_test, lcd_off, lcd_draw and lcd_get, plus lcd_talk when talk is set.
func LCDCommands(pick LCDPicker, talk bool) []Command {
	run := func(f func(lcd *submodule.LCD, ctx context.Context) error) Handler {
		return func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
			lcd, err := pick(args)
			if err != nil {
				return nil, err
			}
			return nil, f(lcd, ctx)
		}
	}
	cmds := []Command{
		{Name: CmdLcdTest, Queued: true, Handler: run((*submodule.LCD).Test)},
		{Name: CmdLcdOff, Queued: true, Handler: run((*submodule.LCD).Off)},
		{Name: CmdLcdDraw, Queued: true, Handler: func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
			var draw DrawArgs
			if err := DecodeArgs(args, &draw); err != nil {
				return nil, err
			}
			lcd, err := pick(args)
			if err != nil {
				return nil, err
			}
			return nil, lcd.Draw(ctx, draw.Val)
		}},
		{Name: CmdLcdGet, Handler: func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
			lcd, err := pick(args)
			if err != nil {
				return nil, err
			}
			return lcd.Get().String(), nil
		}},
	}
	if talk {
		cmds = append(cmds, Command{Name: CmdLcdTalk, Queued: true, Handler: run((*submodule.LCD).Talk)})
	}
	return cmds
}
