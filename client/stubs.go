package client

import (
	"context"
	"fmt"

	"github.com/pkg/errors"

	"github.com/artie-robot/artie/services/driver"
	"github.com/artie-robot/artie/services/eyebrows"
	"github.com/artie-robot/artie/services/resetmcu"
)

type stub struct {
	c       *Client
	svc     Service
	artieID string
}

func (s stub) call(ctx context.Context, command string, args map[string]interface{}) (interface{}, error) {
	return s.c.Call(ctx, s.svc, s.artieID, command, args)
}

func (s stub) do(ctx context.Context, command string, args map[string]interface{}) error {
	_, err := s.call(ctx, command, args)
	return err
}

func (s stub) str(ctx context.Context, command string, args map[string]interface{}) (string, error) {
	val, err := s.call(ctx, command, args)
	if err != nil {
		return "", err
	}
	str, ok := val.(string)
	if !ok {
		return "", errors.Errorf("%s %s returned %T, expected a string", s.svc, command, val)
	}
	return str, nil
}

func (s stub) statuses(ctx context.Context, command string) (map[string]string, error) {
	val, err := s.call(ctx, command, nil)
	if err != nil {
		return nil, err
	}
	m, ok := val.(map[string]interface{})
	if !ok {
		return nil, errors.Errorf("%s %s returned %T, expected a map", s.svc, command, val)
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = fmt.Sprint(v)
	}
	return out, nil
}

// Whoami returns the name and version of the service.
func (s stub) Whoami(ctx context.Context) (string, error) {
	return s.str(ctx, driver.CmdWhoami, nil)
}

// Status returns the status of each submodule of the service.
func (s stub) Status(ctx context.Context) (map[string]string, error) {
	return s.statuses(ctx, driver.CmdStatus)
}

// SelfCheck runs the service's self check and returns the resulting statuses.
func (s stub) SelfCheck(ctx context.Context) (map[string]string, error) {
	return s.statuses(ctx, driver.CmdSelfCheck)
}

// FirmwareLoad reloads the firmware of the service's MCUs.
func (s stub) FirmwareLoad(ctx context.Context) error {
	return s.do(ctx, driver.CmdFirmwareLoad, nil)
}

// ResetClient calls the reset driver. It implements reset.Requester.
type ResetClient struct{ stub }

// Reset returns a stub for the reset driver of the Artie called artieID.
func (c *Client) Reset(artieID string) *ResetClient {
	return &ResetClient{stub{c: c, svc: Reset, artieID: artieID}}
}

// ResetTarget resets the MCU at reset-bus address addr.
func (r *ResetClient) ResetTarget(ctx context.Context, addr byte) error {
	return r.do(ctx, resetmcu.CmdResetTarget, map[string]interface{}{"address": int(addr)})
}

// MouthClient calls the mouth driver.
type MouthClient struct{ stub }

// Mouth returns a stub for the mouth driver of the Artie called artieID.
func (c *Client) Mouth(artieID string) *MouthClient {
	return &MouthClient{stub{c: c, svc: Mouth, artieID: artieID}}
}

// LedOn turns the LED on.
func (m *MouthClient) LedOn(ctx context.Context) error {
	return m.do(ctx, driver.CmdLedOn, nil)
}

// LedOff turns the LED off.
func (m *MouthClient) LedOff(ctx context.Context) error {
	return m.do(ctx, driver.CmdLedOff, nil)
}

// LedHeartbeat makes the LED pulse.
func (m *MouthClient) LedHeartbeat(ctx context.Context) error {
	return m.do(ctx, driver.CmdLedHeartbeat, nil)
}

// LedGet returns the LED state.
func (m *MouthClient) LedGet(ctx context.Context) (string, error) {
	return m.str(ctx, driver.CmdLedGet, nil)
}

// LcdTest shows the test pattern.
func (m *MouthClient) LcdTest(ctx context.Context) error {
	return m.do(ctx, driver.CmdLcdTest, nil)
}

// LcdOff blanks the display.
func (m *MouthClient) LcdOff(ctx context.Context) error {
	return m.do(ctx, driver.CmdLcdOff, nil)
}

// LcdDraw draws val.
func (m *MouthClient) LcdDraw(ctx context.Context, val string) error {
	return m.do(ctx, driver.CmdLcdDraw, map[string]interface{}{"val": val})
}

// LcdTalk starts the talking animation.
func (m *MouthClient) LcdTalk(ctx context.Context) error {
	return m.do(ctx, driver.CmdLcdTalk, nil)
}

// LcdGet returns what the display shows.
func (m *MouthClient) LcdGet(ctx context.Context) (string, error) {
	return m.str(ctx, driver.CmdLcdGet, nil)
}

// EyebrowsClient calls the eyebrows driver. LED and LCD calls take the side to address.
type EyebrowsClient struct{ stub }

// Eyebrows returns a stub for the eyebrows driver of the Artie called artieID.
func (c *Client) Eyebrows(artieID string) *EyebrowsClient {
	return &EyebrowsClient{stub{c: c, svc: Eyebrows, artieID: artieID}}
}

func sideArgs(side eyebrows.Side) map[string]interface{} {
	return map[string]interface{}{"side": string(side)}
}

// LedOn turns the LED of side on.
func (e *EyebrowsClient) LedOn(ctx context.Context, side eyebrows.Side) error {
	return e.do(ctx, driver.CmdLedOn, sideArgs(side))
}

// LedOff turns the LED of side off.
func (e *EyebrowsClient) LedOff(ctx context.Context, side eyebrows.Side) error {
	return e.do(ctx, driver.CmdLedOff, sideArgs(side))
}

// LedHeartbeat makes the LED of side pulse.
func (e *EyebrowsClient) LedHeartbeat(ctx context.Context, side eyebrows.Side) error {
	return e.do(ctx, driver.CmdLedHeartbeat, sideArgs(side))
}

// LedGet returns the LED state of side.
func (e *EyebrowsClient) LedGet(ctx context.Context, side eyebrows.Side) (string, error) {
	return e.str(ctx, driver.CmdLedGet, sideArgs(side))
}

// LcdTest shows the test pattern on side.
func (e *EyebrowsClient) LcdTest(ctx context.Context, side eyebrows.Side) error {
	return e.do(ctx, driver.CmdLcdTest, sideArgs(side))
}

// LcdOff blanks the display of side.
func (e *EyebrowsClient) LcdOff(ctx context.Context, side eyebrows.Side) error {
	return e.do(ctx, driver.CmdLcdOff, sideArgs(side))
}

// LcdDraw draws val on side.
func (e *EyebrowsClient) LcdDraw(ctx context.Context, side eyebrows.Side, val string) error {
	args := sideArgs(side)
	args["val"] = val
	return e.do(ctx, driver.CmdLcdDraw, args)
}

// LcdGet returns what the display of side shows.
func (e *EyebrowsClient) LcdGet(ctx context.Context, side eyebrows.Side) (string, error) {
	return e.str(ctx, driver.CmdLcdGet, sideArgs(side))
}
