package gateway

import (
	"context"
	"net/http"

	"github.com/samber/lo"
	"goji.io/pat"

	"github.com/artie-robot/artie/client"
	"github.com/artie-robot/artie/reset"
	"github.com/artie-robot/artie/services/eyebrows"
	"github.com/artie-robot/artie/submodule"
)

func (s *Server) resetMCU(r *http.Request) reply {
	env, missing := params(r, IDParam)
	if missing != nil {
		return *missing
	}
	id, err := reset.ParseMcuID(env[IDParam].(string))
	if err != nil {
		return fail(http.StatusBadRequest, env, "Invalid MCU ID.")
	}

	addresser := reset.NewAddresser(s.board, s.client.Reset(env.artieID()), s.logger)
	res, err := addresser.Reset(r.Context(), id)
	if err != nil {
		rep := backendFailure(env, err)
		if len(res.Failed) > 0 {
			rep.body[FailedKey] = res.FailedNames()
		}
		return rep
	}
	return ok(env)
}

func (s *Server) resetSBC(r *http.Request) reply {
	env, missing := params(r, IDParam)
	if missing != nil {
		return *missing
	}
	return fail(http.StatusNotImplemented, env, "Not implemented")
}

// serviceStub is what every service client answers to.
type serviceStub interface {
	Status(ctx context.Context) (map[string]string, error)
	SelfCheck(ctx context.Context) (map[string]string, error)
	FirmwareLoad(ctx context.Context) error
}

func (s *Server) stub(svc client.Service, artieID string) serviceStub {
	switch svc {
	case client.Mouth:
		return s.client.Mouth(artieID)
	case client.Eyebrows:
		return s.client.Eyebrows(artieID)
	default:
		return s.client.Reset(artieID)
	}
}

func withStatuses(env envelope, statuses map[string]string) envelope {
	for k, v := range statuses {
		env[k] = v
	}
	return env
}

func (s *Server) status(svc client.Service) handlerFunc {
	return func(r *http.Request) reply {
		env, missing := params(r)
		if missing != nil {
			return *missing
		}
		statuses, err := s.stub(svc, env.artieID()).Status(r.Context())
		if err != nil {
			return backendFailure(env, err)
		}
		return ok(withStatuses(env, statuses))
	}
}

func (s *Server) selfTest(svc client.Service) handlerFunc {
	return func(r *http.Request) reply {
		env, missing := params(r)
		if missing != nil {
			return *missing
		}
		statuses, err := s.stub(svc, env.artieID()).SelfCheck(r.Context())
		if err != nil {
			return backendFailure(env, err)
		}
		return ok(withStatuses(env, statuses))
	}
}

func (s *Server) firmwareLoad(svc client.Service) handlerFunc {
	return func(r *http.Request) reply {
		env, missing := params(r)
		if missing != nil {
			return *missing
		}
		if err := s.stub(svc, env.artieID()).FirmwareLoad(r.Context()); err != nil {
			return backendFailure(env, err)
		}
		return ok(env)
	}
}

func validLedState(env envelope) (reply, bool) {
	if _, err := submodule.ParseLedState(env[StateParam].(string)); err != nil {
		return fail(http.StatusBadRequest, env, "Invalid state value."), false
	}
	env[StateParam] = lower(env, StateParam)
	return reply{}, true
}

// validDisplay parses a drawing name. talk allows the talking animation.
func validDisplay(env envelope, talk bool) (submodule.Drawing, reply, bool) {
	allowed := submodule.Drawings()
	if talk {
		allowed = append(allowed, submodule.Talking)
	}
	d, err := submodule.ParseDrawing(env[DisplayParam].(string))
	if err != nil || !lo.Contains(allowed, d) {
		return submodule.DrawingUnknown, fail(http.StatusBadRequest, env, "Invalid display value."), false
	}
	return d, reply{}, true
}

func (s *Server) setMouthLED(r *http.Request) reply {
	env, missing := params(r, StateParam)
	if missing != nil {
		return *missing
	}
	if rep, valid := validLedState(env); !valid {
		return rep
	}
	m := s.client.Mouth(env.artieID())
	var err error
	switch env[StateParam] {
	case "on":
		err = m.LedOn(r.Context())
	case "off":
		err = m.LedOff(r.Context())
	default:
		err = m.LedHeartbeat(r.Context())
	}
	if err != nil {
		return backendFailure(env, err)
	}
	return ok(env)
}

func (s *Server) getMouthLED(r *http.Request) reply {
	env, missing := params(r)
	if missing != nil {
		return *missing
	}
	state, err := s.client.Mouth(env.artieID()).LedGet(r.Context())
	if err != nil {
		return backendFailure(env, err)
	}
	env[StateParam] = state
	return ok(env)
}

func (s *Server) setMouthDisplay(r *http.Request) reply {
	env, missing := params(r, DisplayParam)
	if missing != nil {
		return *missing
	}
	d, rep, valid := validDisplay(env, true)
	if !valid {
		return rep
	}
	m := s.client.Mouth(env.artieID())
	var err error
	if d == submodule.Talking {
		err = m.LcdTalk(r.Context())
	} else {
		err = m.LcdDraw(r.Context(), env[DisplayParam].(string))
	}
	if err != nil {
		return backendFailure(env, err)
	}
	return ok(env)
}

func (s *Server) getMouthDisplay(r *http.Request) reply {
	env, missing := params(r)
	if missing != nil {
		return *missing
	}
	display, err := s.client.Mouth(env.artieID()).LcdGet(r.Context())
	if err != nil {
		return backendFailure(env, err)
	}
	env[DisplayParam] = display
	return ok(env)
}

func (s *Server) mouthLCD(do func(ctx context.Context, m *client.MouthClient) error) handlerFunc {
	return func(r *http.Request) reply {
		env, missing := params(r)
		if missing != nil {
			return *missing
		}
		if err := do(r.Context(), s.client.Mouth(env.artieID())); err != nil {
			return backendFailure(env, err)
		}
		return ok(env)
	}
}

// sideParams is params for the eyebrows routes, which also take the side from the path.
func sideParams(r *http.Request, names ...string) (envelope, eyebrows.Side, *reply) {
	env, missing := params(r, names...)
	if missing != nil {
		return env, "", missing
	}
	side, err := eyebrows.ParseSide(pat.Param(r, "side"))
	if err != nil {
		rep := fail(http.StatusBadRequest, env, "Need either 'left' or 'right'")
		return env, "", &rep
	}
	env[SideKey] = string(side)
	return env, side, nil
}

func (s *Server) setEyebrowsLED(r *http.Request) reply {
	env, side, bad := sideParams(r, StateParam)
	if bad != nil {
		return *bad
	}
	if rep, valid := validLedState(env); !valid {
		return rep
	}
	e := s.client.Eyebrows(env.artieID())
	var err error
	switch env[StateParam] {
	case "on":
		err = e.LedOn(r.Context(), side)
	case "off":
		err = e.LedOff(r.Context(), side)
	default:
		err = e.LedHeartbeat(r.Context(), side)
	}
	if err != nil {
		return backendFailure(env, err)
	}
	return ok(env)
}

func (s *Server) getEyebrowsLED(r *http.Request) reply {
	env, side, bad := sideParams(r)
	if bad != nil {
		return *bad
	}
	state, err := s.client.Eyebrows(env.artieID()).LedGet(r.Context(), side)
	if err != nil {
		return backendFailure(env, err)
	}
	env[StateParam] = state
	return ok(env)
}

func (s *Server) setEyebrowsDisplay(r *http.Request) reply {
	env, side, bad := sideParams(r, DisplayParam)
	if bad != nil {
		return *bad
	}
	if _, rep, valid := validDisplay(env, false); !valid {
		return rep
	}
	if err := s.client.Eyebrows(env.artieID()).LcdDraw(r.Context(), side, env[DisplayParam].(string)); err != nil {
		return backendFailure(env, err)
	}
	return ok(env)
}

func (s *Server) getEyebrowsDisplay(r *http.Request) reply {
	env, side, bad := sideParams(r)
	if bad != nil {
		return *bad
	}
	display, err := s.client.Eyebrows(env.artieID()).LcdGet(r.Context(), side)
	if err != nil {
		return backendFailure(env, err)
	}
	env[DisplayParam] = display
	return ok(env)
}

func eyebrowsLcdTest(ctx context.Context, e *client.EyebrowsClient, side eyebrows.Side) error {
	return e.LcdTest(ctx, side)
}

func eyebrowsLcdOff(ctx context.Context, e *client.EyebrowsClient, side eyebrows.Side) error {
	return e.LcdOff(ctx, side)
}

func (s *Server) eyebrowsLCD(do func(ctx context.Context, e *client.EyebrowsClient, side eyebrows.Side) error) handlerFunc {
	return func(r *http.Request) reply {
		env, side, bad := sideParams(r)
		if bad != nil {
			return *bad
		}
		if err := do(r.Context(), s.client.Eyebrows(env.artieID()), side); err != nil {
			return backendFailure(env, err)
		}
		return ok(env)
	}
}
