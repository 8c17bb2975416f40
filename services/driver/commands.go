package driver

import (
	"context"

	"github.com/artie-robot/artie/submodule"
)

// Names of the commands every driver serves.
const (
	CmdWhoami    = "whoami"
	CmdStatus    = "status"
	CmdSelfCheck = "self_check"
)

// WhoamiCommand answers liveness probes with svc.Whoami().
func WhoamiCommand(svc *Service) Command {
	return Command{
		Name: CmdWhoami,
		Handler: func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
			return svc.Whoami(), nil
		},
	}
}

// StatusCommand reports the status of every submodule.
func StatusCommand(subs ...submodule.Submodule) Command {
	return Command{
		Name: CmdStatus,
		Handler: func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
			return StatusMap(subs...), nil
		},
	}
}

// SelfCheckCommand runs every submodule's self check in turn and reports the resulting statuses.
// Failing checks are reflected in the statuses, not in the command's error.
func SelfCheckCommand(svc *Service, subs ...submodule.Submodule) Command {
	return Command{
		Name:   CmdSelfCheck,
		Queued: true,
		Handler: func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
			for _, sub := range subs {
				if err := sub.SelfCheck(ctx); err != nil {
					if ctxErr := ctx.Err(); ctxErr != nil {
						return nil, ctxErr
					}
					svc.logger.CWarnw(ctx, "self check found a problem", "service", svc.name, "error", err)
				}
			}
			return StatusMap(subs...), nil
		},
	}
}

// StatusMap merges the statuses of subs into a map of wire strings.
func StatusMap(subs ...submodule.Submodule) map[string]interface{} {
	out := map[string]interface{}{}
	for _, sub := range subs {
		for name, st := range sub.Status() {
			out[name] = st.String()
		}
	}
	return out
}
