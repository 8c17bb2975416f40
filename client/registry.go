package client

import (
	"context"
	"net"
	"strconv"

	"github.com/pkg/errors"

	"github.com/artie-robot/artie/services/eyebrows"
	"github.com/artie-robot/artie/services/mouth"
	"github.com/artie-robot/artie/services/resetmcu"
)

// Service identifies one of the driver services.
type Service string

// The driver services.
const (
	Reset    Service = "reset"
	Mouth    Service = "mouth"
	Eyebrows Service = "eyebrows"
)

// Endpoint is where a service listens: the host name prefix and the port.
type Endpoint struct {
	Name string
	Port int
}

// Registry maps services to their endpoints.
type Registry map[Service]Endpoint

// DefaultRegistry returns the endpoints the drivers are deployed with.
func DefaultRegistry() Registry {
	return Registry{
		Reset:    {Name: resetmcu.ServiceName, Port: resetmcu.DefaultPort},
		Mouth:    {Name: mouth.ServiceName, Port: mouth.DefaultPort},
		Eyebrows: {Name: eyebrows.ServiceName, Port: eyebrows.DefaultPort},
	}
}

// ArtieIDSource lists the Artie IDs known to the cluster, for callers that did not name one.
type ArtieIDSource interface {
	ArtieIDs(ctx context.Context) ([]string, error)
}

// ArtieIDSourceFunc adapts a function to ArtieIDSource.
type ArtieIDSourceFunc func(ctx context.Context) ([]string, error)

// ArtieIDs calls f.
func (f ArtieIDSourceFunc) ArtieIDs(ctx context.Context) ([]string, error) {
	return f(ctx)
}

// ResolveArtieID picks the Artie ID to address: explicit if given, then the client's configured
// ID, then the ARTIE_ID environment variable, then the ID source if it knows exactly one. An
// empty result means the services are addressed by their bare names.
func (c *Client) ResolveArtieID(ctx context.Context, explicit string) (string, error) {
	switch {
	case explicit != "":
		return explicit, nil
	case c.artieID != "":
		return c.artieID, nil
	case c.envArtieID() != "":
		return c.envArtieID(), nil
	case c.idSource == nil:
		return "", nil
	}
	ids, err := c.idSource.ArtieIDs(ctx)
	if err != nil {
		return "", errors.Wrap(err, "listing Artie IDs")
	}
	switch len(ids) {
	case 0:
		return "", nil
	case 1:
		c.logger.CDebugw(ctx, "inferred Artie ID", "artie_id", ids[0])
		return ids[0], nil
	default:
		return "", errors.Wrapf(ErrAmbiguousArtieID, "found %v", ids)
	}
}

// Address returns host:port of svc on the Artie called artieID. In test mode the host is the
// bare service name.
func (c *Client) Address(svc Service, artieID string) (string, error) {
	ep, ok := c.registry[svc]
	if !ok {
		return "", errors.Wrapf(ErrUnknownService, "%q", svc)
	}
	host := ep.Name
	if !c.testMode && artieID != "" {
		host = ep.Name + "-" + artieID
	}
	return net.JoinHostPort(host, strconv.Itoa(ep.Port)), nil
}
