package connmgr

import (
	"context"
	"strings"

	"dlnamedia/internal/upnp"
)

const (
	ServiceType = "urn:schemas-upnp-org:service:ConnectionManager:1"
	ServiceID   = "urn:upnp-org:serviceId:ConnectionManager"
)

// Service is a ConnectionManager for a server that does not track
// connections: only the default connection 0 exists.
type Service struct {
	source string
}

// New advertises protocolInfos as the source protocols.
func New(protocolInfos []string) *Service {
	return &Service{source: strings.Join(protocolInfos, ",")}
}

func (s *Service) Name() string { return "ConnectionManager" }
func (s *Service) Type() string { return ServiceType }
func (s *Service) ID() string   { return ServiceID }

func (s *Service) SCPD() upnp.SCPD {
	return upnp.SCPD{
		Actions: []upnp.Action{
			{Name: "GetProtocolInfo", Arguments: []upnp.Argument{
				upnp.Out("Source", "SourceProtocolInfo"),
				upnp.Out("Sink", "SinkProtocolInfo"),
			}},
			{Name: "GetCurrentConnectionIDs", Arguments: []upnp.Argument{
				upnp.Out("ConnectionIDs", "CurrentConnectionIDs"),
			}},
			{Name: "GetCurrentConnectionInfo", Arguments: []upnp.Argument{
				upnp.In("ConnectionID", "A_ARG_TYPE_ConnectionID"),
				upnp.Out("RcsID", "A_ARG_TYPE_RcsID"),
				upnp.Out("AVTransportID", "A_ARG_TYPE_AVTransportID"),
				upnp.Out("ProtocolInfo", "A_ARG_TYPE_ProtocolInfo"),
				upnp.Out("PeerConnectionManager", "A_ARG_TYPE_ConnectionManager"),
				upnp.Out("PeerConnectionID", "A_ARG_TYPE_ConnectionID"),
				upnp.Out("Direction", "A_ARG_TYPE_Direction"),
				upnp.Out("Status", "A_ARG_TYPE_ConnectionStatus"),
			}},
		},
		StateVariables: []upnp.StateVariable{
			upnp.EventedVar("SourceProtocolInfo", "string"),
			upnp.EventedVar("SinkProtocolInfo", "string"),
			upnp.EventedVar("CurrentConnectionIDs", "string"),
			upnp.Var("A_ARG_TYPE_ConnectionStatus", "string", "OK", "ContentFormatMismatch", "InsufficientBandwidth", "UnreliableChannel", "Unknown"),
			upnp.Var("A_ARG_TYPE_ConnectionManager", "string"),
			upnp.Var("A_ARG_TYPE_Direction", "string", "Input", "Output"),
			upnp.Var("A_ARG_TYPE_ProtocolInfo", "string"),
			upnp.Var("A_ARG_TYPE_ConnectionID", "i4"),
			upnp.Var("A_ARG_TYPE_AVTransportID", "i4"),
			upnp.Var("A_ARG_TYPE_RcsID", "i4"),
		},
	}
}

func (s *Service) Handle(ctx context.Context, call *upnp.Call) ([]upnp.Arg, error) {
	switch call.Action {
	case "GetProtocolInfo":
		return []upnp.Arg{{Name: "Source", Value: s.source}, {Name: "Sink", Value: ""}}, nil
	case "GetCurrentConnectionIDs":
		return []upnp.Arg{{Name: "ConnectionIDs", Value: "0"}}, nil
	case "GetCurrentConnectionInfo":
		id, err := call.Int("ConnectionID")
		if err != nil {
			return nil, err
		}
		if id != 0 {
			return nil, upnp.Errorf(upnp.ErrCodeInvalidConnection, "Invalid connection reference")
		}
		return []upnp.Arg{
			{Name: "RcsID", Value: "-1"},
			{Name: "AVTransportID", Value: "-1"},
			{Name: "ProtocolInfo", Value: ""},
			{Name: "PeerConnectionManager", Value: ""},
			{Name: "PeerConnectionID", Value: "-1"},
			{Name: "Direction", Value: "Output"},
			{Name: "Status", Value: "OK"},
		}, nil
	default:
		return nil, upnp.Errorf(upnp.ErrCodeInvalidAction, "unknown action %s", call.Action)
	}
}
