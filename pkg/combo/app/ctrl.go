package app

// ServiceID identifies a service for activate/deactivate/get-version
// control commands; distinct from Service, which tags a whole packet.
type ServiceID byte

const (
	ServiceIDRemoteTerminal ServiceID = ServiceID(ServiceRemoteTerminal)
	ServiceIDCommand        ServiceID = ServiceID(ServiceCommand)
)

// BuildCtrlConnect builds CTRL_CONNECT: no payload.
func BuildCtrlConnect() []byte {
	return Build(ServiceControl, CmdCtrlConnect, nil)
}

// BuildCtrlDisconnect builds CTRL_DISCONNECT: no payload.
func BuildCtrlDisconnect() []byte {
	return Build(ServiceControl, CmdCtrlDisconnect, nil)
}

// BuildCtrlBind builds CTRL_BIND: no payload.
func BuildCtrlBind() []byte {
	return Build(ServiceControl, CmdCtrlBind, nil)
}

// BuildCtrlGetServiceVersion builds CTRL_GET_SERVICE_VERSION for the given
// service.
func BuildCtrlGetServiceVersion(svc ServiceID) []byte {
	return Build(ServiceControl, CmdCtrlGetServiceVersion, []byte{byte(svc)})
}

// BuildCtrlActivateService builds CTRL_ACTIVATE_SERVICE for the given
// service.
func BuildCtrlActivateService(svc ServiceID) []byte {
	return Build(ServiceControl, CmdCtrlActivateService, []byte{byte(svc)})
}

// BuildCtrlDeactivateService builds CTRL_DEACTIVATE_SERVICE for the given
// service.
func BuildCtrlDeactivateService(svc ServiceID) []byte {
	return Build(ServiceControl, CmdCtrlDeactivateService, []byte{byte(svc)})
}

// ServiceVersion is the parsed payload of a CTRL_GET_SERVICE_VERSION
// response.
type ServiceVersion struct {
	Service ServiceID
	Major   byte
	Minor   byte
}

// ParseServiceVersion parses a CTRL_GET_SERVICE_VERSION response payload.
func ParseServiceVersion(payload []byte) (*ServiceVersion, error) {
	if len(payload) < 3 {
		return nil, &InvalidPayloadError{Reason: "service version payload too short"}
	}
	return &ServiceVersion{
		Service: ServiceID(payload[0]),
		Major:   payload[1],
		Minor:   payload[2],
	}, nil
}

// ParseCtrlServiceError extracts the cause byte from a CTRL_SERVICE_ERROR
// packet payload, if present.
func ParseCtrlServiceError(payload []byte) byte {
	if len(payload) == 0 {
		return 0
	}
	return payload[0]
}
