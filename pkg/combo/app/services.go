// Package app implements the Combo application layer: the small table of
// services and commands carried inside transport DATA packets, builders
// and parsers for RT and CMD packets, and RT display-frame reassembly.
package app

// Service identifies which Combo service an application packet belongs to.
type Service byte

// The three services a compliant client must support at minimum.
const (
	ServiceControl        Service = 0x00 // CTRL: connect, bind, activate/deactivate
	ServiceRemoteTerminal  Service = 0x01 // RT_MODE
	ServiceCommand         Service = 0x02 // COMMAND_MODE
)

func (s Service) String() string {
	switch s {
	case ServiceControl:
		return "CTRL"
	case ServiceRemoteTerminal:
		return "RT_MODE"
	case ServiceCommand:
		return "COMMAND_MODE"
	default:
		return "UNKNOWN_SERVICE"
	}
}

// Command identifies an application-layer command within a service. The
// numeric values below are this driver's own assignment: the commands a
// compliant client must send are named, but the pump's original byte
// values were not recoverable from the retrieved material (original_source
// was filtered to zero kept files). They are stable within this module and
// documented as an explicit, self-consistent choice rather than a guess at
// undisclosed wire values — see DESIGN.md.
type Command uint16

// CTRL service commands.
const (
	CmdCtrlConnect             Command = 0x0010
	CmdCtrlConnectResponse     Command = 0x0011
	CmdCtrlDisconnect          Command = 0x0020
	CmdCtrlGetServiceVersion   Command = 0x0030
	CmdCtrlServiceVersionResp  Command = 0x0031
	CmdCtrlActivateService     Command = 0x0040
	CmdCtrlActivateServiceResp Command = 0x0041
	CmdCtrlDeactivateService   Command = 0x0050
	CmdCtrlDeactivateServiceResp Command = 0x0051
	CmdCtrlServiceError        Command = 0x00FF
	CmdCtrlBind                Command = 0x0060
	CmdCtrlBindResponse        Command = 0x0061
)

// RT_MODE service commands.
const (
	CmdRTButtonStatus       Command = 0x0100
	CmdRTKeepAlive          Command = 0x0110
	CmdRTDisplay            Command = 0x0120
	CmdRTButtonConfirmation Command = 0x0130
)

// COMMAND_MODE service commands.
const (
	CmdReadDateTime            Command = 0x0200
	CmdReadDateTimeResponse    Command = 0x0201
	CmdReadPumpStatus          Command = 0x0210
	CmdReadPumpStatusResponse  Command = 0x0211
	CmdReadErrorWarningStatus  Command = 0x0220
	CmdReadErrorWarningResp    Command = 0x0221
	CmdReadHistoryBlock        Command = 0x0230
	CmdReadHistoryBlockResp    Command = 0x0231
	CmdConfirmHistoryBlock     Command = 0x0240
	CmdConfirmHistoryBlockResp Command = 0x0241
	CmdGetBolusStatus          Command = 0x0250
	CmdGetBolusStatusResponse  Command = 0x0251
	CmdDeliverBolus            Command = 0x0260
	CmdDeliverBolusResponse    Command = 0x0261
	CmdCancelBolus             Command = 0x0270
	CmdCancelBolusResponse     Command = 0x0271
	CmdPing                    Command = 0x0280
	CmdPingResponse            Command = 0x0281
)

// AppVersion is the application-layer protocol version placed in every
// packet header.
const AppVersion byte = 0x01
