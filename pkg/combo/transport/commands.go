package transport

// Transport-level command bytes. These ride in the frame header's command
// field and are distinct from the application-layer Command values carried
// inside a DATA frame's payload (pkg/combo/app). Their numeric values are
// this driver's own self-consistent invention: the documented exchange
// sequence does not pin down a wire byte for each step.
const (
	CmdRequestPairingConnection         byte = 0x01
	CmdPairingConnectionRequestAccepted byte = 0x02
	CmdRequestKeys                      byte = 0x03
	CmdGetAvailableKeys                 byte = 0x04
	CmdKeyResponse                      byte = 0x05
	CmdRequestID                        byte = 0x06
	CmdIDResponse                       byte = 0x07
	CmdRequestRegularConnection         byte = 0x08
	CmdRegularConnectionRequestAccepted byte = 0x09
	CmdData                             byte = 0x0A
	CmdAck                              byte = 0x0B
	CmdNack                             byte = 0x0C
	CmdDisconnect                       byte = 0x0D
)
