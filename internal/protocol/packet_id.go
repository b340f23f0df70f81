package protocol

const (
	// CurrentProtocolVersion is sent in Hello and must match exactly.
	CurrentProtocolVersion = 1

	// Handshaking (C→S)
	C2SHello = 0x00

	// Active (C→S)
	C2SAxes             = 0x01
	C2SConnectDevice    = 0x02
	C2SDisconnectDevice = 0x03
	C2SKeepAlive        = 0x04

	// S→C
	S2CWelcome      = 0x00
	S2CDeviceResult = 0x01
	S2CKeepAlive    = 0x02
	S2CDisconnect   = 0x03
)
