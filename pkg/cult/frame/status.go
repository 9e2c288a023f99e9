package frame

// StatusType tags a status channel frame by its leading byte
type StatusType byte

const (

	// StatusBodyComposition denotes a body composition data frame
	StatusBodyComposition StatusType = 0xBB

	// StatusBattery denotes a battery level frame
	StatusBattery StatusType = 0xBA

	// StatusProgress denotes a measurement progress frame
	StatusProgress StatusType = 0xBC

	// StatusError denotes an error condition frame
	StatusError StatusType = 0xBE
)

// minStatusFrameLen is the minimum length of any status channel frame
const minStatusFrameLen = 3

// Measurement progress payload values
const (
	ProgressMeasuring byte = 0x01
	ProgressComplete  byte = 0x02
)

// StatusTypeOf returns the type tag of a status channel frame, or false if
// the frame is too short to carry one
func StatusTypeOf(data []byte) (StatusType, bool) {
	if len(data) < minStatusFrameLen {
		return 0, false
	}

	return StatusType(data[0]), true
}

// Control channel response commands
const (

	// CmdConfigureAck acknowledges a user profile configuration write
	CmdConfigureAck byte = 0x37

	// CmdStartAck acknowledges a measurement start command
	CmdStartAck byte = 0x50

	// RespStatusOK denotes a successful command response
	RespStatusOK byte = 0x00
)

// ControlResponse denotes a decoded control channel indication
type ControlResponse struct {
	Command byte
	Status  byte
}

// OK returns true if the response reports success
func (r ControlResponse) OK() bool {
	return r.Status == RespStatusOK
}

// ParseControlResponse interprets a control channel frame as a
// [command, status, ...] tuple
func ParseControlResponse(data []byte) (ControlResponse, bool) {
	if len(data) < 2 {
		return ControlResponse{}, false
	}

	return ControlResponse{
		Command: data[0],
		Status:  data[1],
	}, true
}
