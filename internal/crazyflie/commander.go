package crazyflie

import (
	"encoding/binary"
	"math"

	"github.com/roman-kulish/lightseeker/internal/crtp"
)

const (
	setpointTypeStop  byte = 0
	setpointTypeHover byte = 5
)

// SendStop cuts the motors and disarms the setpoint stream
func (cf *Crazyflie) SendStop() error {
	return cf.send(crtp.NewPacket(crtp.PortGenericSetpoint, 0, setpointTypeStop))
}

// SendHover sends a body-frame velocity setpoint at an absolute height:
// vx forward and vy left in m/s, yawRate in deg/s (positive turns clockwise),
// z in meters above the ground
func (cf *Crazyflie) SendHover(vx, vy, yawRate, z float64) error {
	data := make([]byte, 1, 17)
	data[0] = setpointTypeHover
	data = appendFloat32(data, vx, vy, yawRate, z)

	return cf.send(crtp.NewPacket(crtp.PortGenericSetpoint, 0, data...))
}

// SendLegacy sends a roll/pitch/yaw-rate/thrust setpoint. Sending a zero
// thrust setpoint unlocks the motor protection after connecting.
func (cf *Crazyflie) SendLegacy(roll, pitch, yawRate float64, thrust uint16) error {
	data := appendFloat32(make([]byte, 0, 14), roll, -pitch, yawRate)
	data = binary.LittleEndian.AppendUint16(data, thrust)

	return cf.send(crtp.NewPacket(crtp.PortCommander, 0, data...))
}

func appendFloat32(b []byte, values ...float64) []byte {
	for _, v := range values {
		b = binary.LittleEndian.AppendUint32(b, math.Float32bits(float32(v)))
	}
	return b
}
