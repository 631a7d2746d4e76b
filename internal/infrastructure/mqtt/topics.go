package mqtt

import (
	"fmt"
	"strings"
)

// TopicPrefix is the root of every topic the daemon publishes or
// subscribes to by default.
const TopicPrefix = "sunneed"

// Topics provides builders for sunneed MQTT topics.
//
//	topics := mqtt.Topics{}
//	topics.DeviceStatus(3) // "sunneed/device/3/status"
type Topics struct{}

// SystemStatus is the retained online/offline topic, also used as the LWT.
func (Topics) SystemStatus() string {
	return TopicPrefix + "/system/status"
}

// PIPCurrent carries the retained currently elected provider.
func (Topics) PIPCurrent() string {
	return TopicPrefix + "/pip/current"
}

// DeviceStatus carries retained status transitions for one device.
func (Topics) DeviceStatus(id int) string {
	return fmt.Sprintf("%s/device/%d/status", TopicPrefix, id)
}

// SensorPosition is the default feed topic for a sensor device that does
// not name its own topic.
//
// Example: sunneed/sensor/mast-anemometer/position
func (Topics) SensorPosition(name string) string {
	return fmt.Sprintf("%s/sensor/%s/position", TopicPrefix, sanitiseSegment(name))
}

// AllDeviceStatus matches every device status topic.
func (Topics) AllDeviceStatus() string {
	return TopicPrefix + "/device/+/status"
}

// sanitiseSegment replaces characters that would change topic structure.
func sanitiseSegment(s string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '/', '+', '#', ' ':
			return '-'
		}
		return r
	}, s)
}
