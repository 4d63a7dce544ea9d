package xrt

import "fmt"

// Device is a lightweight reference to one device managed by a Client -- it doesn't own
// any resource. Ordinals are dense, in the range [0, Client.NumDevices()).
type Device struct {
	client  *Client
	ordinal int
}

// Ordinal of the device within its client's platform.
func (d *Device) Ordinal() int { return d.ordinal }

// Client that manages the device.
func (d *Device) Client() *Client { return d.client }

// String implements fmt.Stringer.
func (d *Device) String() string {
	if d.client == nil || d.client.platform == nil {
		return fmt.Sprintf("Device[#%d, destroyed client]", d.ordinal)
	}
	return fmt.Sprintf("Device[%s #%d]", d.client.platform.Name(), d.ordinal)
}
