package objects

import (
	"context"
	"fmt"

	"pkt.systems/fmg/client"
)

// Device job actions.
const (
	DeviceAdd    = "add"
	DeviceDelete = "del"
)

// DefaultDeviceFlags make device jobs run as background tasks.
var DefaultDeviceFlags = []string{"create_task", "nonblocking"}

// Device describes a managed FortiGate for a device job.
type Device struct {
	Name         string
	IP           string
	AdminUser    string
	AdminPass    client.Secret
	Description  string
	SerialNumber string
	// MgmtMode defaults to "fmg".
	MgmtMode string
}

func (d Device) payload() map[string]any {
	out := map[string]any{"name": d.Name}
	set := func(key, value string) {
		if value != "" {
			out[key] = value
		}
	}
	set("ip", d.IP)
	set("adm_usr", d.AdminUser)
	set("adm_pass", d.AdminPass.Reveal())
	set("desc", d.Description)
	set("sn", d.SerialNumber)
	mode := d.MgmtMode
	if mode == "" {
		mode = "fmg"
	}
	out["mgmt_mode"] = mode
	return out
}

// GroupRef places a device into a device group.
type GroupRef struct {
	Name string `json:"name"`
	VDOM string `json:"vdom,omitempty"`
}

// DeviceJob adds a device to, or deletes it from, an ADOM through
// /dvm/cmd/<action>/device. With the default flags the server answers with a
// task id; wait for it with Response.WaitForTask.
type DeviceJob struct {
	Base

	Action string
	ADOM   string
	Device Device
	Flags  []string
	Groups []GroupRef
}

// URL implements client.Object. The command URL is not scoped.
func (j *DeviceJob) URL(client.Scope) (string, error) {
	switch j.action() {
	case DeviceAdd, DeviceDelete:
		return "/dvm/cmd/" + j.action() + "/device", nil
	}
	return "", fmt.Errorf("objects: unknown device action %q", j.Action)
}

func (j *DeviceJob) action() string {
	if j.Action == "" {
		return DeviceAdd
	}
	return j.Action
}

// ObjectScope returns the job's ADOM.
func (j *DeviceJob) ObjectScope() string {
	if j.ADOM != "" {
		return j.ADOM
	}
	return j.Base.ObjectScope()
}

// Payload implements client.Object.
func (j *DeviceJob) Payload() (map[string]any, error) {
	if j.Device.Name == "" {
		return nil, fmt.Errorf("objects: device name required")
	}
	adom := j.ObjectScope()
	if adom == "" {
		return nil, fmt.Errorf("objects: device job needs an adom")
	}
	flags := j.Flags
	if flags == nil {
		flags = DefaultDeviceFlags
	}
	out := map[string]any{"adom": adom, "flags": flags}
	if j.action() == DeviceDelete {
		out["device"] = j.Device.Name
	} else {
		out["device"] = j.Device.payload()
	}
	if len(j.Groups) > 0 {
		out["groups"] = j.Groups
	}
	return out, nil
}

// Exec runs the job through the bound session.
func (j *DeviceJob) Exec(ctx context.Context) (*client.Response, error) {
	s, err := j.bound()
	if err != nil {
		return nil, err
	}
	return s.Exec(ctx, client.Obj(j))
}
