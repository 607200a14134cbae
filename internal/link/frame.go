package link

import "github.com/devmesh/meshnode"

// Frame is the JSON structure exchanged over a Session's transport. Not
// every field is meaningful for every verb; see the per-verb notes below.
type Frame struct {
	Method meshnode.Verb `json:"method"`

	// ReqID correlates an application-originated or lifecycle request with
	// its RESPONSE. Zero on one-way frames (PUT, NOTIFY).
	ReqID int64 `json:"reqid,omitempty"`

	// ConnID is the per-link handle for a registration or connection. For
	// REGISTER it is minted by the sender (the side hosting the device).
	// For CONNECT it is minted by the receiver and returned in RESPONSE.
	ConnID string `json:"connid,omitempty"`

	// DeviceID addresses a device. Required on REGISTER, CONNECT, GET, SET,
	// INVOKE, SUBSCRIBE, DESCRIBE, CONFIG, PUT and NOTIFY.
	DeviceID string `json:"deviceid,omitempty"`

	// Identifier is the property/method/event name for application-
	// originated verbs and the metric/event name for PUT/NOTIFY.
	Identifier string `json:"identifier,omitempty"`

	Value  any   `json:"value,omitempty"`
	Params []any `json:"params,omitempty"`

	// Success, Res and Err carry a RESPONSE frame's outcome: Success
	// reports which of Res/Err is meaningful.
	Success bool   `json:"success,omitempty"`
	Res     any    `json:"res,omitempty"`
	Err     string `json:"err,omitempty"`
}

// isApplicationVerb reports whether v is one of the six downstream
// capability verbs carried as an application-originated request frame.
func isApplicationVerb(v meshnode.Verb) bool {
	switch v {
	case meshnode.Get, meshnode.Set, meshnode.Invoke, meshnode.Subscribe, meshnode.Describe, meshnode.Config:
		return true
	default:
		return false
	}
}
