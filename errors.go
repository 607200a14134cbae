package meshnode

import "errors"

// Domain errors for the meshnode package.
//
// These can be checked with errors.Is():
//
//	if errors.Is(err, meshnode.ErrAlreadyRegistered) {
//	    // handle duplicate registration
//	}
var (
	// ErrAlreadyRegistered is returned when register is called for an id
	// that already exists in the Device Registry.
	ErrAlreadyRegistered = errors.New("meshnode: Already registered")

	// ErrNotRegistered is returned when deregister is called for an id that
	// is not present in the Device Registry.
	ErrNotRegistered = errors.New("meshnode: not registered")

	// ErrDeviceNotConnected is returned by the dispatcher's final downstream
	// handler when the target device id is not in the registry.
	ErrDeviceNotConnected = errors.New("meshnode: device is not connected")

	// ErrLayerMustInvokeNextOrReturn is returned when a middleware handler
	// neither calls next() nor returns a value.
	ErrLayerMustInvokeNextOrReturn = errors.New("meshnode: layer must invoke next or return")

	// ErrInvalidDeviceID is returned, wrapped with the resolver's reason, by
	// Node and DeviceRegistry when the authority resolver rejects an id: a
	// malformed or empty identifier, or a domain the node cannot serve.
	ErrInvalidDeviceID = errors.New("meshnode: invalid device id")

	// ErrNoGateway's message is the reason the authority resolver records
	// when a domain has no gateway and the node is not configured to claim
	// unowned domains. Callers receive it as text inside an
	// ErrInvalidDeviceID error, not as a wrapped error.
	ErrNoGateway = errors.New("meshnode: no gateway for domain")

	// ErrGatewayDomainTaken is returned when registering a second gateway
	// for a domain that already has one.
	ErrGatewayDomainTaken = errors.New("meshnode: gateway already registered for domain")

	// ErrNoGatewayForDomain is returned when deregistering a domain that has
	// no gateway entry.
	ErrNoGatewayForDomain = errors.New("meshnode: no gateway registered for domain")
)
