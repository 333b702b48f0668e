package beacon

import (
	"errors"
)

var (
	// ErrNotConnected is returned by link operations attempted without a ready connection.
	ErrNotConnected = errors.New("beacon is not connected")
	// ErrScanTimeout indicates that no peer advertising the target name was found.
	ErrScanTimeout = errors.New("scan timed out without finding the beacon")
	// ErrCapabilityUnsupported is returned when a characteristic supports neither notify nor indicate.
	ErrCapabilityUnsupported = errors.New("characteristic supports neither notify nor indicate")
	// ErrTransportWriteFailed wraps errors of a rejected write.
	ErrTransportWriteFailed = errors.New("transport write failed")
	// ErrAlreadyConnected is returned by Connect while a connection is ready.
	ErrAlreadyConnected = errors.New("beacon is already connected")
	// ErrScanInProgress is returned by Connect while a scan owns the link.
	ErrScanInProgress = errors.New("scan in progress")
	// ErrCharacteristicNotFound indicates a characteristic missing from the discovered services.
	ErrCharacteristicNotFound = errors.New("characteristic not found")
	// ErrBeaconNotReady is returned by StartFlight while the beacon reports a not-ready status.
	ErrBeaconNotReady = errors.New("beacon is not ready to fly")
	// ErrLinkLost is the reason recorded for a link loss reported without a cause.
	ErrLinkLost = errors.New("link lost")

	// errMalformedTelemetry marks a telemetry line that could not be parsed.
	// It never leaves the package.
	errMalformedTelemetry = errors.New("malformed telemetry line")
)
