package mqtt

import "errors"

// ErrNotConnected is returned when attempting to perform an operation on a client that is not connected to the broker.
var ErrNotConnected = errors.New("client is not connected to broker")

// ErrUnknownEncoding is returned for a payload encoding other than json or protobuf.
var ErrUnknownEncoding = errors.New("unknown payload encoding")
