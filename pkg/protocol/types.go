package protocol

// Type identifies a mesh message kind. Closed enumeration; routing branches on it.
type Type string

const (
	TypePaymentRequest      Type = "PAYMENT_REQUEST"
	TypePaymentConfirmation Type = "PAYMENT_CONFIRMATION"
	TypePaymentFailed       Type = "PAYMENT_FAILED"
)

// Valid reports whether t is a known message type.
func (t Type) Valid() bool {
	switch t {
	case TypePaymentRequest, TypePaymentConfirmation, TypePaymentFailed:
		return true
	default:
		return false
	}
}

// ContentType is an optional hint for payload decoding.
// Kept as constants to avoid coupling; not serialized in the envelope.
const (
	ContentUnknown = "application/octet-stream"
	ContentJSON    = "application/json"
	ContentCBOR    = "application/cbor"
	ContentMsgpack = "application/msgpack"
)
