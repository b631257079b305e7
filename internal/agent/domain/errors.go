package domain

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a flow failure. The kind decides both the log
// channel and how the terminal redirect is built.
type ErrorKind int

const (
	KindValidation ErrorKind = iota
	KindConnector
	KindIdp
	KindNetwork
	KindCrypto
	KindCancelled
)

func (k ErrorKind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindConnector:
		return "connector"
	case KindIdp:
		return "idp"
	case KindNetwork:
		return "network"
	case KindCrypto:
		return "crypto"
	case KindCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Agent error codes. The 0xxx range is internal, 1xxx covers the card
// connector, 2xxx are user prompts surfaced by the UI layer.
const (
	CodeLaunchParams     = "AUTHCL_0001"
	CodeIdpError         = "AUTHCL_0002"
	CodeHashingFailed    = "AUTHCL_0003"
	CodeSignatureInvalid = "AUTHCL_0004"
	CodeResponseInvalid  = "AUTHCL_0005"
	CodeUserCancelled    = "AUTHCL_0006"
	CodeRedirectInvalid  = "AUTHCL_0007"

	CodeCardHandle        = "AUTHCL_1001"
	CodeTerminalsRead     = "AUTHCL_1003"
	CodeConnectorRefused  = "AUTHCL_1100"
	CodePinStatus         = "AUTHCL_1101"
	CodePinVerify         = "AUTHCL_1102"
	CodePinNotUsable      = "AUTHCL_1103"
	CodeRemotePin         = "AUTHCL_1104"
	CodeMultipleCards     = "AUTHCL_1105"
	CodeCertificateRead   = "AUTHCL_1107"
	CodeSignChallenge     = "AUTHCL_1108"
	CodeSoapParse         = "AUTHCL_1110"
	CodeCertificateEmpty  = "AUTHCL_1111"
	CodeNoTerminals       = "AUTHCL_1113"
	CodeClientKeyInvalid  = "AUTHCL_1114"
	CodeClientCertInvalid = "AUTHCL_1115"
	CodeConnectorUnknown  = "AUTHCL_1116"
	CodeSignatureDecode   = "AUTHCL_1117"
	CodeTransportPin      = "AUTHCL_1120"

	CodePromptInsertCard = "AUTHCL_2001"
	CodePromptEnterPin   = "AUTHCL_2002"
)

// mappedConnectorCodes translates the connector's own fault codes into
// agent codes. Every entry here is fatal; codes not listed get
// case-by-case handling at the call site.
var mappedConnectorCodes = map[string]string{
	"4004": "AUTHCL_1004",
	"4005": "AUTHCL_1005",
	"4006": "AUTHCL_1006",
	"4010": "AUTHCL_1010",
	"4011": "AUTHCL_1011",
	"4012": "AUTHCL_1012",
	"4014": "AUTHCL_1014",
	"4015": "AUTHCL_1015",
	"4016": "AUTHCL_1016",
	"4020": "AUTHCL_1020",
	"4021": "AUTHCL_1021",
	"4049": "AUTHCL_1049",
	"4204": "AUTHCL_1204",
}

// MapConnectorCode returns the agent code for a connector fault code
// and whether the fault is one of the known fatal ones.
func MapConnectorCode(code string) (string, bool) {
	mapped, ok := mappedConnectorCodes[code]
	return mapped, ok
}

// Connector fault codes handled individually rather than via the fatal
// map.
const (
	ConnectorCodeBadHandle    = "4047"
	ConnectorCodePinCancelled = "4049"
	ConnectorCodeRemotePin    = "4092"
)

// FlowError is the single error type a flow terminates with. Wrapped
// causes stay reachable through Unwrap for errors.Is checks.
type FlowError struct {
	Kind  ErrorKind
	Code  string
	Msg   string
	OAuth *IdpError // set when the IdP answered with an OAuth2 error body
	Cause error

	// Shown records that the failure was already surfaced to the user,
	// so the terminal handler must not re-report it.
	Shown bool
}

func (e *FlowError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s (%s): %s: %v", e.Msg, e.Code, e.Kind, e.Cause)
	}
	return fmt.Sprintf("%s (%s): %s", e.Msg, e.Code, e.Kind)
}

func (e *FlowError) Unwrap() error { return e.Cause }

// NewFlowError builds a FlowError with an optional cause.
func NewFlowError(kind ErrorKind, code, msg string, cause error) *FlowError {
	return &FlowError{Kind: kind, Code: code, Msg: msg, Cause: cause}
}

// Cancelled reports whether err is a user cancellation, which ends a
// flow without an error redirect.
func Cancelled(err error) bool {
	var fe *FlowError
	if errors.As(err, &fe) {
		return fe.Kind == KindCancelled
	}
	return false
}

// AsFlowError returns err as a *FlowError, wrapping foreign errors as
// an internal validation failure so every terminal path carries a code.
func AsFlowError(err error) *FlowError {
	var fe *FlowError
	if errors.As(err, &fe) {
		return fe
	}
	return NewFlowError(KindValidation, CodeLaunchParams, "unexpected error", err)
}
