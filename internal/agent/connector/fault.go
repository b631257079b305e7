package connector

import (
	"bytes"
	"fmt"

	"github.com/healthsign/authagent/internal/agent/domain"
)

// Fault is a structured error the connector reported inside a SOAP
// response body.
type Fault struct {
	Code     string
	Severity string
	Text     string
}

func (f *Fault) Error() string {
	return fmt.Sprintf("connector fault %s (%s): %s", f.Code, f.Severity, f.Text)
}

// NoCards reports the fault the connector raises when no card of the
// requested type is inserted. The flow engine treats this as retriable.
func (f *Fault) NoCards() bool {
	return f.Code == domain.ConnectorCodeBadHandle
}

// FlowError lifts the fault into the flow error taxonomy, mapping known
// connector codes onto their agent codes.
func (f *Fault) FlowError() *domain.FlowError {
	code := domain.CodeConnectorUnknown
	if mapped, ok := domain.MapConnectorCode(f.Code); ok {
		code = mapped
	}
	return domain.NewFlowError(domain.KindConnector, code, f.Text, f)
}

// checkFault inspects a response body for the connector's fault markers
// and extracts code and message when present. A body carrying neither
// marker yields nil.
func checkFault(body []byte) *Fault {
	if len(body) == 0 {
		return nil
	}
	if !bytes.Contains(body, []byte("Fault")) && !bytes.Contains(body, []byte("Severity")) {
		return nil
	}
	f := &Fault{}
	f.Code, _ = tagText(body, "Code")
	f.Severity, _ = tagText(body, "Severity")
	f.Text, _ = tagText(body, "ErrorText")
	if f.Text == "" {
		f.Text, _ = tagText(body, "faultstring")
	}
	return f
}
