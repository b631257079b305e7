// Package connector talks SOAP to the local card connector: terminal
// and card enumeration, PIN status, certificate reads and the
// ExternalAuthenticate signature over a prepared digest.
package connector

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/healthsign/authagent/internal/agent/domain"
)

// Signature parameters sent in ExternalAuthenticate's OptionalInputs.
const (
	sigTypeRSA = "urn:ietf:rfc:3447"
	sigTypeECC = "urn:bsi:tr-03111:ecdsa"

	schemePSS   = "RSASSA-PSS"
	schemePKCS1 = "RSASSA-PKCS1-v1_5"
	schemeECDSA = "ECDSA"
)

// Config carries the connector address and the call context every SOAP
// operation includes.
type Config struct {
	// Host is the connector base URL, e.g. https://10.11.12.13:443.
	Host string
	// SDSPath is the self-description path, default /connector.sds.
	SDSPath string

	MandantID      string
	ClientSystemID string
	WorkplaceID    string
	UserID         string

	// ECC switches signing to brainpool ECDSA; default is RSA with PSS
	// or PKCS#1 v1.5 depending on the flow variant.
	ECC bool
}

// Client is a connector SOAP client. Service endpoints are resolved
// once from the self-description and cached for the process lifetime.
type Client struct {
	http *http.Client
	cfg  Config
	log  *slog.Logger

	mu  sync.Mutex
	sds *serviceDescription
}

func New(httpClient *http.Client, cfg Config, log *slog.Logger) *Client {
	if cfg.SDSPath == "" {
		cfg.SDSPath = "/connector.sds"
	}
	return &Client{http: httpClient, cfg: cfg, log: log}
}

// ProductTypeVersion returns the connector's PTV once the
// self-description has been fetched, empty before that.
func (c *Client) ProductTypeVersion() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sds == nil {
		return ""
	}
	return c.sds.ProductTypeVersion
}

// endpoint resolves the TLS endpoint for a service, fetching the
// self-description on first use. Endpoint hosts from the description
// are rewritten to the configured connector host: connectors behind NAT
// advertise internal addresses.
func (c *Client) endpoint(ctx context.Context, service string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sds == nil {
		doc, err := c.get(ctx, c.cfg.Host+c.cfg.SDSPath)
		if err != nil {
			return "", err
		}
		sds, err := parseSDS(doc)
		if err != nil {
			return "", domain.NewFlowError(domain.KindConnector, domain.CodeSoapParse, "self-description unreadable", err)
		}
		c.log.Debug("connector self-description loaded",
			"services", len(sds.Endpoints), "ptv", sds.ProductTypeVersion)
		c.sds = sds
	}
	ep, ok := c.sds.Endpoints[service]
	if !ok {
		return "", domain.NewFlowError(domain.KindConnector, domain.CodeConnectorUnknown,
			fmt.Sprintf("service %s not in self-description", service), nil)
	}
	return c.mapEndpoint(ep)
}

func (c *Client) mapEndpoint(ep string) (string, error) {
	cfgURL, err := url.Parse(c.cfg.Host)
	if err != nil {
		return "", fmt.Errorf("parse connector host: %w", err)
	}
	u, err := url.Parse(ep)
	if err != nil {
		return "", fmt.Errorf("parse service endpoint: %w", err)
	}
	u.Scheme = cfgURL.Scheme
	u.Host = cfgURL.Host
	return u.String(), nil
}

func (c *Client) get(ctx context.Context, rawURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, domain.NewFlowError(domain.KindNetwork, domain.CodeConnectorRefused, "connector unreachable", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, domain.NewFlowError(domain.KindNetwork, domain.CodeConnectorRefused, "connector read failed", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, domain.NewFlowError(domain.KindConnector, domain.CodeConnectorUnknown,
			fmt.Sprintf("connector answered %d", resp.StatusCode), nil)
	}
	return body, nil
}

// call posts a SOAP envelope and returns the response body. Fault
// bodies, on any HTTP status, come back as *Fault via FlowError.
func (c *Client) call(ctx context.Context, endpoint, action, envelope string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(envelope))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", soapContentType)
	req.Header.Set("SOAPAction", action)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, domain.NewFlowError(domain.KindNetwork, domain.CodeConnectorRefused, "connector unreachable", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, domain.NewFlowError(domain.KindNetwork, domain.CodeConnectorRefused, "connector read failed", err)
	}

	if resp.StatusCode != http.StatusOK {
		if f := checkFault(body); f != nil {
			c.log.Warn("connector fault", "action", action, "code", f.Code, "severity", f.Severity)
			return nil, f.FlowError()
		}
		return nil, domain.NewFlowError(domain.KindConnector, domain.CodeConnectorUnknown,
			fmt.Sprintf("connector answered %d", resp.StatusCode), nil)
	}
	return body, nil
}

// SetUser sets the user id included in the call context of subsequent
// operations. The flow engine serializes flows, so this is effectively
// per-flow state.
func (c *Client) SetUser(id string) {
	c.mu.Lock()
	c.cfg.UserID = id
	c.mu.Unlock()
}

func (c *Client) contextPairs() []string {
	c.mu.Lock()
	user := c.cfg.UserID
	c.mu.Unlock()
	return []string{
		"{MANDANT}", c.cfg.MandantID,
		"{CLIENT}", c.cfg.ClientSystemID,
		"{WORKPLACE}", c.cfg.WorkplaceID,
		"{USER}", user,
	}
}

// GetCardTerminals enumerates the terminals assigned to the workplace.
func (c *Client) GetCardTerminals(ctx context.Context) ([]domain.Terminal, error) {
	ep, err := c.endpoint(ctx, ServiceEvent)
	if err != nil {
		return nil, err
	}
	env := fillTemplate(tmplGetCardTerminals, c.contextPairs()...)
	body, err := c.call(ctx, ep, actionGetCardTerminals, env)
	if err != nil {
		return nil, err
	}

	items, err := elementMaps(body, "CardTerminal")
	if err != nil {
		return nil, domain.NewFlowError(domain.KindConnector, domain.CodeSoapParse, "terminal list unreadable", err)
	}
	if len(items) == 0 {
		return nil, domain.NewFlowError(domain.KindConnector, domain.CodeNoTerminals, "no card terminals found", nil)
	}
	terminals := make([]domain.Terminal, 0, len(items))
	for _, it := range items {
		terminals = append(terminals, domain.Terminal{
			ID:        it["CtId"],
			Name:      it["Name"],
			Workplace: it["WorkplaceId"],
			Connected: it["Connected"] == "true",
		})
	}
	return terminals, nil
}

// GetCards lists the inserted cards of one type. Zero cards yields a
// retriable *Fault (no-cards class); callers see every inserted card
// and decide themselves how to handle more than one.
func (c *Client) GetCards(ctx context.Context, cardType domain.CardType) ([]domain.Card, error) {
	ep, err := c.endpoint(ctx, ServiceEvent)
	if err != nil {
		return nil, err
	}
	pairs := append(c.contextPairs(), "{CARDTYPE}", string(cardType))
	body, err := c.call(ctx, ep, actionGetCards, fillTemplate(tmplGetCards, pairs...))
	if err != nil {
		return nil, err
	}

	if result, _ := tagText(body, "Result"); result != "OK" {
		return nil, domain.NewFlowError(domain.KindConnector, domain.CodeCardHandle,
			fmt.Sprintf("get cards result %q", result), nil)
	}
	items, err := elementMaps(body, "Card")
	if err != nil {
		return nil, domain.NewFlowError(domain.KindConnector, domain.CodeSoapParse, "card list unreadable", err)
	}
	if len(items) == 0 {
		f := &Fault{
			Code:     domain.ConnectorCodeBadHandle,
			Severity: "Warning",
			Text:     fmt.Sprintf("no %s cards found", cardType),
		}
		return nil, f.FlowError()
	}
	cards := make([]domain.Card, 0, len(items))
	for _, it := range items {
		cards = append(cards, domain.Card{
			Handle:     it["CardHandle"],
			ICCSN:      it["Iccsn"],
			Type:       cardType,
			SlotID:     it["SlotId"],
			TerminalID: it["CtId"],
			ECC:        c.cfg.ECC,
		})
	}
	return cards, nil
}

// GetPinStatus reads the verification state of the card's signing PIN.
func (c *Client) GetPinStatus(ctx context.Context, card domain.Card) (domain.PinStatus, error) {
	ep, err := c.endpoint(ctx, ServiceCard)
	if err != nil {
		return "", err
	}
	pairs := append(c.contextPairs(),
		"{CARDHANDLE}", card.Handle,
		"{PINTYPE}", card.Type.PinType(),
	)
	body, err := c.call(ctx, ep, actionGetPinStatus, fillTemplate(tmplGetPinStatus, pairs...))
	if err != nil {
		return "", err
	}

	if result, _ := tagText(body, "Result"); result != "OK" {
		return "", domain.NewFlowError(domain.KindConnector, domain.CodePinStatus,
			fmt.Sprintf("pin status result %q", result), nil)
	}
	status, ok := tagText(body, "PinStatus")
	if !ok {
		return "", domain.NewFlowError(domain.KindConnector, domain.CodePinStatus, "pin status missing", nil)
	}
	return domain.PinStatus(status), nil
}

// ReadCardCertificate fetches the card's C.AUT certificate as base64
// DER, the value placed into the JWS x5c header.
func (c *Client) ReadCardCertificate(ctx context.Context, card domain.Card) (string, error) {
	ep, err := c.endpoint(ctx, ServiceCertificate)
	if err != nil {
		return "", err
	}
	crypt := "RSA"
	if card.ECC {
		crypt = "ECC"
	}
	pairs := append(c.contextPairs(),
		"{CARDHANDLE}", card.Handle,
		"{CERTIFICATE_REF}", "C.AUT",
		"{CRYPT}", crypt,
	)
	body, err := c.call(ctx, ep, actionReadCardCertificate, fillTemplate(tmplReadCardCertificate, pairs...))
	if err != nil {
		return "", err
	}

	cert, ok := tagText(body, "X509Certificate")
	if !ok || cert == "" {
		return "", domain.NewFlowError(domain.KindConnector, domain.CodeCertificateEmpty, "card certificate missing", nil)
	}
	return cert, nil
}

// ExternalAuthenticate asks the card to sign the prepared digest
// (standard base64 of SHA-256 over the JWS signing input). The scheme
// depends on key type and flow: the legacy authorization server
// verifies PKCS#1 v1.5, the central IdP PSS or ECDSA.
func (c *Client) ExternalAuthenticate(ctx context.Context, cardHandle, digestB64 string, pkcs1 bool) (string, error) {
	ep, err := c.endpoint(ctx, ServiceAuthSignature)
	if err != nil {
		return "", err
	}
	sigType, scheme := sigTypeRSA, schemePSS
	if c.cfg.ECC {
		sigType, scheme = sigTypeECC, schemeECDSA
	} else if pkcs1 {
		scheme = schemePKCS1
	}
	pairs := append(c.contextPairs(),
		"{CARDHANDLE}", cardHandle,
		"{SIGNATURETYPE}", sigType,
		"{SIGNATURESCHEME}", scheme,
		"{BASE64DATA}", digestB64,
	)
	body, err := c.call(ctx, ep, actionExternalAuthenticate, fillTemplate(tmplExternalAuthenticate, pairs...))
	if err != nil {
		return "", err
	}

	sig, ok := tagText(body, "Base64Signature")
	if !ok || sig == "" {
		return "", domain.NewFlowError(domain.KindConnector, domain.CodeSignatureDecode, "signature missing in response", nil)
	}
	return sig, nil
}
