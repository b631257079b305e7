package flow

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/healthsign/authagent/internal/agent/domain"
	"github.com/healthsign/authagent/pkg/idx"
	"github.com/healthsign/authagent/pkg/josex"
)

// maxDecodeRounds caps recursive percent-decoding. Relying parties
// nest-encode the challenge path once per hop; anything deeper than a
// handful of rounds is garbage input, not a deeper nesting.
const maxDecodeRounds = 10

// Scope additions are the deprecated way of selecting the card type
// inside the OAuth scope parameter.
const (
	scopeAdditionHBA  = " Person_ID"
	scopeAdditionSMCB = " Institutions_ID"
)

// Protocols a DEEPLINK callback may use.
var allowedDeeplinkProtocols = []string{"tim"}

var urlRe = regexp.MustCompile(`(http|https)://(\w+:?\w*@)?(\S+)(:\d+)?(/|/([\w#!:.?+=&%@!\-/]))?`)

// DecodeRecursively percent-decodes until no escape sequences remain.
// Triggers arrive double or triple encoded depending on how many
// browser and OS layers the deep link crossed. A round that cannot
// decode (a literal percent sign) ends the recursion. Only percent
// escapes are decoded; a literal plus in the challenge path's query is
// payload, not an encoded space.
func DecodeRecursively(s string) string {
	for i := 0; i < maxDecodeRounds; i++ {
		if !strings.Contains(s, "%") {
			return s
		}
		decoded, err := url.PathUnescape(s)
		if err != nil || decoded == s {
			return s
		}
		s = decoded
	}
	return s
}

// popParam extracts a parameter from the challenge path's query string.
// When pop is set, the "&name=value" fragment is cut out of the path
// verbatim, leaving the remaining path byte-identical otherwise: the
// path is later fetched as-is and must not be re-serialized.
func popParam(path, name string, pop bool) (cleanPath, value string) {
	if path == "" || !strings.Contains(path, name) {
		return path, ""
	}
	_, query, found := strings.Cut(path, "?")
	if !found {
		return path, ""
	}
	values, err := url.ParseQuery(query)
	if err != nil {
		return path, ""
	}
	value = values.Get(name)
	if value == "" {
		return path, ""
	}
	if pop {
		path = strings.Replace(path, "&"+name+"="+value, "", 1)
	}
	return path, value
}

// classifyCallback maps the popped callback value onto a callback type.
// Absent value means OPEN_TAB; a URL with an allow-listed protocol is a
// deep link into another local app.
func classifyCallback(value string) (domain.CallbackType, string, error) {
	if value == "" {
		return domain.CallbackOpenTab, "", nil
	}
	switch strings.ToUpper(value) {
	case string(domain.CallbackDirect):
		return domain.CallbackDirect, "", nil
	case string(domain.CallbackOpenTab):
		return domain.CallbackOpenTab, "", nil
	}
	if u, err := url.Parse(value); err == nil {
		for _, proto := range allowedDeeplinkProtocols {
			if u.Scheme == proto {
				return domain.CallbackDeeplink, value, nil
			}
		}
	}
	return "", "", domain.NewFlowError(domain.KindValidation, domain.CodeRedirectInvalid,
		fmt.Sprintf("invalid callback value %q", value), nil)
}

// filterScopeCardType handles the deprecated scope-addition card-type
// selection: the addition is cut from the scope and mapped to a type.
func filterScopeCardType(path string) (string, domain.CardType, bool) {
	switch {
	case strings.Contains(path, scopeAdditionHBA):
		return strings.TrimRight(strings.Replace(path, scopeAdditionHBA, "", 1), " "), domain.CardTypeHBA, true
	case strings.Contains(path, scopeAdditionSMCB):
		return strings.TrimRight(strings.Replace(path, scopeAdditionSMCB, "", 1), " "), domain.CardTypeSMCB, true
	default:
		return path, domain.CardTypeHBA, false
	}
}

// parsedTrigger is the outcome of PARSING: one request, plus the raw
// derived trigger when the caller asked for both card types.
type parsedTrigger struct {
	req        domain.Request
	derivedRaw string
}

// parseTrigger turns decoded deep-link content into a request. The
// trigger carries either authz_path (legacy authorization server) or
// challenge_path (central IdP); that choice selects the protocol
// variant for the rest of the flow.
func parseTrigger(content string) (*parsedTrigger, error) {
	variant := josex.VariantCentralIdp
	_, path, found := strings.Cut(content, "?challenge_path=")
	if !found {
		_, path, found = strings.Cut(content, "?authz_path=")
		if !found {
			return nil, domain.NewFlowError(domain.KindValidation, domain.CodeLaunchParams,
				"neither challenge_path nor authz_path in trigger", nil)
		}
		variant = josex.VariantOGR
	}

	path, callbackValue := popParam(path, "callback", true)
	callback, deeplink, err := classifyCallback(callbackValue)
	if err != nil {
		return nil, err
	}

	path, cardTypeValue := popParam(path, "cardType", true)
	_, clientID := popParam(path, "client_id", false)

	if !urlRe.MatchString(path) {
		return nil, domain.NewFlowError(domain.KindValidation, domain.CodeLaunchParams,
			fmt.Sprintf("challenge path is not a url: %q", path), nil)
	}

	var cardType domain.CardType
	var derivedRaw string
	switch {
	case cardTypeValue == domain.CardTypeMulti:
		// Both card types: run HBA now, queue the SMC-B half.
		cardType = domain.CardTypeHBA
		path, _, _ = filterScopeCardType(path)
		derivedRaw = strings.Replace(content,
			"cardType="+cardTypeValue, "cardType="+string(domain.CardTypeSMCB), 1)
	case cardTypeValue != "":
		cardType, _ = domain.ParseCardType(cardTypeValue)
		path, _, _ = filterScopeCardType(path)
	default:
		path, cardType, _ = filterScopeCardType(path)
	}

	return &parsedTrigger{
		req: domain.Request{
			ID:           idx.New().String(),
			ChallengeURL: path,
			Variant:      variant,
			CardType:     cardType,
			Callback:     callback,
			Deeplink:     deeplink,
			ClientID:     clientID,
		},
		derivedRaw: derivedRaw,
	}, nil
}
