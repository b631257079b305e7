package domain

// CardType identifies the smart-card class a flow authenticates with.
type CardType string

const (
	// CardTypeHBA is the professional card (Heilberufsausweis).
	CardTypeHBA CardType = "HBA"
	// CardTypeSMCB is the institution card (SMC-B).
	CardTypeSMCB CardType = "SMC-B"
)

// CardTypeMulti is the challenge-path value requesting both card types;
// it is a queue directive, not a CardType a flow can carry.
const CardTypeMulti = "multi"

// ParseCardType maps the cardType challenge-path parameter onto a
// CardType. Unknown values fall back to HBA, matching the historic
// default of the scope-based selection.
func ParseCardType(s string) (CardType, bool) {
	switch s {
	case "HBA", "hba":
		return CardTypeHBA, true
	case "SMC-B", "SMCB", "smc-b", "smcb":
		return CardTypeSMCB, true
	default:
		return CardTypeHBA, false
	}
}

// PinType returns the connector PIN reference for the card type.
func (c CardType) PinType() string {
	if c == CardTypeSMCB {
		return "PIN.SMC"
	}
	return "PIN.CH"
}

// Card is one card resolved through the connector for the duration of a
// single flow. Nothing here is persisted; only the pseudonymous user id
// derived from the hashed ICCSN outlives the flow.
type Card struct {
	Handle     string
	ICCSN      string
	Type       CardType
	SlotID     string
	TerminalID string

	// Certificate is the card's C.AUT certificate (base64 DER), filled
	// in before signing.
	Certificate string
	// ECC marks cards whose C.AUT key is brainpool ECDSA rather than RSA.
	ECC bool
}

// Terminal is one card terminal reported by the connector.
type Terminal struct {
	ID        string
	Name      string
	Workplace string
	Connected bool
}

// PinStatus is the closed set of connector PIN verification states.
type PinStatus string

const (
	PinStatusVerified     PinStatus = "VERIFIED"
	PinStatusVerifiable   PinStatus = "VERIFIABLE"
	PinStatusTransportPin PinStatus = "TRANSPORT_PIN"
	PinStatusBlocked      PinStatus = "BLOCKED"
	PinStatusRejected     PinStatus = "REJECTED"
	PinStatusEmptyPin     PinStatus = "EMPTY_PIN"
	PinStatusDisabled     PinStatus = "DISABLED"
)

// Usable reports whether a card with this PIN status may proceed to
// signing. SMC-B flows accept VERIFIABLE: the institution card's PIN is
// typically entered once per terminal session, while the HBA must be
// verified for each signature.
func (p PinStatus) Usable(cardType CardType) bool {
	switch p {
	case PinStatusVerified:
		return true
	case PinStatusVerifiable:
		return cardType == CardTypeSMCB
	default:
		return false
	}
}
