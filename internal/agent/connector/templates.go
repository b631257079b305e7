package connector

import "strings"

// SOAP actions per the connector service descriptions.
const (
	actionExternalAuthenticate = "http://ws.gematik.de/conn/SignatureService/v7.4#ExternalAuthenticate"
	actionGetPinStatus         = "http://ws.gematik.de/conn/CardService/v8.1#GetPinStatus"
	actionReadCardCertificate  = "http://ws.gematik.de/conn/CertificateService/v6.0#ReadCardCertificate"
	actionGetCards             = "http://ws.gematik.de/conn/EventService/v7.2#GetCards"
	actionGetCardTerminals     = "http://ws.gematik.de/conn/EventService/v7.2#GetCardTerminals"
)

const soapContentType = "text/xml;charset=UTF-8"

// Service names looked up in the connector self-description.
const (
	ServiceAuthSignature = "AuthSignatureService"
	ServiceCertificate   = "CertificateService"
	ServiceEvent         = "EventService"
	ServiceCard          = "CardService"
)

// Envelopes are plain text templates with {PLACEHOLDER} slots, filled by
// strings.Replacer. All request values come from configuration or from
// previous connector responses, never from the deep link, so no XML
// escaping is applied.

const tmplGetCardTerminals = `<soapenv:Envelope xmlns:soapenv="http://schemas.xmlsoap.org/soap/envelope/" xmlns:ns2="http://ws.gematik.de/conn/EventService/v7.2" xmlns:ns3="http://ws.gematik.de/conn/ConnectorContext/v2.0" xmlns:ns4="http://ws.gematik.de/conn/ConnectorCommon/v5.0">
  <soapenv:Header/>
  <soapenv:Body>
    <ns2:GetCardTerminals mandant-wide="false">
      <ns3:Context>
        <ns4:MandantId>{MANDANT}</ns4:MandantId>
        <ns4:ClientSystemId>{CLIENT}</ns4:ClientSystemId>
        <ns4:WorkplaceId>{WORKPLACE}</ns4:WorkplaceId>
      </ns3:Context>
    </ns2:GetCardTerminals>
  </soapenv:Body>
</soapenv:Envelope>`

const tmplGetCards = `<soapenv:Envelope xmlns:soapenv="http://schemas.xmlsoap.org/soap/envelope/" xmlns:ns2="http://ws.gematik.de/conn/EventService/v7.2" xmlns:ns3="http://ws.gematik.de/conn/ConnectorContext/v2.0" xmlns:ns4="http://ws.gematik.de/conn/ConnectorCommon/v5.0">
  <soapenv:Header/>
  <soapenv:Body>
    <ns2:GetCards mandant-wide="false">
      <ns3:Context>
        <ns4:MandantId>{MANDANT}</ns4:MandantId>
        <ns4:ClientSystemId>{CLIENT}</ns4:ClientSystemId>
        <ns4:WorkplaceId>{WORKPLACE}</ns4:WorkplaceId>
      </ns3:Context>
      <ns2:CardType>{CARDTYPE}</ns2:CardType>
    </ns2:GetCards>
  </soapenv:Body>
</soapenv:Envelope>`

const tmplGetPinStatus = `<soapenv:Envelope xmlns:soapenv="http://schemas.xmlsoap.org/soap/envelope/" xmlns:ns2="http://ws.gematik.de/conn/CardService/v8.1" xmlns:ns3="http://ws.gematik.de/conn/ConnectorContext/v2.0" xmlns:ns4="http://ws.gematik.de/conn/ConnectorCommon/v5.0">
  <soapenv:Header/>
  <soapenv:Body>
    <ns2:GetPinStatus>
      <ns3:Context>
        <ns4:MandantId>{MANDANT}</ns4:MandantId>
        <ns4:ClientSystemId>{CLIENT}</ns4:ClientSystemId>
        <ns4:WorkplaceId>{WORKPLACE}</ns4:WorkplaceId>
        <ns4:UserId>{USER}</ns4:UserId>
      </ns3:Context>
      <ns4:CardHandle>{CARDHANDLE}</ns4:CardHandle>
      <ns2:PinTyp>{PINTYPE}</ns2:PinTyp>
    </ns2:GetPinStatus>
  </soapenv:Body>
</soapenv:Envelope>`

const tmplReadCardCertificate = `<soapenv:Envelope xmlns:soapenv="http://schemas.xmlsoap.org/soap/envelope/" xmlns:ns2="http://ws.gematik.de/conn/CertificateService/v6.0" xmlns:ns3="http://ws.gematik.de/conn/ConnectorContext/v2.0" xmlns:ns4="http://ws.gematik.de/conn/ConnectorCommon/v5.0" xmlns:ns5="http://ws.gematik.de/conn/CertificateServiceCommon/v2.0">
  <soapenv:Header/>
  <soapenv:Body>
    <ns2:ReadCardCertificate>
      <ns4:CardHandle>{CARDHANDLE}</ns4:CardHandle>
      <ns3:Context>
        <ns4:MandantId>{MANDANT}</ns4:MandantId>
        <ns4:ClientSystemId>{CLIENT}</ns4:ClientSystemId>
        <ns4:WorkplaceId>{WORKPLACE}</ns4:WorkplaceId>
        <ns4:UserId>{USER}</ns4:UserId>
      </ns3:Context>
      <ns2:CertRefList>
        <ns2:CertRef>{CERTIFICATE_REF}</ns2:CertRef>
      </ns2:CertRefList>
      <ns5:Crypt>{CRYPT}</ns5:Crypt>
    </ns2:ReadCardCertificate>
  </soapenv:Body>
</soapenv:Envelope>`

const tmplExternalAuthenticate = `<soapenv:Envelope xmlns:soapenv="http://schemas.xmlsoap.org/soap/envelope/" xmlns:ns2="http://ws.gematik.de/conn/SignatureService/v7.4" xmlns:ns3="http://ws.gematik.de/conn/ConnectorContext/v2.0" xmlns:ns4="http://ws.gematik.de/conn/ConnectorCommon/v5.0" xmlns:dss="urn:oasis:names:tc:dss:1.0:core:schema">
  <soapenv:Header/>
  <soapenv:Body>
    <ns2:ExternalAuthenticate>
      <ns4:CardHandle>{CARDHANDLE}</ns4:CardHandle>
      <ns3:Context>
        <ns4:MandantId>{MANDANT}</ns4:MandantId>
        <ns4:ClientSystemId>{CLIENT}</ns4:ClientSystemId>
        <ns4:WorkplaceId>{WORKPLACE}</ns4:WorkplaceId>
        <ns4:UserId>{USER}</ns4:UserId>
      </ns3:Context>
      <ns2:OptionalInputs>
        <ns2:SignatureType>{SIGNATURETYPE}</ns2:SignatureType>
        <ns2:SignatureSchemes>{SIGNATURESCHEME}</ns2:SignatureSchemes>
      </ns2:OptionalInputs>
      <ns2:BinaryString>
        <dss:Base64Data MimeType="text/plain; charset=utf-8">{BASE64DATA}</dss:Base64Data>
      </ns2:BinaryString>
    </ns2:ExternalAuthenticate>
  </soapenv:Body>
</soapenv:Envelope>`

func fillTemplate(tmpl string, pairs ...string) string {
	return strings.NewReplacer(pairs...).Replace(tmpl)
}
