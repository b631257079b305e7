package connector

import (
	"encoding/xml"
	"strings"
)

// serviceDescription is the subset of the connector self-description
// (connector.sds) the agent needs: one TLS endpoint per service plus
// the product type version that selects envelope dialects.
type serviceDescription struct {
	Endpoints          map[string]string
	ProductTypeVersion string
}

func attr(el xml.StartElement, name string) string {
	for _, a := range el.Attr {
		if a.Name.Local == name {
			return a.Value
		}
	}
	return ""
}

// parseSDS extracts service endpoints from a self-description document.
// Services list one version block per supported interface revision; the
// highest version's EndpointTLS location wins.
func parseSDS(doc []byte) (*serviceDescription, error) {
	sd := &serviceDescription{Endpoints: map[string]string{}}

	dec := xml.NewDecoder(strings.NewReader(string(doc)))
	var serviceName, bestVersion, version string
	for {
		tok, err := dec.Token()
		if err != nil {
			break
		}
		el, ok := tok.(xml.StartElement)
		if !ok {
			continue
		}
		switch {
		case strings.Contains(el.Name.Local, "Service") && attr(el, "Name") != "":
			serviceName = attr(el, "Name")
			bestVersion = ""
		case strings.Contains(el.Name.Local, "Version") && attr(el, "Version") != "":
			version = attr(el, "Version")
		case el.Name.Local == "EndpointTLS":
			loc := attr(el, "Location")
			if serviceName == "" || loc == "" {
				continue
			}
			if bestVersion == "" || version > bestVersion {
				bestVersion = version
				sd.Endpoints[serviceName] = loc
			}
		}
	}

	if ptv, ok := tagText(doc, "ProductTypeVersion"); ok {
		sd.ProductTypeVersion = ptv
	}
	return sd, nil
}
