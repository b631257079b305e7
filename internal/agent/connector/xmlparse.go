package connector

import (
	"encoding/xml"
	"strings"
)

// Connectors from different vendors prefix response elements with
// different namespace aliases, and some omit them entirely. All
// extraction below therefore matches on local element names only.

// tagText returns the character data of the first element whose local
// name equals tag, and whether such an element was found.
func tagText(doc []byte, tag string) (string, bool) {
	dec := xml.NewDecoder(strings.NewReader(string(doc)))
	depth := 0
	var text strings.Builder
	for {
		tok, err := dec.Token()
		if err != nil {
			return "", false
		}
		switch t := tok.(type) {
		case xml.StartElement:
			if depth > 0 {
				depth++
				continue
			}
			if t.Name.Local == tag {
				depth = 1
				text.Reset()
			}
		case xml.EndElement:
			if depth > 0 {
				depth--
				if depth == 0 {
					return strings.TrimSpace(text.String()), true
				}
			}
		case xml.CharData:
			if depth > 0 {
				text.Write(t)
			}
		}
	}
}

// elementMaps returns one map per occurrence of the element named tag,
// each holding the element's direct and nested children as local-name →
// trimmed text.
func elementMaps(doc []byte, tag string) ([]map[string]string, error) {
	dec := xml.NewDecoder(strings.NewReader(string(doc)))
	var out []map[string]string
	var current map[string]string
	var field string
	depth := 0
	for {
		tok, err := dec.Token()
		if err != nil {
			break
		}
		switch t := tok.(type) {
		case xml.StartElement:
			if depth == 0 {
				if t.Name.Local == tag {
					depth = 1
					current = map[string]string{}
				}
				continue
			}
			depth++
			field = t.Name.Local
		case xml.EndElement:
			if depth == 0 {
				continue
			}
			depth--
			field = ""
			if depth == 0 {
				out = append(out, current)
				current = nil
			}
		case xml.CharData:
			if current == nil || field == "" {
				continue
			}
			if v := strings.TrimSpace(string(t)); v != "" {
				current[field] = v
			}
		}
	}
	return out, nil
}
