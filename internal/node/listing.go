package node

import (
	"encoding/xml"
	"fmt"
	"io"
)

// Kind distinguishes folder entries from object entries in a listing.
type Kind string

const (
	KindDirectory Kind = "directory"
	KindObject    Kind = "object"
)

// Entry is one named entry in a listing page.
type Entry struct {
	Name string
	Kind Kind
}

// Page is one decoded listing page.
type Page struct {
	Entries    []Entry
	NextMarker string // Explicit continuation cursor; empty when the server omitted it
}

// xmlListing mirrors the wire format of a listing response.
type xmlListing struct {
	XMLName    xml.Name   `xml:"directory"`
	Entries    []xmlEntry `xml:"entry"`
	NextMarker string     `xml:"nextMarker"`
}

type xmlEntry struct {
	Name string `xml:"name,attr"`
	Type string `xml:"type,attr"`
}

// decodePage decodes a listing response body into a Page.
func decodePage(r io.Reader) (*Page, error) {
	var doc xmlListing
	if err := xml.NewDecoder(r).Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode listing: %w", err)
	}

	page := &Page{NextMarker: doc.NextMarker}
	for _, e := range doc.Entries {
		if e.Name == "" {
			return nil, fmt.Errorf("listing entry with empty name")
		}
		kind := Kind(e.Type)
		if kind != KindDirectory && kind != KindObject {
			return nil, fmt.Errorf("listing entry %q has unknown type %q", e.Name, e.Type)
		}
		page.Entries = append(page.Entries, Entry{Name: e.Name, Kind: kind})
	}
	return page, nil
}
