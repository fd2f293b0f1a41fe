package upnp

import (
	"encoding/xml"
	"html"
	"strings"
)

type DIDL struct {
	XMLName xml.Name `xml:"DIDL-Lite"`
	Items   []Item   `xml:"item"`
}

type Item struct {
	ID         string `xml:"id,attr"`
	ParentID   string `xml:"parentID,attr"`
	Restricted int    `xml:"restricted,attr"`
	Title      string `xml:"http://purl.org/dc/elements/1.1/ title"`
	Class      string `xml:"urn:schemas-upnp-org:metadata-1-0/upnp/ class"`
	Resources  []Res  `xml:"res"`
}

type Res struct {
	ProtocolInfo string `xml:"protocolInfo,attr"`
	URL          string `xml:",chardata"`
}

// ParseCurrentURIMetaData parses DIDL-Lite metadata, escaped or not.
func ParseCurrentURIMetaData(meta string) (*DIDL, error) {
	meta = strings.TrimSpace(meta)
	// 反转义实体：&lt; -> <, &quot; -> "
	if !strings.HasPrefix(meta, "<") {
		meta = html.UnescapeString(meta)
	}

	var d DIDL
	if err := xml.Unmarshal([]byte(meta), &d); err != nil {
		return nil, err
	}
	return &d, nil
}
