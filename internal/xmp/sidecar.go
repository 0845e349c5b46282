// Package xmp patches attribution metadata into XMP sidecar files. Original
// media bytes are never touched; attribution lives in a colocated .xmp
// document the way raw workflows expect.
package xmp

import (
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strings"

	"github.com/rs/zerolog/log"
)

// Patch carries the attribution fields to merge into a sidecar. A nil field
// is left alone; a pointer to an empty string clears the sidecar field.
type Patch struct {
	Creator      *string
	Rights       *string
	WebStatement *string
	Credit       *string
}

// IsZero reports whether the patch would change nothing.
func (p Patch) IsZero() bool {
	return p.Creator == nil && p.Rights == nil && p.WebStatement == nil && p.Credit == nil
}

// Fields is the parsed form of the sidecar fields this patcher understands.
type Fields struct {
	Creator      string
	Rights       string
	WebStatement string
	Credit       string
}

// Result reports the per-file sidecar outcome. Sidecar failure never changes
// a file's copy status, so this is an outcome, not an error.
type Result struct {
	SidecarPath string `json:"sidecar_path,omitempty"`
	Written     bool   `json:"written"`
	Error       string `json:"error,omitempty"`
}

// SidecarPath returns the sidecar path for a media file: same base name with
// the extension replaced by .xmp (the Lightroom/Capture One convention).
func SidecarPath(mediaPath string) string {
	if i := strings.LastIndexByte(mediaPath, '.'); i > strings.LastIndexByte(mediaPath, '/') {
		return mediaPath[:i] + ".xmp"
	}
	return mediaPath + ".xmp"
}

// Apply merges the patch into the media file's sidecar. If a sidecar exists,
// its known fields are parsed and the patch overlays them (patch wins on
// conflict); otherwise a fresh sidecar is written from the patch alone.
// Apply never returns an error: every failure is captured in the Result.
func Apply(mediaPath string, patch Patch) Result {
	scPath := SidecarPath(mediaPath)
	res := Result{SidecarPath: scPath}

	if patch.IsZero() {
		return res
	}

	fields := Fields{}
	data, err := os.ReadFile(scPath)
	switch {
	case err == nil:
		parsed, parseErr := ParseFields(data)
		if parseErr != nil {
			// A sidecar we cannot parse is left intact; overwriting it could
			// destroy edits from another tool.
			res.Error = fmt.Sprintf("existing sidecar unreadable: %v", parseErr)
			log.Warn().Str("sidecar", scPath).Str("error", res.Error).Msg("Skipping sidecar patch")
			return res
		}
		fields = parsed
	case errors.Is(err, fs.ErrNotExist):
		// fresh sidecar
	default:
		res.Error = fmt.Sprintf("failed to read sidecar: %v", err)
		return res
	}

	if patch.Creator != nil {
		fields.Creator = *patch.Creator
	}
	if patch.Rights != nil {
		fields.Rights = *patch.Rights
	}
	if patch.WebStatement != nil {
		fields.WebStatement = *patch.WebStatement
	}
	if patch.Credit != nil {
		fields.Credit = *patch.Credit
	}

	if err := os.WriteFile(scPath, MarshalFields(fields), 0o644); err != nil {
		res.Error = fmt.Sprintf("failed to write sidecar: %v", err)
		return res
	}

	res.Written = true
	log.Debug().Str("sidecar", scPath).Msg("Sidecar patched")
	return res
}

// ParseFields extracts the known attribution fields from an XMP packet. It
// walks tokens by local element name, which tolerates namespace prefix
// variation across the tools that write sidecars.
func ParseFields(data []byte) (Fields, error) {
	var fields Fields

	dec := xml.NewDecoder(strings.NewReader(string(data)))
	var elemStack []string
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return Fields{}, fmt.Errorf("invalid XMP packet: %w", err)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			elemStack = append(elemStack, t.Name.Local)
		case xml.EndElement:
			if len(elemStack) > 0 {
				elemStack = elemStack[:len(elemStack)-1]
			}
		case xml.CharData:
			text := strings.TrimSpace(string(t))
			if text == "" || len(elemStack) == 0 {
				continue
			}
			switch elemStack[len(elemStack)-1] {
			case "li":
				if inside(elemStack, "creator") {
					fields.Creator = text
				} else if inside(elemStack, "rights") {
					fields.Rights = text
				}
			case "WebStatement":
				fields.WebStatement = text
			case "Credit":
				fields.Credit = text
			}
		}
	}

	return fields, nil
}

func inside(stack []string, name string) bool {
	for _, s := range stack {
		if s == name {
			return true
		}
	}
	return false
}

// MarshalFields renders an XMP packet carrying the given fields. Empty fields
// are omitted, which is how a patch clear takes effect.
func MarshalFields(f Fields) []byte {
	var b strings.Builder
	b.WriteString(`<?xpacket begin="` + "\ufeff" + `" id="W5M0MpCehiHzreSzNTczkc9d"?>` + "\n")
	b.WriteString(`<x:xmpmeta xmlns:x="adobe:ns:meta/">` + "\n")
	b.WriteString(` <rdf:RDF xmlns:rdf="http://www.w3.org/1999/02/22-rdf-syntax-ns#">` + "\n")
	b.WriteString(`  <rdf:Description rdf:about=""` + "\n")
	b.WriteString(`    xmlns:dc="http://purl.org/dc/elements/1.1/"` + "\n")
	b.WriteString(`    xmlns:xmpRights="http://ns.adobe.com/xap/1.0/rights/"` + "\n")
	b.WriteString(`    xmlns:photoshop="http://ns.adobe.com/photoshop/1.0/">` + "\n")

	if f.Creator != "" {
		b.WriteString("   <dc:creator><rdf:Seq><rdf:li>")
		b.WriteString(escape(f.Creator))
		b.WriteString("</rdf:li></rdf:Seq></dc:creator>\n")
	}
	if f.Rights != "" {
		b.WriteString(`   <dc:rights><rdf:Alt><rdf:li xml:lang="x-default">`)
		b.WriteString(escape(f.Rights))
		b.WriteString("</rdf:li></rdf:Alt></dc:rights>\n")
	}
	if f.WebStatement != "" {
		b.WriteString("   <xmpRights:WebStatement>")
		b.WriteString(escape(f.WebStatement))
		b.WriteString("</xmpRights:WebStatement>\n")
	}
	if f.Credit != "" {
		b.WriteString("   <photoshop:Credit>")
		b.WriteString(escape(f.Credit))
		b.WriteString("</photoshop:Credit>\n")
	}

	b.WriteString("  </rdf:Description>\n")
	b.WriteString(" </rdf:RDF>\n")
	b.WriteString("</x:xmpmeta>\n")
	b.WriteString(`<?xpacket end="w"?>` + "\n")
	return []byte(b.String())
}

func escape(s string) string {
	var b strings.Builder
	xml.EscapeText(&b, []byte(s))
	return b.String()
}
