// Package template implements destination routing for ingested files: a
// closed token vocabulary, per-file token contexts, and an ordered rule list
// that maps each file to a relative destination path inside the project root.
//
// Expansion is two-phase. Token values are sanitized individually, then the
// assembled path is validated as a whole. The phases are deliberately
// complementary: the sanitizer does not special-case a value of "..", but
// segment validation rejects it, so neither a hostile token value nor a
// hostile pattern/value composition can escape the project root.
package template

import (
	"fmt"
	"strings"
	"time"

	"github.com/fpang/media-ingest/internal/filehandler"
)

// Token names form a closed vocabulary. A pattern referencing any other name
// fails template validation at authoring time, never at expansion time.
const (
	TokenYYYY         = "YYYY"
	TokenMM           = "MM"
	TokenDD           = "DD"
	TokenClient       = "CLIENT"
	TokenJob          = "JOB"
	TokenMediaType    = "MEDIA_TYPE"
	TokenCameraModel  = "CAMERA_MODEL"
	TokenCameraSerial = "CAMERA_SERIAL_SHORT"
	TokenCameraLabel  = "CAMERA_LABEL"
	TokenCardLabel    = "CARD_LABEL"
	TokenExt          = "EXT"
	TokenOriginalName = "ORIGINAL_FILENAME"
)

// Vocabulary is the set of token names a pattern may reference.
var Vocabulary = map[string]bool{
	TokenYYYY:         true,
	TokenMM:           true,
	TokenDD:           true,
	TokenClient:       true,
	TokenJob:          true,
	TokenMediaType:    true,
	TokenCameraModel:  true,
	TokenCameraSerial: true,
	TokenCameraLabel:  true,
	TokenCardLabel:    true,
	TokenExt:          true,
	TokenOriginalName: true,
}

// CameraFallback substitutes for camera tokens when metadata yields nothing.
// A fixed string keeps the expanded path valid and greppable.
const CameraFallback = "NO_CAM"

// serialShortLen is how many trailing characters of the body serial number
// the CAMERA_SERIAL_SHORT token keeps.
const serialShortLen = 4

// TokenContext maps token names to sanitized per-file values.
type TokenContext map[string]string

// FileAttrs carries the per-file inputs the token builder derives values from.
type FileAttrs struct {
	RelPath   string
	ModTime   time.Time
	MediaType filehandler.MediaType
	Capture   filehandler.CaptureMetadata

	// CardLabel is the volume or source-folder label, if known.
	CardLabel string
}

// BuildTokenContext resolves every vocabulary token for one file.
// Precedence per token: user-provided context > value derived from the file >
// template default > empty string. All values pass through SanitizeToken.
func BuildTokenContext(attrs FileAttrs, userCtx, defaults map[string]string) TokenContext {
	derived := deriveTokens(attrs)

	ctx := make(TokenContext, len(Vocabulary))
	for name := range Vocabulary {
		var val string
		if v, ok := userCtx[name]; ok && v != "" {
			val = v
		} else if v, ok := derived[name]; ok && v != "" {
			val = v
		} else if v, ok := defaults[name]; ok && v != "" {
			val = v
		}
		ctx[name] = SanitizeToken(val)
	}
	return ctx
}

// deriveTokens computes the file-derived value for each token that has one.
func deriveTokens(attrs FileAttrs) map[string]string {
	date := attrs.ModTime
	if attrs.Capture.HasDate {
		date = attrs.Capture.CaptureDate
	}

	base := attrs.RelPath
	if i := strings.LastIndexByte(base, '/'); i >= 0 {
		base = base[i+1:]
	}
	ext := ""
	name := base
	if i := strings.LastIndexByte(base, '.'); i > 0 {
		ext = strings.ToLower(base[i+1:])
		name = base[:i]
	}

	model := attrs.Capture.CameraModel
	if model == "" {
		model = CameraFallback
	}

	label := attrs.Capture.CameraModel
	if label == "" {
		label = CameraFallback
	}

	serial := attrs.Capture.CameraSerial
	if len(serial) > serialShortLen {
		serial = serial[len(serial)-serialShortLen:]
	}
	if serial == "" {
		serial = "0000"
	}

	return map[string]string{
		TokenYYYY:         fmt.Sprintf("%04d", date.Year()),
		TokenMM:           fmt.Sprintf("%02d", int(date.Month())),
		TokenDD:           fmt.Sprintf("%02d", date.Day()),
		TokenMediaType:    string(attrs.MediaType),
		TokenCameraModel:  model,
		TokenCameraSerial: serial,
		TokenCameraLabel:  label,
		TokenCardLabel:    attrs.CardLabel,
		TokenExt:          ext,
		TokenOriginalName: name,
	}
}

// SanitizeToken normalizes a single token value: control and NUL bytes are
// stripped, path separators become underscores, repeated underscores collapse,
// and surrounding whitespace is trimmed. Dot-only values such as ".." are left
// to whole-result segment validation.
func SanitizeToken(v string) string {
	var b strings.Builder
	b.Grow(len(v))
	lastUnderscore := false
	for _, r := range v {
		switch {
		case r < 0x20 || r == 0x7f || r == 0:
			continue
		case r == '/' || r == '\\':
			r = '_'
		}
		if r == '_' {
			if lastUnderscore {
				continue
			}
			lastUnderscore = true
		} else {
			lastUnderscore = false
		}
		b.WriteRune(r)
	}
	return strings.TrimSpace(b.String())
}
