package speech

import (
	"encoding/xml"
	"fmt"
	"strings"
)

// SSML describes a synthesis request: which voice speaks, in which
// language, and at what rate.
type SSML struct {
	Voice    string
	Language string
	// Rate is a relative speaking rate; 1.0 is the voice default.
	Rate float64
}

// Document renders text into an SSML document. Text is XML-escaped.
func (s SSML) Document(text string) string {
	lang := s.Language
	if lang == "" {
		lang = "en-US"
	}

	var escaped strings.Builder
	_ = xml.EscapeText(&escaped, []byte(text))

	body := escaped.String()
	if s.Rate > 0 && s.Rate != 1.0 {
		body = fmt.Sprintf(`<prosody rate="%+.0f%%">%s</prosody>`, (s.Rate-1.0)*100, body)
	}

	return fmt.Sprintf(
		`<speak version="1.0" xmlns="http://www.w3.org/2001/10/synthesis" xml:lang="%s"><voice name="%s">%s</voice></speak>`,
		lang, s.Voice, body)
}
