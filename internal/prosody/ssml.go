// Package prosody decorates reply text with SSML markup for TTS backends that
// support it: emphasis on charged words, spell-out hints for acronyms, pitch
// shifts for questions and exclamations, and short breaks between clauses.
//
// Backends without SSML support (e.g., the OpenAI speech API) receive the
// plain text instead; [StripTags] reverses the markup for logging and history.
package prosody

import (
	"fmt"
	"regexp"
	"strings"
)

// Style selects the overall prosody wrapper applied to the whole reply.
type Style string

const (
	StyleGeneral   Style = "general"
	StyleTechnical Style = "technical"
	StyleCasual    Style = "casual"
	StyleFormal    Style = "formal"
	StyleExcited   Style = "excited"
)

// Words that get moderate emphasis when they appear in a reply.
var emphasisWords = []string{
	"important", "critical", "essential", "key", "vital", "urgent",
	"significant", "crucial", "necessary", "required",
	"amazing", "incredible", "fantastic", "wonderful", "terrible",
	"horrible", "excellent", "perfect", "awful", "brilliant",
}

// Acronyms that should be spelled out rather than read as words.
var spellOutTerms = []string{
	"API", "URL", "HTTP", "JSON", "XML", "SQL", "AI", "ML", "GPT",
	"CPU", "GPU", "RAM", "SSD", "USB", "VPN",
}

var emphasisRe = compileEmphasisPattern()

func compileEmphasisPattern() *regexp.Regexp {
	quoted := make([]string, len(emphasisWords))
	for i, w := range emphasisWords {
		quoted[i] = regexp.QuoteMeta(w)
	}
	return regexp.MustCompile(`(?i)\b(` + strings.Join(quoted, "|") + `)\b`)
}

// breakReplacer inserts pacing breaks after clause and sentence boundaries.
var breakReplacer = strings.NewReplacer(
	". ", `.<break time="0.3s"/> `,
	"! ", `!<break time="0.3s"/> `,
	"? ", `?<break time="0.3s"/> `,
	", ", `,<break time="0.2s"/> `,
	": ", `:<break time="0.2s"/> `,
	"; ", `;<break time="0.2s"/> `,
)

// tagRe matches any SSML element tag, used by StripTags.
var tagRe = regexp.MustCompile(`</?[a-z-]+(?:\s[^>]*)?>`)

// Enhance wraps text in a <speak> document with emphasis, spell-out, pitch,
// and break markup. The input must be plain text; markup in the input is not
// escaped.
func Enhance(text string, style Style) string {
	out := emphasisRe.ReplaceAllString(text, `<emphasis level="moderate">$1</emphasis>`)

	for _, term := range spellOutTerms {
		if strings.Contains(out, term) {
			out = strings.ReplaceAll(out,
				term, fmt.Sprintf(`<say-as interpret-as="spell-out">%s</say-as>`, term))
		}
	}

	switch {
	case strings.HasSuffix(strings.TrimSpace(text), "?"):
		out = fmt.Sprintf(`<prosody pitch="+2st" rate="medium">%s</prosody>`, out)
	case strings.HasSuffix(strings.TrimSpace(text), "!"):
		out = fmt.Sprintf(`<prosody pitch="+3st" rate="fast">%s</prosody>`, out)
	}

	out = breakReplacer.Replace(out)

	switch style {
	case StyleTechnical:
		out = fmt.Sprintf(`<prosody rate="slow">%s</prosody>`, out)
	case StyleCasual:
		out = fmt.Sprintf(`<prosody rate="fast">%s</prosody>`, out)
	case StyleFormal:
		out = fmt.Sprintf(`<prosody rate="medium" pitch="-1st">%s</prosody>`, out)
	case StyleExcited:
		out = fmt.Sprintf(`<prosody rate="fast" pitch="+2st">%s</prosody>`, out)
	}

	return "<speak>" + out + "</speak>"
}

// StripTags removes all SSML markup, returning the plain text.
func StripTags(ssml string) string {
	return tagRe.ReplaceAllString(ssml, "")
}
