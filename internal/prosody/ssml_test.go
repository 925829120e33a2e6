package prosody

import (
	"strings"
	"testing"
)

func TestEnhanceWrapsInSpeak(t *testing.T) {
	got := Enhance("hello world", StyleGeneral)
	if !strings.HasPrefix(got, "<speak>") || !strings.HasSuffix(got, "</speak>") {
		t.Errorf("got %q, want <speak> wrapper", got)
	}
}

func TestEnhanceEmphasis(t *testing.T) {
	got := Enhance("this is really important stuff", StyleGeneral)
	if !strings.Contains(got, `<emphasis level="moderate">important</emphasis>`) {
		t.Errorf("got %q, want emphasis on important", got)
	}
}

func TestEnhanceEmphasisCaseInsensitive(t *testing.T) {
	got := Enhance("That was Amazing", StyleGeneral)
	if !strings.Contains(got, `<emphasis level="moderate">Amazing</emphasis>`) {
		t.Errorf("got %q, want case-preserving emphasis on Amazing", got)
	}
}

func TestEnhanceSpellOut(t *testing.T) {
	got := Enhance("check the API docs", StyleGeneral)
	if !strings.Contains(got, `<say-as interpret-as="spell-out">API</say-as>`) {
		t.Errorf("got %q, want spell-out for API", got)
	}
}

func TestEnhanceQuestionPitch(t *testing.T) {
	got := Enhance("are you sure?", StyleGeneral)
	if !strings.Contains(got, `<prosody pitch="+2st" rate="medium">`) {
		t.Errorf("got %q, want raised pitch for question", got)
	}
}

func TestEnhanceExclamationPitch(t *testing.T) {
	got := Enhance("watch out!", StyleGeneral)
	if !strings.Contains(got, `<prosody pitch="+3st" rate="fast">`) {
		t.Errorf("got %q, want raised pitch for exclamation", got)
	}
}

func TestEnhanceBreaks(t *testing.T) {
	got := Enhance("First sentence. Second part, with a clause.", StyleGeneral)
	if !strings.Contains(got, `.<break time="0.3s"/> `) {
		t.Errorf("got %q, want sentence break", got)
	}
	if !strings.Contains(got, `,<break time="0.2s"/> `) {
		t.Errorf("got %q, want clause break", got)
	}
}

func TestEnhanceStyleWrapper(t *testing.T) {
	got := Enhance("reading the manual", StyleTechnical)
	if !strings.Contains(got, `<prosody rate="slow">`) {
		t.Errorf("got %q, want slow rate for technical style", got)
	}
}

func TestStripTagsRoundTrip(t *testing.T) {
	plain := "this is really important stuff"
	if got := StripTags(Enhance(plain, StyleFormal)); got != plain {
		t.Errorf("StripTags = %q, want %q", got, plain)
	}
}

func TestStripTagsSelfClosing(t *testing.T) {
	got := StripTags(`one.<break time="0.3s"/> two`)
	if got != "one. two" {
		t.Errorf("got %q, want %q", got, "one. two")
	}
}
