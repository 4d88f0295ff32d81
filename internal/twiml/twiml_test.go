package twiml

import (
	"strings"
	"testing"
)

func TestRenderSayAndHangup(t *testing.T) {
	doc := Response{Verbs: []any{
		Say{Voice: "alice", Language: "en-US", Text: "Thank you. Goodbye!"},
		Hangup{},
	}}

	out, err := Render(doc)
	if err != nil {
		t.Fatalf("Render error: %v", err)
	}
	if !strings.HasPrefix(out, Header) {
		t.Errorf("output missing XML declaration:\n%s", out)
	}
	for _, want := range []string{
		`<Say voice="alice" language="en-US">Thank you. Goodbye!</Say>`,
		`<Hangup></Hangup>`,
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestRenderGatherNesting(t *testing.T) {
	doc := Response{Verbs: []any{
		Say{Text: "Welcome."},
		Gather{
			Action:    "/api/v1/twiml/handle-input?call_id=abc",
			Method:    "POST",
			NumDigits: 1,
			Timeout:   5,
			Verbs: []any{
				Say{Text: "Press 1 for sales."},
			},
		},
		Redirect{Method: "POST", URL: "/api/v1/twiml/welcome?call_id=abc"},
	}}

	out, err := Render(doc)
	if err != nil {
		t.Fatalf("Render error: %v", err)
	}
	gatherIdx := strings.Index(out, "<Gather")
	sayIdx := strings.Index(out, "Press 1 for sales.")
	closeIdx := strings.Index(out, "</Gather>")
	if gatherIdx < 0 || sayIdx < 0 || closeIdx < 0 || !(gatherIdx < sayIdx && sayIdx < closeIdx) {
		t.Errorf("gather prompt not nested:\n%s", out)
	}
	for _, want := range []string{
		`action="/api/v1/twiml/handle-input?call_id=abc"`,
		`method="POST"`,
		`numDigits="1"`,
		`timeout="5"`,
		`<Redirect method="POST">/api/v1/twiml/welcome?call_id=abc</Redirect>`,
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestRenderEscapesText(t *testing.T) {
	doc := Response{Verbs: []any{
		Say{Text: `Press <1> & "hold"`},
	}}

	out, err := Render(doc)
	if err != nil {
		t.Fatalf("Render error: %v", err)
	}
	if strings.Contains(out, "<1>") {
		t.Errorf("unescaped markup in output:\n%s", out)
	}
	if !strings.Contains(out, "&lt;1&gt; &amp;") {
		t.Errorf("expected escaped text in output:\n%s", out)
	}
}

func TestRenderDial(t *testing.T) {
	out, err := Render(Response{Verbs: []any{Dial{Number: "+14155550100"}}})
	if err != nil {
		t.Fatalf("Render error: %v", err)
	}
	if !strings.Contains(out, `<Dial>+14155550100</Dial>`) {
		t.Errorf("output missing dial verb:\n%s", out)
	}
}
