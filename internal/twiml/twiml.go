// Package twiml builds TwiML voice documents. Only the verbs the IVR flow
// needs are modeled; rendering goes through encoding/xml so spoken text is
// always escaped.
package twiml

import (
	"encoding/xml"
	"fmt"
)

// Header is the XML declaration Twilio expects on every document.
const Header = `<?xml version="1.0" encoding="UTF-8"?>` + "\n"

// Response is the root element of a TwiML document. Verbs execute in order.
type Response struct {
	XMLName xml.Name `xml:"Response"`
	Verbs   []any
}

// Say speaks text to the caller.
type Say struct {
	XMLName  xml.Name `xml:"Say"`
	Voice    string   `xml:"voice,attr,omitempty"`
	Language string   `xml:"language,attr,omitempty"`
	Text     string   `xml:",chardata"`
}

// Gather collects DTMF input and posts it to Action.
type Gather struct {
	XMLName     xml.Name `xml:"Gather"`
	Action      string   `xml:"action,attr,omitempty"`
	Method      string   `xml:"method,attr,omitempty"`
	NumDigits   int      `xml:"numDigits,attr,omitempty"`
	Timeout     int      `xml:"timeout,attr,omitempty"`
	FinishOnKey string   `xml:"finishOnKey,attr,omitempty"`
	Verbs       []any
}

// Dial connects the caller to another number.
type Dial struct {
	XMLName xml.Name `xml:"Dial"`
	Number  string   `xml:",chardata"`
}

// Redirect fetches a new document from URL.
type Redirect struct {
	XMLName xml.Name `xml:"Redirect"`
	Method  string   `xml:"method,attr,omitempty"`
	URL     string   `xml:",chardata"`
}

// Hangup ends the call.
type Hangup struct {
	XMLName xml.Name `xml:"Hangup"`
}

// MarshalXML flattens Verbs into the element body in order.
func (r Response) MarshalXML(e *xml.Encoder, start xml.StartElement) error {
	start.Name = xml.Name{Local: "Response"}
	if err := e.EncodeToken(start); err != nil {
		return err
	}
	for _, v := range r.Verbs {
		if err := e.Encode(v); err != nil {
			return err
		}
	}
	return e.EncodeToken(start.End())
}

// MarshalXML emits the gather attributes and then its nested verbs.
func (g Gather) MarshalXML(e *xml.Encoder, start xml.StartElement) error {
	start.Name = xml.Name{Local: "Gather"}
	start.Attr = start.Attr[:0]
	addAttr := func(name, value string) {
		if value != "" {
			start.Attr = append(start.Attr, xml.Attr{Name: xml.Name{Local: name}, Value: value})
		}
	}
	addAttr("action", g.Action)
	addAttr("method", g.Method)
	if g.NumDigits > 0 {
		addAttr("numDigits", fmt.Sprintf("%d", g.NumDigits))
	}
	if g.Timeout > 0 {
		addAttr("timeout", fmt.Sprintf("%d", g.Timeout))
	}
	addAttr("finishOnKey", g.FinishOnKey)

	if err := e.EncodeToken(start); err != nil {
		return err
	}
	for _, v := range g.Verbs {
		if err := e.Encode(v); err != nil {
			return err
		}
	}
	return e.EncodeToken(start.End())
}

// Render serializes the document with the XML declaration prepended.
func Render(r Response) (string, error) {
	body, err := xml.MarshalIndent(r, "", "    ")
	if err != nil {
		return "", fmt.Errorf("rendering twiml: %w", err)
	}
	return Header + string(body) + "\n", nil
}
