package ivr

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
)

// ttsLocales maps short language codes to the locale tag sent with
// text-to-speech prompts. Menu and campaign language fields use the short
// codes.
var ttsLocales = map[string]string{
	"en": "en-US",
	"es": "es-ES",
	"fr": "fr-FR",
	"de": "de-DE",
	"hi": "hi-IN",
}

// defaultLanguage is used when no language is configured.
const defaultLanguage = "en"

// SupportedLanguages returns the language codes prompts can be spoken in,
// sorted for stable output.
func SupportedLanguages() []string {
	langs := make([]string, 0, len(ttsLocales))
	for code := range ttsLocales {
		langs = append(langs, code)
	}
	sort.Strings(langs)
	return langs
}

// LanguageSupported reports whether code has a TTS locale.
func LanguageSupported(code string) bool {
	_, ok := ttsLocales[code]
	return ok
}

// Locale resolves a language code to its TTS locale tag. Unknown codes fall
// back to the default language.
func Locale(code string) string {
	if locale, ok := ttsLocales[code]; ok {
		return locale
	}
	return ttsLocales[defaultLanguage]
}

// Menu is the immutable description of a voice menu: an intro played when the
// call is answered, a set of digit-keyed actions, and an end message played
// before hangup. It is configuration data; the call core only reads it.
type Menu struct {
	IntroText      string   `json:"intro_text"`
	Actions        []Action `json:"actions"`
	EndMessage     string   `json:"end_message"`
	NoMatchMessage string   `json:"no_match_message,omitempty"`
	Language       string   `json:"language,omitempty"`
}

// Action is a single menu option bound to a DTMF digit. Terminal actions end
// the call after their message is played; non-terminal actions replay the menu
// so the caller can make another selection.
type Action struct {
	Key         string `json:"key"`
	Message     string `json:"message"`
	Terminal    bool   `json:"terminal,omitempty"`
	Description string `json:"description,omitempty"`
	ForwardTo   string `json:"forward_to,omitempty"`
}

// defaultNoMatchMessage is played when the caller presses an unmapped digit.
const defaultNoMatchMessage = "Sorry, that is not a valid option. Please try again."

// Default returns the built-in menu used when no menu file is configured.
func Default() *Menu {
	return &Menu{
		IntroText: "Welcome to DialFlow. We help teams reach their customers with " +
			"automated voice campaigns. Please listen to the following options.",
		Actions: []Action{
			{
				Key:       "1",
				Message:   "To talk to our team, press 1",
				ForwardTo: "+15550100200",
			},
			{
				Key:     "2",
				Message: "To hear more about our service, press 2",
				Description: "DialFlow places outbound calls, plays configurable voice menus, " +
					"and tracks every call through its lifecycle.",
			},
			{
				Key:      "3",
				Message:  "To end this call, press 3",
				Terminal: true,
			},
		},
		EndMessage:     "Thank you for your time. Goodbye!",
		NoMatchMessage: defaultNoMatchMessage,
		Language:       defaultLanguage,
	}
}

// Load reads a menu from the JSON file at path and validates it. An empty
// path returns the built-in default menu.
func Load(path string) (*Menu, error) {
	if path == "" {
		return Default(), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading menu file: %w", err)
	}

	var m Menu
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parsing menu file %s: %w", path, err)
	}

	if m.NoMatchMessage == "" {
		m.NoMatchMessage = defaultNoMatchMessage
	}
	if m.Language == "" {
		m.Language = defaultLanguage
	}

	if err := m.Validate(); err != nil {
		return nil, fmt.Errorf("invalid menu in %s: %w", path, err)
	}

	return &m, nil
}

// Validate checks the menu invariants: a non-empty intro and end message, at
// least one action, and action keys that are unique single digits 0-9.
func (m *Menu) Validate() error {
	if strings.TrimSpace(m.IntroText) == "" {
		return fmt.Errorf("intro_text is required")
	}
	if strings.TrimSpace(m.EndMessage) == "" {
		return fmt.Errorf("end_message is required")
	}
	if len(m.Actions) == 0 {
		return fmt.Errorf("at least one action is required")
	}
	if m.Language != "" && !LanguageSupported(m.Language) {
		return fmt.Errorf("unsupported language %q (supported: %s)",
			m.Language, strings.Join(SupportedLanguages(), ", "))
	}

	seen := make(map[string]bool, len(m.Actions))
	for i, a := range m.Actions {
		if len(a.Key) != 1 || a.Key[0] < '0' || a.Key[0] > '9' {
			return fmt.Errorf("action %d: key %q must be a single digit 0-9", i, a.Key)
		}
		if seen[a.Key] {
			return fmt.Errorf("duplicate action key %q", a.Key)
		}
		seen[a.Key] = true
		if strings.TrimSpace(a.Message) == "" {
			return fmt.Errorf("action %q: message is required", a.Key)
		}
	}

	return nil
}

// Locale returns the TTS locale for the menu's configured language.
func (m *Menu) Locale() string {
	return Locale(m.Language)
}

// ActionForKey returns the action bound to the given digit, or nil if the
// digit is not mapped.
func (m *Menu) ActionForKey(key string) *Action {
	for i := range m.Actions {
		if m.Actions[i].Key == key {
			return &m.Actions[i]
		}
	}
	return nil
}

// MenuText concatenates the per-action prompts into the menu body read to the
// caller after the intro.
func (m *Menu) MenuText() string {
	var b strings.Builder
	for _, a := range m.Actions {
		b.WriteString(a.Message)
		b.WriteString(". ")
	}
	return strings.TrimSpace(b.String())
}
