package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
)

// LocalizedName is either a plain string or a map of language code to text.
type LocalizedName struct {
	Plain        string
	Translations map[string]string
}

func NewLocalizedName(text string) LocalizedName {
	return LocalizedName{Plain: text}
}

func (n *LocalizedName) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil
	}

	if data[0] == '"' {
		return json.Unmarshal(data, &n.Plain)
	}

	if data[0] == '{' {
		return json.Unmarshal(data, &n.Translations)
	}

	return fmt.Errorf("cargo type name must be a string or an object, got %s", string(data))
}

func (n LocalizedName) MarshalJSON() ([]byte, error) {
	if n.Translations != nil {
		return json.Marshal(n.Translations)
	}
	return json.Marshal(n.Plain)
}

// Resolve picks the text for lang, then each fallback language in order, then def.
// A plain name ignores the language.
func (n LocalizedName) Resolve(def string, langs ...string) string {
	if n.Translations == nil {
		if n.Plain == "" {
			return def
		}
		return n.Plain
	}

	for _, lang := range langs {
		if text, ok := n.Translations[lang]; ok {
			return text
		}
	}
	return def
}

// CargoType is one entry of the cargo-types config document.
type CargoType struct {
	ID     string        `json:"id"`
	Name   LocalizedName `json:"name"`
	Active *bool         `json:"active,omitempty"`
}

// IsActive treats a missing flag as active.
func (c CargoType) IsActive() bool {
	return c.Active == nil || *c.Active
}

// CargoTypeOption is the localized view served to the public form.
type CargoTypeOption struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Value string `json:"value"`
}

// CargoTypesDocument is the schema payload of (config, cargo-types).
type CargoTypesDocument struct {
	CargoTypes  []CargoType `json:"cargoTypes"`
	NextID      int64       `json:"nextId"`
	LastUpdated string      `json:"lastUpdated,omitempty"`
}

// TranslationsDocument is the schema payload of (config, translations).
type TranslationsDocument struct {
	Translations map[string]json.RawMessage `json:"translations"`
}

// Select returns the bundle for lang, then English, then the first language in
// sorted order. The second result is false when the document has no bundles.
func (d TranslationsDocument) Select(lang string) (json.RawMessage, bool) {
	if bundle, ok := d.Translations[lang]; ok {
		return bundle, true
	}
	if bundle, ok := d.Translations["en"]; ok {
		return bundle, true
	}

	langs := make([]string, 0, len(d.Translations))
	for l := range d.Translations {
		langs = append(langs, l)
	}
	if len(langs) == 0 {
		return nil, false
	}
	sort.Strings(langs)
	return d.Translations[langs[0]], true
}

// EmailRecipient is one entry of the analysis-emails config document.
type EmailRecipient struct {
	Email  string `json:"email"`
	Active *bool  `json:"active,omitempty"`
}

// AnalysisEmailsDocument is the schema payload of (config, analysis-emails).
type AnalysisEmailsDocument struct {
	Emails []EmailRecipient `json:"emails"`
}

// ActiveEmails returns the non-empty addresses whose active flag is unset or true.
func (d AnalysisEmailsDocument) ActiveEmails() []string {
	emails := []string{}
	for _, recipient := range d.Emails {
		if recipient.Email == "" {
			continue
		}
		if recipient.Active == nil || *recipient.Active {
			emails = append(emails, recipient.Email)
		}
	}
	return emails
}

// DecodeDocument decodes a config payload into T.
func DecodeDocument[T any](raw json.RawMessage) (T, error) {
	var doc T
	if len(raw) == 0 {
		return doc, fmt.Errorf("config document is empty")
	}

	decoder := json.NewDecoder(bytes.NewReader(raw))
	decoder.UseNumber()
	if err := decoder.Decode(&doc); err != nil {
		return doc, fmt.Errorf("invalid config document: %w", err)
	}
	return doc, nil
}
