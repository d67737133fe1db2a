package identity

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/text/cases"
)

// NameSource records which rule produced Event.DisplayName.
type NameSource int

const (
	NameNone NameSource = iota
	NameFromField
	NameFromParts
	NameFromEmail
)

func (s NameSource) String() string {
	switch s {
	case NameFromField:
		return "field"
	case NameFromParts:
		return "parts"
	case NameFromEmail:
		return "email"
	default:
		return "none"
	}
}

// Event is one normalized contact-changed notification.
type Event struct {
	Email              string
	ExternalContactID  string
	ExternalTenantID   string
	ExternalTenantName string
	DisplayName        string
	NameSource         NameSource
	Metadata           map[string]string
}

func (e Event) HasIdentity() bool {
	return e.Email != ""
}

// rule extracts one optional value from a decoded payload.
type rule func(payload map[string]any) (any, bool)

// field walks nested objects following keys.
func field(keys ...string) rule {
	return func(payload map[string]any) (any, bool) {
		var current any = payload
		for _, key := range keys {
			obj, ok := current.(map[string]any)
			if !ok {
				return nil, false
			}
			current, ok = obj[key]
			if !ok || current == nil {
				return nil, false
			}
		}
		return current, true
	}
}

// Extraction order per logical field. The first rule yielding a non-empty
// value wins; changing the order changes which producer field is trusted.
var (
	emailRules = []rule{
		field("email"),
		field("contact", "email"),
	}
	contactIDRules = []rule{
		field("contact_id"),
		field("contactId"),
		field("id"),
		field("contact", "id"),
	}
	tenantIDRules = []rule{
		field("location", "id"),
		field("location_id"),
		field("locationId"),
	}
	tenantNameRules = []rule{
		field("location", "name"),
		field("location_name"),
		field("locationName"),
	}
	fullNameRules = []rule{
		field("full_name"),
		field("fullName"),
		field("name"),
		field("contact", "name"),
	}
	firstNameRules = []rule{
		field("first_name"),
		field("firstName"),
		field("contact", "first_name"),
		field("contact", "firstName"),
	}
	lastNameRules = []rule{
		field("last_name"),
		field("lastName"),
		field("contact", "last_name"),
		field("contact", "lastName"),
	}
	phoneRules = []rule{
		field("phone"),
		field("contact", "phone"),
	}
)

// Normalize decodes a raw webhook body into an Event. A missing email is not
// an error; the returned event reports HasIdentity() == false.
func Normalize(raw []byte) (Event, error) {
	decoder := json.NewDecoder(bytes.NewReader(raw))
	decoder.UseNumber()
	var decoded any
	if err := decoder.Decode(&decoded); err != nil {
		return Event{}, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	payload, ok := decoded.(map[string]any)
	if !ok {
		return Event{}, fmt.Errorf("%w: payload is not a JSON object", ErrMalformedEvent)
	}

	email, err := extractEmail(payload)
	if err != nil {
		return Event{}, err
	}

	ev := Event{
		Email:              email,
		ExternalContactID:  firstText(payload, contactIDRules),
		ExternalTenantID:   firstText(payload, tenantIDRules),
		ExternalTenantName: firstText(payload, tenantNameRules),
		Metadata:           map[string]string{},
	}

	fullName := firstText(payload, fullNameRules)
	firstName := firstText(payload, firstNameRules)
	lastName := firstText(payload, lastNameRules)
	phone := firstText(payload, phoneRules)

	switch {
	case fullName != "":
		ev.DisplayName, ev.NameSource = fullName, NameFromField
	case strings.TrimSpace(firstName+" "+lastName) != "":
		ev.DisplayName, ev.NameSource = strings.TrimSpace(firstName+" "+lastName), NameFromParts
	case email != "":
		ev.DisplayName, ev.NameSource = localPart(email), NameFromEmail
	}

	for key, value := range map[string]string{
		"full_name":  fullName,
		"first_name": firstName,
		"last_name":  lastName,
		"phone":      phone,
	} {
		if value != "" {
			ev.Metadata[key] = value
		}
	}
	return ev, nil
}

// NormalizeEmail trims and case-folds an address. Every read and write of the
// person email goes through it.
func NormalizeEmail(email string) string {
	return cases.Fold().String(strings.TrimSpace(email))
}

func extractEmail(payload map[string]any) (string, error) {
	for _, r := range emailRules {
		value, ok := r(payload)
		if !ok {
			continue
		}
		text, isString := value.(string)
		if !isString {
			return "", fmt.Errorf("%w: email is not a string", ErrMalformedEvent)
		}
		email := NormalizeEmail(text)
		if email == "" {
			continue
		}
		if !strings.Contains(email, "@") {
			return "", fmt.Errorf("%w: invalid email %q", ErrMalformedEvent, text)
		}
		return email, nil
	}
	return "", nil
}

func firstText(payload map[string]any, rules []rule) string {
	for _, r := range rules {
		value, ok := r(payload)
		if !ok {
			continue
		}
		if text := asText(value); text != "" {
			return text
		}
	}
	return ""
}

func asText(value any) string {
	switch v := value.(type) {
	case string:
		return strings.TrimSpace(v)
	case json.Number:
		if n, err := v.Int64(); err == nil {
			return strconv.FormatInt(n, 10)
		}
		if f, err := v.Float64(); err == nil {
			return strconv.FormatFloat(f, 'f', -1, 64)
		}
		return v.String()
	default:
		return ""
	}
}

func localPart(email string) string {
	at := strings.IndexByte(email, '@')
	if at <= 0 {
		return email
	}
	return email[:at]
}
