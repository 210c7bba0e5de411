package service

import (
	"encoding/json"
	"strings"

	"notifgw/internal/domain"
)

// ContactFor picks the address a channel type delivers to. Phone-based channels use the
// mobile number and email uses the address; every other type looks its id up in the
// recipient's JSON user-id map and falls back to the mobile number.
func ContactFor(r domain.Recipient, typ domain.ChannelType) string {
	switch typ {
	case domain.ChannelSMS, domain.ChannelTencentSMS, domain.ChannelTwilio:
		return strings.TrimSpace(r.Mobile)
	case domain.ChannelEmail:
		return strings.TrimSpace(r.Email)
	}
	if id := userIDFor(r.UserID, typ); id != "" {
		return id
	}
	return strings.TrimSpace(r.Mobile)
}

func userIDFor(raw string, typ domain.ChannelType) string {
	raw = strings.TrimSpace(raw)
	if raw == "" || !strings.HasPrefix(raw, "{") {
		return ""
	}
	var ids map[string]any
	if err := json.Unmarshal([]byte(raw), &ids); err != nil {
		return ""
	}
	v, ok := ids[string(typ)]
	if !ok || v == nil {
		return ""
	}
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case float64:
		b, _ := json.Marshal(t)
		return string(b)
	default:
		return ""
	}
}

// ExtractContacts maps enabled recipients to contacts, skipping blanks and keeping the
// first name seen for a repeated contact.
func ExtractContacts(rs []domain.Recipient, typ domain.ChannelType) ([]string, map[string]string) {
	contacts := make([]string, 0, len(rs))
	names := make(map[string]string, len(rs))
	for _, r := range rs {
		if r.Status != domain.StatusEnabled {
			continue
		}
		c := ContactFor(r, typ)
		if c == "" {
			continue
		}
		if _, dup := names[c]; dup {
			continue
		}
		names[c] = r.Name
		contacts = append(contacts, c)
	}
	return contacts, names
}
