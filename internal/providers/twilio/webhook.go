package twilio

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"net/url"
	"sort"
	"strings"
)

// VerifySignature checks X-Twilio-Signature: base64(HMAC-SHA1(token, url + sorted key/value pairs)).
func VerifySignature(authToken, fullURL, provided string, form url.Values) bool {
	if provided == "" {
		return false
	}
	return hmac.Equal([]byte(Sign(authToken, fullURL, form)), []byte(provided))
}

func Sign(authToken, fullURL string, form url.Values) string {
	keys := make([]string, 0, len(form))
	for k := range form {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(fullURL)
	for _, k := range keys {
		b.WriteString(k)
		b.WriteString(form.Get(k))
	}

	mac := hmac.New(sha1.New, []byte(authToken))
	mac.Write([]byte(b.String()))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// DeliveryState maps a Twilio MessageStatus onto the detail delivery status.
func DeliveryState(messageStatus string) string {
	switch strings.ToLower(messageStatus) {
	case "delivered":
		return "delivered"
	case "failed", "undelivered":
		return "failed"
	case "sent":
		return "sent"
	default:
		return strings.ToLower(messageStatus)
	}
}
