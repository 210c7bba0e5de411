package cache

import (
	"strconv"
	"strings"
)

// Keys builds every cache key under one namespace: {ns}:{...}.
type Keys struct {
	NS string
}

func NewKeys(ns string) Keys {
	return Keys{NS: strings.TrimSuffix(ns, ":")}
}

func (k Keys) join(parts ...string) string {
	if k.NS == "" {
		return strings.Join(parts, ":")
	}
	return k.NS + ":" + strings.Join(parts, ":")
}

// SendQueue is the list carrying batch jobs.
func (k Keys) SendQueue() string { return k.join("mq", "send", "queue") }

func (k Keys) TemplateLimit(appID int64, code string) string {
	return k.join("rate-limit", "template", strconv.FormatInt(appID, 10), code)
}

func (k Keys) Dedupe(appID int64, bizID string) string {
	return k.join("dedupe", strconv.FormatInt(appID, 10), bizID)
}

func (k Keys) BatchProcessing(batchID int64) string {
	return k.join("batch", "process", strconv.FormatInt(batchID, 10))
}

func (k Keys) ShortURL(code string) string { return k.join("short-url", code) }

func (k Keys) IPLimit(ip string) string { return k.join("short-url", "rate-limit", "ip", ip) }

func (k Keys) GlobalLimit() string { return k.join("short-url", "rate-limit", "global") }

func (k Keys) Blacklist(ip string) string { return k.join("short-url", "blacklist", ip) }

func (k Keys) Violation(ip string) string { return k.join("short-url", "violation", ip) }

// ChannelRefresh is the pub/sub topic announcing channel configuration changes.
func (k Keys) ChannelRefresh() string { return k.join("channel", "refresh") }
