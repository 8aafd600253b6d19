// Package redact masks credentials in request documents, replies, and error strings.
package redact

import (
	"regexp"
	"strings"
)

var (
	// Matches "Bearer <token>" (JWTs and opaque tokens).
	bearerTokenRe = regexp.MustCompile(`(?i)\bBearer\s+[^\s"']+`)

	// Secret-bearing elements of the request envelope.
	secretElemRe = regexp.MustCompile(`(?is)<(password|sessionid|userpassword)>.*?</(password|sessionid|userpassword)>`)

	// xmlrequest=... form bodies and password=... pairs leaking into error strings.
	secretKVRe = regexp.MustCompile(`(?i)\b(passwd|password|wspasswd|dbpasswd|sessionid)\b\s*[:=]\s*[^\s"'&<]+`)
)

// Secrets removes obvious secret-bearing substrings from log, trace, and error strings.
func Secrets(s string) string {
	if s == "" {
		return ""
	}
	out := s
	out = bearerTokenRe.ReplaceAllString(out, "Bearer <redacted>")
	out = secretElemRe.ReplaceAllStringFunc(out, maskElement)
	out = secretKVRe.ReplaceAllString(out, "<redacted_kv>")
	return strings.TrimSpace(out)
}

func maskElement(m string) string {
	sub := secretElemRe.FindStringSubmatch(m)
	if len(sub) < 2 {
		return m
	}
	return "<" + sub[1] + ">***</" + sub[1] + ">"
}

// Truncate redacts s and keeps at most max bytes on a single line.
func Truncate(s string, max int) string {
	if s == "" {
		return ""
	}
	cut := s
	if max > 0 && len(cut) > max {
		cut = cut[:max]
	}
	out := Secrets(cut)
	out = strings.ReplaceAll(out, "\n", " ")
	out = strings.ReplaceAll(out, "\r", " ")
	out = strings.TrimSpace(out)
	if out == "" {
		return ""
	}
	if max > 0 && len(s) > max {
		return out + "..."
	}
	return out
}
