// Package phone normalizes Brazilian-style phone numbers for the messaging gateway.
package phone

import (
	"errors"
	"strings"
)

// DefaultCountryCode is prepended to national numbers.
const DefaultCountryCode = "55"

// ErrInvalid reports a number that cannot be delivered to.
var ErrInvalid = errors.New("phone: invalid number")

// junk markers found in spreadsheet exports in place of a number.
var junk = map[string]struct{}{
	"VERIFICAR": {},
	"-":         {},
	"N/A":       {},
	"NA":        {},
	"#REF!":     {},
	"NAN":       {},
	"NONE":      {},
	"NULL":      {},
	"0":         {},
}

// Digits keeps ASCII digits only.
func Digits(raw string) string {
	var b strings.Builder
	b.Grow(len(raw))
	for i := 0; i < len(raw); i++ {
		if c := raw[i]; c >= '0' && c <= '9' {
			b.WriteByte(c)
		}
	}
	return b.String()
}

// Wire prepares a number for the gateway: digits only, prefixed with cc
// when the prefix is missing.
func Wire(raw, cc string) (string, error) {
	if cc == "" {
		cc = DefaultCountryCode
	}
	d := Digits(raw)
	if d == "" {
		return "", ErrInvalid
	}
	if !strings.HasPrefix(d, cc) {
		d = cc + d
	}
	return d, nil
}

// Mobile validates a customer mobile number and returns it with the country
// code. National numbers have 10 or 11 digits; numbers with 12 or 13 digits
// must already start with cc. Mobile is idempotent.
func Mobile(raw, cc string) (string, error) {
	if cc == "" {
		cc = DefaultCountryCode
	}
	s := strings.ToUpper(strings.TrimSpace(raw))
	if s == "" {
		return "", ErrInvalid
	}
	if _, bad := junk[s]; bad {
		return "", ErrInvalid
	}
	d := Digits(s)
	switch n := len(d); {
	case n == 10 || n == 11:
		return cc + d, nil
	case (n == 12 || n == 13) && strings.HasPrefix(d, cc):
		return d, nil
	default:
		return "", ErrInvalid
	}
}

// JID returns the user part of a WhatsApp JID ("5566...@s.whatsapp.net").
func JID(remote string) string {
	if i := strings.IndexByte(remote, '@'); i >= 0 {
		return remote[:i]
	}
	return remote
}
