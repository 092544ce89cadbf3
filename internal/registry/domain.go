package registry

import (
	"regexp"
	"slices"
	"strings"
)

// Domains is the fixed list of entity domains whose ids are validated.
// The list is part of the external contract and must match exactly.
var Domains = []string{
	"alarm_control_panel",
	"binary_sensor",
	"button",
	"camera",
	"climate",
	"device_tracker",
	"event",
	"image",
	"light",
	"lock",
	"media_player",
	"number",
	"person",
	"scene",
	"select",
	"sensor",
	"siren",
	"switch",
	"time",
	"tts",
	"update",
	"vacuum",
	"water_heater",
	"weather",
	"zone",
}

// IsDomain reports whether d is one of the recognized domains.
func IsDomain(d string) bool {
	return slices.Contains(Domains, d)
}

var entityIDRe = regexp.MustCompile(`^(` + strings.Join(Domains, "|") + `)\.[a-z0-9_]+$`)

// IsEntityID reports whether s is a domain-qualified id in a recognized
// domain, e.g. "light.kitchen_ceiling".
func IsEntityID(s string) bool {
	return entityIDRe.MatchString(s)
}

// SplitEntityID splits "domain.object_id". ok is false when there is no
// dot or either side is empty.
func SplitEntityID(id string) (domain, objectID string, ok bool) {
	domain, objectID, ok = strings.Cut(id, ".")
	if !ok || domain == "" || objectID == "" {
		return "", "", false
	}
	return domain, objectID, true
}
