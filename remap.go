package ldapauth

import "strings"

// Remap transforms raw directory attributes into local profile fields.
//
// The email-partial attribute, when present, is first truncated to the
// substring before the first "@" (a value with no "@" is kept unchanged).
// Each attribute named in the map is then copied into its local field,
// taking the first value of multi-valued attributes. Unmapped attributes are
// dropped; mapped attributes absent from the input produce no field, and the
// caller supplies defaults.
func Remap(raw map[string][]string, attributeMap map[string]string, emailPartial string) map[string]string {
	fields := make(map[string]string, len(attributeMap))

	for attr, field := range attributeMap {
		values, ok := raw[attr]
		if !ok || len(values) == 0 {
			continue
		}
		value := values[0]
		if attr == emailPartial {
			value = emailLocalPart(value)
		}
		fields[field] = value
	}

	return fields
}

// emailLocalPart returns the part of an address before the first "@".
func emailLocalPart(value string) string {
	if i := strings.Index(value, "@"); i >= 0 {
		return value[:i]
	}
	return value
}
