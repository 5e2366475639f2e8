package directory

import (
	"fmt"

	"github.com/bwmarrin/go-objectsid"
	"github.com/google/uuid"
)

// Active Directory returns objectGUID and objectSid as binary blobs. When
// those attributes are requested they are rendered to their canonical string
// forms so the remapping layer only ever sees printable values.

const guidBytesLength = 16

// renderGUID converts a binary objectGUID to the standard hyphenated UUID
// string. AD stores the first three GUID fields little-endian, so the bytes
// are reordered before decoding.
func renderGUID(raw []byte) (string, error) {
	if len(raw) != guidBytesLength {
		return "", fmt.Errorf("objectGUID must be %d bytes, got %d", guidBytesLength, len(raw))
	}

	ordered := make([]byte, guidBytesLength)
	copy(ordered, raw)
	ordered[0], ordered[1], ordered[2], ordered[3] = raw[3], raw[2], raw[1], raw[0]
	ordered[4], ordered[5] = raw[5], raw[4]
	ordered[6], ordered[7] = raw[7], raw[6]

	id, err := uuid.FromBytes(ordered)
	if err != nil {
		return "", fmt.Errorf("decode objectGUID: %w", err)
	}
	return id.String(), nil
}

// renderSID converts a binary objectSid to its S-1-5-21... string form.
func renderSID(raw []byte) (s string, err error) {
	if len(raw) == 0 {
		return "", fmt.Errorf("objectSid cannot be empty")
	}
	// objectsid.Decode panics on truncated input
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("decode objectSid: %v", r)
		}
	}()
	return objectsid.Decode(raw).String(), nil
}

// isBinaryAttribute reports whether the named attribute holds binary data
// that needs rendering before use.
func isBinaryAttribute(name string) bool {
	switch name {
	case "objectGUID", "objectSid":
		return true
	}
	return false
}

// renderBinaryValues renders each raw value of a binary attribute to its
// string form. Values that fail to decode are dropped.
func renderBinaryValues(name string, raw [][]byte) []string {
	values := make([]string, 0, len(raw))
	for _, v := range raw {
		var s string
		var err error
		switch name {
		case "objectGUID":
			s, err = renderGUID(v)
		case "objectSid":
			s, err = renderSID(v)
		}
		if err == nil && s != "" {
			values = append(values, s)
		}
	}
	return values
}
