package directory

import (
	"testing"
)

func TestRenderGUID(t *testing.T) {
	raw := []byte{
		0x04, 0x03, 0x02, 0x01,
		0x06, 0x05,
		0x08, 0x07,
		0x09, 0x0a,
		0x0b, 0x0c, 0x0d, 0x0e, 0x0f, 0x10,
	}

	got, err := renderGUID(raw)
	if err != nil {
		t.Fatalf("renderGUID error: %v", err)
	}
	want := "01020304-0506-0708-090a-0b0c0d0e0f10"
	if got != want {
		t.Errorf("renderGUID = %q, want %q", got, want)
	}
}

func TestRenderGUIDWrongLength(t *testing.T) {
	if _, err := renderGUID([]byte{0x01, 0x02}); err == nil {
		t.Error("renderGUID accepted a truncated GUID")
	}
	if _, err := renderGUID(nil); err == nil {
		t.Error("renderGUID accepted nil")
	}
}

func TestRenderSID(t *testing.T) {
	// S-1-5-21-1000: revision 1, two sub-authorities, authority 5.
	raw := []byte{
		0x01, 0x02,
		0x00, 0x00, 0x00, 0x00, 0x00, 0x05,
		0x15, 0x00, 0x00, 0x00,
		0xe8, 0x03, 0x00, 0x00,
	}

	got, err := renderSID(raw)
	if err != nil {
		t.Fatalf("renderSID error: %v", err)
	}
	want := "S-1-5-21-1000"
	if got != want {
		t.Errorf("renderSID = %q, want %q", got, want)
	}
}

func TestRenderSIDMalformed(t *testing.T) {
	if _, err := renderSID(nil); err == nil {
		t.Error("renderSID accepted empty input")
	}
	// Truncated: claims two sub-authorities but carries none.
	if _, err := renderSID([]byte{0x01, 0x02, 0x00, 0x00, 0x00, 0x00, 0x00, 0x05}); err == nil {
		t.Error("renderSID accepted truncated input")
	}
}

func TestIsBinaryAttribute(t *testing.T) {
	for name, want := range map[string]bool{
		"objectGUID": true,
		"objectSid":  true,
		"cn":         false,
		"memberOf":   false,
	} {
		if got := isBinaryAttribute(name); got != want {
			t.Errorf("isBinaryAttribute(%q) = %v, want %v", name, got, want)
		}
	}
}

func TestRenderBinaryValuesDropsBadValues(t *testing.T) {
	values := renderBinaryValues("objectGUID", [][]byte{
		{0x01},
		{
			0x04, 0x03, 0x02, 0x01,
			0x06, 0x05,
			0x08, 0x07,
			0x09, 0x0a,
			0x0b, 0x0c, 0x0d, 0x0e, 0x0f, 0x10,
		},
	})

	if len(values) != 1 {
		t.Fatalf("renderBinaryValues returned %d values, want 1", len(values))
	}
	if values[0] != "01020304-0506-0708-090a-0b0c0d0e0f10" {
		t.Errorf("renderBinaryValues[0] = %q", values[0])
	}
}
