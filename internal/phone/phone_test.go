package phone

import "testing"

func TestNormalizeE164(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"5551234567", "+15551234567"},
		{"(555) 123-4567", "+15551234567"},
		{"15551234567", "+15551234567"},
		{"+15551234567", "+15551234567"},
		{"+44 20 7946 0018", "+442079460018"},
		{"911", "+911"},
		{"", ""},
	}

	for _, tc := range cases {
		if got := NormalizeE164(tc.in); got != tc.want {
			t.Errorf("NormalizeE164(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestNormalizeE164IsIdempotent(t *testing.T) {
	inputs := []string{"5551234567", "15551234567", "+442079460018", "911"}
	for _, in := range inputs {
		once := NormalizeE164(in)
		twice := NormalizeE164(once)
		if once != twice {
			t.Errorf("NormalizeE164 not idempotent for %q: %q then %q", in, once, twice)
		}
	}
}

func TestFormatDisplay(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"555", "555"},
		{"555123", "(555) 123"},
		{"5551234", "(555) 123-4"},
		{"5551234567", "(555) 123-4567"},
		{"15551234567", "+1 (555) 123-4567"},
		{"+44", "+44"},
		{"+442079460018", "+442 079 4600 18"},
		{"", ""},
	}

	for _, tc := range cases {
		if got := FormatDisplay(tc.in); got != tc.want {
			t.Errorf("FormatDisplay(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestRaw(t *testing.T) {
	if got := Raw("(555) 123-4567"); got != "5551234567" {
		t.Errorf("Raw = %q, want 5551234567", got)
	}
	if got := Raw("+1 (555) 123-4567"); got != "+15551234567" {
		t.Errorf("Raw = %q, want +15551234567", got)
	}
}
