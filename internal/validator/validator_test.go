package validator

import "testing"

func TestValidator(t *testing.T) {
	var v Validator
	if !v.Valid() {
		t.Fatal("zero Validator should be valid")
	}

	v.CheckField(NotBlank("  "), "name", "blank")
	v.CheckField(false, "name", "second message is ignored")
	v.CheckField(Between(95, 40, 90), "target", "out of range")
	v.AddNonFieldError("try again")

	if v.Valid() {
		t.Fatal("expected invalid")
	}
	if v.FieldErrors["name"] != "blank" {
		t.Errorf("first error per field wins, got %q", v.FieldErrors["name"])
	}
	if got, want := v.Errors(), "try again; name: blank; target: out of range"; got != want {
		t.Errorf("Errors: got %q, want %q", got, want)
	}
}

func TestMatchers(t *testing.T) {
	tests := []struct {
		name string
		ok   bool
	}{
		{"email ok", Matches("admin@example.com", EmailRX)},
		{"time ok", Matches("07:30", TimeOfDayRX)},
		{"time midnight", Matches("00:00", TimeOfDayRX)},
		{"between float", Between(40.0, 40, 90)},
		{"max chars", MaxChars("abc", 3)},
	}
	for _, tt := range tests {
		if !tt.ok {
			t.Errorf("%s: expected true", tt.name)
		}
	}

	for _, s := range []string{"24:00", "7:30", "12:60", ""} {
		if Matches(s, TimeOfDayRX) {
			t.Errorf("%q should not match TimeOfDayRX", s)
		}
	}
	if MaxChars("probe-with-a-very-long-name", 8) {
		t.Error("MaxChars accepted a long value")
	}
	if Matches("not-an-email", EmailRX) {
		t.Error("EmailRX matched an invalid address")
	}
}
