package validation

import "testing"

func TestIsValidPin(t *testing.T) {
	tests := []struct {
		name string
		pin  string
		want bool
	}{
		{name: "four digits", pin: "1234", want: true},
		{name: "twelve digits", pin: "123456789012", want: true},
		{name: "too short", pin: "123", want: false},
		{name: "too long", pin: "1234567890123", want: false},
		{name: "empty", pin: "", want: false},
		{name: "letters", pin: "12ab", want: false},
		{name: "spaces", pin: "12 34", want: false},
		{name: "negative sign", pin: "-1234", want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsValidPin(tt.pin); got != tt.want {
				t.Fatalf("IsValidPin(%q) = %v, want %v", tt.pin, got, tt.want)
			}
		})
	}
}
