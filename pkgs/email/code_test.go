package email

import (
	"fmt"
	"testing"

	"github.com/brianvoe/gofakeit/v6"
)

func TestMatchCode(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
		ok   bool
	}{
		{"plain sentence", "Your code is 123456.", "123456", true},
		{"start of text", "654321 is your code", "654321", true},
		{"own line", "Code:\n987654\nThanks", "987654", true},
		{"first wins", "codes 111111 and 222222", "111111", true},
		{"seven digits", "order 1234567 shipped", "", false},
		{"five digits", "pin 12345", "", false},
		{"after at sign", "mail user@123456 now", "", false},
		{"after dot", "version 1.123456 released", "", false},
		{"after letter", "ref A123456 only", "", false},
		{"followed by letter", "id 123456abc", "", false},
		{"followed by underscore", "tag 123456_x", "", false},
		{"skip inside domain then match", "from x@123456.com: 246802", "246802", true},
		{"dash separated", "call 555-123456-7", "123456", true},
		{"no digits", "hello world", "", false},
		{"empty", "", "", false},
		{"parenthesized", "(112233)", "112233", true},
		{"non-ascii letter before", "é123456", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := MatchCode(tt.body)
			if ok != tt.ok || got != tt.want {
				t.Errorf("MatchCode(%q) = %q, %v; want %q, %v", tt.body, got, ok, tt.want, tt.ok)
			}
		})
	}
}

func TestMatchCode_Random(t *testing.T) {
	faker := gofakeit.New(42)

	for i := 0; i < 50; i++ {
		code := fmt.Sprintf("%06d", faker.Number(0, 999999))
		body := fmt.Sprintf("Hi %s,\n\nYour verification code is %s.\n\n%s <%s>",
			faker.FirstName(), code, faker.Company(), faker.Email())

		if got, ok := MatchCode(body); !ok || got != code {
			t.Errorf("MatchCode(%q) = %q, %v; want %q", body, got, ok, code)
		}
	}
}
