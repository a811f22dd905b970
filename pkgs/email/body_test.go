package email

import (
	"strings"
	"testing"

	gomessage "github.com/emersion/go-message"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/japanese"
	"golang.org/x/text/encoding/korean"
	"golang.org/x/text/encoding/simplifiedchinese"
	"golang.org/x/text/encoding/traditionalchinese"
)

func parseTestEntity(t *testing.T, raw string) *gomessage.Entity {
	t.Helper()
	entity, err := gomessage.Read(strings.NewReader(raw))
	if err != nil && !gomessage.IsUnknownCharset(err) {
		t.Fatalf("failed to parse test entity: %v", err)
	}
	return entity
}

func TestExtractBody_PlainText(t *testing.T) {
	raw := "Content-Type: text/plain; charset=utf-8\r\n\r\nHello, World!"
	if got := ExtractBody(nil, parseTestEntity(t, raw)); got != "Hello, World!" {
		t.Errorf("unexpected body: %q", got)
	}
}

func TestExtractBody_NoContentType(t *testing.T) {
	raw := "Subject: bare\r\n\r\nno headers here"
	if got := ExtractBody(nil, parseTestEntity(t, raw)); got != "no headers here" {
		t.Errorf("unexpected body: %q", got)
	}
}

func TestExtractBody_HTMLOnly(t *testing.T) {
	if got := ExtractBody(nil, parseTestEntity(t, testMailHTMLOnly)); got != "" {
		t.Errorf("expected empty body for HTML-only message, got %q", got)
	}
}

func TestExtractBody_SkipsAttachment(t *testing.T) {
	got := ExtractBody(nil, parseTestEntity(t, testMailMultipart))
	if !strings.Contains(got, "Plain text body 654321") {
		t.Errorf("unexpected body: %q", got)
	}
	if strings.Contains(got, "111111") {
		t.Error("attachment content leaked into body")
	}
}

func TestExtractBody_Nested(t *testing.T) {
	got := ExtractBody(nil, parseTestEntity(t, testMailNested))
	if !strings.HasPrefix(got, "Plain version") {
		t.Errorf("unexpected body: %q", got)
	}
}

func TestExtractBody_FirstPlainPartWins(t *testing.T) {
	raw := "Content-Type: multipart/mixed; boundary=\"B\"\r\n" +
		"\r\n" +
		"--B\r\n" +
		"Content-Type: text/plain\r\n\r\n" +
		"first\r\n" +
		"--B\r\n" +
		"Content-Type: text/plain\r\n\r\n" +
		"second\r\n" +
		"--B--\r\n"
	if got := ExtractBody(nil, parseTestEntity(t, raw)); got != "first" {
		t.Errorf("unexpected body: %q", got)
	}
}

func TestExtractBody_Latin1(t *testing.T) {
	encoded, err := charmap.ISO8859_1.NewEncoder().String("Café code 246810")
	if err != nil {
		t.Fatal(err)
	}
	raw := "Content-Type: text/plain; charset=iso-8859-1\r\n\r\n" + encoded

	if got := ExtractBody(nil, parseTestEntity(t, raw)); got != "Café code 246810" {
		t.Errorf("unexpected body: %q", got)
	}
}

func TestExtractBody_Charsets(t *testing.T) {
	tests := []struct {
		charset string
		enc     encoding.Encoding
		text    string
	}{
		{"iso-8859-1", charmap.ISO8859_1, "Ihr Bestätigungscode lautet 246810."},
		{"windows-1252", charmap.Windows1252, "Código “verificación”: 135792 – gracias"},
		{"koi8-r", charmap.KOI8R, "Ваш код подтверждения: 864209"},
		{"gbk", simplifiedchinese.GBK, "您的验证码是 482913，请勿泄露。"},
		{"gb18030", simplifiedchinese.GB18030, "验证码：975310"},
		{"big5", traditionalchinese.Big5, "您的驗證碼是 112358"},
		{"shift_jis", japanese.ShiftJIS, "認証コードは 314159 です。"},
		{"euc-jp", japanese.EUCJP, "確認コード 271828"},
		{"euc-kr", korean.EUCKR, "인증 코드는 161803 입니다"},
	}

	for _, tt := range tests {
		t.Run(tt.charset, func(t *testing.T) {
			encoded, err := tt.enc.NewEncoder().String(tt.text)
			if err != nil {
				t.Fatalf("encoding test text: %v", err)
			}
			raw := "Content-Type: text/plain; charset=" + tt.charset + "\r\n\r\n" + encoded

			got := ExtractBody(nil, parseTestEntity(t, raw))
			if got != tt.text {
				t.Errorf("ExtractBody() = %q, want %q", got, tt.text)
			}
			want, _ := MatchCode(tt.text)
			if code, ok := MatchCode(got); !ok || code != want {
				t.Errorf("MatchCode() = %q, %v; want %q", code, ok, want)
			}
		})
	}
}

func TestExtractBody_QuotedPrintable(t *testing.T) {
	raw := "Content-Type: text/plain; charset=utf-8\r\n" +
		"Content-Transfer-Encoding: quoted-printable\r\n\r\n" +
		"Caf=C3=A9 code=3D135790"
	if got := ExtractBody(nil, parseTestEntity(t, raw)); got != "Café code=135790" {
		t.Errorf("unexpected body: %q", got)
	}
}

func TestExtractBody_InvalidUTF8(t *testing.T) {
	raw := "Content-Type: text/plain; charset=utf-8\r\n\r\nbad \xff byte"
	got := ExtractBody(nil, parseTestEntity(t, raw))
	if got != "bad � byte" {
		t.Errorf("unexpected body: %q", got)
	}
}

func TestParseMessage_Headers(t *testing.T) {
	msg, err := ParseMessage(nil, []byte(testMailRFC822))
	if err != nil {
		t.Fatalf("ParseMessage() error: %v", err)
	}
	if msg.Subject != "Your verification code" {
		t.Errorf("unexpected subject: %q", msg.Subject)
	}
	if len(msg.From) != 1 || msg.From[0].Email != "no-reply@cursor.sh" || msg.From[0].Name != "Cursor" {
		t.Errorf("unexpected From: %+v", msg.From)
	}
	if !msg.HasRecipient("RCPT@example.com") {
		t.Errorf("expected recipient match, To=%+v", msg.To)
	}
	if msg.Date.IsZero() {
		t.Error("expected parsed Date")
	}
	if !strings.Contains(msg.TextBody, "482913") {
		t.Errorf("unexpected body: %q", msg.TextBody)
	}
	if string(msg.Raw) != testMailRFC822 {
		t.Error("Raw not preserved")
	}
}

func TestParseMessage_EncodedSubject(t *testing.T) {
	raw := "Subject: =?utf-8?B?6aqM6K+B56CB?=\r\n" +
		"From: =?utf-8?Q?Caf=C3=A9?= <cafe@example.com>\r\n" +
		"\r\nbody"
	msg, err := ParseMessage(nil, []byte(raw))
	if err != nil {
		t.Fatalf("ParseMessage() error: %v", err)
	}
	if msg.Subject != "验证码" {
		t.Errorf("unexpected subject: %q", msg.Subject)
	}
	if msg.From[0].Name != "Café" {
		t.Errorf("unexpected From name: %q", msg.From[0].Name)
	}
}

func TestParseMessage_UnknownCharset(t *testing.T) {
	raw := "Content-Type: text/plain; charset=x-made-up\r\n\r\ncode 102938"
	msg, err := ParseMessage(nil, []byte(raw))
	if err != nil {
		t.Fatalf("ParseMessage() error: %v", err)
	}
	if !strings.Contains(msg.TextBody, "102938") {
		t.Errorf("unexpected body: %q", msg.TextBody)
	}
}
