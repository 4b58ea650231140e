package email

import (
	"bytes"
	"io"
	"strings"
	"testing"

	"github.com/emersion/go-message/mail"
)

func TestBuildMessage_MultipartAlternative(t *testing.T) {
	raw, err := buildMessage(draft{
		From:    "Sender <s@x>",
		To:      []string{"Recipient <r@x>"},
		Subject: "weekly **summary**",
		Body:    "# Report\n\nAll **good**.",
	})
	if err != nil {
		t.Fatalf("buildMessage: %v", err)
	}

	mr, err := mail.CreateReader(bytes.NewReader(raw))
	if err != nil {
		t.Fatalf("parse built message: %v", err)
	}
	if subj, err := mr.Header.Subject(); err != nil || subj != "weekly **summary**" {
		t.Errorf("Subject = %q, %v", subj, err)
	}
	if id, err := mr.Header.MessageID(); err != nil || id == "" {
		t.Errorf("Message-ID = %q, %v", id, err)
	}

	var plain, html string
	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("NextPart: %v", err)
		}
		inline, ok := part.Header.(*mail.InlineHeader)
		if !ok {
			continue
		}
		ctype, _, _ := inline.ContentType()
		body, _ := io.ReadAll(part.Body)
		switch ctype {
		case "text/plain":
			plain = string(body)
		case "text/html":
			html = string(body)
		}
	}

	if !strings.Contains(plain, "# Report") {
		t.Errorf("plain part should carry the markdown, got %q", plain)
	}
	if !strings.Contains(html, "<h1>Report</h1>") || !strings.Contains(html, "<strong>good</strong>") {
		t.Errorf("html part should be rendered markdown, got %q", html)
	}
}

func TestBuildMessage_ThreadingHeaders(t *testing.T) {
	raw, err := buildMessage(draft{
		From:       "s@x",
		To:         []string{"r@x"},
		Subject:    "Re: hi",
		Body:       "reply",
		InReplyTo:  "<orig@x>",
		References: []string{"<root@x>", "<orig@x>"},
	})
	if err != nil {
		t.Fatalf("buildMessage: %v", err)
	}
	mr, err := mail.CreateReader(bytes.NewReader(raw))
	if err != nil {
		t.Fatalf("parse built message: %v", err)
	}
	if ids, err := mr.Header.MsgIDList("In-Reply-To"); err != nil || len(ids) != 1 || ids[0] != "orig@x" {
		t.Errorf("In-Reply-To = %v, %v", ids, err)
	}
	if refs, err := mr.Header.MsgIDList("References"); err != nil || len(refs) != 2 {
		t.Errorf("References = %v, %v", refs, err)
	}
}

func TestBuildMessage_RejectsBadAddress(t *testing.T) {
	_, err := buildMessage(draft{From: "not an address", To: []string{"r@x"}, Subject: "s", Body: "b"})
	if err == nil {
		t.Error("expected an error for an unparseable from address")
	}
}

func TestDraftRecipients_DeduplicatesBareAddresses(t *testing.T) {
	d := draft{
		To:  []string{"Alice <alice@x>", "bob@x"},
		Cc:  []string{"carol@x"},
		Bcc: []string{"alice@x"},
	}
	got := d.recipients()
	want := []string{"alice@x", "bob@x", "carol@x"}
	if len(got) != len(want) {
		t.Fatalf("recipients = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("recipients[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestBareAddr(t *testing.T) {
	tests := []struct{ in, want string }{
		{"a@x", "a@x"},
		{"Alice <alice@x>", "alice@x"},
		{"<a@x>", "a@x"},
		{"", ""},
		{"Alice <a@x", "Alice <a@x"},
	}
	for _, tt := range tests {
		if got := bareAddr(tt.in); got != tt.want {
			t.Errorf("bareAddr(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
