package email

import (
	"strings"
	"testing"
)

func testBox() *Mailbox {
	return OpenMailbox(Endpoint{Host: "imap.test", Port: 993}, nil)
}

const plainMessage = "From: a@x\r\n" +
	"To: b@x\r\n" +
	"Subject: plain\r\n" +
	"References: <root@x> <prev@x>\r\n" +
	"Content-Type: text/plain; charset=utf-8\r\n" +
	"\r\n" +
	"hello there\r\n"

const alternativeMessage = "From: a@x\r\n" +
	"To: b@x\r\n" +
	"Subject: alt\r\n" +
	"MIME-Version: 1.0\r\n" +
	"Content-Type: multipart/alternative; boundary=\"bb\"\r\n" +
	"\r\n" +
	"--bb\r\n" +
	"Content-Type: text/plain; charset=utf-8\r\n" +
	"\r\n" +
	"plain body\r\n" +
	"--bb\r\n" +
	"Content-Type: text/html; charset=utf-8\r\n" +
	"\r\n" +
	"<p>html body</p>\r\n" +
	"--bb--\r\n"

func TestParseBody_PlainText(t *testing.T) {
	msg := &Message{}
	testBox().parseBody(msg, []byte(plainMessage))
	if msg.Text != "hello there" {
		t.Errorf("Text = %q", msg.Text)
	}
	if len(msg.References) != 2 || msg.References[0] != "root@x" {
		t.Errorf("References = %v", msg.References)
	}
}

func TestParseBody_MultipartAlternative(t *testing.T) {
	msg := &Message{}
	testBox().parseBody(msg, []byte(alternativeMessage))
	if msg.Text != "plain body" {
		t.Errorf("Text = %q", msg.Text)
	}
	if !strings.Contains(msg.HTML, "<p>html body</p>") {
		t.Errorf("HTML = %q", msg.HTML)
	}
}

func TestParseBody_GarbageLeavesBodyEmpty(t *testing.T) {
	msg := &Message{}
	testBox().parseBody(msg, []byte("\x00\x01 not a message"))
	if msg.Text != "" || msg.HTML != "" {
		t.Errorf("garbage input produced body: %q / %q", msg.Text, msg.HTML)
	}
}
