package email

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"net/smtp"
	"strings"
	"time"

	"github.com/emersion/go-message/mail"
	"github.com/yuin/goldmark"
)

// smtpTimeout bounds the whole delivery of one message.
const smtpTimeout = 30 * time.Second

// draft is everything needed to build and address one outbound
// message. Body is markdown.
type draft struct {
	From       string
	To         []string
	Cc         []string
	Bcc        []string
	Subject    string
	Body       string
	InReplyTo  string
	References []string
}

// buildMessage renders d into a complete RFC 5322 message:
// multipart/alternative with the markdown itself as the text/plain
// part (markdown reads fine as plain text) and a goldmark-rendered
// text/html part.
func buildMessage(d draft) ([]byte, error) {
	var h mail.Header
	h.SetDate(time.Now())
	if err := h.GenerateMessageID(); err != nil {
		return nil, fmt.Errorf("message-id: %w", err)
	}
	h.SetSubject(d.Subject)

	for _, field := range []struct {
		key   string
		addrs []string
	}{
		{"From", []string{d.From}},
		{"To", d.To},
		{"Cc", d.Cc},
		{"Bcc", d.Bcc},
	} {
		if len(field.addrs) == 0 {
			continue
		}
		parsed := make([]*mail.Address, 0, len(field.addrs))
		for _, a := range field.addrs {
			p, err := mail.ParseAddress(a)
			if err != nil {
				return nil, fmt.Errorf("parse %s address %q: %w", strings.ToLower(field.key), a, err)
			}
			parsed = append(parsed, p)
		}
		h.SetAddressList(field.key, parsed)
	}

	if d.InReplyTo != "" {
		h.SetMsgIDList("In-Reply-To", []string{d.InReplyTo})
	}
	if len(d.References) > 0 {
		h.SetMsgIDList("References", d.References)
	}

	var buf bytes.Buffer
	mw, err := mail.CreateWriter(&buf, h)
	if err != nil {
		return nil, fmt.Errorf("create writer: %w", err)
	}
	tw, err := mw.CreateInline()
	if err != nil {
		return nil, fmt.Errorf("create inline: %w", err)
	}

	var html bytes.Buffer
	if err := goldmark.Convert([]byte(d.Body), &html); err != nil {
		return nil, fmt.Errorf("render html: %w", err)
	}
	parts := []struct {
		ctype string
		body  string
	}{
		{"text/plain; charset=utf-8", d.Body},
		{"text/html; charset=utf-8", "<!DOCTYPE html>\n<html><body>\n" + html.String() + "</body></html>"},
	}
	for _, p := range parts {
		var ph mail.InlineHeader
		ph.Set("Content-Type", p.ctype)
		pw, err := tw.CreatePart(ph)
		if err != nil {
			return nil, fmt.Errorf("create %s part: %w", p.ctype, err)
		}
		if _, err := io.WriteString(pw, p.body); err != nil {
			return nil, fmt.Errorf("write %s part: %w", p.ctype, err)
		}
		if err := pw.Close(); err != nil {
			return nil, fmt.Errorf("close %s part: %w", p.ctype, err)
		}
	}
	if err := tw.Close(); err != nil {
		return nil, fmt.Errorf("close inline: %w", err)
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("close writer: %w", err)
	}
	return buf.Bytes(), nil
}

// recipients collects the unique bare addresses of d for SMTP
// RCPT TO, in To/Cc/Bcc order.
func (d draft) recipients() []string {
	seen := make(map[string]bool)
	var out []string
	for _, list := range [][]string{d.To, d.Cc, d.Bcc} {
		for _, a := range list {
			bare := bareAddr(a)
			if bare != "" && !seen[bare] {
				seen[bare] = true
				out = append(out, bare)
			}
		}
	}
	return out
}

// bareAddr strips an optional display name: "Name <a@b>" -> "a@b".
func bareAddr(s string) string {
	open := strings.LastIndexByte(s, '<')
	if open >= 0 && strings.HasSuffix(s, ">") {
		return s[open+1 : len(s)-1]
	}
	return s
}

// deliver hands a built message to ep over SMTP. Port 465 dials
// implicit TLS; everything else connects plain and upgrades with
// STARTTLS before authenticating.
func deliver(ctx context.Context, ep Endpoint, from string, rcpts []string, raw []byte) error {
	addr := net.JoinHostPort(ep.Host, fmt.Sprintf("%d", ep.Port))
	dialer := &net.Dialer{Timeout: smtpTimeout}
	tlsCfg := &tls.Config{ServerName: ep.Host}

	var (
		c   *smtp.Client
		err error
	)
	if ep.Port == 465 {
		conn, dialErr := tls.DialWithDialer(dialer, "tcp", addr, tlsCfg)
		if dialErr != nil {
			return fmt.Errorf("dial smtps %s: %w", addr, dialErr)
		}
		c, err = smtp.NewClient(conn, ep.Host)
	} else {
		conn, dialErr := dialer.DialContext(ctx, "tcp", addr)
		if dialErr != nil {
			return fmt.Errorf("dial smtp %s: %w", addr, dialErr)
		}
		c, err = smtp.NewClient(conn, ep.Host)
	}
	if err != nil {
		return fmt.Errorf("smtp client %s: %w", addr, err)
	}
	defer c.Close()

	if err := c.Hello("localhost"); err != nil {
		return fmt.Errorf("ehlo: %w", err)
	}
	if ep.Port != 465 {
		if err := c.StartTLS(tlsCfg); err != nil {
			return fmt.Errorf("starttls: %w", err)
		}
	}
	if ep.Username != "" {
		auth := smtp.PlainAuth("", ep.Username, ep.Password, ep.Host)
		if err := c.Auth(auth); err != nil {
			return fmt.Errorf("auth: %w", err)
		}
	}
	if err := c.Mail(bareAddr(from)); err != nil {
		return fmt.Errorf("mail from: %w", err)
	}
	for _, r := range rcpts {
		if err := c.Rcpt(r); err != nil {
			return fmt.Errorf("rcpt to %s: %w", r, err)
		}
	}
	w, err := c.Data()
	if err != nil {
		return fmt.Errorf("data: %w", err)
	}
	if _, err := w.Write(raw); err != nil {
		return fmt.Errorf("write message: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("close data: %w", err)
	}
	return c.Quit()
}
