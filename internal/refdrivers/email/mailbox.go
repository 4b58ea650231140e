package email

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"
	"github.com/emersion/go-message"
	"github.com/emersion/go-message/mail"
)

// bodyLimit caps how much of a message body Fetch buffers. The rest
// of the IMAP literal is drained so the protocol stream stays in sync.
const bodyLimit = 1 << 20

// Summary is the envelope-level view of one message.
type Summary struct {
	UID     uint32
	Date    time.Time
	From    string
	To      []string
	Subject string
	Flags   []string
}

// Message is a fetched message with its text content extracted from
// the MIME structure.
type Message struct {
	Summary
	MessageID  string
	References []string
	Cc         []string
	ReplyTo    string
	Text       string
	HTML       string
}

// Folder is one mailbox with its message counters.
type Folder struct {
	Name   string
	Total  uint32
	Unread uint32
}

// SearchQuery selects messages for Mailbox.Search. Zero fields are
// ignored.
type SearchQuery struct {
	Folder string
	Text   string
	From   string
	Since  time.Time
	Before time.Time
	Limit  int
}

// flagNames maps the operation-level flag vocabulary to IMAP flags.
var flagNames = map[string]imap.Flag{
	"seen":     imap.FlagSeen,
	"flagged":  imap.FlagFlagged,
	"answered": imap.FlagAnswered,
}

// Mailbox is one account's IMAP session: a single lazily-dialed,
// mutex-serialized connection that re-dials when the server drops it.
type Mailbox struct {
	ep     Endpoint
	logger *slog.Logger

	mu   sync.Mutex
	conn *imapclient.Client
}

// OpenMailbox prepares a Mailbox for ep. The connection is dialed on
// first use.
func OpenMailbox(ep Endpoint, logger *slog.Logger) *Mailbox {
	if logger == nil {
		logger = slog.Default()
	}
	return &Mailbox{ep: ep, logger: logger}
}

// Close drops the connection if one is open.
func (m *Mailbox) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.conn != nil {
		if err := m.conn.Close(); err != nil {
			m.logger.Debug("imap close", "host", m.ep.Host, "error", err)
		}
		m.conn = nil
	}
}

// in runs fn against an authenticated session with folder selected,
// holding the session lock for the duration. folder "" means INBOX.
func (m *Mailbox) in(folder string, fn func(c *imapclient.Client) error) error {
	if folder == "" {
		folder = "INBOX"
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	c, err := m.session()
	if err != nil {
		return err
	}
	if _, err := c.Select(folder, nil).Wait(); err != nil {
		return fmt.Errorf("select %s: %w", folder, err)
	}
	return fn(c)
}

// session returns the live connection, dialing or re-dialing as
// needed. Caller must hold m.mu.
func (m *Mailbox) session() (*imapclient.Client, error) {
	if m.conn != nil {
		if err := m.conn.Noop().Wait(); err == nil {
			return m.conn, nil
		}
		m.logger.Debug("imap connection stale, redialing", "host", m.ep.Host)
		_ = m.conn.Close()
		m.conn = nil
	}

	addr := net.JoinHostPort(m.ep.Host, fmt.Sprintf("%d", m.ep.Port))
	var (
		c   *imapclient.Client
		err error
	)
	// Port 143 is the plaintext convention; everything else dials TLS.
	if m.ep.Port == 143 {
		c, err = imapclient.DialInsecure(addr, nil)
	} else {
		c, err = imapclient.DialTLS(addr, &imapclient.Options{
			TLSConfig: &tls.Config{ServerName: m.ep.Host},
		})
	}
	if err != nil {
		return nil, fmt.Errorf("dial imap %s: %w", addr, err)
	}
	if err := c.Login(m.ep.Username, m.ep.Password).Wait(); err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("imap login %s: %w", m.ep.Username, err)
	}
	m.logger.Info("imap connected", "host", m.ep.Host, "user", m.ep.Username)
	m.conn = c
	return c, nil
}

// List returns every message in folder with a UID strictly greater
// than sinceUID, oldest first. sinceUID 0 returns the whole folder.
func (m *Mailbox) List(ctx context.Context, folder string, sinceUID uint32) ([]Summary, error) {
	criteria := &imap.SearchCriteria{}
	if sinceUID > 0 {
		criteria.UID = []imap.UIDSet{{imap.UIDRange{Start: imap.UID(sinceUID + 1), Stop: 0}}}
	}
	return m.find(folder, criteria, 0)
}

// Search returns messages matching q, oldest first, capped at q.Limit
// (default 20).
func (m *Mailbox) Search(ctx context.Context, q SearchQuery) ([]Summary, error) {
	criteria := &imap.SearchCriteria{Since: q.Since, Before: q.Before}
	if q.Text != "" {
		criteria.Text = []string{q.Text}
	}
	if q.From != "" {
		criteria.Header = []imap.SearchCriteriaHeaderField{{Key: "From", Value: q.From}}
	}
	limit := q.Limit
	if limit <= 0 {
		limit = 20
	}
	return m.find(q.Folder, criteria, limit)
}

// find runs a UID search and fetches a Summary per hit. A non-zero
// limit keeps only the newest matches.
func (m *Mailbox) find(folder string, criteria *imap.SearchCriteria, limit int) ([]Summary, error) {
	var out []Summary
	err := m.in(folder, func(c *imapclient.Client) error {
		data, err := c.UIDSearch(criteria, nil).Wait()
		if err != nil {
			return fmt.Errorf("uid search: %w", err)
		}
		uids := data.AllUIDs()
		if limit > 0 && len(uids) > limit {
			uids = uids[len(uids)-limit:]
		}
		if len(uids) == 0 {
			return nil
		}

		var set imap.UIDSet
		for _, uid := range uids {
			set.AddNum(uid)
		}
		cmd := c.Fetch(set, &imap.FetchOptions{
			UID:      true,
			Envelope: true,
			Flags:    true,
		})
		for {
			md := cmd.Next()
			if md == nil {
				break
			}
			s, ok := readSummary(md)
			if ok {
				out = append(out, s)
			}
		}
		return cmd.Close()
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UID < out[j].UID })
	return out, nil
}

// readSummary drains one fetch response into a Summary. ok is false
// when the server didn't include a UID.
func readSummary(md *imapclient.FetchMessageData) (Summary, bool) {
	var s Summary
	for {
		item := md.Next()
		if item == nil {
			break
		}
		switch it := item.(type) {
		case imapclient.FetchItemDataUID:
			s.UID = uint32(it.UID)
		case imapclient.FetchItemDataFlags:
			for _, f := range it.Flags {
				s.Flags = append(s.Flags, string(f))
			}
		case imapclient.FetchItemDataEnvelope:
			if it.Envelope != nil {
				fillEnvelope(&s, it.Envelope)
			}
		case imapclient.FetchItemDataBodySection:
			if it.Literal != nil {
				_, _ = io.Copy(io.Discard, it.Literal)
			}
		}
	}
	return s, s.UID != 0
}

func fillEnvelope(s *Summary, env *imap.Envelope) {
	s.Date = env.Date
	s.Subject = env.Subject
	if len(env.From) > 0 {
		s.From = addrString(env.From[0])
	}
	for _, a := range env.To {
		s.To = append(s.To, addrString(a))
	}
}

func addrString(a imap.Address) string {
	if a.Name != "" {
		return fmt.Sprintf("%s <%s>", a.Name, a.Addr())
	}
	return a.Addr()
}

// Fetch retrieves one message by UID with its body parsed. Fetching
// marks the message \Seen.
func (m *Mailbox) Fetch(ctx context.Context, folder string, uid uint32) (*Message, error) {
	var msg *Message
	err := m.in(folder, func(c *imapclient.Client) error {
		var set imap.UIDSet
		set.AddNum(imap.UID(uid))
		cmd := c.Fetch(set, &imap.FetchOptions{
			UID:         true,
			Envelope:    true,
			Flags:       true,
			BodySection: []*imap.FetchItemBodySection{{}},
		})
		md := cmd.Next()
		if md == nil {
			_ = cmd.Close()
			return fmt.Errorf("uid %d not found in %s", uid, folder)
		}

		msg = &Message{}
		var raw []byte
		for {
			item := md.Next()
			if item == nil {
				break
			}
			switch it := item.(type) {
			case imapclient.FetchItemDataUID:
				msg.UID = uint32(it.UID)
			case imapclient.FetchItemDataFlags:
				for _, f := range it.Flags {
					msg.Flags = append(msg.Flags, string(f))
				}
			case imapclient.FetchItemDataEnvelope:
				if it.Envelope == nil {
					continue
				}
				fillEnvelope(&msg.Summary, it.Envelope)
				msg.MessageID = it.Envelope.MessageID
				for _, a := range it.Envelope.Cc {
					msg.Cc = append(msg.Cc, addrString(a))
				}
				if len(it.Envelope.ReplyTo) > 0 {
					msg.ReplyTo = addrString(it.Envelope.ReplyTo[0])
				}
			case imapclient.FetchItemDataBodySection:
				// The literal streams off the connection; it must be
				// consumed before advancing to the next item.
				if it.Literal == nil {
					continue
				}
				var err error
				raw, err = io.ReadAll(io.LimitReader(it.Literal, bodyLimit))
				_, _ = io.Copy(io.Discard, it.Literal)
				if err != nil {
					m.logger.Debug("read body literal", "uid", uid, "error", err)
					raw = nil
				}
			}
		}
		if raw != nil {
			m.parseBody(msg, raw)
		}
		return cmd.Close()
	})
	if err != nil {
		return nil, err
	}
	return msg, nil
}

// parseBody walks the MIME parts of raw, keeping the first text/plain
// and text/html bodies and the References header (which the IMAP
// envelope doesn't carry). go-message may pair a usable reader with an
// unknown-charset error; those are tolerated, hard errors are logged
// and leave the body empty.
func (m *Mailbox) parseBody(msg *Message, raw []byte) {
	mr, err := mail.CreateReader(strings.NewReader(string(raw)))
	if mr == nil || (err != nil && !message.IsUnknownCharset(err)) {
		m.logger.Debug("parse message", "uid", msg.UID, "error", err)
		return
	}
	if refs, err := mr.Header.MsgIDList("References"); err == nil {
		msg.References = refs
	}
	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			return
		}
		if part == nil || (err != nil && !message.IsUnknownCharset(err)) {
			return
		}
		inline, ok := part.Header.(*mail.InlineHeader)
		if !ok {
			continue
		}
		ctype, _, _ := inline.ContentType()
		if (ctype != "text/plain" || msg.Text != "") && (ctype != "text/html" || msg.HTML != "") {
			continue
		}
		body, err := io.ReadAll(io.LimitReader(part.Body, bodyLimit))
		if err != nil {
			continue
		}
		text := strings.TrimSpace(string(body))
		if ctype == "text/plain" {
			msg.Text = text
		} else {
			msg.HTML = text
		}
	}
}

// SetFlag adds or removes one of the flags in flagNames on uids.
func (m *Mailbox) SetFlag(ctx context.Context, folder string, uids []uint32, flag string, add bool) error {
	f, ok := flagNames[flag]
	if !ok {
		return fmt.Errorf("unknown flag %q (valid: seen, flagged, answered)", flag)
	}
	if len(uids) == 0 {
		return fmt.Errorf("no uids given")
	}
	op := imap.StoreFlagsAdd
	if !add {
		op = imap.StoreFlagsDel
	}
	return m.in(folder, func(c *imapclient.Client) error {
		var set imap.UIDSet
		for _, uid := range uids {
			set.AddNum(imap.UID(uid))
		}
		cmd := c.Store(set, &imap.StoreFlags{Op: op, Silent: true, Flags: []imap.Flag{f}}, nil)
		if err := cmd.Close(); err != nil {
			return fmt.Errorf("store flags: %w", err)
		}
		return nil
	})
}

// Move relocates uids from folder to dest. The server's MOVE
// extension (or the client's copy+expunge fallback) does the work.
func (m *Mailbox) Move(ctx context.Context, folder, dest string, uids []uint32) error {
	if len(uids) == 0 {
		return fmt.Errorf("no uids given")
	}
	if dest == "" {
		return fmt.Errorf("destination folder required")
	}
	return m.in(folder, func(c *imapclient.Client) error {
		var set imap.UIDSet
		for _, uid := range uids {
			set.AddNum(imap.UID(uid))
		}
		if _, err := c.Move(set, dest).Wait(); err != nil {
			return fmt.Errorf("move to %s: %w", dest, err)
		}
		return nil
	})
}

// Folders lists the account's selectable mailboxes with counters,
// sorted by name.
func (m *Mailbox) Folders(ctx context.Context) ([]Folder, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, err := m.session()
	if err != nil {
		return nil, err
	}
	boxes, err := c.List("", "*", nil).Collect()
	if err != nil {
		return nil, fmt.Errorf("list mailboxes: %w", err)
	}

	var out []Folder
	for _, b := range boxes {
		selectable := true
		for _, attr := range b.Attrs {
			if attr == imap.MailboxAttrNoSelect {
				selectable = false
			}
		}
		if !selectable {
			continue
		}
		f := Folder{Name: b.Mailbox}
		status, err := c.Status(b.Mailbox, &imap.StatusOptions{NumMessages: true, NumUnseen: true}).Wait()
		if err != nil {
			m.logger.Debug("mailbox status", "mailbox", b.Mailbox, "error", err)
		} else {
			if status.NumMessages != nil {
				f.Total = *status.NumMessages
			}
			if status.NumUnseen != nil {
				f.Unread = *status.NumUnseen
			}
		}
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// Append files a complete RFC 5322 message into folder, flagged \Seen.
// Used to keep a copy of sent mail.
func (m *Mailbox) Append(ctx context.Context, folder string, raw []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, err := m.session()
	if err != nil {
		return err
	}
	cmd := c.Append(folder, int64(len(raw)), &imap.AppendOptions{Flags: []imap.Flag{imap.FlagSeen}})
	if _, err := cmd.Write(raw); err != nil {
		_ = cmd.Close()
		return fmt.Errorf("append to %s: %w", folder, err)
	}
	if err := cmd.Close(); err != nil {
		return fmt.Errorf("append to %s: %w", folder, err)
	}
	if _, err := cmd.Wait(); err != nil {
		return fmt.Errorf("append to %s: %w", folder, err)
	}
	return nil
}
