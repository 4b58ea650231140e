// Package email is a reference IO driver bridging the runtime's
// email.* events onto IMAP/SMTP accounts. It declares the wildcard
// capability "email.*" and dispatches on the event type — email.poll
// checks every account for new mail and emits email.received,
// email.send/email.reply deliver outbound messages, and
// email.search/read/mark/move/folders expose mailbox operations as
// request/response event pairs. Operation failures are reported as
// *.failed events rather than driver errors, so one bad mailbox call
// never moves the instance to the error state.
package email

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/nugget/aios-runtime/internal/driver"
	"github.com/nugget/aios-runtime/internal/event"
)

// ManifestID is this driver's registry id.
const ManifestID = "refdrivers.email"

// Manifest describes this driver for registration.
var Manifest = driver.Manifest{
	ID:           ManifestID,
	Name:         "IMAP/SMTP Email",
	Version:      "1.0.0",
	DriverType:   driver.TypeIO,
	Capabilities: []string{"email.*"},
	Enabled:      true,
}

// mailbox is the slice of *Mailbox behavior the driver depends on,
// narrowed to an interface so tests can run against a fake instead of
// a live IMAP server.
type mailbox interface {
	List(ctx context.Context, folder string, sinceUID uint32) ([]Summary, error)
	Search(ctx context.Context, q SearchQuery) ([]Summary, error)
	Fetch(ctx context.Context, folder string, uid uint32) (*Message, error)
	SetFlag(ctx context.Context, folder string, uids []uint32, flag string, add bool) error
	Move(ctx context.Context, folder, dest string, uids []uint32) error
	Folders(ctx context.Context) ([]Folder, error)
	Append(ctx context.Context, folder string, raw []byte) error
	Close()
}

// account pairs one account's configuration with its open mailbox.
type account struct {
	cfg AccountConfig
	box mailbox
}

// Driver routes email.* events to the configured accounts. Poll state
// (the high-water UID per account) is kept in memory; restart behavior
// for IO drivers is a deployment concern, not a core one.
type Driver struct {
	accounts map[string]*account
	order    []string // registration order; order[0] is the default account
	bccOwner string
	send     func(ctx context.Context, ep Endpoint, from string, rcpts []string, raw []byte) error
	logger   *slog.Logger

	mu       sync.Mutex
	sinceUID map[string]uint32
}

// NewFromConfig validates cfg and constructs a Driver with one lazily
// dialed Mailbox per account, the production entrypoint.
func NewFromConfig(cfg Config, logger *slog.Logger) (*Driver, error) {
	if logger == nil {
		logger = slog.Default()
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	d := newDriver(cfg.BccOwner, logger)
	for _, a := range cfg.Accounts {
		d.addAccount(a, OpenMailbox(a.IMAP, logger.With("email_account", a.Name)))
	}
	return d, nil
}

func newDriver(bccOwner string, logger *slog.Logger) *Driver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Driver{
		accounts: make(map[string]*account),
		bccOwner: bccOwner,
		send:     deliver,
		logger:   logger,
		sinceUID: make(map[string]uint32),
	}
}

func (d *Driver) addAccount(cfg AccountConfig, box mailbox) {
	d.accounts[cfg.Name] = &account{cfg: cfg, box: box}
	d.order = append(d.order, cfg.Name)
}

// account resolves a name from event metadata; "" means the default
// (first configured) account.
func (d *Driver) account(name string) (*account, error) {
	if name == "" {
		if len(d.order) == 0 {
			return nil, fmt.Errorf("no accounts configured")
		}
		name = d.order[0]
	}
	a, ok := d.accounts[name]
	if !ok {
		return nil, fmt.Errorf("unknown account %q", name)
	}
	return a, nil
}

// Initialize implements driver.Driver.
func (d *Driver) Initialize(context.Context, map[string]any) error {
	if len(d.accounts) == 0 {
		return fmt.Errorf("refdrivers/email: no accounts configured")
	}
	return nil
}

// HandleEvent implements driver.Driver. Event types this driver itself
// emits (email.received, email.sent, *.failed, ...) fall through the
// default arm and are ignored, so the wildcard capability can't feed
// the driver's own output back into it.
func (d *Driver) HandleEvent(ctx context.Context, e event.Event) ([]event.Event, error) {
	switch e.Type {
	case "email.poll":
		return d.poll(ctx, e), nil
	case "email.send":
		return d.sendEvent(ctx, e), nil
	case "email.reply":
		return d.reply(ctx, e), nil
	case "email.search":
		return d.search(ctx, e), nil
	case "email.read":
		return d.read(ctx, e), nil
	case "email.mark":
		return d.mark(ctx, e), nil
	case "email.move":
		return d.move(ctx, e), nil
	case "email.folders":
		return d.folders(ctx, e), nil
	default:
		return nil, nil
	}
}

// poll checks every account for messages newer than its high-water
// UID and emits one email.received event per new message. The first
// poll of an account records the watermark without reporting the
// whole inbox as new.
func (d *Driver) poll(ctx context.Context, e event.Event) []event.Event {
	var out []event.Event
	for _, name := range d.order {
		a := d.accounts[name]

		d.mu.Lock()
		since := d.sinceUID[name]
		d.mu.Unlock()

		msgs, err := a.box.List(ctx, "", since)
		if err != nil {
			d.logger.Warn("refdrivers/email: poll failed", "account", name, "error", err)
			continue
		}
		if len(msgs) == 0 {
			continue
		}

		var highest uint32
		for _, m := range msgs {
			if m.UID > highest {
				highest = m.UID
			}
			if since == 0 {
				continue
			}
			evt, err := event.NewEmailEvent("refdrivers.email", "email.received", e.UserID,
				"received", name, map[string]any{
					"from":    m.From,
					"to":      m.To,
					"subject": m.Subject,
					"uid":     m.UID,
				})
			if err != nil {
				d.logger.Warn("refdrivers/email: skipping malformed message", "account", name, "uid", m.UID, "error", err)
				continue
			}
			out = append(out, evt.WithHistory(e))
		}

		d.mu.Lock()
		if highest > d.sinceUID[name] {
			d.sinceUID[name] = highest
		}
		d.mu.Unlock()
	}
	return out
}

func (d *Driver) sendEvent(ctx context.Context, e event.Event) []event.Event {
	_, accountName, data, ok := event.EmailFields(e)
	if !ok {
		return d.failed(e, "send", fmt.Errorf("missing email_data"))
	}
	subject, _ := data["subject"].(string)
	body, _ := data["body"].(string)
	dr := draft{
		To:      stringList(data["to"]),
		Cc:      stringList(data["cc"]),
		Subject: subject,
		Body:    body,
	}
	if len(dr.To) == 0 || dr.Subject == "" || dr.Body == "" {
		return d.failed(e, "send", fmt.Errorf("to, subject and body are required"))
	}
	if err := d.dispatch(ctx, accountName, dr); err != nil {
		return d.failed(e, "send", err)
	}
	out := d.result(e, "email.sent")
	out.Metadata["subject"] = subject
	out.Metadata["to"] = data["to"]
	return []event.Event{out}
}

func (d *Driver) reply(ctx context.Context, e event.Event) []event.Event {
	uid := uint32FromMeta(e.Metadata["uid"])
	body, _ := e.Metadata["body"].(string)
	if uid == 0 || body == "" {
		return d.failed(e, "reply", fmt.Errorf("uid and body are required"))
	}
	accountName := stringFromMeta(e.Metadata["account"])
	a, err := d.account(accountName)
	if err != nil {
		return d.failed(e, "reply", err)
	}

	orig, err := a.box.Fetch(ctx, stringFromMeta(e.Metadata["folder"]), uid)
	if err != nil {
		return d.failed(e, "reply", fmt.Errorf("fetch original: %w", err))
	}

	// Address the reply-to header when set, else the original sender;
	// reply-all copies the remaining original recipients.
	target := orig.ReplyTo
	if target == "" {
		target = orig.From
	}
	dr := draft{
		To:         []string{target},
		Subject:    replySubject(orig.Subject),
		Body:       body,
		InReplyTo:  orig.MessageID,
		References: append(append([]string{}, orig.References...), orig.MessageID),
	}
	if boolFromMeta(e.Metadata["reply_all"]) {
		own := bareAddr(a.cfg.From)
		for _, addr := range append(append([]string{}, orig.To...), orig.Cc...) {
			if b := bareAddr(addr); b != own && b != bareAddr(target) {
				dr.Cc = append(dr.Cc, addr)
			}
		}
	}
	if err := d.dispatch(ctx, accountName, dr); err != nil {
		return d.failed(e, "reply", err)
	}
	out := d.result(e, "email.replied")
	out.Metadata["uid"] = e.Metadata["uid"]
	return []event.Event{out}
}

func replySubject(s string) string {
	if strings.HasPrefix(strings.ToLower(s), "re:") {
		return s
	}
	return "Re: " + s
}

// dispatch finishes a draft (from address, owner bcc), builds the
// message, delivers it over the account's SMTP endpoint, and files a
// copy into the sent folder when one is configured.
func (d *Driver) dispatch(ctx context.Context, accountName string, dr draft) error {
	a, err := d.account(accountName)
	if err != nil {
		return err
	}
	if !a.cfg.CanSend() {
		return fmt.Errorf("account %q has no smtp configuration", a.cfg.Name)
	}
	dr.From = a.cfg.From

	if d.bccOwner != "" {
		owner := bareAddr(d.bccOwner)
		copied := false
		for _, addr := range append(append([]string{}, dr.To...), dr.Cc...) {
			if bareAddr(addr) == owner {
				copied = true
				break
			}
		}
		if !copied {
			dr.Bcc = append(dr.Bcc, d.bccOwner)
		}
	}

	raw, err := buildMessage(dr)
	if err != nil {
		return err
	}
	if err := d.send(ctx, a.cfg.SMTP, dr.From, dr.recipients(), raw); err != nil {
		return err
	}
	d.logger.Info("email sent", "account", a.cfg.Name, "to", dr.To, "subject", dr.Subject)

	if a.cfg.SentFolder != "" {
		if err := a.box.Append(ctx, a.cfg.SentFolder, raw); err != nil {
			d.logger.Warn("refdrivers/email: failed to file sent message",
				"account", a.cfg.Name, "folder", a.cfg.SentFolder, "error", err)
		}
	}
	return nil
}

func (d *Driver) search(ctx context.Context, e event.Event) []event.Event {
	a, err := d.account(stringFromMeta(e.Metadata["account"]))
	if err != nil {
		return d.failed(e, "search", err)
	}
	hits, err := a.box.Search(ctx, SearchQuery{
		Folder: stringFromMeta(e.Metadata["folder"]),
		Text:   stringFromMeta(e.Metadata["query"]),
		From:   stringFromMeta(e.Metadata["from"]),
		Limit:  intFromMeta(e.Metadata["limit"]),
	})
	if err != nil {
		return d.failed(e, "search", err)
	}
	results := make([]any, len(hits))
	for i, s := range hits {
		results[i] = map[string]any{
			"uid":     float64(s.UID),
			"from":    s.From,
			"subject": s.Subject,
			"date":    s.Date.UTC().Format(time.RFC3339),
		}
	}
	out := d.result(e, "email.search.results")
	out.Metadata["results"] = results
	return []event.Event{out}
}

func (d *Driver) read(ctx context.Context, e event.Event) []event.Event {
	a, err := d.account(stringFromMeta(e.Metadata["account"]))
	if err != nil {
		return d.failed(e, "read", err)
	}
	msg, err := a.box.Fetch(ctx, stringFromMeta(e.Metadata["folder"]), uint32FromMeta(e.Metadata["uid"]))
	if err != nil {
		return d.failed(e, "read", err)
	}
	out := d.result(e, "email.message")
	out.Metadata["uid"] = float64(msg.UID)
	out.Metadata["from"] = msg.From
	out.Metadata["subject"] = msg.Subject
	out.Metadata["body"] = msg.Text
	return []event.Event{out}
}

func (d *Driver) mark(ctx context.Context, e event.Event) []event.Event {
	a, err := d.account(stringFromMeta(e.Metadata["account"]))
	if err != nil {
		return d.failed(e, "mark", err)
	}
	err = a.box.SetFlag(ctx,
		stringFromMeta(e.Metadata["folder"]),
		uint32List(e.Metadata["uids"]),
		stringFromMeta(e.Metadata["flag"]),
		boolFromMeta(e.Metadata["add"]))
	if err != nil {
		return d.failed(e, "mark", err)
	}
	return []event.Event{d.result(e, "email.marked")}
}

func (d *Driver) move(ctx context.Context, e event.Event) []event.Event {
	a, err := d.account(stringFromMeta(e.Metadata["account"]))
	if err != nil {
		return d.failed(e, "move", err)
	}
	err = a.box.Move(ctx,
		stringFromMeta(e.Metadata["folder"]),
		stringFromMeta(e.Metadata["destination"]),
		uint32List(e.Metadata["uids"]))
	if err != nil {
		return d.failed(e, "move", err)
	}
	return []event.Event{d.result(e, "email.moved")}
}

func (d *Driver) folders(ctx context.Context, e event.Event) []event.Event {
	a, err := d.account(stringFromMeta(e.Metadata["account"]))
	if err != nil {
		return d.failed(e, "folders", err)
	}
	list, err := a.box.Folders(ctx)
	if err != nil {
		return d.failed(e, "folders", err)
	}
	folders := make([]any, len(list))
	for i, f := range list {
		folders[i] = map[string]any{
			"name":   f.Name,
			"total":  float64(f.Total),
			"unread": float64(f.Unread),
		}
	}
	out := d.result(e, "email.folders.list")
	out.Metadata["folders"] = folders
	return []event.Event{out}
}

// result builds an output event of the given type carrying the trigger
// in its history.
func (d *Driver) result(trigger event.Event, typ string) event.Event {
	out := event.Event{
		Timestamp: time.Now().UTC(),
		Source:    "refdrivers.email",
		Type:      typ,
		UserID:    trigger.UserID,
		Category:  event.CategoryOutput,
		Metadata:  make(map[string]any),
	}
	return out.WithHistory(trigger)
}

// failed reports an operation failure as an event, per the runtime's
// transport-failure contract: the driver stays healthy and the failure
// travels the bus as email.<operation>.failed.
func (d *Driver) failed(trigger event.Event, operation string, err error) []event.Event {
	d.logger.Warn("refdrivers/email: operation failed", "operation", operation, "error", err)
	out := d.result(trigger, "email."+operation+".failed")
	out.Metadata["operation"] = operation
	out.Metadata["error"] = err.Error()
	return []event.Event{out}
}

// Shutdown implements driver.Driver.
func (d *Driver) Shutdown(context.Context) error {
	for _, a := range d.accounts {
		a.box.Close()
	}
	return nil
}

// Metadata decoding helpers. Values arrive JSON-shaped: numbers are
// float64, lists are []any.

func stringFromMeta(v any) string {
	s, _ := v.(string)
	return s
}

func boolFromMeta(v any) bool {
	b, _ := v.(bool)
	return b
}

func intFromMeta(v any) int {
	switch n := v.(type) {
	case int:
		return n
	case float64:
		return int(n)
	default:
		return 0
	}
}

func uint32FromMeta(v any) uint32 {
	switch n := v.(type) {
	case uint32:
		return n
	case int:
		return uint32(n)
	case float64:
		return uint32(n)
	default:
		return 0
	}
}

func stringList(v any) []string {
	switch val := v.(type) {
	case string:
		if val == "" {
			return nil
		}
		return []string{val}
	case []string:
		return val
	case []any:
		var out []string
		for _, item := range val {
			if s, ok := item.(string); ok && s != "" {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

func uint32List(v any) []uint32 {
	switch val := v.(type) {
	case []uint32:
		return val
	case []any:
		var out []uint32
		for _, item := range val {
			if u := uint32FromMeta(item); u != 0 {
				out = append(out, u)
			}
		}
		return out
	default:
		return nil
	}
}
