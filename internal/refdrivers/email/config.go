package email

import "fmt"

// Config is the email driver's account list plus driver-wide options,
// decoded from the driver's "config" block in the runtime YAML.
type Config struct {
	// Accounts lists the mail accounts this driver connects to. The
	// first entry is the default account for operations that don't
	// name one.
	Accounts []AccountConfig `yaml:"accounts"`

	// BccOwner is an address blind-copied on every outbound message
	// so the operator keeps a copy of runtime-sent mail. Empty
	// disables it.
	BccOwner string `yaml:"bcc_owner"`
}

// AccountConfig is one mail account: IMAP for reading, optionally
// SMTP for sending.
type AccountConfig struct {
	// Name identifies the account in event metadata and logs.
	Name string `yaml:"name"`

	// IMAP is the mailbox server. Host and Username are required.
	IMAP Endpoint `yaml:"imap"`

	// SMTP is the outbound server. Leave Host empty for a read-only
	// account.
	SMTP Endpoint `yaml:"smtp"`

	// From is the sender address for outbound mail ("Name <a@b>" or
	// bare). Required when SMTP is set.
	From string `yaml:"from"`

	// SentFolder, when set, gets a copy of each sent message via IMAP
	// APPEND. Providers that file sent mail themselves (Gmail) leave
	// this empty.
	SentFolder string `yaml:"sent_folder"`
}

// Endpoint is one mail server address plus credentials.
type Endpoint struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// CanSend reports whether the account has enough SMTP configuration
// to deliver mail.
func (a AccountConfig) CanSend() bool {
	return a.SMTP.Host != "" && a.SMTP.Username != ""
}

// applyDefaults fills standard ports: 993 for IMAP, 587 for SMTP
// (when SMTP is configured at all).
func (c *Config) applyDefaults() {
	for i := range c.Accounts {
		a := &c.Accounts[i]
		if a.IMAP.Port == 0 {
			a.IMAP.Port = 993
		}
		if a.SMTP.Host != "" && a.SMTP.Port == 0 {
			a.SMTP.Port = 587
		}
	}
}

// validate rejects configurations the driver cannot act on.
func (c Config) validate() error {
	if len(c.Accounts) == 0 {
		return fmt.Errorf("email: at least one account is required")
	}
	seen := make(map[string]bool, len(c.Accounts))
	for i, a := range c.Accounts {
		switch {
		case a.Name == "":
			return fmt.Errorf("email: accounts[%d]: name is required", i)
		case seen[a.Name]:
			return fmt.Errorf("email: accounts[%d]: duplicate name %q", i, a.Name)
		case a.IMAP.Host == "":
			return fmt.Errorf("email: account %q: imap.host is required", a.Name)
		case a.IMAP.Username == "":
			return fmt.Errorf("email: account %q: imap.username is required", a.Name)
		}
		seen[a.Name] = true
		if a.SMTP.Host != "" {
			switch {
			case a.SMTP.Username == "":
				return fmt.Errorf("email: account %q: smtp.username is required", a.Name)
			case a.SMTP.Password == "":
				return fmt.Errorf("email: account %q: smtp.password is required", a.Name)
			case a.From == "":
				return fmt.Errorf("email: account %q: from is required when smtp is set", a.Name)
			}
		}
	}
	return nil
}
