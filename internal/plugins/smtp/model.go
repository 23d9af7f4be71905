// Package smtp delivers outbound email for report notifications. Settings
// come from the environment; with no host configured, messages are written
// to the log so development needs no mail server.
package smtp

import "time"

// Encryption modes.
const (
	EncryptionStartTLS = "starttls"
	EncryptionSSL      = "ssl"
	EncryptionNone     = "none"
)

// dialTimeout bounds every connection attempt.
const dialTimeout = 10 * time.Second

// Mail is one plain-text message.
type Mail struct {
	To      []string
	Subject string
	Body    string
}

// Settings is the effective configuration with the password redacted.
type Settings struct {
	Host        string `json:"host"`
	Port        int    `json:"port"`
	Username    string `json:"username"`
	HasPassword bool   `json:"has_password"`
	FromAddress string `json:"from_address"`
	FromName    string `json:"from_name"`
	Encryption  string `json:"encryption"`
	Enabled     bool   `json:"enabled"`
}
