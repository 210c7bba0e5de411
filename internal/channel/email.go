package channel

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/base64"
	"fmt"
	"mime"
	"net"
	"net/smtp"
	"strconv"
	"time"

	"github.com/oklog/ulid/v2"

	"notifgw/internal/domain"
)

const smtpTimeout = 5 * time.Second

type emailConfig struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Username string `json:"username"`
	Password string `json:"password"`
	From     string `json:"from"`
	// SSL selects implicit TLS; otherwise STARTTLS is used when the server offers it.
	SSL bool `json:"ssl"`
}

type EmailHandler struct {
	timeout time.Duration
	now     func() time.Time
}

func NewEmailHandler() *EmailHandler {
	return &EmailHandler{timeout: smtpTimeout, now: time.Now}
}

func (h *EmailHandler) Type() domain.ChannelType { return domain.ChannelEmail }

func (h *EmailHandler) Send(ctx context.Context, d Delivery) Result {
	cfg, err := decodeConfig[emailConfig](d.Channel)
	if err != nil {
		return Fail(err)
	}
	port := ""
	if cfg.Port > 0 {
		port = strconv.Itoa(cfg.Port)
	}
	if err := requireFields(d.Channel.Type, map[string]string{
		"host": cfg.Host, "port": port, "username": cfg.Username, "password": cfg.Password,
	}); err != nil {
		return Fail(err)
	}
	from := cfg.From
	if from == "" {
		from = cfg.Username
	}

	msgID := fmt.Sprintf("<%s@%s>", ulid.Make().String(), cfg.Host)
	msg := buildEmail(from, d.Recipient, d.Template.Title, d.Content, msgID, h.now())
	if err := h.deliver(ctx, cfg, from, d.Recipient, msg); err != nil {
		return Fail(err)
	}
	return Ok(msgID)
}

func (h *EmailHandler) deliver(ctx context.Context, cfg emailConfig, from, to string, msg []byte) error {
	addr := net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port))
	dialer := &net.Dialer{Timeout: h.timeout}
	tlsCfg := &tls.Config{ServerName: cfg.Host}

	var conn net.Conn
	var err error
	if cfg.SSL {
		conn, err = tls.DialWithDialer(dialer, "tcp", addr, tlsCfg)
	} else {
		conn, err = dialer.DialContext(ctx, "tcp", addr)
	}
	if err != nil {
		return fmt.Errorf("smtp dial %s: %w", addr, err)
	}
	deadline := time.Now().Add(h.timeout)
	if dl, ok := ctx.Deadline(); ok && dl.Before(deadline) {
		deadline = dl
	}
	_ = conn.SetDeadline(deadline)

	c, err := smtp.NewClient(conn, cfg.Host)
	if err != nil {
		conn.Close()
		return fmt.Errorf("smtp handshake: %w", err)
	}
	defer c.Close()

	if !cfg.SSL {
		if ok, _ := c.Extension("STARTTLS"); ok {
			if err := c.StartTLS(tlsCfg); err != nil {
				return fmt.Errorf("smtp starttls: %w", err)
			}
		}
	}
	if ok, _ := c.Extension("AUTH"); ok {
		if err := c.Auth(smtp.PlainAuth("", cfg.Username, cfg.Password, cfg.Host)); err != nil {
			return fmt.Errorf("smtp auth: %w", err)
		}
	}
	if err := c.Mail(from); err != nil {
		return fmt.Errorf("smtp mail from: %w", err)
	}
	if err := c.Rcpt(to); err != nil {
		return fmt.Errorf("smtp rcpt to: %w", err)
	}
	w, err := c.Data()
	if err != nil {
		return fmt.Errorf("smtp data: %w", err)
	}
	if _, err := w.Write(msg); err != nil {
		return fmt.Errorf("smtp write: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("smtp data close: %w", err)
	}
	return c.Quit()
}

// buildEmail renders an HTML message with a base64 body.
func buildEmail(from, to, subject, body, msgID string, now time.Time) []byte {
	var b bytes.Buffer
	header := func(k, v string) { fmt.Fprintf(&b, "%s: %s\r\n", k, v) }
	header("From", from)
	header("To", to)
	header("Subject", mime.QEncoding.Encode("UTF-8", subject))
	header("Date", now.Format(time.RFC1123Z))
	header("Message-ID", msgID)
	header("MIME-Version", "1.0")
	header("Content-Type", `text/html; charset="UTF-8"`)
	header("Content-Transfer-Encoding", "base64")
	b.WriteString("\r\n")

	enc := base64.StdEncoding.EncodeToString([]byte(body))
	for len(enc) > 76 {
		b.WriteString(enc[:76])
		b.WriteString("\r\n")
		enc = enc[76:]
	}
	b.WriteString(enc)
	b.WriteString("\r\n")
	return b.Bytes()
}
