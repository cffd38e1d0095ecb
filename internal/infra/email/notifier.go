package email

import (
	"bytes"
	"context"
	"fmt"
	"net/smtp"
	"text/template"
	"time"

	"github.com/clevotec/transcriptionstream/internal/domain/entity"
	"go.uber.org/zap"
)

var failureTemplate = template.Must(template.New("failure").Parse(
	"From: {{.From}}\r\n" +
		"To: {{.To}}\r\n" +
		"Subject: Transcription Stream - Attendee detection failed [Job {{.Job.ID}}]\r\n" +
		"Date: {{.Date}}\r\n" +
		"MIME-Version: 1.0\r\n" +
		"Content-Type: text/plain; charset=UTF-8\r\n" +
		"\r\n" +
		"Hello,\r\n\r\n" +
		"We could not detect the attendees of your meeting recording after {{.Job.Attempt}} attempt(s).\r\n\r\n" +
		"Job ID: {{.Job.ID}}\r\n" +
		"Video: {{.Job.VideoKey}}\r\n" +
		"Error: {{.Job.ErrorMessage}}\r\n\r\n" +
		"Please check the recording and upload it again.\r\n\r\n" +
		"-- Transcription Stream\r\n",
))

type SMTPConfig struct {
	Host     string
	Port     int
	From     string
	Username string
	Password string
}

type sendFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// SMTPNotifier mails the uploader when a job lands in the dead-letter queue.
type SMTPNotifier struct {
	cfg    SMTPConfig
	auth   smtp.Auth
	send   sendFunc
	now    func() time.Time
	logger *zap.Logger
}

// NewSMTPNotifier uses PLAIN auth when a username is configured.
func NewSMTPNotifier(cfg SMTPConfig, logger *zap.Logger) *SMTPNotifier {
	var auth smtp.Auth
	if cfg.Username != "" {
		auth = smtp.PlainAuth("", cfg.Username, cfg.Password, cfg.Host)
	}
	return &SMTPNotifier{cfg: cfg, auth: auth, send: smtp.SendMail, now: time.Now, logger: logger}
}

func (n *SMTPNotifier) render(to string, job *entity.Job) ([]byte, error) {
	var buf bytes.Buffer
	err := failureTemplate.Execute(&buf, struct {
		From, To, Date string
		Job            *entity.Job
	}{n.cfg.From, to, n.now().UTC().Format(time.RFC1123Z), job})
	if err != nil {
		return nil, fmt.Errorf("render failure email: %w", err)
	}
	return buf.Bytes(), nil
}

func (n *SMTPNotifier) NotifyFailure(_ context.Context, recipient string, job *entity.Job) error {
	log := n.logger.With(zap.String("to", recipient), zap.String("job_id", job.ID.String()))

	msg, err := n.render(recipient, job)
	if err != nil {
		return err
	}

	addr := fmt.Sprintf("%s:%d", n.cfg.Host, n.cfg.Port)
	if err := n.send(addr, n.auth, n.cfg.From, []string{recipient}, msg); err != nil {
		log.Error("failed to send failure notification email", zap.Error(err))
		return fmt.Errorf("send email: %w", err)
	}

	log.Info("failure notification email sent")
	return nil
}
