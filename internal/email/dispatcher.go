package email

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"html"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"policypal/internal/config"
	"policypal/internal/models"
)

// ErrSendTimeout is returned when a single send attempt exceeds the wall-clock
// budget.
var ErrSendTimeout = errors.New("email send timeout")

// Dispatcher sends notification mail. It exposes two delivery contracts:
// SendNotificationEmail is single-attempt and reports failure as false, while
// SendEmailWithRetry builds a fresh transport per attempt and backs off
// exponentially - the contract used where delivery matters more than latency
// (password reset, invites).
type Dispatcher struct {
	cfg     *config.Config
	logger  *zap.Logger
	limiter *rate.Limiter

	// newTransport builds one send attempt's transport; swapped in tests.
	newTransport func() Transport
	templates    *templateSet

	// backoffUnit scales the 2^attempt retry waits; one second in production.
	backoffUnit time.Duration
	sendTimeout time.Duration
}

func NewDispatcher(cfg *config.Config, logger *zap.Logger) (*Dispatcher, error) {
	templates, err := loadTemplateSet("templates/email")
	if err != nil {
		return nil, err
	}

	return &Dispatcher{
		cfg:     cfg,
		logger:  logger,
		limiter: rate.NewLimiter(rate.Limit(cfg.EmailSendRate), 1),
		newTransport: func() Transport {
			return newSMTPTransport(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPUser, cfg.SMTPPass, cfg.SMTPUseTLS)
		},
		templates:   templates,
		backoffUnit: time.Second,
		sendTimeout: cfg.EmailTimeout,
	}, nil
}

// SendNotificationEmail renders and sends a notification in a single attempt.
// It never propagates transport errors: a false return means "not delivered"
// and the caller decides what that costs.
func (d *Dispatcher) SendNotificationEmail(ctx context.Context, to string, notification *models.Notification, user *models.User) bool {
	tmpl := d.templates.resolve(notification.Type)
	data := newTemplateData(notification, user, d.cfg.FrontendURL, d.cfg.SupportEmail)

	var body bytes.Buffer
	if err := tmpl.Execute(&body, data); err != nil {
		d.logger.Error("Failed to render email template",
			zap.String("notification_id", notification.ID),
			zap.String("type", string(notification.Type)),
			zap.Error(err),
		)
		return false
	}

	msg := &Message{
		From:    d.cfg.SMTPFrom,
		To:      to,
		Subject: subjectFor(notification.Type),
		HTML:    body.String(),
		Text:    textVersion(notification),
	}

	if err := d.sendOnce(ctx, msg); err != nil {
		d.logger.Error("Failed to send email",
			zap.String("to", to),
			zap.String("notification_id", notification.ID),
			zap.Error(err),
		)
		return false
	}

	d.logger.Info("Email sent successfully",
		zap.String("to", to),
		zap.String("notification_id", notification.ID),
	)
	return true
}

// SendEmailWithRetry attempts delivery up to maxRetries times, waiting
// 2^attempt * backoffUnit between attempts (2s, 4s, 8s, ...). Each attempt is
// raced against the configured send timeout and uses a fresh transport.
func (d *Dispatcher) SendEmailWithRetry(ctx context.Context, to, subject, htmlBody string, maxRetries int) bool {
	msg := &Message{
		From:    d.cfg.SMTPFrom,
		To:      to,
		Subject: subject,
		HTML:    htmlBody,
	}

	for attempt := 1; attempt <= maxRetries; attempt++ {
		d.logger.Info("Sending email",
			zap.String("to", to),
			zap.Int("attempt", attempt),
			zap.Int("max_retries", maxRetries),
		)

		err := d.sendOnce(ctx, msg)
		if err == nil {
			d.logger.Info("Email sent successfully",
				zap.String("to", to),
				zap.Int("attempt", attempt),
			)
			return true
		}

		d.logger.Error("Email send attempt failed",
			zap.String("to", to),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)

		if attempt == maxRetries {
			d.logger.Error("All email send attempts failed",
				zap.String("to", to),
				zap.Int("max_retries", maxRetries),
			)
			return false
		}

		wait := time.Duration(1<<uint(attempt)) * d.backoffUnit
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return false
		}
	}

	return false
}

// sendOnce performs one rate-limited attempt on a fresh transport, racing the
// blocking smtp call against the send timeout.
func (d *Dispatcher) sendOnce(ctx context.Context, msg *Message) error {
	if err := d.limiter.Wait(ctx); err != nil {
		return err
	}

	transport := d.newTransport()

	done := make(chan error, 1)
	go func() {
		done <- transport.Send(msg)
	}()

	timer := time.NewTimer(d.sendTimeout)
	defer timer.Stop()

	select {
	case err := <-done:
		return err
	case <-timer.C:
		return ErrSendTimeout
	case <-ctx.Done():
		return ctx.Err()
	}
}

// TestConnection verifies transport credentials without sending; used as a
// startup health check.
func (d *Dispatcher) TestConnection() bool {
	if err := d.newTransport().Verify(); err != nil {
		d.logger.Error("Email service connection failed", zap.Error(err))
		return false
	}
	d.logger.Info("Email service connection verified")
	return true
}

// SendPasswordResetEmail delivers the reset link through the retrying contract.
func (d *Dispatcher) SendPasswordResetEmail(ctx context.Context, to, firstName, resetURL string) bool {
	subject := "Reset Your PolicyPal Password"
	body := fmt.Sprintf(`
<div style="font-family: Arial, sans-serif; max-width: 600px; margin: 0 auto;">
  <div style="background: #2563eb; color: white; padding: 20px; text-align: center;">
    <h1>Reset Your Password</h1>
  </div>
  <div style="padding: 20px; background: #f9fafb;">
    <p>Hi %s,</p>
    <p>We received a request to reset your PolicyPal account password. If you didn't make this request, you can safely ignore this email.</p>
    <div style="text-align: center; margin: 30px 0;">
      <a href="%s" style="display: inline-block; background: #2563eb; color: white; padding: 15px 30px; text-decoration: none; border-radius: 5px; font-weight: bold;">Reset My Password</a>
    </div>
    <p>If the button doesn't work, copy and paste this link into your browser:</p>
    <p style="word-break: break-all; color: #2563eb;">%s</p>
  </div>
  <div style="padding: 20px; text-align: center; font-size: 12px; color: #666;">
    <p>If you have any questions, contact us at %s</p>
  </div>
</div>`,
		html.EscapeString(firstName),
		html.EscapeString(resetURL),
		html.EscapeString(resetURL),
		html.EscapeString(d.cfg.SupportEmail),
	)

	return d.SendEmailWithRetry(ctx, to, subject, body, 3)
}

// SendInviteEmail delivers a signup invitation through the retrying contract.
func (d *Dispatcher) SendInviteEmail(ctx context.Context, to, inviteLink, inviterName, message string) bool {
	subject := "You're invited to join PolicyPal!"

	personalMessage := ""
	if message != "" {
		personalMessage = fmt.Sprintf(
			`<div style="background: #e3f2fd; border-left: 4px solid #2196f3; padding: 15px; margin: 20px 0;"><strong>Personal Message:</strong><br>%s</div>`,
			html.EscapeString(message),
		)
	}

	body := fmt.Sprintf(`
<div style="font-family: Arial, sans-serif; max-width: 600px; margin: 0 auto;">
  <div style="background: #2563eb; color: white; padding: 20px; text-align: center;">
    <h1>PolicyPal</h1>
    <p>Smart Policy Management Platform</p>
  </div>
  <div style="padding: 20px; background: #f9fafb;">
    <h2>You're invited to join PolicyPal!</h2>
    <p><strong>%s</strong> has invited you to join PolicyPal.</p>
    %s
    <div style="text-align: center; margin: 30px 0;">
      <a href="%s" style="display: inline-block; background: #2563eb; color: white; padding: 15px 30px; text-decoration: none; border-radius: 5px; font-weight: bold;">Accept Invitation &amp; Sign Up</a>
    </div>
    <p>This invitation link will expire in 7 days.</p>
    <p style="word-break: break-all; color: #2563eb;">%s</p>
  </div>
</div>`,
		html.EscapeString(inviterName),
		personalMessage,
		html.EscapeString(inviteLink),
		html.EscapeString(inviteLink),
	)

	return d.SendEmailWithRetry(ctx, to, subject, body, 3)
}
