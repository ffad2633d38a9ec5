package email

import (
	"fmt"

	"github.com/resend/resend-go/v3"
)

// ResendEmailService implements EmailService using the Resend API.
type ResendEmailService struct {
	client      *resend.Client
	fromAddress string
}

// NewResendEmailService creates a new Resend email service.
// fromAddress must be a sender verified in Resend.
func NewResendEmailService(apiKey, fromAddress string) *ResendEmailService {
	return &ResendEmailService{
		client:      resend.NewClient(apiKey),
		fromAddress: fromAddress,
	}
}

// Send renders templateName and sends it via Resend.
func (r *ResendEmailService) Send(to, templateName string, data any) error {
	params, err := r.buildRequest(to, templateName, data)
	if err != nil {
		return err
	}

	if _, err := r.client.Emails.Send(params); err != nil {
		return fmt.Errorf("resend: failed to send email: %w", err)
	}
	return nil
}

func (r *ResendEmailService) buildRequest(to, templateName string, data any) (*resend.SendEmailRequest, error) {
	subject, html, err := Render(templateName, data)
	if err != nil {
		return nil, err
	}
	return &resend.SendEmailRequest{
		From:    r.fromAddress,
		To:      []string{to},
		Subject: subject,
		Html:    html,
	}, nil
}
