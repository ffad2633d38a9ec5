package email

import (
	"sync"

	"github.com/kuitang/notecase/internal/logutil"
	"github.com/kuitang/notecase/internal/obs"
)

// EmailService sends templated transactional emails.
type EmailService interface {
	// Send sends an email using the specified template.
	// data must be the template's data struct (VerifyEmailData, ...).
	Send(to, templateName string, data any) error
}

// SentEmail represents a captured email for testing.
type SentEmail struct {
	To       string
	Template string
	Data     any
}

// MockEmailService captures emails instead of sending them. It is used by
// tests and by the server under --no-email, where the links are logged so a
// developer can follow them.
type MockEmailService struct {
	mu     sync.Mutex
	Emails []SentEmail
	// FailWith, when set, is returned by Send after capturing.
	FailWith error
}

// NewMockEmailService creates a new mock email service.
func NewMockEmailService() *MockEmailService {
	return &MockEmailService{Emails: make([]SentEmail, 0)}
}

// Send captures the email and logs it.
func (m *MockEmailService) Send(to, templateName string, data any) error {
	// Rendering catches template/data mismatches the same way Resend would.
	if _, _, err := Render(templateName, data); err != nil {
		return err
	}

	m.mu.Lock()
	m.Emails = append(m.Emails, SentEmail{
		To:       to,
		Template: templateName,
		Data:     data,
	})
	failWith := m.FailWith
	m.mu.Unlock()

	logger := obs.Pkg("email").With("to", logutil.MaskEmail(to), "template", templateName)
	switch d := data.(type) {
	case VerifyEmailData:
		logger.Info("mock_email", "link", d.Link, "expires_in", d.ExpiresIn)
	case PasswordResetData:
		logger.Info("mock_email", "link", d.Link, "expires_in", d.ExpiresIn)
	case CollaboratorInviteData:
		logger.Info("mock_email", "link", d.Link, "has_account", d.HasAccount)
	default:
		logger.Info("mock_email")
	}

	return failWith
}

// LastEmail returns the most recently sent email.
// Returns zero value if no emails have been sent.
func (m *MockEmailService) LastEmail() SentEmail {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.Emails) == 0 {
		return SentEmail{}
	}
	return m.Emails[len(m.Emails)-1]
}

// EmailsTo returns the captured emails addressed to `to`.
func (m *MockEmailService) EmailsTo(to string) []SentEmail {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []SentEmail
	for _, e := range m.Emails {
		if e.To == to {
			out = append(out, e)
		}
	}
	return out
}

// Clear removes all captured emails.
func (m *MockEmailService) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Emails = make([]SentEmail, 0)
}

// Count returns the number of captured emails.
func (m *MockEmailService) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Emails)
}
