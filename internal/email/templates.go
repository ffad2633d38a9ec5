package email

import (
	"bytes"
	"fmt"
	"html/template"
)

// Template names as constants for type safety.
const (
	TemplateVerifyEmail        = "verify_email"
	TemplatePasswordReset      = "password_reset"
	TemplateCollaboratorInvite = "collaborator_invite"
)

// VerifyEmailData contains data for account verification emails.
type VerifyEmailData struct {
	Link      string
	ExpiresIn string // e.g., "24 hours"
}

// PasswordResetData contains data for password reset emails.
type PasswordResetData struct {
	Link      string
	ExpiresIn string
}

// CollaboratorInviteData contains data for collaborator invitations.
// HasAccount selects between "open the note" and "create an account" copy.
type CollaboratorInviteData struct {
	InviterEmail string
	NoteTitle    string
	Link         string
	HasAccount   bool
}

const layoutHTML = `<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <title>{{.Subject}}</title>
</head>
<body style="font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, Arial, sans-serif; line-height: 1.6; color: #333; max-width: 600px; margin: 0 auto; padding: 20px;">
    <div style="background: #2d3a4a; padding: 24px; border-radius: 10px 10px 0 0;">
        <h1 style="color: white; margin: 0; font-size: 22px;">notecase</h1>
    </div>
    <div style="background: #ffffff; padding: 30px; border: 1px solid #e0e0e0; border-top: none; border-radius: 0 0 10px 10px;">
        {{template "body" .Data}}
        <hr style="border: none; border-top: 1px solid #e0e0e0; margin: 20px 0;">
        <p style="color: #999; font-size: 12px;">This is an automated message from notecase. Please do not reply to this email.</p>
    </div>
</body>
</html>`

const buttonStyle = `background: #2d3a4a; color: white; padding: 12px 28px; text-decoration: none; border-radius: 6px; font-weight: 600; display: inline-block;`

var bodies = map[string]string{
	TemplateVerifyEmail: `
        <h2 style="margin-top: 0;">Confirm your email address</h2>
        <p>Click the button below to verify your notecase account. This link will expire in <strong>{{.ExpiresIn}}</strong>.</p>
        <p style="text-align: center; margin: 30px 0;"><a href="{{.Link}}" style="` + buttonStyle + `">Verify email</a></p>
        <p style="color: #666; font-size: 14px;">If you didn't create an account, you can safely ignore this email.</p>`,
	TemplatePasswordReset: `
        <h2 style="margin-top: 0;">Reset your password</h2>
        <p>We received a request to reset your password. This link will expire in <strong>{{.ExpiresIn}}</strong>.</p>
        <p style="text-align: center; margin: 30px 0;"><a href="{{.Link}}" style="` + buttonStyle + `">Reset password</a></p>
        <p style="color: #666; font-size: 14px;">If you didn't request a password reset, your password will remain unchanged.</p>`,
	TemplateCollaboratorInvite: `
        <h2 style="margin-top: 0;">{{.InviterEmail}} shared a note with you</h2>
        <p>You can now view and edit <strong>{{.NoteTitle}}</strong>.</p>
        <p style="text-align: center; margin: 30px 0;"><a href="{{.Link}}" style="` + buttonStyle + `">{{if .HasAccount}}Open note{{else}}Create your account{{end}}</a></p>
        {{if not .HasAccount}}<p style="color: #666; font-size: 14px;">Sign up with this email address and the note will be waiting for you.</p>{{end}}`,
}

var templates = func() map[string]*template.Template {
	out := make(map[string]*template.Template, len(bodies))
	for name, body := range bodies {
		t := template.Must(template.New(name).Parse(layoutHTML))
		template.Must(t.New("body").Parse(body))
		out[name] = t
	}
	return out
}()

// Subject returns the subject line for a template.
func Subject(templateName string, data any) string {
	switch templateName {
	case TemplateVerifyEmail:
		return "Verify your email - notecase"
	case TemplatePasswordReset:
		return "Reset your password - notecase"
	case TemplateCollaboratorInvite:
		if d, ok := data.(CollaboratorInviteData); ok && d.InviterEmail != "" {
			return fmt.Sprintf("%s shared a note with you - notecase", d.InviterEmail)
		}
		return "A note was shared with you - notecase"
	default:
		return "Message from notecase"
	}
}

// Render returns the subject and HTML body for templateName. User-supplied
// values (note titles, emails) are HTML-escaped.
func Render(templateName string, data any) (subject, html string, err error) {
	subject = Subject(templateName, data)
	t, ok := templates[templateName]
	if !ok {
		return "", "", fmt.Errorf("unknown email template %q", templateName)
	}
	var buf bytes.Buffer
	if err := t.Execute(&buf, struct {
		Subject string
		Data    any
	}{subject, data}); err != nil {
		return "", "", fmt.Errorf("render %s: %w", templateName, err)
	}
	return subject, buf.String(), nil
}
