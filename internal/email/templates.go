package email

import (
	"fmt"
	"html/template"
	"os"
	"path/filepath"
	"strings"
	"time"

	"policypal/internal/models"
)

// templateNames maps notification type -> template file name. Unknown types
// fall back to the generic layout.
var templateNames = map[models.NotificationType]string{
	models.TypePolicyCreated:            "policy-created",
	models.TypePolicyUpdated:            "policy-updated",
	models.TypePolicyPublished:          "policy-published",
	models.TypePolicyExpiring:           "policy-expiring",
	models.TypePolicyExpired:            "policy-expired",
	models.TypeComplianceCheckCompleted: "compliance-completed",
	models.TypeAIChatSessionStarted:     "chat-session-started",
	models.TypeSystemMaintenance:        "system-maintenance",
	models.TypeSecurityAlert:            "security-alert",
	models.TypeWelcome:                  "welcome",
}

var subjects = map[models.NotificationType]string{
	models.TypePolicyCreated:            "New Policy Created - PolicyPal",
	models.TypePolicyUpdated:            "Policy Updated - PolicyPal",
	models.TypePolicyPublished:          "Policy Published - PolicyPal",
	models.TypePolicyExpiring:           "Policy Expiring Soon - PolicyPal",
	models.TypePolicyExpired:            "Policy Expired - PolicyPal",
	models.TypeComplianceCheckCompleted: "Compliance Check Completed - PolicyPal",
	models.TypeAIChatSessionStarted:     "AI Chat Session Started - PolicyPal",
	models.TypeSystemMaintenance:        "System Maintenance Notice - PolicyPal",
	models.TypeSecurityAlert:            "Security Alert - PolicyPal",
	models.TypeWelcome:                  "Welcome to PolicyPal!",
}

const defaultSubject = "Notification from PolicyPal"

const defaultTemplateBody = `<!DOCTYPE html>
<html>
<head>
  <meta charset="utf-8">
  <meta name="viewport" content="width=device-width, initial-scale=1.0">
  <title>{{.Title}}</title>
  <style>
    body { font-family: Arial, sans-serif; line-height: 1.6; color: #333; }
    .container { max-width: 600px; margin: 0 auto; padding: 20px; }
    .header { background: #2563eb; color: white; padding: 20px; text-align: center; }
    .content { padding: 20px; background: #f9fafb; }
    .footer { padding: 20px; text-align: center; font-size: 12px; color: #666; }
    .button { display: inline-block; padding: 12px 24px; background: #2563eb; color: white; text-decoration: none; border-radius: 6px; }
  </style>
</head>
<body>
  <div class="container">
    <div class="header">
      <h1>{{.AppName}}</h1>
    </div>
    <div class="content">
      <h2>{{.Title}}</h2>
      <p>{{.Message}}</p>
      {{if .ActionURL}}
      <p><a href="{{.ActionURL}}" class="button">Take Action</a></p>
      {{end}}
    </div>
    <div class="footer">
      <p>&copy; {{.CurrentYear}} {{.AppName}}. All rights reserved.</p>
      <p>Need help? Contact us at {{.SupportEmail}}</p>
    </div>
  </div>
</body>
</html>`

// templateData is what every notification template renders against.
type templateData struct {
	Title        string
	Message      string
	Type         models.NotificationType
	Priority     models.NotificationPriority
	Metadata     models.Metadata
	ActionURL    string
	FirstName    string
	LastName     string
	AppName      string
	AppURL       string
	SupportEmail string
	CurrentYear  int
}

type templateSet struct {
	templates map[string]*template.Template
	fallback  *template.Template
}

// loadTemplateSet reads per-type templates from dir (*.html, named after the
// entries in templateNames). A missing or empty directory is fine - every type
// then renders through the built-in generic layout.
func loadTemplateSet(dir string) (*templateSet, error) {
	fallback, err := template.New("default").Parse(defaultTemplateBody)
	if err != nil {
		return nil, fmt.Errorf("failed to parse default email template: %w", err)
	}

	set := &templateSet{
		templates: make(map[string]*template.Template),
		fallback:  fallback,
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		// Directory absent: built-in layout only.
		return set, nil
	}

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".html") {
			continue
		}
		name := strings.TrimSuffix(entry.Name(), ".html")
		content, err := os.ReadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			return nil, fmt.Errorf("failed to read email template %s: %w", entry.Name(), err)
		}
		tmpl, err := template.New(name).Parse(string(content))
		if err != nil {
			return nil, fmt.Errorf("failed to parse email template %s: %w", entry.Name(), err)
		}
		set.templates[name] = tmpl
	}

	return set, nil
}

// resolve returns the template for a notification type, falling back to the
// generic layout for unknown types or missing files.
func (s *templateSet) resolve(notificationType models.NotificationType) *template.Template {
	name, ok := templateNames[notificationType]
	if !ok {
		return s.fallback
	}
	if tmpl, ok := s.templates[name]; ok {
		return tmpl
	}
	return s.fallback
}

func subjectFor(notificationType models.NotificationType) string {
	if subject, ok := subjects[notificationType]; ok {
		return subject
	}
	return defaultSubject
}

// textVersion derives the plain-text alternative from the notification itself.
func textVersion(notification *models.Notification) string {
	var builder strings.Builder
	builder.WriteString(notification.Title)
	builder.WriteString("\n\n")
	builder.WriteString(notification.Message)
	if actionURL := notification.Metadata["actionUrl"]; actionURL != "" {
		builder.WriteString("\n\nAction required: ")
		builder.WriteString(actionURL)
	}
	builder.WriteString("\n\n---\nPolicyPal Notification System")
	return builder.String()
}

func newTemplateData(notification *models.Notification, user *models.User, appURL, supportEmail string) templateData {
	data := templateData{
		Title:        notification.Title,
		Message:      notification.Message,
		Type:         notification.Type,
		Priority:     notification.Priority,
		Metadata:     notification.Metadata,
		ActionURL:    notification.Metadata["actionUrl"],
		AppName:      "PolicyPal",
		AppURL:       appURL,
		SupportEmail: supportEmail,
		CurrentYear:  time.Now().Year(),
	}
	if user != nil {
		data.FirstName = user.FirstName
		data.LastName = user.LastName
	}
	return data
}
