package render

import (
	"fmt"
	"strings"
	"text/template"

	"healthalert/internal/config"
	"healthalert/internal/domain"
)

// genericKeyType is the registry fallback slot for all alert types.
const genericKeyType = "generic"

// RecipientContext carries optional personalization data.
// Params: recipient display name, role, and assigned location.
// Returns: additive personalization input; zero value renders unpersonalized.
type RecipientContext struct {
	Name     string
	Role     string
	Location string
}

// Rendered is channel-shaped output for one delivery.
// Params: subject for email, title+data for push/chat, body for all.
// Returns: adapter-ready content.
type Rendered struct {
	Subject string
	Title   string
	Body    string
	Data    map[string]string
}

// templateData is the model every alert template renders against.
// Params: alert fields plus recipient context.
// Returns: token substitution source.
type templateData struct {
	AlertID   string
	AlertType string
	Severity  string
	Priority  string
	Title     string
	Message   string
	Location  string
	Metadata  map[string]string
	Recipient RecipientContext
}

// compiledEntry holds parsed subject/body pair for one registry slot.
type compiledEntry struct {
	subject *template.Template
	body    *template.Template
}

// Renderer selects and executes alert templates per type and channel.
// Params: registry keyed (alertType, channel) with generic fallback.
// Returns: channel-shaped rendered content.
type Renderer struct {
	templates map[string]compiledEntry
}

// builtinTemplates seed the registry before config overrides.
// Key format mirrors registry lookups: "<alert_type>/<channel>".
var builtinTemplates = map[string]struct{ subject, body string }{
	"generic/sms":   {body: "[{{upper .Severity}}] {{.Title}}: {{.Message}}"},
	"generic/voice": {body: "This is a {{.Severity}} health alert. {{.Title}}. {{.Message}}"},
	"generic/email": {
		subject: "[{{upper .Severity}}] {{.Title}}",
		body:    "{{.Message}}\n\nAlert {{.AlertID}} ({{title .AlertType}}), priority {{.Priority}}.",
	},
	"generic/push": {subject: "{{.Title}}", body: "{{.Message}}"},
	"generic/chat": {
		subject: "{{.Title}}",
		body:    "<b>[{{upper .Severity}}] {{.Title}}</b>\n{{.Message}}\nAlert {{.AlertID}}",
	},
	"disease_outbreak/sms": {
		body: "OUTBREAK {{upper .Severity}}: {{.Title}}. {{.Message}}{{if .Location}} Area: {{.Location}}.{{end}}",
	},
	"water_contamination/sms": {
		body: "WATER ALERT: {{.Title}}. {{.Message}}{{if .Location}} Area: {{.Location}}.{{end}} Do not drink untreated water.",
	},
	"health_emergency/email": {
		subject: "EMERGENCY: {{.Title}}",
		body:    "{{.Message}}\n\nImmediate action required. Alert {{.AlertID}}.",
	},
	"vaccination_reminder/sms": {
		body: "Reminder: {{.Title}}. {{.Message}}",
	},
}

// NewRenderer compiles builtin templates plus config overrides.
// Params: template override list from config.
// Returns: initialized renderer or first compile error.
func NewRenderer(overrides []config.TemplateConfig) (*Renderer, error) {
	renderer := &Renderer{templates: make(map[string]compiledEntry, len(builtinTemplates)+len(overrides))}
	for key, raw := range builtinTemplates {
		entry, err := compileEntry(key, raw.subject, raw.body)
		if err != nil {
			return nil, fmt.Errorf("builtin template %q: %w", key, err)
		}
		renderer.templates[key] = entry
	}
	for _, override := range overrides {
		key := templateKey(domain.AlertType(override.AlertType), domain.Channel(override.Channel))
		entry, err := compileEntry(key, override.Subject, override.Body)
		if err != nil {
			return nil, fmt.Errorf("template override %q: %w", key, err)
		}
		renderer.templates[key] = entry
	}
	return renderer, nil
}

// compileEntry parses one subject/body template pair.
// Params: registry key plus raw template text.
// Returns: compiled entry or parse error.
func compileEntry(key, subject, body string) (compiledEntry, error) {
	var entry compiledEntry
	var err error
	if strings.TrimSpace(subject) != "" {
		entry.subject, err = ParseAlertTemplate(key+"/subject", subject)
		if err != nil {
			return compiledEntry{}, err
		}
	}
	entry.body, err = ParseAlertTemplate(key+"/body", body)
	if err != nil {
		return compiledEntry{}, err
	}
	return entry, nil
}

// templateKey builds the registry lookup key.
// Params: alert type and channel.
// Returns: "<type>/<channel>" key string.
func templateKey(alertType domain.AlertType, channel domain.Channel) string {
	return string(alertType) + "/" + string(channel)
}

// Render produces channel-shaped content for one delivery.
// Params: alert type, channel, alert payload, and recipient context.
// Returns: rendered content; personalization degrades gracefully when
// recipient context is empty.
func (r *Renderer) Render(alertType domain.AlertType, channel domain.Channel, alert domain.Alert, recipient RecipientContext) (Rendered, error) {
	entry, ok := r.templates[templateKey(alertType, channel)]
	if !ok {
		entry, ok = r.templates[genericKeyType+"/"+string(channel)]
	}
	if !ok {
		return Rendered{}, fmt.Errorf("no template for channel %q", channel)
	}

	data := templateData{
		AlertID:   alert.ID,
		AlertType: string(alert.Type),
		Severity:  string(alert.Severity),
		Priority:  string(alert.Priority),
		Title:     alert.Title,
		Message:   alert.Message,
		Location:  alert.Metadata["location"],
		Metadata:  alert.Metadata,
		Recipient: recipient,
	}

	body, err := execute(entry.body, data)
	if err != nil {
		return Rendered{}, fmt.Errorf("render body for channel %q: %w", channel, err)
	}
	body = personalize(body, channel, recipient)

	out := Rendered{Body: body}
	if entry.subject != nil {
		subject, err := execute(entry.subject, data)
		if err != nil {
			return Rendered{}, fmt.Errorf("render subject for channel %q: %w", channel, err)
		}
		switch channel {
		case domain.ChannelEmail:
			out.Subject = subject
		default:
			out.Title = subject
		}
	}
	if channel == domain.ChannelPush || channel == domain.ChannelChat {
		out.Data = map[string]string{
			"alert_id": alert.ID,
			"type":     string(alert.Type),
			"severity": string(alert.Severity),
		}
	}
	return out, nil
}

// execute runs one compiled template into a string.
// Params: compiled template and data model.
// Returns: rendered text or execute error.
func execute(tpl *template.Template, data templateData) (string, error) {
	var rendered strings.Builder
	if err := tpl.Execute(&rendered, data); err != nil {
		return "", err
	}
	return rendered.String(), nil
}

// personalize appends a greeting/role note when context is available.
// Params: rendered body, channel, and recipient context.
// Returns: body unchanged when context is empty.
func personalize(body string, channel domain.Channel, recipient RecipientContext) string {
	if strings.TrimSpace(recipient.Name) == "" {
		return body
	}
	note := recipient.Name
	if recipient.Role != "" {
		note += " (" + titleCase(recipient.Role) + ")"
	}
	switch channel {
	case domain.ChannelSMS, domain.ChannelVoice:
		return body + " / " + note
	default:
		return "Dear " + note + ",\n" + body
	}
}
