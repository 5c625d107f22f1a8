package email

import (
	"bytes"
	"fmt"
	"html/template"
	texttemplate "text/template"
)

type templateData struct {
	AppName      string
	ClaimID      string
	ListingName  string
	FirstName    string
	LastName     string
	RoleAtRange  string
	Phone        string
	Email        string
	Reason       string
	DashboardURL string
}

type emailTemplate struct {
	subject string
	body    *template.Template
	text    string
}

var templates = map[string]emailTemplate{
	"claim_received": {
		subject: "We received your claim for {{.ListingName}}",
		body:    template.Must(template.New("claim_received").Parse(layoutOpen + claimReceivedBody + layoutClose)),
		text:    "Hi {{.FirstName}}, we received your claim for {{.ListingName}}. Our team will contact you to verify ownership.",
	},
	"admin_claim_alert": {
		subject: "New listing claim: {{.ListingName}}",
		body:    template.Must(template.New("admin_claim_alert").Parse(layoutOpen + adminAlertBody + layoutClose)),
		text:    "{{.FirstName}} {{.LastName}} ({{.RoleAtRange}}) claimed {{.ListingName}}. Phone {{.Phone}}, email {{.Email}}. Review: {{.DashboardURL}}",
	},
	"claim_approved": {
		subject: "Your claim for {{.ListingName}} was approved",
		body:    template.Must(template.New("claim_approved").Parse(layoutOpen + approvedBody + layoutClose)),
		text:    "Hi {{.FirstName}}, you are now the verified owner of {{.ListingName}}. Manage it at {{.DashboardURL}}",
	},
	"claim_rejected": {
		subject: "Update on your claim for {{.ListingName}}",
		body:    template.Must(template.New("claim_rejected").Parse(layoutOpen + rejectedBody + layoutClose)),
		text:    "Hi {{.FirstName}}, we could not verify your claim for {{.ListingName}}. Reason: {{.Reason}}",
	},
	"claim_revoked": {
		subject: "Ownership of {{.ListingName}} was revoked",
		body:    template.Must(template.New("claim_revoked").Parse(layoutOpen + revokedBody + layoutClose)),
		text:    "Hi {{.FirstName}}, your ownership of {{.ListingName}} was revoked. Reason: {{.Reason}}",
	},
}

type rendered struct {
	subject string
	html    string
	text    string
}

func render(name string, data templateData) (rendered, error) {
	tmpl, ok := templates[name]
	if !ok {
		return rendered{}, fmt.Errorf("unknown email template %q", name)
	}
	subject, err := renderText(name+"_subject", tmpl.subject, data)
	if err != nil {
		return rendered{}, err
	}
	text, err := renderText(name+"_text", tmpl.text, data)
	if err != nil {
		return rendered{}, err
	}
	var buf bytes.Buffer
	if err := tmpl.body.Execute(&buf, data); err != nil {
		return rendered{}, err
	}
	return rendered{subject: subject, html: buf.String(), text: text}, nil
}

func renderText(name, body string, data templateData) (string, error) {
	t, err := texttemplate.New(name).Parse(body)
	if err != nil {
		return "", err
	}
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

const layoutOpen = `<!DOCTYPE html>
<html>
<head>
    <meta charset="UTF-8">
    <style>
        body { font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif; line-height: 1.6; color: #111827; max-width: 600px; margin: 0 auto; padding: 20px; }
        .header { background: #065f46; color: #ffffff; padding: 16px 20px; border-radius: 6px 6px 0 0; }
        .button { display: inline-block; padding: 12px 24px; background: #065f46; color: white; text-decoration: none; border-radius: 4px; margin: 20px 0; }
        .reason { background: #fef3c7; padding: 12px; border-radius: 4px; margin: 20px 0; }
        .footer { margin-top: 30px; padding-top: 20px; border-top: 1px solid #eee; font-size: 12px; color: #6b7280; }
    </style>
</head>
<body>
    <div class="header"><h1>{{.AppName}}</h1></div>
`

const layoutClose = `
    <div class="footer">
        <p>You are receiving this email because of a listing claim on {{.AppName}}.</p>
    </div>
</body>
</html>`

const claimReceivedBody = `
    <h2>Application Received</h2>
    <p>Hi {{.FirstName}},</p>
    <p>Thanks for claiming <strong>{{.ListingName}}</strong>. A member of our team will contact you to verify that you manage this range.</p>
    <p>Claim reference: {{.ClaimID}}</p>
`

const adminAlertBody = `
    <h2>New Verification Claim</h2>
    <table>
        <tr><td>Range</td><td>{{.ListingName}}</td></tr>
        <tr><td>Name</td><td>{{.FirstName}} {{.LastName}}</td></tr>
        <tr><td>Role</td><td>{{.RoleAtRange}}</td></tr>
        <tr><td>Phone</td><td>{{.Phone}}</td></tr>
        <tr><td>Email</td><td>{{.Email}}</td></tr>
    </table>
    <p><a href="{{.DashboardURL}}" class="button">Review claim</a></p>
`

const approvedBody = `
    <h2>Your listing is verified</h2>
    <p>Hi {{.FirstName}},</p>
    <p>Your claim for <strong>{{.ListingName}}</strong> was approved. You can now manage the listing.</p>
    <p><a href="{{.DashboardURL}}" class="button">Open dashboard</a></p>
`

const rejectedBody = `
    <h2>Verification update</h2>
    <p>Hi {{.FirstName}},</p>
    <p>We could not verify your claim for <strong>{{.ListingName}}</strong>.</p>
    <div class="reason"><strong>Reason:</strong> {{.Reason}}</div>
    <p>Reply to this email if you believe this is a mistake.</p>
`

const revokedBody = `
    <h2>Ownership revoked</h2>
    <p>Hi {{.FirstName}},</p>
    <p>Your ownership of <strong>{{.ListingName}}</strong> has been revoked.</p>
    <div class="reason"><strong>Reason:</strong> {{.Reason}}</div>
`
