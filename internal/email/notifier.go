package email

import (
	"bytes"
	"fmt"
	"html/template"
	"strings"

	"github.com/rs/zerolog"
)

// StudyNotice is what a workflow email says about a study.
type StudyNotice struct {
	StudyID    string
	StudyName  string
	FromStatus string
	ToStatus   string
	ActorName  string
	Reason     string
}

// Notifier turns workflow events into emails. Failures are logged, never returned.
type Notifier struct {
	mail      *Service
	reviewers []string
	watchers  []string
	appURL    string
	log       zerolog.Logger
}

func NewNotifier(mail *Service, reviewers, watchers []string, appURL string, log zerolog.Logger) *Notifier {
	return &Notifier{
		mail:      mail,
		reviewers: compact(reviewers),
		watchers:  compact(watchers),
		appURL:    strings.TrimRight(appURL, "/"),
		log:       log.With().Str("component", "notifier").Logger(),
	}
}

func compact(addrs []string) []string {
	out := make([]string, 0, len(addrs))
	for _, addr := range addrs {
		if addr = strings.TrimSpace(addr); addr != "" {
			out = append(out, addr)
		}
	}
	return out
}

type noticeData struct {
	StudyNotice
	AppName  string
	StudyURL string
}

func (n *Notifier) data(notice StudyNotice) noticeData {
	return noticeData{
		StudyNotice: notice,
		AppName:     "Brand Lift",
		StudyURL:    fmt.Sprintf("%s/studies/%s", n.appURL, notice.StudyID),
	}
}

// ReviewRequested tells reviewers a study is waiting for approval.
func (n *Notifier) ReviewRequested(notice StudyNotice) {
	subject := fmt.Sprintf("Review requested: %s", notice.StudyName)
	n.send(n.reviewers, subject, reviewRequestedTemplate, notice)
}

// StatusChanged tells watchers a study moved to a new status.
func (n *Notifier) StatusChanged(notice StudyNotice) {
	subject := fmt.Sprintf("%s is now %s", notice.StudyName, notice.ToStatus)
	n.send(n.watchers, subject, statusChangedTemplate, notice)
}

// SignOffRequested asks reviewers to sign off an approved study.
func (n *Notifier) SignOffRequested(notice StudyNotice) {
	subject := fmt.Sprintf("Sign-off requested: %s", notice.StudyName)
	n.send(n.reviewers, subject, signOffRequestedTemplate, notice)
}

// SignedOff tells watchers a reviewer signed off the study.
func (n *Notifier) SignedOff(notice StudyNotice) {
	subject := fmt.Sprintf("%s signed off", notice.StudyName)
	n.send(n.watchers, subject, signedOffTemplate, notice)
}

func (n *Notifier) send(to []string, subject string, tmpl *template.Template, notice StudyNotice) {
	if n == nil || n.mail == nil || !n.mail.IsConfigured() || len(to) == 0 {
		return
	}
	data := n.data(notice)
	var html bytes.Buffer
	if err := tmpl.Execute(&html, data); err != nil {
		n.log.Warn().Err(err).Str("study_id", notice.StudyID).Msg("render notification")
		return
	}
	text := fmt.Sprintf("%s (%s -> %s) by %s\n%s", notice.StudyName, notice.FromStatus, notice.ToStatus, notice.ActorName, data.StudyURL)
	if notice.Reason != "" {
		text += "\nReason: " + notice.Reason
	}
	if err := n.mail.SendHTMLEmail(to, subject, text, html.String()); err != nil {
		n.log.Warn().Err(err).Str("study_id", notice.StudyID).Msg("send notification")
	}
}

var reviewRequestedTemplate = template.Must(template.New("review").Parse(`<!DOCTYPE html>
<html>
<head><meta charset="UTF-8"><title>Review requested</title></head>
<body style="font-family: sans-serif; line-height: 1.6; color: #333; max-width: 600px; margin: 0 auto;">
    <h1>{{.AppName}}</h1>
    <p>{{.ActorName}} submitted <strong>{{.StudyName}}</strong> for approval.</p>
    {{if .Reason}}<p>Note: {{.Reason}}</p>{{end}}
    <p><a href="{{.StudyURL}}">Open the study</a></p>
</body>
</html>`))

var statusChangedTemplate = template.Must(template.New("status").Parse(`<!DOCTYPE html>
<html>
<head><meta charset="UTF-8"><title>Study status changed</title></head>
<body style="font-family: sans-serif; line-height: 1.6; color: #333; max-width: 600px; margin: 0 auto;">
    <h1>{{.AppName}}</h1>
    <p><strong>{{.StudyName}}</strong> moved from {{.FromStatus}} to {{.ToStatus}} ({{.ActorName}}).</p>
    {{if .Reason}}<p>Reason: {{.Reason}}</p>{{end}}
    <p><a href="{{.StudyURL}}">Open the study</a></p>
</body>
</html>`))

var signOffRequestedTemplate = template.Must(template.New("signoff-request").Parse(`<!DOCTYPE html>
<html>
<head><meta charset="UTF-8"><title>Sign-off requested</title></head>
<body style="font-family: sans-serif; line-height: 1.6; color: #333; max-width: 600px; margin: 0 auto;">
    <h1>{{.AppName}}</h1>
    <p>{{.ActorName}} asked for sign-off on <strong>{{.StudyName}}</strong>.</p>
    {{if .Reason}}<p>Note: {{.Reason}}</p>{{end}}
    <p><a href="{{.StudyURL}}">Open the study</a></p>
</body>
</html>`))

var signedOffTemplate = template.Must(template.New("signed-off").Parse(`<!DOCTYPE html>
<html>
<head><meta charset="UTF-8"><title>Study signed off</title></head>
<body style="font-family: sans-serif; line-height: 1.6; color: #333; max-width: 600px; margin: 0 auto;">
    <h1>{{.AppName}}</h1>
    <p><strong>{{.StudyName}}</strong> was signed off by {{.ActorName}}.</p>
    <p><a href="{{.StudyURL}}">Open the study</a></p>
</body>
</html>`))
