package notify

import (
	"bytes"
	_ "embed"
	"fmt"
	"strings"
	"text/template"

	"gopkg.in/yaml.v3"
)

//go:embed templates.yaml
var templatesYAML []byte

// Template names for the notification events the engine emits.
const (
	TemplateConfirmedMatch = "confirmed_match"
	TemplatePossibleMatch  = "possible_match"
	TemplateCaseResolved   = "case_resolved"
	TemplateMatchRejected  = "match_rejected"
)

// TemplateData carries the fields the message templates interpolate.
type TemplateData struct {
	CaseID   string
	FullName string
	Location string
}

type templateFile struct {
	Templates map[string]messageTemplate `yaml:"templates"`
}

type messageTemplate struct {
	Subject string `yaml:"subject"`
	Body    string `yaml:"body"`
}

var messageTemplates = loadTemplates()

func loadTemplates() map[string]messageTemplate {
	var file templateFile
	if err := yaml.Unmarshal(templatesYAML, &file); err != nil {
		// Embedded file, so this can only fail on a bad edit.
		panic("failed to unmarshal embedded templates.yaml: " + err.Error())
	}
	return file.Templates
}

// RenderMessage fills the named template with the given data.
func RenderMessage(name string, data TemplateData) (Message, error) {
	tpl, ok := messageTemplates[name]
	if !ok {
		return Message{}, fmt.Errorf("unknown message template %q", name)
	}

	subject, err := renderText(name+"/subject", tpl.Subject, data)
	if err != nil {
		return Message{}, err
	}
	body, err := renderText(name+"/body", tpl.Body, data)
	if err != nil {
		return Message{}, err
	}
	return Message{Subject: subject, Body: body}, nil
}

func renderText(name, text string, data TemplateData) (string, error) {
	t, err := template.New(name).Parse(text)
	if err != nil {
		return "", fmt.Errorf("parse template %s: %w", name, err)
	}
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("render template %s: %w", name, err)
	}
	return strings.TrimSpace(buf.String()), nil
}
