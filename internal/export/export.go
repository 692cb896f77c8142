// Package export writes stored sessions in portable formats.
package export

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"nox/internal/vault"
)

// Exporter 将会话写成某种格式
// Exporter writes one session in a particular format.
type Exporter interface {
	Export(sess vault.Session, w io.Writer) error
	// Extension is the file extension without the dot.
	Extension() string
}

var exporters = map[string]Exporter{
	"json":     JSON{},
	"jsonl":    JSONL{},
	"yaml":     YAML{},
	"markdown": Markdown{},
}

var aliases = map[string]string{"yml": "yaml", "md": "markdown"}

// ByName returns the exporter for format (json, jsonl, yaml, markdown and
// the aliases yml and md).
func ByName(format string) (Exporter, error) {
	name := strings.ToLower(strings.TrimSpace(format))
	if alias, ok := aliases[name]; ok {
		name = alias
	}
	if e, ok := exporters[name]; ok {
		return e, nil
	}
	return nil, fmt.Errorf("unknown export format %q (want one of %s)", format, strings.Join(Formats(), ", "))
}

// Formats lists the canonical format names.
func Formats() []string {
	out := make([]string, 0, len(exporters))
	for name := range exporters {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// document is the shape shared by the JSON and YAML exporters.
type document struct {
	ID          string    `json:"id" yaml:"id"`
	Title       string    `json:"title" yaml:"title"`
	CustomTitle bool      `json:"custom_title" yaml:"custom_title"`
	CreatedAt   time.Time `json:"created_at" yaml:"created_at"`
	UpdatedAt   time.Time `json:"updated_at" yaml:"updated_at"`
	Model       string    `json:"model,omitempty" yaml:"model,omitempty"`
	Instrument  string    `json:"instrument,omitempty" yaml:"instrument,omitempty"`
	Sources     []string  `json:"sources,omitempty" yaml:"sources,omitempty"`
	Archived    bool      `json:"archived,omitempty" yaml:"archived,omitempty"`
	Turns       []turn    `json:"turns" yaml:"turns"`
}

type turn struct {
	Role      string    `json:"role" yaml:"role"`
	Content   string    `json:"content" yaml:"content"`
	Timestamp time.Time `json:"timestamp" yaml:"timestamp"`
	Sanitized bool      `json:"sanitized,omitempty" yaml:"sanitized,omitempty"`
}

func toDocument(sess vault.Session) document {
	d := document{
		ID:          sess.Meta.ID,
		Title:       sess.Meta.DisplayTitle(),
		CustomTitle: sess.Meta.CustomTitle,
		CreatedAt:   sess.Meta.CreatedAt,
		UpdatedAt:   sess.Meta.UpdatedAt,
		Model:       sess.Meta.Model,
		Sources:     sess.Meta.Sources,
		Archived:    sess.Meta.Archived,
		Turns:       make([]turn, 0, len(sess.Turns)),
	}
	if sess.Meta.Instrument != nil {
		d.Instrument = sess.Meta.Instrument.Label
	}
	for _, t := range sess.Turns {
		d.Turns = append(d.Turns, turn{Role: string(t.Role), Content: t.Content, Timestamp: t.Timestamp, Sanitized: t.Sanitized})
	}
	return d
}

// JSON writes one indented document.
type JSON struct{}

func (JSON) Extension() string { return "json" }

func (JSON) Export(sess vault.Session, w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(toDocument(sess))
}

// JSONL writes the metadata line followed by one line per turn, the same
// layout as the session log.
type JSONL struct{}

func (JSONL) Extension() string { return "jsonl" }

func (JSONL) Export(sess vault.Session, w io.Writer) error {
	enc := json.NewEncoder(w)
	d := toDocument(sess)
	turns := d.Turns
	d.Turns = nil
	if err := enc.Encode(d); err != nil {
		return err
	}
	for _, t := range turns {
		if err := enc.Encode(t); err != nil {
			return err
		}
	}
	return nil
}

// YAML writes one document with block-literal contents.
type YAML struct{}

func (YAML) Extension() string { return "yaml" }

func (YAML) Export(sess vault.Session, w io.Writer) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(toDocument(sess)); err != nil {
		return err
	}
	return enc.Close()
}

// Markdown writes a readable transcript. System turns are left out.
type Markdown struct{}

func (Markdown) Extension() string { return "md" }

var roleHeadings = map[vault.Role]string{
	vault.RoleUser:             "User",
	vault.RoleAssistant:        "Nox",
	vault.RoleInstrumentQuery:  "Instrument query",
	vault.RoleInstrumentResult: "Instrument result",
	vault.RoleDevShellCommand:  "Shell command",
	vault.RoleDevShellResult:   "Shell result",
}

func (Markdown) Export(sess vault.Session, w io.Writer) error {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", sess.Meta.DisplayTitle())
	fmt.Fprintf(&b, "- id: `%s`\n", sess.Meta.ID)
	fmt.Fprintf(&b, "- created: %s\n", sess.Meta.CreatedAt.UTC().Format(time.RFC3339))
	if len(sess.Meta.Sources) > 0 {
		fmt.Fprintf(&b, "- merged from: %s\n", strings.Join(sess.Meta.Sources, ", "))
	}
	for _, t := range sess.Turns {
		heading, ok := roleHeadings[t.Role]
		if !ok {
			continue
		}
		fmt.Fprintf(&b, "\n## %s\n\n", heading)
		switch t.Role {
		case vault.RoleDevShellCommand, vault.RoleDevShellResult, vault.RoleInstrumentQuery, vault.RoleInstrumentResult:
			fmt.Fprintf(&b, "```\n%s\n```\n", strings.TrimSpace(t.Content))
		default:
			b.WriteString(strings.TrimSpace(t.Content))
			b.WriteByte('\n')
		}
	}
	_, err := io.WriteString(w, b.String())
	return err
}
