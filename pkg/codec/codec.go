// Package codec converts notes to and from Markdown files with a YAML
// frontmatter header.
package codec

import (
	"bytes"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/aretw0/tilvault/pkg/core"
)

const delimiter = "---"

// ErrMalformed is returned when a file is not a note.
var ErrMalformed = errors.New("malformed note file")

// legacy layouts written without a zone (interpreted in the decoder's
// location).
var legacyLayouts = []string{
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
}

// Codec encodes and decodes notes.
type Codec struct {
	// Location interprets timestamps that carry no zone. Defaults to UTC.
	Location *time.Location
}

// Default is a Codec that reads zone-less timestamps as UTC.
var Default = Codec{}

// Encode renders a note as frontmatter followed by its raw content.
func Encode(n core.Note) ([]byte, error) {
	return Default.Encode(n)
}

// Decode parses a note file.
func Decode(data []byte) (core.Note, error) {
	return Default.Decode(data)
}

// Encode renders a note as frontmatter followed by its raw content. Header
// keys are always written in the same order and tags always as a flow
// sequence, so identical notes encode to identical bytes.
func (c Codec) Encode(n core.Note) ([]byte, error) {
	tags := &yaml.Node{Kind: yaml.SequenceNode, Style: yaml.FlowStyle}
	for _, t := range n.Tags {
		tags.Content = append(tags.Content, str(t))
	}

	header := &yaml.Node{Kind: yaml.MappingNode}
	header.Content = append(header.Content,
		key("id"), &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!int", Value: n.ID.String()},
		key("title"), str(n.Title),
		key("category"), str(n.Category),
		key("tags"), tags,
		key("created_at"), timestamp(n.CreatedAt),
		key("updated_at"), timestamp(n.UpdatedAt),
	)

	var buf bytes.Buffer
	buf.WriteString(delimiter + "\n")
	encoder := yaml.NewEncoder(&buf)
	encoder.SetIndent(2)
	if err := encoder.Encode(header); err != nil {
		return nil, fmt.Errorf("encode header: %w", err)
	}
	if err := encoder.Close(); err != nil {
		return nil, fmt.Errorf("encode header: %w", err)
	}
	buf.WriteString(delimiter + "\n")
	buf.WriteString(n.Content)
	return buf.Bytes(), nil
}

func key(name string) *yaml.Node {
	return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: name}
}

// str forces a string tag so values like "true" or "123" stay strings.
func str(v string) *yaml.Node {
	return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: v}
}

func timestamp(t time.Time) *yaml.Node {
	return &yaml.Node{
		Kind:  yaml.ScalarNode,
		Tag:   "!!str",
		Style: yaml.DoubleQuotedStyle,
		Value: t.UTC().Format(time.RFC3339Nano),
	}
}

// header mirrors the frontmatter keys. Timestamps and tags are decoded as
// raw nodes because older files use other shapes. A key that is absent
// leaves its node with Kind 0.
type header struct {
	ID        yaml.Node `yaml:"id"`
	Title     yaml.Node `yaml:"title"`
	Category  yaml.Node `yaml:"category"`
	Tags      yaml.Node `yaml:"tags"`
	CreatedAt yaml.Node `yaml:"created_at"`
	UpdatedAt yaml.Node `yaml:"updated_at"`
}

func present(n *yaml.Node) bool {
	return n.Kind != 0 && n.Tag != "!!null"
}

// Decode parses a note file. The header ends at the first line that is
// exactly "---"; everything after it is the content, byte for byte.
func (c Codec) Decode(data []byte) (core.Note, error) {
	rawHeader, body, err := split(data)
	if err != nil {
		return core.Note{}, err
	}

	var h header
	if err := yaml.Unmarshal(rawHeader, &h); err != nil {
		return core.Note{}, fmt.Errorf("%w: failed to parse frontmatter: %w", ErrMalformed, err)
	}

	n := core.Note{Content: string(body)}

	if !present(&h.ID) {
		return core.Note{}, fmt.Errorf("%w: missing id", ErrMalformed)
	}
	id, err := strconv.ParseInt(h.ID.Value, 10, 64)
	if err != nil || id <= 0 {
		return core.Note{}, fmt.Errorf("%w: invalid id %q", ErrMalformed, h.ID.Value)
	}
	n.ID = core.NoteID(id)

	if !present(&h.Title) || h.Title.Value == "" {
		return core.Note{}, fmt.Errorf("%w: missing title", ErrMalformed)
	}
	n.Title = h.Title.Value

	n.Category = core.DefaultCategory
	if present(&h.Category) && h.Category.Value != "" {
		n.Category = h.Category.Value
	}

	n.Tags, err = decodeTags(&h.Tags)
	if err != nil {
		return core.Note{}, err
	}

	if !present(&h.CreatedAt) {
		return core.Note{}, fmt.Errorf("%w: missing created_at", ErrMalformed)
	}
	if n.CreatedAt, err = c.parseTime(h.CreatedAt.Value); err != nil {
		return core.Note{}, err
	}
	n.UpdatedAt = n.CreatedAt
	if present(&h.UpdatedAt) && h.UpdatedAt.Value != "" {
		if n.UpdatedAt, err = c.parseTime(h.UpdatedAt.Value); err != nil {
			return core.Note{}, err
		}
	}

	return n, nil
}

func split(data []byte) ([]byte, []byte, error) {
	if bytes.HasPrefix(data, []byte("\xef\xbb\xbf")) {
		data = data[3:]
	}
	first, rest, ok := cutLine(data)
	if !ok || string(first) != delimiter {
		return nil, nil, fmt.Errorf("%w: missing frontmatter", ErrMalformed)
	}

	var header []byte
	for len(rest) > 0 {
		line, next, _ := cutLine(rest)
		if string(line) == delimiter {
			return header, next, nil
		}
		header = append(header, rest[:len(rest)-len(next)]...)
		rest = next
	}
	return nil, nil, fmt.Errorf("%w: frontmatter started but no closing delimiter found", ErrMalformed)
}

// cutLine returns the first line of data without its terminator (LF or
// CRLF), the remainder after the terminator, and whether a terminator was
// found.
func cutLine(data []byte) (line, rest []byte, found bool) {
	i := bytes.IndexByte(data, '\n')
	if i < 0 {
		return data, nil, false
	}
	line = data[:i]
	line = bytes.TrimSuffix(line, []byte("\r"))
	return line, data[i+1:], true
}

func decodeTags(node *yaml.Node) ([]string, error) {
	tags := []string{}
	if !present(node) {
		return tags, nil
	}
	switch node.Kind {
	case yaml.SequenceNode:
		for _, item := range node.Content {
			if item.Kind != yaml.ScalarNode {
				return nil, fmt.Errorf("%w: tags must be scalars", ErrMalformed)
			}
			tags = append(tags, item.Value)
		}
	case yaml.ScalarNode:
		for _, t := range strings.Split(node.Value, ",") {
			if t = strings.TrimSpace(t); t != "" {
				tags = append(tags, t)
			}
		}
	default:
		return nil, fmt.Errorf("%w: unexpected tags value", ErrMalformed)
	}
	return tags, nil
}

func (c Codec) parseTime(v string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339Nano, v); err == nil {
		return t.UTC(), nil
	}
	loc := c.Location
	if loc == nil {
		loc = time.UTC
	}
	for _, layout := range legacyLayouts {
		if t, err := time.ParseInLocation(layout, v, loc); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: invalid timestamp %q", ErrMalformed, v)
}
