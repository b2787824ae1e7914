package skills

import (
	"bytes"
	"fmt"
	"reflect"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/aymanbagabas/go-udiff"
	"github.com/mitchellh/mapstructure"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

const (
	delimiter = "---"
	bom       = "\ufeff"
)

// Repair identifies one structural fix applied by Normalize
type Repair string

// Repairs are applied and recorded in this order
const (
	RepairBOM                     Repair = "bom"
	RepairLineEndings             Repair = "line-endings"
	RepairLeadingBlankLines       Repair = "leading-blank-lines"
	RepairMisplacedDelimiter      Repair = "misplaced-delimiter"
	RepairMissingClosingDelimiter Repair = "missing-closing-delimiter"
	RepairTrailingNewline         Repair = "trailing-newline"
)

// ErrMalformedSkill is matched by every MalformedSkillError
var ErrMalformedSkill = errors.New("malformed skill")

// MalformedSkillError reports a definition that could not be coerced into a
// valid skill. Field names the missing required field when that is the cause.
type MalformedSkillError struct {
	Path   string
	Field  string
	Reason string
}

func (e *MalformedSkillError) Error() string {
	var b strings.Builder
	b.WriteString("malformed skill")
	if e.Path != "" {
		b.WriteString(" at ")
		b.WriteString(e.Path)
	}
	if e.Field != "" {
		fmt.Fprintf(&b, ": missing required field '%s'", e.Field)
		if e.Reason != "" {
			b.WriteString(" (" + e.Reason + ")")
		}
		return b.String()
	}
	b.WriteString(": ")
	b.WriteString(e.Reason)
	return b.String()
}

// Is makes errors.Is(err, ErrMalformedSkill) succeed
func (e *MalformedSkillError) Is(target error) bool {
	return target == ErrMalformedSkill
}

var (
	fieldLinePattern = regexp.MustCompile(`^([A-Za-z][A-Za-z0-9_-]*)\s*:`)
	kebabCasePattern = regexp.MustCompile(`^[a-z0-9]+(-[a-z0-9]+)*$`)
)

// Normalize repairs the structural defects commonly found in model-written
// SKILL.md files and parses the result. It performs no I/O.
//
// The returned bytes are what the file should contain. Skill.WasRepaired is
// true exactly when they differ from raw, and normalizing the returned bytes
// again is always a no-op.
func Normalize(raw []byte) ([]byte, *Skill, error) {
	text, repairs, err := repairText(string(raw))
	if err != nil {
		return nil, nil, err
	}

	skill, err := parseNormalized(text)
	if err != nil {
		return nil, nil, err
	}

	normalized := []byte(text)
	skill.Repairs = repairs
	skill.WasRepaired = !bytes.Equal(normalized, raw)
	return normalized, skill, nil
}

// Diff renders a unified diff between the raw and normalized file contents
func Diff(path string, raw, normalized []byte) string {
	return udiff.Unified(path, path, string(raw), string(normalized))
}

func isDelimiter(line string) bool {
	return strings.TrimSpace(line) == delimiter
}

func isBlank(line string) bool {
	return strings.TrimSpace(line) == ""
}

func trimBlankEdges(lines []string) []string {
	for len(lines) > 0 && isBlank(lines[0]) {
		lines = lines[1:]
	}
	for len(lines) > 0 && isBlank(lines[len(lines)-1]) {
		lines = lines[:len(lines)-1]
	}
	return lines
}

func appendRepair(repairs []Repair, r Repair) []Repair {
	for _, have := range repairs {
		if have == r {
			return repairs
		}
	}
	return append(repairs, r)
}

func repairText(text string) (string, []Repair, error) {
	var repairs []Repair

	if strings.HasPrefix(text, bom) {
		text = strings.TrimPrefix(text, bom)
		repairs = append(repairs, RepairBOM)
	}
	if strings.Contains(text, "\r\n") {
		text = strings.ReplaceAll(text, "\r\n", "\n")
		repairs = append(repairs, RepairLineEndings)
	}

	hadTrailingNewline := strings.HasSuffix(text, "\n")
	lines := strings.Split(strings.TrimSuffix(text, "\n"), "\n")

	leading := 0
	for leading < len(lines) && isBlank(lines[leading]) {
		leading++
	}
	if leading == len(lines) {
		return "", nil, &MalformedSkillError{Field: "name", Reason: "file is empty"}
	}
	if leading > 0 {
		lines = lines[leading:]
		repairs = append(repairs, RepairLeadingBlankLines)
	}

	open := -1
	for i, line := range lines {
		if isDelimiter(line) {
			open = i
			break
		}
	}
	if open == -1 {
		return "", nil, &MalformedSkillError{Field: "name", Reason: "no frontmatter block delimited by ---"}
	}

	// Prose before the opening delimiter moves to the end of the body
	var preamble []string
	if open > 0 || lines[0] != delimiter {
		preamble = trimBlankEdges(append([]string(nil), lines[:open]...))
		lines = append([]string{delimiter}, lines[open+1:]...)
		repairs = append(repairs, RepairMisplacedDelimiter)
	}

	closing := -1
	for i := 1; i < len(lines); i++ {
		if isDelimiter(lines[i]) {
			closing = i
			break
		}
	}
	switch {
	case closing == -1:
		at, err := synthesizeClosing(lines)
		if err != nil {
			return "", nil, err
		}
		lines = append(lines[:at], append([]string{delimiter}, lines[at:]...)...)
		repairs = append(repairs, RepairMissingClosingDelimiter)
	case lines[closing] != delimiter:
		lines[closing] = delimiter
		repairs = appendRepair(repairs, RepairMisplacedDelimiter)
	}

	if len(preamble) > 0 {
		lines = trimTrailingBlank(lines)
		lines = append(lines, "")
		lines = append(lines, preamble...)
	}

	if !hadTrailingNewline {
		repairs = append(repairs, RepairTrailingNewline)
	}
	return strings.Join(lines, "\n") + "\n", repairs, nil
}

func trimTrailingBlank(lines []string) []string {
	for len(lines) > 1 && isBlank(lines[len(lines)-1]) {
		lines = lines[:len(lines)-1]
	}
	return lines
}

// synthesizeClosing finds where a missing closing delimiter belongs: the first
// blank line after the last recognized field. It only succeeds when the
// recognized fields include the required ones.
func synthesizeClosing(lines []string) (int, error) {
	keys := make(map[string]bool)
	lastField := 0
	for i := 1; i < len(lines); i++ {
		line := lines[i]
		if isBlank(line) {
			break
		}
		if m := fieldLinePattern.FindStringSubmatch(line); m != nil {
			keys[m[1]] = true
			lastField = i
			continue
		}
		// Indented values and list items continue the previous field
		if lastField > 0 && (strings.HasPrefix(line, " ") || strings.HasPrefix(line, "\t") || strings.HasPrefix(line, "- ")) {
			lastField = i
			continue
		}
		break
	}

	for _, required := range []string{"name", "description"} {
		if !keys[required] {
			return 0, &MalformedSkillError{Field: required, Reason: "frontmatter has no closing --- delimiter"}
		}
	}
	return lastField + 1, nil
}

// splitFrontmatter separates a normalized document into frontmatter and body
func splitFrontmatter(text string) (string, string) {
	lines := strings.Split(strings.TrimSuffix(text, "\n"), "\n")
	for i := 1; i < len(lines); i++ {
		if lines[i] == delimiter {
			front := strings.Join(lines[1:i], "\n")
			body := strings.Join(lines[i+1:], "\n")
			return front, strings.Trim(body, "\n")
		}
	}
	return strings.Join(lines[1:], "\n"), ""
}

func parseNormalized(text string) (*Skill, error) {
	front, body := splitFrontmatter(text)

	values, extra, err := decodeFrontmatter(front)
	if err != nil {
		return nil, err
	}

	var warnings []string
	if tools, ok := values["allowed-tools"]; ok {
		switch tools.(type) {
		case nil, string, []any:
		default:
			warnings = append(warnings, "allowed-tools must be a string or a list, ignoring it")
			delete(values, "allowed-tools")
		}
	}

	var md Metadata
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &md,
		WeaklyTypedInput: true,
		DecodeHook:       splitToolsHook,
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to create frontmatter decoder")
	}
	if err := decoder.Decode(values); err != nil {
		return nil, &MalformedSkillError{Reason: "invalid frontmatter: " + err.Error()}
	}

	md.Name = strings.TrimSpace(md.Name)
	md.Description = strings.TrimSpace(md.Description)
	if md.Name == "" {
		return nil, &MalformedSkillError{Field: "name"}
	}
	if md.Description == "" {
		return nil, &MalformedSkillError{Field: "description"}
	}

	if !kebabCasePattern.MatchString(md.Name) {
		warnings = append(warnings, fmt.Sprintf("name '%s' is not kebab-case", md.Name))
	}

	description := md.Description
	if n := utf8.RuneCountInString(description); n > MaxDescriptionLength {
		runes := []rune(description)
		description = string(runes[:MaxDescriptionLength-3]) + "..."
		warnings = append(warnings, fmt.Sprintf("description truncated from %d to %d characters", n, MaxDescriptionLength))
	}

	version := strings.TrimSpace(md.Version)
	if version == "" {
		version = DefaultVersion
	}

	restriction, ok := ParseRoleRestriction(md.RoleRestriction)
	if !ok {
		warnings = append(warnings, fmt.Sprintf("unknown role-restriction '%s', treating skill as author-only", md.RoleRestriction))
	}

	caps, unknown := parseCapabilities(md.AllowedTools)
	for _, token := range unknown {
		warnings = append(warnings, fmt.Sprintf("unknown capability '%s' in allowed-tools, not granted", token))
	}

	return &Skill{
		Name:            md.Name,
		Description:     description,
		Version:         version,
		RoleRestriction: restriction,
		Capabilities:    caps,
		Content:         body,
		Warnings:        warnings,
		Extra:           extra,
	}, nil
}

var knownKeys = map[string]bool{
	"name":             true,
	"description":      true,
	"version":          true,
	"role-restriction": true,
	"allowed-tools":    true,
}

// decodeFrontmatter returns the known keys with scalars kept as their literal
// text (so "version: 1.0" stays "1.0") and every other key decoded generically.
func decodeFrontmatter(front string) (map[string]any, map[string]any, error) {
	var root yaml.Node
	if err := yaml.Unmarshal([]byte(front), &root); err != nil {
		return nil, nil, &MalformedSkillError{Reason: "invalid YAML frontmatter: " + err.Error()}
	}
	if len(root.Content) == 0 {
		return nil, nil, &MalformedSkillError{Field: "name", Reason: "frontmatter is empty"}
	}
	mapping := root.Content[0]
	if mapping.Kind != yaml.MappingNode {
		return nil, nil, &MalformedSkillError{Reason: "frontmatter is not a mapping"}
	}

	values := make(map[string]any)
	var extra map[string]any
	for i := 0; i+1 < len(mapping.Content); i += 2 {
		key := mapping.Content[i].Value
		node := mapping.Content[i+1]
		if knownKeys[key] {
			values[key] = literalValue(node)
			continue
		}
		var v any
		if err := node.Decode(&v); err != nil {
			return nil, nil, &MalformedSkillError{Reason: fmt.Sprintf("invalid value for '%s': %v", key, err)}
		}
		if extra == nil {
			extra = make(map[string]any)
		}
		extra[key] = v
	}
	return values, extra, nil
}

func literalValue(node *yaml.Node) any {
	switch node.Kind {
	case yaml.AliasNode:
		return literalValue(node.Alias)
	case yaml.ScalarNode:
		if node.Tag == "!!null" {
			return nil
		}
		return node.Value
	case yaml.SequenceNode:
		items := make([]any, 0, len(node.Content))
		for _, child := range node.Content {
			items = append(items, literalValue(child))
		}
		return items
	default:
		var v any
		_ = node.Decode(&v)
		return v
	}
}

// splitToolsHook accepts allowed-tools as a space or comma separated string
func splitToolsHook(from reflect.Type, to reflect.Type, data any) (any, error) {
	if from.Kind() != reflect.String || to != reflect.TypeOf([]string{}) {
		return data, nil
	}
	return strings.FieldsFunc(data.(string), func(r rune) bool {
		return r == ',' || r == ' ' || r == '\t' || r == '\n'
	}), nil
}
