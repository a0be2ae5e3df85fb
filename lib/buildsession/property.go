// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package buildsession

import (
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/bureau-foundation/buildagent/lib/console"
	"github.com/bureau-foundation/buildagent/lib/schema/build"
)

// executeGenerateProperty evaluates xpath over an XML file and records
// the result as a job property. Property generation is advisory: a
// missing file or a failed evaluation is reported on the console but
// does not fail the build.
func executeGenerateProperty(s *Session, command *build.Command) bool {
	if s.artifacts == nil {
		console.Printf(s.out, "No artifact repository is configured for this agent")
		return false
	}
	name, found := s.requireArg(command, "name")
	if !found {
		return false
	}
	src, found := s.requireArg(command, "src")
	if !found {
		return false
	}
	expression, found := s.requireArg(command, "xpath")
	if !found {
		return false
	}

	file := resolvePath(s.workingDir(command), src)
	if _, err := os.Stat(file); err != nil {
		console.Printf(s.out, "Failed to create property %s. File %s does not exist.", name, file)
		return true
	}

	value, err := evaluateXMLPath(file, expression)
	if err != nil {
		console.Printf(s.out, "Failed to create property %s. %v", name, err)
		return true
	}
	if err := s.artifacts.SetProperty(s.commandContext(), name, value); err != nil {
		console.Printf(s.out, "Failed to create property %s. %v", name, err)
		return true
	}
	console.Printf(s.out, "Property %s = %s created.", name, value)
	return true
}

// xmlPath is a parsed location path of the supported subset:
// absolute (/a/b) or descendant (//b, //a/b) element steps, "*" as a
// wildcard step, and an optional final @attribute or text() step.
type xmlPath struct {
	descendant bool
	steps      []string
	attribute  string
}

func parseXMLPath(expression string) (xmlPath, error) {
	var parsed xmlPath
	rest := strings.TrimSpace(expression)
	switch {
	case strings.HasPrefix(rest, "//"):
		parsed.descendant = true
		rest = rest[2:]
	case strings.HasPrefix(rest, "/"):
		rest = rest[1:]
	default:
		parsed.descendant = true
	}
	if rest == "" {
		return parsed, fmt.Errorf("empty xpath %q", expression)
	}

	parts := strings.Split(rest, "/")
	for index, part := range parts {
		last := index == len(parts)-1
		switch {
		case part == "":
			return parsed, fmt.Errorf("unsupported xpath %q: only the leading // may select descendants", expression)
		case strings.HasPrefix(part, "@"):
			if !last || len(part) == 1 {
				return parsed, fmt.Errorf("unsupported xpath %q: attribute must be the last step", expression)
			}
			parsed.attribute = part[1:]
		case part == "text()":
			if !last {
				return parsed, fmt.Errorf("unsupported xpath %q: text() must be the last step", expression)
			}
		case strings.ContainsAny(part, "[]()="):
			return parsed, fmt.Errorf("unsupported xpath %q: predicates and functions are not supported", expression)
		default:
			parsed.steps = append(parsed.steps, part)
		}
	}
	if len(parsed.steps) == 0 {
		return parsed, fmt.Errorf("unsupported xpath %q: no element step", expression)
	}
	return parsed, nil
}

// matches reports whether the open element stack is selected.
func (p xmlPath) matches(stack []string) bool {
	if len(stack) < len(p.steps) || (!p.descendant && len(stack) != len(p.steps)) {
		return false
	}
	offset := len(stack) - len(p.steps)
	for index, step := range p.steps {
		if step != "*" && step != stack[offset+index] {
			return false
		}
	}
	return true
}

// evaluateXMLPath returns the text content (or attribute value) of the
// first node selected by expression in file.
func evaluateXMLPath(file, expression string) (string, error) {
	selector, err := parseXMLPath(expression)
	if err != nil {
		return "", err
	}
	handle, err := os.Open(file)
	if err != nil {
		return "", err
	}
	defer handle.Close()

	decoder := xml.NewDecoder(handle)
	var (
		stack     []string
		capturing = -1
		text      strings.Builder
	)
	for {
		token, err := decoder.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", fmt.Errorf("parsing %s: %w", file, err)
		}

		switch element := token.(type) {
		case xml.StartElement:
			stack = append(stack, element.Name.Local)
			if capturing >= 0 || !selector.matches(stack) {
				continue
			}
			if selector.attribute != "" {
				for _, attribute := range element.Attr {
					if attribute.Name.Local == selector.attribute {
						return attribute.Value, nil
					}
				}
				continue
			}
			capturing = len(stack)
		case xml.CharData:
			if capturing >= 0 {
				text.Write(element)
			}
		case xml.EndElement:
			if capturing == len(stack) {
				return strings.TrimSpace(text.String()), nil
			}
			stack = stack[:len(stack)-1]
		}
	}
	return "", fmt.Errorf("xpath %s matched nothing in %s", expression, file)
}
