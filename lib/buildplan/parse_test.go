// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package buildplan

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/bureau-foundation/buildagent/lib/schema/build"
)

const jsoncPlan = `{
  // Build and test.
  "kind": "compose",
  "subCommands": [
    {"kind": "exec", "args": {"command": "make", "args": "[\"all\"]"}, "workingDirectory": "src",},
    {"kind": "echo", "args": {"line": "failed"}, "runIf": "failed"},
  ],
  /* cleanup on cancel */
  "onCancel": {"kind": "exec", "args": {"command": "make", "args": "[\"clean\"]"}},
}`

const yamlPlan = `
kind: compose
subCommands:
  - kind: exec
    workingDirectory: src
    args:
      command: make
      args: [all]
  - kind: echo
    runIf: failed
    args:
      line: failed
onCancel:
  kind: exec
  args:
    command: make
    args: [clean]
`

func checkPlan(t *testing.T, command *build.Command) {
	t.Helper()
	if command.Kind != build.KindCompose || len(command.SubCommands) != 2 {
		t.Fatalf("root = %+v", command)
	}
	exec := command.SubCommands[0]
	args, err := exec.Args.List("args")
	if err != nil || !reflect.DeepEqual(args, []string{"all"}) {
		t.Errorf("exec args = %v, %v", args, err)
	}
	if exec.Args.Value("command") != "make" || exec.WorkingDirectory != "src" {
		t.Errorf("exec = %+v", exec)
	}
	if command.SubCommands[1].RunIf != build.RunIfFailed {
		t.Errorf("runIf = %q", command.SubCommands[1].RunIf)
	}
	if command.OnCancel == nil || command.OnCancel.Describe() != "exec make clean" {
		t.Errorf("onCancel = %+v", command.OnCancel)
	}
	if issues := Validate(command); len(issues) != 0 {
		t.Errorf("Validate: %v", issues)
	}
}

func TestParseJSONC(t *testing.T) {
	t.Parallel()

	command, err := Parse([]byte(jsoncPlan))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	checkPlan(t, command)
}

func TestParseYAML(t *testing.T) {
	t.Parallel()

	command, err := ParseYAML([]byte(yamlPlan))
	if err != nil {
		t.Fatalf("ParseYAML: %v", err)
	}
	checkPlan(t, command)
}

func TestCBORRoundTrip(t *testing.T) {
	t.Parallel()

	original, err := Parse([]byte(jsoncPlan))
	if err != nil {
		t.Fatal(err)
	}
	data, err := MarshalCBOR(original)
	if err != nil {
		t.Fatalf("MarshalCBOR: %v", err)
	}
	decoded, err := ParseCBOR(data)
	if err != nil {
		t.Fatalf("ParseCBOR: %v", err)
	}
	if !reflect.DeepEqual(decoded, original) {
		t.Errorf("decoded = %+v\nwant %+v", decoded, original)
	}
	again, err := MarshalCBOR(decoded)
	if err != nil {
		t.Fatal(err)
	}
	if string(again) != string(data) {
		t.Error("CBOR encoding is not deterministic")
	}
}

func TestParseErrors(t *testing.T) {
	t.Parallel()

	if _, err := Parse([]byte(`{"kind": `)); err == nil {
		t.Error("Parse accepted truncated JSON")
	}
	if _, err := ParseYAML([]byte("kind: [unterminated")); err == nil {
		t.Error("ParseYAML accepted malformed YAML")
	}
	if _, err := ParseCBOR([]byte{0xff}); err == nil {
		t.Error("ParseCBOR accepted garbage")
	}
}

func TestReadFileByExtension(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	original, err := Parse([]byte(jsoncPlan))
	if err != nil {
		t.Fatal(err)
	}
	encoded, err := MarshalCBOR(original)
	if err != nil {
		t.Fatal(err)
	}
	files := map[string][]byte{
		"plan.jsonc": []byte(jsoncPlan),
		"plan.json":  []byte(jsoncPlan),
		"plan.yaml":  []byte(yamlPlan),
		"plan.YML":   []byte(yamlPlan),
		"plan.cbor":  encoded,
	}
	for name, content := range files {
		path := filepath.Join(dir, name)
		if err := os.WriteFile(path, content, 0o644); err != nil {
			t.Fatal(err)
		}
		command, err := ReadFile(path)
		if err != nil {
			t.Errorf("ReadFile(%s): %v", name, err)
			continue
		}
		checkPlan(t, command)
	}

	if _, err := ReadFile(filepath.Join(dir, "missing.json")); err == nil {
		t.Error("ReadFile of a missing file succeeded")
	}
}
