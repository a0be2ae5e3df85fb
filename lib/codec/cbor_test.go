// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package codec

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/bureau-foundation/buildagent/lib/schema/build"
)

// manifestEntry mirrors a CBOR-only on-disk record.
type manifestEntry struct {
	Path     string    `cbor:"path"`
	Digest   string    `cbor:"digest,omitempty"`
	Size     int64     `cbor:"size"`
	Uploaded time.Time `cbor:"uploaded"`
}

func TestMarshalUnmarshalRoundtrip(t *testing.T) {
	t.Parallel()

	original := manifestEntry{
		Path:     "dist/app.jar",
		Digest:   "af1349b9",
		Size:     42,
		Uploaded: time.Date(2026, 3, 1, 12, 30, 0, 500, time.UTC),
	}
	data, err := Marshal(original)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	var decoded manifestEntry
	if err := Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if !decoded.Uploaded.Equal(original.Uploaded) {
		t.Errorf("time = %v, want %v", decoded.Uploaded, original.Uploaded)
	}
	decoded.Uploaded = original.Uploaded
	if decoded != original {
		t.Errorf("roundtrip mismatch: got %+v, want %+v", decoded, original)
	}
}

func TestMarshalDeterministic(t *testing.T) {
	t.Parallel()

	value := map[string]any{"zeta": 1, "alpha": "a", "mid": []string{"x"}}
	first, err := Marshal(value)
	if err != nil {
		t.Fatal(err)
	}
	for range 10 {
		again, err := Marshal(value)
		if err != nil {
			t.Fatal(err)
		}
		if !bytes.Equal(first, again) {
			t.Fatalf("deterministic encoding violated: %x != %x", first, again)
		}
	}
}

func TestCommandUsesJSONFieldNames(t *testing.T) {
	t.Parallel()

	command := build.Compose(
		build.Exec("make", "all").WithRunIf(build.RunIfAny),
	).WithOnCancel(build.Echo("stopped"))

	data, err := Marshal(command)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	notation, err := Diagnose(data)
	if err != nil {
		t.Fatalf("Diagnose: %v", err)
	}
	for _, name := range []string{`"kind"`, `"subCommands"`, `"onCancel"`, `"runIf"`} {
		if !strings.Contains(notation, name) {
			t.Errorf("notation %s lacks %s", notation, name)
		}
	}

	var decoded build.Command
	if err := Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if decoded.Describe() != command.Describe() || decoded.OnCancel == nil ||
		decoded.SubCommands[0].RunIf != build.RunIfAny {
		t.Errorf("decoded = %+v", decoded)
	}
	if got, _ := decoded.SubCommands[0].Args.List("args"); len(got) != 1 || got[0] != "all" {
		t.Errorf("args = %v", got)
	}
}

func TestTextMarshalerEncodesAsString(t *testing.T) {
	t.Parallel()

	data, err := Marshal(struct {
		State build.JobState `cbor:"state"`
	}{build.Building})
	if err != nil {
		t.Fatal(err)
	}
	notation, err := Diagnose(data)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(notation, `"Building"`) {
		t.Errorf("notation = %s", notation)
	}
}

func TestEncoderDecoderStream(t *testing.T) {
	t.Parallel()

	entries := []manifestEntry{{Path: "a", Size: 1}, {Path: "b", Size: 2}}
	var buffer bytes.Buffer
	encoder := NewEncoder(&buffer)
	for _, entry := range entries {
		if err := encoder.Encode(entry); err != nil {
			t.Fatalf("Encode: %v", err)
		}
	}
	decoder := NewDecoder(&buffer)
	for index, want := range entries {
		var got manifestEntry
		if err := decoder.Decode(&got); err != nil {
			t.Fatalf("Decode %d: %v", index, err)
		}
		if got.Path != want.Path || got.Size != want.Size {
			t.Errorf("entry %d = %+v, want %+v", index, got, want)
		}
	}
}

func TestUnmarshalInvalidCBOR(t *testing.T) {
	t.Parallel()

	var entry manifestEntry
	if err := Unmarshal([]byte{0xFF, 0xFE, 0xFD}, &entry); err == nil {
		t.Error("Unmarshal accepted invalid CBOR")
	}
}
