// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package template

import (
	"bytes"
	"runtime"
	"strconv"
	"strings"
	"testing"
)

func TestReplace(t *testing.T) {
	t.Parallel()

	engine := New()
	engine.Set("rhq.deploy.dir", "/opt/app")
	engine.Set("db.port", "5432")
	engine.Set("empty", "")

	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"dollar brace form", "dir=${rhq.deploy.dir}", "dir=/opt/app"},
		{"at form", "dir=@@rhq.deploy.dir@@", "dir=/opt/app"},
		{"multiple references", "${db.port}:${db.port}", "5432:5432"},
		{"unknown left verbatim", "home=${HOME} port=${db.port}", "home=${HOME} port=5432"},
		{"unknown at form left verbatim", "@@missing@@", "@@missing@@"},
		{"empty value", "[${empty}]", "[]"},
		{"bare dollar untouched", "$rhq.deploy.dir", "$rhq.deploy.dir"},
		{"no tokens", "plain text\n", "plain text\n"},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			t.Parallel()
			if got := engine.Replace(test.input); got != test.want {
				t.Errorf("Replace(%q) = %q, want %q", test.input, got, test.want)
			}
		})
	}
}

func TestReplaceStream(t *testing.T) {
	engine := New()
	engine.Set("rhq.deploy.dir", "/opt/app")

	var output bytes.Buffer
	written, err := engine.ReplaceStream(strings.NewReader("dir=${rhq.deploy.dir}"), &output)
	if err != nil {
		t.Fatalf("ReplaceStream: %v", err)
	}
	if output.String() != "dir=/opt/app" {
		t.Errorf("output = %q, want %q", output.String(), "dir=/opt/app")
	}
	if written != int64(output.Len()) {
		t.Errorf("written = %d, want %d", written, output.Len())
	}
}

func TestUnresolved(t *testing.T) {
	engine := New()
	engine.Set("known", "x")

	got := engine.Unresolved("${known} ${a.b} @@c@@ ${a.b}")
	if strings.Join(got, ",") != "a.b,c" {
		t.Errorf("Unresolved = %v, want [a.b c]", got)
	}
}

func TestCloneIsIndependent(t *testing.T) {
	original := New()
	original.Set("a", "1")

	clone := original.Clone()
	clone.Set("a", "2")
	clone.Set("b", "3")

	if value, _ := original.Lookup("a"); value != "1" {
		t.Errorf("original a = %q after clone mutation, want 1", value)
	}
	if _, ok := original.Lookup("b"); ok {
		t.Error("original gained token b from clone")
	}
	if names := clone.Names(); strings.Join(names, ",") != "a,b" {
		t.Errorf("clone Names = %v, want [a b]", names)
	}
}

func TestNewWithSystemInfo(t *testing.T) {
	engine := NewWithSystemInfo()

	if value, _ := engine.Lookup(TokenArchitecture); value != runtime.GOARCH {
		t.Errorf("%s = %q, want %q", TokenArchitecture, value, runtime.GOARCH)
	}
	if value, _ := engine.Lookup(TokenCPUCount); value != strconv.Itoa(runtime.NumCPU()) {
		t.Errorf("%s = %q, want %d", TokenCPUCount, value, runtime.NumCPU())
	}
	if _, ok := engine.Lookup(TokenOSName); !ok {
		t.Errorf("%s not set", TokenOSName)
	}
}
