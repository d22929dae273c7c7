// Copyright 2026 The sgcore Authors. All rights reserved.

package host

import (
	"strings"
	"testing"
)

func TestValidateNodeGroupName_Valid(t *testing.T) {
	for _, name := range []string{"acquisition", "node-1", "group_2"} {
		if err := validateNodeGroupName(name); err != nil {
			t.Errorf("validateNodeGroupName(%q) unexpected error: %v", name, err)
		}
	}
}

func TestValidateNodeGroupName_Rejects(t *testing.T) {
	invalid := []string{"", ".", "..", "a/b", "a\\b", "a\x00b", strings.Repeat("x", 256)}
	for _, name := range invalid {
		if err := validateNodeGroupName(name); err == nil {
			t.Errorf("validateNodeGroupName(%q) expected error, got nil", name)
		}
	}
}

func TestCreateNodeGroupRejectsUnsafeName(t *testing.T) {
	h := New(nil)
	if _, _, err := h.CreateNodeGroup("../escape"); err == nil {
		t.Fatal("expected CreateNodeGroup to reject a path-traversal name")
	}
}
