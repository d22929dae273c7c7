// Copyright 2026 The sgcore Authors. All rights reserved.

package host

import (
	"fmt"
	"strings"
)

// maxNodeGroupNameLength bounds a NodeGroup name the same way the teacher
// bounded agent/storage/backup names — long enough for any reasonable
// identifier, short enough to keep log lines and rpcwire.ProxyRecord
// payloads sane.
const maxNodeGroupNameLength = 255

// validateNodeGroupName rejects a NodeGroup name unsafe to use as a proxy
// attribute path segment or log field: empty, too long, containing a path
// separator or NUL byte, or a bare "." / "..". NodeGroup names never touch
// the filesystem directly, but they do flow into rpc.Action's Attrs and a
// spawned worker's process arguments, so the same defensive checks apply.
func validateNodeGroupName(name string) error {
	if name == "" {
		return fmt.Errorf("host: nodegroup name cannot be empty")
	}
	if len(name) > maxNodeGroupNameLength {
		return fmt.Errorf("host: nodegroup name exceeds max length %d", maxNodeGroupNameLength)
	}
	if strings.ContainsAny(name, "/\\") {
		return fmt.Errorf("host: nodegroup name %q contains a path separator", name)
	}
	if strings.ContainsRune(name, 0) {
		return fmt.Errorf("host: nodegroup name %q contains a null byte", name)
	}
	if name == "." || name == ".." {
		return fmt.Errorf("host: nodegroup name %q is a path traversal sequence", name)
	}
	return nil
}
