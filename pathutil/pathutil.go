package pathutil

import (
	"fmt"
	"path"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/deckbridge/bridgeerr"
)

// TempSuffix is the reserved suffix for in-progress transfer artifacts.
// A file carrying this suffix at the destination is the resume point
// for an interrupted transfer.
const TempSuffix = ".tmp"

// ValidateRemotePath reports whether p is safe to hand to the secure
// channel. Paths containing null bytes or traversal segments are
// rejected with KindPathTraversalRejected.
func ValidateRemotePath(p string) error {
	if p == "" {
		return bridgeerr.New(bridgeerr.KindPathTraversalRejected, "ValidateRemotePath", "empty path")
	}
	if strings.ContainsRune(p, 0) {
		logrus.WithFields(logrus.Fields{
			"function": "ValidateRemotePath",
			"path":     fmt.Sprintf("%q", p),
		}).Warn("Remote path rejected: contains null byte")
		return bridgeerr.New(bridgeerr.KindPathTraversalRejected, "ValidateRemotePath", "path contains null byte")
	}

	// Inspect the raw segments. Cleaning first would collapse embedded
	// ".." in absolute paths and let "/a/../../etc" through.
	for _, part := range strings.Split(p, "/") {
		if part == ".." {
			logrus.WithFields(logrus.Fields{
				"function": "ValidateRemotePath",
				"path":     p,
			}).Warn("Remote path rejected: contains traversal segment")
			return bridgeerr.New(bridgeerr.KindPathTraversalRejected, "ValidateRemotePath", "path contains traversal segment")
		}
	}
	return nil
}

// PosixJoin joins path parts using forward-slash rules, suitable for
// constructing remote device paths on any local OS.
func PosixJoin(parts ...string) string {
	return path.Join(parts...)
}

// TempPath returns the in-progress artifact path for dest.
func TempPath(dest string) string {
	return dest + TempSuffix
}

// HumanSize converts a byte count to a human-readable string using
// 1024-based units, e.g. "4.2 MB".
func HumanSize(n int64) string {
	if n < 0 {
		return "0 B"
	}
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for v := n / unit; v >= unit; v /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(n)/float64(div), "KMGTPE"[exp])
}
