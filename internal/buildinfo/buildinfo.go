// Package buildinfo carries the version stamped in at link time:
//
//	go build -ldflags "-X github.com/dmitrijs2005/medkeeper/internal/buildinfo.Version=v1.2.0"
package buildinfo

import (
	"fmt"
	"io"
)

const unknown = "N/A"

var (
	Version = unknown
	Date    = unknown
	Commit  = unknown
)

func PrintBuildData(w io.Writer) {
	fmt.Fprintf(w, "Build version: %s\n", orUnknown(Version))
	fmt.Fprintf(w, "Build date: %s\n", orUnknown(Date))
	fmt.Fprintf(w, "Build commit: %s\n", orUnknown(Commit))
}

func orUnknown(s string) string {
	if s == "" {
		return unknown
	}
	return s
}
