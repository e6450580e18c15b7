// Package storage defines the transactional file-store contract spec §6
// consumes, plus two concrete implementations: an in-memory store for
// tests and the fast path, and a bbolt-backed store for durability,
// grounded on sumanthd032-CollabText/agent's use of go.etcd.io/bbolt as
// an embedded transactional key/value engine — a close structural match
// for the checkPathEmpty/writePath/listPath contract spec §6 describes.
package storage

import (
	"regexp"
	"strings"

	"bayou/internal/errs"
)

var pathComponentRE = regexp.MustCompile(`^[a-zA-Z0-9_]+$`)

// ValidatePath checks a StoragePath per spec §3: slash-prefixed,
// slash-separated components of [a-zA-Z0-9_]+, no empty components, no
// trailing slash.
func ValidatePath(p string) error {
	if p == "" || p[0] != '/' {
		return errs.New(errs.BadValue, "path %q: must start with /", p)
	}
	if p == "/" {
		return errs.New(errs.BadValue, "path %q: bare slash is forbidden", p)
	}
	if strings.HasSuffix(p, "/") {
		return errs.New(errs.BadValue, "path %q: trailing slash is forbidden", p)
	}
	for _, comp := range strings.Split(p[1:], "/") {
		if !pathComponentRE.MatchString(comp) {
			return errs.New(errs.BadValue, "path %q: invalid component %q", p, comp)
		}
	}
	return nil
}
