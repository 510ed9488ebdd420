package desc

import (
	"strings"

	"github.com/cperrin88/archdex/pkg/errors"
)

// Key is a recognized section tag of a desc file.
type Key int

// Desc section keys, in the order pacman writes them.
const (
	// KeyBegin collects lines seen before the first tag. It never reaches output.
	KeyBegin Key = iota
	KeyFilename
	KeyName
	KeyBase
	KeyVersion
	KeyDesc
	KeyCSize
	KeyISize
	KeyMD5Sum
	KeySHA256Sum
	KeyPGPSig
	KeyURL
	KeyLicense
	KeyArch
	KeyBuildDate
	KeyPackager
	KeyDepends
	KeyMakeDepends
	KeyGroups
	KeyReplaces
	KeyProvides
	KeyCheckDepends
	KeyConflicts
	KeyOptDepends

	// KeyRepo is injected by archdex and cannot be parsed from input.
	KeyRepo
)

type keyInfo struct {
	tag   string
	field string
}

var keyTable = [...]keyInfo{
	KeyBegin:        {"BEGIN", "begin"},
	KeyFilename:     {"FILENAME", "filename"},
	KeyName:         {"NAME", "name"},
	KeyBase:         {"BASE", "base"},
	KeyVersion:      {"VERSION", "version"},
	KeyDesc:         {"DESC", "desc"},
	KeyCSize:        {"CSIZE", "c_size"},
	KeyISize:        {"ISIZE", "i_size"},
	KeyMD5Sum:       {"MD5SUM", "md5_sum"},
	KeySHA256Sum:    {"SHA256SUM", "sha256_sum"},
	KeyPGPSig:       {"PGPSIG", "pgp_sig"},
	KeyURL:          {"URL", "url"},
	KeyLicense:      {"LICENSE", "license"},
	KeyArch:         {"ARCH", "arch"},
	KeyBuildDate:    {"BUILDDATE", "build_date"},
	KeyPackager:     {"PACKAGER", "packager"},
	KeyDepends:      {"DEPENDS", "depends"},
	KeyMakeDepends:  {"MAKEDEPENDS", "make_depends"},
	KeyGroups:       {"GROUPS", "groups"},
	KeyReplaces:     {"REPLACES", "replaces"},
	KeyProvides:     {"PROVIDES", "provides"},
	KeyCheckDepends: {"CHECKDEPENDS", "check_depends"},
	KeyConflicts:    {"CONFLICTS", "conflicts"},
	KeyOptDepends:   {"OPTDEPENDS", "opt_depends"},
	KeyRepo:         {"REPO", "repo"},
}

var tagLookup = func() map[string]Key {
	m := make(map[string]Key, len(keyTable))
	for k, info := range keyTable {
		if Key(k) == KeyBegin || Key(k) == KeyRepo {
			continue
		}
		m[info.tag] = Key(k)
	}
	return m
}()

// ParseKey resolves a tag name (without the surrounding percent signs) to a
// Key. Matching is case-insensitive.
func ParseKey(s string) (Key, error) {
	tag := strings.ToUpper(strings.TrimSpace(s))
	if tag == "" {
		return KeyBegin, errors.Wrap(errors.ErrUnknownKey, "empty tag")
	}
	k, ok := tagLookup[tag]
	if !ok {
		return KeyBegin, errors.Wrapf(errors.ErrUnknownKey, "tag %q", s)
	}
	return k, nil
}

// String returns the canonical tag, e.g. "NAME".
func (k Key) String() string {
	if !k.valid() {
		return "UNKNOWN"
	}
	return keyTable[k].tag
}

// Field returns the document field name, e.g. "build_date".
func (k Key) Field() string {
	if !k.valid() {
		return ""
	}
	return keyTable[k].field
}

// MarshalText lets Key act as a JSON object key.
func (k Key) MarshalText() ([]byte, error) {
	if !k.valid() {
		return nil, errors.Wrapf(errors.ErrUnknownKey, "key %d", int(k))
	}
	return []byte(keyTable[k].field), nil
}

func (k Key) valid() bool {
	return k >= 0 && int(k) < len(keyTable)
}
