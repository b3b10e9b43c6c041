// Package sink stores harvested metadata on disk, one file per identifier
// and metadata prefix.
package sink

import (
	"path/filepath"
	"regexp"
	"strings"

	logging "github.com/ipfs/go-log/v2"
	"github.com/pkg/errors"

	oai "github.com/houillon/basic-oai-harvester"
)

const xmlHeader = `<?xml version="1.0" encoding="UTF-8"?>` + "\n"

var log = logging.Logger("sink")

// ErrBadKey is returned for identifiers or prefixes that would end up outside
// of the destination directory.
var ErrBadKey = errors.New("bad key")

var unsafeChars = regexp.MustCompile(`[^\w\-.,;]`)

// SafeName replaces every character outside of [A-Za-z0-9_-.,;] with an
// underscore.
func SafeName(s string) string {
	return unsafeChars.ReplaceAllString(s, "_")
}

// FileSink writes each record to <dir>/<safe identifier>/<prefix>.xml. Writing
// the same identifier and prefix again replaces the file.
type FileSink struct{}

// Write stores the metadata of a single record.
func (s FileSink) Write(dir string, metadata []byte, identifier, prefix string) error {
	filename, err := s.Path(dir, identifier, prefix)
	if err != nil {
		return err
	}
	data := make([]byte, 0, len(xmlHeader)+len(metadata)+1)
	data = append(data, xmlHeader...)
	data = append(data, metadata...)
	data = append(data, '\n')
	if err := oai.WriteFileAtomic(filename, data, 0644); err != nil {
		return errors.Wrapf(err, "writing %s", identifier)
	}
	log.Debugf("%s [%s] written to %s", identifier, prefix, filename)
	return nil
}

// Path returns the file location for a record.
func (FileSink) Path(dir, identifier, prefix string) (string, error) {
	if identifier == "" || prefix == "" {
		return "", errors.Wrap(ErrBadKey, "empty identifier or prefix")
	}
	name := SafeName(identifier)
	if name == "." || name == ".." {
		return "", errors.Wrapf(ErrBadKey, "%q", identifier)
	}
	root, err := filepath.Abs(dir)
	if err != nil {
		return "", err
	}
	return cleanKey(root, filepath.Join(name, SafeName(prefix)+".xml"))
}

// cleanKey joins root and key, and requires the result to stay strictly below
// root.
func cleanKey(root, key string) (string, error) {
	s := filepath.Clean(filepath.Join(root, key))
	if !strings.HasPrefix(s, root+string(filepath.Separator)) {
		return "", errors.Wrapf(ErrBadKey, "%q", key)
	}
	return s, nil
}
