package status

import (
	"encoding/json"
	"os"
	"path/filepath"

	logging "github.com/ipfs/go-log/v2"
	"github.com/pkg/errors"

	oai "github.com/houillon/basic-oai-harvester"
)

// Filename of the status document inside a harvest directory.
const Filename = "harvest-status.json"

var log = logging.Logger("status")

// ErrNoStatus is returned when a directory holds no status document.
var ErrNoStatus = errors.New("no harvest status found")

// Store keeps the status of a harvest next to its records. Every write
// replaces the document atomically.
type Store struct{}

// Path returns the status document location in dir.
func (Store) Path(dir string) string {
	return filepath.Join(dir, Filename)
}

// Write persists a status, pretty printed.
func (s Store) Write(dir string, hs HarvestStatus) error {
	if err := hs.Validate(); err != nil {
		return err
	}
	b, err := json.MarshalIndent(hs, "", "  ")
	if err != nil {
		return errors.Wrap(err, "encoding status")
	}
	if err := oai.WriteFileAtomic(s.Path(dir), append(b, '\n'), 0644); err != nil {
		return errors.Wrap(err, "writing status")
	}
	log.Debugf("status written to %s", s.Path(dir))
	return nil
}

// Read loads the status of dir.
func (s Store) Read(dir string) (HarvestStatus, error) {
	var hs HarvestStatus
	b, err := os.ReadFile(s.Path(dir))
	if os.IsNotExist(err) {
		return hs, errors.Wrapf(ErrNoStatus, "%s", dir)
	}
	if err != nil {
		return hs, errors.Wrap(err, "reading status")
	}
	if err := json.Unmarshal(b, &hs); err != nil {
		return hs, errors.Wrapf(err, "decoding %s", s.Path(dir))
	}
	if err := hs.Validate(); err != nil {
		return hs, errors.Wrapf(err, "decoding %s", s.Path(dir))
	}
	return hs, nil
}
