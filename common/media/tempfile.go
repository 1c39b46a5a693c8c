package media

import (
	"io"
	"os"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
)

const (
	uploadPattern = "detect-upload-*.mp4"
	resultPattern = "detect-result-*.mp4"
)

// Spooler writes payloads to temporary files under Dir ("" = os.TempDir()).
type Spooler struct {
	Dir string
}

// SpoolUpload copies r into a fresh temporary file and returns its path.
// The caller owns the file and must Remove it.
func (s Spooler) SpoolUpload(r io.Reader) (string, error) {
	return s.spool(uploadPattern, r)
}

// PersistResult writes r to a temporary file, then reads the file back in
// full. The file is kept so the result can be served again later.
func (s Spooler) PersistResult(r io.Reader) (string, []byte, error) {
	path, err := s.spool(resultPattern, r)
	if err != nil {
		return "", nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", nil, multierr.Combine(errors.Wrap(err, "failed to read back result"), Remove(path))
	}
	return path, data, nil
}

func (s Spooler) spool(pattern string, r io.Reader) (path string, err error) {
	f, err := os.CreateTemp(s.Dir, pattern)
	if err != nil {
		return "", errors.Wrap(err, "failed to create temp file")
	}
	path = f.Name()
	defer func() {
		err = multierr.Append(err, errors.Wrap(f.Close(), "failed to close temp file"))
		if err != nil {
			err = multierr.Append(err, Remove(path))
			path = ""
		}
	}()

	if _, err = io.Copy(f, r); err != nil {
		return path, errors.Wrap(err, "failed to write temp file")
	}
	return path, nil
}

// Remove deletes the given files, ignoring empty and already-missing paths.
func Remove(paths ...string) error {
	var err error
	for _, p := range paths {
		if p == "" {
			continue
		}
		if rmErr := os.Remove(p); rmErr != nil && !os.IsNotExist(rmErr) {
			err = multierr.Append(err, errors.Wrapf(rmErr, "failed to remove %s", p))
		}
	}
	return err
}
