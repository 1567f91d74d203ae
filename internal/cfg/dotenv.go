package cfg

import (
	"errors"
	"io/fs"

	"github.com/joho/godotenv"

	"github.com/keithlinneman/insightdash/internal/xerrors"
)

// DefaultEnvFile is read from the working directory at startup.
const DefaultEnvFile = ".env"

// LoadEnvFile exports the KEY=value pairs in path into the process
// environment. Variables already set keep their values, so the real
// environment wins over the file. A missing file is not an error; loaded
// reports whether one was read.
func LoadEnvFile(path string) (loaded bool, err error) {
	if path == "" {
		return false, nil
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, xerrors.Wrapf(err, "load env file %s", path)
	}
	return true, nil
}
