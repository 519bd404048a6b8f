// Package protect freezes a conda prefix and runs the multi-step workflow
// that moves the user's packages out of base before freezing it.
package protect

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"

	"go.trai.ch/zerr"

	"github.com/blackwell-systems/conda-self/internal/conda"
)

// MarkerFile is the name of the freeze marker inside conda-meta. conda
// refuses to modify a prefix that has one unless --override-frozen is given.
const MarkerFile = "frozen"

// ErrProtectionFailed is returned when the freeze marker cannot be written.
var ErrProtectionFailed = zerr.New("failed to protect environment")

type marker struct {
	Message string `json:"message"`
}

// MarkerPath returns the freeze marker path of prefix.
func MarkerPath(prefix string) string {
	return conda.MetaPath(prefix, MarkerFile)
}

// IsFrozen reports whether prefix has a freeze marker. A marker that
// cannot be checked counts as present, so an unreadable prefix is never
// protected twice.
func IsFrozen(prefix string) bool {
	_, err := os.Stat(MarkerPath(prefix))
	if err == nil {
		return true
	}
	if errors.Is(err, fs.ErrNotExist) {
		return false
	}
	slog.Warn("cannot check freeze marker; assuming frozen", "prefix", prefix, "error", err)
	return true
}

// Freeze writes the freeze marker. An empty message yields an empty file.
func Freeze(prefix, message string) error {
	var data []byte
	if message != "" {
		var err error
		if data, err = json.Marshal(marker{Message: message}); err != nil {
			return fmt.Errorf("failed to encode freeze marker: %w", err)
		}
	}
	if err := os.WriteFile(MarkerPath(prefix), data, 0644); err != nil {
		return errors.Join(ErrProtectionFailed,
			zerr.With(zerr.Wrap(err, "could not write freeze marker"), "prefix", prefix))
	}
	return nil
}

// FrozenMessage returns the message stored in the freeze marker. An empty
// marker or one that is not JSON yields "" without error; a missing marker
// yields an error matching fs.ErrNotExist.
func FrozenMessage(prefix string) (string, error) {
	data, err := os.ReadFile(MarkerPath(prefix))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", fmt.Errorf("%s is not frozen: %w", prefix, err)
		}
		return "", fmt.Errorf("failed to read freeze marker: %w", err)
	}
	var m marker
	if len(data) == 0 || json.Unmarshal(data, &m) != nil {
		return "", nil
	}
	return m.Message, nil
}
