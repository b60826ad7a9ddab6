package license

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	licenseErrors "seatlock/internal/errors"
)

// StoredLicense is the on-disk record of an installed license: the license
// key the operator entered and the encoded artifact it unlocked. Feature
// overrides are operator-granted entitlements outside the artifact itself.
type StoredLicense struct {
	LicenseKey       string    `json:"license_key"`
	Artifact         string    `json:"artifact"`
	FeatureOverrides []string  `json:"feature_overrides,omitempty"`
	SavedAt          time.Time `json:"saved_at"`
}

// ArtifactStore persists the StoredLicense to a primary file with a backup
// copy. Reads fall back to the backup when the primary is missing or corrupt.
type ArtifactStore struct {
	primaryPath string
	backupPath  string
}

// NewArtifactStore creates a store over the given primary and backup paths.
func NewArtifactStore(primaryPath, backupPath string) *ArtifactStore {
	return &ArtifactStore{
		primaryPath: primaryPath,
		backupPath:  backupPath,
	}
}

// Load reads the stored license, trying the primary file first and falling
// back to the backup. Returns ErrNoLicense when neither holds a usable record.
func (s *ArtifactStore) Load() (*StoredLicense, error) {
	for _, path := range []string{s.primaryPath, s.backupPath} {
		stored, err := readLicenseFile(path)
		if err == nil {
			return stored, nil
		}
	}
	return nil, licenseErrors.ErrNoLicense
}

func readLicenseFile(path string) (*StoredLicense, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var stored StoredLicense
	if err := json.Unmarshal(data, &stored); err != nil {
		return nil, fmt.Errorf("corrupt license file %s: %w", path, err)
	}
	if stored.Artifact == "" {
		return nil, fmt.Errorf("license file %s has no artifact", path)
	}
	return &stored, nil
}

// Save writes the record to the primary file and then mirrors it to the
// backup. Each write is atomic (temp file then rename); a failed backup write
// does not undo the primary.
func (s *ArtifactStore) Save(stored *StoredLicense) error {
	stored.SavedAt = time.Now().UTC()

	data, err := json.MarshalIndent(stored, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal license record: %w", err)
	}

	if err := writeFileAtomic(s.primaryPath, data); err != nil {
		return fmt.Errorf("failed to write license file: %w", err)
	}
	if err := writeFileAtomic(s.backupPath, data); err != nil {
		return fmt.Errorf("failed to write license backup: %w", err)
	}
	return nil
}

// Remove deletes both copies; missing files are not an error.
func (s *ArtifactStore) Remove() error {
	for _, path := range []string{s.primaryPath, s.backupPath} {
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("failed to remove %s: %w", path, err)
		}
	}
	return nil
}

// ModTime returns the primary file's modification time, falling back to the
// backup; zero when neither exists.
func (s *ArtifactStore) ModTime() time.Time {
	for _, path := range []string{s.primaryPath, s.backupPath} {
		if info, err := os.Stat(path); err == nil {
			return info.ModTime()
		}
	}
	return time.Time{}
}

func writeFileAtomic(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return err
	}
	return nil
}
