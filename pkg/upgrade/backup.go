package upgrade

import (
	"encoding/json"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/cuemby/sentinel/pkg/log"
	"github.com/cuemby/sentinel/pkg/types"
	"github.com/juju/errors"
	"github.com/juju/utils/v4"
)

const metadataFile = "metadata.json"

// BackupMetadata describes what a backup directory holds
type BackupMetadata struct {
	Component types.Component `json:"component"`
	Timestamp time.Time       `json:"timestamp"`
	Version   string          `json:"version"`
	Binary    string          `json:"binary"`
	Service   string          `json:"service"`
}

// createBackup copies the installed binary, and for the consensus client
// its config directory, into <BackupDir>/<component>_<timestamp>.
func (o *Orchestrator) createBackup(svc types.ServiceIdentity, version string) (string, error) {
	now := o.clock.Now()
	dir, err := uniqueDir(filepath.Join(o.config.BackupDir, fmt.Sprintf("%s_%s", svc.Component, now.Format("20060102_150405"))))
	if err != nil {
		return "", errors.Trace(err)
	}

	if _, err := os.Stat(svc.BinaryPath); err == nil {
		if err := copyFile(svc.BinaryPath, filepath.Join(dir, filepath.Base(svc.BinaryPath)), 0755); err != nil {
			return dir, errors.Annotate(err, "failed to back up binary")
		}
	}

	if svc.IsConsensus() && svc.ConfigDir != "" {
		if info, err := os.Stat(svc.ConfigDir); err == nil && info.IsDir() {
			if err := copyDir(svc.ConfigDir, filepath.Join(dir, "config")); err != nil {
				return dir, errors.Annotate(err, "failed to back up config")
			}
		}
	}

	meta := BackupMetadata{
		Component: svc.Component,
		Timestamp: now,
		Version:   version,
		Binary:    svc.BinaryPath,
		Service:   svc.ServiceName,
	}
	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return dir, errors.Trace(err)
	}
	if err := utils.AtomicWriteFile(filepath.Join(dir, metadataFile), data, 0644); err != nil {
		return dir, errors.Annotate(err, "failed to write backup metadata")
	}

	o.logger.Info().Str("path", dir).Str("component", string(svc.Component)).Msg("Backup created")
	return dir, nil
}

// uniqueDir creates base, or base_N when base already exists
func uniqueDir(base string) (string, error) {
	if err := os.MkdirAll(filepath.Dir(base), 0755); err != nil {
		return "", errors.Annotatef(err, "failed to create backup root")
	}
	dir := base
	for i := 1; ; i++ {
		err := os.Mkdir(dir, 0755)
		if err == nil {
			return dir, nil
		}
		if !os.IsExist(err) {
			return "", errors.Annotatef(err, "failed to create backup directory %s", dir)
		}
		dir = fmt.Sprintf("%s_%d", base, i)
	}
}

// ReadBackupMetadata reads the metadata of a backup directory
func ReadBackupMetadata(dir string) (BackupMetadata, error) {
	var meta BackupMetadata
	data, err := os.ReadFile(filepath.Join(dir, metadataFile))
	if err != nil {
		return meta, errors.Trace(err)
	}
	if err := json.Unmarshal(data, &meta); err != nil {
		return meta, errors.Annotatef(err, "invalid backup metadata in %s", dir)
	}
	return meta, nil
}

// PruneBackups removes backup directories under root whose metadata
// timestamp is older than now-olderThan. Directories without readable
// metadata are left alone. Returns the number removed.
func PruneBackups(root string, olderThan time.Duration, now time.Time) (int, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, errors.Annotatef(err, "failed to list backups in %s", root)
	}

	logger := log.WithComponent("upgrade")
	cutoff := now.Add(-olderThan)
	removed := 0
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		dir := filepath.Join(root, entry.Name())
		meta, err := ReadBackupMetadata(dir)
		if err != nil || !meta.Timestamp.Before(cutoff) {
			continue
		}
		if err := os.RemoveAll(dir); err != nil {
			logger.Warn().Err(err).Str("path", dir).Msg("Failed to remove old backup")
			continue
		}
		logger.Info().Str("path", dir).Msg("Removed old backup")
		removed++
	}
	return removed, nil
}

// copyFile copies src to dst through a temporary file in dst's directory,
// so dst is either the old or the new content.
func copyFile(src, dst string, mode os.FileMode) error {
	in, err := os.Open(src)
	if err != nil {
		return errors.Trace(err)
	}
	defer in.Close()

	tmp, err := os.CreateTemp(filepath.Dir(dst), "."+filepath.Base(dst)+".tmp-")
	if err != nil {
		return errors.Trace(err)
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, in); err != nil {
		tmp.Close()
		return errors.Annotatef(err, "failed to copy %s", src)
	}
	if err := tmp.Chmod(mode); err != nil {
		tmp.Close()
		return errors.Trace(err)
	}
	if err := tmp.Close(); err != nil {
		return errors.Trace(err)
	}
	return errors.Trace(os.Rename(tmp.Name(), dst))
}

func copyDir(src, dst string) error {
	return filepath.WalkDir(src, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)

		if d.IsDir() {
			return os.MkdirAll(target, 0755)
		}
		if !d.Type().IsRegular() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		return copyFile(path, target, info.Mode().Perm())
	})
}
