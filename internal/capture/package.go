package capture

import (
	"archive/zip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// PackageName renders the sealed package name for a job: the zero-padded
// job id keeps landing listings and the arrival queue in job order.
func PackageName(dataset string, jobID int64) string {
	return fmt.Sprintf("%s#%09d.zip", dataset, jobID)
}

// ParsePackageName splits a package name back into its dataset and job id.
func ParsePackageName(packageName string) (string, int64, error) {
	rest, ok := strings.CutSuffix(packageName, ".zip")
	if !ok {
		return "", 0, fmt.Errorf("unexpected package name (%s)", packageName)
	}
	dataset, digits, ok := strings.Cut(rest, "#")
	if !ok || dataset == "" {
		return "", 0, fmt.Errorf("unexpected package name (%s)", packageName)
	}
	jobID, err := strconv.ParseInt(digits, 10, 64)
	if err != nil {
		return "", 0, fmt.Errorf("unexpected package name (%s): %w", packageName, err)
	}
	return dataset, jobID, nil
}

// RecoveryKey is the stable recovery-snapshot key for a dataset.
func RecoveryKey(dataset string) string {
	return "capture/" + dataset + ".zip"
}

// sealPackage zips every file in workFolder into outFolder/packageName and
// returns the package path.
func sealPackage(workFolder, outFolder, packageName string) (string, error) {
	packagePath := filepath.Join(outFolder, packageName)
	if err := zipFolder(workFolder, packagePath); err != nil {
		return "", fmt.Errorf("seal package %s: %w", packageName, err)
	}
	return packagePath, nil
}

// zipFolder archives the direct files of a folder; entries are stored flat
// under their base names. Both the work folder and the state folder are
// flat by construction.
func zipFolder(folder, zipPath string) error {
	entries, err := os.ReadDir(folder)
	if err != nil {
		return fmt.Errorf("read folder: %w", err)
	}

	out, err := os.Create(zipPath)
	if err != nil {
		return fmt.Errorf("create archive: %w", err)
	}
	defer out.Close()

	writer := zip.NewWriter(out)
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if err := addZipEntry(writer, filepath.Join(folder, entry.Name()), entry.Name()); err != nil {
			writer.Close()
			return err
		}
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("finalize archive: %w", err)
	}
	return out.Sync()
}

func addZipEntry(writer *zip.Writer, filePath, name string) error {
	in, err := os.Open(filePath)
	if err != nil {
		return fmt.Errorf("open archive entry %s: %w", name, err)
	}
	defer in.Close()

	header := &zip.FileHeader{Name: name, Method: zip.Deflate}
	if info, err := in.Stat(); err == nil {
		header.Modified = info.ModTime()
	}
	entry, err := writer.CreateHeader(header)
	if err != nil {
		return fmt.Errorf("create archive entry %s: %w", name, err)
	}
	if _, err := io.Copy(entry, in); err != nil {
		return fmt.Errorf("write archive entry %s: %w", name, err)
	}
	return nil
}

// clearFolder deletes the direct files of a folder, creating it if missing.
func clearFolder(folder string) error {
	if err := os.MkdirAll(folder, 0o755); err != nil {
		return fmt.Errorf("create folder %s: %w", folder, err)
	}
	entries, err := os.ReadDir(folder)
	if err != nil {
		return fmt.Errorf("read folder %s: %w", folder, err)
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if err := os.Remove(filepath.Join(folder, entry.Name())); err != nil {
			return fmt.Errorf("clear folder %s: %w", folder, err)
		}
	}
	return nil
}
