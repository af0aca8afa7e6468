package pak

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog/log"
)

// Extract writes every entry's payload back out as a file under OutputPath.
// Entries with inline names keep their paths; reference-only entries are
// written as <namekey>.bin since the archive does not store their text.
func (pa *PakArchiver) Extract(opts PakArchiverOptions) error {
	archive, err := pa.ExtractMetadata(opts.ArchivePath)
	if err != nil {
		return err
	}

	file, err := os.Open(opts.ArchivePath)
	if err != nil {
		return err
	}
	defer file.Close()

	payloadFile := file
	if archive.SeparateData() {
		if opts.DataFile == "" {
			return fmt.Errorf("archive %s stores payloads in a separate data component, no data file given", opts.ArchivePath)
		}
		dataFile, err := os.Open(opts.DataFile)
		if err != nil {
			return err
		}
		defer dataFile.Close()
		payloadFile = dataFile
	}

	if err := os.MkdirAll(opts.OutputPath, 0755); err != nil {
		return err
	}

	for _, entry := range archive.Entries {
		name, ok := entry.EmbeddedName()
		if !ok {
			name = fmt.Sprintf("%s.bin", entry.NameKey())
		}

		if opts.Verbose {
			log.Info().Str("name", name).Msg("extracting entry")
		}

		// Entry names come from the archive; refuse any that resolve
		// outside the output directory.
		outPath := filepath.Join(opts.OutputPath, filepath.FromSlash(name))
		rel, err := filepath.Rel(filepath.Clean(opts.OutputPath), outPath)
		if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(os.PathSeparator)) {
			return fmt.Errorf("entry name %q escapes the output directory", name)
		}

		if err := os.MkdirAll(filepath.Dir(outPath), 0755); err != nil {
			return err
		}

		outFile, err := os.Create(outPath)
		if err != nil {
			return fmt.Errorf("error creating file %s: %w", name, err)
		}

		section := io.NewSectionReader(payloadFile, int64(entry.FileOffset()), int64(entry.FileLength))
		_, err = io.Copy(outFile, section)
		outFile.Close()
		if err != nil {
			return fmt.Errorf("error extracting entry %s: %w", name, err)
		}
	}

	return nil
}
