package services

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
)

// ImportSummary fasst einen Verzeichnis-Sweep zusammen: Zahl der
// erfolgreich importierten Dateien und die aufsummierten Zeilen-Counts
// aller Läufe.
type ImportSummary struct {
	Files  int
	Totals UploadResult
}

// RunImportDir verarbeitet alle CSV-Dateien im Import-Verzeichnis. Die
// Dateiart ergibt sich aus dem Namenspräfix (books*, users*, ratings*);
// jede Datei ist ein eigener, in sich abgeschlossener Pipeline-Lauf.
// Erfolgreich verarbeitete Dateien werden zu *.done umbenannt,
// gescheiterte zu *.failed, damit der nächste Lauf sie nicht erneut
// anfasst.
func (s *UploadService) RunImportDir(ctx context.Context, dir string) (ImportSummary, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return ImportSummary{}, fmt.Errorf("reading import dir: %w", err)
	}

	var summary ImportSummary
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".csv") {
			continue
		}

		var kind string
		switch {
		case strings.HasPrefix(name, "books"):
			kind = "books"
		case strings.HasPrefix(name, "users"):
			kind = "users"
		case strings.HasPrefix(name, "ratings"):
			kind = "ratings"
		default:
			s.Logger.Warn("Datei im Import-Verzeichnis ohne bekanntes Präfix übersprungen",
				zap.String("file", name))
			continue
		}

		path := filepath.Join(dir, name)
		result, err := s.importFile(ctx, path, kind)
		if err != nil {
			s.Logger.Error("Import fehlgeschlagen",
				zap.String("file", name), zap.String("file_kind", kind), zap.Error(err))
			if renameErr := os.Rename(path, path+".failed"); renameErr != nil {
				s.Logger.Warn("Konnte fehlgeschlagene Datei nicht umbenennen",
					zap.String("file", name), zap.Error(renameErr))
			}
			continue
		}

		if err := os.Rename(path, path+".done"); err != nil {
			s.Logger.Warn("Konnte importierte Datei nicht umbenennen",
				zap.String("file", name), zap.Error(err))
		}
		summary.Files++
		summary.Totals.add(result)
	}
	return summary, nil
}

func (s *UploadService) importFile(ctx context.Context, path, kind string) (*UploadResult, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	defer file.Close()

	switch kind {
	case "books":
		return s.ProcessBooksFile(ctx, file)
	case "users":
		return s.ProcessUsersFile(ctx, file)
	default:
		return s.ProcessRatingsFile(ctx, file)
	}
}
