package services

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunImportDir(t *testing.T) {
	dir := t.TempDir()
	write := func(name, content string) {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
	}

	// Kaputte Datei: der Lauf scheitert beim Parsen, bevor die
	// Datenbank angefasst wird, deshalb reicht hier ein Service ohne DB.
	write("books_dump.csv", "Falsch;Header\n1;2\n")
	write("ratings_alt.csv", "Auch;Kaputt\n")
	write("inventar.csv", "a;b\n")
	write("notizen.txt", "kein csv")

	svc := testService(0)
	summary, err := svc.RunImportDir(context.Background(), dir)
	require.NoError(t, err)
	assert.Zero(t, summary.Files)
	assert.Zero(t, summary.Totals, "gescheiterte Läufe tragen nichts zur Summe bei")

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	assert.ElementsMatch(t, []string{
		"books_dump.csv.failed",
		"ratings_alt.csv.failed",
		"inventar.csv",
		"notizen.txt",
	}, names, "gescheiterte Dateien werden markiert, unbekannte bleiben liegen")
}

func TestRunImportDirMissing(t *testing.T) {
	svc := testService(0)
	_, err := svc.RunImportDir(context.Background(), filepath.Join(t.TempDir(), "gibt-es-nicht"))
	require.Error(t, err)
}
