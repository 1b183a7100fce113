package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JonMunkholm/erpimport/internal/core"
)

func setupEnv(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("DB_DRIVER", "sqlite")
	t.Setenv("DATABASE_URL", filepath.Join(dir, "cli.db"))
	t.Setenv("LOG_LEVEL", "error")
	return dir
}

func writeCoreData(t *testing.T, dir string, keys ...int) string {
	t.Helper()
	header := "Cartel;Seq;Stagione;Tipo Doc;Numero Doc;Commessa Cli;Articolo;Descrizione Articolo;Linea;" +
		"Ragione Sociale;Località;Data Documento;Data Consegna"
	for i := 1; i <= core.SlotCount; i++ {
		header += fmt.Sprintf(";P%02d", i)
	}
	lines := []string{header + ";Tot"}
	for _, k := range keys {
		lines = append(lines, fmt.Sprintf("%d;1;A24;OC;%d;;ART-%d;Item;L1;Acme;Milano;05/03/2024;;3", k, k, k))
	}
	path := filepath.Join(dir, "core.csv")
	require.NoError(t, os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0o600))
	return path
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	root := newRootCmd()
	root.SetArgs(args)
	root.SetOut(&out)
	root.SetErr(&errOut)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestAnalyze_PrintsPlan(t *testing.T) {
	dir := setupEnv(t)
	file := writeCoreData(t, dir, 1, 2, 2)

	out, err := run(t, "analyze", file)
	require.NoError(t, err)
	assert.Contains(t, out, "to insert")
	assert.Regexp(t, `duplicate keys\s+1`, out)
}

func TestApply_RequiresConfirmation(t *testing.T) {
	dir := setupEnv(t)
	file := writeCoreData(t, dir, 1, 2)

	out, err := run(t, "apply", file)
	require.ErrorIs(t, err, errNotConfirmed)
	assert.Equal(t, exitNotApplied, exitCode(err))
	assert.Contains(t, out, "to insert")

	out, err = run(t, "count")
	require.NoError(t, err)
	assert.Equal(t, "0\n", out, "nothing is written without --yes")
}

func TestApply_WithYes(t *testing.T) {
	dir := setupEnv(t)
	file := writeCoreData(t, dir, 1, 2)

	out, err := run(t, "apply", file, "--yes")
	require.NoError(t, err)
	assert.Contains(t, out, "2 inserted")

	out, err = run(t, "--json", "count")
	require.NoError(t, err)
	var got map[string]int
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	assert.Equal(t, 2, got["records"])
}

func TestAnalyze_BadDocument(t *testing.T) {
	dir := setupEnv(t)
	path := filepath.Join(dir, "other.csv")
	require.NoError(t, os.WriteFile(path, []byte("a;b\n1;2\n"), 0o600))

	_, err := run(t, "analyze", path)
	require.Error(t, err)
	assert.Equal(t, exitBadDocument, exitCode(err))
	assert.Contains(t, describe(err), "IMP002")
}

func TestAnalytics(t *testing.T) {
	dir := setupEnv(t)
	path := filepath.Join(dir, "sales.csv")
	require.NoError(t, os.WriteFile(path, []byte(
		"Tipo Doc;Numero Doc;Cartel;Articolo;Prezzo;Quantità;Data Documento\n"+
			"FT;1;10;A;9,90;2;05/03/2024\n"+
			"FT;1;10;A;9,90;3;05/03/2024\n"), 0o600))

	out, err := run(t, "analytics", path)
	require.NoError(t, err)
	assert.Equal(t, "2 source rows grouped into 1, 1 written\n", out)
}

func TestExitCode(t *testing.T) {
	assert.Equal(t, exitOK, exitCode(nil))
	assert.Equal(t, exitFailure, exitCode(os.ErrNotExist))
	assert.Equal(t, exitBadDocument, exitCode(fmt.Errorf("%w: empty file", core.ErrInvalidFormat)))
}
