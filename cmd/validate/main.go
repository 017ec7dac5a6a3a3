// Package main provides an offline dry run of an import file. Nothing is
// written; the ImportResult is printed as JSON.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/inventory-importer/internal/auth"
	"github.com/inventory-importer/internal/logging"
	"github.com/inventory-importer/internal/service"
	"github.com/inventory-importer/internal/types"
)

const offlineToken = "offline"

func main() {
	var (
		file       = flag.String("file", "", "Path to the CSV or XLSX file")
		importType = flag.String("type", "", "Import type, one of: "+importTypeList())
		mapping    = flag.String("mapping", "", "Header mapping as JSON, or @path to a JSON file")
		maxRows    = flag.Int("max-rows", 0, "Override the row cap")
		verbose    = flag.Bool("v", false, "Log pipeline progress to stderr")
	)
	flag.Parse()

	level := logging.LevelError
	if *verbose {
		level = logging.LevelDebug
	}
	logging.InitGlobalLogger(level, logging.FormatText)
	logging.GetGlobalLogger().SetOutput(os.Stderr)

	if *file == "" || *importType == "" {
		flag.Usage()
		os.Exit(2)
	}

	mappingJSON, err := readMapping(*mapping)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to read mapping: %v\n", err)
		os.Exit(2)
	}

	f, err := os.Open(*file)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open file: %v\n", err)
		os.Exit(2)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to stat file: %v\n", err)
		os.Exit(2)
	}

	cfg := service.DefaultImportConfig()
	if *maxRows > 0 {
		cfg.MaxRows = *maxRows
	}
	svc := service.NewImportService(cfg, service.Dependencies{})

	session := auth.Session{ActorID: "offline", CompanyID: "offline", Role: types.RoleOwner, CSRFToken: offlineToken}
	res := svc.Import(context.Background(), session, service.ImportRequest{
		File:       f,
		FileName:   filepath.Base(*file),
		FileSize:   info.Size(),
		ImportType: *importType,
		Mapping:    mappingJSON,
		DryRun:     true,
		CSRFToken:  offlineToken,
	})

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(res); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to write result: %v\n", err)
		os.Exit(2)
	}

	switch {
	case !res.Success:
		os.Exit(2)
	case res.ErrorCount > 0:
		os.Exit(1)
	}
}

func readMapping(value string) (string, error) {
	if !strings.HasPrefix(value, "@") {
		return value, nil
	}
	b, err := os.ReadFile(strings.TrimPrefix(value, "@"))
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func importTypeList() string {
	names := make([]string, len(types.AllImportTypes))
	for i, t := range types.AllImportTypes {
		names[i] = string(t)
	}
	return strings.Join(names, ", ")
}
