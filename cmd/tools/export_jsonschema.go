package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/stokerhq/stoker"
)

func runExportJSONSchema(args []string) error {
	flags := flag.NewFlagSet("export-jsonschema", flag.ContinueOnError)
	flags.SetOutput(os.Stdout)
	flags.Usage = func() {
		fmt.Println("Usage: stoker-tools export-jsonschema [options]")
		fmt.Println("")
		fmt.Println("Options:")
		flags.PrintDefaults()
	}

	var schemaFile, outDir string
	flags.StringVar(&schemaFile, "schema", getenvDefault("SCHEMA_FILE", "schema.json"), "collections schema file")
	flags.StringVar(&outDir, "out", "jsonschema", "output directory")
	if err := flags.Parse(args); err != nil {
		return err
	}

	data, err := os.ReadFile(schemaFile)
	if err != nil {
		return fmt.Errorf("read schema file: %w", err)
	}
	var schema stoker.CollectionsSchema
	if err := json.Unmarshal(data, &schema); err != nil {
		return fmt.Errorf("parse schema file: %w", err)
	}

	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return fmt.Errorf("create output directory: %w", err)
	}

	names := make([]string, 0, len(schema.Collections))
	for name := range schema.Collections {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		collection := schema.Collections[name]
		if collection.Name == "" {
			collection.Name = name
		}
		doc, err := stoker.CollectionJSONSchema(collection)
		if err != nil {
			return fmt.Errorf("render %s: %w", name, err)
		}
		out, err := json.MarshalIndent(doc, "", "  ")
		if err != nil {
			return fmt.Errorf("encode %s: %w", name, err)
		}
		file := filepath.Join(outDir, name+".schema.json")
		if err := os.WriteFile(file, append(out, '\n'), 0o644); err != nil {
			return fmt.Errorf("write %s: %w", file, err)
		}
		fmt.Printf("wrote %s\n", file)
	}
	return nil
}
