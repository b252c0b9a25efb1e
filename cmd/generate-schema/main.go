package main

import (
	"encoding/json"
	"fmt"
	"os"
	"reflect"
	"time"

	"github.com/invopop/jsonschema"
	"github.com/marmos91/dittovfs/pkg/config"
	"github.com/marmos91/dittovfs/pkg/vfs/badger"
	"github.com/marmos91/dittovfs/pkg/vfs/local"
	"github.com/marmos91/dittovfs/pkg/vfs/memory"
	"github.com/marmos91/dittovfs/pkg/vfs/s3"
)

// backendConfigs are the typed configurations behind the filesystem.<type> maps.
var backendConfigs = map[string]any{
	"local":  &local.Config{},
	"memory": &memory.Config{},
	"badger": &badger.Config{},
	"s3":     &s3.Config{},
}

func main() {
	reflector := jsonschema.Reflector{
		AllowAdditionalProperties: false,
		DoNotReference:            true, // Inline all definitions for simplicity
		Mapper:                    mapType,
	}

	schema := reflector.Reflect(&config.Config{})

	schema.Title = "DittoVFS Configuration"
	schema.Description = "Configuration schema for a DittoVFS filesystem stack"
	schema.Version = "1.0.0"

	// The backend sections are free-form maps in Config; describe them with
	// the configuration type of each backend instead.
	if fsSchema, ok := schema.Properties.Get("filesystem"); ok {
		for name, cfg := range backendConfigs {
			backend := reflector.Reflect(cfg)
			backend.Version = ""
			backend.ID = ""
			fsSchema.Properties.Set(name, backend)
		}
	}

	schemaJSON, err := json.MarshalIndent(schema, "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error marshaling schema: %v\n", err)
		os.Exit(1)
	}

	outputFile := "config.schema.json"
	if len(os.Args) > 1 {
		outputFile = os.Args[1]
	}

	if err := os.WriteFile(outputFile, schemaJSON, 0644); err != nil {
		fmt.Fprintf(os.Stderr, "Error writing schema file: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("JSON schema written to %s\n", outputFile)
}

// mapType renders durations the way the config file spells them ("90s").
func mapType(t reflect.Type) *jsonschema.Schema {
	if t == reflect.TypeOf(time.Duration(0)) {
		return &jsonschema.Schema{
			Type:        "string",
			Pattern:     `^([0-9]+(\.[0-9]+)?(ns|us|µs|ms|s|m|h))+$`,
			Description: `Duration such as "90s" or "5m"`,
		}
	}
	return nil
}
