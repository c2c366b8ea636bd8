package main

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/leapstack-labs/stridesync/internal/cli/config"
)

// ConfigField describes one configuration key.
type ConfigField struct {
	Key      string
	Type     string
	Default  string
	Validate string
}

// generateConfigDocs writes the configuration reference page.
func generateConfigDocs(outDir string) error {
	log.Printf("Generating configuration docs to %s", outDir)

	if err := os.MkdirAll(outDir, 0750); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	config.ResetConfig()
	cfg, err := config.LoadConfig(os.DevNull, nil)
	if err != nil {
		return fmt.Errorf("failed to load default configuration: %w", err)
	}

	w := NewMarkdownWriter()
	w.Frontmatter("Configuration", "stridesync configuration reference")
	w.GeneratedMarker()

	w.Header(1, "Configuration")
	w.Paragraph(fmt.Sprintf("stridesync reads %s from the working directory, or the file passed with %s. "+
		"Environment variables and flags override file values.",
		InlineCode(config.ConfigFileNames[0]), InlineCode("--config")))

	sections := map[string][]ConfigField{}
	var order []string
	for _, f := range collectFields(reflect.ValueOf(*cfg), "") {
		section, _, nested := strings.Cut(f.Key, ".")
		if !nested {
			section = "general"
		}
		if _, ok := sections[section]; !ok {
			order = append(order, section)
		}
		sections[section] = append(sections[section], f)
	}

	headers := []string{"Key", "Type", "Default", "Constraints"}
	for _, section := range order {
		w.Header(2, section)
		var rows [][]string
		for _, f := range sections[section] {
			def := "-"
			if f.Default != "" {
				def = InlineCode(f.Default)
			}
			rows = append(rows, []string{InlineCode(f.Key), f.Type, def, cleanDescription(f.Validate)})
		}
		w.Table(headers, rows)
	}

	filename := filepath.Join(outDir, "configuration.md")
	return os.WriteFile(filename, w.Bytes(), 0600)
}

// collectFields walks koanf-tagged struct fields depth first.
func collectFields(v reflect.Value, prefix string) []ConfigField {
	var fields []ConfigField
	t := v.Type()
	for i := range t.NumField() {
		sf := t.Field(i)
		tag := sf.Tag.Get("koanf")
		if tag == "" || tag == "-" {
			continue
		}
		key := tag
		if prefix != "" {
			key = prefix + "." + tag
		}
		fv := v.Field(i)
		if fv.Kind() == reflect.Struct && sf.Type != reflect.TypeOf(time.Time{}) {
			fields = append(fields, collectFields(fv, key)...)
			continue
		}
		fields = append(fields, ConfigField{
			Key:      key,
			Type:     sf.Type.String(),
			Default:  formatDefault(fv),
			Validate: sf.Tag.Get("validate"),
		})
	}
	return fields
}

func formatDefault(v reflect.Value) string {
	if v.IsZero() {
		return ""
	}
	if d, ok := v.Interface().(time.Duration); ok {
		return d.String()
	}
	switch v.Kind() {
	case reflect.Slice:
		parts := make([]string, v.Len())
		for i := range v.Len() {
			parts[i] = fmt.Sprint(v.Index(i).Interface())
		}
		return "[" + strings.Join(parts, ", ") + "]"
	case reflect.Map:
		return ""
	}
	if v.Kind() == reflect.String {
		return v.String()
	}
	return fmt.Sprint(v.Interface())
}
