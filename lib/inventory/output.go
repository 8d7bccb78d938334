package inventory

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"gopkg.in/yaml.v3"
)

// Format is an output format for Write.
type Format string

const (
	FormatText Format = "text"
	FormatYAML Format = "yaml"
	FormatJSON Format = "json"
)

// ParseFormat validates a format name. Empty means text.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(s)); f {
	case "":
		return FormatText, nil
	case FormatText, FormatYAML, FormatJSON:
		return f, nil
	}
	return "", fmt.Errorf("unknown format %q (want text, yaml or json)", s)
}

// Write renders decls to w in the given format.
func Write(w io.Writer, decls []ClassDecl, format Format) error {
	switch format {
	case FormatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(document{Classes: decls}); err != nil {
			return err
		}
		return enc.Close()
	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(document{Classes: decls})
	case FormatText, "":
		return writeText(w, decls)
	}
	return fmt.Errorf("unknown format %q", format)
}

type document struct {
	Classes []ClassDecl `json:"classes" yaml:"classes"`
}

func writeText(w io.Writer, decls []ClassDecl) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "CLASS\tTYPE\tPROPERTIES\tMETHODS\tBINDINGS\tLOCATION")
	for _, d := range decls {
		name := d.Name
		if d.SingleInstance {
			name += " (single)"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%s:%d\n",
			name, d.Type, memberNames(d.Properties), memberNames(d.Methods), len(d.Bindings), d.File, d.Line)
	}
	return tw.Flush()
}

func memberNames(members []Member) string {
	if len(members) == 0 {
		return "-"
	}
	names := make([]string, len(members))
	for i, m := range members {
		names[i] = m.Name
	}
	return strings.Join(names, ",")
}
