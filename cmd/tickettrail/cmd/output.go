package cmd

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/charmbracelet/lipgloss"
	"gopkg.in/yaml.v3"
)

// styles holds the terminal styles of CLI output.
type styles struct {
	title lipgloss.Style
	label lipgloss.Style
	ok    lipgloss.Style
	warn  lipgloss.Style
	fail  lipgloss.Style
	muted lipgloss.Style
	box   lipgloss.Style
}

func newStyles(plain bool) styles {
	if plain {
		s := lipgloss.NewStyle()
		return styles{title: s, label: s, ok: s, warn: s, fail: s, muted: s, box: s}
	}
	return styles{
		title: lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12")),
		label: lipgloss.NewStyle().Foreground(lipgloss.Color("8")).Width(14),
		ok:    lipgloss.NewStyle().Foreground(lipgloss.Color("10")),
		warn:  lipgloss.NewStyle().Foreground(lipgloss.Color("11")),
		fail:  lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true),
		muted: lipgloss.NewStyle().Foreground(lipgloss.Color("8")),
		box: lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("8")).
			Padding(0, 1),
	}
}

func outputJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// outputYAML writes v as block YAML with the keys of its JSON encoding.
func outputYAML(w io.Writer, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	var node yaml.Node
	if err := yaml.Unmarshal(data, &node); err != nil {
		return fmt.Errorf("converting to yaml: %w", err)
	}
	blockStyle(&node)

	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(&node); err != nil {
		return err
	}
	return enc.Close()
}

// blockStyle clears the flow and quoting styles JSON input carries.
func blockStyle(n *yaml.Node) {
	n.Style = 0
	for _, c := range n.Content {
		blockStyle(c)
	}
}
