package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/terra-clan/treetest-engine/internal/models"
	"github.com/terra-clan/treetest-engine/internal/tree"
)

func newCompileCmd() *cobra.Command {
	var paths bool

	cmd := &cobra.Command{
		Use:   "compile [file|-]",
		Short: "Compile comma-depth tree notation and print the tree",
		Long: "Compile reads tree notation from a file (or stdin with '-') and prints the\n" +
			"compiled nodes as JSON. With --paths it prints one leaf link per line instead.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			notation, err := readInput(cmd, args[0])
			if err != nil {
				return err
			}

			nodes, err := tree.Compile(notation)
			if err != nil {
				return err
			}

			if paths {
				for _, leaf := range leafLinks(nodes) {
					fmt.Fprintln(cmd.OutOrStdout(), leaf)
				}
				return nil
			}
			return writeJSON(cmd.OutOrStdout(), models.CompileTreeResponse{
				Nodes:     nodes,
				LeafCount: tree.CountLeaves(nodes),
			})
		},
	}
	cmd.Flags().BoolVar(&paths, "paths", false, "print leaf links instead of JSON")
	return cmd
}

func readInput(cmd *cobra.Command, name string) (string, error) {
	var data []byte
	var err error
	if name == "-" {
		data, err = io.ReadAll(cmd.InOrStdin())
	} else {
		data, err = os.ReadFile(name)
	}
	if err != nil {
		return "", fmt.Errorf("failed to read %s: %w", name, err)
	}
	return string(data), nil
}

func leafLinks(nodes []models.TreeNode) []string {
	var out []string
	for _, n := range nodes {
		if n.IsLeaf() {
			out = append(out, n.Link)
			continue
		}
		out = append(out, leafLinks(n.Children)...)
	}
	return out
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
