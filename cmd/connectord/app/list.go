// SPDX-FileCopyrightText: Copyright 2025 Igniter, Inc.
// SPDX-License-Identifier: Apache-2.0

package app

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/olekukonko/tablewriter"
	"github.com/olekukonko/tablewriter/tw"
	"github.com/spf13/cobra"
)

var connectorsCmd = &cobra.Command{
	Use:   "connectors",
	Short: "List the connectors this build serves",
	RunE:  runConnectors,
}

func runConnectors(_ *cobra.Command, _ []string) error {
	defs := demoConnectors()
	sort.Slice(defs, func(i, j int) bool { return defs[i].Key < defs[j].Key })

	table := tablewriter.NewWriter(os.Stdout)
	table.Options(
		tablewriter.WithHeader([]string{"Key", "Type", "Actions", "Webhook"}),
		tablewriter.WithRendition(
			tw.Rendition{
				Borders: tw.Border{
					Left:   tw.State(1),
					Top:    tw.State(1),
					Right:  tw.State(1),
					Bottom: tw.State(1),
				},
			},
		),
		tablewriter.WithAlignment(tw.MakeAlign(4, tw.AlignLeft)),
	)

	for _, def := range defs {
		actions := make([]string, 0, len(def.Actions))
		for name := range def.Actions {
			actions = append(actions, name)
		}
		sort.Strings(actions)

		hasWebhook := "No"
		if def.Webhook != nil {
			hasWebhook = "Yes"
		}

		if err := table.Append([]string{
			def.Key,
			def.Type(),
			strings.Join(actions, ", "),
			hasWebhook,
		}); err != nil {
			return fmt.Errorf("failed to append row: %w", err)
		}
	}

	if err := table.Render(); err != nil {
		return fmt.Errorf("failed to render table: %w", err)
	}
	return nil
}
