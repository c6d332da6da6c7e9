package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/mseval/internal/api"
)

func newTemplateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "template",
		Aliases: []string{"templates"},
		Short:   "Manage evaluation criteria templates",
		Long: `Manage spreadsheets of custom evaluation criteria.

Templates are .xlsx, .xls or .csv files. Pass a template's ID to
'mseval evaluate --template' to score a manuscript against it.`,
	}

	cmd.AddCommand(newTemplateListCmd())
	cmd.AddCommand(newTemplateShowCmd())
	cmd.AddCommand(newTemplateAddCmd())
	cmd.AddCommand(newTemplateUpdateCmd())
	cmd.AddCommand(newTemplateRmCmd())
	cmd.AddCommand(newTemplateGetCmd())

	return cmd
}

func newTemplateListCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "ls",
		Aliases: []string{"list"},
		Short:   "List templates",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cc := mustCLIContext(cmd.Context())

			if err := cc.requireLogin(); err != nil {
				return err
			}

			templates, err := cc.Client.ListTemplates(cmd.Context()).Unpack()
			if err != nil {
				return err
			}

			if cc.Flags.JSON {
				return cc.printJSON(templates)
			}

			if len(templates) == 0 {
				cc.Statusf("No templates. Add one with 'mseval template add <file> --name NAME'.\n")
				return nil
			}

			rows := make([][]string, 0, len(templates))
			for i := range templates {
				t := &templates[i]
				rows = append(rows, []string{
					t.ID.String(),
					t.Name,
					label(t.TemplateType),
					templateFlags(t),
					formatTime(t.CreatedAt.Time),
				})
			}

			printTable(cc.Out, []string{"ID", "NAME", "TYPE", "FLAGS", "CREATED"}, rows)

			return nil
		},
	}
}

// templateFlags summarizes the boolean attributes for the table view.
func templateFlags(t *api.Template) string {
	switch {
	case t.IsDefault && !t.IsActive:
		return "default, inactive"
	case t.IsDefault:
		return "default"
	case !t.IsActive:
		return "inactive"
	default:
		return ""
	}
}

func newTemplateShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <template-id>",
		Short: "Show a template",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cc := mustCLIContext(cmd.Context())

			if err := cc.requireLogin(); err != nil {
				return err
			}

			t, err := cc.Client.GetTemplate(cmd.Context(), api.ID(args[0])).Unpack()
			if err != nil {
				return err
			}

			return printTemplate(cc, &t)
		},
	}
}

func printTemplate(cc *CLIContext, t *api.Template) error {
	if cc.Flags.JSON {
		return cc.printJSON(t)
	}

	w := cc.Out
	fmt.Fprintf(w, "Template %s\n", t.ID)
	fmt.Fprintf(w, "  Name:    %s\n", t.Name)

	if t.Description != "" {
		fmt.Fprintf(w, "  About:   %s\n", t.Description)
	}

	fmt.Fprintf(w, "  Type:    %s\n", label(t.TemplateType))

	if t.OriginalFilename != "" {
		fmt.Fprintf(w, "  File:    %s (%s)\n", t.OriginalFilename, formatSize(t.FileSize))
	}

	if f := templateFlags(t); f != "" {
		fmt.Fprintf(w, "  Flags:   %s\n", f)
	}

	fmt.Fprintf(w, "  Created: %s\n", formatTime(t.CreatedAt.Time))

	return nil
}

func newTemplateAddCmd() *cobra.Command {
	var (
		nt        api.NewTemplate
		isDefault bool
	)

	cmd := &cobra.Command{
		Use:   "add <file>",
		Short: "Upload a new template",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cc := mustCLIContext(cmd.Context())

			if err := cc.requireLogin(); err != nil {
				return err
			}

			nt.Path = args[0]
			nt.IsDefault = isDefault

			t, err := cc.Client.CreateTemplate(cmd.Context(), nt).Unpack()
			if err != nil {
				return err
			}

			if cc.Flags.JSON {
				return cc.printJSON(t)
			}

			cc.Statusf("Created template %s (%s).\n", t.ID, t.Name)

			return nil
		},
	}

	cmd.Flags().StringVar(&nt.Name, "name", "", "template name (required)")
	cmd.Flags().StringVar(&nt.Description, "description", "", "description")
	cmd.Flags().StringVar(&nt.TemplateType, "type", "", "template type (default custom)")
	cmd.Flags().BoolVar(&isDefault, "default", false, "make this the default template")

	return cmd
}

func newTemplateUpdateCmd() *cobra.Command {
	var (
		name, description string
		isDefault, active bool
	)

	cmd := &cobra.Command{
		Use:   "update <template-id>",
		Short: "Edit a template's name, description or flags",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cc := mustCLIContext(cmd.Context())

			if err := cc.requireLogin(); err != nil {
				return err
			}

			var update api.TemplateUpdate

			flags := cmd.Flags()
			if flags.Changed("name") {
				update.Name = &name
			}

			if flags.Changed("description") {
				update.Description = &description
			}

			if flags.Changed("default") {
				update.IsDefault = &isDefault
			}

			if flags.Changed("active") {
				update.IsActive = &active
			}

			t, err := cc.Client.UpdateTemplate(cmd.Context(), api.ID(args[0]), update).Unpack()
			if err != nil {
				return err
			}

			if cc.Flags.JSON {
				return cc.printJSON(t)
			}

			cc.Statusf("Updated template %s.\n", t.ID)

			return nil
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "new name")
	cmd.Flags().StringVar(&description, "description", "", "new description")
	cmd.Flags().BoolVar(&isDefault, "default", false, "set or clear the default flag")
	cmd.Flags().BoolVar(&active, "active", true, "set or clear the active flag")

	return cmd
}

func newTemplateRmCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "rm <template-id>",
		Aliases: []string{"delete"},
		Short:   "Delete a template",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cc := mustCLIContext(cmd.Context())

			if err := cc.requireLogin(); err != nil {
				return err
			}

			msg, err := cc.Client.DeleteTemplate(cmd.Context(), api.ID(args[0])).Unpack()
			if err != nil {
				return err
			}

			return cc.acknowledge(msg, "Template deleted.")
		},
	}
}

func newTemplateGetCmd() *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "get <template-id>",
		Short: "Download a template's file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cc := mustCLIContext(cmd.Context())

			if err := cc.requireLogin(); err != nil {
				return err
			}

			dest := output
			if dest == "" {
				dest = cc.Cfg.DownloadDir

				if err := os.MkdirAll(dest, 0o755); err != nil {
					return fmt.Errorf("creating download directory: %w", err)
				}
			}

			saved, err := cc.Client.DownloadTemplate(cmd.Context(), api.ID(args[0]), dest).Unpack()
			if err != nil {
				return err
			}

			if cc.Flags.JSON {
				return cc.printJSON(saved)
			}

			cc.Statusf("Saved %s (%s)\n", saved.Path, formatSize(saved.Bytes))

			return nil
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "", "file or directory to save to (default download.dir)")

	return cmd
}
