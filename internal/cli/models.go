// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// models.go - Provider and model listing, default model selection.

package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ckt1031/simple-chat/internal/model"
)

func modelsCmd(s *session) *cobra.Command {
	var remote bool
	cmd := &cobra.Command{
		Use:     "models [provider]",
		Aliases: []string{"model", "m"},
		Short:   "List configured providers and their models",
		Long: `List configured providers and their models.

With --remote each enabled provider is asked which models it offers.

Examples:
  simple-chat models
  simple-chat models ollama --remote
  simple-chat models default openai/gpt-4o-mini`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := s.open(ctx)
			if err != nil {
				return err
			}
			settings := a.Settings(ctx)

			type entry struct {
				Provider string   `json:"provider"`
				Enabled  bool     `json:"enabled"`
				BaseURL  string   `json:"base_url"`
				Models   []string `json:"models"`
				Error    string   `json:"error,omitempty"`
			}
			var out []entry
			for _, p := range settings.Providers {
				if len(args) == 1 && p.ID() != args[0] {
					continue
				}
				e := entry{Provider: p.ID(), Enabled: p.Enabled(), BaseURL: p.BaseURL(), Models: p.Models()}
				if remote && p.Enabled() {
					names, err := a.ListModels(ctx, p)
					if err != nil {
						e.Error = err.Error()
					} else {
						e.Models = names
					}
				}
				out = append(out, e)
			}
			if len(args) == 1 && len(out) == 0 {
				return &NotFoundError{Resource: "provider", ID: args[0]}
			}

			var def string
			if settings.Preferences.DefaultModel != nil {
				def = settings.Preferences.DefaultModel.String()
			}
			return s.emit("models", map[string]any{"default": def, "providers": out}, func() {
				for _, e := range out {
					status := SuccessStyle.Render("enabled")
					if !e.Enabled {
						status = DimStyle.Render("disabled")
					}
					fmt.Fprintf(s.out, "%s %s %s\n", TitleStyle.Render(e.Provider), status, DimStyle.Render(e.BaseURL))
					if e.Error != "" {
						fmt.Fprintf(s.out, "  %s %s\n", ErrorStyle.Render("error:"), e.Error)
					}
					for _, m := range e.Models {
						marker := "  "
						if e.Provider+"/"+m == def {
							marker = SuccessStyle.Render("* ")
						}
						fmt.Fprintf(s.out, "  %s%s\n", marker, m)
					}
				}
			})
		},
	}
	cmd.Flags().BoolVar(&remote, "remote", false, "ask each provider for its models")
	cmd.AddCommand(modelsDefaultCmd(s))
	return cmd
}

func modelsDefaultCmd(s *session) *cobra.Command {
	return &cobra.Command{
		Use:   "default <provider/model>",
		Short: "Set the model used for new conversations",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			ref, err := model.ParseModelRef(strings.TrimSpace(args[0]))
			if err != nil {
				return &UsageError{Reason: err.Error()}
			}
			a, err := s.open(ctx)
			if err != nil {
				return err
			}
			settings := a.Settings(ctx)
			if _, ok := settings.Provider(ref.ProviderID); !ok {
				return &NotFoundError{Resource: "provider", ID: ref.ProviderID}
			}
			settings.Preferences.DefaultModel = &ref
			if err := a.SaveSettings(ctx, settings); err != nil {
				return err
			}
			return s.emit("models default", ref, func() {
				fmt.Fprintf(s.out, "%s Default model is %s\n", SuccessStyle.Render("✓"), ref)
			})
		},
	}
}
