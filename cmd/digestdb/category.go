package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"digestdb/internal/config"
	"digestdb/internal/engine"
	"digestdb/internal/errs"
	"digestdb/internal/models"
	"digestdb/internal/store"
)

func newCategoryCmd(cfg *config.Config, jsonOutput *bool) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "category",
		Short: "Manage categories",
	}

	cmd.AddCommand(
		newCategoryAddCmd(cfg, jsonOutput),
		newCategoryGetCmd(cfg, jsonOutput),
		newCategoryListCmd(cfg, jsonOutput),
		newCategoryDeleteCmd(cfg, jsonOutput),
		newCategoryImportCmd(cfg, jsonOutput),
	)
	return cmd
}

func newCategoryAddCmd(cfg *config.Config, jsonOutput *bool) *cobra.Command {
	var description string

	cmd := &cobra.Command{
		Use:   "add <label>",
		Short: "Register a category",
		Args:  requireExactlyArgs(1, "label is required"),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd, cfg, func(ctx context.Context, eng *engine.Engine) error {
				if err := eng.PutCategory(ctx, args[0], description); err != nil {
					return err
				}
				category, err := eng.GetCategory(ctx, args[0])
				if err != nil {
					return err
				}
				if *jsonOutput {
					return writeStructured(category)
				}
				return writePlain("added category %s\n", category.Label)
			})
		},
	}

	cmd.Flags().StringVarP(&description, "description", "d", "", "category description")
	return cmd
}

func newCategoryGetCmd(cfg *config.Config, jsonOutput *bool) *cobra.Command {
	return &cobra.Command{
		Use:   "get <label>",
		Short: "Show a category",
		Args:  requireExactlyArgs(1, "label is required"),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd, cfg, func(ctx context.Context, eng *engine.Engine) error {
				category, err := eng.GetCategory(ctx, args[0])
				if err != nil {
					return err
				}
				if *jsonOutput {
					return writeStructured(category)
				}
				return writePlain("%s\t%s\n", category.Label, category.Description)
			})
		},
	}
}

func newCategoryListCmd(cfg *config.Config, jsonOutput *bool) *cobra.Command {
	var filter store.CategoryFilter

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List categories",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd, cfg, func(ctx context.Context, eng *engine.Engine) error {
				categories, err := eng.QueryCategories(ctx, filter)
				if err != nil {
					return err
				}
				if *jsonOutput {
					return writeStructured(categories)
				}
				for _, category := range categories {
					if err := writePlain("%s\t%s\n", category.Label, category.Description); err != nil {
						return err
					}
				}
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&filter.Label, "label", "", "exact label")
	cmd.Flags().StringVar(&filter.DescriptionContains, "contains", "", "description substring")
	return cmd
}

func newCategoryDeleteCmd(cfg *config.Config, jsonOutput *bool) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <label>",
		Short: "Delete a category using category_delete_policy",
		Args:  requireExactlyArgs(1, "label is required"),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd, cfg, func(ctx context.Context, eng *engine.Engine) error {
				removed, err := eng.DeleteCategory(ctx, args[0])
				if err != nil {
					return err
				}
				if *jsonOutput {
					return writeStructured(map[string]any{"label": args[0], "removed": removed})
				}
				return writePlain("deleted category %s (%d blobs removed)\n", args[0], len(removed))
			})
		},
	}
}

// categoryManifest is the YAML document read by category import.
type categoryManifest struct {
	Categories []models.Category `yaml:"categories"`
}

type importResult struct {
	Added   []string `json:"added" yaml:"added"`
	Skipped []string `json:"skipped" yaml:"skipped"`
}

func newCategoryImportCmd(cfg *config.Config, jsonOutput *bool) *cobra.Command {
	return &cobra.Command{
		Use:   "import <manifest.yaml>",
		Short: "Register categories from a YAML manifest",
		Args:  requireExactlyArgs(1, "manifest path is required"),
		RunE: func(cmd *cobra.Command, args []string) error {
			manifest, err := readCategoryManifest(args[0])
			if err != nil {
				return err
			}
			return withEngine(cmd, cfg, func(ctx context.Context, eng *engine.Engine) error {
				result, err := importCategories(ctx, eng, manifest.Categories)
				if err != nil {
					return err
				}
				if *jsonOutput {
					return writeStructured(result)
				}
				return writePlain("added %d categories, skipped %d existing\n", len(result.Added), len(result.Skipped))
			})
		},
	}
}

func readCategoryManifest(path string) (*categoryManifest, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: manifest %s", errs.ErrNotFound, path)
		}
		return nil, err
	}
	var manifest categoryManifest
	if err := yaml.Unmarshal(raw, &manifest); err != nil {
		return nil, fmt.Errorf("%w: parse manifest %s: %w", errs.ErrInvalidInput, path, err)
	}
	if len(manifest.Categories) == 0 {
		return nil, fmt.Errorf("%w: manifest %s lists no categories", errs.ErrInvalidInput, path)
	}
	return &manifest, nil
}

// importCategories adds each category in order. Labels that already exist
// are skipped, not updated.
func importCategories(ctx context.Context, eng *engine.Engine, categories []models.Category) (*importResult, error) {
	result := &importResult{Added: []string{}, Skipped: []string{}}
	for _, category := range categories {
		err := eng.PutCategory(ctx, category.Label, category.Description)
		switch {
		case err == nil:
			result.Added = append(result.Added, category.Label)
		case errors.Is(err, errs.ErrAlreadyExists):
			result.Skipped = append(result.Skipped, category.Label)
		default:
			return nil, fmt.Errorf("import %q: %w", category.Label, err)
		}
	}
	return result, nil
}
