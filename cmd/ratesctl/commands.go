package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"stayhub/internal/app"
	"stayhub/internal/domain"
)

func showCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Print the current rate table",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := app.NewDiscountAdmin(c.stores.Discounts).Current(cmd.Context())
			if err != nil {
				return err
			}
			asJSON, _ := cmd.Flags().GetBool("json")
			return printDiscounts(cmd.OutOrStdout(), cfg, asJSON)
		},
	}
	cmd.Flags().BoolP("json", "j", false, "Output as JSON")
	return cmd
}

func setCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "set [propertyId] <rate>",
		Short: "Set one property's rate, or the default with --default",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			isDefault, _ := cmd.Flags().GetBool("default")
			var id, raw string
			switch {
			case isDefault && len(args) == 1:
				raw = args[0]
			case !isDefault && len(args) == 2:
				id, raw = args[0], args[1]
			default:
				return fmt.Errorf("usage: set <propertyId> <rate> | set --default <rate>")
			}
			rate, err := strconv.ParseFloat(raw, 64)
			if err != nil || !domain.ValidRate(rate) {
				return fmt.Errorf("rate %q must be a number within [0,1]", raw)
			}
			cfg, err := app.NewDiscountAdmin(c.stores.Discounts).SetRate(cmd.Context(), id, rate)
			if err != nil {
				return err
			}
			target := id
			if target == "" {
				target = "default"
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s -> %v (version %d)\n", target, rate, cfg.Version)
			return nil
		},
	}
	cmd.Flags().Bool("default", false, "Set the default rate")
	return cmd
}

func importCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "import <file.yaml>",
		Short: "Replace the rate table with a YAML file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			next, err := app.LoadDiscountsFile(args[0])
			if err != nil {
				return err
			}
			admin := app.NewDiscountAdmin(c.stores.Discounts)
			if seedOnly, _ := cmd.Flags().GetBool("seed"); seedOnly {
				applied, err := admin.SeedDiscounts(cmd.Context(), next)
				if err != nil {
					return err
				}
				if !applied {
					fmt.Fprintln(cmd.OutOrStdout(), "rate table already set; nothing imported")
					return nil
				}
				fmt.Fprintln(cmd.OutOrStdout(), "seeded rate table")
				return nil
			}
			cur, err := admin.Current(cmd.Context())
			if err != nil {
				return err
			}
			out, err := admin.Update(cmd.Context(), next, cur.Version)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "imported %d overrides (version %d)\n", len(out.Overrides), out.Version)
			return nil
		},
	}
	cmd.Flags().Bool("seed", false, "Only import when the table has never been written")
	return cmd
}

func propertiesCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "properties",
		Short: "Manage the property catalog",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "import <file.yaml>",
		Short: "Upsert properties from a YAML list",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ps, err := app.LoadPropertiesFile(args[0])
			if err != nil {
				return err
			}
			n, err := app.ImportProperties(cmd.Context(), c.stores.Writer, c.domainCache(), ps)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "imported %d properties\n", n)
			return nil
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "get <propertyId>",
		Short: "Print one property with its effective rate",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := c.stores.Catalog.GetProperty(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			rate := app.NewRateResolver(c.stores.Discounts).Resolve(cmd.Context(), p.ID)
			fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\t%s\t%d\trate=%v\tdiscounted=%d\n",
				p.ID, p.Name, p.City, p.BasePriceNGN, rate, app.DiscountedTotal(p.BasePriceNGN, rate))
			return nil
		},
	})
	return cmd
}

func printDiscounts(w io.Writer, cfg domain.DiscountConfig, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(cfg)
	}
	fmt.Fprintf(w, "# version %d", cfg.Version)
	if !cfg.UpdatedAt.IsZero() {
		fmt.Fprintf(w, ", updated %s", cfg.UpdatedAt.UTC().Format("2006-01-02T15:04:05Z"))
	}
	fmt.Fprintln(w)

	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(cfg); err != nil {
		return err
	}
	return enc.Close()
}
