package main

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/cardiopredict/riskdash/internal/domain/prediction"
	"github.com/cardiopredict/riskdash/pkg/util"
)

func newPredictCmd() *cobra.Command {
	var (
		input               prediction.PredictionInput
		gender              string
		height, weight, bmi float64
		familyHistory       bool
	)
	cmd := &cobra.Command{
		Use:   "predict",
		Short: "Score one patient against the remote model and store the result",
		RunE: withEnv(func(cmd *cobra.Command, _ []string, e *env) error {
			input.Gender = prediction.Gender(gender)
			flags := cmd.Flags()
			if flags.Changed("height") {
				input.Height = &height
			}
			if flags.Changed("weight") {
				input.Weight = &weight
			}
			if flags.Changed("bmi") {
				input.BMI = &bmi
			}
			if flags.Changed("family-history") {
				input.FamilyHistory = &familyHistory
			}
			if err := input.Validate(); err != nil {
				return err
			}

			svc, err := e.predictor()
			if err != nil {
				return err
			}
			result, err := svc.Predict(cmd.Context(), input)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), result)
		}),
	}
	f := cmd.Flags()
	f.IntVar(&input.Age, "age", 0, "Age in years (18-120)")
	f.StringVar(&gender, "gender", "", "male, female or other")
	f.Float64Var(&input.Cholesterol, "cholesterol", 0, "Total cholesterol in mg/dL")
	f.IntVar(&input.BloodPressureSystolic, "systolic", 0, "Systolic blood pressure in mmHg")
	f.IntVar(&input.BloodPressureDiastolic, "diastolic", 0, "Diastolic blood pressure in mmHg")
	f.BoolVar(&input.Smoking, "smoking", false, "Current smoker")
	f.BoolVar(&input.Diabetes, "diabetes", false, "Diagnosed diabetes")
	f.Float64Var(&height, "height", 0, "Height in cm")
	f.Float64Var(&weight, "weight", 0, "Weight in kg")
	f.Float64Var(&bmi, "bmi", 0, "Body mass index")
	f.BoolVar(&familyHistory, "family-history", false, "Family history of heart disease")
	_ = cmd.MarkFlagRequired("age")
	_ = cmd.MarkFlagRequired("gender")
	_ = cmd.MarkFlagRequired("cholesterol")
	_ = cmd.MarkFlagRequired("systolic")
	_ = cmd.MarkFlagRequired("diastolic")
	return cmd
}

func newHistoryCmd() *cobra.Command {
	var (
		level       string
		page, limit int
		asJSON      bool
	)
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List stored predictions, newest first",
		RunE: withEnv(func(cmd *cobra.Command, _ []string, e *env) error {
			riskLevel, err := prediction.ParseRiskLevel(level)
			if err != nil {
				return err
			}
			result, err := e.history.List(cmd.Context(), prediction.HistoryFilters{RiskLevel: riskLevel, Page: page, Limit: limit})
			if err != nil {
				return err
			}
			if asJSON {
				return printJSON(cmd.OutOrStdout(), result)
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tDATE\tAGE\tGENDER\tSCORE\tLEVEL")
			for _, r := range result.Data {
				fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%d\t%s\n", r.ID, util.LocaleDate(r.CreatedAt), r.Input.Age, r.Input.Gender, r.RiskScore, r.RiskLevel)
			}
			fmt.Fprintf(tw, "\npage %d, %d of %d\n", result.Page, len(result.Data), result.Total)
			return tw.Flush()
		}),
	}
	f := cmd.Flags()
	f.StringVar(&level, "risk-level", "", "Filter by level: low, medium, high or all")
	f.IntVar(&page, "page", 1, "Page number, starting at 1")
	f.IntVar(&limit, "limit", 10, "Records per page")
	f.BoolVar(&asJSON, "json", false, "Print the page as JSON")
	return cmd
}

func newShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Print one stored prediction",
		Args:  cobra.ExactArgs(1),
		RunE: withEnv(func(cmd *cobra.Command, args []string, e *env) error {
			record, err := e.history.Get(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), record)
		}),
	}
}

func newDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete one stored prediction",
		Args:  cobra.ExactArgs(1),
		RunE: withEnv(func(cmd *cobra.Command, args []string, e *env) error {
			return e.history.Delete(cmd.Context(), args[0])
		}),
	}
}

func newClearCmd() *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Delete every stored prediction",
		RunE: withEnv(func(cmd *cobra.Command, _ []string, e *env) error {
			if !yes {
				return fmt.Errorf("refusing to clear history without --yes")
			}
			return e.history.Clear(cmd.Context())
		}),
	}
	cmd.Flags().BoolVar(&yes, "yes", false, "Confirm clearing the whole history")
	return cmd
}

func newExportCmd() *cobra.Command {
	var format, out string
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export the whole history as CSV or JSON",
		RunE: withEnv(func(cmd *cobra.Command, _ []string, e *env) error {
			blob, err := e.history.Export(cmd.Context(), prediction.ExportFormat(format))
			if err != nil {
				return err
			}
			if out == "" || out == "-" {
				_, err = cmd.OutOrStdout().Write(blob.Data)
				return err
			}
			if err := os.WriteFile(out, blob.Data, 0o644); err != nil {
				return fmt.Errorf("write export: %w", err)
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "wrote %d bytes to %s\n", len(blob.Data), out)
			return nil
		}),
	}
	cmd.Flags().StringVar(&format, "format", string(prediction.ExportCSV), "csv or json")
	cmd.Flags().StringVarP(&out, "output", "o", "", "Output file (default: stdout)")
	return cmd
}

func newSettingsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "settings",
		Short: "Read and write dashboard settings",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "get <key>",
			Short: "Print a setting value",
			Args:  cobra.ExactArgs(1),
			RunE: withEnv(func(cmd *cobra.Command, args []string, e *env) error {
				value, err := e.history.GetSetting(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), value)
			}),
		},
		&cobra.Command{
			Use:   "set <key> <json>",
			Short: "Store a JSON setting value",
			Args:  cobra.ExactArgs(2),
			RunE: withEnv(func(cmd *cobra.Command, args []string, e *env) error {
				return e.history.PutSetting(cmd.Context(), args[0], json.RawMessage(args[1]))
			}),
		},
	)
	return cmd
}

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Move legacy flat-list history into the primary store",
		RunE: withEnv(func(cmd *cobra.Command, _ []string, e *env) error {
			report, err := e.store.Migrate(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), report)
		}),
	}
}

func newBackendCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "backend",
		Short: "Show which store backend is active",
		RunE: withEnv(func(cmd *cobra.Command, _ []string, e *env) error {
			return printJSON(cmd.OutOrStdout(), e.history.Status())
		}),
	}
}
