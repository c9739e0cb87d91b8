package root

import (
	"fmt"

	app "github.com/glkeru/rewards/internal/app"
	services "github.com/glkeru/rewards/internal/services"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

func newRulesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rules",
		Short: "Inspect and check rules",
	}
	cmd.AddCommand(newRulesListCmd(), newRulesCheckCmd())
	return cmd
}

func newRulesListCmd() *cobra.Command {
	var trigger string
	var all bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "Print rules as YAML",
		RunE: func(cmd *cobra.Command, args []string) error {
			storage, logger, err := openStorage(cmd.Context())
			if err != nil {
				return err
			}
			defer logger.Sync()
			defer storage.Close()

			rules, err := storage.Rules.GetActiveRules(cmd.Context(), trigger)
			if all {
				rules, err = storage.Rules.GetAllRules(cmd.Context())
			}
			if err != nil {
				return err
			}
			enc := yaml.NewEncoder(cmd.OutOrStdout())
			defer enc.Close()
			return enc.Encode(rules)
		},
	}
	cmd.Flags().StringVarP(&trigger, "trigger", "t", "", "only rules for this trigger event")
	cmd.Flags().BoolVarP(&all, "all", "a", false, "include inactive rules")
	return cmd
}

// Проверка правил из файла без записи в хранилище
func newRulesCheckCmd() *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Check rules of a seed file for unknown fields and operators",
		RunE: func(cmd *cobra.Command, args []string) error {
			seed, err := app.LoadSeed(file)
			if err != nil {
				return err
			}
			broken := 0
			for _, rule := range seed.Rules {
				errs := services.CheckRule(rule)
				if len(errs) == 0 {
					fmt.Fprintf(cmd.OutOrStdout(), "ok      %s\n", rule.ID)
					continue
				}
				broken++
				for _, err := range errs {
					fmt.Fprintf(cmd.OutOrStdout(), "broken  %s: %v\n", rule.ID, err)
				}
			}
			if broken > 0 {
				return fmt.Errorf("%d of %d rules have broken conditions", broken, len(seed.Rules))
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "seed YAML file")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}
