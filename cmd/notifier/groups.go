package main

import (
	"fmt"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"bcpea_notifier/internal/filter"
	"bcpea_notifier/internal/model"
)

type groupFlags struct {
	category         string
	court            int
	settlements      string
	excludedTypes    string
	blacklist        string
	titleWords       string
	descriptionWords string
	subscribers      string
}

func (f *groupFlags) register(fs *pflag.FlagSet) {
	fs.StringVar(&f.category, "type", string(model.CategoryProperty), "listing category: property or vehicle")
	fs.IntVar(&f.court, "court", 0, "court code, 0 for all courts")
	fs.StringVar(&f.settlements, "settlements", "", "comma-separated allowed settlements")
	fs.StringVar(&f.excludedTypes, "exclude-types", "", "comma-separated excluded listing types")
	fs.StringVar(&f.blacklist, "blacklist", "", "comma-separated terms rejected in descriptions")
	fs.StringVar(&f.titleWords, "title-words", "", "comma-separated words required in the title")
	fs.StringVar(&f.descriptionWords, "description-words", "", "comma-separated words required in the description")
	fs.StringVar(&f.subscribers, "subscribers", "", "comma-separated subscriber emails")
}

// apply copies the flags that were set on the command line onto g.
func (f *groupFlags) apply(fs *pflag.FlagSet, g *model.FilterGroup) {
	if fs.Changed("type") {
		g.Category = model.Category(strings.ToLower(strings.TrimSpace(f.category)))
	}
	if fs.Changed("court") {
		g.Court = f.court
	}
	lists := []struct {
		flag  string
		value string
		dst   *[]string
	}{
		{"settlements", f.settlements, &g.Rules.Settlements},
		{"exclude-types", f.excludedTypes, &g.Rules.ExcludedTypes},
		{"blacklist", f.blacklist, &g.Rules.BlacklistTerms},
		{"title-words", f.titleWords, &g.Rules.RequiredTitleWords},
		{"description-words", f.descriptionWords, &g.Rules.RequiredDescriptionWords},
		{"subscribers", f.subscribers, &g.Subscribers},
	}
	for _, l := range lists {
		if fs.Changed(l.flag) {
			v := l.value
			*l.dst = filter.ParseList(&v)
		}
	}
}

var (
	addFlags    groupFlags
	updateFlags groupFlags
)

var groupsCmd = &cobra.Command{
	Use:   "groups",
	Short: "Manage filter groups",
}

var groupsAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Create a filter group",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		a, err := setup()
		if err != nil {
			return err
		}
		defer a.close()

		g := &model.FilterGroup{Category: model.CategoryProperty}
		addFlags.apply(cmd.Flags(), g)
		if err := a.store.CreateFilterGroup(cmd.Context(), g); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "filter group %d created\n", g.ID)
		return nil
	},
}

var groupsUpdateCmd = &cobra.Command{
	Use:   "update <id>",
	Short: "Change the rules or subscribers of a filter group",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid filter group id %q: %w", args[0], err)
		}

		a, err := setup()
		if err != nil {
			return err
		}
		defer a.close()

		g, err := a.store.GetFilterGroup(cmd.Context(), id)
		if err != nil {
			return err
		}
		updateFlags.apply(cmd.Flags(), g)
		if err := a.store.UpdateFilterGroup(cmd.Context(), g); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "filter group %d updated\n", g.ID)
		return nil
	},
}

var groupsDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a filter group and its subscriptions",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid filter group id %q: %w", args[0], err)
		}

		a, err := setup()
		if err != nil {
			return err
		}
		defer a.close()

		if err := a.store.DeleteFilterGroup(cmd.Context(), id); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "filter group %d deleted\n", id)
		return nil
	},
}

var groupsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List filter groups",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		a, err := setup()
		if err != nil {
			return err
		}
		defer a.close()

		groups, err := a.store.ListFilterGroups(cmd.Context())
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tTYPE\tCOURT\tSETTLEMENTS\tEXCLUDED\tBLACKLIST\tSUBSCRIBERS")
		for _, g := range groups {
			fmt.Fprintf(w, "%d\t%s\t%d %s\t%s\t%s\t%s\t%s\n",
				g.ID, g.Category, g.Court, a.cfg.Courts[g.Court],
				strings.Join(g.Rules.Settlements, ", "),
				strings.Join(g.Rules.ExcludedTypes, ", "),
				strings.Join(g.Rules.BlacklistTerms, ", "),
				strings.Join(g.Subscribers, ", "))
		}
		return w.Flush()
	},
}

func init() {
	addFlags.register(groupsAddCmd.Flags())
	updateFlags.register(groupsUpdateCmd.Flags())

	groupsCmd.AddCommand(groupsAddCmd, groupsUpdateCmd, groupsDeleteCmd, groupsListCmd)
}
