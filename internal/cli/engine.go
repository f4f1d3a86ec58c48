package cli

import (
	"strconv"

	"github.com/spf13/cobra"
)

// NewBackendCmd создаёт группу команд для просмотра backend'ов.
func NewBackendCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "backend",
		Short: "Inspect delivery backends",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List backends in priority order",
		RunE: func(cmd *cobra.Command, args []string) error {
			backends, err := clientFn().ListBackends()
			if err != nil {
				return err
			}

			rows := make([][]string, len(backends))
			for i, b := range backends {
				rate := "-"
				if b.SuccessRate != nil {
					rate = formatPercent(*b.SuccessRate * 100)
				}
				rows[i] = []string{
					b.Name, b.Kind, strconv.Itoa(b.Priority),
					strconv.Itoa(b.InUse) + "/" + strconv.Itoa(b.MaxConcurrency),
					strconv.Itoa(b.MaxBatchSize), rate,
				}
			}

			return outputFn().Print(Table{[]string{"NAME", "KIND", "PRIORITY", "IN_USE", "BATCH", "SUCCESS"}, rows}, backends)
		},
	})

	return cmd
}

// NewPoolCmd создаёт команду просмотра пула ресурсов.
func NewPoolCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "pool",
		Short: "Show resource pool state by scope",
		RunE: func(cmd *cobra.Command, args []string) error {
			scopes, err := clientFn().GetPool()
			if err != nil {
				return err
			}

			rows := make([][]string, len(scopes))
			for i, s := range scopes {
				rows[i] = []string{
					s.Scope, strconv.Itoa(s.Size), strconv.Itoa(s.Leased),
					strconv.Itoa(s.Healthy), strconv.Itoa(s.Degraded), strconv.Itoa(s.Blacklisted),
				}
			}

			return outputFn().Print(Table{[]string{"SCOPE", "SIZE", "LEASED", "HEALTHY", "DEGRADED", "BLACKLISTED"}, rows}, scopes)
		},
	}
}

// NewScheduleCmd создаёт группу команд для повторяющихся заказов.
func NewScheduleCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "schedule",
		Short: "Inspect recurring orders",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List recurring orders",
		RunE: func(cmd *cobra.Command, args []string) error {
			schedules, err := clientFn().ListSchedules()
			if err != nil {
				return err
			}

			rows := make([][]string, len(schedules))
			for i, s := range schedules {
				rows[i] = []string{s.Name, s.Schedule, strconv.FormatBool(!s.Disabled), s.NextDueAt, s.LastOrder, s.LastError}
			}

			return outputFn().Print(Table{[]string{"NAME", "SCHEDULE", "ENABLED", "NEXT_DUE", "LAST_ORDER", "LAST_ERROR"}, rows}, schedules)
		},
	})

	return cmd
}
