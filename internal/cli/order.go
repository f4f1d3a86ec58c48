package cli

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

// NewOrderCmd создаёт группу команд для управления заказами.
func NewOrderCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "order",
		Short: "Manage orders",
	}

	cmd.AddCommand(
		newOrderListCmd(clientFn, outputFn),
		newOrderSubmitCmd(clientFn, outputFn),
		newOrderShowCmd(clientFn, outputFn),
		newOrderProgressCmd(clientFn, outputFn),
		newOrderEventsCmd(clientFn, outputFn),
		newOrderCancelCmd(clientFn, outputFn),
		newOrderWatchCmd(clientFn, outputFn),
	)

	return cmd
}

var orderHeaders = []string{"ID", "TARGET", "STATUS", "CONFIRMED", "QUANTITY", "PERCENT", "CREATED"}

func orderRow(o OrderResponse) []string {
	return []string{
		o.ID,
		o.Target,
		o.Status,
		strconv.Itoa(o.Confirmed),
		strconv.Itoa(o.Quantity),
		formatPercent(o.Percent),
		o.CreatedAt,
	}
}

func formatPercent(p float64) string {
	return strconv.FormatFloat(p, 'f', 1, 64) + "%"
}

func newOrderListCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var opts ListOrdersOpts

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List orders",
		RunE: func(cmd *cobra.Command, args []string) error {
			orders, err := clientFn().ListOrders(opts)
			if err != nil {
				return err
			}

			rows := make([][]string, len(orders))
			for i, o := range orders {
				rows[i] = orderRow(o)
			}

			return outputFn().Print(Table{orderHeaders, rows}, orders)
		},
	}

	cmd.Flags().StringVar(&opts.Status, "status", "", "Filter by status (PENDING, DISPATCHING, COMPLETED, FAILED, CANCELLED)")
	cmd.Flags().IntVar(&opts.Limit, "limit", 0, "Maximum number of results")
	cmd.Flags().IntVar(&opts.Offset, "offset", 0, "Number of results to skip")

	return cmd
}

func newOrderSubmitCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var req CreateOrderRequest
	var amqpURL string

	cmd := &cobra.Command{
		Use:   "submit TARGET QUANTITY",
		Short: "Submit a new order",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := outputFn()

			qty, err := strconv.Atoi(args[1])
			if err != nil || qty <= 0 {
				return fmt.Errorf("invalid quantity %q, expected positive integer", args[1])
			}
			req.Target = args[0]
			req.Quantity = qty

			if amqpURL != "" {
				if err := publishOrder(cmd.Context(), amqpURL, req); err != nil {
					return err
				}
				out.Infof("Order published to %s", redactURL(amqpURL))
				return nil
			}

			order, err := clientFn().CreateOrder(req)
			if err != nil {
				return err
			}

			out.Infof("Order submitted: %s", order.ID)
			return out.Print(Table{orderHeaders, [][]string{orderRow(*order)}}, order)
		},
	}

	cmd.Flags().StringSliceVar(&req.Backends, "backend", nil, "Allowed backends in priority order (repeatable, all if empty)")
	cmd.Flags().StringVar(&req.Priority, "priority", "", "Order priority (normal, high)")
	cmd.Flags().StringVar(&amqpURL, "amqp-url", "", "Publish to RabbitMQ instead of calling the API")

	return cmd
}

func newOrderShowCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "show ID",
		Short: "Show order details",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := outputFn()

			order, err := clientFn().GetOrder(args[0])
			if err != nil {
				return err
			}

			if out.jsonMode {
				return out.JSON(order)
			}

			err = out.Table(Table{
				Headers: []string{"ID", "TARGET", "STATUS", "SENT", "CONFIRMED", "QUANTITY", "ERROR"},
				Rows: [][]string{{
					order.ID, order.Target, order.Status,
					strconv.Itoa(order.Sent), strconv.Itoa(order.Confirmed), strconv.Itoa(order.Quantity),
					order.Error,
				}},
			})
			if err != nil {
				return err
			}
			return printMethods(out, order.Methods)
		},
	}
}

func printMethods(out *Output, methods []BackendSummary) error {
	if len(methods) == 0 {
		return nil
	}

	fmt.Fprintln(out.w)
	rows := make([][]string, len(methods))
	for i, m := range methods {
		rows[i] = []string{
			m.Backend, m.State,
			strconv.Itoa(m.Tasks), strconv.Itoa(m.Attempted), strconv.Itoa(m.Confirmed),
			strconv.Itoa(m.Retryable), strconv.Itoa(m.Fatal),
		}
	}
	return out.Table(Table{[]string{"BACKEND", "STATE", "TASKS", "ATTEMPTED", "CONFIRMED", "RETRYABLE", "FATAL"}, rows})
}

func newOrderProgressCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "progress ID",
		Short: "Show order progress",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := clientFn().GetProgress(args[0])
			if err != nil {
				return err
			}
			return printProgress(outputFn(), p)
		},
	}
}

func printProgress(out *Output, p *ProgressResponse) error {
	seq := ""
	if p.Latest != nil {
		seq = strconv.Itoa(p.Latest.Seq)
	}
	return out.Print(Table{
		Headers: []string{"ORDER_ID", "STATUS", "SENT", "CONFIRMED", "QUANTITY", "PERCENT", "SEQ"},
		Rows: [][]string{{
			p.OrderID, p.Status,
			strconv.Itoa(p.Sent), strconv.Itoa(p.Confirmed), strconv.Itoa(p.Quantity),
			formatPercent(p.Percent), seq,
		}},
	}, p)
}

func newOrderEventsCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "events ID",
		Short: "List order progress events",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			events, err := clientFn().ListEvents(args[0], limit)
			if err != nil {
				return err
			}

			rows := make([][]string, len(events))
			for i, e := range events {
				event, _ := e.Detail["event"].(string)
				backend, _ := e.Detail["backend"].(string)
				rows[i] = []string{
					strconv.Itoa(e.Seq), e.Status, event, backend,
					strconv.Itoa(e.Confirmed), formatPercent(e.Percent), e.CreatedAt,
				}
			}

			return outputFn().Print(Table{[]string{"SEQ", "STATUS", "EVENT", "BACKEND", "CONFIRMED", "PERCENT", "CREATED"}, rows}, events)
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 50, "Number of latest events")

	return cmd
}

func newOrderCancelCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel ID",
		Short: "Cancel an active order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			order, err := clientFn().CancelOrder(args[0])
			if err != nil {
				return err
			}

			outputFn().Infof("Order cancelled: %s (confirmed %d of %d)", order.ID, order.Confirmed, order.Quantity)
			return nil
		},
	}
}

func newOrderWatchCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var interval time.Duration

	cmd := &cobra.Command{
		Use:   "watch ID",
		Short: "Poll order progress until it finishes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return watchOrder(cmd.Context(), clientFn(), outputFn(), args[0], interval)
		},
	}

	cmd.Flags().DurationVar(&interval, "interval", 2*time.Second, "Polling interval")

	return cmd
}

// watchOrder печатает прогресс при каждом новом событии, пока заказ не завершится.
func watchOrder(ctx context.Context, client *Client, out *Output, id string, interval time.Duration) error {
	if ctx == nil {
		ctx = context.Background()
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	lastSeq := -1
	for {
		p, err := client.GetProgress(id)
		if err != nil {
			return err
		}

		seq := 0
		if p.Latest != nil {
			seq = p.Latest.Seq
		}
		if seq != lastSeq {
			lastSeq = seq
			if err := printProgress(out, p); err != nil {
				return err
			}
		}

		if isFinished(p.Status) {
			if p.Error != "" {
				out.Errorf("%s", p.Error)
			}
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func isFinished(status string) bool {
	switch strings.ToUpper(status) {
	case "COMPLETED", "FAILED", "CANCELLED":
		return true
	default:
		return false
	}
}
