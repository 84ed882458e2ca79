package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	apperrors "eventchain/internal/errors"
	"eventchain/internal/journal"
	"eventchain/internal/validation"
	"eventchain/internal/workflow"
	"eventchain/pkg/models"
)

func newAccountsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "accounts",
		Short: "显示当前网络、合约地址和可用账户",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := connect(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			info := a.Workflow.Binding().Info()
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "网络: %s\n合约: %s\n", info.NetworkID, info.Contract)
			for _, acc := range info.KnownAccounts {
				marker := " "
				if acc == info.ActiveAccount {
					marker = "*"
				}
				fmt.Fprintf(out, "%s %s\n", marker, acc)
			}
			return nil
		},
	}
}

func newEventsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "events",
		Short: "活动管理",
	}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "列举全部活动",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := connect(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			events, err := a.Workflow.ListEvents(cmd.Context())
			if err != nil {
				if stale := a.Workflow.Events(); len(stale) > 0 {
					fmt.Fprintln(cmd.ErrOrStderr(), "列举失败，以下是上次保存的列表:")
					printEvents(cmd.OutOrStdout(), stale)
				}
				return err
			}
			printEvents(cmd.OutOrStdout(), events)
			return nil
		},
	}

	var (
		name    string
		date    string
		price   string
		tickets uint64
	)
	createCmd := &cobra.Command{
		Use:   "create",
		Short: "创建活动",
		Example: `  eventctl events create --name Gala --date 2033-05-18 --price 0.5 --tickets 10
  eventctl events create --name Gala --date 1999999999 --price 0.5 --tickets 10`,
		RunE: func(cmd *cobra.Command, args []string) error {
			unix, err := validation.ParseDate(date)
			if err != nil {
				return apperrors.From(apperrors.ErrInvalidInput, err).WithContext("field", "date")
			}

			a, err := connect(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			res, err := a.Workflow.CreateEvent(cmd.Context(), models.CreateEventRequest{
				Name:         name,
				Date:         unix,
				UnitPrice:    price,
				TotalTickets: tickets,
			})
			if err != nil {
				return err
			}
			printWriteResult(cmd, res)
			return nil
		},
	}
	createCmd.Flags().StringVar(&name, "name", "", "活动名称")
	createCmd.Flags().StringVar(&date, "date", "", "活动日期：Unix秒、YYYY-MM-DD或RFC3339")
	createCmd.Flags().StringVar(&price, "price", "", "单价（ether）")
	createCmd.Flags().Uint64Var(&tickets, "tickets", 0, "发行票数")
	for _, f := range []string{"name", "date", "price", "tickets"} {
		createCmd.MarkFlagRequired(f)
	}

	cmd.AddCommand(listCmd, createCmd)
	return cmd
}

func newTicketsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tickets",
		Short: "购票",
	}

	var (
		eventID  uint64
		quantity uint64
	)
	buyCmd := &cobra.Command{
		Use:   "buy",
		Short: "按活动id购票，付款为单价乘数量",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := connect(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			// 活动必须出现在本次列举的结果中
			snapshot, err := a.Workflow.ListEvents(cmd.Context())
			if err != nil {
				return err
			}

			res, err := a.Workflow.BuyTicket(cmd.Context(), models.PurchaseIntent{EventID: eventID, Quantity: quantity}, snapshot)
			if err != nil {
				return err
			}
			printWriteResult(cmd, res)
			return nil
		},
	}
	buyCmd.Flags().Uint64Var(&eventID, "event", 0, "活动id")
	buyCmd.Flags().Uint64Var(&quantity, "quantity", 1, "购买数量")
	buyCmd.MarkFlagRequired("event")

	cmd.AddCommand(buyCmd)
	return cmd
}

func newWatchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "持续显示活动列表，合约日志或轮询触发刷新",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := connect(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			go a.MonitorConnection(ctx, a.Config.Workflow.WatchPoll())

			out := cmd.OutOrStdout()
			return a.Workflow.Watch(ctx, func(events []*models.EventRecord) {
				fmt.Fprintf(out, "\n[%s] %d 个活动\n", time.Now().Format("15:04:05"), len(events))
				printEvents(out, events)
			})
		},
	}
}

func newHistoryCmd() *cobra.Command {
	var (
		kind    string
		eventID int64
		limit   int
	)
	cmd := &cobra.Command{
		Use:   "history",
		Short: "查看本地记录的创建和购票操作",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadConfig()
			if err != nil {
				return err
			}
			if cfg.Journal == nil || !cfg.Journal.Enabled {
				return errors.New("操作记录未启用")
			}

			store, err := journal.NewStore(cfg.Journal.Path, logger)
			if err != nil {
				return err
			}
			defer store.Close()

			filter := journal.Filter{Kind: models.ActivityKind(kind), Limit: limit}
			if eventID >= 0 {
				id := uint64(eventID)
				filter.EventID = &id
			}
			activities, err := store.History(filter)
			if err != nil {
				return err
			}
			printActivities(cmd.OutOrStdout(), activities)
			return nil
		},
	}
	cmd.Flags().StringVar(&kind, "kind", "", "操作类型: create_event 或 buy_ticket")
	cmd.Flags().Int64Var(&eventID, "event", -1, "只显示该活动的记录")
	cmd.Flags().IntVar(&limit, "limit", 20, "最多显示条数，0表示全部")
	return cmd
}

func printEvents(out io.Writer, events []*models.EventRecord) {
	if len(events) == 0 {
		fmt.Fprintln(out, "暂无活动")
		return
	}
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\t名称\t日期\t单价(ETH)\t剩余/总数")
	for _, e := range events {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%d/%d\n",
			e.ID, e.Name, e.DateTime().Format("2006-01-02 15:04"), e.PriceEther(), e.TicketsRemaining, e.TicketCount)
	}
	tw.Flush()
}

func printActivities(out io.Writer, activities []*models.Activity) {
	if len(activities) == 0 {
		fmt.Fprintln(out, "暂无记录")
		return
	}
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "时间\t类型\t状态\t活动\t数量\t交易")
	for _, a := range activities {
		event := "-"
		if a.EventID != nil {
			event = fmt.Sprint(*a.EventID)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%s\n",
			a.Timestamp.Local().Format("2006-01-02 15:04:05"), a.Kind, a.Status, event, a.Quantity, a.TxHash)
	}
	tw.Flush()
}

func printWriteResult(cmd *cobra.Command, res *workflow.WriteResult) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "交易已确认: %s (区块 %d, gas %d)\n", res.Activity.TxHash, res.Activity.Block, res.Activity.GasUsed)
	if res.RelistError != nil {
		fmt.Fprintf(cmd.ErrOrStderr(), "重新列举失败: %v\n", res.RelistError)
		return
	}
	printEvents(out, res.Events)
}
