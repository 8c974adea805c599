package main

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/MarkoPoloResearchLab/creditwallet/internal/grpcserver"
	"github.com/spf13/cobra"
)

const (
	flagAdminAddr       = "addr"
	flagAdminTimeout    = "timeout"
	flagAdminAmount     = "amount"
	flagAdminReason     = "reason"
	flagAdminAdjustedBy = "adjusted-by"
	flagAdminLimit      = "limit"
	flagAdminOffset     = "offset"
	flagAdminType       = "type"
	defaultAdminAddr    = "localhost:7070"
	defaultAdminTimeout = 5 * time.Second
)

func newAdminCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "admin",
		Short: "Call the wallet admin gRPC service",
	}
	cmd.PersistentFlags().String(flagAdminAddr, defaultAdminAddr, "walletd gRPC address")
	cmd.PersistentFlags().Duration(flagAdminTimeout, defaultAdminTimeout, "call deadline")

	balance := &cobra.Command{
		Use:   "balance <user-id>",
		Short: "Show a wallet balance",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return adminCall(cmd, grpcserver.MethodGetBalance, map[string]any{"userId": args[0]})
		},
	}

	grant := &cobra.Command{
		Use:   "grant <user-id>",
		Short: "Add credits to a wallet",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			amount, _ := cmd.Flags().GetInt64(flagAdminAmount)
			reason, _ := cmd.Flags().GetString(flagAdminReason)
			adjustedBy, _ := cmd.Flags().GetString(flagAdminAdjustedBy)
			return adminCall(cmd, grpcserver.MethodAddCredits, map[string]any{
				"userId":     args[0],
				"amount":     amount,
				"reason":     reason,
				"adjustedBy": adjustedBy,
			})
		},
	}
	grant.Flags().Int64(flagAdminAmount, 0, "credits to add")
	grant.Flags().String(flagAdminReason, "", "reason recorded on the transaction")
	grant.Flags().String(flagAdminAdjustedBy, "", "operator performing the adjustment")

	deduct := &cobra.Command{
		Use:   "deduct <user-id>",
		Short: "Deduct credits from a wallet",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			amount, _ := cmd.Flags().GetInt64(flagAdminAmount)
			reason, _ := cmd.Flags().GetString(flagAdminReason)
			return adminCall(cmd, grpcserver.MethodDeductCredits, map[string]any{
				"userId": args[0],
				"amount": amount,
				"reason": reason,
			})
		},
	}
	deduct.Flags().Int64(flagAdminAmount, 0, "credits to deduct")
	deduct.Flags().String(flagAdminReason, "", "reason recorded on the transaction")

	history := &cobra.Command{
		Use:   "transactions <user-id>",
		Short: "List wallet transactions, newest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			limit, _ := cmd.Flags().GetInt(flagAdminLimit)
			offset, _ := cmd.Flags().GetInt(flagAdminOffset)
			transactionType, _ := cmd.Flags().GetString(flagAdminType)
			return adminCall(cmd, grpcserver.MethodListTransactions, map[string]any{
				"userId": args[0],
				"limit":  limit,
				"offset": offset,
				"type":   strings.ToUpper(transactionType),
			})
		},
	}
	history.Flags().Int(flagAdminLimit, 20, "page size")
	history.Flags().Int(flagAdminOffset, 0, "page offset")
	history.Flags().String(flagAdminType, "", "CREDIT or DEBIT")

	cmd.AddCommand(balance, grant, deduct, history)
	return cmd
}

func adminCall(cmd *cobra.Command, method string, fields map[string]any) error {
	v := newViper()
	if err := v.BindPFlag(flagAdminAddr, cmd.Flags().Lookup(flagAdminAddr)); err != nil {
		return err
	}
	if err := v.BindPFlag(flagAdminTimeout, cmd.Flags().Lookup(flagAdminTimeout)); err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(cmd.Context(), v.GetDuration(flagAdminTimeout))
	defer cancel()

	conn, err := grpcserver.Dial(ctx, v.GetString(flagAdminAddr))
	if err != nil {
		return err
	}
	defer func() { _ = conn.Close() }()

	response, err := grpcserver.NewClient(conn).Call(ctx, method, fields)
	if err != nil {
		return fmt.Errorf("%s: %w", method, err)
	}
	encoder := json.NewEncoder(cmd.OutOrStdout())
	encoder.SetIndent("", "  ")
	return encoder.Encode(response)
}
