package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/frahmantamala/pix-payments/internal"
	"github.com/frahmantamala/pix-payments/internal/core/events"
	"github.com/frahmantamala/pix-payments/internal/payment"
	"github.com/frahmantamala/pix-payments/internal/paymentgateway"
	"github.com/frahmantamala/pix-payments/pkg/logger"
)

var gatewayCmd = &cobra.Command{
	Use:   "gateway",
	Short: "Operator commands against the payment processor",
}

var gatewayFetchCmd = &cobra.Command{
	Use:   "fetch [payment-id]",
	Short: "Print the processor's authoritative status for a payment",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return fetchPayment(cmd.Context(), args[0])
	},
}

var gatewayReconcileCmd = &cobra.Command{
	Use:   "reconcile [payment-id]",
	Short: "Re-read a payment from the processor and store the result",
	Long:  `Runs the same reconciliation a webhook triggers. Use it when a notification was lost.
Requires a persistent store.driver; the memory driver is refused.`,
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return reconcilePayment(cmd.Context(), args[0])
	},
}

func newGatewayClient(ctx context.Context, cfg *internal.Config) (*paymentgateway.Client, error) {
	if err := cfg.Payment.Validate(); err != nil {
		return nil, fmt.Errorf("payment config: %w", err)
	}
	token, err := resolveAccessToken(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return paymentgateway.NewClient(paymentgateway.Config{
		APIURL:         cfg.Payment.APIURL,
		AccessToken:    token,
		PaymentTimeout: cfg.Payment.Timeout,
	}, logger.LoggerWrapper()), nil
}

func fetchPayment(ctx context.Context, id string) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	client, err := newGatewayClient(ctx, cfg)
	if err != nil {
		return err
	}

	result, err := client.FetchPayment(ctx, id)
	if err != nil {
		return err
	}

	out := map[string]string{
		"id":            result.ID,
		"status":        result.Status,
		"status_detail": result.StatusDetail,
		"mapped_status": string(payment.MapGatewayStatus(result.Status)),
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

func reconcilePayment(ctx context.Context, id string) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	if err := cfg.Store.ValidatePersistent(); err != nil {
		return fmt.Errorf("store config: %w", err)
	}
	log := logger.LoggerWrapper()

	client, err := newGatewayClient(ctx, cfg)
	if err != nil {
		return err
	}
	store, err := openStore(ctx, cfg.Store, log)
	if err != nil {
		return err
	}
	defer store.Close()

	bus := events.NewEventBus(log)
	payment.NewEventHandler(nil, log).RegisterEventHandlers(bus)

	reconciler := payment.NewReconciler(client, store.Store, bus, nil, payment.Config{
		WebhookURL: cfg.Payment.WebhookURL,
	}, log)

	record, err := reconciler.Reconcile(ctx, id, events.SourceReconcile)
	bus.Wait()
	if err != nil {
		return err
	}

	fmt.Printf("%s %s (%s)\n", record.ID, record.Status, record.StatusDetail)
	return nil
}

func init() {
	gatewayCmd.AddCommand(gatewayFetchCmd)
	gatewayCmd.AddCommand(gatewayReconcileCmd)
}
