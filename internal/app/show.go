package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/shopspring/decimal"

	"vault-keeper/internal/oracle"
	"vault-keeper/internal/storage"
)

// Show prints recent vault journal rows, or penalty pools with --penalties.
func (a *App) Show(ctx context.Context, opts ShowOptions) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database not configured; cannot show journal")
	}
	if closeStore != nil {
		defer closeStore()
	}

	if opts.Penalties {
		return a.showPenalties(ctx, store, opts.Limit)
	}
	return a.showVaults(ctx, store, opts.Limit)
}

func (a *App) showVaults(ctx context.Context, store *storage.Store, limit int) error {
	vaults, err := store.ListRecentVaults(ctx, limit)
	if err != nil {
		return err
	}
	if len(vaults) == 0 {
		fmt.Fprintln(os.Stdout, "no vaults found")
		return nil
	}

	writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "ID\tOwner\tAsset\tAmount\tCondition\tUnlock Time (UTC)\tTarget Price\tStatus\tReason")

	for _, v := range vaults {
		unlockTime := "-"
		if !v.UnlockTime.IsZero() {
			unlockTime = v.UnlockTime.UTC().Format(time.RFC3339)
		}
		targetPrice := "-"
		if !v.TargetPrice.IsZero() {
			targetPrice = formatDecimal(v.TargetPrice)
		}
		fmt.Fprintf(
			writer,
			"%d\t%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			v.ID,
			v.Owner,
			v.Asset,
			v.Amount.String(),
			v.Condition.String(),
			unlockTime,
			targetPrice,
			v.Status.String(),
			v.UnlockReason,
		)
	}

	writer.Flush()
	return nil
}

func (a *App) showPenalties(ctx context.Context, store *storage.Store, limit int) error {
	records, err := store.ListPenaltyRecords(ctx, limit)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		fmt.Fprintln(os.Stdout, "no penalty records found")
		return nil
	}

	writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Owner\tPooled Amount\tLast Exit (UTC)\tClaimed")

	for _, rec := range records {
		fmt.Fprintf(
			writer,
			"%s\t%s\t%s\t%t\n",
			rec.Owner,
			rec.Amount.String(),
			rec.PenaltyTime.UTC().Format(time.RFC3339),
			rec.Claimed,
		)
	}

	writer.Flush()
	return nil
}

// formatDecimal renders a canonical 1e-8 price in whole units.
func formatDecimal(d decimal.Decimal) string {
	return d.Shift(-oracle.CanonicalDecimals).StringFixed(2)
}
