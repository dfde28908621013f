// Package report writes a backtest result to disk: a JSON dump for
// programmatic consumption and a flat CSV of closed trades.
package report

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/ivbacktest/core/internal/backtest/engine"
	"github.com/ivbacktest/core/internal/backtest/model"
)

// WriteJSON serialises the full result to <outdir>/result.json.
func WriteJSON(res *engine.Result, outdir string) error {
	b, err := json.MarshalIndent(res, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(outdir, "result.json"), b, 0644)
}

// WriteCSV writes one row per closed trade to <outdir>/trades.csv.
func WriteCSV(trades []*model.SimulatedTrade, outdir string) error {
	f, err := os.Create(filepath.Join(outdir, "trades.csv"))
	if err != nil {
		return err
	}
	defer f.Close()

	w := csv.NewWriter(f)
	defer w.Flush()

	headers := []string{
		"symbol", "strategy", "entry_date", "exit_date", "days_in_trade",
		"iv_at_entry", "iv_at_exit", "spot_at_entry", "spot_at_exit",
		"max_risk", "estimated_credit", "entry_debit", "final_pnl", "exit_reason",
	}
	if err := w.Write(headers); err != nil {
		return err
	}

	for _, t := range trades {
		if t.Status != model.StatusClosed {
			continue
		}
		row := []string{
			t.Symbol,
			string(t.StrategyType.Kind),
			t.EntryDate.Format("2006-01-02"),
			t.ExitDate.Format("2006-01-02"),
			fmt.Sprintf("%d", t.DaysInTrade),
			fmt.Sprintf("%.4f", t.IVAtEntry),
			fmt.Sprintf("%.4f", t.IVAtExit),
			fmt.Sprintf("%.2f", t.SpotAtEntry),
			fmt.Sprintf("%.2f", t.SpotAtExit),
			fmt.Sprintf("%.2f", t.MaxRisk),
			fmt.Sprintf("%.2f", t.EstimatedCredit),
			fmt.Sprintf("%.2f", t.EntryDebit),
			fmt.Sprintf("%.2f", t.FinalPnL),
			string(t.ExitReason),
		}
		if err := w.Write(row); err != nil {
			return err
		}
	}
	return nil
}
