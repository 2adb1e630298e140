// Package report aggregates simulation output into per-asset and
// per-group money summaries. All sums run on exact decimals so the
// report side never reintroduces float drift.
package report

import (
	"encoding/csv"
	"fmt"
	"io"
	"sort"
	"strconv"

	"github.com/shopspring/decimal"

	"simkernel/services/engine"
)

// AssetSummary totals one asset's fills across all groups.
type AssetSummary struct {
	Asset     int
	Symbol    string
	Orders    int
	Buys      int
	Sells     int
	BuyUnits  decimal.Decimal
	SellUnits decimal.Decimal
	Notional  decimal.Decimal // gross traded value, both directions
	Fees      decimal.Decimal
}

// GroupSummary totals one group's fills and its final ledger state.
// CashFlow is the signed cash impact of every fill: buys subtract
// notional plus fees, sells add notional minus fees.
type GroupSummary struct {
	Group    int
	Orders   int
	Notional decimal.Decimal
	Fees     decimal.Decimal
	CashFlow decimal.Decimal
	EndCash  decimal.Decimal
	EndDebt  decimal.Decimal
	Realized decimal.Decimal
	EndBar   int
}

type Summary struct {
	Assets []AssetSummary
	Groups []GroupSummary

	Orders   int
	Notional decimal.Decimal
	Fees     decimal.Decimal
}

// Summarize folds a run's records and snapshots into a Summary.
// symbols names the asset columns; a short or nil slice falls back to
// the column index.
func Summarize(res *engine.RunResult, symbols []string) *Summary {
	s := &Summary{
		Notional: decimal.Zero,
		Fees:     decimal.Zero,
	}
	assets := make(map[int]*AssetSummary)
	groups := make(map[int]*GroupSummary)

	for _, rec := range res.Records {
		price := decimal.NewFromFloat(rec.Price)
		size := decimal.NewFromFloat(rec.Size)
		fees := decimal.NewFromFloat(rec.Fees)
		notional := price.Mul(size)

		a := assets[rec.Asset]
		if a == nil {
			a = &AssetSummary{
				Asset:     rec.Asset,
				Symbol:    symbolFor(symbols, rec.Asset),
				BuyUnits:  decimal.Zero,
				SellUnits: decimal.Zero,
				Notional:  decimal.Zero,
				Fees:      decimal.Zero,
			}
			assets[rec.Asset] = a
		}
		a.Orders++
		if rec.Side == engine.Buy {
			a.Buys++
			a.BuyUnits = a.BuyUnits.Add(size)
		} else {
			a.Sells++
			a.SellUnits = a.SellUnits.Add(size)
		}
		a.Notional = a.Notional.Add(notional)
		a.Fees = a.Fees.Add(fees)

		g := groups[rec.Group]
		if g == nil {
			g = newGroupSummary(rec.Group)
			groups[rec.Group] = g
		}
		g.Orders++
		g.Notional = g.Notional.Add(notional)
		g.Fees = g.Fees.Add(fees)
		if rec.Side == engine.Buy {
			g.CashFlow = g.CashFlow.Sub(notional).Sub(fees)
		} else {
			g.CashFlow = g.CashFlow.Add(notional).Sub(fees)
		}

		s.Orders++
		s.Notional = s.Notional.Add(notional)
		s.Fees = s.Fees.Add(fees)
	}

	for _, snap := range res.Snapshots {
		g := groups[snap.Group]
		if g == nil {
			g = newGroupSummary(snap.Group)
			groups[snap.Group] = g
		}
		g.EndCash = decimal.NewFromFloat(snap.Cash)
		g.EndDebt = decimal.NewFromFloat(snap.Debt)
		g.Realized = decimal.NewFromFloat(snap.Realized)
		g.EndBar = snap.EndBar
	}

	assetKeys := make([]int, 0, len(assets))
	for k := range assets {
		assetKeys = append(assetKeys, k)
	}
	sort.Ints(assetKeys)
	for _, k := range assetKeys {
		s.Assets = append(s.Assets, *assets[k])
	}

	groupKeys := make([]int, 0, len(groups))
	for k := range groups {
		groupKeys = append(groupKeys, k)
	}
	sort.Ints(groupKeys)
	for _, k := range groupKeys {
		s.Groups = append(s.Groups, *groups[k])
	}
	return s
}

func newGroupSummary(group int) *GroupSummary {
	return &GroupSummary{
		Group:    group,
		Notional: decimal.Zero,
		Fees:     decimal.Zero,
		CashFlow: decimal.Zero,
		EndCash:  decimal.Zero,
		EndDebt:  decimal.Zero,
		Realized: decimal.Zero,
	}
}

func symbolFor(symbols []string, asset int) string {
	if asset >= 0 && asset < len(symbols) {
		return symbols[asset]
	}
	return strconv.Itoa(asset)
}

// WriteAssetCSV emits one row per traded asset.
func (s *Summary) WriteAssetCSV(w io.Writer) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"asset", "symbol", "orders", "buys", "sells", "buy_units", "sell_units", "notional", "fees"}); err != nil {
		return err
	}
	for _, a := range s.Assets {
		row := []string{
			strconv.Itoa(a.Asset), a.Symbol,
			strconv.Itoa(a.Orders), strconv.Itoa(a.Buys), strconv.Itoa(a.Sells),
			a.BuyUnits.String(), a.SellUnits.String(),
			a.Notional.String(), a.Fees.String(),
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteGroupCSV emits one row per group.
func (s *Summary) WriteGroupCSV(w io.Writer) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"group", "orders", "notional", "fees", "cash_flow", "end_cash", "end_debt", "realized", "end_bar"}); err != nil {
		return err
	}
	for _, g := range s.Groups {
		row := []string{
			strconv.Itoa(g.Group), strconv.Itoa(g.Orders),
			g.Notional.String(), g.Fees.String(), g.CashFlow.String(),
			g.EndCash.String(), g.EndDebt.String(), g.Realized.String(),
			strconv.Itoa(g.EndBar),
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// String renders a compact console table.
func (s *Summary) String() string {
	out := fmt.Sprintf("orders=%d notional=%s fees=%s\n", s.Orders, s.Notional.String(), s.Fees.String())
	for _, g := range s.Groups {
		out += fmt.Sprintf("  group %d: orders=%d cash=%s debt=%s realized=%s end_bar=%d\n",
			g.Group, g.Orders, g.EndCash.String(), g.EndDebt.String(), g.Realized.String(), g.EndBar)
	}
	return out
}
