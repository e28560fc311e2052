package main

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/signalsfoundry/resilience-designer/core"
	"github.com/signalsfoundry/resilience-designer/model"
	"github.com/signalsfoundry/resilience-designer/saa"
)

type boundView struct {
	Confidence float64 `json:"confidence"`
	N          int     `json:"n"`
	Mean       float64 `json:"mean"`
	Low        float64 `json:"low"`
	High       float64 `json:"high"`
}

func viewOf(b saa.CostBound) boundView {
	return boundView{Confidence: b.Confidence, N: b.N, Mean: b.Mean, Low: b.Low, High: b.High}
}

type reportView struct {
	Model       string         `json:"model"`
	Solution    model.Solution `json:"solution"`
	Lower       *boundView     `json:"lower,omitempty"`
	Upper       *boundView     `json:"upper,omitempty"`
	BestBatch   *int           `json:"best_batch,omitempty"`
	Unconverged int            `json:"unconverged_batches,omitempty"`
}

func (a *app) report(cmd *cobra.Command, name string, sol model.Solution, rep *saa.Report) error {
	w := out(cmd)
	if a.output == "json" {
		v := reportView{Model: name, Solution: sol}
		if rep != nil {
			lo, up := viewOf(rep.Lower), viewOf(rep.Upper)
			batch := rep.BestBatch
			v.Lower, v.Upper, v.BestBatch, v.Unconverged = &lo, &up, &batch, rep.Unconverged
		}
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
	if rep != nil {
		if err := writeBounds(w, *rep); err != nil {
			return err
		}
	}
	return writeSolution(w, a.cfg.Params, name, sol)
}

// writeSolution prints the cost breakdown, the policy and the weekly plan.
func writeSolution(w io.Writer, p model.Params, name string, sol model.Solution) error {
	status := sol.Status
	if !sol.Converged {
		status += " (not converged)"
	}
	fmt.Fprintf(w, "The %s's solution has total cost %.5f [%s]\n", name, sol.TotalCost, status)
	fmt.Fprintf(w, "Inventory cost:   %.2f\n", sol.InvCarryCost)
	fmt.Fprintf(w, "Backup cost:      %.2f\n", sol.FacBackupCost)
	fmt.Fprintf(w, "Lost sales cost:  %.2f\n", sol.LostSalesCost)
	fmt.Fprintf(w, "Fill-rate gap:    %.2f\n\n", sol.IFRShortfall)

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintln(tw, "FACILITY\tOPTION\tCAPACITY\tRESPONSE\tACTIVATION\t")
	for _, f := range model.Facilities {
		fp := sol.Policy.Facilities[f]
		opt, err := p.BackupOption(f, fp.Option)
		if err != nil {
			fmt.Fprintf(tw, "%s\t%d\t%.2f\t-\t-\t\n", f, fp.Option, fp.Capacity)
			continue
		}
		fmt.Fprintf(tw, "%s\t%d\t%.2f\t%d\t%.2f\t\n", f, fp.Option, fp.Capacity, opt.ResponseWeeks, opt.ActivationCost)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	fmt.Fprintf(w, "WIP buffer %.2f, FG buffer %.2f\n\n", sol.Policy.WIPStock, sol.Policy.FGStock)

	if len(sol.SupplierProd) == 0 {
		return nil
	}
	tw = tabwriter.NewWriter(w, 0, 0, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintln(tw, "WEEK\tSUPPLIER\tB.SUPPLIER\tB.WIP.XFER\tWIP\tPLANT\tB.PLANT\tFG>DC\tFG.STOCK\tDC.XFER\tB.FG.XFER\tB.DC\tFG>CUST\tLOST\t")
	for i := range sol.SupplierProd {
		fmt.Fprintf(tw, "%d\t%.2f\t%.2f\t%.2f\t%.2f\t%.2f\t%.2f\t%.2f\t%.2f\t%.2f\t%.2f\t%.2f\t%.2f\t%.2f\t\n", i,
			sol.SupplierProd[i], sol.BackupSupplier[i], sol.BackupWIPTransfer[i], sol.WIP[i],
			sol.PlantProd[i], sol.BackupPlant[i], sol.FGToDC[i], sol.FGStock[i],
			sol.DCTransfer[i], sol.BackupFGTransfer[i], sol.BackupDC[i], sol.FGToCustomer[i], sol.LostSales[i])
	}
	return tw.Flush()
}

// writeBounds prints the SAA interval estimates and the per-policy table.
func writeBounds(w io.Writer, rep saa.Report) error {
	fmt.Fprintf(w, "Lower bound: %s\n", rep.Lower)
	fmt.Fprintf(w, "Upper bound: %s\n", rep.Upper)
	if rep.Unconverged > 0 {
		fmt.Fprintf(w, "Unconverged batches skipped: %d\n", rep.Unconverged)
	}
	fmt.Fprintln(w)

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintln(tw, "BATCH\tPOLICY\tIN-SAMPLE\tMEAN\tLOW\tHIGH\tINFEASIBLE\tREPEAT\t")
	for _, pb := range rep.PerPolicy {
		marker := ""
		if pb.Batch == rep.BestBatch {
			marker = "*"
		}
		fmt.Fprintf(tw, "%d%s\t%s\t%.2f\t%.2f\t%.2f\t%.2f\t%d\t%t\t\n", pb.Batch, marker, pb.Policy.Key(),
			pb.InSample, pb.Bound.Mean, pb.Bound.Low, pb.Bound.High, pb.Infeasible, pb.Repeat)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	fmt.Fprintln(w)
	return nil
}

type evaluationView struct {
	Policy     model.PolicyParameters `json:"policy"`
	FixedCost  float64                `json:"fixed_cost"`
	Scenarios  int                    `json:"scenarios"`
	Infeasible int                    `json:"infeasible"`
	Anomalies  int                    `json:"anomalies"`
	Cost       *boundView             `json:"cost,omitempty"`
}

func (a *app) reportEvaluation(cmd *cobra.Command, ev core.Evaluation, bound *saa.CostBound) error {
	w := out(cmd)
	if a.output == "json" {
		v := evaluationView{
			Policy:     ev.Policy,
			FixedCost:  ev.FixedCost,
			Scenarios:  len(ev.Scenarios),
			Infeasible: ev.Infeasible,
			Anomalies:  ev.Anomalies,
		}
		if bound != nil {
			bv := viewOf(*bound)
			v.Cost = &bv
		}
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
	fmt.Fprintf(w, "Policy: %s\n", ev.Policy)
	fmt.Fprintf(w, "Fixed cost: %.2f\n", ev.FixedCost)
	fmt.Fprintf(w, "Scenarios: %d (infeasible %d, anomalies %d)\n", len(ev.Scenarios), ev.Infeasible, ev.Anomalies)
	if bound == nil {
		fmt.Fprintln(w, "Expected cost: no scenario admitted a recourse plan")
		return nil
	}
	fmt.Fprintf(w, "Expected cost: %s\n", *bound)
	return nil
}
