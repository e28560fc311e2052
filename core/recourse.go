package core

import (
	"fmt"

	"github.com/signalsfoundry/resilience-designer/internal/solver"
	"github.com/signalsfoundry/resilience-designer/model"
)

type series int

const (
	sLostSales series = iota
	sSupplierProd
	sPlantProd
	sDCTransfer
	sFGStock
	sWIP
	sFGToDC
	sFGToCustomer
	sBackupWIPTransfer
	sBackupFGTransfer
	sBackupWIPStock
	sBackupFGStock
	sBackupSupplier
	sBackupPlant
	sBackupDC
	numSeries
)

var seriesNames = [numSeries]string{
	"lost_sales", "supplier_prod", "plant_prod", "dc_transfer", "fg_stock", "wip",
	"fg_to_dc", "fg_to_customer", "backup_wip_transfer", "backup_fg_transfer",
	"backup_wip_stock", "backup_fg_stock", "backup_supplier", "backup_plant", "backup_dc",
}

// recourseVars are the operational columns of one scenario.
type recourseVars struct {
	series   [numSeries][]solver.Var
	ifrSlack solver.Var
}

func (v *recourseVars) at(k series, w int) solver.Var { return v.series[k][w] }

// rowSink receives the recourse rows. The right-hand side stays symbolic so
// the receiver decides whether policy references become numbers or columns.
type rowSink func(expr *solver.Expr, rel solver.Relation, rhs RHSExpr, name string)

// recourseBuilder lays out the weekly flow and stock model of one scenario.
type recourseBuilder struct {
	params   model.Params
	scenario model.Scenario
	prefix   string
}

func (b recourseBuilder) name(format string, args ...any) string {
	return b.prefix + fmt.Sprintf(format, args...)
}

func (b recourseBuilder) addVariables(lp *solver.Model) recourseVars {
	var v recourseVars
	weeks := b.params.WeeksPerYear
	for k := series(0); k < numSeries; k++ {
		v.series[k] = make([]solver.Var, weeks)
		for w := 0; w < weeks; w++ {
			v.series[k][w] = lp.AddVar(0, solver.Inf, solver.Continuous, b.name("%s[%d]", seriesNames[k], w))
		}
	}
	v.ifrSlack = lp.AddVar(0, solver.Inf, solver.Continuous, b.name("ifr_slack"))
	return v
}

// offset is the holding cost of the regular WIP pipeline, which does not
// depend on any decision.
func (b recourseBuilder) offset() float64 {
	p := b.params
	weeks := p.WeeksPerYear
	baseWIP := p.SupplierCapacity * float64(weeks-b.scenario.Outage(model.Supplier).Duration)
	return p.IRR * p.WIPCost / float64(weeks) * baseWIP
}

// objective adds the recourse cost of v, scaled by weight, into obj.
func (b recourseBuilder) objective(v *recourseVars, weight float64, obj *solver.Expr) {
	p := b.params
	horizon := float64(p.WeeksPerYear)
	wipCoef := weight * p.IRR * p.WIPCost / horizon
	fgCoef := weight * p.IRR * p.FGCost / horizon
	lost := weight * p.LostSalesUnitCost()
	obj.AddConstant(weight * b.offset())
	for w := 0; w < p.WeeksPerYear; w++ {
		obj.Add(v.at(sBackupWIPStock, w), wipCoef).
			Add(v.at(sBackupSupplier, w), wipCoef).
			Add(v.at(sFGStock, w), fgCoef).
			Add(v.at(sBackupFGStock, w), fgCoef).
			Add(v.at(sBackupDC, w), fgCoef).
			Add(v.at(sLostSales, w), lost)
	}
	obj.Add(v.ifrSlack, weight*p.FGPrice)
}

// backupCeiling is the backup volume of f available in week w: nothing
// outside an outage, the ramped part of the capacity during the first weeks
// of an outage and the full capacity afterwards.
func (b recourseBuilder) backupCeiling(f model.Facility, w int) RHSExpr {
	if !b.scenario.IsDisrupted(f, w) {
		return Const(0)
	}
	k := w - b.scenario.Outage(f).Start
	if k < b.params.MaxDelay {
		return Sum{Ref(model.CapacityField(f)), Scaled{Coef: -1, Expr: Ref(model.DelayedField(f, k))}}
	}
	return Ref(model.CapacityField(f))
}

func (b recourseBuilder) statusCap(f model.Facility, w int, capacity float64) RHSExpr {
	if b.scenario.IsDisrupted(f, w) {
		return Const(0)
	}
	return Const(capacity)
}

func (b recourseBuilder) constraints(v *recourseVars, emit rowSink) {
	p := b.params
	sc := b.scenario
	weeks := p.WeeksPerYear

	for w := 0; w < weeks; w++ {
		// Nameplate throughput, zero while the facility is down.
		emit(solver.NewExpr().Add(v.at(sSupplierProd, w), 1), solver.LessEq,
			b.statusCap(model.Supplier, w, p.SupplierCapacity), b.name("supplier_status[%d]", w))
		emit(solver.NewExpr().Add(v.at(sPlantProd, w), 1), solver.LessEq,
			b.statusCap(model.Plant, w, p.PlantCapacity), b.name("plant_status[%d]", w))
		emit(solver.NewExpr().Add(v.at(sDCTransfer, w), 1), solver.LessEq,
			b.statusCap(model.DC, w, p.BaseDCStockLevel), b.name("dc_status[%d]", w))

		emit(solver.NewExpr().
			Add(v.at(sSupplierProd, w), 1).
			Add(v.at(sBackupWIPTransfer, w), 1).
			Add(v.at(sBackupSupplier, w), 1).
			Add(v.at(sWIP, w), -1), solver.Equal, Const(0), b.name("wip_availability[%d]", w))
		emit(solver.NewExpr().
			Add(v.at(sPlantProd, w), 1).
			Add(v.at(sBackupPlant, w), 1).
			Add(v.at(sFGToDC, w), -1), solver.Equal, Const(0), b.name("fg_availability[%d]", w))
		emit(solver.NewExpr().
			Add(v.at(sDCTransfer, w), 1).
			Add(v.at(sBackupFGTransfer, w), 1).
			Add(v.at(sBackupDC, w), 1).
			Add(v.at(sFGToCustomer, w), -1), solver.Equal, Const(0), b.name("customer_availability[%d]", w))
		emit(solver.NewExpr().
			Add(v.at(sPlantProd, w), 1).
			Add(v.at(sWIP, w), -1), solver.Equal, Const(0), b.name("wip_balance[%d]", w))

		fg := solver.NewExpr().
			Add(v.at(sFGToDC, w), 1).
			Add(v.at(sDCTransfer, w), -1).
			Add(v.at(sFGStock, w), -1)
		bwip := solver.NewExpr().Add(v.at(sBackupWIPStock, w), 1).Add(v.at(sBackupWIPTransfer, w), 1)
		bfg := solver.NewExpr().Add(v.at(sBackupFGStock, w), 1).Add(v.at(sBackupFGTransfer, w), 1)
		if w == 0 {
			emit(fg, solver.Equal, Const(0), b.name("fg_balance[0]"))
			emit(bwip, solver.Equal, Ref(model.WIPStockField()), b.name("backup_wip_stock[0]"))
			emit(bfg, solver.Equal, Ref(model.FGStockField()), b.name("backup_fg_stock[0]"))
		} else {
			emit(fg.Add(v.at(sFGStock, w-1), 1), solver.Equal, Const(0), b.name("fg_balance[%d]", w))
			emit(bwip.Add(v.at(sBackupWIPStock, w-1), -1), solver.Equal, Const(0), b.name("backup_wip_stock[%d]", w))
			emit(bfg.Add(v.at(sBackupFGStock, w-1), -1), solver.Equal, Const(0), b.name("backup_fg_stock[%d]", w))
		}

		emit(solver.NewExpr().Add(v.at(sBackupSupplier, w), 1), solver.Equal,
			b.backupCeiling(model.Supplier, w), b.name("backup_supplier_cap[%d]", w))
		emit(solver.NewExpr().Add(v.at(sBackupPlant, w), 1), solver.Equal,
			b.backupCeiling(model.Plant, w), b.name("backup_plant_cap[%d]", w))
		emit(solver.NewExpr().Add(v.at(sBackupDC, w), 1), solver.Equal,
			b.backupCeiling(model.DC, w), b.name("backup_dc_cap[%d]", w))

		emit(solver.NewExpr().
			Add(v.at(sFGToCustomer, w), 1).
			Add(v.at(sLostSales, w), 1), solver.GreaterEq, Const(float64(sc.DemandAt(w))), b.name("demand[%d]", w))

		if !sc.IsDisrupted(model.Supplier, w) {
			emit(solver.NewExpr().Add(v.at(sBackupWIPTransfer, w), 1), solver.LessEq, Const(0),
				b.name("backup_wip_idle[%d]", w))
		}
		if !sc.IsDisrupted(model.Plant, w) && !sc.IsDisrupted(model.DC, w) {
			emit(solver.NewExpr().Add(v.at(sBackupFGTransfer, w), 1), solver.LessEq, Const(0),
				b.name("backup_fg_idle[%d]", w))
		}
	}

	emit(solver.NewExpr().Add(v.at(sFGStock, 0), 1), solver.LessEq, Const(p.BaseDCStockLevel), b.name("fg_stock_initial_cap"))

	ifr := solver.NewExpr().Add(v.ifrSlack, 1)
	for w := 0; w < weeks; w++ {
		ifr.Add(v.at(sFGToCustomer, w), 1)
	}
	emit(ifr, solver.GreaterEq, Const(p.DesiredIFR*float64(sc.TotalDemand())), b.name("item_fill_ratio"))
}

// record copies the operational plan out of a solved session and prices it.
func (b recourseBuilder) record(v *recourseVars, lp *solver.Model) model.Solution {
	p := b.params
	weeks := p.WeeksPerYear
	sol := model.Solution{Operations: model.NewOperations(weeks)}
	targets := [numSeries][]float64{
		sLostSales:         sol.LostSales,
		sSupplierProd:      sol.SupplierProd,
		sPlantProd:         sol.PlantProd,
		sDCTransfer:        sol.DCTransfer,
		sFGStock:           sol.FGStock,
		sWIP:               sol.WIP,
		sFGToDC:            sol.FGToDC,
		sFGToCustomer:      sol.FGToCustomer,
		sBackupWIPTransfer: sol.BackupWIPTransfer,
		sBackupFGTransfer:  sol.BackupFGTransfer,
		sBackupWIPStock:    sol.BackupWIPStock,
		sBackupFGStock:     sol.BackupFGStock,
		sBackupSupplier:    sol.BackupSupplier,
		sBackupPlant:       sol.BackupPlant,
		sBackupDC:          sol.BackupDC,
	}
	for k, dst := range targets {
		copy(dst, lp.Values(v.series[k]))
	}

	horizon := float64(weeks)
	avgWIP := p.SupplierCapacity * float64(weeks-b.scenario.Outage(model.Supplier).Duration)
	var avgFG float64
	for w := 0; w < weeks; w++ {
		avgWIP += sol.BackupWIPStock[w] + sol.BackupSupplier[w]
		avgFG += sol.FGStock[w] + sol.BackupFGStock[w] + sol.BackupDC[w]
		sol.LostSalesCost += sol.LostSales[w] * p.LostSalesUnitCost()
	}
	sol.InvCarryCost = p.IRR * (p.WIPCost*avgWIP/horizon + p.FGCost*avgFG/horizon)
	sol.IFRShortfall = lp.Value(v.ifrSlack)
	return sol
}
